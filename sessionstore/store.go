// Package sessionstore is a server-side gorilla/sessions store backed by
// SQLite. The browser only holds a signed, opaque session id; the session
// values live in the sessions table and expire on a sliding window.
//
// Requests from one browser run concurrently, each with its own copy of the
// session. Values are only written when a handler marks the session changed
// (MarkChanged), and such writes are compare-and-set on a per-record version:
// a copy that was loaded before another request changed or destroyed the
// record is refused with ErrStale instead of overwriting it. Unchanged
// sessions only have their expiry pushed forward.
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/base32"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	_ "modernc.org/sqlite"
)

const defaultLifetime = 24 * time.Hour

// ErrStale is returned when the stored record was changed or removed after
// the session was loaded. Nothing is written and no cookie is set.
var ErrStale = errors.New("sessionstore: session record changed or removed by another request")

// Bookkeeping entries kept in Session.Values; never persisted.
type (
	changedKey struct{}
	versionKey struct{}
)

func init() {
	// Flashes are stored as []interface{}.
	gob.Register([]interface{}{})
}

// MarkChanged records that the session's values were modified and must be
// written on the next Save or Commit.
func MarkChanged(session *sessions.Session) {
	session.Values[changedKey{}] = true
}

func isChanged(session *sessions.Session) bool {
	changed, _ := session.Values[changedKey{}].(bool)
	return changed
}

func versionOf(session *sessions.Session) int64 {
	v, _ := session.Values[versionKey{}].(int64)
	return v
}

// Store implements sessions.Store.
type Store struct {
	db         *sql.DB
	Codecs     []securecookie.Codec
	Options    *sessions.Options
	serializer securecookie.GobEncoder
	now        func() time.Time
}

var _ sessions.Store = (*Store)(nil)

// New opens (or creates) the session database at path. keyPairs sign the
// session id cookie, as with sessions.NewCookieStore.
func New(path string, keyPairs ...[]byte) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS sessions_expires_at ON sessions (expires_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}

	return &Store{
		db:     db,
		Codecs: securecookie.CodecsFromPairs(keyPairs...),
		Options: &sessions.Options{
			Path:     "/",
			MaxAge:   int(defaultLifetime / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		now: time.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxAge sets the cookie and record lifetime for new sessions.
func (s *Store) MaxAge(age int) {
	s.Options.MaxAge = age
}

// Get returns the session cached in the request registry, loading it on
// first access.
func (s *Store) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns the stored session named by the request cookie, or a fresh
// unsaved one when the cookie is missing, forged or expired.
func (s *Store) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	var id string
	if err := securecookie.DecodeMulti(name, c.Value, &id, s.Codecs...); err != nil {
		return session, nil
	}
	found, err := s.load(r.Context(), id, session)
	if err != nil {
		return session, err
	}
	if found {
		session.ID = id
		session.IsNew = false
	}
	return session, nil
}

// Save writes pending changes, slides the expiry and sets the cookie.
// A negative MaxAge deletes the record and expires the cookie. A new session
// nobody changed is not stored and gets no cookie.
func (s *Store) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	ctx := r.Context()
	if session.Options.MaxAge < 0 {
		if session.ID != "" && !session.IsNew {
			if err := s.delete(ctx, session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	switch {
	case session.IsNew && !isChanged(session):
		return nil
	case isChanged(session):
		if err := s.Commit(ctx, session); err != nil {
			return err
		}
	default:
		if err := s.touch(ctx, session); err != nil {
			return err
		}
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// Commit writes pending changes immediately without touching the response.
// It returns ErrStale when another request changed or removed the record
// since this copy was loaded.
func (s *Store) Commit(ctx context.Context, session *sessions.Session) error {
	if !isChanged(session) {
		return nil
	}
	if session.IsNew {
		return s.insert(ctx, session)
	}
	return s.update(ctx, session)
}

// Regenerate drops the stored record so the next Save stores the values
// under a new id.
func (s *Store) Regenerate(ctx context.Context, session *sessions.Session) error {
	if session.ID != "" && !session.IsNew {
		if err := s.delete(ctx, session.ID); err != nil {
			return err
		}
	}
	session.ID = ""
	session.IsNew = true
	delete(session.Values, versionKey{})
	MarkChanged(session)
	return nil
}

// DeleteExpired removes records whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// StartCleanupScheduler periodically removes expired sessions. Returns a stop function.
func (s *Store) StartCleanupScheduler(interval time.Duration, logger echo.Logger) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				n, err := s.DeleteExpired(context.Background())
				if err != nil {
					logger.Errorf("session cleanup: %v", err)
					continue
				}
				if n > 0 {
					logger.Debugf("session cleanup: removed %d expired sessions", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

func (s *Store) load(ctx context.Context, id string, session *sessions.Session) (bool, error) {
	var (
		data    []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, version FROM sessions WHERE id = ? AND expires_at > ?`, id, s.now().UnixNano()).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if err := s.serializer.Deserialize(data, &session.Values); err != nil {
		// Unreadable records are treated as absent.
		return false, nil
	}
	session.Values[versionKey{}] = version
	return true, nil
}

// encode serializes the values without the bookkeeping entries.
func (s *Store) encode(session *sessions.Session) ([]byte, error) {
	values := make(map[interface{}]interface{}, len(session.Values))
	for k, v := range session.Values {
		switch k.(type) {
		case changedKey, versionKey:
			continue
		}
		values[k] = v
	}
	data, err := s.serializer.Serialize(values)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

func (s *Store) expiresAt(session *sessions.Session) int64 {
	lifetime := time.Duration(session.Options.MaxAge) * time.Second
	if lifetime == 0 {
		// Browser-session cookies still need a bound on the server side.
		lifetime = defaultLifetime
	}
	return s.now().Add(lifetime).UnixNano()
}

// insert stores a new record under a fresh id.
func (s *Store) insert(ctx context.Context, session *sessions.Session) error {
	data, err := s.encode(session)
	if err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = newID()
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, data, expires_at, version) VALUES (?, ?, ?, 1)`,
		session.ID, data, s.expiresAt(session)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	session.IsNew = false
	session.Values[versionKey{}] = int64(1)
	delete(session.Values, changedKey{})
	return nil
}

// update replaces the values of a live record still at the loaded version.
func (s *Store) update(ctx context.Context, session *sessions.Session) error {
	data, err := s.encode(session)
	if err != nil {
		return err
	}
	version := versionOf(session)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET data = ?, expires_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND expires_at > ?`,
		data, s.expiresAt(session), session.ID, version, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("save session: %w", err)
	} else if n == 0 {
		return ErrStale
	}
	session.Values[versionKey{}] = version + 1
	delete(session.Values, changedKey{})
	return nil
}

// touch slides the expiry of a live record without rewriting its values.
func (s *Store) touch(ctx context.Context, session *sessions.Session) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET expires_at = ? WHERE id = ? AND expires_at > ?`,
		s.expiresAt(session), session.ID, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("touch session: %w", err)
	} else if n == 0 {
		return ErrStale
	}
	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func newID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}
