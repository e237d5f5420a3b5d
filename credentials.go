package galeria

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore checks the administrator login.
type CredentialStore interface {
	// Verify reports whether user/pass match the administrator. A missing
	// user is not an error; err is reserved for storage failures.
	Verify(ctx context.Context, user, pass string) (bool, error)
}

// dummyHash is compared against when no admin matches so that a missing
// user costs the same bcrypt work as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("galeria-dummy-password"), bcrypt.DefaultCost)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkHash(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// StaticCredentials is a single admin fixed at startup from configuration.
type StaticCredentials struct {
	Email        string
	PasswordHash string
}

// NewStaticCredentials hashes password unless passwordHash is already given.
func NewStaticCredentials(email, password, passwordHash string) (*StaticCredentials, error) {
	if email == "" {
		return nil, errors.New("admin email is required")
	}
	if passwordHash == "" {
		if password == "" {
			return nil, errors.New("admin password or password hash is required")
		}
		h, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		passwordHash = h
	}
	return &StaticCredentials{Email: email, PasswordHash: passwordHash}, nil
}

// Verify compares against the configured email and bcrypt hash.
func (s *StaticCredentials) Verify(ctx context.Context, user, pass string) (bool, error) {
	if !sameEmail(user, s.Email) {
		checkHash(string(dummyHash), pass)
		return false, nil
	}
	return checkHash(s.PasswordHash, pass), nil
}

// DBCredentials looks the admin up in the admins table.
type DBCredentials struct {
	db *DB
}

// NewDBCredentials returns a credential store over db. It does not own db.
func NewDBCredentials(db *DB) *DBCredentials {
	return &DBCredentials{db: db}
}

// Verify looks the email up case-insensitively and checks its bcrypt hash.
func (s *DBCredentials) Verify(ctx context.Context, user, pass string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, s.db.rebind(`SELECT password_hash FROM admins WHERE lower(email) = lower(?)`), strings.TrimSpace(user)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		checkHash(string(dummyHash), pass)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup admin: %w", err)
	}
	return checkHash(hash, pass), nil
}

// EnsureAdmin seeds the single admin when the table is empty. It reports
// whether a row was created; an existing admin is never modified.
func (s *DBCredentials) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if email == "" || password == "" {
		return false, errors.New("admin email and password are required to seed the admins table")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		s.db.rebind(`INSERT INTO admins (email, password_hash) VALUES (?, ?) ON CONFLICT (email) DO NOTHING`),
		strings.TrimSpace(email), hash)
	if err != nil {
		return false, fmt.Errorf("insert admin: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
