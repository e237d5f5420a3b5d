package sessionstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/sessions"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sessions.db"), []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// roundTrip saves values into a fresh session and returns the cookie issued.
func roundTrip(t *testing.T, s *Store, values map[interface{}]interface{}) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	sess, err := s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !sess.IsNew {
		t.Fatal("session without cookie should be new")
	}
	for k, v := range values {
		sess.Values[k] = v
	}
	MarkChanged(sess)
	if err := s.Save(req, rec, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	return cookies[0]
}

func TestSaveAndLoad(t *testing.T) {
	s := setupTestStore(t)
	cookie := roundTrip(t, s, map[interface{}]interface{}{"authenticated": true, "username": "admin@example.com"})

	if !cookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", cookie.MaxAge)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if sess.IsNew {
		t.Fatal("session should have been loaded")
	}
	if auth, _ := sess.Values["authenticated"].(bool); !auth {
		t.Error("authenticated should be true")
	}
	if user, _ := sess.Values["username"].(string); user != "admin@example.com" {
		t.Errorf("username = %q", user)
	}
}

func TestForgedCookieStartsNewSession(t *testing.T) {
	s := setupTestStore(t)
	roundTrip(t, s, map[interface{}]interface{}{"authenticated": true})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "not-a-signed-id"})
	sess, err := s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !sess.IsNew || len(sess.Values) != 0 {
		t.Error("forged cookie should yield an empty new session")
	}
}

func TestNegativeMaxAgeDestroysSession(t *testing.T) {
	s := setupTestStore(t)
	cookie := roundTrip(t, s, map[interface{}]interface{}{"authenticated": true})

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookie)
	sess, err := s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess.Options.MaxAge = -1
	rec := httptest.NewRecorder()
	if err := s.Save(req, rec, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	expired := rec.Result().Cookies()
	if len(expired) != 1 || expired[0].MaxAge >= 0 {
		t.Fatalf("expected an expiring cookie, got %+v", expired)
	}

	// The old cookie no longer resolves to a record.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err = s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !sess.IsNew {
		t.Error("destroyed session should not load")
	}
}

func TestExpiryIsSliding(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }
	cookie := roundTrip(t, s, map[interface{}]interface{}{"authenticated": true})

	// Touch the session 20h later; it should survive another 20h.
	now = now.Add(20 * time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := s.New(req, "sid")
	if err != nil || sess.IsNew {
		t.Fatalf("session should load after 20h (err=%v)", err)
	}
	if err := s.Save(req, httptest.NewRecorder(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	now = now.Add(20 * time.Hour)
	sess, err = s.New(req, "sid")
	if err != nil || sess.IsNew {
		t.Fatalf("touched session should still load (err=%v)", err)
	}

	now = now.Add(25 * time.Hour)
	sess, err = s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !sess.IsNew {
		t.Error("session idle for more than 24h should have expired")
	}
}

func TestDeleteExpired(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }
	roundTrip(t, s, nil)
	roundTrip(t, s, nil)

	n, err := s.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("removed %d live sessions", n)
	}

	now = now.Add(25 * time.Hour)
	n, err = s.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
}

func TestRegenerateIssuesNewID(t *testing.T) {
	s := setupTestStore(t)
	cookie := roundTrip(t, s, map[interface{}]interface{}{"username": "a"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := s.New(req, "sid")
	if err != nil || sess.IsNew {
		t.Fatalf("load failed: %v", err)
	}
	oldID := sess.ID
	if err := s.Regenerate(req.Context(), sess); err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if err := s.Save(req, httptest.NewRecorder(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if sess.ID == "" || sess.ID == oldID {
		t.Errorf("expected a fresh id, got %q (old %q)", sess.ID, oldID)
	}
	if user, _ := sess.Values["username"].(string); user != "a" {
		t.Error("values should survive regeneration")
	}

	stale, err := s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !stale.IsNew {
		t.Error("old id should no longer resolve")
	}
}

// load reads the session the cookie points at, as a request would.
func load(t *testing.T, s *Store, cookie *http.Cookie) (*http.Request, *sessions.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if sess.IsNew {
		t.Fatal("session should have been loaded")
	}
	return req, sess
}

func TestUnchangedNewSessionIsNotStored(t *testing.T) {
	s := setupTestStore(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	sess, err := s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Save(req, rec, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("an untouched new session should not set a cookie")
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}
}

func TestBookkeepingIsNotPersisted(t *testing.T) {
	s := setupTestStore(t)
	cookie := roundTrip(t, s, map[interface{}]interface{}{"username": "a"})
	_, sess := load(t, s, cookie)
	if isChanged(sess) {
		t.Error("a freshly loaded session should be unchanged")
	}
	if versionOf(sess) != 1 {
		t.Errorf("version = %d, want 1", versionOf(sess))
	}
	if len(sess.Values) != 2 {
		t.Errorf("values = %v, want username and version only", sess.Values)
	}
}

func TestStaleCopyCannotOverwrite(t *testing.T) {
	s := setupTestStore(t)
	cookie := roundTrip(t, s, map[interface{}]interface{}{"csrf": "token"})

	// Two requests load the same record.
	_, first := load(t, s, cookie)
	req, second := load(t, s, cookie)

	delete(first.Values, "csrf")
	MarkChanged(first)
	if err := s.Commit(context.Background(), first); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// The older copy still holds the token; writing it back must fail.
	second.Values["flash"] = "x"
	MarkChanged(second)
	rec := httptest.NewRecorder()
	if err := s.Save(req, rec, second); !errors.Is(err, ErrStale) {
		t.Fatalf("Save of stale copy: want ErrStale, got %v", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("a refused save should not set a cookie")
	}
	if err := s.Commit(context.Background(), second); !errors.Is(err, ErrStale) {
		t.Errorf("Commit of stale copy: want ErrStale, got %v", err)
	}

	_, current := load(t, s, cookie)
	if _, ok := current.Values["csrf"]; ok {
		t.Error("consumed value came back")
	}
	if _, ok := current.Values["flash"]; ok {
		t.Error("stale write was applied")
	}
}

func TestUnchangedCopyOnlySlidesExpiry(t *testing.T) {
	s := setupTestStore(t)
	cookie := roundTrip(t, s, map[interface{}]interface{}{"csrf": "token"})

	req, idle := load(t, s, cookie)
	_, active := load(t, s, cookie)

	delete(active.Values, "csrf")
	MarkChanged(active)
	if err := s.Commit(context.Background(), active); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := s.Save(req, rec, idle); err != nil {
		t.Fatalf("Save of unchanged copy failed: %v", err)
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("touching a live session should refresh the cookie")
	}
	_, current := load(t, s, cookie)
	if _, ok := current.Values["csrf"]; ok {
		t.Error("unchanged copy restored a consumed value")
	}
}

func TestDestroyedSessionIsNotRevived(t *testing.T) {
	s := setupTestStore(t)
	cookie := roundTrip(t, s, map[interface{}]interface{}{"authenticated": true})

	slowReq, slow := load(t, s, cookie)
	logoutReq, loggingOut := load(t, s, cookie)

	loggingOut.Options.MaxAge = -1
	if err := s.Save(logoutReq, httptest.NewRecorder(), loggingOut); err != nil {
		t.Fatalf("logout Save failed: %v", err)
	}

	for _, changed := range []bool{false, true} {
		if changed {
			MarkChanged(slow)
		}
		rec := httptest.NewRecorder()
		if err := s.Save(slowReq, rec, slow); !errors.Is(err, ErrStale) {
			t.Errorf("changed=%v: want ErrStale, got %v", changed, err)
		}
		if len(rec.Result().Cookies()) != 0 {
			t.Errorf("changed=%v: destroyed session got its cookie back", changed)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := s.New(req, "sid")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !sess.IsNew {
		t.Error("destroyed session was recreated")
	}
}
