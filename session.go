package galeria

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"github.com/eringen/galeria/sessionstore"
)

const sessionName = "galeria_session"

// Session value keys.
const (
	keyAuthenticated = "authenticated"
	keyUsername      = "username"
	keyCSRF          = "csrf"
)

// csrfTokenBytes is the entropy of a CSRF token before hex encoding.
const csrfTokenBytes = 32

func getSession(c echo.Context) (*sessions.Session, error) {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// IsAdmin checks if the current session is authenticated.
func IsAdmin(c echo.Context) bool {
	sess, err := getSession(c)
	if err != nil {
		return false
	}
	auth, ok := sess.Values[keyAuthenticated].(bool)
	return ok && auth
}

// Username returns the admin identity stored at login, if any.
func Username(c echo.Context) string {
	sess, err := getSession(c)
	if err != nil {
		return ""
	}
	name, _ := sess.Values[keyUsername].(string)
	return name
}

// login marks the session authenticated and moves it to a new id so a
// session id known before login is useless afterwards.
func (a *App) login(c echo.Context, username string) error {
	sess, err := getSession(c)
	if err != nil {
		return err
	}
	if err := a.sessions.Regenerate(c.Request().Context(), sess); err != nil {
		return err
	}
	sess.Values[keyAuthenticated] = true
	sess.Values[keyUsername] = username
	delete(sess.Values, keyCSRF)
	sessionstore.MarkChanged(sess)
	return nil
}

// logout destroys the server-side record and expires the cookie when the
// session is saved.
func logout(c echo.Context) error {
	sess, err := getSession(c)
	if err != nil {
		return err
	}
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	sess.Options.MaxAge = -1
	return nil
}

// AddFlash queues a one-shot message of the given kind.
func AddFlash(c echo.Context, kind, msg string) {
	sess, err := getSession(c)
	if err != nil {
		c.Logger().Errorf("flash: %v", err)
		return
	}
	sess.AddFlash(msg, kind)
	sessionstore.MarkChanged(sess)
}

// ConsumeFlash returns and clears the pending message of the given kind.
func ConsumeFlash(c echo.Context, kind string) string {
	sess, err := getSession(c)
	if err != nil {
		return ""
	}
	flashes := sess.Flashes(kind)
	if len(flashes) == 0 {
		return ""
	}
	sessionstore.MarkChanged(sess)
	var msg string
	for _, f := range flashes {
		if s, ok := f.(string); ok {
			msg = s
		}
	}
	return msg
}

func consumeFlashes(c echo.Context) Flash {
	return Flash{
		Error:   ConsumeFlash(c, FlashError),
		Success: ConsumeFlash(c, FlashSuccess),
	}
}

// IssueCSRFToken stores a fresh token on the session, replacing any
// unused one, and returns it for embedding in a form.
func IssueCSRFToken(c echo.Context) (string, error) {
	sess, err := getSession(c)
	if err != nil {
		return "", err
	}
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := hex.EncodeToString(b)
	sess.Values[keyCSRF] = token
	sessionstore.MarkChanged(sess)
	return token, nil
}

// consumeCSRFToken removes the stored token and compares it with submitted.
// The removal is committed before the caller acts, so of two requests
// presenting the same token at most one passes.
func (a *App) consumeCSRFToken(c echo.Context, submitted string) bool {
	sess, err := getSession(c)
	if err != nil {
		return false
	}
	stored, _ := sess.Values[keyCSRF].(string)
	if stored == "" {
		return false
	}
	delete(sess.Values, keyCSRF)
	sessionstore.MarkChanged(sess)
	if err := a.sessions.Commit(c.Request().Context(), sess); err != nil {
		if errors.Is(err, sessionstore.ErrStale) {
			c.Logger().Warnf("csrf token already consumed by a concurrent request")
		} else {
			c.Logger().Errorf("commit session: %v", err)
		}
		return false
	}
	if submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}
