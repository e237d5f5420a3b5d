package galeria

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/eringen/galeria/sessionstore"
)

const (
	// uploadBodyLimit leaves room for the multipart envelope and the other
	// form fields around a maximum size image.
	uploadBodyLimit = MaxUploadSize + 1<<20
	// multipartMemory keeps every accepted upload in memory so no temp file
	// is created for it.
	multipartMemory = uploadBodyLimit

	csrfFormField = "_csrf"

	imageCacheControl = "private, max-age=60"

	msgInvalidAction = "Invalid or expired action. Please try again."
)

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

	e.Pre(middleware.NonWWWRedirect())
	e.Pre(middleware.RemoveTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		RedirectCode: http.StatusMovedPermanently,
	}))

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			c.Logger().Infof("%s %s -> %d (%s) id=%s", v.Method, v.URI, v.Status, v.Latency, v.RequestID)
			return nil
		},
	}))

	e.Use(middleware.Recover())

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// Image payloads are already compressed.
			return strings.HasPrefix(c.Request().URL.Path, "/imagem/") ||
				strings.HasPrefix(c.Request().URL.Path, "/public/")
		},
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'; form-action 'self'; frame-ancestors 'none'",
		HSTSMaxAge:            31536000,
		HSTSExcludeSubdomains: false,
	}))

	e.Use(session.Middleware(a.sessions))
	e.Use(a.sessionTouch)

	// The login form has no session CSRF token yet; the double-submit cookie
	// check covers it. Admin forms use the session-bound single-use tokens.
	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		ContextKey:     middleware.DefaultCSRFConfig.ContextKey,
		TokenLookup:    "form:" + csrfFormField,
		CookieName:     "_csrf_login",
		CookiePath:     "/login",
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteLaxMode,
		CookieSecure:   a.Config.SecureCookies(),
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path != "/login"
		},
		ErrorHandler: func(err error, c echo.Context) error {
			c.Logger().Warnf("login csrf check failed from %s: %v", c.RealIP(), err)
			AddFlash(c, FlashError, msgInvalidAction)
			return c.Redirect(http.StatusSeeOther, "/login")
		},
	}))

	e.Use(cacheControlMiddleware)
}

// sessionTouch saves the session just before the response headers go out:
// changes made by the handler are written, an unchanged session only has
// its expiry slid forward. A record changed or destroyed by a concurrent
// request is left alone and no cookie is sent.
func (a *App) sessionTouch(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if strings.HasPrefix(c.Request().URL.Path, "/imagem/") ||
			strings.HasPrefix(c.Request().URL.Path, "/public/") {
			return next(c)
		}
		c.Response().Before(func() {
			sess, err := getSession(c)
			if err != nil {
				c.Logger().Errorf("session: %v", err)
				return
			}
			err = sess.Save(c.Request(), c.Response())
			switch {
			case errors.Is(err, sessionstore.ErrStale):
				c.Logger().Debugf("session %s changed concurrently; not saved", c.Request().URL.Path)
			case err != nil:
				c.Logger().Errorf("save session: %v", err)
			}
		})
		return next(c)
	}
}

func cacheControlMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		switch {
		case strings.HasPrefix(path, "/public/"):
			c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		case strings.HasPrefix(path, "/imagem/"):
			// Short and private so a deleted image stops being shown soon.
			c.Response().Header().Set("Cache-Control", imageCacheControl)
		case path == "/":
			c.Response().Header().Set("Cache-Control", "no-cache")
		default:
			c.Response().Header().Set("Cache-Control", "no-store")
		}
		return next(c)
	}
}

// requireAdmin is the admin gate: unauthenticated requests go to /login.
func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !IsAdmin(c) {
			return c.Redirect(http.StatusSeeOther, "/login")
		}
		return next(c)
	}
}

// limitBody caps how much of the request body a handler may read.
func limitBody(n int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, n)
			return next(c)
		}
	}
}

// requireCSRF consumes the session's single-use token and compares it with
// the submitted form field. On failure the action is skipped and the admin
// page shows why.
func (a *App) requireCSRF(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		var err error
		if strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
			err = r.ParseMultipartForm(multipartMemory)
			defer func() {
				if r.MultipartForm != nil {
					if rerr := r.MultipartForm.RemoveAll(); rerr != nil {
						c.Logger().Errorf("remove multipart temp files: %v", rerr)
					}
				}
			}()
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			a.consumeCSRFToken(c, "")
			if isBodyTooLarge(err) {
				AddFlash(c, FlashError, tooLargeMessage())
			} else {
				c.Logger().Warnf("parse form: %v", err)
				AddFlash(c, FlashError, msgInvalidAction)
			}
			return c.Redirect(http.StatusSeeOther, "/admin")
		}

		if !a.consumeCSRFToken(c, r.PostFormValue(csrfFormField)) {
			c.Logger().Warnf("csrf check failed: %s %s from %s", r.Method, r.URL.Path, c.RealIP())
			AddFlash(c, FlashError, msgInvalidAction)
			return c.Redirect(http.StatusSeeOther, "/admin")
		}
		return next(c)
	}
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
