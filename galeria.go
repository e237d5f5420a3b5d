// Package galeria is a small self-hosted image gallery built with Go and Echo.
// Visitors browse the gallery; a single administrator logs in to upload and
// delete images, kept either as blobs in a database or as files on disk.
//
// Pages are templ components supplied through the Views struct; package
// views provides defaults.
package galeria

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	glog "github.com/labstack/gommon/log"

	"github.com/eringen/galeria/sessionstore"
)

// App is the central galeria application. It wires together the stores,
// session handling, handlers, middleware and templates.
type App struct {
	Config      Config
	Echo        *echo.Echo
	Images      ImageStore
	Credentials CredentialStore
	Views       Views

	db           *DB
	sessions     *sessionstore.Store
	thumbs       *ThumbCache
	loginLimiter *LoginLimiter
	stopCleanup  func()
	customRoutes []func(*App)
	staticDir    string
}

// New creates a new App with the given configuration and views.
func New(cfg Config, views Views, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:    cfg,
		Echo:      echo.New(),
		Views:     views.withDefaults(),
		staticDir: "public",
	}
	a.Echo.HideBanner = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Setup opens the stores and registers middleware and routes without
// starting the listener.
func (a *App) Setup() error {
	if err := a.Config.validate(); err != nil {
		return err
	}
	a.Echo.Logger.SetLevel(parseLevel(a.Config.LogLevel))

	sessions, err := sessionstore.New(a.Config.SessionDatabasePath, []byte(a.Config.SessionSecret))
	if err != nil {
		return fmt.Errorf("galeria: init sessions: %w", err)
	}
	sessions.Options.Secure = a.Config.SecureCookies()
	sessions.MaxAge(int(a.Config.SessionLifetime / time.Second))
	a.sessions = sessions
	a.stopCleanup = sessions.StartCleanupScheduler(time.Hour, a.Echo.Logger)

	if err := a.openStores(context.Background()); err != nil {
		return err
	}

	a.thumbs = NewThumbCache(a.Config.ThumbCacheTTL)
	a.loginLimiter = NewLoginLimiter(5, time.Minute)

	a.setupMiddleware()
	a.setupRoutes()

	for _, fn := range a.customRoutes {
		fn(a)
	}
	return nil
}

// openStores builds whatever image or credential store was not supplied
// through options, according to the storage mode.
func (a *App) openStores(ctx context.Context) error {
	switch a.Config.StorageMode {
	case StorageDatabase:
		if a.Images != nil && a.Credentials != nil {
			return nil
		}
		db, err := OpenDB(a.Config.DatabaseDriver, a.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("galeria: init database: %w", err)
		}
		a.db = db
		if a.Images == nil {
			a.Images = NewDBStore(db)
		}
		if a.Credentials == nil {
			creds := NewDBCredentials(db)
			if a.Config.AdminUser != "" && a.Config.AdminPassword != "" {
				created, err := creds.EnsureAdmin(ctx, a.Config.AdminUser, a.Config.AdminPassword)
				if err != nil {
					return fmt.Errorf("galeria: seed admin: %w", err)
				}
				if created {
					a.Echo.Logger.Infof("admin %s created", a.Config.AdminUser)
				}
			}
			a.Credentials = creds
		}
	case StorageFilesystem:
		if a.Images == nil {
			fsStore, err := NewFSStore(a.Config.UploadDir, a.Echo.Logger)
			if err != nil {
				return fmt.Errorf("galeria: init uploads: %w", err)
			}
			a.Images = fsStore
		}
		if a.Credentials == nil {
			creds, err := NewStaticCredentials(a.Config.AdminUser, a.Config.AdminPassword, a.Config.AdminPasswordHash)
			if err != nil {
				return fmt.Errorf("galeria: admin credentials: %w", err)
			}
			a.Credentials = creds
		}
	}
	return nil
}

// Start sets the app up and serves until the server stops.
func (a *App) Start() error {
	if err := a.Setup(); err != nil {
		return err
	}

	var err error
	if a.Config.TLSCert != "" {
		err = a.Echo.StartTLS(a.Config.Addr, a.Config.TLSCert, a.Config.TLSKey)
	} else {
		err = a.Echo.Start(a.Config.Addr)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.Static("/public", a.staticDir)

	// Public routes
	e.GET("/", a.handleGallery)
	e.GET("/imagem/:id", a.handleImage)
	e.GET("/imagem/:id/thumb", a.handleThumb)
	e.GET("/login", a.handleLoginForm)
	e.POST("/login", a.handleLogin)

	// Admin routes
	e.GET("/logout", a.handleLogout, requireAdmin)
	e.GET("/admin", a.handleAdmin, requireAdmin)
	e.POST("/upload", a.handleUpload, requireAdmin, limitBody(uploadBodyLimit), a.requireCSRF)
	e.POST("/delete", a.handleDelete, requireAdmin, a.requireCSRF)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	var errs []error
	if a.stopCleanup != nil {
		a.stopCleanup()
	}
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	if a.Images != nil {
		errs = append(errs, a.Images.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.sessions != nil {
		errs = append(errs, a.sessions.Close())
	}
	return errors.Join(errs...)
}

func parseLevel(s string) glog.Lvl {
	switch strings.ToLower(s) {
	case "debug":
		return glog.DEBUG
	case "warn", "warning":
		return glog.WARN
	case "error":
		return glog.ERROR
	case "off":
		return glog.OFF
	default:
		return glog.INFO
	}
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
