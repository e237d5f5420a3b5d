package galeria

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Storage modes accepted by Config.StorageMode.
const (
	StorageDatabase   = "database"
	StorageFilesystem = "filesystem"
)

// Config holds all configuration for a galeria site.
type Config struct {
	Name string `yaml:"name"` // Site name (default "Galeria")
	Addr string `yaml:"addr"` // Listen address (default ":3000")

	AdminUser         string `yaml:"admin_user"`          // Admin email
	AdminPassword     string `yaml:"admin_password"`      // Plain password, hashed at startup or seeded into the admins table
	AdminPasswordHash string `yaml:"admin_password_hash"` // bcrypt hash, alternative to AdminPassword in filesystem mode

	SessionSecret       string        `yaml:"session_secret"`        // Required: signs the session cookie
	SessionDatabasePath string        `yaml:"session_database_path"` // SQLite path for server-side sessions (default "data/sessions.db")
	SessionLifetime     time.Duration `yaml:"session_lifetime"`      // Sliding session lifetime (default 24h)
	Production          bool          `yaml:"production"`            // Marks cookies Secure
	CookieSecure        bool          `yaml:"cookie_secure"`         // Set true for HTTPS without the production flag

	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	StorageMode    string `yaml:"storage_mode"`    // "database" (default) or "filesystem"
	DatabaseDriver string `yaml:"database_driver"` // "sqlite" (default) or "postgres"
	DatabasePath   string `yaml:"database_path"`   // SQLite path or postgres DSN (default "data/galeria.db")
	UploadDir      string `yaml:"upload_dir"`      // Filesystem mode directory (default "data/uploads")

	ThumbCacheTTL time.Duration `yaml:"thumb_cache_ttl"` // Thumbnail cache TTL (default 10min)
	LogLevel      string        `yaml:"log_level"`       // debug, info, warn, error (default info)
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "Galeria"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.SessionDatabasePath == "" {
		c.SessionDatabasePath = "data/sessions.db"
	}
	if c.SessionLifetime == 0 {
		c.SessionLifetime = 24 * time.Hour
	}
	if c.StorageMode == "" {
		c.StorageMode = StorageDatabase
	}
	if c.DatabaseDriver == "" {
		c.DatabaseDriver = DriverSQLite
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/galeria.db"
	}
	if c.UploadDir == "" {
		c.UploadDir = "data/uploads"
	}
	if c.ThumbCacheTTL == 0 {
		c.ThumbCacheTTL = 10 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// SecureCookies reports whether session cookies carry the Secure flag.
func (c Config) SecureCookies() bool {
	return c.Production || c.CookieSecure || c.TLSCert != ""
}

func (c Config) validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("galeria: SessionSecret is required")
	}
	switch c.StorageMode {
	case StorageDatabase, StorageFilesystem:
	default:
		return fmt.Errorf("galeria: unknown storage mode %q", c.StorageMode)
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("galeria: unknown database driver %q", c.DatabaseDriver)
	}
	return nil
}

// LoadConfig reads an optional YAML file at path and overlays environment
// variables on top. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	overlay(&cfg.Name, "SITE_NAME")
	overlay(&cfg.Addr, "ADDR")
	overlay(&cfg.AdminUser, "ADMIN_USER")
	overlay(&cfg.AdminPassword, "ADMIN_PASS")
	overlay(&cfg.AdminPasswordHash, "ADMIN_PASS_HASH")
	overlay(&cfg.SessionSecret, "SESSION_SECRET")
	overlay(&cfg.SessionDatabasePath, "SESSION_DATABASE_PATH")
	overlay(&cfg.TLSCert, "TLS_CERT")
	overlay(&cfg.TLSKey, "TLS_KEY")
	overlay(&cfg.StorageMode, "STORAGE_MODE")
	overlay(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	overlay(&cfg.DatabasePath, "DATABASE_PATH")
	overlay(&cfg.UploadDir, "UPLOAD_DIR")
	overlay(&cfg.LogLevel, "LOG_LEVEL")

	if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		cfg.Production = true
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("parse COOKIE_SECURE: %w", err)
		}
		cfg.CookieSecure = secure
	}

	cfg.setDefaults()
	return cfg, nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticDir sets the directory for static assets (default "public").
func WithStaticDir(dir string) Option {
	return func(a *App) {
		a.staticDir = dir
	}
}

// WithImageStore replaces the store selected by Config.StorageMode.
func WithImageStore(s ImageStore) Option {
	return func(a *App) {
		a.Images = s
	}
}

// WithCredentials replaces the credential store selected by Config.StorageMode.
func WithCredentials(cs CredentialStore) Option {
	return func(a *App) {
		a.Credentials = cs
	}
}
