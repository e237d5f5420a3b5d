package galeria

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Database drivers accepted by Config.DatabaseDriver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB is a database handle that knows which SQL dialect it speaks.
// Queries are written with "?" placeholders and rebound for postgres.
type DB struct {
	*sql.DB
	driver string
}

// OpenDB opens the database and ensures the images and admins tables exist.
// For sqlite, dsn is a file path whose directory is created if missing.
func OpenDB(driver, dsn string) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
		// WAL lets the gallery read while an upload writes; busy_timeout makes
		// writers wait instead of failing with SQLITE_BUSY. Pragmas go in the
		// DSN so every pooled connection gets them.
		db, err = sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	d := &DB{DB: db, driver: driver}
	if err := d.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return d, nil
}

func (d *DB) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS admins (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    original_name TEXT NOT NULL DEFAULT '',
    mime_type TEXT NOT NULL,
    data BLOB NOT NULL,
    uploaded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS images_uploaded_at ON images (uploaded_at DESC);
`
	if d.driver == DriverPostgres {
		schema = `
CREATE TABLE IF NOT EXISTS admins (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS images (
    id BIGSERIAL PRIMARY KEY,
    original_name TEXT NOT NULL DEFAULT '',
    mime_type TEXT NOT NULL,
    data BYTEA NOT NULL,
    uploaded_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS images_uploaded_at ON images (uploaded_at DESC);
`
	}
	_, err := d.ExecContext(ctx, schema)
	return err
}

// rebind rewrites "?" placeholders into "$n" for postgres.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lengthFunc is the SQL function returning a blob's size in bytes.
func (d *DB) lengthFunc() string {
	if d.driver == DriverPostgres {
		return "octet_length"
	}
	return "length"
}
