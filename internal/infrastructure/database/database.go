package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

const (
	pingTimeout = 5 * time.Second

	// The bridge is the only process touching the file.
	dirMode  = 0o750
	fileMode = 0o600
)

// Config mirrors the database section of config.yaml.
type Config struct {
	Path string

	// WALMode lets API reads proceed while the snapshot writer holds the
	// write lock.
	WALMode bool

	// BusyTimeout is how long a statement waits on a lock, in seconds.
	BusyTimeout int
}

// DB is the bridge's SQLite handle. It embeds *sql.DB so repositories can
// take it directly.
type DB struct {
	*sql.DB
	path string
}

// dsn builds the go-sqlite3 connection string for cfg.
func dsn(cfg Config) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*1000)) // milliseconds
	q.Set("_foreign_keys", "on")
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open creates the parent directory, opens the file with a single
// connection and checks it answers.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serialises writers in the pool instead of in SQLite.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("opening database %s: %w", cfg.Path, err)
	}

	// The file exists once the ping has run.
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // best effort

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the pool. It is safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck runs SELECT 1.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction, committing only when fn returns nil.
//
//	err := db.InTx(ctx, func(tx *sql.Tx) error {
//	    _, err := tx.ExecContext(ctx, "DELETE FROM dobiss_unhandled_frames")
//	    return err
//	})
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
