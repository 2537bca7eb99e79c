package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// MigrationsFS holds the migration files. The migrations package sets it
// from an embed.FS in its init.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS holding the files.
var MigrationsDir = "."

// Migration is one schema change. Files are named
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies pending migrations oldest first, each in its own
// transaction. A failing migration is rolled back; those before it stay
// applied and the next Migrate resumes at the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending {
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied migration. It is a no-op
// on an empty schema.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	all, err := loadMigrations()
	if err != nil {
		return err
	}
	i := sort.Search(len(all), func(i int) bool { return all[i].Version >= latest })
	if i == len(all) || all[i].Version != latest {
		return fmt.Errorf("applied migration %s has no file", latest)
	}
	m := all[i]
	if m.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", m.Version)
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return fmt.Errorf("reverting %s: %w", m.Version, err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
}

// GetMigrationStatus returns applied records and the migrations still to
// run, both in version order.
func (db *DB) GetMigrationStatus(ctx context.Context) ([]MigrationRecord, []Migration, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := loadMigrations()
	if err != nil {
		return nil, nil, err
	}

	done := make(map[string]struct{}, len(applied))
	for _, r := range applied {
		done[r.Version] = struct{}{}
	}
	var pending []Migration
	for _, m := range all {
		if _, ok := done[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var at string
		if err := rows.Scan(&r.Version, &at); err != nil {
			return nil, fmt.Errorf("reading schema_migrations: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		records = append(records, r)
	}
	return records, rows.Err()
}

// migrationFile is a parsed migration filename.
type migrationFile struct {
	version string
	name    string
	up      bool
}

// parseMigrationFilename accepts YYYYMMDD_HHMMSS[_description].{up,down}.sql.
func parseMigrationFilename(filename string) (migrationFile, bool) {
	base, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return migrationFile{}, false
	}

	var f migrationFile
	switch {
	case strings.HasSuffix(base, ".up"):
		base, f.up = strings.TrimSuffix(base, ".up"), true
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return migrationFile{}, false
	}

	date, rest, _ := strings.Cut(base, "_")
	clock, desc, _ := strings.Cut(rest, "_")
	if len(date) != 8 || len(clock) != 6 || !isDigits(date) || !isDigits(clock) {
		return migrationFile{}, false
	}

	f.version = date + "_" + clock
	f.name = desc
	if f.name == "" {
		f.name = f.version
	}
	return f, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// loadMigrations reads MigrationsFS, pairing up and down files by version.
// A nil MigrationsFS or a missing directory yields no migrations.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, nil //nolint:nilerr // no directory means no migrations
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, ok := parseMigrationFilename(e.Name())
		if !ok {
			continue
		}

		body, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[f.version]
		if m == nil {
			m = &Migration{Version: f.version}
			byVersion[f.version] = m
		}
		if f.up {
			m.Name, m.UpSQL = f.name, string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			continue // a down file on its own is ignored
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
