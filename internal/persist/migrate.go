package persist

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/verdantlabs/menusync/internal/persist/migrations"
)

// migration is one parsed migration file. The checksum pins applied files:
// editing a migration after it ran fails loudly instead of letting schemas
// drift between environments.
type migration struct {
	Name     string
	Checksum string
	SQL      string
}

// migrateUp applies every pending migration for the connection's driver, each
// inside its own transaction together with its bookkeeping row. Idempotent.
func migrateUp(db *sqlx.DB) error {
	var fsys embed.FS
	var dir string
	switch db.DriverName() {
	case "sqlite3":
		fsys, dir = migrations.Sqlite, "sqlite"
	case "postgres":
		fsys, dir = migrations.Postgres, "postgres"
	default:
		return fmt.Errorf("unsupported database driver %q", db.DriverName())
	}

	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	pending, err := parseMigrationFiles(fsys, dir)
	if err != nil {
		return fmt.Errorf("parse migrations: %w", err)
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, m := range pending {
		if checksum, ok := applied[m.Name]; ok {
			if checksum != m.Checksum {
				return fmt.Errorf("migration %s changed after it was applied (checksum %s, recorded %s)", m.Name, m.Checksum, checksum)
			}
			continue
		}

		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Name, err)
		}
		if err := applyMigration(tx, m); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(
			tx.Rebind("INSERT INTO schema_migrations (name, checksum, applied_at) VALUES (?, ?, ?)"),
			m.Name, m.Checksum, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}
	}

	return nil
}

// parseMigrationFiles reads every .sql file under dir, sorted by filename so
// the numeric prefixes order the sequence.
func parseMigrationFiles(fsys embed.FS, dir string) ([]migration, error) {
	var out []migration
	err := fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}
		content, err := fsys.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, migration{
			Name:     filepath.Base(path),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func createMigrationsTable(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// appliedMigrations returns recorded name → checksum.
func appliedMigrations(db *sqlx.DB) (map[string]string, error) {
	rows, err := db.Queryx("SELECT name, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[string]string{}
	for rows.Next() {
		var name, checksum string
		if err := rows.Scan(&name, &checksum); err != nil {
			return nil, err
		}
		applied[name] = checksum
	}
	return applied, rows.Err()
}

// applyMigration executes the file statement by statement. lib/pq rejects
// multiple statements in a single Exec, so split on semicolons; the migration
// files are plain DDL with no semicolons inside literals.
func applyMigration(tx *sqlx.Tx, m migration) error {
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}
	return nil
}
