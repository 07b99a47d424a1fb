package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"kptv-catchup/work/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the sql.DB with the catchup persistence helpers
type DB struct {
	*sql.DB
}

// Open creates a new database connection in WAL mode and applies pending migrations.
func Open(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	wrapper := &DB{DB: db}

	if err := wrapper.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("{database/database - Open} SQLite database opened with WAL mode: %s", path)
	return wrapper, nil
}

// migrate applies, in file name order, every embedded migration whose
// version is not yet recorded in schema_migrations.
func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.appliedVersions()
	if err != nil {
		return err
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version, err := migrationVersion(file)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		if err := db.applyMigration(file, version); err != nil {
			return err
		}
		logger.Info("{database/database - migrate} applied migration: %s", path.Base(file))
	}

	return nil
}

// migrationVersion reads the numeric prefix: "migrations/001_stream_types.sql" -> 1.
func migrationVersion(file string) (int, error) {
	name := path.Base(file)
	prefix, _, ok := strings.Cut(name, "_")
	version, err := strconv.Atoi(prefix)
	if !ok || err != nil {
		return 0, fmt.Errorf("migration %s has no numeric version prefix", name)
	}
	return version, nil
}

func (db *DB) appliedVersions() (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// applyMigration runs one migration file and records it in the same transaction.
func (db *DB) applyMigration(file string, version int) error {
	content, err := migrations.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", file, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", file, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", file, err)
	}

	return tx.Commit()
}

// Close closes the database connection
func (db *DB) Close() error {
	logger.Debug("{database/database - Close} closing database connection")
	return db.DB.Close()
}

// Vacuum optimizes the database file
func (db *DB) Vacuum() error {
	logger.Info("{database/database - Vacuum} running VACUUM")
	_, err := db.Exec("VACUUM")
	return err
}

// Backup writes a consistent copy of the database to backupPath.
func (db *DB) Backup(backupPath string) error {
	logger.Info("{database/database - Backup} creating backup: %s", backupPath)

	dir := filepath.Dir(backupPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}

// GetStats returns table counts and the database size
func (db *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := map[string]string{
		"stream_types_count":   "SELECT COUNT(*) FROM stream_types",
		"import_history_count": "SELECT COUNT(*) FROM import_history",
		"failed_imports_count": "SELECT COUNT(*) FROM import_history WHERE success = 0",
	}
	for key, query := range counts {
		var count int
		if err := db.QueryRow(query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		stats[key] = count
	}

	var pageCount, pageSize int
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to get page size: %w", err)
	}
	stats["database_size_bytes"] = pageCount * pageSize

	return stats, nil
}
