package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	pingTimeout     = 5 * time.Second
	connMaxIdleTime = 30 * time.Minute
)

// DB is the hub's SQLite handle. The device repository and the history
// store query through the embedded *sql.DB.
type DB struct {
	*sql.DB
}

// Config contains database configuration options.
// These map to the database section of config.yaml.
type Config struct {
	// Path is the SQLite file. Its directory is created if missing.
	Path string

	// WALMode lets history reads run while the pipeline writes.
	WALMode bool

	// BusyTimeout is how long a writer waits for the lock, in seconds.
	BusyTimeout int
}

// dsn builds the go-sqlite3 connection string for cfg.
// See: https://github.com/mattn/go-sqlite3#connection-string
func (cfg Config) dsn() string {
	params := []string{
		fmt.Sprintf("_busy_timeout=%d", cfg.BusyTimeout*int(time.Second/time.Millisecond)),
		"_foreign_keys=on",
	}
	if cfg.WALMode {
		params = append(params, "_journal_mode=WAL", "_synchronous=NORMAL")
	}
	return "file:" + cfg.Path + "?" + strings.Join(params, "&")
}

// Open opens (creating if needed) the hub database and verifies it answers.
//
// Parameters:
//   - ctx: Context bounding the connection check
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database; run Migrate before use
//   - error: If the directory, file or connection cannot be set up
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite has a single writer; history merges are read-modify-write.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file exists once the ping has gone through.
	_ = os.Chmod(cfg.Path, filePermissions)

	return &DB{DB: sqlDB}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck verifies the database answers queries and its schema is
// current.
//
// Returns:
//   - error: nil if healthy; ErrSchemaOutdated while migrations are pending
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if n := len(status.Pending); n > 0 {
		return fmt.Errorf("%w: %d pending, next %s", ErrSchemaOutdated, n, status.Pending[0].Version)
	}
	return nil
}

// TableGroup classifies the hub's tables for reporting.
type TableGroup string

// Table groups.
const (
	GroupCatalogue TableGroup = "catalogue"
	GroupHistory   TableGroup = "history"
	GroupTrends    TableGroup = "trends"
	GroupOther     TableGroup = "other"
)

// TableStat is the row count of one table.
type TableStat struct {
	Name  string
	Group TableGroup
	Rows  int64
}

func groupOf(table string) TableGroup {
	switch {
	case table == "devices":
		return GroupCatalogue
	case strings.HasSuffix(table, "_history"):
		return GroupHistory
	case strings.HasSuffix(table, "_trends"):
		return GroupTrends
	default:
		return GroupOther
	}
}

// TableStats counts the rows of every hub table, ordered by name. The
// migration bookkeeping table is left out.
func (db *DB) TableStats(ctx context.Context) ([]TableStat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != ?
		ORDER BY name`, migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close() //nolint:errcheck // scan error takes precedence
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	stats := make([]TableStat, 0, len(names))
	for _, name := range names {
		st := TableStat{Name: name, Group: groupOf(name)}
		// Names come from sqlite_master, not from callers.
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "`+name+`"`).Scan(&st.Rows); err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}
