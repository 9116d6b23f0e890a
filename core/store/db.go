package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"rahat-ems/config"
	"rahat-ems/core/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps *sql.DB with the driver name so stores can write queries once
// using ? placeholders and rebind them for postgres.
type DB struct {
	*sql.DB
	driver string
}

func (d *DB) Driver() string { return d.driver }

// Rebind converts ? placeholders to $1..$n for postgres; sqlite takes the
// query as written.
func (d *DB) Rebind(query string) string {
	if d == nil || d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// NewDB opens the configured database. Postgres via the pgx stdlib driver is
// the production target; sqlite backs small installs and tests.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", "postgres":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(16)
		return &DB{DB: db, driver: "postgres"}, nil
	case "sqlite":
		dsn := cfg.DBURL
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// modernc sqlite is not safe for concurrent writers on one file.
		db.SetMaxOpenConns(1)
		return &DB{DB: db, driver: "sqlite"}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// ApplyMigrations runs the embedded goose migrations up to the latest version.
func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	dialect := "postgres"
	if db.driver == "sqlite" {
		dialect = "sqlite3"
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if logger != nil {
		logger.Infof("database migrations applied (%s)", dialect)
	}
	return nil
}
