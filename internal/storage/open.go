package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	logx "remindbot/pkg/logx"
)

// Store is the sqlx-backed card store. One set of queries serves both
// dialects; placeholders are rebound per driver.
type Store struct {
	db     *sqlx.DB
	driver string
	log    logx.Logger

	version int
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverSQLite, "sqlite3":
		return openSQLite(ctx, cfg, log)
	case DriverPostgres, "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver returns the normalized driver name.
func (s *Store) Driver() string { return s.driver }

// SchemaVersion is the migration version applied at open.
func (s *Store) SchemaVersion() int { return s.version }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) q(query string) string { return s.db.Rebind(query) }
