// Package pg is the PostgreSQL backend: message queries and writes, read watermarks, and
// a LISTEN/NOTIFY change feed.
package pg

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Registers the PostgreSQL driver

	"github.com/itchan-dev/pairchat/client/internal/reconciler"
	"github.com/itchan-dev/pairchat/client/internal/session"
	"github.com/itchan-dev/pairchat/client/internal/watermark"
	"github.com/itchan-dev/pairchat/shared/config"
	"github.com/itchan-dev/pairchat/shared/logger"
)

// ChangesChannel is the NOTIFY channel the messages trigger publishes on.
const ChangesChannel = "messages_changes"

type Storage struct {
	db  *sql.DB
	dsn string
	log *slog.Logger
}

var (
	_ session.Backend  = (*Storage)(nil)
	_ reconciler.Store = (*Storage)(nil)
	_ watermark.Store  = (*Storage)(nil)
)

// ConnectionConfig holds database connection pool settings.
type ConnectionConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LightweightConnectionConfig suits a single client: a handful of writes in flight and
// one snapshot query at a time.
func LightweightConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

func New(cfg *config.Config) (*Storage, error) {
	log := logger.For("pg")
	log.Info("connecting to db", "host", cfg.Public.Pg.Host, "dbname", cfg.Public.Pg.Dbname)
	dsn := DSN(cfg)
	db, err := Connect(dsn, LightweightConnectionConfig())
	if err != nil {
		return nil, err
	}
	log.Info("successfully connected to db")
	return &Storage{db: db, dsn: dsn, log: log}, nil
}

func DSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Public.Pg.Host, cfg.Public.Pg.Port, cfg.Public.Pg.User, cfg.Private.PgPassword, cfg.Public.Pg.Dbname)
}

// Connect opens a pool and verifies it with a ping.
func Connect(dsn string, connCfg ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(connCfg.MaxOpenConns)
	db.SetMaxIdleConns(connCfg.MaxIdleConns)
	db.SetConnMaxLifetime(connCfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(connCfg.ConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (s *Storage) Cleanup() error {
	return s.db.Close()
}
