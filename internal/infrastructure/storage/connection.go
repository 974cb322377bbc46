// Package storage owns the single reusable database handle and its
// versioned schema: a dual sqlite/postgres gorm dialector selection
// behind the memory core's ConnectionManager and SchemaManager.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/memorycore/memorycore/internal/infrastructure/config"
	"github.com/memorycore/memorycore/internal/infrastructure/logging"
)

// ConnectionManager lazily opens and exclusively owns the single *gorm.DB
// handle the rest of the memory core borrows through GetConnection and
// Transaction.
type ConnectionManager struct {
	db     *gorm.DB
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewConnectionManager opens a handle per cfg.Type ("sqlite" or
// "postgres"). For sqlite it additionally issues the WAL pragmas the
// durability requirements call for, since GORM's sqlite dialector does
// not set them on its own.
func NewConnectionManager(cfg config.DatabaseConfig, logger *zap.Logger) (*ConnectionManager, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dsn := cfg.DSN
		if !strings.Contains(dsn, "_txlock=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_txlock=immediate"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(logging.NewGormLogger(logger), gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlogger.Warn,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Type == "sqlite" {
		if err := applyWALPragmas(db); err != nil {
			return nil, err
		}
	}

	if cfg.Type == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("unwrap sql.DB: %w", err)
		}
		if cfg.PGPoolMax > 0 {
			sqlDB.SetMaxOpenConns(cfg.PGPoolMax)
		}
		if cfg.PGPoolMin > 0 {
			sqlDB.SetMaxIdleConns(cfg.PGPoolMin)
		}
	}

	return &ConnectionManager{db: db, logger: logger}, nil
}

func applyWALPragmas(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return nil
}

// GetConnection returns the shared handle for use outside an explicit
// transaction; it adds no transaction or rollback scope of its own.
func (c *ConnectionManager) GetConnection() *gorm.DB {
	return c.db
}

// Transaction runs fn inside BEGIN IMMEDIATE ... COMMIT/ROLLBACK: GORM's
// db.Transaction already rolls back on any non-nil return or panic,
// guaranteeing the scope never commits partial work.
func (c *ConnectionManager) Transaction(fn func(tx *gorm.DB) error) error {
	return c.db.Transaction(fn)
}

// SQLDB exposes the underlying *sql.DB for callers (e.g. maintenance
// VACUUM) that need raw access.
func (c *ConnectionManager) SQLDB() (*sql.DB, error) {
	return c.db.DB()
}

// Close shuts the handle down exactly once; repeated calls are no-ops that
// return the first Close's result.
func (c *ConnectionManager) Close() error {
	c.closeOnce.Do(func() {
		sqlDB, err := c.db.DB()
		if err != nil {
			c.closeErr = err
			return
		}
		c.closeErr = sqlDB.Close()
	})
	return c.closeErr
}
