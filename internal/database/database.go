package database

import (
	"errors"
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prendiax/backend/internal/chats"
	"github.com/prendiax/backend/internal/notifications"
	"github.com/prendiax/backend/internal/posts"
	"github.com/prendiax/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var errUnsupportedDriver = errors.New("database driver is not supported")

// Config selects the backing database.
type Config struct {
	Driver string
	// Path is the SQLite file; ":memory:" works for throwaway databases.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
}

// Open connects to the configured database, migrates the schema and applies the named
// migrations that have not run yet.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, target, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}

	if cfg.Driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", cfg.Driver), zap.String("target", target))
	return db, nil
}

// Migrate creates or updates every table the services use.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&users.User{},
		&users.DeviceToken{},
		&users.Block{},
		&chats.Chat{},
		&chats.Message{},
		&posts.Post{},
		&posts.Comment{},
		&posts.Interest{},
		&notifications.Notification{},
		&migrationRecord{},
	)
}

func dialectorFor(cfg Config) (gorm.Dialector, string, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, "", fmt.Errorf("database path is required")
		}
		return sqlite.Open(cfg.Path), cfg.Path, nil
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, "", fmt.Errorf("database dsn is required")
		}
		return postgres.Open(cfg.DSN), "postgres", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", errUnsupportedDriver, cfg.Driver)
	}
}
