package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deskbridge/deskbridge/pkg/models"
)

// Config holds configuration for the sync state database. SQLite is
// the default for single-host deployments; Postgres is supported when
// the connector runs against a shared database.
type Config struct {
	Driver string // "sqlite" or "postgres"

	// SQLite config
	Path string // e.g., ".deskbridge/deskbridge.db"

	// PostgreSQL config
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewDB opens the sync state database and migrates the connector's
// tables.
func NewDB(cfg Config, log hclog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(".deskbridge", "deskbridge.db")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		dialector = sqlite.Open(path)

	case "postgres":
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
		dialector = postgres.Open(dsn)

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{}
	if log != nil {
		gormConfig.Logger = newGormLogger(log.Named("gorm"))
	} else {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.AutoMigrate(models.ModelsToAutoMigrate()...); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

// gormLogger adapts hclog to GORM's logger interface so database
// tracing shares the connector's log stream.
type gormLogger struct {
	log hclog.Logger
}

func newGormLogger(log hclog.Logger) gormlogger.Interface {
	return &gormLogger{log: log}
}

func (l *gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if err != nil && !l.log.IsTrace() {
		sql, rows := fc()
		l.log.Debug("query failed", "sql", sql, "rows", rows, "error", err, "elapsed", time.Since(begin))
		return
	}
	if l.log.IsTrace() {
		sql, rows := fc()
		l.log.Trace("query", "sql", sql, "rows", rows, "elapsed", time.Since(begin))
	}
}
