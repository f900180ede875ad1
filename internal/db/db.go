package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/support-triage/internal/support"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Dialector picks the GORM driver from the DSN shape: URLs and key=value
// strings are PostgreSQL, anything else is MySQL.
func Dialector(dsn string) gorm.Dialector {
	if IsPostgres(dsn) {
		return postgres.Open(dsn)
	}
	return mysql.Open(dsn)
}

func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Connect opens the database, retrying with doubling waits while the server
// comes up, and migrates the schema.
func Connect(dsn string, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		gdb *gorm.DB
		err error
	)
	wait := connectBackoff
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		gdb, err = open(dsn, cfg)
		if err == nil {
			break
		}
		if attempt == connectAttempts {
			return nil, fmt.Errorf("connect database after %d attempts: %w", attempt, err)
		}
		log.Warn("database not ready, retrying",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		time.Sleep(wait)
		wait *= 2
	}

	if err := Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("database ready", zap.Bool("postgres", IsPostgres(dsn)))
	return gdb, nil
}

func open(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(Dialector(dsn), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&support.Request{})
}
