package mysql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Options struct {
	DSN          string
	MaxOpenConns int
	// Migrate lists the models whose tables are created or altered on connect.
	Migrate []any
	Logger  *slog.Logger
}

// New opens the ledger database, pings it and migrates opts.Migrate. gorm's own
// logging goes through slog at warn level so slow ledger writes show up.
func New(ctx context.Context, opts Options) (*gorm.DB, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	db, err := gorm.Open(mysql.Open(opts.DSN), &gorm.Config{
		Logger: gormlogger.New(
			slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get mysql sql db failed: %w", err)
	}
	sqlDB.SetMaxIdleConns(opts.MaxOpenConns / 2)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping mysql failed: %w", err)
	}

	if len(opts.Migrate) > 0 {
		if err := db.WithContext(ctx).AutoMigrate(opts.Migrate...); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("auto migrate ledger tables failed: %w", err)
		}
	}
	return db, nil
}
