package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"solescan/internal/config"
)

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

func Open(cfg config.DBConfig) (*DB, error) {
	gcfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DSN), gcfg)
	if err != nil {
		return nil, err
	}

	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{Gorm: gdb, SQL: sqldb}, nil
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func Ping(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Ping()
}

func SetTimezone(db *DB, tz string) error {
	if tz == "" {
		return nil
	}
	_, err := db.SQL.Exec("SET TIME ZONE '" + tz + "'")
	return err
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

// Watch pings the store every interval and closes the returned channel once
// pings have failed continuously for longer than outage. The caller treats a
// closed channel as a process-wide storage outage and shuts down gracefully.
func Watch(ctx context.Context, db *DB, log *zap.Logger, interval, outage time.Duration) <-chan struct{} {
	down := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var failingSince time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := Ping(db); err != nil {
					if failingSince.IsZero() {
						failingSince = NowUTC()
					}
					log.Warn("db ping failed", zap.Error(err), zap.Duration("down_for", NowUTC().Sub(failingSince)))
					if NowUTC().Sub(failingSince) >= outage {
						log.Error("storage outage exceeded limit, requesting shutdown", zap.Duration("outage", outage))
						close(down)
						return
					}
					continue
				}
				failingSince = time.Time{}
			}
		}
	}()
	return down
}
