// Package database opens the GORM connection that backs the policy store.
package database

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	options "github.com/kart-io/policy-watcher/pkg/options/database"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

const slowThreshold = 200 * time.Millisecond

// Dialector returns the GORM dialector for the configured driver.
func Dialector(opts *options.Options) (gorm.Dialector, error) {
	switch opts.Driver {
	case options.DriverSQLite:
		return sqlite.Open(opts.SQLitePath), nil
	case options.DriverMySQL:
		return mysql.Open(opts.MySQL.DSN()), nil
	case options.DriverPostgres:
		return postgres.Open(opts.Postgres.DSN()), nil
	default:
		return nil, errors.ErrConfig.WithMessagef("unsupported database driver %q", opts.Driver)
	}
}

func logLevel(level int) gormlogger.LogLevel {
	switch level {
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Silent
	}
}

// Open connects to the policy store, applies the pool settings of the
// selected driver and verifies the connection with a ping.
func Open(ctx context.Context, opts *options.Options) (*gorm.DB, error) {
	if opts == nil {
		return nil, errors.ErrInvalidParam.WithMessage("database options cannot be nil")
	}

	dialector, err := Dialector(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(logLevel(opts.LogLevel), slowThreshold),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.ErrDatabase.WithMessagef("failed to connect to %s", opts.Driver).WithCause(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.ErrDatabase.WithMessage("failed to get underlying sql.DB").WithCause(err)
	}

	switch opts.Driver {
	case options.DriverMySQL:
		sqlDB.SetMaxIdleConns(opts.MySQL.MaxIdleConnections)
		sqlDB.SetMaxOpenConns(opts.MySQL.MaxOpenConnections)
		sqlDB.SetConnMaxLifetime(opts.MySQL.MaxConnectionLifeTime)
	case options.DriverPostgres:
		sqlDB.SetMaxIdleConns(opts.Postgres.MaxIdleConnections)
		sqlDB.SetMaxOpenConns(opts.Postgres.MaxOpenConnections)
		sqlDB.SetConnMaxLifetime(opts.Postgres.MaxConnectionLifeTime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.ErrDatabase.WithMessagef("failed to ping %s", opts.Driver).WithCause(err)
	}

	return db, nil
}

// Close closes the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
