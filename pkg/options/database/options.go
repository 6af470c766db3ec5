// Package database selects and configures the policy store.
package database

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/policy-watcher/pkg/options"
	mysqlopts "github.com/kart-io/policy-watcher/pkg/options/mysql"
	postgresopts "github.com/kart-io/policy-watcher/pkg/options/postgres"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Options defines where Casbin rules are stored and how they are evaluated.
type Options struct {
	// Driver is one of sqlite, mysql or postgres.
	Driver string `json:"driver" mapstructure:"driver"`
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `json:"sqlite-path" mapstructure:"sqlite-path"`
	// Model is a model file path or inline model text; empty selects the
	// built-in RBAC model.
	Model string `json:"model" mapstructure:"model"`
	// CacheSize bounds the decision cache.
	CacheSize int `json:"cache-size" mapstructure:"cache-size"`
	// LogLevel is the gorm log level: 1 silent, 2 error, 3 warn, 4 info.
	LogLevel int `json:"log-level" mapstructure:"log-level"`

	MySQL    *mysqlopts.Options    `json:"mysql" mapstructure:"mysql"`
	Postgres *postgresopts.Options `json:"postgres" mapstructure:"postgres"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Driver:     DriverSQLite,
		SQLitePath: "policy.db",
		CacheSize:  10000,
		LogLevel:   1,
		MySQL:      mysqlopts.NewOptions(),
		Postgres:   postgresopts.NewOptions(),
	}
}

// Complete completes the driver-specific options.
func (o *Options) Complete() error {
	if o.MySQL == nil {
		o.MySQL = mysqlopts.NewOptions()
	}
	if o.Postgres == nil {
		o.Postgres = postgresopts.NewOptions()
	}
	if err := o.MySQL.Complete(); err != nil {
		return err
	}
	return o.Postgres.Complete()
}

// Validate checks if the options are valid. Only the selected driver's
// options are validated.
func (o *Options) Validate() []error {
	var errs []error
	switch o.Driver {
	case DriverSQLite:
		if o.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("database.sqlite-path cannot be empty"))
		}
	case DriverMySQL:
		errs = append(errs, o.MySQL.Validate()...)
	case DriverPostgres:
		errs = append(errs, o.Postgres.Validate()...)
	default:
		errs = append(errs, fmt.Errorf("database.driver must be one of %s, %s, %s", DriverSQLite, DriverMySQL, DriverPostgres))
	}
	if o.LogLevel < 1 || o.LogLevel > 4 {
		errs = append(errs, fmt.Errorf("database.log-level must be between 1 and 4"))
	}
	return errs
}

// AddFlags adds flags for database options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	prefixes = append(prefixes, "database")
	p := options.Join(prefixes...)

	fs.StringVar(&o.Driver, p+"driver", o.Driver, "Policy store driver (sqlite|mysql|postgres)")
	fs.StringVar(&o.SQLitePath, p+"sqlite-path", o.SQLitePath, "SQLite database file")
	fs.StringVar(&o.Model, p+"model", o.Model, "Casbin model file; empty uses the built-in RBAC model")
	fs.IntVar(&o.CacheSize, p+"cache-size", o.CacheSize, "Maximum number of cached decisions")
	fs.IntVar(&o.LogLevel, p+"log-level", o.LogLevel, "GORM log level (1 silent, 2 error, 3 warn, 4 info)")

	o.MySQL.AddFlags(fs, prefixes...)
	o.Postgres.AddFlags(fs, prefixes...)
}

var _ options.IOptions = (*Options)(nil)
