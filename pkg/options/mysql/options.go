// Package mysql provides MySQL connection options.
package mysql

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/policy-watcher/pkg/options"
)

// Options defines configuration options for MySQL.
type Options struct {
	Host                  string        `json:"host" mapstructure:"host"`
	Port                  int           `json:"port" mapstructure:"port"`
	Username              string        `json:"username" mapstructure:"username"`
	Password              string        `json:"-" mapstructure:"password"`
	Database              string        `json:"database" mapstructure:"database"`
	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Host:                  "127.0.0.1",
		Port:                  3306,
		Username:              "root",
		Database:              "casbin",
		MaxIdleConnections:    10,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: 10 * time.Second,
	}
}

// DSN builds the go-sql-driver DSN.
func (o *Options) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		o.Username, o.Password, o.Host, o.Port, o.Database)
}

// Complete reads the password from MYSQL_PASSWORD when it was not set.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("MYSQL_PASSWORD")
	}
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	var errs []error
	if o.Host == "" {
		errs = append(errs, fmt.Errorf("mysql.host cannot be empty"))
	}
	if o.Database == "" {
		errs = append(errs, fmt.Errorf("mysql.database cannot be empty"))
	}
	return errs
}

// AddFlags adds flags for MySQL options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, "mysql")...)

	fs.StringVar(&o.Host, p+"host", o.Host, "MySQL host")
	fs.IntVar(&o.Port, p+"port", o.Port, "MySQL port")
	fs.StringVar(&o.Username, p+"username", o.Username, "MySQL username")
	fs.StringVar(&o.Password, p+"password", o.Password, "MySQL password (DEPRECATED: use MYSQL_PASSWORD env var instead)")
	fs.StringVar(&o.Database, p+"database", o.Database, "MySQL database")
	fs.IntVar(&o.MaxIdleConnections, p+"max-idle-connections", o.MaxIdleConnections, "MySQL max idle connections")
	fs.IntVar(&o.MaxOpenConnections, p+"max-open-connections", o.MaxOpenConnections, "MySQL max open connections")
	fs.DurationVar(&o.MaxConnectionLifeTime, p+"max-connection-life-time", o.MaxConnectionLifeTime, "MySQL max connection life time")
}

var _ options.IOptions = (*Options)(nil)
