// Package etcd provides etcd connection options.
package etcd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/policy-watcher/pkg/options"
	"github.com/kart-io/policy-watcher/pkg/utils/json"
)

// redactedPassword is the placeholder used when serializing passwords.
const redactedPassword = "[REDACTED]"

// Options defines configuration options for Etcd.
type Options struct {
	Endpoints      []string      `json:"endpoints" mapstructure:"endpoints"`
	Username       string        `json:"username" mapstructure:"username"`
	Password       string        `json:"-" mapstructure:"password"` // Excluded from JSON serialization
	DialTimeout    time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
}

// optionsForJSON is used for JSON marshaling with password redacted.
type optionsForJSON struct {
	Endpoints      []string      `json:"endpoints"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	DialTimeout    time.Duration `json:"dial-timeout"`
	RequestTimeout time.Duration `json:"request-timeout"`
}

func (o *Options) redacted() string {
	if o.Password == "" {
		return ""
	}
	return redactedPassword
}

// MarshalJSON implements json.Marshaler with password redaction.
func (o *Options) MarshalJSON() ([]byte, error) {
	return json.Marshal(optionsForJSON{
		Endpoints:      o.Endpoints,
		Username:       o.Username,
		Password:       o.redacted(),
		DialTimeout:    o.DialTimeout,
		RequestTimeout: o.RequestTimeout,
	})
}

// String returns a string representation with password redacted.
func (o *Options) String() string {
	return fmt.Sprintf("Etcd{endpoints=%v, user=%s, password=%s}",
		o.Endpoints, o.Username, o.redacted())
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Endpoints:      []string{"127.0.0.1:2379"},
		DialTimeout:    5 * time.Second,
		RequestTimeout: 2 * time.Second,
	}
}

// Complete reads the password from ETCD_PASSWORD when it was not set.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("ETCD_PASSWORD")
	}
	return nil
}

// Validate checks if the options are valid.
// This method is idempotent and has no side effects.
func (o *Options) Validate() []error {
	var errs []error
	if len(o.Endpoints) == 0 {
		errs = append(errs, fmt.Errorf("etcd.endpoints cannot be empty"))
	}
	if o.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("etcd.dial-timeout must be positive"))
	}
	if o.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("etcd.request-timeout must be positive"))
	}
	return errs
}

// AddFlags adds flags for Etcd options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, "etcd")...)

	fs.StringSliceVar(&o.Endpoints, p+"endpoints", o.Endpoints, "Etcd endpoints")
	fs.StringVar(&o.Username, p+"username", o.Username, "Etcd username")
	fs.StringVar(&o.Password, p+"password", o.Password, "Etcd password (DEPRECATED: use ETCD_PASSWORD env var instead)")
	fs.DurationVar(&o.DialTimeout, p+"dial-timeout", o.DialTimeout, "Etcd dial timeout")
	fs.DurationVar(&o.RequestTimeout, p+"request-timeout", o.RequestTimeout, "Etcd request timeout")
}

var _ options.IOptions = (*Options)(nil)
