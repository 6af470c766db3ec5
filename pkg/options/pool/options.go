// Package pool configures the shared goroutine pools.
package pool

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/policy-watcher/pkg/options"
)

// Options defines the goroutine pool sizes.
type Options struct {
	DefaultCapacity  int           `json:"default-capacity" mapstructure:"default-capacity"`
	CallbackCapacity int           `json:"callback-capacity" mapstructure:"callback-capacity"`
	ExpiryDuration   time.Duration `json:"expiry-duration" mapstructure:"expiry-duration"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		DefaultCapacity:  1000,
		CallbackCapacity: 100,
		ExpiryDuration:   10 * time.Second,
	}
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	var errs []error
	if o.DefaultCapacity <= 0 {
		errs = append(errs, fmt.Errorf("pool.default-capacity must be positive"))
	}
	if o.CallbackCapacity <= 0 {
		errs = append(errs, fmt.Errorf("pool.callback-capacity must be positive"))
	}
	return errs
}

// AddFlags adds flags for pool options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, "pool")...)

	fs.IntVar(&o.DefaultCapacity, p+"default-capacity", o.DefaultCapacity, "Capacity of the default goroutine pool")
	fs.IntVar(&o.CallbackCapacity, p+"callback-capacity", o.CallbackCapacity, "Capacity of the watcher callback pool")
	fs.DurationVar(&o.ExpiryDuration, p+"expiry-duration", o.ExpiryDuration, "Idle worker expiry")
}

var _ options.IOptions = (*Options)(nil)
