// Package watcher configures how policy changes are propagated.
package watcher

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/policy-watcher/pkg/options"
)

// Watcher kinds.
const (
	KindLocal = "local"
	KindRedis = "redis"
	KindEtcd  = "etcd"
)

// Renderer names, matching the watcher package.
const (
	RendererFull = "full"
	RendererTag  = "tag"
)

// Options defines the watcher installed on the policy engine.
type Options struct {
	// Kind is local, redis or etcd.
	Kind string `json:"kind" mapstructure:"kind"`
	// Renderer is full or tag.
	Renderer string `json:"renderer" mapstructure:"renderer"`
	// Channel is the Redis pub/sub channel.
	Channel string `json:"channel" mapstructure:"channel"`
	// Key is the etcd key.
	Key string `json:"key" mapstructure:"key"`
	// Timeout bounds a single publish or put.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// Metrics wraps the watcher with Prometheus counters.
	Metrics bool `json:"metrics" mapstructure:"metrics"`
	// AuditLog logs every local update payload.
	AuditLog bool `json:"audit-log" mapstructure:"audit-log"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Kind:     KindLocal,
		Renderer: RendererFull,
		Channel:  "casbin:policy:update",
		Key:      "/casbin/policy/update",
		Timeout:  3 * time.Second,
		Metrics:  true,
		AuditLog: true,
	}
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	var errs []error
	switch o.Kind {
	case KindLocal, KindRedis, KindEtcd:
	default:
		errs = append(errs, fmt.Errorf("watcher.kind must be one of %s, %s, %s", KindLocal, KindRedis, KindEtcd))
	}
	switch o.Renderer {
	case RendererFull, RendererTag:
	default:
		errs = append(errs, fmt.Errorf("watcher.renderer must be %s or %s", RendererFull, RendererTag))
	}
	if o.Kind == KindRedis && o.Channel == "" {
		errs = append(errs, fmt.Errorf("watcher.channel cannot be empty"))
	}
	if o.Kind == KindEtcd && o.Key == "" {
		errs = append(errs, fmt.Errorf("watcher.key cannot be empty"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("watcher.timeout must be positive"))
	}
	return errs
}

// AddFlags adds flags for watcher options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, "watcher")...)

	fs.StringVar(&o.Kind, p+"kind", o.Kind, "Watcher kind (local|redis|etcd)")
	fs.StringVar(&o.Renderer, p+"renderer", o.Renderer, "Payload rendering (full|tag)")
	fs.StringVar(&o.Channel, p+"channel", o.Channel, "Redis channel for policy updates")
	fs.StringVar(&o.Key, p+"key", o.Key, "Etcd key for policy updates")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Timeout of a single publish")
	fs.BoolVar(&o.Metrics, p+"metrics", o.Metrics, "Count policy updates in Prometheus metrics")
	fs.BoolVar(&o.AuditLog, p+"audit-log", o.AuditLog, "Log every policy update payload")
}

var _ options.IOptions = (*Options)(nil)
