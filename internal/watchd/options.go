package watchd

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/policy-watcher/pkg/app/cliflag"
	"github.com/kart-io/policy-watcher/pkg/options"
	databaseopts "github.com/kart-io/policy-watcher/pkg/options/database"
	etcdopts "github.com/kart-io/policy-watcher/pkg/options/etcd"
	httpopts "github.com/kart-io/policy-watcher/pkg/options/http"
	logopts "github.com/kart-io/policy-watcher/pkg/options/logger"
	poolopts "github.com/kart-io/policy-watcher/pkg/options/pool"
	redisopts "github.com/kart-io/policy-watcher/pkg/options/redis"
	tracingopts "github.com/kart-io/policy-watcher/pkg/options/tracing"
	watcheropts "github.com/kart-io/policy-watcher/pkg/options/watcher"
)

// Options contains the configuration options for the daemon.
type Options struct {
	// HTTP contains HTTP server configuration.
	HTTP *httpopts.Options `json:"http" mapstructure:"http"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Watcher selects how policy changes are propagated.
	Watcher *watcheropts.Options `json:"watcher" mapstructure:"watcher"`

	// Database contains the policy store configuration.
	Database *databaseopts.Options `json:"database" mapstructure:"database"`

	// Redis is used when the watcher kind is redis.
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`

	// Etcd is used when the watcher kind is etcd.
	Etcd *etcdopts.Options `json:"etcd" mapstructure:"etcd"`

	// Pool contains goroutine pool sizes.
	Pool *poolopts.Options `json:"pool" mapstructure:"pool"`

	// Tracing configures OpenTelemetry span export.
	Tracing *tracingopts.Options `json:"tracing" mapstructure:"tracing"`
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	return &Options{
		HTTP:     httpopts.NewOptions(),
		Log:      logopts.NewOptions(),
		Watcher:  watcheropts.NewOptions(),
		Database: databaseopts.NewOptions(),
		Redis:    redisopts.NewOptions(),
		Etcd:     etcdopts.NewOptions(),
		Pool:     poolopts.NewOptions(),
		Tracing:  tracingopts.NewOptions(),
	}
}

// Flags returns flags grouped by section.
func (o *Options) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTP.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	o.Watcher.AddFlags(fss.FlagSet("watcher"))
	o.Database.AddFlags(fss.FlagSet("database"))
	o.Redis.AddFlags(fss.FlagSet("redis"))
	o.Etcd.AddFlags(fss.FlagSet("etcd"))
	o.Pool.AddFlags(fss.FlagSet("pool"))
	o.Tracing.AddFlags(fss.FlagSet("tracing"))
	return fss
}

// Complete completes all the required options.
func (o *Options) Complete() error {
	return options.CompleteAll(o.Log, o.Database, o.Redis, o.Etcd)
}

// Validate checks whether the options are valid. Transport options are only
// validated for the selected watcher kind.
func (o *Options) Validate() error {
	errs := options.ValidateAll(o.HTTP, o.Log, o.Watcher, o.Database, o.Pool, o.Tracing)

	switch o.Watcher.Kind {
	case watcheropts.KindRedis:
		errs = append(errs, o.Redis.Validate()...)
	case watcheropts.KindEtcd:
		errs = append(errs, o.Etcd.Validate()...)
	}

	return utilerrors.NewAggregate(errs)
}
