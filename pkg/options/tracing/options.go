// Package tracing configures OpenTelemetry tracing of the daemon.
package tracing

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/policy-watcher/pkg/options"
)

// Exporter kinds.
const (
	ExporterOTLPGRPC = "otlp_grpc"
	ExporterOTLPHTTP = "otlp_http"
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// Options defines how spans are sampled and exported.
type Options struct {
	// Enabled turns tracing on. When off, spans are created against the
	// global no-op provider and cost nothing.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `json:"service-name" mapstructure:"service-name"`

	// Environment is reported as deployment.environment.
	Environment string `json:"environment" mapstructure:"environment"`

	// Exporter is otlp_grpc, otlp_http, stdout or noop.
	Exporter string `json:"exporter" mapstructure:"exporter"`

	// Endpoint of the OTLP collector, e.g. "localhost:4317".
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `json:"insecure" mapstructure:"insecure"`

	// SampleRatio is the share of root traces kept, 0.0 to 1.0. Child spans
	// follow their parent's decision.
	SampleRatio float64 `json:"sample-ratio" mapstructure:"sample-ratio"`

	// BatchTimeout is the longest a span waits before export.
	BatchTimeout time.Duration `json:"batch-timeout" mapstructure:"batch-timeout"`
}

// NewOptions creates tracing options with tracing disabled.
func NewOptions() *Options {
	return &Options{
		Enabled:      false,
		ServiceName:  "policy-watcher",
		Environment:  "development",
		Exporter:     ExporterOTLPGRPC,
		Endpoint:     "localhost:4317",
		Insecure:     true,
		SampleRatio:  1.0,
		BatchTimeout: 5 * time.Second,
	}
}

// Validate checks the options. Nothing is checked while tracing is off.
func (o *Options) Validate() []error {
	if !o.Enabled {
		return nil
	}

	var errs []error
	if o.ServiceName == "" {
		errs = append(errs, fmt.Errorf("tracing.service-name is required when tracing is enabled"))
	}
	switch o.Exporter {
	case ExporterOTLPGRPC, ExporterOTLPHTTP:
		if o.Endpoint == "" {
			errs = append(errs, fmt.Errorf("tracing.endpoint is required for exporter %s", o.Exporter))
		}
	case ExporterStdout, ExporterNoop:
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter must be one of %s, %s, %s, %s",
			ExporterOTLPGRPC, ExporterOTLPHTTP, ExporterStdout, ExporterNoop))
	}
	if o.SampleRatio < 0 || o.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample-ratio must be between 0.0 and 1.0, got %g", o.SampleRatio))
	}
	if o.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tracing.batch-timeout must be positive"))
	}
	return errs
}

// AddFlags adds flags for tracing options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, "tracing")...)

	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable OpenTelemetry tracing")
	fs.StringVar(&o.ServiceName, p+"service-name", o.ServiceName, "Service name reported on spans")
	fs.StringVar(&o.Environment, p+"environment", o.Environment, "Deployment environment reported on spans")
	fs.StringVar(&o.Exporter, p+"exporter", o.Exporter, "Span exporter (otlp_grpc|otlp_http|stdout|noop)")
	fs.StringVar(&o.Endpoint, p+"endpoint", o.Endpoint, "OTLP collector endpoint")
	fs.BoolVar(&o.Insecure, p+"insecure", o.Insecure, "Disable TLS towards the collector")
	fs.Float64Var(&o.SampleRatio, p+"sample-ratio", o.SampleRatio, "Share of root traces kept (0.0 to 1.0)")
	fs.DurationVar(&o.BatchTimeout, p+"batch-timeout", o.BatchTimeout, "Longest a span waits before export")
}

var _ options.IOptions = (*Options)(nil)
