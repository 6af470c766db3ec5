// Package metrics provides a Watcher decorator that records Prometheus
// metrics for every policy event and callback invocation.
//
// Metrics:
//   - <ns>_watcher_events_total{type}: events seen, by tag
//   - <ns>_watcher_callback_failures_total{type}: callbacks that panicked
//   - <ns>_watcher_callback_duration_seconds: callback latency
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
)

// Watcher counts events, then delegates to the wrapped watcher.
type Watcher struct {
	inner watcher.Watcher

	eventsTotal      *prometheus.CounterVec
	callbackFailures *prometheus.CounterVec
	callbackDuration prometheus.Histogram
}

// Option configures a Watcher.
type Option func(*options)

type options struct {
	namespace string
	inner     watcher.Watcher
}

// WithNamespace sets the metric namespace. Defaults to "policy".
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithInner sets the watcher to decorate. Defaults to a Local watcher using
// watcher.TagRenderer.
func WithInner(w watcher.Watcher) Option {
	return func(o *options) {
		o.inner = w
	}
}

// NewWatcher creates the decorator and registers its collectors.
func NewWatcher(registerer prometheus.Registerer, opts ...Option) (*Watcher, error) {
	o := &options{namespace: "policy"}
	for _, opt := range opts {
		opt(o)
	}

	inner := o.inner
	if inner == nil {
		inner = watcher.NewLocal(watcher.WithRenderer(watcher.TagRenderer{}))
	}

	w := &Watcher{
		inner: inner,
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Subsystem: "watcher",
				Name:      "events_total",
				Help:      "Total number of policy events dispatched to the watcher",
			},
			[]string{"type"},
		),
		callbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Subsystem: "watcher",
				Name:      "callback_failures_total",
				Help:      "Total number of watcher callbacks that failed",
			},
			[]string{"type"},
		),
		callbackDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: o.namespace,
				Subsystem: "watcher",
				Name:      "callback_duration_seconds",
				Help:      "Duration of watcher callback invocations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
		),
	}

	for _, c := range []prometheus.Collector{w.eventsTotal, w.callbackFailures, w.callbackDuration} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	// pre-create every label so dashboards show zeroes
	for _, t := range event.Types() {
		w.eventsTotal.WithLabelValues(t.Tag())
		w.callbackFailures.WithLabelValues(t.Tag())
	}

	return w, nil
}

// SetUpdateCallback implements watcher.Watcher. The callback is wrapped to
// observe latency and failures; a panic is counted and re-raised so the
// inner watcher isolates it as usual.
func (w *Watcher) SetUpdateCallback(cb watcher.Callback) {
	if cb == nil {
		w.inner.SetUpdateCallback(nil)
		return
	}

	w.inner.SetUpdateCallback(func(payload string) {
		start := time.Now()
		ok := false
		defer func() {
			w.callbackDuration.Observe(time.Since(start).Seconds())
			if !ok {
				w.callbackFailures.WithLabelValues(tagOf(payload)).Inc()
			}
		}()
		cb(payload)
		ok = true
	})
}

// Update implements watcher.Watcher.
func (w *Watcher) Update(ev event.Event) {
	w.UpdateContext(context.Background(), ev)
}

// UpdateContext implements watcher.ContextWatcher, handing ctx on to the
// inner watcher when it accepts one.
func (w *Watcher) UpdateContext(ctx context.Context, ev event.Event) {
	if ev == nil {
		return
	}
	w.eventsTotal.WithLabelValues(ev.Type().Tag()).Inc()
	watcher.Notify(ctx, w.inner, ev)
}

// tagOf recovers the event tag from a payload rendered by either renderer.
func tagOf(payload string) string {
	if t, ok := watcher.ParseTag(payload); ok {
		return t.Tag()
	}
	if ev, err := watcher.ParseFull(payload); err == nil {
		return ev.Type().Tag()
	}
	return "unknown"
}

var _ watcher.ContextWatcher = (*Watcher)(nil)
