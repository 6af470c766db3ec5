package metrics

import (
	"context"
	"testing"

	"github.com/kart-io/logger/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher/watchertest"
)

func TestWatcherCountsEventsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	w, err := NewWatcher(reg)
	require.NoError(t, err)

	var payloads []string
	w.SetUpdateCallback(func(p string) { payloads = append(payloads, p) })

	w.Update(event.NewAddPolicy("p", "p", "alice", "data1", "read"))
	w.Update(event.NewAddPolicy("p", "p", "bob", "data2", "write"))
	w.Update(event.ClearCache{})
	w.Update(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(w.eventsTotal.WithLabelValues("add_policy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(w.eventsTotal.WithLabelValues("clear_cache")))
	assert.Equal(t, 0.0, testutil.ToFloat64(w.eventsTotal.WithLabelValues("clear_policy")))

	// default inner watcher renders tags only
	assert.Equal(t, []string{
		"policy_updated:add_policy",
		"policy_updated:add_policy",
		"policy_updated:clear_cache",
	}, payloads)

	assert.Equal(t, uint64(3), histogramCount(t, reg, "policy_watcher_callback_duration_seconds"))
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.Len(t, f.GetMetric(), 1)
			return f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestWatcherCountsCallbackFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	inner := watcher.NewLocal(watcher.WithLogger(core.NewNoOpLogger(nil)))
	w, err := NewWatcher(reg, WithInner(inner), WithNamespace("authz"))
	require.NoError(t, err)

	w.SetUpdateCallback(func(string) { panic("sink unavailable") })

	assert.NotPanics(t, func() { w.Update(event.ClearPolicy{}) })
	assert.Equal(t, 1.0, testutil.ToFloat64(w.callbackFailures.WithLabelValues("clear_policy")))

	_, failed := inner.Stats()
	assert.Equal(t, int64(1), failed)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "authz_watcher_events_total")
	assert.Contains(t, names, "authz_watcher_callback_failures_total")
}

func TestWatcherDelegatesToInner(t *testing.T) {
	rec := watchertest.NewRecorder()
	w, err := NewWatcher(prometheus.NewRegistry(), WithInner(rec))
	require.NoError(t, err)

	w.Update(event.NewRemoveFilteredPolicy("p", "p", 0, "alice"))
	assert.Equal(t, []event.Type{event.TypeRemoveFilteredPolicy}, rec.Types())

	w.SetUpdateCallback(nil)
	w.Update(event.ClearCache{})
	assert.Len(t, rec.Payloads(), 2)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewWatcher(reg)
	require.NoError(t, err)

	_, err = NewWatcher(reg)
	assert.Error(t, err)
}

type ctxKey struct{}

// contextRecorder remembers the context UpdateContext was called with.
type contextRecorder struct {
	*watchertest.Recorder
	ctx context.Context
}

func (r *contextRecorder) UpdateContext(ctx context.Context, ev event.Event) {
	r.ctx = ctx
	r.Update(ev)
}

func TestWatcherForwardsContext(t *testing.T) {
	inner := &contextRecorder{Recorder: watchertest.NewRecorder()}
	w, err := NewWatcher(prometheus.NewRegistry(), WithInner(inner))
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), ctxKey{}, "span")
	w.UpdateContext(ctx, event.ClearPolicy{})

	require.NotNil(t, inner.ctx)
	assert.Equal(t, "span", inner.ctx.Value(ctxKey{}))
	assert.Equal(t, []event.Type{event.TypeClearPolicy}, inner.Types())
	assert.Equal(t, 1.0, testutil.ToFloat64(w.eventsTotal.WithLabelValues("clear_policy")))
}
