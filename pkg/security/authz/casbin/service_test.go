package casbin

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
	"github.com/kart-io/policy-watcher/pkg/infra/tracing/tracingtest"
	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher/watchertest"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

func newTestService(t *testing.T, dbPath string) (*Service, *watchertest.Recorder) {
	t.Helper()
	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "policy.db")
	}
	rec := watchertest.NewRecorder()
	svc, err := NewServiceWithGorm(openDB(t, dbPath), DefaultModel, WithWatcher(rec))
	require.NoError(t, err)
	return svc, rec
}

func TestMutationsEmitMatchingEvents(t *testing.T) {
	svc, rec := newTestService(t, "")

	ok, err := svc.AddPolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.AddPolicies(t.Context(), "p", [][]string{{"bob", "data2", "write"}, {"carol", "data3", "read"}})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.RemovePolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.RemovePolicies(t.Context(), "p", [][]string{{"bob", "data2", "write"}})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.RemoveFilteredPolicy(t.Context(), "p", 1, "data3")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.AddGroupingPolicy(t.Context(), "alice", "admin")
	require.NoError(t, err)
	require.True(t, ok)

	want := []event.Event{
		event.NewAddPolicy("p", "p", "alice", "data1", "read"),
		event.NewAddPolicies("p", "p", [][]string{{"bob", "data2", "write"}, {"carol", "data3", "read"}}),
		event.NewRemovePolicy("p", "p", "alice", "data1", "read"),
		event.NewRemovePolicies("p", "p", [][]string{{"bob", "data2", "write"}}),
		event.NewRemoveFilteredPolicy("p", "p", 1, "data3"),
		event.NewAddPolicy("g", "g", "alice", "admin"),
	}
	got := rec.Events()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, event.Equal(want[i], got[i]), "event %d: want %s, got %s", i, want[i], got[i])
	}
}

func TestNoEventForNoopMutation(t *testing.T) {
	svc, rec := newTestService(t, "")

	_, err := svc.AddPolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)
	rec.Reset()

	ok, err := svc.AddPolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.RemovePolicy(t.Context(), "p", "nobody", "data1", "read")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.RemoveGroupingPolicy(t.Context(), "nobody", "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Empty(t, rec.Events())
}

func TestInvalidMutationsAreRejected(t *testing.T) {
	svc, rec := newTestService(t, "")

	_, err := svc.AddPolicy(t.Context(), "p2", "alice", "data1", "read")
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	_, err = svc.AddPolicy(t.Context(), "p")
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	_, err = svc.AddPolicies(t.Context(), "p", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	_, err = svc.RemoveFilteredPolicy(t.Context(), "p", -1, "alice")
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	_, err = svc.RemoveFilteredPolicy(t.Context(), "p", 0)
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	assert.Empty(t, rec.Events())
}

func TestSavePolicyEmitsSnapshot(t *testing.T) {
	svc, rec := newTestService(t, "")

	_, err := svc.AddPolicy(t.Context(), "p", "admin", "data1", "read")
	require.NoError(t, err)
	_, err = svc.AddGroupingPolicy(t.Context(), "alice", "admin")
	require.NoError(t, err)
	rec.Reset()

	require.NoError(t, svc.SavePolicy(t.Context()))

	want := event.NewSavePolicy([][]string{
		{"p", "admin", "data1", "read"},
		{"g", "alice", "admin"},
	})
	require.Len(t, rec.Events(), 1)
	assert.True(t, event.Equal(want, rec.Events()[0]))

	rules, err := svc.Policies()
	require.NoError(t, err)
	assert.Equal(t, want.Rules, rules)
}

func TestClearPolicyAndClearCache(t *testing.T) {
	svc, rec := newTestService(t, "")

	_, err := svc.AddPolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)

	allowed, err := svc.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	require.True(t, allowed)
	assert.Equal(t, 1, svc.CachedDecisions())

	rec.Reset()
	svc.ClearCache(t.Context())
	assert.Zero(t, svc.CachedDecisions())

	rules, err := svc.Policies()
	require.NoError(t, err)
	assert.Len(t, rules, 1, "clearing the cache keeps rules")

	svc.ClearPolicy(t.Context())
	allowed, err = svc.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.Equal(t, []event.Type{event.TypeClearCache, event.TypeClearPolicy}, rec.Types())
}

func TestDecisionCacheFollowsMutations(t *testing.T) {
	svc, _ := newTestService(t, "")

	allowed, err := svc.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	require.False(t, allowed)

	_, err = svc.AddPolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)

	allowed, err = svc.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	assert.True(t, allowed)

	_, err = svc.RemovePolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)

	allowed, err = svc.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCallbackMayCallBackIntoService(t *testing.T) {
	svc, _ := newTestService(t, "")

	w := watcher.NewLocal()
	var seen []bool
	w.SetUpdateCallback(func(string) {
		allowed, err := svc.Enforce("alice", "data1", "read")
		require.NoError(t, err)
		seen = append(seen, allowed)
	})
	svc.SetWatcher(w)

	_, err := svc.AddPolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, seen, "callback observes the applied mutation")
}

func TestSetWatcherNilDisablesNotification(t *testing.T) {
	svc, rec := newTestService(t, "")
	svc.SetWatcher(nil)

	_, err := svc.AddPolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)
	assert.Empty(t, rec.Events())
}

func TestApplyPeerPayload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "policy.db")
	a, recA := newTestService(t, dbPath)
	b, recB := newTestService(t, dbPath)

	allowed, err := b.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	require.False(t, allowed)

	_, err = a.AddPolicy(t.Context(), "p", "alice", "data1", "read")
	require.NoError(t, err)
	require.Len(t, recA.Payloads(), 1)

	require.NoError(t, b.ApplyPeerPayload(recA.Payloads()[0]))
	allowed, err = b.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	assert.True(t, allowed)

	// tag payloads work too
	require.NoError(t, b.ApplyPeerPayload(watcher.TagPrefix+"clear_policy"))
	allowed, err = b.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.ErrorIs(t, b.ApplyPeerPayload("garbage"), errors.ErrInvalidParam)
	assert.Empty(t, recB.Events(), "applying a peer payload never emits")
}

func TestConcurrentMutationsEmitOncePerChange(t *testing.T) {
	svc, rec := newTestService(t, "")

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, _ = svc.AddPolicy(t.Context(), "p", fmt.Sprintf("user%d", i), fmt.Sprintf("data%d", j), "read")
				_, _ = svc.Enforce(fmt.Sprintf("user%d", i), fmt.Sprintf("data%d", j), "read")
			}
		}(i)
	}
	wg.Wait()

	rules, err := svc.Policies()
	require.NoError(t, err)
	assert.Len(t, rules, workers*5)
	assert.Len(t, rec.Events(), workers*5)
}

func TestCallbackMayMutateService(t *testing.T) {
	svc, _ := newTestService(t, "")

	rec := watchertest.NewRecorder()
	var once sync.Once
	rec.SetUpdateCallback(func(string) {
		once.Do(func() {
			_, err := svc.AddGroupingPolicy(t.Context(), "alice", "admin")
			assert.NoError(t, err)
		})
	})
	svc.SetWatcher(rec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.AddPolicy(t.Context(), "p", "admin", "data1", "read")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mutation made from a callback did not complete")
	}

	got := rec.Events()
	require.Len(t, got, 2)
	assert.True(t, event.Equal(event.NewAddPolicy("p", "p", "admin", "data1", "read"), got[0]))
	assert.True(t, event.Equal(event.NewAddPolicy("g", "g", "alice", "admin"), got[1]),
		"the nested mutation is delivered after the callback that made it returns")

	allowed, err := svc.Enforce("alice", "data1", "read")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestConcurrentMutationsEmitInCommitOrder(t *testing.T) {
	svc, rec := newTestService(t, "")

	// every worker toggles the same rule, so committed changes strictly
	// alternate between add and remove
	const workers, rounds = 8, 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				_, _ = svc.AddPolicy(t.Context(), "p", "alice", "data1", "read")
				_, _ = svc.RemovePolicy(t.Context(), "p", "alice", "data1", "read")
			}
		}()
	}
	wg.Wait()

	types := rec.Types()
	require.NotEmpty(t, types)
	for i, typ := range types {
		want := event.TypeAddPolicy
		if i%2 == 1 {
			want = event.TypeRemovePolicy
		}
		require.Equal(t, want, typ, "event %d delivered out of commit order", i)
	}

	rules, err := svc.Policies()
	require.NoError(t, err)
	assert.Len(t, rules, len(types)%2)
}

func TestMutationSpansCoverNotification(t *testing.T) {
	spans := tracingtest.Install(t)
	svc, _ := newTestService(t, "")

	ctx, parent := tracing.StartSpan(t.Context(), "POST /v1/policies")
	_, err := svc.AddPolicy(ctx, "p", "alice", "data1", "read")
	require.NoError(t, err)
	_, err = svc.AddPolicy(ctx, "p9", "alice", "data1", "read")
	require.Error(t, err)
	svc.ClearCache(ctx)
	parent.End()

	assert.Equal(t, []string{
		"authz.notify", "authz.AddPolicy",
		"authz.AddPolicy",
		"authz.notify", "authz.ClearCache",
		"POST /v1/policies",
	}, tracingtest.Names(spans))

	ended := spans.Ended()
	notify, mutate, rejected := ended[0], ended[1], ended[2]
	assert.Equal(t, mutate.SpanContext().SpanID(), notify.Parent().SpanID())
	assert.Equal(t, parent.SpanContext().SpanID(), mutate.Parent().SpanID())
	assert.Equal(t, codes.Error, rejected.Status().Code)
}
