package etcd

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
	"github.com/kart-io/policy-watcher/pkg/infra/tracing/tracingtest"
	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// cluster fans every Put out to all open watches on the same key.
type cluster struct {
	mu      sync.Mutex
	watches map[string][]chan clientv3.WatchResponse
	failPut error
}

func newCluster() *cluster {
	return &cluster{watches: make(map[string][]chan clientv3.WatchResponse)}
}

type fakeKV struct {
	clientv3.KV
	c *cluster
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()

	if f.c.failPut != nil {
		return nil, f.c.failPut
	}
	resp := clientv3.WatchResponse{Events: []*clientv3.Event{{
		Type: mvccpb.PUT,
		Kv:   &mvccpb.KeyValue{Key: []byte(key), Value: []byte(val)},
	}}}
	for _, ch := range f.c.watches[key] {
		ch <- resp
	}
	return &clientv3.PutResponse{}, nil
}

type fakeWatcher struct {
	clientv3.Watcher
	c *cluster
}

func (f *fakeWatcher) Watch(_ context.Context, key string, _ ...clientv3.OpOption) clientv3.WatchChan {
	ch := make(chan clientv3.WatchResponse, 16)
	f.c.mu.Lock()
	f.c.watches[key] = append(f.c.watches[key], ch)
	f.c.mu.Unlock()
	return ch
}

func newTestWatcher(t *testing.T, c *cluster, opts ...Option) *Watcher {
	t.Helper()
	w, err := NewWatcher(&fakeKV{c: c}, &fakeWatcher{c: c}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestNewWatcherValidation(t *testing.T) {
	_, err := NewWatcher(nil, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	_, err = NewWatcherFromClient(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}

func TestUpdateReachesPeer(t *testing.T) {
	c := newCluster()
	a := newTestWatcher(t, c)
	b := newTestWatcher(t, c)

	var local atomic.Int32
	a.SetUpdateCallback(func(string) { local.Add(1) })

	got := make(chan string, 1)
	b.SetPeerHandler(func(p string) { got <- p })

	ev := event.NewRemovePolicy("p", "p", "bob", "data2", "write")
	a.Update(ev)

	select {
	case p := <-got:
		assert.Equal(t, watcher.FullRenderer{}.Render(ev), p)
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive update")
	}

	assert.Equal(t, int32(1), local.Load())
	published, _, _ := a.Stats()
	assert.Equal(t, int64(1), published)

	// a ignores its own write
	time.Sleep(50 * time.Millisecond)
	_, _, received := a.Stats()
	assert.Zero(t, received)
	assert.Equal(t, int32(1), local.Load())
}

func TestUpdateOnCustomKey(t *testing.T) {
	c := newCluster()
	a := newTestWatcher(t, c, WithKey("/tenants/a/policy"), WithRenderer(watcher.TagRenderer{}))
	b := newTestWatcher(t, c, WithKey("/tenants/a/policy"))
	other := newTestWatcher(t, c)

	got := make(chan string, 1)
	b.SetPeerHandler(func(p string) { got <- p })
	var unrelated atomic.Int32
	other.SetPeerHandler(func(string) { unrelated.Add(1) })

	a.Update(event.ClearCache{})

	select {
	case p := <-got:
		assert.Equal(t, "policy_updated:clear_cache", p)
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive update")
	}
	assert.Zero(t, unrelated.Load())
}

func TestPutFailureIsNotPropagated(t *testing.T) {
	c := newCluster()
	c.failPut = stderrors.New("etcdserver: request timed out")
	a := newTestWatcher(t, c)

	var local atomic.Int32
	a.SetUpdateCallback(func(string) { local.Add(1) })

	assert.NotPanics(t, func() { a.Update(event.ClearPolicy{}) })
	assert.Equal(t, int32(1), local.Load())

	_, failed, _ := a.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestUpdateAfterClose(t *testing.T) {
	c := newCluster()
	w, err := NewWatcher(&fakeKV{c: c}, &fakeWatcher{c: c})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	w.Update(event.ClearCache{})
	_, failed, _ := w.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestPeerPayloadsKeepRevisionOrder(t *testing.T) {
	c := newCluster()
	a := newTestWatcher(t, c)
	b := newTestWatcher(t, c)

	var (
		mu  sync.Mutex
		got []string
	)
	b.SetPeerHandler(func(p string) {
		if ev, err := watcher.ParseFull(p); err == nil && ev.Type() == event.TypeAddPolicy {
			time.Sleep(100 * time.Millisecond)
		}
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	evs := []event.Event{
		event.NewAddPolicy("p", "p", "alice", "data1", "read"),
		event.ClearPolicy{},
		event.NewSavePolicy([][]string{{"p", "bob", "data2", "write"}}),
	}
	want := make([]string, len(evs))
	for i, ev := range evs {
		a.Update(ev)
		want[i] = watcher.FullRenderer{}.Render(ev)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(evs)
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestTraceContinuesToPeer(t *testing.T) {
	rec := tracingtest.Install(t)
	c := newCluster()
	a := newTestWatcher(t, c)
	b := newTestWatcher(t, c)

	got := make(chan string, 1)
	b.SetPeerHandler(func(p string) { got <- p })

	ctx, parent := tracing.StartSpan(context.Background(), "authz.ClearPolicy")
	a.UpdateContext(ctx, event.ClearPolicy{})
	parent.End()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive update")
	}

	require.Eventually(t, func() bool {
		return tracingtest.Find(rec, "etcd.watcher.receive") != nil
	}, time.Second, 10*time.Millisecond)

	put := tracingtest.Find(rec, "etcd.watcher.put")
	receive := tracingtest.Find(rec, "etcd.watcher.receive")
	require.NotNil(t, put)
	assert.Equal(t, parent.SpanContext().SpanID(), put.Parent().SpanID())
	assert.Equal(t, put.SpanContext().SpanID(), receive.Parent().SpanID())
}
