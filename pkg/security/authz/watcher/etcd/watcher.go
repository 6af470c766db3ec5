// Package etcd bridges policy updates between engine instances through an
// etcd key. Update puts the rendered payload at the key; every instance
// watching the key hands payloads written by its peers to its peer handler,
// one at a time and in revision order.
package etcd

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/policy-watcher/pkg/infra/pool"
	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
	"github.com/kart-io/policy-watcher/pkg/utils/json"
)

// KeyName is the default key policy updates are written to.
const KeyName = "/casbin/policy/update"

const component = "etcd.watcher"

type message struct {
	ID      string            `json:"id"`
	Payload string            `json:"payload"`
	Trace   map[string]string `json:"trace,omitempty"`
}

// Watcher is the etcd watcher.
type Watcher struct {
	kv             clientv3.KV
	watcher        clientv3.Watcher
	key            string
	id             string
	renderer       watcher.Renderer
	requestTimeout time.Duration
	slot           watcher.Slot
	peer           watcher.Slot
	peerQueue      *pool.Serial

	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	published     atomic.Int64
	publishFailed atomic.Int64
	received      atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithKey sets the etcd key.
func WithKey(key string) Option {
	return func(w *Watcher) {
		if key != "" {
			w.key = key
		}
	}
}

// WithRenderer sets the rendering policy. Defaults to watcher.FullRenderer.
func WithRenderer(r watcher.Renderer) Option {
	return func(w *Watcher) {
		if r != nil {
			w.renderer = r
		}
	}
}

// WithRequestTimeout bounds how long Update waits on PUT.
func WithRequestTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.requestTimeout = d
		}
	}
}

// WithInstanceID overrides the generated instance id.
func WithInstanceID(id string) Option {
	return func(w *Watcher) {
		if id != "" {
			w.id = id
		}
	}
}

// NewWatcherFromClient creates a Watcher backed by an etcd client.
func NewWatcherFromClient(client *clientv3.Client, opts ...Option) (*Watcher, error) {
	if client == nil {
		return nil, errors.ErrInvalidParam.WithMessage("etcd client is required")
	}
	return NewWatcher(client.KV, client.Watcher, opts...)
}

// NewWatcher creates a Watcher and starts watching the key.
func NewWatcher(kv clientv3.KV, wc clientv3.Watcher, opts ...Option) (*Watcher, error) {
	if kv == nil || wc == nil {
		return nil, errors.ErrInvalidParam.WithMessage("etcd kv and watcher are required")
	}

	w := &Watcher{
		kv:             kv,
		watcher:        wc,
		key:            KeyName,
		id:             ulid.Make().String(),
		renderer:       watcher.FullRenderer{},
		requestTimeout: 2 * time.Second,
		peerQueue:      pool.NewSerial(pool.CallbackPool),
	}
	for _, opt := range opts {
		opt(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	wch := w.watcher.Watch(ctx, w.key)

	w.wg.Add(1)
	go w.loop(ctx, wch)

	logger.Infow("Etcd policy watcher started",
		"component", component,
		"key", w.key,
		"instance", w.id,
		"renderer", w.renderer.Name(),
	)

	return w, nil
}

// ID returns the instance id stamped on written payloads.
func (w *Watcher) ID() string {
	return w.id
}

// SetUpdateCallback implements watcher.Watcher. The callback sees the
// payload of every local Update.
func (w *Watcher) SetUpdateCallback(cb watcher.Callback) {
	w.slot.Store(cb)
}

// SetPeerHandler registers the handler for payloads published by other
// instances, replacing any previous one. Peer payloads are dropped while no
// handler is registered.
func (w *Watcher) SetPeerHandler(h watcher.Callback) {
	w.peer.Store(h)
}

// Update implements watcher.Watcher.
func (w *Watcher) Update(ev event.Event) {
	w.UpdateContext(context.Background(), ev)
}

// UpdateContext implements watcher.ContextWatcher.
func (w *Watcher) UpdateContext(ctx context.Context, ev event.Event) {
	if ev == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "etcd.watcher.put",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			tracing.String(tracing.AttrSystem, "etcd"),
			tracing.String(tracing.AttrChannel, w.key),
			tracing.String(tracing.AttrEventType, ev.Type().Tag()),
		),
	)
	defer span.End()

	payload := w.renderer.Render(ev)
	if _, err := w.slot.Invoke(payload); err != nil {
		logger.Errorw("Policy watcher callback failed",
			"component", component,
			"event", ev.Type().Tag(),
			"error", err.Error(),
		)
	}

	if err := w.put(ctx, payload); err != nil {
		w.publishFailed.Add(1)
		tracing.RecordError(span, err)
		logger.Warnw("Failed to write policy update",
			"component", component,
			"key", w.key,
			"event", ev.Type().Tag(),
			"error", err.Error(),
		)
		return
	}
	w.published.Add(1)
}

func (w *Watcher) put(ctx context.Context, payload string) error {
	if w.closed.Load() {
		return errors.ErrWatcherClosed
	}

	data, err := json.MarshalString(message{ID: w.id, Payload: payload, Trace: tracing.Inject(ctx)})
	if err != nil {
		return errors.ErrPublish.WithCause(err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.requestTimeout)
	defer cancel()

	if _, err := w.kv.Put(ctx, w.key, data); err != nil {
		return errors.ErrPublish.WithCause(err)
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context, wch clientv3.WatchChan) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-wch:
			if !ok {
				if ctx.Err() == nil {
					logger.Warnw("Etcd watch channel closed unexpectedly",
						"component", component,
						"key", w.key,
					)
				}
				return
			}
			if err := resp.Err(); err != nil {
				logger.Warnw("Etcd watch error",
					"component", component,
					"key", w.key,
					"error", err.Error(),
				)
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut || ev.Kv == nil {
					continue
				}
				w.handle(ev.Kv.Value)
			}
		}
	}
}

func (w *Watcher) handle(raw []byte) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		logger.Warnw("Dropping malformed policy update",
			"component", component,
			"error", err.Error(),
		)
		return
	}
	if m.ID == w.id {
		return
	}

	w.received.Add(1)
	if err := w.peerQueue.Submit(func() { w.deliver(m) }); err != nil {
		logger.Debugw("Dropping policy update received while closing",
			"component", component,
			"error", err.Error(),
		)
	}
}

func (w *Watcher) deliver(m message) {
	ctx := tracing.Extract(context.Background(), m.Trace)
	_, span := tracing.StartSpan(ctx, "etcd.watcher.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			tracing.String(tracing.AttrSystem, "etcd"),
			tracing.String(tracing.AttrChannel, w.key),
			tracing.String(tracing.AttrPeer, m.ID),
		),
	)
	defer span.End()

	if _, err := w.peer.Invoke(m.Payload); err != nil {
		tracing.RecordError(span, err)
		logger.Errorw("Recovered from panic in peer handler",
			"component", component,
			"error", err.Error(),
		)
	}
}

// Stats returns write and receive counters.
func (w *Watcher) Stats() (published, publishFailed, received int64) {
	return w.published.Load(), w.publishFailed.Load(), w.received.Load()
}

// Close stops watching. The etcd client itself is owned by the caller.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.cancel()
		w.wg.Wait()
		w.peerQueue.Close()
	})
	return nil
}

var _ watcher.ContextWatcher = (*Watcher)(nil)
