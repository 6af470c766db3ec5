// Package redis bridges policy updates between engine instances over Redis
// pub/sub.
//
// Update renders the event, invokes the local callback and publishes the
// payload on a channel. Every other instance subscribed to that channel
// receives the payload and hands it to its peer handler, which typically
// reloads policy or drops cached decisions. An instance never receives its
// own publications.
//
// Peer payloads are handed to the handler one at a time, in the order they
// were received, on the callback pool. A slow handler delays later payloads
// but never lets them overtake it.
//
// Wire format on the channel:
//
//	{"id":"<instance ULID>","payload":"<rendered event>","trace":{"traceparent":"..."}}
//
// The optional trace member carries the publisher's W3C trace context so the
// receiving side continues the same trace.
package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/policy-watcher/pkg/infra/pool"
	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
	"github.com/kart-io/policy-watcher/pkg/utils/json"
)

// ChannelName is the default Redis channel for policy updates.
const ChannelName = "casbin:policy:update"

const component = "redis.watcher"

// message is the envelope published on the channel.
type message struct {
	ID      string            `json:"id"`
	Payload string            `json:"payload"`
	Trace   map[string]string `json:"trace,omitempty"`
}

// Watcher is the Redis pub/sub watcher.
type Watcher struct {
	client         redis.UniversalClient
	channel        string
	id             string
	renderer       watcher.Renderer
	publishTimeout time.Duration
	slot           watcher.Slot
	peer           watcher.Slot
	peerQueue      *pool.Serial

	pubsub    *redis.PubSub
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	published     atomic.Int64
	publishFailed atomic.Int64
	received      atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(w *Watcher) {
		if channel != "" {
			w.channel = channel
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

// WithPublishTimeout bounds how long Update waits on PUBLISH.
func WithPublishTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.publishTimeout = d
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

// NewWatcher subscribes to the channel and starts receiving peer updates.
// The subscription is confirmed before NewWatcher returns.
func NewWatcher(ctx context.Context, client redis.UniversalClient, opts ...Option) (*Watcher, error) {
	if client == nil {
		return nil, errors.ErrInvalidParam.WithMessage("redis client is required")
	}

	w := &Watcher{
		client:         client,
		channel:        ChannelName,
		id:             ulid.Make().String(),
		renderer:       watcher.FullRenderer{},
		publishTimeout: 3 * time.Second,
		peerQueue:      pool.NewSerial(pool.CallbackPool),
		closeCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.pubsub = client.Subscribe(ctx, w.channel)
	if _, err := w.pubsub.Receive(ctx); err != nil {
		_ = w.pubsub.Close()
		return nil, errors.ErrNetwork.WithMessagef("subscribe to %s", w.channel).WithCause(err)
	}

	w.wg.Add(1)
	go w.receive()

	logger.Infow("Redis policy watcher started",
		"component", component,
		"channel", w.channel,
		"instance", w.id,
		"renderer", w.renderer.Name(),
	)

	return w, nil
}

// ID returns the instance id stamped on published messages.
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

// UpdateContext implements watcher.ContextWatcher. The local callback runs
// first; the publish error, if any, is logged, counted and recorded on the
// publish span.
func (w *Watcher) UpdateContext(ctx context.Context, ev event.Event) {
	if ev == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "redis.watcher.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			tracing.String(tracing.AttrSystem, "redis"),
			tracing.String(tracing.AttrChannel, w.channel),
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

	if err := w.publish(ctx, payload); err != nil {
		w.publishFailed.Add(1)
		tracing.RecordError(span, err)
		logger.Warnw("Failed to publish policy update",
			"component", component,
			"channel", w.channel,
			"event", ev.Type().Tag(),
			"error", err.Error(),
		)
		return
	}
	w.published.Add(1)
}

// publish sends payload on the channel. ctx supplies trace context only; the
// deadline is always publishTimeout.
func (w *Watcher) publish(ctx context.Context, payload string) error {
	select {
	case <-w.closeCh:
		return errors.ErrWatcherClosed
	default:
	}

	data, err := json.Marshal(message{ID: w.id, Payload: payload, Trace: tracing.Inject(ctx)})
	if err != nil {
		return errors.ErrPublish.WithCause(err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.publishTimeout)
	defer cancel()

	if err := w.client.Publish(ctx, w.channel, data).Err(); err != nil {
		return errors.ErrPublish.WithCause(err)
	}
	return nil
}

func (w *Watcher) receive() {
	defer w.wg.Done()
	defer recoverFromPanic()

	ch := w.pubsub.Channel()
	for {
		select {
		case <-w.closeCh:
			return
		case msg, ok := <-ch:
			if !ok {
				handleChannelClosed(w.closeCh)
				return
			}
			w.handle(msg.Payload)
		}
	}
}

func (w *Watcher) handle(raw string) {
	var m message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
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

// deliver runs the peer handler for one message inside a consumer span that
// continues the publisher's trace.
func (w *Watcher) deliver(m message) {
	ctx := tracing.Extract(context.Background(), m.Trace)
	_, span := tracing.StartSpan(ctx, "redis.watcher.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			tracing.String(tracing.AttrSystem, "redis"),
			tracing.String(tracing.AttrChannel, w.channel),
			tracing.String(tracing.AttrPeer, m.ID),
		),
	)
	defer span.End()

	if _, err := w.peer.Invoke(m.Payload); err != nil {
		tracing.RecordError(span, err)
		logger.Errorw("Recovered from panic in peer handler",
			"component", component,
			"error", err.Error(),
			"payload", m.Payload,
		)
	}
}

// Stats returns publish and receive counters.
func (w *Watcher) Stats() (published, publishFailed, received int64) {
	return w.published.Load(), w.publishFailed.Load(), w.received.Load()
}

// Close stops the subscription and waits for the receive loop to exit.
// Peer payloads not yet handed to the handler are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		err = w.pubsub.Close()
		w.wg.Wait()
		w.peerQueue.Close()
	})
	return err
}

func recoverFromPanic() {
	if r := recover(); r != nil {
		logger.Errorw("Recovered from panic in Redis watcher subscription",
			"component", component,
			"error", r,
		)
	}
}

func handleChannelClosed(closeCh chan struct{}) {
	select {
	case <-closeCh:
		logger.Debugw("Redis subscription channel closed normally",
			"component", component,
		)
	default:
		logger.Warnw("Redis subscription channel closed unexpectedly",
			"component", component,
			"reason", "possible network disconnect or Redis error",
		)
	}
}

var _ watcher.ContextWatcher = (*Watcher)(nil)
