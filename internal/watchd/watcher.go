package watchd

import (
	"context"

	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"

	etcdcomponent "github.com/kart-io/policy-watcher/pkg/component/etcd"
	rediscomponent "github.com/kart-io/policy-watcher/pkg/component/redis"
	watcheropts "github.com/kart-io/policy-watcher/pkg/options/watcher"
	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
	etcdwatcher "github.com/kart-io/policy-watcher/pkg/security/authz/watcher/etcd"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher/metrics"
	rediswatcher "github.com/kart-io/policy-watcher/pkg/security/authz/watcher/redis"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// peerAware is implemented by watchers that receive updates from other
// instances.
type peerAware interface {
	SetPeerHandler(h watcher.Callback)
}

// installed is the watcher put on the policy engine together with whatever
// must be released on shutdown, in release order.
type installed struct {
	watcher.Watcher
	closers []func() error
}

// UpdateContext forwards ev with the caller's context.
func (i *installed) UpdateContext(ctx context.Context, ev event.Event) {
	watcher.Notify(ctx, i.Watcher, ev)
}

var _ watcher.ContextWatcher = (*installed)(nil)

// Close releases the watcher and its transport client.
func (i *installed) Close() error {
	var first error
	for _, c := range i.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildWatcher creates the watcher selected by opts. Peer updates are
// handed to peer; reg may be nil when metrics are disabled.
func buildWatcher(ctx context.Context, opts *Options, peer watcher.Callback, reg prometheus.Registerer) (*installed, error) {
	renderer, err := watcher.RendererByName(opts.Watcher.Renderer)
	if err != nil {
		return nil, err
	}

	out := &installed{}

	switch opts.Watcher.Kind {
	case watcheropts.KindLocal, "":
		out.Watcher = watcher.NewLocal(watcher.WithRenderer(renderer))

	case watcheropts.KindRedis:
		client, err := rediscomponent.New(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		w, err := rediswatcher.NewWatcher(ctx, client,
			rediswatcher.WithChannel(opts.Watcher.Channel),
			rediswatcher.WithRenderer(renderer),
			rediswatcher.WithPublishTimeout(opts.Watcher.Timeout),
		)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		out.Watcher = w
		out.closers = append(out.closers, w.Close, client.Close)

	case watcheropts.KindEtcd:
		client, err := etcdcomponent.New(ctx, opts.Etcd)
		if err != nil {
			return nil, err
		}
		w, err := etcdwatcher.NewWatcherFromClient(client,
			etcdwatcher.WithKey(opts.Watcher.Key),
			etcdwatcher.WithRenderer(renderer),
			etcdwatcher.WithRequestTimeout(opts.Watcher.Timeout),
		)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		out.Watcher = w
		out.closers = append(out.closers, w.Close, client.Close)

	default:
		return nil, errors.ErrConfig.WithMessagef("unknown watcher kind %q", opts.Watcher.Kind)
	}

	if pa, ok := out.Watcher.(peerAware); ok && peer != nil {
		pa.SetPeerHandler(peer)
	}

	if opts.Watcher.Metrics && reg != nil {
		mw, err := metrics.NewWatcher(reg, metrics.WithInner(out.Watcher))
		if err != nil {
			_ = out.Close()
			return nil, errors.ErrConfig.WithMessage("failed to register watcher metrics").WithCause(err)
		}
		out.Watcher = mw
	}

	if opts.Watcher.AuditLog {
		out.SetUpdateCallback(auditLog)
	}

	logger.Infow("Policy watcher installed",
		"component", component,
		"kind", opts.Watcher.Kind,
		"renderer", renderer.Name(),
		"metrics", opts.Watcher.Metrics && reg != nil,
	)
	return out, nil
}

// auditLog records every local policy update.
func auditLog(payload string) {
	logger.Infow("Policy updated",
		"component", component,
		"payload", payload,
	)
}
