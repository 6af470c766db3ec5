package casbin

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

const component = "authz.casbin"

// Option configures a Service.
type Option func(*Service)

// WithWatcher installs w at construction time.
func WithWatcher(w watcher.Watcher) Option {
	return func(s *Service) {
		s.watcher = w
	}
}

// WithCacheSize bounds the decision cache.
func WithCacheSize(n int) Option {
	return func(s *Service) {
		s.cacheSize = n
	}
}

// Service is the PermissionService implementation. Mutations are serialized
// against each other and against Enforce.
//
// Events are queued while the engine lock is held, so the queue is in commit
// order, and delivered after it is released, so a callback may call back into
// the Service. One goroutine delivers at a time: a mutation that finds
// delivery in progress leaves its event to that goroutine, which includes a
// mutation made from inside a callback.
type Service struct {
	mu        sync.RWMutex
	enforcer  *casbin.Enforcer
	cache     *decisionCache
	cacheSize int

	wmu     sync.RWMutex
	watcher watcher.Watcher

	emitMu   sync.Mutex
	pending  []pendingEvent
	emitting bool
}

type pendingEvent struct {
	ctx context.Context
	ev  event.Event
}

// NewService wraps an existing enforcer.
func NewService(e *casbin.Enforcer, opts ...Option) (*Service, error) {
	if e == nil {
		return nil, errors.ErrInvalidParam.WithMessage("enforcer is required")
	}

	// mutations persist as they are made; peer replay relies on toggling this
	e.EnableAutoSave(true)

	s := &Service{enforcer: e}
	for _, opt := range opts {
		opt(s)
	}

	cache, err := newDecisionCache(s.cacheSize)
	if err != nil {
		return nil, errors.ErrInternal.WithMessage("failed to create decision cache").WithCause(err)
	}
	s.cache = cache

	return s, nil
}

// Enforce checks a request, answering from the decision cache when it can.
func (s *Service) Enforce(sub, obj, act string) (bool, error) {
	key := cacheKey(sub, obj, act)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if allowed, ok := s.cache.get(key); ok {
		return allowed, nil
	}

	allowed, err := s.enforcer.Enforce(sub, obj, act)
	if err != nil {
		return false, errors.ErrInternal.WithMessage("enforce failed").WithCause(err)
	}
	s.cache.add(key, allowed)
	return allowed, nil
}

// AddPolicy adds one rule of the given ptype.
func (s *Service) AddPolicy(ctx context.Context, ptype string, rule ...string) (bool, error) {
	sec := SectionOf(ptype)
	if err := validateRule(rule); err != nil {
		return false, err
	}
	return s.mutate(ctx, "AddPolicy", sec, ptype, func(e *casbin.Enforcer) (bool, error) {
		if sec == SectionGrouping {
			return e.AddNamedGroupingPolicy(ptype, rule)
		}
		return e.AddNamedPolicy(ptype, rule)
	}, func() event.Event {
		return event.NewAddPolicy(sec, ptype, rule...)
	})
}

// AddPolicies adds rules atomically: either every rule is new and all are
// added, or nothing changes.
func (s *Service) AddPolicies(ctx context.Context, ptype string, rules [][]string) (bool, error) {
	sec := SectionOf(ptype)
	if err := validateRules(rules); err != nil {
		return false, err
	}
	return s.mutate(ctx, "AddPolicies", sec, ptype, func(e *casbin.Enforcer) (bool, error) {
		if sec == SectionGrouping {
			return e.AddNamedGroupingPolicies(ptype, rules)
		}
		return e.AddNamedPolicies(ptype, rules)
	}, func() event.Event {
		return event.NewAddPolicies(sec, ptype, rules)
	})
}

// RemovePolicy removes one rule of the given ptype.
func (s *Service) RemovePolicy(ctx context.Context, ptype string, rule ...string) (bool, error) {
	sec := SectionOf(ptype)
	if err := validateRule(rule); err != nil {
		return false, err
	}
	return s.mutate(ctx, "RemovePolicy", sec, ptype, func(e *casbin.Enforcer) (bool, error) {
		if sec == SectionGrouping {
			return e.RemoveNamedGroupingPolicy(ptype, rule)
		}
		return e.RemoveNamedPolicy(ptype, rule)
	}, func() event.Event {
		return event.NewRemovePolicy(sec, ptype, rule...)
	})
}

// RemovePolicies removes rules atomically.
func (s *Service) RemovePolicies(ctx context.Context, ptype string, rules [][]string) (bool, error) {
	sec := SectionOf(ptype)
	if err := validateRules(rules); err != nil {
		return false, err
	}
	return s.mutate(ctx, "RemovePolicies", sec, ptype, func(e *casbin.Enforcer) (bool, error) {
		if sec == SectionGrouping {
			return e.RemoveNamedGroupingPolicies(ptype, rules)
		}
		return e.RemoveNamedPolicies(ptype, rules)
	}, func() event.Event {
		return event.NewRemovePolicies(sec, ptype, rules)
	})
}

// RemoveFilteredPolicy removes every rule whose fields starting at
// fieldIndex match fieldValues. An empty value matches any field.
func (s *Service) RemoveFilteredPolicy(ctx context.Context, ptype string, fieldIndex int, fieldValues ...string) (bool, error) {
	sec := SectionOf(ptype)
	if fieldIndex < 0 {
		return false, errors.ErrInvalidParam.WithMessage("field index must not be negative")
	}
	if len(fieldValues) == 0 {
		return false, errors.ErrInvalidParam.WithMessage("at least one field value is required")
	}
	return s.mutate(ctx, "RemoveFilteredPolicy", sec, ptype, func(e *casbin.Enforcer) (bool, error) {
		if sec == SectionGrouping {
			return e.RemoveFilteredNamedGroupingPolicy(ptype, fieldIndex, fieldValues...)
		}
		return e.RemoveFilteredNamedPolicy(ptype, fieldIndex, fieldValues...)
	}, func() event.Event {
		return event.NewRemoveFilteredPolicy(sec, ptype, fieldIndex, fieldValues...)
	})
}

// AddGroupingPolicy adds a role inheritance rule (user -> role).
func (s *Service) AddGroupingPolicy(ctx context.Context, user, role string) (bool, error) {
	return s.AddPolicy(ctx, SectionGrouping, user, role)
}

// RemoveGroupingPolicy removes a role inheritance rule.
func (s *Service) RemoveGroupingPolicy(ctx context.Context, user, role string) (bool, error) {
	return s.RemovePolicy(ctx, SectionGrouping, user, role)
}

// LoadPolicy reloads policies from storage.
func (s *Service) LoadPolicy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enforcer.LoadPolicy(); err != nil {
		return errors.ErrDatabase.WithMessage("failed to load policies").WithCause(err)
	}
	s.cache.purge()
	return nil
}

// SavePolicy persists the in-memory policy and emits a snapshot of every
// rule that was saved.
func (s *Service) SavePolicy(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "authz.SavePolicy")
	defer span.End()

	s.mu.Lock()
	if err := s.enforcer.SavePolicy(); err != nil {
		s.mu.Unlock()
		err = errors.ErrDatabase.WithMessage("failed to save policies").WithCause(err)
		tracing.RecordError(span, err)
		return err
	}
	rules, err := s.snapshot()
	if err != nil {
		s.mu.Unlock()
		tracing.RecordError(span, err)
		return err
	}
	s.enqueue(ctx, event.NewSavePolicy(rules))
	s.mu.Unlock()

	s.flush()
	return nil
}

// ClearPolicy drops every rule held in memory. Storage is untouched until
// the next SavePolicy.
func (s *Service) ClearPolicy(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "authz.ClearPolicy")
	defer span.End()

	s.mu.Lock()
	s.enforcer.ClearPolicy()
	s.cache.purge()
	s.enqueue(ctx, event.ClearPolicy{})
	s.mu.Unlock()

	s.flush()
}

// ClearCache drops every cached decision. Rules are untouched.
func (s *Service) ClearCache(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "authz.ClearCache")
	defer span.End()

	s.mu.Lock()
	s.cache.purge()
	s.enqueue(ctx, event.ClearCache{})
	s.mu.Unlock()

	s.flush()
}

// Policies returns every rule, each row prefixed with its ptype, policy
// rules first, ptypes in lexical order.
func (s *Service) Policies() ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// CachedDecisions reports how many decisions are cached.
func (s *Service) CachedDecisions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.len()
}

// Enforcer returns the underlying Casbin enforcer (use with caution).
// Mutations made through it bypass the watcher.
func (s *Service) Enforcer() *casbin.Enforcer {
	return s.enforcer
}

// SetWatcher sets the watcher that observes mutations. A nil watcher
// disables notification.
func (s *Service) SetWatcher(w watcher.Watcher) {
	s.wmu.Lock()
	s.watcher = w
	s.wmu.Unlock()
}

func (s *Service) currentWatcher() watcher.Watcher {
	s.wmu.RLock()
	defer s.wmu.RUnlock()
	return s.watcher
}

// mutate applies a rule mutation under the engine lock and, if it changed
// state, purges the decision cache and emits the event built by ev.
func (s *Service) mutate(ctx context.Context, op, sec, ptype string, apply func(*casbin.Enforcer) (bool, error), ev func() event.Event) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "authz."+op, trace.WithAttributes(
		tracing.String(tracing.AttrPType, ptype),
	))
	defer span.End()

	s.mu.Lock()
	if _, ok := s.enforcer.GetModel()[sec][ptype]; !ok {
		s.mu.Unlock()
		err := errors.ErrInvalidParam.WithMessagef("unknown policy type %q", ptype)
		tracing.RecordError(span, err)
		return false, err
	}

	changed, err := apply(s.enforcer)
	if err == nil && changed {
		s.cache.purge()
		s.enqueue(ctx, ev())
	}
	s.mu.Unlock()

	if err != nil {
		err = errors.ErrDatabase.WithMessage("policy mutation failed").WithCause(err)
		tracing.RecordError(span, err)
		return false, err
	}
	span.SetAttributes(tracing.Bool(tracing.AttrChanged, changed))
	if changed {
		s.flush()
	}
	return changed, nil
}

// enqueue must be called with s.mu held.
func (s *Service) enqueue(ctx context.Context, ev event.Event) {
	s.emitMu.Lock()
	s.pending = append(s.pending, pendingEvent{ctx: ctx, ev: ev})
	s.emitMu.Unlock()
}

// flush delivers queued events until the queue is empty, unless another
// goroutine is already delivering. It must be called without s.mu held.
func (s *Service) flush() {
	s.emitMu.Lock()
	if s.emitting {
		s.emitMu.Unlock()
		return
	}
	s.emitting = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending[0] = pendingEvent{}
		s.pending = s.pending[1:]
		s.emitMu.Unlock()

		s.notify(next.ctx, next.ev)

		s.emitMu.Lock()
	}
	s.emitting = false
	s.emitMu.Unlock()
}

func (s *Service) notify(ctx context.Context, ev event.Event) {
	w := s.currentWatcher()
	if w == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "authz.notify", trace.WithAttributes(
		tracing.String(tracing.AttrEventType, ev.Type().Tag()),
	))
	defer span.End()

	// a watcher that breaks its contract must not wedge delivery
	defer func() {
		if r := recover(); r != nil {
			err := errors.ErrCallbackPanic.WithMessagef("watcher update panicked: %v", r)
			tracing.RecordError(span, err)
			logger.Errorw("Policy watcher panicked",
				"component", component,
				"event", ev.String(),
				"error", err.Error(),
			)
		}
	}()

	logger.Debugw("Notifying policy watcher",
		"component", component,
		"event", ev.String(),
	)
	watcher.Notify(ctx, w, ev)
}

// snapshot must be called with s.mu held.
func (s *Service) snapshot() ([][]string, error) {
	m := s.enforcer.GetModel()

	var rules [][]string
	for _, sec := range []string{SectionPolicy, SectionGrouping} {
		for _, ptype := range slices.Sorted(maps.Keys(m[sec])) {
			var (
				rows [][]string
				err  error
			)
			if sec == SectionGrouping {
				rows, err = s.enforcer.GetNamedGroupingPolicy(ptype)
			} else {
				rows, err = s.enforcer.GetNamedPolicy(ptype)
			}
			if err != nil {
				return nil, errors.ErrInternal.WithMessage("failed to read policies").WithCause(err)
			}
			for _, row := range rows {
				rules = append(rules, append([]string{ptype}, row...))
			}
		}
	}
	return rules, nil
}

func validateRule(rule []string) error {
	if len(rule) == 0 {
		return errors.ErrInvalidParam.WithMessage("rule must not be empty")
	}
	return nil
}

func validateRules(rules [][]string) error {
	if len(rules) == 0 {
		return errors.ErrInvalidParam.WithMessage("rules must not be empty")
	}
	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			return err
		}
	}
	return nil
}

var _ PermissionService = (*Service)(nil)
