package casbin

import (
	"github.com/casbin/casbin/v2"
	"github.com/kart-io/logger"

	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// ApplyPeerPayload brings local state in line with a payload published by
// another instance. No event is emitted and storage is never written: the
// publisher already persisted the change.
//
// A full payload is replayed against the in-memory policy exactly as the
// publisher applied it, so instances that apply the same payloads in the
// same order hold the same policy, including after ClearPolicy.
//
// A tag payload says only what kind of change happened:
//
//	clear_cache   drop cached decisions
//	clear_policy  drop in-memory rules
//	anything else reload rules from storage
//
// Reloading converges only while no instance holds unsaved in-memory state,
// so deployments that use ClearPolicy should publish full payloads.
func (s *Service) ApplyPeerPayload(payload string) error {
	if typ, ok := watcher.ParseTag(payload); ok {
		return s.applyPeerTag(typ)
	}

	ev, err := watcher.ParseFull(payload)
	if err != nil {
		return err
	}
	return s.applyPeerEvent(ev)
}

func (s *Service) applyPeerTag(typ event.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch typ {
	case event.TypeClearCache:
	case event.TypeClearPolicy:
		s.enforcer.ClearPolicy()
	default:
		if err := s.enforcer.LoadPolicy(); err != nil {
			return errors.ErrDatabase.WithMessage("failed to reload policies").WithCause(err)
		}
	}
	s.cache.purge()

	logger.Infow("Applied policy update from peer",
		"component", component,
		"type", typ.String(),
		"mode", "tag",
	)
	return nil
}

func (s *Service) applyPeerEvent(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enforcer.EnableAutoSave(false)
	defer s.enforcer.EnableAutoSave(true)

	if err := replay(s.enforcer, ev); err != nil {
		return err
	}
	s.cache.purge()

	logger.Infow("Applied policy update from peer",
		"component", component,
		"type", ev.Type().String(),
		"mode", "full",
	)
	return nil
}

// replay applies ev to the in-memory policy of e. Rules the peer already
// holds, or no longer holds, are skipped rather than failing the batch.
func replay(e *casbin.Enforcer, ev event.Event) error {
	var err error
	switch ev := ev.(type) {
	case event.AddPolicy:
		err = addRules(e, ev.PType, [][]string{ev.Rule})
	case event.AddPolicies:
		err = addRules(e, ev.PType, ev.Rules)
	case event.RemovePolicy:
		err = removeRules(e, ev.PType, [][]string{ev.Rule})
	case event.RemovePolicies:
		err = removeRules(e, ev.PType, ev.Rules)
	case event.RemoveFilteredPolicy:
		if err = checkPType(e, ev.PType); err == nil {
			if SectionOf(ev.PType) == SectionGrouping {
				_, err = e.RemoveFilteredNamedGroupingPolicy(ev.PType, ev.FieldIndex, ev.FieldValues...)
			} else {
				_, err = e.RemoveFilteredNamedPolicy(ev.PType, ev.FieldIndex, ev.FieldValues...)
			}
		}
	case event.SavePolicy:
		err = restore(e, ev.Rules)
	case event.ClearPolicy:
		e.ClearPolicy()
	case event.ClearCache:
	}
	if err != nil {
		return errors.ErrInternal.WithMessagef("failed to apply %s from peer", ev.Type().Tag()).WithCause(err)
	}
	return nil
}

func checkPType(e *casbin.Enforcer, ptype string) error {
	if _, ok := e.GetModel()[SectionOf(ptype)][ptype]; !ok {
		return errors.ErrInvalidParam.WithMessagef("unknown policy type %q", ptype)
	}
	return nil
}

func addRules(e *casbin.Enforcer, ptype string, rules [][]string) error {
	if err := checkPType(e, ptype); err != nil {
		return err
	}
	var err error
	if SectionOf(ptype) == SectionGrouping {
		_, err = e.AddNamedGroupingPoliciesEx(ptype, rules)
	} else {
		_, err = e.AddNamedPoliciesEx(ptype, rules)
	}
	return err
}

func removeRules(e *casbin.Enforcer, ptype string, rules [][]string) error {
	if err := checkPType(e, ptype); err != nil {
		return err
	}
	for _, rule := range rules {
		var err error
		if SectionOf(ptype) == SectionGrouping {
			_, err = e.RemoveNamedGroupingPolicy(ptype, rule)
		} else {
			_, err = e.RemoveNamedPolicy(ptype, rule)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// restore replaces the in-memory policy with a SavePolicy snapshot whose
// rows start with their ptype.
func restore(e *casbin.Enforcer, rows [][]string) error {
	byPType := make(map[string][][]string)
	var order []string
	for _, row := range rows {
		if len(row) < 2 {
			return errors.ErrInvalidParam.WithMessage("snapshot row must hold a ptype and at least one field")
		}
		ptype := row[0]
		if err := checkPType(e, ptype); err != nil {
			return err
		}
		if _, ok := byPType[ptype]; !ok {
			order = append(order, ptype)
		}
		byPType[ptype] = append(byPType[ptype], row[1:])
	}

	e.ClearPolicy()
	for _, ptype := range order {
		if err := addRules(e, ptype, byPType[ptype]); err != nil {
			return err
		}
	}
	return nil
}

// PeerHandler adapts ApplyPeerPayload to a watcher callback, logging
// failures.
func (s *Service) PeerHandler() watcher.Callback {
	return func(payload string) {
		if err := s.ApplyPeerPayload(payload); err != nil {
			logger.Errorw("Failed to apply policy update from peer",
				"component", component,
				"payload", payload,
				"error", err.Error(),
			)
		}
	}
}
