package event

import (
	"fmt"
	"slices"
	"strings"
)

// Event is the immutable description of one policy mutation.
type Event interface {
	// Type returns the variant discriminator.
	Type() Type

	// String renders the event deterministically.
	String() string

	isEvent()
}

// AddPolicy describes a single rule inserted into sec/ptype.
type AddPolicy struct {
	Sec   string
	PType string
	Rule  []string
}

// AddPolicies describes a batch insert.
type AddPolicies struct {
	Sec   string
	PType string
	Rules [][]string
}

// RemovePolicy describes a single rule deleted from sec/ptype.
type RemovePolicy struct {
	Sec   string
	PType string
	Rule  []string
}

// RemovePolicies describes a batch delete.
type RemovePolicies struct {
	Sec   string
	PType string
	Rules [][]string
}

// RemoveFilteredPolicy describes a deletion by filter: every rule whose
// fields starting at FieldIndex match FieldValues (empty values match any).
type RemoveFilteredPolicy struct {
	Sec         string
	PType       string
	FieldIndex  int
	FieldValues []string
}

// SavePolicy describes the full policy set being persisted. Each rule starts
// with its ptype, e.g. ["p", "alice", "data1", "read"].
type SavePolicy struct {
	Rules [][]string
}

// ClearPolicy describes every rule being removed.
type ClearPolicy struct{}

// ClearCache describes a decision cache invalidation with no rule change.
type ClearCache struct{}

// NewAddPolicy builds an AddPolicy event.
func NewAddPolicy(sec, ptype string, rule ...string) AddPolicy {
	return AddPolicy{Sec: sec, PType: ptype, Rule: copyRule(rule)}
}

// NewAddPolicies builds an AddPolicies event.
func NewAddPolicies(sec, ptype string, rules [][]string) AddPolicies {
	return AddPolicies{Sec: sec, PType: ptype, Rules: copyRules(rules)}
}

// NewRemovePolicy builds a RemovePolicy event.
func NewRemovePolicy(sec, ptype string, rule ...string) RemovePolicy {
	return RemovePolicy{Sec: sec, PType: ptype, Rule: copyRule(rule)}
}

// NewRemovePolicies builds a RemovePolicies event.
func NewRemovePolicies(sec, ptype string, rules [][]string) RemovePolicies {
	return RemovePolicies{Sec: sec, PType: ptype, Rules: copyRules(rules)}
}

// NewRemoveFilteredPolicy builds a RemoveFilteredPolicy event.
func NewRemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) RemoveFilteredPolicy {
	return RemoveFilteredPolicy{
		Sec:         sec,
		PType:       ptype,
		FieldIndex:  fieldIndex,
		FieldValues: copyRule(fieldValues),
	}
}

// NewSavePolicy builds a SavePolicy event.
func NewSavePolicy(rules [][]string) SavePolicy {
	return SavePolicy{Rules: copyRules(rules)}
}

func (AddPolicy) Type() Type            { return TypeAddPolicy }
func (AddPolicies) Type() Type          { return TypeAddPolicies }
func (RemovePolicy) Type() Type         { return TypeRemovePolicy }
func (RemovePolicies) Type() Type       { return TypeRemovePolicies }
func (RemoveFilteredPolicy) Type() Type { return TypeRemoveFilteredPolicy }
func (SavePolicy) Type() Type           { return TypeSavePolicy }
func (ClearPolicy) Type() Type          { return TypeClearPolicy }
func (ClearCache) Type() Type           { return TypeClearCache }

func (AddPolicy) isEvent()            {}
func (AddPolicies) isEvent()          {}
func (RemovePolicy) isEvent()         {}
func (RemovePolicies) isEvent()       {}
func (RemoveFilteredPolicy) isEvent() {}
func (SavePolicy) isEvent()           {}
func (ClearPolicy) isEvent()          {}
func (ClearCache) isEvent()           {}

func (e AddPolicy) String() string {
	return fmt.Sprintf("Type: AddPolicy, Assertion: %s::%s, Data: %s", e.Sec, e.PType, formatRule(e.Rule))
}

func (e AddPolicies) String() string {
	return fmt.Sprintf("Type: AddPolicies, Assertion: %s::%s, Added: %d, Data: %s",
		e.Sec, e.PType, len(e.Rules), formatRules(e.Rules))
}

func (e RemovePolicy) String() string {
	return fmt.Sprintf("Type: RemovePolicy, Assertion: %s::%s, Data: %s", e.Sec, e.PType, formatRule(e.Rule))
}

func (e RemovePolicies) String() string {
	return fmt.Sprintf("Type: RemovePolicies, Assertion: %s::%s, Removed: %d, Data: %s",
		e.Sec, e.PType, len(e.Rules), formatRules(e.Rules))
}

func (e RemoveFilteredPolicy) String() string {
	return fmt.Sprintf("Type: RemoveFilteredPolicy, Assertion: %s::%s, FieldIndex: %d, FieldValues: %s",
		e.Sec, e.PType, e.FieldIndex, formatRule(e.FieldValues))
}

func (e SavePolicy) String() string {
	return fmt.Sprintf("Type: SavePolicy, Saved: %d, Data: %s", len(e.Rules), formatRules(e.Rules))
}

func (ClearPolicy) String() string { return "Type: ClearPolicy" }

func (ClearCache) String() string { return "Type: ClearCache" }

// Equal reports whether a and b are the same variant with the same payload.
// A nil and an empty slice compare equal.
func Equal(a, b Event) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}

	switch x := a.(type) {
	case AddPolicy:
		y := b.(AddPolicy)
		return x.Sec == y.Sec && x.PType == y.PType && slices.Equal(x.Rule, y.Rule)
	case AddPolicies:
		y := b.(AddPolicies)
		return x.Sec == y.Sec && x.PType == y.PType && equalRules(x.Rules, y.Rules)
	case RemovePolicy:
		y := b.(RemovePolicy)
		return x.Sec == y.Sec && x.PType == y.PType && slices.Equal(x.Rule, y.Rule)
	case RemovePolicies:
		y := b.(RemovePolicies)
		return x.Sec == y.Sec && x.PType == y.PType && equalRules(x.Rules, y.Rules)
	case RemoveFilteredPolicy:
		y := b.(RemoveFilteredPolicy)
		return x.Sec == y.Sec && x.PType == y.PType && x.FieldIndex == y.FieldIndex &&
			slices.Equal(x.FieldValues, y.FieldValues)
	case SavePolicy:
		return equalRules(x.Rules, b.(SavePolicy).Rules)
	case ClearPolicy, ClearCache:
		return true
	default:
		return false
	}
}

func equalRules(a, b [][]string) bool {
	return slices.EqualFunc(a, b, func(x, y []string) bool { return slices.Equal(x, y) })
}

func copyRule(rule []string) []string {
	out := make([]string, len(rule))
	copy(out, rule)
	return out
}

func copyRules(rules [][]string) [][]string {
	out := make([][]string, len(rules))
	for i, r := range rules {
		out[i] = copyRule(r)
	}
	return out
}

func formatRule(rule []string) string {
	return "[" + strings.Join(rule, ", ") + "]"
}

func formatRules(rules [][]string) string {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = formatRule(r)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
