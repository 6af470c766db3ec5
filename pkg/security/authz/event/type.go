package event

// Type discriminates the event variants.
type Type int

const (
	TypeAddPolicy Type = iota + 1
	TypeAddPolicies
	TypeRemovePolicy
	TypeRemovePolicies
	TypeRemoveFilteredPolicy
	TypeSavePolicy
	TypeClearPolicy
	TypeClearCache
)

type typeInfo struct {
	name string
	tag  string
}

// typeInfos is indexed by Type. Keep in declaration order.
var typeInfos = [...]typeInfo{
	TypeAddPolicy:            {"AddPolicy", "add_policy"},
	TypeAddPolicies:          {"AddPolicies", "add_policies"},
	TypeRemovePolicy:         {"RemovePolicy", "remove_policy"},
	TypeRemovePolicies:       {"RemovePolicies", "remove_policies"},
	TypeRemoveFilteredPolicy: {"RemoveFilteredPolicy", "remove_filtered_policy"},
	TypeSavePolicy:           {"SavePolicy", "save_policy"},
	TypeClearPolicy:          {"ClearPolicy", "clear_policy"},
	TypeClearCache:           {"ClearCache", "clear_cache"},
}

// Valid reports whether t names one of the eight variants.
func (t Type) Valid() bool {
	return t >= TypeAddPolicy && t <= TypeClearCache
}

// String returns the CamelCase variant name, e.g. "AddPolicy".
func (t Type) String() string {
	if !t.Valid() {
		return "Unknown"
	}
	return typeInfos[t].name
}

// Tag returns the snake_case tag, e.g. "add_policy".
func (t Type) Tag() string {
	if !t.Valid() {
		return "unknown"
	}
	return typeInfos[t].tag
}

// ParseType resolves either a variant name or a tag.
func ParseType(s string) (Type, bool) {
	for _, t := range Types() {
		if typeInfos[t].name == s || typeInfos[t].tag == s {
			return t, true
		}
	}
	return 0, false
}

// Types returns every variant in declaration order.
func Types() []Type {
	return []Type{
		TypeAddPolicy,
		TypeAddPolicies,
		TypeRemovePolicy,
		TypeRemovePolicies,
		TypeRemoveFilteredPolicy,
		TypeSavePolicy,
		TypeClearPolicy,
		TypeClearCache,
	}
}
