package watcher

import (
	"strings"

	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
	"github.com/kart-io/policy-watcher/pkg/utils/json"
)

const (
	// RendererFull selects FullRenderer.
	RendererFull = "full"
	// RendererTag selects TagRenderer.
	RendererTag = "tag"

	// TagPrefix prefixes every TagRenderer payload.
	TagPrefix = "policy_updated:"
)

// Renderer turns an event into the payload handed to callbacks. A renderer
// must be a pure function of the event.
type Renderer interface {
	Name() string
	Render(ev event.Event) string
}

// RendererByName returns the renderer registered under name.
func RendererByName(name string) (Renderer, error) {
	switch name {
	case RendererFull, "":
		return FullRenderer{}, nil
	case RendererTag:
		return TagRenderer{}, nil
	default:
		return nil, errors.ErrInvalidParam.WithMessagef("unknown watcher renderer %q", name)
	}
}

// TagRenderer renders only the variant tag, e.g. "policy_updated:clear_cache".
type TagRenderer struct{}

// Name implements Renderer.
func (TagRenderer) Name() string { return RendererTag }

// Render implements Renderer.
func (TagRenderer) Render(ev event.Event) string {
	return TagPrefix + ev.Type().Tag()
}

// ParseTag extracts the event type from a TagRenderer payload.
func ParseTag(payload string) (event.Type, bool) {
	tag, ok := strings.CutPrefix(payload, TagPrefix)
	if !ok {
		return 0, false
	}
	return event.ParseType(tag)
}

// FullRenderer renders the event and its complete payload as JSON. Rule
// values keep their order.
type FullRenderer struct{}

// fullPayload is the wire shape of FullRenderer. Field order is fixed.
type fullPayload struct {
	Type        string     `json:"type"`
	Sec         string     `json:"sec,omitempty"`
	PType       string     `json:"ptype,omitempty"`
	Rule        []string   `json:"rule,omitempty"`
	Rules       [][]string `json:"rules,omitempty"`
	FieldIndex  *int       `json:"field_index,omitempty"`
	FieldValues []string   `json:"field_values,omitempty"`
}

// Name implements Renderer.
func (FullRenderer) Name() string { return RendererFull }

// Render implements Renderer.
func (FullRenderer) Render(ev event.Event) string {
	p := fullPayload{Type: ev.Type().Tag()}

	switch e := ev.(type) {
	case event.AddPolicy:
		p.Sec, p.PType, p.Rule = e.Sec, e.PType, e.Rule
	case event.AddPolicies:
		p.Sec, p.PType, p.Rules = e.Sec, e.PType, e.Rules
	case event.RemovePolicy:
		p.Sec, p.PType, p.Rule = e.Sec, e.PType, e.Rule
	case event.RemovePolicies:
		p.Sec, p.PType, p.Rules = e.Sec, e.PType, e.Rules
	case event.RemoveFilteredPolicy:
		idx := e.FieldIndex
		p.Sec, p.PType, p.FieldIndex, p.FieldValues = e.Sec, e.PType, &idx, e.FieldValues
	case event.SavePolicy:
		p.Rules = e.Rules
	case event.ClearPolicy, event.ClearCache:
	}

	out, err := json.MarshalString(p)
	if err != nil {
		// only strings and ints are encoded, so this is unreachable in practice
		return `{"type":"` + p.Type + `"}`
	}
	return out
}

// ParseFull decodes a FullRenderer payload back into an event.
func ParseFull(payload string) (event.Event, error) {
	var p fullPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, errors.ErrInvalidParam.WithMessage("malformed watcher payload").WithCause(err)
	}

	typ, ok := event.ParseType(p.Type)
	if !ok {
		return nil, errors.ErrInvalidParam.WithMessagef("unknown event type %q", p.Type)
	}

	switch typ {
	case event.TypeAddPolicy:
		return event.NewAddPolicy(p.Sec, p.PType, p.Rule...), nil
	case event.TypeAddPolicies:
		return event.NewAddPolicies(p.Sec, p.PType, p.Rules), nil
	case event.TypeRemovePolicy:
		return event.NewRemovePolicy(p.Sec, p.PType, p.Rule...), nil
	case event.TypeRemovePolicies:
		return event.NewRemovePolicies(p.Sec, p.PType, p.Rules), nil
	case event.TypeRemoveFilteredPolicy:
		idx := 0
		if p.FieldIndex != nil {
			idx = *p.FieldIndex
		}
		return event.NewRemoveFilteredPolicy(p.Sec, p.PType, idx, p.FieldValues...), nil
	case event.TypeSavePolicy:
		return event.NewSavePolicy(p.Rules), nil
	case event.TypeClearPolicy:
		return event.ClearPolicy{}, nil
	case event.TypeClearCache:
		return event.ClearCache{}, nil
	default:
		return nil, errors.ErrInvalidParam.WithMessagef("unknown event type %q", p.Type)
	}
}
