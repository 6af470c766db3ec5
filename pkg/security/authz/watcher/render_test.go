package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/policy-watcher/pkg/security/authz/event"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

func TestFullRendererOutput(t *testing.T) {
	tests := []struct {
		ev   event.Event
		want string
	}{
		{
			event.NewAddPolicy("p", "p", "alice", "data1", "read"),
			`{"type":"add_policy","sec":"p","ptype":"p","rule":["alice","data1","read"]}`,
		},
		{
			event.NewRemovePolicies("g", "g", [][]string{{"alice", "admin"}}),
			`{"type":"remove_policies","sec":"g","ptype":"g","rules":[["alice","admin"]]}`,
		},
		{
			event.NewRemoveFilteredPolicy("p", "p", 0, "alice"),
			`{"type":"remove_filtered_policy","sec":"p","ptype":"p","field_index":0,"field_values":["alice"]}`,
		},
		{
			event.NewSavePolicy([][]string{{"p", "bob", "data2", "write"}}),
			`{"type":"save_policy","rules":[["p","bob","data2","write"]]}`,
		},
		{event.ClearPolicy{}, `{"type":"clear_policy"}`},
		{event.ClearCache{}, `{"type":"clear_cache"}`},
	}

	r := FullRenderer{}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Render(tt.ev))
	}
}

func TestTagRendererOutput(t *testing.T) {
	r := TagRenderer{}
	assert.Equal(t, "policy_updated:add_policy", r.Render(event.NewAddPolicy("p", "p", "alice")))
	assert.Equal(t, "policy_updated:add_policies", r.Render(event.NewAddPolicies("p", "p", nil)))

	seen := make(map[string]bool)
	for _, ev := range sampleEvents() {
		payload := r.Render(ev)
		assert.False(t, seen[payload], "tag %s reused", payload)
		seen[payload] = true

		typ, ok := ParseTag(payload)
		assert.True(t, ok)
		assert.Equal(t, ev.Type(), typ)
	}

	_, ok := ParseTag("something_else")
	assert.False(t, ok)
}

func TestParseFullRoundTrip(t *testing.T) {
	r := FullRenderer{}
	for _, ev := range sampleEvents() {
		decoded, err := ParseFull(r.Render(ev))
		require.NoError(t, err)
		assert.True(t, event.Equal(ev, decoded), "%s != %s", ev, decoded)
	}
}

func TestParseFullRejectsGarbage(t *testing.T) {
	_, err := ParseFull("not json")
	assert.ErrorIs(t, err, errors.ErrInvalidParam)

	_, err = ParseFull(`{"type":"grant_role"}`)
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}

func TestRendererByName(t *testing.T) {
	full, err := RendererByName("full")
	require.NoError(t, err)
	assert.Equal(t, RendererFull, full.Name())

	def, err := RendererByName("")
	require.NoError(t, err)
	assert.Equal(t, RendererFull, def.Name())

	tag, err := RendererByName("tag")
	require.NoError(t, err)
	assert.Equal(t, RendererTag, tag.Name())

	_, err = RendererByName("xml")
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}
