package watchd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watcheropts "github.com/kart-io/policy-watcher/pkg/options/watcher"
)

func TestDefaultOptionsAreValid(t *testing.T) {
	opts := NewOptions()
	require.NoError(t, opts.Complete())
	assert.NoError(t, opts.Validate())
}

func TestFlagSections(t *testing.T) {
	fss := NewOptions().Flags()
	assert.Equal(t, []string{"http", "log", "watcher", "database", "redis", "etcd", "pool", "tracing"}, fss.Order)

	fs := fss.FlagSet("watcher")
	assert.NotNil(t, fs.Lookup("watcher.kind"))
	assert.NotNil(t, fs.Lookup("watcher.renderer"))
}

func TestValidateAggregatesErrors(t *testing.T) {
	opts := NewOptions()
	opts.HTTP.Addr = ""
	opts.Watcher.Renderer = "xml"
	opts.Pool.CallbackCapacity = 0

	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.addr")
	assert.Contains(t, err.Error(), "watcher.renderer")
	assert.Contains(t, err.Error(), "pool.callback-capacity")
}

func TestTransportOptionsValidatedOnlyWhenSelected(t *testing.T) {
	opts := NewOptions()
	opts.Etcd.Endpoints = nil
	assert.NoError(t, opts.Validate())

	opts.Watcher.Kind = watcheropts.KindEtcd
	assert.Error(t, opts.Validate())
}

func TestTracingValidatedOnlyWhenEnabled(t *testing.T) {
	opts := NewOptions()
	opts.Tracing.Exporter = "zipkin"
	assert.NoError(t, opts.Validate())

	opts.Tracing.Enabled = true
	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracing.exporter")
}
