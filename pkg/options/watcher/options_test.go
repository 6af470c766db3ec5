package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		errs   int
	}{
		{"defaults", func(*Options) {}, 0},
		{"redis", func(o *Options) { o.Kind = KindRedis }, 0},
		{"unknown kind", func(o *Options) { o.Kind = "kafka" }, 1},
		{"unknown renderer", func(o *Options) { o.Renderer = "xml" }, 1},
		{"redis without channel", func(o *Options) { o.Kind, o.Channel = KindRedis, "" }, 1},
		{"etcd without key", func(o *Options) { o.Kind, o.Key = KindEtcd, "" }, 1},
		{"zero timeout", func(o *Options) { o.Timeout = 0 }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			assert.Len(t, o.Validate(), tt.errs)
		})
	}
}
