package redis

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// loggingAdapter routes go-redis internal logs to the unified logger.
type loggingAdapter struct{}

// Printf implements the go-redis internal logging interface.
func (l *loggingAdapter) Printf(ctx context.Context, format string, v ...interface{}) {
	logger.Global().WithCtx(ctx).Warnw(fmt.Sprintf(format, v...), "component", "redis")
}

func init() {
	goredis.SetLogger(&loggingAdapter{})
}
