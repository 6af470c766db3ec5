// Package watchd provides the policy-watcher daemon: a policy engine whose
// changes are announced through a configurable watcher and which is served
// over HTTP.
package watchd

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	"github.com/spf13/viper"

	"github.com/kart-io/policy-watcher/pkg/infra/app"
	"github.com/kart-io/policy-watcher/pkg/infra/config"
	"github.com/kart-io/policy-watcher/pkg/infra/pool"
)

const (
	appName        = "policy-watcher"
	appDescription = `Policy Watcher

Serves a casbin policy engine and announces every policy change through a
watcher so that other instances and observers can follow it.

Watchers:
  - local: in-process callback only
  - redis: Redis pub/sub between instances
  - etcd:  an etcd key watched by every instance`

	component = "watchd"
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	var a *app.App
	a = app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("Policy engine with change notification"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts, a.Viper())
		}),
	)
	return a
}

// Run runs the daemon with the given options until it receives a
// termination signal. When v has read a config file, changes to the log
// level in that file are applied without a restart; v may be nil.
func Run(opts *Options, v *viper.Viper) error {
	fmt.Printf("Starting %s...\n", appName)

	// 1. 初始化日志
	opts.Log.AddInitialField("service.name", appName)
	opts.Log.AddInitialField("service.version", app.GetVersion())
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting policy-watcher service...")

	// 2. 初始化协程池
	if err := pool.InitGlobalWithConfig(poolConfig(opts)); err != nil {
		return fmt.Errorf("failed to initialize pools: %w", err)
	}

	// 3. 初始化策略引擎与 watcher
	ctx := context.Background()
	srv, err := NewServer(ctx, opts)
	if err != nil {
		pool.ReleaseGlobal()
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	// 4. 监听配置变更
	if v != nil {
		cw := config.NewWatcher(v)
		cw.Subscribe("log.level", config.LogLevelHandler("log.level"))
		cw.Start()
	}

	// 5. 启动服务器
	logger.Info("Policy-watcher service is ready")
	return srv.Run()
}

func poolConfig(opts *Options) *pool.GlobalConfig {
	cfg := pool.DefaultGlobalConfig()
	cfg.DefaultPool.Capacity = opts.Pool.DefaultCapacity
	cfg.DefaultPool.ExpiryDuration = opts.Pool.ExpiryDuration
	cfg.CallbackPool.Capacity = opts.Pool.CallbackCapacity
	if opts.Pool.ExpiryDuration > 0 && opts.Pool.ExpiryDuration < cfg.CallbackPool.ExpiryDuration {
		cfg.CallbackPool.ExpiryDuration = opts.Pool.ExpiryDuration
	}
	return cfg
}
