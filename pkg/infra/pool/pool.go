package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Type defines the type of worker pool.
type Type string

const (
	// DefaultPool 默认通用池
	DefaultPool Type = "default"
	// CallbackPool 回调执行池，用于分发来自对端的策略更新
	CallbackPool Type = "callback"
)

// Config defines the configuration for the worker pool.
type Config struct {
	// Capacity 池容量（最大并发 goroutine 数）
	Capacity int `json:"capacity" mapstructure:"capacity"`
	// ExpiryDuration goroutine 空闲过期时间
	ExpiryDuration time.Duration `json:"expiry-duration" mapstructure:"expiry-duration"`
	// Nonblocking 提交任务是否非阻塞（若池满则返回错误）
	Nonblocking bool `json:"nonblocking" mapstructure:"nonblocking"`
	// MaxBlockingTasks 当 Nonblocking=false 时，最大等待任务数（0 表示无限制）
	MaxBlockingTasks int `json:"max-blocking-tasks" mapstructure:"max-blocking-tasks"`
	// PanicHandler 恐慌处理函数
	PanicHandler func(interface{}) `json:"-" mapstructure:"-"`
}

// DefaultPoolConfig 返回默认池配置
func DefaultPoolConfig() *Config {
	return &Config{
		Capacity:       1000,
		ExpiryDuration: 10 * time.Second,
	}
}

// CallbackPoolConfig 返回回调执行池配置
func CallbackPoolConfig() *Config {
	return &Config{
		Capacity:         200,
		ExpiryDuration:   5 * time.Second,
		MaxBlockingTasks: 1000,
	}
}

// Pool represents a worker pool.
type Pool struct {
	name     string
	pool     *ants.Pool
	stats    poolStatsCounter
	closed   atomic.Bool
	closedMu sync.Mutex
}

type poolStatsCounter struct {
	SubmittedTasks atomic.Int64
	CompletedTasks atomic.Int64
	RejectedTasks  atomic.Int64
	PanicRecovered atomic.Int64
}

// Stats contains statistics about the worker pool.
type Stats struct {
	SubmittedTasks int64 // 已提交任务数
	CompletedTasks int64 // 已完成任务数
	RejectedTasks  int64 // 拒绝任务数
	PanicRecovered int64 // 恢复的 panic 数
}

// NewPool creates a new worker pool with the given configuration.
func NewPool(name string, config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultPoolConfig()
	}

	p := &Pool{name: name}

	panicHandler := config.PanicHandler
	if panicHandler == nil {
		panicHandler = func(r interface{}) {
			logger.Errorw("Worker panic recovered",
				"pool", name,
				"panic", r,
			)
		}
	}

	pool, err := ants.NewPool(config.Capacity,
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithPanicHandler(func(r interface{}) {
			p.stats.PanicRecovered.Add(1)
			panicHandler(r)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create ants pool %s: %w", name, err)
	}
	p.pool = pool

	logger.Infow("Worker pool created",
		"name", name,
		"capacity", config.Capacity,
	)

	return p, nil
}

// Name 返回池名称
func (p *Pool) Name() string {
	return p.name
}

// Cap 返回池容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running 返回正在运行的 goroutine 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Submit 提交任务到池中执行
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.stats.SubmittedTasks.Add(1)
	err := p.pool.Submit(func() {
		task()
		p.stats.CompletedTasks.Add(1)
	})
	if err != nil {
		p.stats.RejectedTasks.Add(1)
		if errors.Is(err, ants.ErrPoolOverload) {
			return ErrPoolOverload
		}
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// Release 关闭池并释放资源
func (p *Pool) Release() {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return
	}

	p.closed.Store(true)
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout 带超时关闭池，等待任务完成直到超时
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return nil
	}

	p.closed.Store(true)
	return p.pool.ReleaseTimeout(timeout)
}

// Stats 返回池统计信息快照
func (p *Pool) Stats() Stats {
	return Stats{
		SubmittedTasks: p.stats.SubmittedTasks.Load(),
		CompletedTasks: p.stats.CompletedTasks.Load(),
		RejectedTasks:  p.stats.RejectedTasks.Load(),
		PanicRecovered: p.stats.PanicRecovered.Load(),
	}
}
