package pool

import (
	"sync"

	"github.com/kart-io/logger"
)

// 全局池注册表
var (
	globalMu    sync.RWMutex
	globalPools = make(map[Type]*Pool)
)

// GlobalConfig 全局池配置
type GlobalConfig struct {
	DefaultPool  *Config `json:"default" mapstructure:"default"`
	CallbackPool *Config `json:"callback" mapstructure:"callback"`
}

// DefaultGlobalConfig 返回默认全局配置
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		DefaultPool:  DefaultPoolConfig(),
		CallbackPool: CallbackPoolConfig(),
	}
}

// InitGlobal 使用默认配置初始化全局池
func InitGlobal() error {
	return InitGlobalWithConfig(nil)
}

// InitGlobalWithConfig 初始化全局池，已存在的池保持不变
func InitGlobalWithConfig(config *GlobalConfig) error {
	if config == nil {
		config = DefaultGlobalConfig()
	}

	globalMu.Lock()
	defer globalMu.Unlock()

	for typ, cfg := range map[Type]*Config{
		DefaultPool:  config.DefaultPool,
		CallbackPool: config.CallbackPool,
	} {
		if cfg == nil {
			continue
		}
		if _, ok := globalPools[typ]; ok {
			continue
		}
		p, err := NewPool(string(typ), cfg)
		if err != nil {
			releaseLocked()
			return err
		}
		globalPools[typ] = p
	}

	return nil
}

// Get 获取指定类型的全局池
func Get(typ Type) (*Pool, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()

	p, ok := globalPools[typ]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return p, nil
}

// SubmitToType 提交任务到指定类型的全局池
func SubmitToType(typ Type, task func()) error {
	p, err := Get(typ)
	if err != nil {
		return err
	}
	return p.Submit(task)
}

// ReleaseGlobal 释放所有全局池
func ReleaseGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	releaseLocked()
}

func releaseLocked() {
	for typ, p := range globalPools {
		p.Release()
		delete(globalPools, typ)
	}
	logger.Infow("Global worker pools released")
}
