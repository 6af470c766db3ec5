// Package pool provides the goroutine pools used to dispatch watcher
// callbacks off transport goroutines.
package pool

import "errors"

var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("pool closed")

	// ErrPoolNotFound 池不存在
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolOverload 池已满
	ErrPoolOverload = errors.New("pool overload")
)
