package pool

import (
	"sync"

	"github.com/kart-io/logger"
)

// Serial 在指定类型的全局池上按提交顺序逐个执行任务。
// 同一时刻最多只有一个任务在运行；队列为空时不占用协程。
// 全局池不可用时退化为独立协程，顺序保证不变。
type Serial struct {
	typ Type

	mu      sync.Mutex
	tasks   []func()
	running bool
	closed  bool
}

// NewSerial 创建绑定到 typ 池的串行执行器
func NewSerial(typ Type) *Serial {
	return &Serial{typ: typ}
}

// Submit 将任务追加到队尾。执行器关闭后返回 ErrPoolClosed。
func (s *Serial) Submit(task func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrPoolClosed
	}
	s.tasks = append(s.tasks, task)
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := SubmitToType(s.typ, s.drain); err != nil {
		logger.Debugw("Serial executor falling back to goroutine",
			"pool", string(s.typ),
			"error", err.Error(),
		)
		go s.drain()
	}
	return nil
}

// Pending 返回尚未开始执行的任务数
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close 丢弃排队中的任务，正在执行的任务不受影响
func (s *Serial) Close() {
	s.mu.Lock()
	s.closed = true
	s.tasks = nil
	s.mu.Unlock()
}

func (s *Serial) drain() {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		task := s.tasks[0]
		s.tasks[0] = nil
		s.tasks = s.tasks[1:]
		s.mu.Unlock()

		s.run(task)
	}
}

// run 隔离单个任务的 panic，保证后续任务继续执行
func (s *Serial) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Recovered from panic in serial task",
				"pool", string(s.typ),
				"panic", r,
			)
		}
	}()
	task()
}
