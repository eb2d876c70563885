package goplus

import (
	"sync"
	"sync/atomic"
)

var (
	defaultGroup     *WaitGroup
	defaultGroupOnce sync.Once
)

func DefaultGroup() *WaitGroup {
	defaultGroupOnce.Do(func() {
		defaultGroup = NewWaitGroup()
	})
	return defaultGroup
}

// Go 在默认分组中启动 goroutine，panic 会被捕获并记录
func Go(fn func()) {
	DefaultGroup().Go(fn)
}

func Wait() {
	DefaultGroup().Wait()
}

// WaitGroup 带计数的 sync.WaitGroup，goroutine 内的 panic 不会导致进程退出
type WaitGroup struct {
	wg    sync.WaitGroup
	count atomic.Int64
}

func NewWaitGroup() *WaitGroup {
	return &WaitGroup{}
}

func (s *WaitGroup) Go(fn func()) {
	s.count.Add(1)
	s.wg.Add(1)

	go func() {
		defer s.done()
		defer Recover()

		fn()
	}()
}

func (s *WaitGroup) done() {
	s.count.Add(-1)
	s.wg.Done()
}

// Count 仍在运行的 goroutine 数
func (s *WaitGroup) Count() int64 {
	return s.count.Load()
}

func (s *WaitGroup) Wait() {
	s.wg.Wait()
}
