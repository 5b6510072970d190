package helpers

import (
	"sync"
	"time"
)

// Future is one-shot result slot. First Complete or Cancel wins, later calls are ignored.
// Idea from github.com/256dpi/gomqtt client/future.
type Future struct {
	mu        sync.Mutex
	ch        chan struct{}
	result    interface{}
	completed bool
	done      bool
}

func NewFuture() *Future {
	return &Future{ch: make(chan struct{})}
}

func (f *Future) resolve(result interface{}, completed bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return false
	}
	f.result, f.completed, f.done = result, completed, true
	close(f.ch)
	return true
}

func (f *Future) Complete(result interface{}) bool { return f.resolve(result, true) }
func (f *Future) Cancel(result interface{}) bool   { return f.resolve(result, false) }

// Ready is closed after Complete or Cancel.
func (f *Future) Ready() <-chan struct{} { return f.ch }

func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *Future) Result() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Wait blocks until Complete, Cancel or timeout.
// ok=true only for Complete.
func (f *Future) Wait(timeout time.Duration) (result interface{}, ok bool) {
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case <-f.ch:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.completed
	case <-tmr.C:
		return nil, false
	}
}
