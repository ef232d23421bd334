//go:build linux

package kms

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrImplStopped is returned by RunImplTask once the impl context has shut down.
var ErrImplStopped = errors.New("kms: impl context stopped")

type implTask struct {
	fn   func() error
	done chan error
}

// Impl is the privileged execution context of a KMS root. It owns a single
// OS-thread-locked goroutine; every piece of code that touches a mode setting
// backend or a device file descriptor runs as a task on that goroutine.
//
// Dispatch is synchronous: RunTask blocks the caller until the task has run to
// completion. Tasks are executed strictly one at a time, so callers on
// different goroutines never see interleaved hardware operations.
type Impl struct {
	tasks   chan implTask
	tid     atomic.Int64
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newImpl() *Impl {
	impl := &Impl{
		tasks:   make(chan implTask),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	ready := make(chan struct{})
	go impl.run(ready)
	<-ready

	return impl
}

func (impl *Impl) run(ready chan<- struct{}) {
	// The backend fd is tied to this thread for the lifetime of the context.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	impl.tid.Store(int64(unix.Gettid()))
	close(ready)

	defer close(impl.stopped)

	for {
		select {
		case task := <-impl.tasks:
			task.done <- task.fn()
		case <-impl.stop:
			return
		}
	}
}

// RunTask runs fn inside the impl context and blocks until it returns.
func (impl *Impl) RunTask(fn func() error) error {
	task := implTask{fn: fn, done: make(chan error, 1)}

	select {
	case impl.tasks <- task:
		return <-task.done
	case <-impl.stop:
		return ErrImplStopped
	}
}

// InImpl reports whether the calling goroutine is the impl context.
func (impl *Impl) InImpl() bool {
	return int64(unix.Gettid()) == impl.tid.Load()
}

func (impl *Impl) shutdown() {
	impl.once.Do(func() { close(impl.stop) })
	<-impl.stopped
}

// assertInImpl traps calls to impl-only entry points made from an ordinary
// caller goroutine. These are programmer errors, not runtime conditions.
func (impl *Impl) assertInImpl() {
	if !impl.InImpl() {
		panic(fmt.Sprintf("kms: called from tid %d outside the impl context", unix.Gettid()))
	}
}

// assertNotInImpl traps dispatching entry points called from inside the impl
// context, which would deadlock on the task queue.
func (impl *Impl) assertNotInImpl() {
	if impl.InImpl() {
		panic("kms: blocking dispatch called from inside the impl context")
	}
}
