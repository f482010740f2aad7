package common

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrModulePaused = errors.New("module paused")

// ErrReentrantCall is returned when a state-mutating entry point is invoked
// again before the in-flight call has completed, typically via a callback
// triggered by an external collaborator.
var ErrReentrantCall = errors.New("reentrant call")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// CallLock blocks reentrancy on state-mutating entry points. A callback
// re-entering from within the holding call observes the entered flag before
// touching the mutex and fails with ErrReentrantCall instead of deadlocking.
// The flag cannot distinguish the holder's own callback from an independent
// caller, so a concurrent caller that reads the flag inside the holder's
// critical window is rejected the same way rather than serialised; callers
// treat ErrReentrantCall as retryable contention.
type CallLock struct {
	mu      sync.Mutex
	entered atomic.Bool
}

// Enter acquires the lock. The caller must invoke the returned release
// function exactly once, conventionally via defer.
func (l *CallLock) Enter() (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	if l.entered.Load() {
		return nil, ErrReentrantCall
	}
	l.mu.Lock()
	if !l.entered.CompareAndSwap(false, true) {
		l.mu.Unlock()
		return nil, ErrReentrantCall
	}
	return func() {
		l.entered.Store(false)
		l.mu.Unlock()
	}, nil
}
