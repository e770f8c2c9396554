package common

import "errors"

// ErrReentrantCall reports a state-mutating entry point invoked again while a
// previous invocation is still in flight, typically via a price or ledger
// callback.
var ErrReentrantCall = errors.New("reentrant call")

// ReentrancyLock is a non-blocking guard for serialized engines. External
// calls made mid-operation may call back into the owning component before
// returning; Enter rejects such nested mutation instead of deadlocking or
// interleaving state.
type ReentrancyLock struct {
	entered bool
}

// Enter marks the protected section as active. It fails if already entered.
func (l *ReentrancyLock) Enter() error {
	if l.entered {
		return ErrReentrantCall
	}
	l.entered = true
	return nil
}

// Exit releases the protected section.
func (l *ReentrancyLock) Exit() { l.entered = false }
