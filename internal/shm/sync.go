package shm

import (
	"math"
	"sync/atomic"
	"time"
)

// Mutex word states.
const (
	unlocked  = uint32(0)
	locked    = uint32(1) // held, no waiters
	contended = uint32(2) // held, waiters may be sleeping
)

// mutexLock acquires the futex mutex at word. A waiter always marks the
// word contended before sleeping so the holder knows to wake it.
func mutexLock(word *uint32) {
	if atomic.CompareAndSwapUint32(word, unlocked, locked) {
		return
	}
	for atomic.SwapUint32(word, contended) != unlocked {
		_ = futexWait(word, contended, 0)
	}
}

// mutexUnlock releases the futex mutex at word.
func mutexUnlock(word *uint32) {
	if atomic.SwapUint32(word, unlocked) == contended {
		_, _ = futexWake(word, 1)
	}
}

// condWait atomically releases the mutex, sleeps on the condition sequence
// and re-acquires the mutex before returning. The sequence is sampled while
// the mutex is held, so a signal issued between the unlock and the sleep
// changes the word and the futex returns at once.
func condWait(seq, mu *uint32, timeout time.Duration) error {
	val := atomic.LoadUint32(seq)
	mutexUnlock(mu)
	err := futexWait(seq, val, timeout)
	mutexLock(mu)
	return err
}

// condSignal wakes one waiter.
func condSignal(seq *uint32) {
	atomic.AddUint32(seq, 1)
	_, _ = futexWake(seq, 1)
}

// condBroadcast wakes every waiter.
func condBroadcast(seq *uint32) {
	atomic.AddUint32(seq, 1)
	_, _ = futexWake(seq, math.MaxInt32)
}
