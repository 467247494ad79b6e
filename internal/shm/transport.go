package shm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// cancelPoll bounds a single futex sleep when the caller's context can be
// cancelled, so cancellation is noticed without a waker.
const cancelPoll = 50 * time.Millisecond

// Transport is an attached view of the transport structure. Every method
// except Lock, Unlock and the waits must be called with the lock held.
type Transport struct {
	seg         *Segment
	layout      Layout
	role        Role
	peerTimeout time.Duration
}

func newTransport(seg *Segment, layout Layout, role Role, peerTimeout time.Duration) *Transport {
	return &Transport{
		seg:         seg,
		layout:      layout,
		role:        role,
		peerTimeout: peerTimeout,
	}
}

// Role returns the role this transport was attached with.
func (t *Transport) Role() Role {
	return t.role
}

// Layout returns the slot layout in use.
func (t *Transport) Layout() Layout {
	return t.layout
}

// TransferID returns the identifier the producer stored in the header.
func (t *Transport) TransferID() [16]byte {
	return t.seg.hdr().transferID
}

// Slots returns the pipeline depth N.
func (t *Transport) Slots() int {
	return t.layout.Slots
}

// ChunkCapacity returns the slot capacity C in bytes.
func (t *Transport) ChunkCapacity() int {
	return t.layout.ChunkCapacity
}

// Lock acquires the cross-process lock.
func (t *Transport) Lock() {
	mutexLock(&t.seg.hdr().lock)
}

// Unlock releases the cross-process lock.
func (t *Transport) Unlock() {
	mutexUnlock(&t.seg.hdr().lock)
}

// Wait blocks on the slot's condition variable until cond returns true.
// It must be called with the lock held and returns with the lock held,
// also on error. cond is evaluated under the lock on every wake, so
// spurious wakeups are harmless.
//
// Wait returns ctx.Err() on cancellation and ErrPeerTimeout when a peer
// timeout is configured and expires.
func (t *Transport) Wait(ctx context.Context, slot int, cond func() bool) error {
	var deadline time.Time
	if t.peerTimeout > 0 {
		deadline = time.Now().Add(t.peerTimeout)
	}
	seq := &t.slot(slot).cond
	mu := &t.seg.hdr().lock

	for !cond() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var timeout time.Duration
		if ctx.Done() != nil {
			timeout = cancelPoll
		}
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrPeerTimeout
			}
			if timeout == 0 || remaining < timeout {
				timeout = remaining
			}
		}

		if err := condWait(seq, mu, timeout); err != nil && !errors.Is(err, errFutexTimeout) {
			return err
		}
	}
	return nil
}

// Signal wakes one waiter on the slot's condition variable.
func (t *Transport) Signal(slot int) {
	condSignal(&t.slot(slot).cond)
}

// Broadcast wakes every waiter on every slot.
func (t *Transport) Broadcast() {
	for i := 0; i < t.layout.Slots; i++ {
		condBroadcast(&t.slot(i).cond)
	}
}

// SlotReady reports whether slot holds unread bytes.
func (t *Transport) SlotReady(slot int) bool {
	return atomic.LoadUint32(&t.slot(slot).ready) != 0
}

// SetSlotReady marks slot full or drained.
func (t *Transport) SetSlotReady(slot int, ready bool) {
	var v uint32
	if ready {
		v = 1
	}
	atomic.StoreUint32(&t.slot(slot).ready, v)
}

// SlotLength returns the number of valid bytes in slot.
func (t *Transport) SlotLength(slot int) int {
	return int(atomic.LoadUint32(&t.slot(slot).length))
}

// SetSlotLength records the number of valid bytes in slot.
func (t *Transport) SetSlotLength(slot int, n int) {
	atomic.StoreUint32(&t.slot(slot).length, uint32(n))
}

// SlotSequence returns the sequence number of the chunk held in slot.
func (t *Transport) SlotSequence(slot int) uint32 {
	return atomic.LoadUint32(&t.slot(slot).seq)
}

// SetSlotSequence records the sequence number of the chunk held in slot.
func (t *Transport) SetSlotSequence(slot int, seq uint32) {
	atomic.StoreUint32(&t.slot(slot).seq, seq)
}

// SlotBuffer returns the full-capacity payload buffer of slot. The slice
// aliases shared memory and is only valid while the segment is mapped.
func (t *Transport) SlotBuffer(slot int) []byte {
	off := t.layout.bufferOffset(slot)
	return t.seg.mem[off : off+t.layout.ChunkCapacity : off+t.layout.ChunkCapacity]
}

// Finished reports whether the producer has signalled end of stream.
func (t *Transport) Finished() bool {
	return atomic.LoadUint32(&t.seg.hdr().finished) != 0
}

// SetFinished marks the stream finished. It is never cleared.
func (t *Transport) SetFinished() {
	atomic.StoreUint32(&t.seg.hdr().finished, 1)
}

func (t *Transport) slot(i int) *slotDesc {
	return t.seg.slot(t.layout, i)
}
