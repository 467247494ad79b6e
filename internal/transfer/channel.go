package transfer

import (
	"context"
	"time"
)

// Channel is the cross-process handoff capability the producer and
// consumer loops run on. *shm.Transport implements it over a mapped
// segment.
//
// Every method except Lock, Unlock and Wait must be called with the lock
// held. Wait is entered and left with the lock held.
type Channel interface {
	Lock()
	Unlock()
	Wait(ctx context.Context, slot int, cond func() bool) error
	Signal(slot int)
	Broadcast()

	Slots() int
	ChunkCapacity() int

	SlotReady(slot int) bool
	SetSlotReady(slot int, ready bool)
	SlotLength(slot int) int
	SetSlotLength(slot int, n int)
	SlotSequence(slot int) uint32
	SetSlotSequence(slot int, seq uint32)
	SlotBuffer(slot int) []byte

	Finished() bool
	SetFinished()
}

// Observer receives per-chunk measurements. *monitoring.Metrics
// implements it.
type Observer interface {
	ObserveChunk(role string, n int)
	ObserveWait(role string, d time.Duration)
	ObserveStreamError(role, direction string)
}

type nopObserver struct{}

func (nopObserver) ObserveChunk(string, int)          {}
func (nopObserver) ObserveWait(string, time.Duration) {}
func (nopObserver) ObserveStreamError(string, string) {}
