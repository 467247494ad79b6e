package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memChannel is an in-process Channel that records protocol violations:
// field access without the lock and writes to a ready slot.
type memChannel struct {
	mu       sync.Mutex
	conds    []*sync.Cond
	locked   bool
	ready    []bool
	length   []int
	seq      []uint32
	buf      [][]byte
	finished bool

	violations []string
}

var _ Channel = (*memChannel)(nil)

func newMemChannel(slots, capacity int) *memChannel {
	c := &memChannel{
		conds:  make([]*sync.Cond, slots),
		ready:  make([]bool, slots),
		length: make([]int, slots),
		seq:    make([]uint32, slots),
		buf:    make([][]byte, slots),
	}
	for i := range c.conds {
		c.conds[i] = sync.NewCond(&c.mu)
		c.buf[i] = make([]byte, capacity)
	}
	return c
}

func (c *memChannel) Lock() {
	c.mu.Lock()
	c.locked = true
}

func (c *memChannel) Unlock() {
	c.locked = false
	c.mu.Unlock()
}

func (c *memChannel) Wait(ctx context.Context, slot int, cond func() bool) error {
	c.check("Wait")
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.conds[slot].Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for !cond() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.locked = false
		c.conds[slot].Wait()
		c.locked = true
	}
	return nil
}

func (c *memChannel) Signal(slot int) {
	c.check("Signal")
	c.conds[slot].Signal()
}

func (c *memChannel) Broadcast() {
	c.check("Broadcast")
	for _, cond := range c.conds {
		cond.Broadcast()
	}
}

func (c *memChannel) Slots() int         { return len(c.buf) }
func (c *memChannel) ChunkCapacity() int { return len(c.buf[0]) }

func (c *memChannel) SlotReady(slot int) bool {
	c.check("SlotReady")
	return c.ready[slot]
}

func (c *memChannel) SetSlotReady(slot int, ready bool) {
	c.check("SetSlotReady")
	c.ready[slot] = ready
}

func (c *memChannel) SlotLength(slot int) int {
	c.check("SlotLength")
	return c.length[slot]
}

func (c *memChannel) SetSlotLength(slot int, n int) {
	c.check("SetSlotLength")
	if c.ready[slot] {
		c.violate("SetSlotLength on ready slot %d", slot)
	}
	c.length[slot] = n
}

func (c *memChannel) SlotSequence(slot int) uint32 {
	c.check("SlotSequence")
	return c.seq[slot]
}

func (c *memChannel) SetSlotSequence(slot int, seq uint32) {
	c.check("SetSlotSequence")
	c.seq[slot] = seq
}

func (c *memChannel) SlotBuffer(slot int) []byte {
	c.check("SlotBuffer")
	return c.buf[slot]
}

func (c *memChannel) Finished() bool {
	c.check("Finished")
	return c.finished
}

func (c *memChannel) SetFinished() {
	c.check("SetFinished")
	c.finished = true
}

func (c *memChannel) check(op string) {
	if !c.locked {
		c.violate("%s without lock", op)
	}
}

// violate appends under the lock; violations is read only after both
// loops have returned.
func (c *memChannel) violate(format string, args ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

// snapshot reads the finished flag and slot 0 under the lock.
func (c *memChannel) snapshot() (finished bool, ready0 bool, length0 int) {
	c.Lock()
	defer c.Unlock()
	return c.finished, c.ready[0], c.length[0]
}

// recordingWriter captures every Write call.
type recordingWriter struct {
	data   []byte
	writes []int
	failAt int // 1-based write that fails, 0 never
	err    error
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.failAt > 0 && len(w.writes)+1 >= w.failAt {
		w.writes = append(w.writes, -1)
		return 0, w.err
	}
	w.data = append(w.data, p...)
	w.writes = append(w.writes, len(p))
	return len(p), nil
}

// failingReader returns its data, then err instead of io.EOF.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

// recordingObserver counts observations.
type recordingObserver struct {
	mu           sync.Mutex
	chunks       map[string]int
	bytes        map[string]int
	streamErrors map[string]int
	waits        int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		chunks:       map[string]int{},
		bytes:        map[string]int{},
		streamErrors: map[string]int{},
	}
}

func (o *recordingObserver) ObserveChunk(role string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks[role]++
	o.bytes[role] += n
}

func (o *recordingObserver) ObserveWait(string, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waits++
}

func (o *recordingObserver) ObserveStreamError(role, direction string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streamErrors[role+"/"+direction]++
}
