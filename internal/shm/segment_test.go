//go:build linux

package shm

import (
	"context"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSegment opens a segment in a per-test directory and closes it when
// the test ends.
func testSegment(t *testing.T, dir, name string) *Segment {
	t.Helper()
	seg, err := OpenOrCreate(name, Options{Dir: dir, Size: DefaultSegmentSize})
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })
	return seg
}

func defaultProducer() ProducerOptions {
	return ProducerOptions{
		Slots:         DefaultSlots,
		ChunkCapacity: DefaultChunkCapacity,
		TransferID:    uuid.New(),
	}
}

func TestOpenOrCreateSizesNewSegment(t *testing.T) {
	dir := t.TempDir()
	seg := testSegment(t, dir, "fresh")

	info, err := os.Stat(Path(dir, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultSegmentSize), info.Size())
	assert.Equal(t, DefaultSegmentSize, seg.Size())
	assert.Equal(t, "fresh", seg.Name())
	assert.Equal(t, RoleProducer, seg.Probe())
}

func TestOpenOrCreateRejectsIncompatibleSize(t *testing.T) {
	dir := t.TempDir()
	testSegment(t, dir, "sized")

	_, err := OpenOrCreate("sized", Options{Dir: dir, Size: 2 * DefaultSegmentSize})
	assert.ErrorIs(t, err, ErrSegmentUnavailable)
}

func TestOpenOrCreateMissingDir(t *testing.T) {
	_, err := OpenOrCreate("x", Options{Dir: "/nonexistent/shmcopy-test", Size: DefaultSegmentSize})
	assert.ErrorIs(t, err, ErrSegmentUnavailable)
}

func TestRoleNegotiation(t *testing.T) {
	dir := t.TempDir()
	name := uuid.NewString()
	first := testSegment(t, dir, name)
	second := testSegment(t, dir, name)
	third := testSegment(t, dir, name)

	require.Equal(t, RoleProducer, first.Probe())
	producer, err := first.AttachProducer(defaultProducer())
	require.NoError(t, err)
	assert.Equal(t, RoleProducer, producer.Role())

	// A late producer attempt loses the race instead of re-constructing.
	_, err = second.AttachProducer(defaultProducer())
	assert.ErrorIs(t, err, ErrRoleTaken)

	require.Equal(t, RoleConsumer, second.Probe())
	consumer, err := second.AttachConsumer(context.Background(), ConsumerOptions{})
	require.NoError(t, err)
	assert.Equal(t, RoleConsumer, consumer.Role())
	assert.Equal(t, producer.TransferID(), consumer.TransferID())
	assert.Equal(t, producer.Layout(), consumer.Layout())

	require.Equal(t, RoleConsumer, third.Probe())
	_, err = third.AttachConsumer(context.Background(), ConsumerOptions{})
	assert.ErrorIs(t, err, ErrSegmentBusy)
	assert.ErrorIs(t, err, ErrSegmentUnavailable)

	snap := first.Snapshot()
	assert.Equal(t, "consumer-attached", snap.State)
	assert.Equal(t, uint32(os.Getpid()), snap.ProducerPID)
	assert.Equal(t, uint32(os.Getpid()), snap.ConsumerPID)
}

func TestConsumerAdoptsProducerLayout(t *testing.T) {
	dir := t.TempDir()
	a := testSegment(t, dir, "layout")
	b := testSegment(t, dir, "layout")

	_, err := a.AttachProducer(ProducerOptions{Slots: 1, ChunkCapacity: 1000})
	require.NoError(t, err)

	tr, err := b.AttachConsumer(context.Background(), ConsumerOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Slots())
	assert.Equal(t, 1000, tr.ChunkCapacity())
	assert.Len(t, tr.SlotBuffer(0), 1000)
}

func TestAttachProducerRejectsOversizedLayout(t *testing.T) {
	seg := testSegment(t, t.TempDir(), "big")

	_, err := seg.AttachProducer(ProducerOptions{Slots: 4, ChunkCapacity: 32768})
	assert.ErrorIs(t, err, ErrInvalidLayout)
	// The failed attempt must not have claimed the segment.
	assert.Equal(t, RoleProducer, seg.Probe())
}

func TestReuseAfterTeardownIsFreshProducer(t *testing.T) {
	dir := t.TempDir()
	prod := testSegment(t, dir, "reuse")
	cons := testSegment(t, dir, "reuse")

	_, err := prod.AttachProducer(defaultProducer())
	require.NoError(t, err)
	_, err = cons.AttachConsumer(context.Background(), ConsumerOptions{})
	require.NoError(t, err)

	require.NoError(t, cons.Remove())
	assert.False(t, Exists(dir, "reuse"))

	next := testSegment(t, dir, "reuse")
	assert.Equal(t, RoleProducer, next.Probe())
	_, err = next.AttachProducer(defaultProducer())
	assert.NoError(t, err)
}

func TestRemoveMissingSegment(t *testing.T) {
	err := Remove(t.TempDir(), "missing")
	assert.ErrorIs(t, err, ErrTeardown)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConsumerWaitsForConstruction(t *testing.T) {
	dir := t.TempDir()
	prod := testSegment(t, dir, "slow")
	cons := testSegment(t, dir, "slow")

	_, err := prod.AttachProducer(defaultProducer())
	require.NoError(t, err)

	// Rewind to a producer caught between claiming and publishing.
	atomic.StoreUint32(&prod.hdr().state, stateConstructing)

	done := make(chan error, 1)
	go func() {
		_, err := cons.AttachConsumer(context.Background(), ConsumerOptions{AttachTimeout: 5 * time.Second})
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	atomic.StoreUint32(&prod.hdr().state, stateProducer)
	_, err = futexWake(&prod.hdr().state, 1)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not attach after construction")
	}
}

func TestConsumerAttachTimesOutOnStuckConstruction(t *testing.T) {
	dir := t.TempDir()
	prod := testSegment(t, dir, "stuck")
	cons := testSegment(t, dir, "stuck")
	atomic.StoreUint32(&prod.hdr().state, stateConstructing)

	_, err := cons.AttachConsumer(context.Background(), ConsumerOptions{AttachTimeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrSegmentUnavailable)
}

func TestStaleSegmentFromDeadProducer(t *testing.T) {
	dir := t.TempDir()
	prod := testSegment(t, dir, "stale")
	cons := testSegment(t, dir, "stale")

	_, err := prod.AttachProducer(defaultProducer())
	require.NoError(t, err)

	// Borrow the pid of a child that has already exited.
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	atomic.StoreUint32(&prod.hdr().producerPID, uint32(cmd.Process.Pid))

	_, err = cons.AttachConsumer(context.Background(), ConsumerOptions{})
	assert.ErrorIs(t, err, ErrStaleSegment)

	// A dead producer that finished its stream is a valid rendezvous.
	atomic.StoreUint32(&prod.hdr().finished, 1)
	_, err = cons.AttachConsumer(context.Background(), ConsumerOptions{})
	assert.NoError(t, err)
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	seg := testSegment(t, dir, "inspect")

	snap, err := Inspect(dir, "inspect")
	require.NoError(t, err)
	assert.Equal(t, "empty", snap.State)

	opts := defaultProducer()
	tr, err := seg.AttachProducer(opts)
	require.NoError(t, err)
	tr.Lock()
	tr.SetSlotLength(0, 17)
	tr.SetSlotSequence(0, 1)
	tr.SetSlotReady(0, true)
	tr.Unlock()

	snap, err = Inspect(dir, "inspect")
	require.NoError(t, err)
	assert.Equal(t, "producer-attached", snap.State)
	assert.Equal(t, DefaultSlots, snap.Slots)
	assert.Equal(t, DefaultChunkCapacity, snap.ChunkCapacity)
	assert.True(t, snap.ProducerAlive)
	assert.Equal(t, [16]byte(opts.TransferID), snap.TransferID)
	require.Len(t, snap.SlotStates, DefaultSlots)
	assert.Equal(t, SlotState{Ready: true, Length: 17, Sequence: 1}, snap.SlotStates[0])
	assert.False(t, snap.SlotStates[1].Ready)

	_, err = Inspect(dir, "absent")
	assert.ErrorIs(t, err, ErrSegmentUnavailable)
}
