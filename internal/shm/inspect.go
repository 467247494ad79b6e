package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// SlotState is the observed state of one slot.
type SlotState struct {
	Ready    bool
	Length   int
	Sequence uint32
}

// Snapshot is a point-in-time view of a segment header, for diagnostics.
// Values are read without the lock and may be mutually inconsistent while
// a transfer is running.
type Snapshot struct {
	Path          string
	Size          int
	State         string
	Slots         int
	ChunkCapacity int
	Finished      bool
	ProducerPID   uint32
	ConsumerPID   uint32
	ProducerAlive bool
	TransferID    [16]byte
	SlotStates    []SlotState
}

// Snapshot reads the current header of a mapped segment.
func (s *Segment) Snapshot() Snapshot {
	return snapshotOf(s.path, s.mem)
}

// Inspect maps the named segment read-only and returns a snapshot without
// attaching to it.
func Inspect(dir, name string) (Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return Snapshot{}, err
	}
	path := Path(dir, name)
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: open %s: %w", ErrSegmentUnavailable, path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: stat %s: %w", ErrSegmentUnavailable, path, err)
	}
	if info.Size() < HeaderSize {
		return Snapshot{}, fmt.Errorf("%w: segment file too small: %d bytes", ErrSegmentUnavailable, info.Size())
	}

	mem, err := mmapFile(file, int(info.Size()), false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}
	defer munmap(mem)

	return snapshotOf(path, mem), nil
}

func snapshotOf(path string, mem []byte) Snapshot {
	h := (*header)(unsafe.Pointer(&mem[0]))
	snap := Snapshot{
		Path:        path,
		Size:        len(mem),
		State:       stateName(atomic.LoadUint32(&h.state)),
		Finished:    atomic.LoadUint32(&h.finished) != 0,
		ProducerPID: atomic.LoadUint32(&h.producerPID),
		ConsumerPID: atomic.LoadUint32(&h.consumerPID),
		TransferID:  h.transferID,
	}
	snap.ProducerAlive = processAlive(snap.ProducerPID)

	layout, err := CalculateLayout(int(atomic.LoadUint32(&h.slots)), int(atomic.LoadUint32(&h.chunkCap)), len(mem))
	if err != nil {
		return snap
	}
	snap.Slots = layout.Slots
	snap.ChunkCapacity = layout.ChunkCapacity
	for i := 0; i < layout.Slots; i++ {
		d := (*slotDesc)(unsafe.Pointer(&mem[layout.slotDescOffset(i)]))
		snap.SlotStates = append(snap.SlotStates, SlotState{
			Ready:    atomic.LoadUint32(&d.ready) != 0,
			Length:   int(atomic.LoadUint32(&d.length)),
			Sequence: atomic.LoadUint32(&d.seq),
		})
	}
	return snap
}

func stateName(state uint32) string {
	switch state {
	case stateEmpty:
		return "empty"
	case stateConstructing:
		return "constructing"
	case stateProducer:
		return "producer-attached"
	case stateConsumer:
		return "consumer-attached"
	default:
		return fmt.Sprintf("invalid(%d)", state)
	}
}
