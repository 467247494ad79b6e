package shm

import (
	"fmt"
	"unsafe"
)

const (
	// SegmentMagic identifies a shmcopy segment.
	SegmentMagic = "SHMCOPY\x00"

	// SegmentVersion is bumped whenever the in-segment layout changes.
	SegmentVersion = uint32(1)

	// HeaderSize is the size of the segment header.
	HeaderSize = 64

	// SlotDescSize is the size of one slot table entry.
	SlotDescSize = 16

	// MaxSlots bounds the pipeline depth.
	MaxSlots = 64

	// DefaultSegmentSize is the total capacity of a segment.
	DefaultSegmentSize = 65536

	// DefaultSlots is the double-buffered pipeline depth.
	DefaultSlots = 2

	// DefaultChunkCapacity matches the common page and filesystem block size.
	DefaultChunkCapacity = 4096

	// DefaultDir is where segments are created on Linux.
	DefaultDir = "/dev/shm"

	// FilePrefix namespaces segment files inside the directory.
	FilePrefix = "shmcopy_"
)

// Attach states stored in header.state.
const (
	stateEmpty        = uint32(0)
	stateConstructing = uint32(1)
	stateProducer     = uint32(2)
	stateConsumer     = uint32(3)
)

// header is the fixed in-segment header. It must stay free of pointers:
// each process maps the segment at a different address.
type header struct {
	magic       [8]byte  // 0x00
	version     uint32   // 0x08
	state       uint32   // 0x0C: attach state, CAS only
	lock        uint32   // 0x10: futex mutex word
	slots       uint32   // 0x14
	chunkCap    uint32   // 0x18
	finished    uint32   // 0x1C
	producerPID uint32   // 0x20
	consumerPID uint32   // 0x24
	transferID  [16]byte // 0x28
	reserved    [8]byte  // 0x38
}

// slotDesc is one slot table entry.
type slotDesc struct {
	cond   uint32 // condition variable sequence
	ready  uint32
	length uint32
	seq    uint32 // 1-based sequence number of the chunk held
}

var (
	_ [HeaderSize - unsafe.Sizeof(header{})]byte
	_ [unsafe.Sizeof(header{}) - HeaderSize]byte
	_ [SlotDescSize - unsafe.Sizeof(slotDesc{})]byte
	_ [unsafe.Sizeof(slotDesc{}) - SlotDescSize]byte
)

// Layout describes where the slot table and buffers live in a segment.
type Layout struct {
	Slots           int
	ChunkCapacity   int
	SlotTableOffset int
	BufferOffset    int
	BufferStride    int
	Size            int // bytes actually used, <= segment size
}

// CalculateLayout computes the layout for the given pipeline depth and
// chunk capacity and checks that it fits into segmentSize bytes.
func CalculateLayout(slots, chunkCapacity, segmentSize int) (Layout, error) {
	if slots < 1 || slots > MaxSlots {
		return Layout{}, fmt.Errorf("%w: slot count %d outside 1..%d", ErrInvalidLayout, slots, MaxSlots)
	}
	if chunkCapacity < 1 {
		return Layout{}, fmt.Errorf("%w: chunk capacity %d must be positive", ErrInvalidLayout, chunkCapacity)
	}

	l := Layout{
		Slots:           slots,
		ChunkCapacity:   chunkCapacity,
		SlotTableOffset: HeaderSize,
		BufferStride:    alignTo64(chunkCapacity),
	}
	l.BufferOffset = alignTo64(l.SlotTableOffset + slots*SlotDescSize)
	l.Size = l.BufferOffset + slots*l.BufferStride

	if l.Size > segmentSize {
		return Layout{}, fmt.Errorf("%w: %d slots of %d bytes need %d bytes, segment holds %d",
			ErrInvalidLayout, slots, chunkCapacity, l.Size, segmentSize)
	}
	return l, nil
}

// slotDescOffset returns the byte offset of slot i's table entry.
func (l Layout) slotDescOffset(i int) int {
	return l.SlotTableOffset + i*SlotDescSize
}

// bufferOffset returns the byte offset of slot i's buffer.
func (l Layout) bufferOffset(i int) int {
	return l.BufferOffset + i*l.BufferStride
}

func alignTo64(n int) int {
	return (n + 63) &^ 63
}
