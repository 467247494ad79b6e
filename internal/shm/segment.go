package shm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"
)

// Role is the part a process plays in a transfer.
type Role int

const (
	// RoleProducer reads the source file into the slots.
	RoleProducer Role = iota
	// RoleConsumer drains the slots into the destination file.
	RoleConsumer
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Options locates and sizes a segment.
type Options struct {
	Dir  string // directory holding segment files
	Size int    // total segment size in bytes
}

// DefaultOptions returns the options used by the CLI when nothing is set.
func DefaultOptions() Options {
	return Options{
		Dir:  DefaultDir,
		Size: DefaultSegmentSize,
	}
}

// ProducerOptions configures the structure a producer constructs.
type ProducerOptions struct {
	Slots         int
	ChunkCapacity int
	TransferID    [16]byte
	PeerTimeout   time.Duration // 0 waits forever
}

// ConsumerOptions configures a consumer attach.
type ConsumerOptions struct {
	// AttachTimeout bounds the wait for a producer that is still
	// constructing the structure.
	AttachTimeout time.Duration
	PeerTimeout   time.Duration // 0 waits forever
}

// attachPoll is how often a consumer re-checks a constructing segment.
const attachPoll = 10 * time.Millisecond

// Segment is a mapped shmcopy segment.
type Segment struct {
	name string
	path string
	file *os.File
	mem  []byte
}

// Path returns the segment file path for name inside dir.
func Path(dir, name string) string {
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, FilePrefix+name)
}

// ValidateName rejects names that would escape the segment directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty segment name", ErrSegmentUnavailable)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: invalid segment name %q", ErrSegmentUnavailable, name)
	}
	return nil
}

// OpenOrCreate opens the named segment, creating and sizing it if it does
// not exist yet. A segment file with a different non-zero size is an
// incompatible name collision.
func OpenOrCreate(name string, opts Options) (*Segment, error) {
	if !futexSupported {
		return nil, fmt.Errorf("%w: %w", ErrSegmentUnavailable, ErrUnsupported)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if opts.Size < HeaderSize {
		return nil, fmt.Errorf("%w: segment size %d below header size %d", ErrSegmentUnavailable, opts.Size, HeaderSize)
	}

	path := Path(opts.Dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrSegmentUnavailable, path, err)
	}

	err = withFileLock(file, func() error {
		info, err := file.Stat()
		if err != nil {
			return fmt.Errorf("stat segment: %w", err)
		}
		switch info.Size() {
		case 0:
			if err := file.Truncate(int64(opts.Size)); err != nil {
				return fmt.Errorf("resize segment: %w", err)
			}
		case int64(opts.Size):
		default:
			return fmt.Errorf("existing segment is %d bytes, expected %d", info.Size(), opts.Size)
		}
		return nil
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSegmentUnavailable, path, err)
	}

	mem, err := mmapFile(file, opts.Size, true)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSegmentUnavailable, path, err)
	}

	return &Segment{
		name: name,
		path: path,
		file: file,
		mem:  mem,
	}, nil
}

// Name returns the segment name.
func (s *Segment) Name() string {
	return s.name
}

// Path returns the backing file path.
func (s *Segment) Path() string {
	return s.path
}

// Size returns the mapped size in bytes.
func (s *Segment) Size() int {
	return len(s.mem)
}

// Close unmaps the segment and closes the backing file. It does not remove
// the segment; see Remove.
func (s *Segment) Close() error {
	var firstErr error

	if s.mem != nil {
		if err := munmap(s.mem); err != nil {
			firstErr = err
		}
		s.mem = nil
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}

	return firstErr
}

// Remove deletes the segment file. The mapping stays valid until Close.
func (s *Segment) Remove() error {
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrTeardown, err)
	}
	return nil
}

// Remove deletes the named segment in dir without mapping it.
func Remove(dir, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(Path(dir, name)); err != nil {
		return fmt.Errorf("%w: %w", ErrTeardown, err)
	}
	return nil
}

// Exists reports whether the named segment file is present.
func Exists(dir, name string) bool {
	_, err := os.Stat(Path(dir, name))
	return err == nil
}

func (s *Segment) hdr() *header {
	return (*header)(unsafe.Pointer(&s.mem[0]))
}

// Probe reports the role this process would take if it attached now,
// without changing the segment.
func (s *Segment) Probe() Role {
	if atomic.LoadUint32(&s.hdr().state) == stateEmpty {
		return RoleProducer
	}
	return RoleConsumer
}

// AttachProducer constructs the transport structure and claims the
// producer role. It fails with ErrRoleTaken if another process got there
// first.
func (s *Segment) AttachProducer(opts ProducerOptions) (*Transport, error) {
	layout, err := CalculateLayout(opts.Slots, opts.ChunkCapacity, len(s.mem))
	if err != nil {
		return nil, err
	}
	if uint64(opts.ChunkCapacity) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: chunk capacity %d too large", ErrInvalidLayout, opts.ChunkCapacity)
	}

	h := s.hdr()
	if !atomic.CompareAndSwapUint32(&h.state, stateEmpty, stateConstructing) {
		return nil, ErrRoleTaken
	}

	copy(h.magic[:], SegmentMagic)
	atomic.StoreUint32(&h.version, SegmentVersion)
	atomic.StoreUint32(&h.lock, unlocked)
	atomic.StoreUint32(&h.slots, uint32(layout.Slots))
	atomic.StoreUint32(&h.chunkCap, uint32(layout.ChunkCapacity))
	atomic.StoreUint32(&h.finished, 0)
	atomic.StoreUint32(&h.producerPID, uint32(os.Getpid()))
	atomic.StoreUint32(&h.consumerPID, 0)
	h.transferID = opts.TransferID

	for i := 0; i < layout.Slots; i++ {
		d := s.slot(layout, i)
		atomic.StoreUint32(&d.cond, 0)
		atomic.StoreUint32(&d.ready, 0)
		atomic.StoreUint32(&d.length, 0)
		atomic.StoreUint32(&d.seq, 0)
	}

	atomic.StoreUint32(&h.state, stateProducer)
	_, _ = futexWake(&h.state, math.MaxInt32)

	return newTransport(s, layout, RoleProducer, opts.PeerTimeout), nil
}

// AttachConsumer claims the consumer role on a constructed segment. It
// waits up to AttachTimeout for a producer that is still constructing.
func (s *Segment) AttachConsumer(ctx context.Context, opts ConsumerOptions) (*Transport, error) {
	h := s.hdr()

	var deadline time.Time
	if opts.AttachTimeout > 0 {
		deadline = time.Now().Add(opts.AttachTimeout)
	}

	for {
		switch state := atomic.LoadUint32(&h.state); state {
		case stateEmpty:
			return nil, ErrRoleTaken
		case stateConsumer:
			return nil, ErrSegmentBusy
		case stateConstructing:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return nil, fmt.Errorf("%w: producer never finished constructing", ErrSegmentUnavailable)
			}
			if err := futexWait(&h.state, stateConstructing, attachPoll); err != nil && !errors.Is(err, errFutexTimeout) {
				return nil, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
			}
			continue
		case stateProducer:
		default:
			return nil, fmt.Errorf("%w: unknown attach state %d", ErrSegmentUnavailable, state)
		}

		layout, err := s.validateHeader()
		if err != nil {
			return nil, err
		}
		if atomic.LoadUint32(&h.finished) == 0 && !processAlive(atomic.LoadUint32(&h.producerPID)) {
			return nil, ErrStaleSegment
		}
		if !atomic.CompareAndSwapUint32(&h.state, stateProducer, stateConsumer) {
			continue
		}
		atomic.StoreUint32(&h.consumerPID, uint32(os.Getpid()))

		return newTransport(s, layout, RoleConsumer, opts.PeerTimeout), nil
	}
}

// validateHeader checks a constructed header and returns its layout.
func (s *Segment) validateHeader() (Layout, error) {
	h := s.hdr()
	if string(h.magic[:]) != SegmentMagic {
		return Layout{}, fmt.Errorf("%w: invalid magic bytes", ErrSegmentUnavailable)
	}
	if v := atomic.LoadUint32(&h.version); v != SegmentVersion {
		return Layout{}, fmt.Errorf("%w: unsupported version %d, expected %d", ErrSegmentUnavailable, v, SegmentVersion)
	}
	layout, err := CalculateLayout(int(atomic.LoadUint32(&h.slots)), int(atomic.LoadUint32(&h.chunkCap)), len(s.mem))
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}
	return layout, nil
}

func (s *Segment) slot(l Layout, i int) *slotDesc {
	return (*slotDesc)(unsafe.Pointer(&s.mem[l.slotDescOffset(i)]))
}
