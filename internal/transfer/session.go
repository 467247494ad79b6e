package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/GriffinCanCode/shmcopy/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shmcopy/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shmcopy/internal/shared/id"
	"github.com/GriffinCanCode/shmcopy/internal/shm"
	"go.uber.org/zap"
)

// maxAttachAttempts bounds probe/attach rounds lost to a concurrent attacher.
const maxAttachAttempts = 3

// Config parameterizes a transfer session.
type Config struct {
	Segment       shm.Options
	Slots         int
	ChunkCapacity int
	PeerTimeout   time.Duration // 0 waits forever
	AttachTimeout time.Duration
	RateLimit     int64 // producer bytes per second, 0 is unlimited

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		Segment:       shm.DefaultOptions(),
		Slots:         shm.DefaultSlots,
		ChunkCapacity: shm.DefaultChunkCapacity,
		AttachTimeout: 5 * time.Second,
	}
}

// Endpoints opens the role's file only once the role is known, so a
// producer never touches the destination and a consumer never the source.
type Endpoints struct {
	OpenSource      func() (io.ReadCloser, error)
	OpenDestination func() (io.WriteCloser, error)
}

// FileEndpoints returns Endpoints over regular files. With noClobber an
// existing destination is refused. Otherwise it is opened without being
// truncated; the session truncates it only after the consumer role has
// been claimed, so a rejected attacher leaves a live consumer's output
// alone.
func FileEndpoints(source, destination string, noClobber bool) Endpoints {
	return Endpoints{
		OpenSource: func() (io.ReadCloser, error) {
			f, err := os.Open(source)
			if err != nil {
				return nil, fmt.Errorf("%w: source %s: %w", ErrFileOpen, source, err)
			}
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("%w: source %s: %w", ErrFileOpen, source, err)
			}
			if info.IsDir() {
				f.Close()
				return nil, fmt.Errorf("%w: source %s is a directory", ErrFileOpen, source)
			}
			return f, nil
		},
		OpenDestination: func() (io.WriteCloser, error) {
			flags := os.O_WRONLY | os.O_CREATE
			if noClobber {
				flags |= os.O_EXCL
			}
			f, err := os.OpenFile(destination, flags, 0666)
			if err != nil {
				return nil, fmt.Errorf("%w: destination %s: %w", ErrFileOpen, destination, err)
			}
			return f, nil
		},
	}
}

// Result describes a finished session.
type Result struct {
	Role          shm.Role
	TransferID    id.TransferID
	Slots         int // pipeline depth in use
	ChunkCapacity int // slot capacity in use
	Stats         Stats
	Outcome       string

	// TeardownErr is set when the consumer could not delete the segment.
	// It never changes Outcome.
	TeardownErr error
}

// Run attaches to the named segment, takes whichever role is free and
// runs that side of the transfer to completion.
//
// The first attacher becomes the producer and streams the source; the
// second becomes the consumer, writes the destination and deletes the
// segment once its loop has exited normally. A consumer stopped by
// cancellation or a peer timeout leaves the segment in place.
func Run(ctx context.Context, name string, cfg Config, ep Endpoints) (Result, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}

	seg, err := shm.OpenOrCreate(name, cfg.Segment)
	if err != nil {
		return Result{}, err
	}
	defer seg.Close()

	s := &session{
		seg: seg,
		cfg: cfg,
		ep:  ep,
		log: log,
	}

	for attempt := 0; attempt < maxAttachAttempts; attempt++ {
		var res Result
		switch seg.Probe() {
		case shm.RoleProducer:
			res, err = s.produce(ctx)
		default:
			res, err = s.consume(ctx)
		}
		if errors.Is(err, shm.ErrRoleTaken) {
			log.Debug("Lost attach race, probing again", zap.String("segment", name), zap.Int("attempt", attempt+1))
			continue
		}
		return res, err
	}
	return Result{}, fmt.Errorf("%w: role negotiation did not settle", shm.ErrSegmentUnavailable)
}

type session struct {
	seg *shm.Segment
	cfg Config
	ep  Endpoints
	log *logging.Logger
}

func (s *session) produce(ctx context.Context) (Result, error) {
	res := Result{Role: shm.RoleProducer}
	log := s.log.ForTransfer(s.seg.Name(), roleProducer)
	log.Info("Acting as reader")

	src, err := s.ep.OpenSource()
	if err != nil {
		return res, err
	}
	defer src.Close()

	res.TransferID = id.NewTransferID()
	tr, err := s.seg.AttachProducer(shm.ProducerOptions{
		Slots:         s.cfg.Slots,
		ChunkCapacity: s.cfg.ChunkCapacity,
		TransferID:    res.TransferID,
		PeerTimeout:   s.cfg.PeerTimeout,
	})
	if err != nil {
		return res, err
	}

	res.Slots, res.ChunkCapacity = tr.Slots(), tr.ChunkCapacity()
	log = log.WithTransferID(res.TransferID.String())
	log.Debug("Segment constructed",
		zap.Int("slots", tr.Slots()),
		zap.Int("chunk_capacity", tr.ChunkCapacity()),
	)

	timer := monitoring.NewTimer(s.cfg.Metrics, roleProducer)
	res.Stats, err = NewProducer(tr, src, ProducerConfig{
		Logger:    log,
		Observer:  s.observer(),
		RateLimit: s.cfg.RateLimit,
	}).Run(ctx)
	res.Outcome = outcomeOf(err)
	timer.Stop(res.Outcome)

	if err != nil {
		log.Error("Stream ended early", res.Stats.field(), zap.String("outcome", res.Outcome), zap.Error(err))
		return res, err
	}
	log.Info("Source published", res.Stats.field())
	return res, nil
}

func (s *session) consume(ctx context.Context) (Result, error) {
	res := Result{Role: shm.RoleConsumer}
	log := s.log.ForTransfer(s.seg.Name(), roleConsumer)

	dst, err := s.ep.OpenDestination()
	if err != nil {
		return res, err
	}
	log.Info("Acting as writer")

	tr, err := s.seg.AttachConsumer(ctx, shm.ConsumerOptions{
		AttachTimeout: s.cfg.AttachTimeout,
		PeerTimeout:   s.cfg.PeerTimeout,
	})
	if err != nil {
		dst.Close()
		return res, err
	}

	res.TransferID = tr.TransferID()
	res.Slots, res.ChunkCapacity = tr.Slots(), tr.ChunkCapacity()
	log = log.WithTransferID(res.TransferID.String())
	log.Debug("Attached to segment",
		zap.Int("slots", tr.Slots()),
		zap.Int("chunk_capacity", tr.ChunkCapacity()),
	)

	// The producer is already publishing, so a failed truncate is
	// handled like a write failure: the stream is drained and discarded.
	var out io.Writer = dst
	truncErr := truncate(dst)
	if truncErr != nil {
		log.Error("Destination truncate failed, discarding stream", zap.Error(truncErr))
		out = failingWriter{err: truncErr}
	}

	timer := monitoring.NewTimer(s.cfg.Metrics, roleConsumer)
	res.Stats, err = NewConsumer(tr, out, ConsumerConfig{
		Logger:   log,
		Observer: s.observer(),
	}).Run(ctx)
	if truncErr != nil && err == nil {
		// No chunk reached failingWriter, so nothing counted it yet.
		s.observer().ObserveStreamError(roleConsumer, "write")
		err = fmt.Errorf("%w: truncate destination: %w", ErrStreamIO, truncErr)
	}

	if closeErr := dst.Close(); closeErr != nil && err == nil {
		s.observer().ObserveStreamError(roleConsumer, "write")
		err = fmt.Errorf("%w: close destination: %w", ErrStreamIO, closeErr)
	}

	if exitedNormally(err) {
		if rmErr := s.seg.Remove(); rmErr != nil {
			res.TeardownErr = rmErr
			log.Warn("Segment teardown failed", zap.String("path", s.seg.Path()), zap.Error(rmErr))
		}
	}

	res.Outcome = outcomeOf(err)
	timer.Stop(res.Outcome)

	if err != nil {
		log.Error("Stream ended early", res.Stats.field(), zap.String("outcome", res.Outcome), zap.Error(err))
		return res, err
	}
	log.Info("Stream drained", res.Stats.field())
	return res, nil
}

// truncater is implemented by destinations opened without discarding
// their contents, such as the *os.File from FileEndpoints.
type truncater interface {
	Truncate(size int64) error
}

func truncate(w io.Writer) error {
	if t, ok := w.(truncater); ok {
		return t.Truncate(0)
	}
	return nil
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func (s *session) observer() Observer {
	if s.cfg.Metrics == nil {
		return nopObserver{}
	}
	return s.cfg.Metrics
}

// exitedNormally reports whether the consumer loop reached the finished
// state, possibly after discarding chunks.
func exitedNormally(err error) bool {
	return !errors.Is(err, shm.ErrPeerTimeout) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return monitoring.OutcomeSuccess
	case errors.Is(err, ErrStreamIO):
		return monitoring.OutcomeDegraded
	case errors.Is(err, shm.ErrPeerTimeout):
		return monitoring.OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return monitoring.OutcomeCancelled
	default:
		return monitoring.OutcomeFailed
	}
}
