package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/GriffinCanCode/shmcopy/internal/infrastructure/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Role names as they appear in logs and metric labels.
const (
	roleProducer = "producer"
	roleConsumer = "consumer"
)

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Logger    *logging.Logger
	Observer  Observer
	RateLimit int64 // bytes per second, 0 is unlimited
}

// Producer streams a source into the channel slot by slot.
type Producer struct {
	ch      Channel
	src     io.Reader
	log     *logging.Logger
	obs     Observer
	limiter *rate.Limiter
}

// NewProducer creates a producer reading from src.
func NewProducer(ch Channel, src io.Reader, cfg ProducerConfig) *Producer {
	p := &Producer{
		ch:      ch,
		src:     src,
		log:     cfg.Logger,
		obs:     cfg.Observer,
		limiter: newLimiter(cfg.RateLimit, ch.ChunkCapacity()),
	}
	if p.log == nil {
		p.log = logging.NewNop()
	}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	return p
}

// newLimiter returns a byte-rate limiter with a burst of exactly one
// chunk, the smallest burst WaitN accepts for a full slot.
func newLimiter(bytesPerSec int64, chunk int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0) // Unlimited by default
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), chunk)
}

// Run publishes the whole source and returns once the final chunk is in
// a slot and finished is set. It does not wait for the consumer to drain
// that last chunk.
//
// A source read failure ends the stream early and is reported as
// ErrStreamIO after finished has been published. Cancellation and peer
// timeouts also publish finished, so a live consumer terminates with a
// truncated destination instead of blocking.
//
// With a rate limit, each chunk is charged for the bytes it actually
// carried once the consumer has drained it, outside the lock. The final
// chunk is never charged.
func (p *Producer) Run(ctx context.Context) (stats Stats, err error) {
	start := time.Now()
	defer func() { stats.Duration = time.Since(start) }()

	slots := p.ch.Slots()

	var (
		seq     uint32
		readErr error
	)
	for cur := 0; ; cur = (cur + 1) % slots {
		p.ch.Lock()

		if p.ch.SlotReady(cur) {
			held := p.ch.SlotSequence(cur)
			p.finishLocked()
			p.ch.Unlock()
			return stats, fmt.Errorf("%w: slot %d still holds chunk %d", ErrSlotOverrun, cur, held)
		}

		n, err := io.ReadFull(p.src, p.ch.SlotBuffer(cur))
		finished := err != nil
		if finished && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			readErr = err
			p.obs.ObserveStreamError(roleProducer, "read")
			p.log.Error("Source read failed, finishing stream early",
				zap.Uint32("chunk", seq+1),
				zap.Int64("bytes_sent", stats.Bytes),
				zap.Error(err),
			)
		}

		seq++
		p.ch.SetSlotLength(cur, n)
		p.ch.SetSlotSequence(cur, seq)
		p.ch.SetSlotReady(cur, true)
		if finished {
			p.ch.SetFinished()
		}
		p.ch.Signal(cur)

		stats.Chunks++
		stats.Bytes += int64(n)
		if n == 0 {
			stats.EmptyChunks++
		}
		p.obs.ObserveChunk(roleProducer, n)

		if finished {
			p.ch.Broadcast()
			p.ch.Unlock()
			break
		}

		waitStart := time.Now()
		err = p.ch.Wait(ctx, cur, func() bool { return !p.ch.SlotReady(cur) })
		waited := time.Since(waitStart)
		stats.Wait += waited
		p.obs.ObserveWait(roleProducer, waited)

		if err != nil {
			p.finishLocked()
			p.ch.Unlock()
			return stats, err
		}
		p.ch.Unlock()

		if err := p.limiter.WaitN(ctx, n); err != nil {
			p.ch.Lock()
			p.finishLocked()
			p.ch.Unlock()
			return stats, err
		}
	}

	if readErr != nil {
		return stats, fmt.Errorf("%w: read source: %w", ErrStreamIO, readErr)
	}
	return stats, nil
}

// finishLocked publishes finished and wakes every waiter.
func (p *Producer) finishLocked() {
	p.ch.SetFinished()
	p.ch.Broadcast()
}
