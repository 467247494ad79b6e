package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/GriffinCanCode/shmcopy/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Logger   *logging.Logger
	Observer Observer
}

// Consumer drains the channel into a destination in slot order.
type Consumer struct {
	ch  Channel
	dst io.Writer
	log *logging.Logger
	obs Observer
}

// NewConsumer creates a consumer writing to dst.
func NewConsumer(ch Channel, dst io.Writer, cfg ConsumerConfig) *Consumer {
	c := &Consumer{
		ch:  ch,
		dst: dst,
		log: cfg.Logger,
		obs: cfg.Observer,
	}
	if c.log == nil {
		c.log = logging.NewNop()
	}
	if c.obs == nil {
		c.obs = nopObserver{}
	}
	return c
}

// Run drains slots until finished is set and the current slot is empty.
//
// After a destination write failure or a corrupt slot the consumer stops
// writing but keeps draining, so the producer is never left blocked. The
// loop still exits normally and the failure is returned afterwards:
// ErrStreamIO for a write, ErrSequence or ErrChunkLength for a slot.
// Only cancellation and peer timeouts abort the loop itself.
func (c *Consumer) Run(ctx context.Context) (stats Stats, err error) {
	start := time.Now()
	defer func() { stats.Duration = time.Since(start) }()

	slots := c.ch.Slots()
	capacity := c.ch.ChunkCapacity()
	expected := uint32(1)

	var writeErr, slotErr error
	for cur := 0; ; cur = (cur + 1) % slots {
		c.ch.Lock()

		if c.ch.Finished() && !c.ch.SlotReady(cur) {
			c.ch.Unlock()
			break
		}

		waitStart := time.Now()
		err := c.ch.Wait(ctx, cur, func() bool { return c.ch.SlotReady(cur) || c.ch.Finished() })
		waited := time.Since(waitStart)
		stats.Wait += waited
		c.obs.ObserveWait(roleConsumer, waited)

		if err != nil {
			c.ch.Unlock()
			return stats, err
		}

		if c.ch.SlotReady(cur) {
			n := c.ch.SlotLength(cur)
			seq := c.ch.SlotSequence(cur)

			if slotErr == nil {
				switch {
				case seq != expected:
					slotErr = fmt.Errorf("%w: slot %d holds chunk %d, expected %d", ErrSequence, cur, seq, expected)
				case n > capacity:
					slotErr = fmt.Errorf("%w: slot %d claims %d bytes, capacity %d", ErrChunkLength, cur, n, capacity)
				}
				if slotErr != nil {
					c.log.Error("Corrupt slot, discarding remaining chunks", zap.Error(slotErr))
				}
			}
			expected = seq + 1

			if writeErr == nil && slotErr == nil && n > 0 {
				if _, err := c.dst.Write(c.ch.SlotBuffer(cur)[:n]); err != nil {
					writeErr = err
					c.obs.ObserveStreamError(roleConsumer, "write")
					c.log.Error("Destination write failed, draining without writing",
						zap.Uint32("chunk", seq),
						zap.Int64("bytes_written", stats.Bytes),
						zap.Error(err),
					)
				}
			}

			if writeErr == nil && slotErr == nil {
				stats.Bytes += int64(n)
			}
			stats.Chunks++
			if n == 0 {
				stats.EmptyChunks++
			}
			c.obs.ObserveChunk(roleConsumer, n)

			c.ch.SetSlotReady(cur, false)
			c.ch.Signal(cur)
		}

		c.ch.Unlock()
	}

	switch {
	case slotErr != nil:
		return stats, slotErr
	case writeErr != nil:
		return stats, fmt.Errorf("%w: write destination: %w", ErrStreamIO, writeErr)
	}
	return stats, nil
}
