package transfer

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Stats summarizes one side of a transfer.
type Stats struct {
	Chunks      int           // chunks published or drained, terminal included
	Bytes       int64         // payload bytes
	EmptyChunks int           // zero-length terminal chunks
	Wait        time.Duration // time blocked on slot conditions
	Duration    time.Duration // loop wall time
}

// MarshalLogObject lets Stats be logged with zap.Object.
func (s Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("chunks", s.Chunks)
	enc.AddInt64("bytes", s.Bytes)
	enc.AddInt("empty_chunks", s.EmptyChunks)
	enc.AddDuration("wait", s.Wait)
	enc.AddDuration("duration", s.Duration)
	return nil
}

func (s Stats) field() zap.Field {
	return zap.Object("stats", s)
}
