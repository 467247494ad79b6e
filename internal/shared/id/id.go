// Package id generates the identifiers shmcopy uses to correlate the two
// halves of a transfer.
//
// A transfer ID is a ULID created by the producer and stored as its raw
// 16 bytes in the segment header. The consumer reads the same bytes back,
// so both processes log the same "xfer_<ulid>" value.
//
// Design Principles:
//   - Fixed width: 16 bytes, no pointers, safe to place in shared memory
//   - K-sortable: transfers started later sort later in logs
//   - Prefixed text form for readable logs
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TransferPrefix prefixes the text form of a TransferID.
const TransferPrefix = "xfer"

// TransferID identifies one producer/consumer transfer.
type TransferID [16]byte

// Generator generates ULIDs
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// newGeneratorWithEntropy creates a generator with a custom entropy source.
func newGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// NewTransferID creates a TransferID from g.
func (g *Generator) NewTransferID() TransferID {
	return TransferID(g.Generate())
}

// NewTransferID creates a TransferID from the default generator.
func NewTransferID() TransferID {
	return Default().NewTransferID()
}

// String returns the prefixed text form, or "" for the zero ID.
func (t TransferID) String() string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s_%s", TransferPrefix, ulid.ULID(t).String())
}

// IsZero reports whether t was never set.
func (t TransferID) IsZero() bool {
	return t == TransferID{}
}

// Time returns the creation time encoded in the ID.
func (t TransferID) Time() time.Time {
	return ulid.Time(ulid.ULID(t).Time())
}
