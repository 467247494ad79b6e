// Package transfer implements the chunk handoff protocol between a
// producer process reading a source and a consumer process writing a
// destination, and the session that picks a role and runs it.
//
// # Protocol
//
// Both loops visit slots round-robin, 0 to N-1, under a single lock.
//
// The producer reads up to C bytes into slot i, records the length and a
// 1-based sequence number, marks the slot ready and signals it. Unless the
// source is exhausted it then waits on slot i until the consumer has
// drained it. A short read ends the stream: finished is set and every
// waiter is woken. A source that is an exact multiple of C therefore ends
// with one zero-length terminal chunk.
//
// The consumer waits on slot i for ready or finished, writes the slot's
// bytes, clears ready and signals. It keeps going while the stream is not
// finished or the current slot is still ready, so no trailing chunk is
// lost.
//
// # Failures
//
// Stream I/O errors never cross the process boundary. A failed source read
// is published as an early finish; a failed destination write makes the
// consumer drain without writing. Both surface locally as ErrStreamIO.
//
// A peer that stops responding blocks the survivor forever unless a peer
// timeout or a cancellable context is supplied.
//
// # Usage
//
//	cfg := transfer.DefaultConfig()
//	cfg.Logger = logger
//	res, err := transfer.Run(ctx, "copy-1", cfg,
//		transfer.FileEndpoints("in.bin", "out.bin", false))
package transfer
