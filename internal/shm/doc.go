// Package shm provides the named shared-memory segment that carries a
// shmcopy transfer between two processes.
//
// A segment is a fixed-size file under a shared-memory directory (/dev/shm
// by default) mapped MAP_SHARED by both participants. Its first bytes hold a
// plain-old-data header; the slot table and the slot buffers follow:
//
//	+--------------------+ 0x00
//	| header (64 B)      |  magic, version, attach state, lock word,
//	|                    |  slot count, chunk capacity, finished flag,
//	|                    |  producer/consumer PIDs, transfer id
//	+--------------------+ 0x40
//	| slot table         |  per slot: cond seq, ready, length, chunk seq
//	+--------------------+ aligned to 64 B
//	| slot buffers       |  N x chunk capacity (stride aligned to 64 B)
//	+--------------------+
//
// Synchronization is built from Linux futexes on words inside the mapping:
// a three-state mutex on the header lock word and one sequence-counter
// condition variable per slot. Both work across processes because the
// futexes are keyed on the shared file mapping, not on a private address.
//
// Roles are negotiated with a compare-and-swap on the attach state word:
//
//	empty ──CAS──▶ constructing ──store──▶ producer ──CAS──▶ consumer
//
// The first process to win the empty→constructing swap initializes the
// structure and is the producer. A process that finds the structure
// constructed attaches as the consumer; any later attacher gets
// ErrSegmentBusy.
//
// Example Usage:
//
//	seg, err := shm.OpenOrCreate("copy-1", shm.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer seg.Close()
//
//	switch seg.Probe() {
//	case shm.RoleProducer:
//		tr, err := seg.AttachProducer(shm.ProducerOptions{Slots: 2, ChunkCapacity: 4096})
//		...
//	case shm.RoleConsumer:
//		tr, err := seg.AttachConsumer(ctx, shm.ConsumerOptions{})
//		...
//	}
package shm
