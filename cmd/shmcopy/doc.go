// Package main is the entry point for shmcopy, a two-process file copy
// through a named shared memory segment.
//
// Run the same command twice with the same segment name. The first
// invocation attaches as the reader and streams the source into the
// segment; the second attaches as the writer, writes the destination and
// deletes the segment.
//
// Architecture:
//
//	source → reader process → /dev/shm/shmcopy_<name> → writer process → destination
//
// Configuration:
//   - Defaults for the reference protocol (2 slots of 4KiB in 64KiB)
//   - Optional -config file (TOML or YAML)
//   - Environment variables (SHMCOPY_*)
//   - CLI flags (override everything above)
//
// Usage:
//
//	# Terminal 1: becomes the reader and waits
//	shmcopy big.iso /tmp/copy.iso xfer1
//
//	# Terminal 2: becomes the writer
//	shmcopy big.iso /tmp/copy.iso xfer1
//
//	# Inspect or clear a segment left by a crashed run
//	shmcopy -inspect xfer1
//	shmcopy -remove xfer1
//
// Exit status is 0 on success and 1 otherwise, including a transfer that
// was truncated by a read or write failure.
//
// Signals:
//   - SIGINT, SIGTERM: abandon the transfer; a reader marks the stream
//     finished so a live writer stops with a truncated file
package main
