// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON lines on stderr, no caller or stack traces
//   - Development: Colored console output with callers (-dev / SHMCOPY_LOG_DEV)
//
// Transfer code receives a child logger from ForTransfer so that every line
// of both processes carries the segment name and the role; the transfer id
// is added once the producer has published it.
//
// Example Usage:
//
//	logger := logging.FromSettings("info", false)
//	log := logger.ForTransfer("copy-1", "producer")
//	log.Info("Acting as reader", zap.String("source", src))
package logging
