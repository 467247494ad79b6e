// Package config provides 12-factor configuration management for shmcopy.
//
// Values are resolved in three layers: built-in defaults, an optional TOML
// or YAML file (chosen by extension), then environment variables. The
// command line applies explicitly set flags on top of the result.
//
// Configuration Sections:
//   - Segment: directory, total size and attach timeout of the shared segment
//   - Transfer: slot count, chunk size, peer timeout, throttling, no-clobber
//   - Logging: Log level and output format
//   - Metrics: Prometheus textfile destination
//
// Sizes accept human-readable values ("64KiB", "4k"), durations accept
// time.ParseDuration syntax ("250ms", "5s").
//
// Example Usage:
//
//	cfg, err := config.Load("shmcopy.toml")
//	if err != nil {
//		return err
//	}
//	fmt.Printf("segment dir %s, %d slots of %s\n",
//		cfg.Segment.Dir, cfg.Transfer.Slots, cfg.Transfer.ChunkSize)
//
// Environment Variables:
//   - SHMCOPY_SEGMENT_DIR, SHMCOPY_SEGMENT_SIZE, SHMCOPY_ATTACH_TIMEOUT
//   - SHMCOPY_SLOTS, SHMCOPY_CHUNK_SIZE, SHMCOPY_PEER_TIMEOUT
//   - SHMCOPY_RATE_LIMIT, SHMCOPY_NO_CLOBBER
//   - SHMCOPY_LOG_LEVEL, SHMCOPY_LOG_DEV, SHMCOPY_METRICS_FILE
package config
