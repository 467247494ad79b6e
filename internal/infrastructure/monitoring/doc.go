/*
Package monitoring provides transfer metrics collection.

# Overview

This package implements Prometheus-based metrics for a single shmcopy
process. A copy is a short-lived batch job, so nothing is served over
HTTP: the collected values are written once, at exit, in the Prometheus
text format for a node_exporter textfile collector.

# Features

- Chunk metrics (count, payload bytes, zero-length terminal chunks)
- Slot wait latency
- Source and destination stream failures
- Transfer outcome and duration

# Usage

	metrics := monitoring.NewMetrics()

	timer := monitoring.NewTimer(metrics, "producer")
	// ... run the transfer ...
	timer.Stop(monitoring.OutcomeSuccess)

	if err := metrics.WriteTextfile("/var/lib/node_exporter/shmcopy.prom"); err != nil {
		log.Warn("metrics not written", zap.Error(err))
	}

A nil *Metrics is valid and records nothing.
*/
package monitoring
