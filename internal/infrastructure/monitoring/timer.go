package monitoring

import "time"

// Timer measures a transfer from attach to teardown
type Timer struct {
	start   time.Time
	metrics *Metrics
	role    string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, role string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		role:    role,
	}
}

// Stop stops the timer, records the outcome and returns the elapsed time.
func (t *Timer) Stop(outcome string) time.Duration {
	duration := time.Since(t.start)
	t.metrics.RecordTransfer(t.role, outcome, duration)
	return duration
}
