package metrics

import "time"

// TargetMetrics provides observability for target control-plane
// operations.
//
// Implementations can collect metrics about transport registration,
// subsystem lifecycle transitions, and their outcomes. This interface is
// optional - if not provided, a no-op implementation is used with zero
// overhead.
type TargetMetrics interface {
	// RecordTransition records a completed subsystem lifecycle transition
	// with its operation name, duration, and outcome.
	//
	// Parameters:
	//   - op: transition name ("start", "stop", "pause", "resume", "destroy")
	//   - duration: time from submission to completion
	//   - err: error if the transition failed, nil if successful
	RecordTransition(op string, duration time.Duration, err error)

	// RecordTransportAdded records the outcome of adding a transport to a
	// target.
	RecordTransportAdded(err error)

	// RecordSubsystemCreated records a subsystem creation, labelled by
	// subsystem type ("nvme", "discovery").
	RecordSubsystemCreated(subtype string)

	// RecordSubsystemRemoved records a subsystem removal.
	RecordSubsystemRemoved()
}

// noopTargetMetrics is a zero-overhead TargetMetrics used when metrics are
// disabled.
type noopTargetMetrics struct{}

func (noopTargetMetrics) RecordTransition(string, time.Duration, error) {}
func (noopTargetMetrics) RecordTransportAdded(error)                    {}
func (noopTargetMetrics) RecordSubsystemCreated(string)                 {}
func (noopTargetMetrics) RecordSubsystemRemoved()                       {}

// NewNoopTargetMetrics returns a TargetMetrics implementation that
// discards everything.
func NewNoopTargetMetrics() TargetMetrics {
	return noopTargetMetrics{}
}
