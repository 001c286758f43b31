package nvmf

import (
	"context"
	"time"

	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/metrics"
	"github.com/marmos91/dittofab/pkg/status"
	"github.com/marmos91/dittofab/pkg/task"
)

// Subsystem is a named collection of exported namespaces with its own
// activation state machine.
//
// A subsystem is created Inactive by Target.AddSubsystem. In the Inactive
// and Paused states configuration changes are allowed but no I/O is
// served; Active serves I/O. Legal transitions:
//
//	Inactive --Start--> Active
//	Active   --Stop--> Inactive
//	Active   --Pause--> Paused
//	Paused   --Resume--> Active
//
// The engine holds the authoritative state. This type does not pre-validate
// transitions client-side - it submits them and surfaces the engine's
// rejection status verbatim, so the two can never diverge.
type Subsystem struct {
	eng engine.Engine
	h   engine.SubsystemHandle
	m   metrics.TargetMetrics
}

// SubsystemFromHandle wraps a raw engine subsystem handle.
//
// Panics if h is nil; see TransportFromHandle.
func SubsystemFromHandle(eng engine.Engine, h engine.SubsystemHandle) *Subsystem {
	if h == nil {
		panic("nvmf: subsystem handle must not be nil")
	}
	return &Subsystem{eng: eng, h: h, m: metrics.NewNoopTargetMetrics()}
}

// NQN returns the subsystem's qualified name.
func (s *Subsystem) NQN() string {
	return s.eng.SubsystemNQN(s.h)
}

// Serial returns the serial number the engine assigned at creation.
func (s *Subsystem) Serial() string {
	return s.eng.SubsystemSerial(s.h)
}

// Type returns the subsystem's type.
func (s *Subsystem) Type() engine.SubsystemType {
	return s.eng.SubsystemType(s.h)
}

// State returns the engine-authoritative lifecycle state.
func (s *Subsystem) State() engine.SubsystemState {
	return s.eng.SubsystemState(s.h)
}

// AllowAnyHost configures whether any host may connect to this subsystem.
// Only meaningful before the subsystem starts serving I/O.
func (s *Subsystem) AllowAnyHost(allow bool) {
	s.eng.AllowAnyHost(s.h, allow)
}

// Handle returns the underlying engine handle.
func (s *Subsystem) Handle() engine.SubsystemHandle {
	return s.h
}

// Start activates the subsystem so it begins serving I/O.
func (s *Subsystem) Start(ctx context.Context) error {
	return s.transition(ctx, "start", func(cx *task.Completion) int32 {
		return s.eng.StartSubsystem(s.h, task.CompleteWithStatus, cx)
	})
}

// Stop deactivates the subsystem. I/O stops; configuration changes become
// allowed again.
func (s *Subsystem) Stop(ctx context.Context) error {
	return s.transition(ctx, "stop", func(cx *task.Completion) int32 {
		return s.eng.StopSubsystem(s.h, task.CompleteWithStatus, cx)
	})
}

// Pause suspends I/O for the namespace identified by nsid. Pass
// engine.GlobalNSTag to pause every namespace.
func (s *Subsystem) Pause(ctx context.Context, nsid uint32) error {
	return s.transition(ctx, "pause", func(cx *task.Completion) int32 {
		return s.eng.PauseSubsystem(s.h, nsid, task.CompleteWithStatus, cx)
	})
}

// Resume lifts a pause and returns the subsystem to Active.
func (s *Subsystem) Resume(ctx context.Context) error {
	return s.transition(ctx, "resume", func(cx *task.Completion) int32 {
		return s.eng.ResumeSubsystem(s.h, task.CompleteWithStatus, cx)
	})
}

// transition bridges one lifecycle submission through a Promise. A nonzero
// submission return means the engine rejected the transition outright and
// no completion will fire; otherwise the outcome arrives through the
// completion callback, inline or deferred.
func (s *Subsystem) transition(ctx context.Context, op string, submit func(cx *task.Completion) int32) error {
	started := time.Now()

	err := task.New(func(cx *task.Completion) error {
		return status.FromRaw(submit(cx))
	}).Await(ctx)

	s.m.RecordTransition(op, time.Since(started), err)
	return err
}
