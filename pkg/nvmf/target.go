// Package nvmf is the control plane over an NVMe-oF storage engine's
// targets, transports, and subsystems.
//
// The engine (see pkg/engine) owns every resource; this package wraps the
// engine's opaque handles in types that enforce the lifecycle protocol:
// single-ownership transfer of transports, the subsystem activation state
// machine, and the bridging of callback-based completions into blocking
// calls via pkg/task.
//
// All suspending operations take a context, but cancellation does not
// cancel the underlying engine operation; see task.Promise.Await.
package nvmf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/metrics"
	"github.com/marmos91/dittofab/pkg/status"
	"github.com/marmos91/dittofab/pkg/task"
)

// Target is an exported NVMe-oF storage endpoint. It exclusively owns zero
// or more transports and zero or more subsystems for its lifetime.
//
// The target itself is created and destroyed by the engine; Target only
// references it and is never responsible for freeing it.
type Target struct {
	eng engine.Engine
	h   engine.TargetHandle
	m   metrics.TargetMetrics
}

// CreateTarget asks the engine to allocate a new named target and wraps
// it. Returns ENOMEM when the engine cannot allocate it.
func CreateTarget(eng engine.Engine, name string) (*Target, error) {
	h := eng.CreateTarget(name)
	if h == nil {
		return nil, status.ENOMEM
	}
	return TargetFromHandle(eng, h), nil
}

// TargetFromHandle wraps a raw engine target handle.
//
// Panics if h is nil. The engine contract guarantees a non-nil handle for
// every live target, so nil signals a contract violation by the caller,
// not a recoverable runtime failure.
func TargetFromHandle(eng engine.Engine, h engine.TargetHandle) *Target {
	if h == nil {
		panic("nvmf: target handle must not be nil")
	}
	return &Target{eng: eng, h: h, m: metrics.NewNoopTargetMetrics()}
}

// UseMetrics attaches a metrics sink to this target and the subsystems it
// hands out. Pass nil to disable collection.
func (t *Target) UseMetrics(m metrics.TargetMetrics) {
	if m == nil {
		m = metrics.NewNoopTargetMetrics()
	}
	t.m = m
}

// Name returns the target's identifier.
func (t *Target) Name() string {
	return t.eng.TargetName(t.h)
}

// Handle returns the underlying engine handle.
func (t *Target) Handle() engine.TargetHandle {
	return t.h
}

// AddTransport registers tr with the target and suspends until the engine
// completes the registration.
//
// On success, ownership of tr transfers to the target: the caller's value
// is neutralized and destroying it afterwards panics. On failure, the
// transport was never attached; AddTransport destroys it here, explicitly
// and through the completion bridge, rather than leaving an implicit
// teardown to block the execution context. The caller observes the original
// registration failure, never the teardown's status - a teardown failure at
// this point is unrecoverable and panics.
//
// Context cancellation is a third outcome, distinct from failure: the
// registration is already committed to the engine and may still complete,
// so the transport is left alone and the context's error is returned. The
// caller no longer learns whether ownership transferred and must not touch
// tr afterwards.
func (t *Target) AddTransport(ctx context.Context, tr *Transport) error {
	err := task.New(func(cx *task.Completion) error {
		return status.FromRaw(t.eng.AddTransport(t.h, tr.h, task.CompleteWithStatus, cx))
	}).Await(ctx)

	t.m.RecordTransportAdded(err)

	if err != nil {
		if errors.Is(err, ctx.Err()) {
			// Abandoned wait, not a registration failure: the engine may
			// be attaching tr right now, so it must not be torn down.
			return err
		}
		// The teardown must still be able to suspend on its completion
		// even if ctx was cancelled between the two waits.
		if derr := tr.Destroy(context.WithoutCancel(ctx)); derr != nil {
			panic(fmt.Sprintf("nvmf: destroying unattached transport failed: %v", derr))
		}
		return err
	}

	// The transport is now owned by the target.
	tr.release()
	return nil
}

// Transports returns an iterator over the transports currently owned by
// the target. The sequence is lazy and reflects the target's state at
// traversal time, not a snapshot.
func (t *Target) Transports() *Transports {
	return &Transports{eng: t.eng, cur: t.eng.FirstTransport(t.h)}
}

// AddSubsystem creates a subsystem on the target, in the Inactive state.
//
// A subsystem is a collection of namespaces exported over NVMe-oF. It can
// be in one of three states: Inactive, Active, or Paused; this state
// affects which operations may be performed on it. On creation the
// subsystem is Inactive and may be activated with Subsystem.Start. No I/O
// is processed in the Inactive or Paused states, but changes to the
// subsystem's configuration may be made.
//
// nqn must be unique on the target. Returns ENOMEM when the engine cannot
// allocate the subsystem.
func (t *Target) AddSubsystem(nqn string, st engine.SubsystemType, numNamespaces uint32) (*Subsystem, error) {
	h := t.eng.CreateSubsystem(t.h, nqn, st, numNamespaces)
	if h == nil {
		return nil, status.ENOMEM
	}

	t.m.RecordSubsystemCreated(st.String())
	return &Subsystem{eng: t.eng, h: h, m: t.m}, nil
}

// RemoveSubsystem destroys a subsystem owned by the target.
//
// The engine primitive has three outcomes. It may destroy the subsystem
// synchronously, in which case no callback will ever fire and this method
// drives the completion path itself. It may report EINPROGRESS, meaning the
// destruction was accepted and finishes asynchronously; that is a
// successful submission, and the eventual completion resolves the wait.
// Any other status is a genuine rejection (for example, a subsystem not in
// a destroyable state) and is returned to the caller.
func (t *Target) RemoveSubsystem(ctx context.Context, s *Subsystem) error {
	started := time.Now()

	err := task.New(func(cx *task.Completion) error {
		switch err := status.FromRaw(t.eng.DestroySubsystem(s.h, task.CompleteWithOK, cx)); {
		case err == nil:
			// Destroyed synchronously: invoke the completion ourselves so
			// resolution is identical to the asynchronous path.
			task.CompleteWithOK(cx, 0)
			return nil
		case err == status.EINPROGRESS:
			// Being destroyed asynchronously; the callback resolves us.
			return nil
		default:
			return err
		}
	}).Await(ctx)

	t.m.RecordTransition("destroy", time.Since(started), err)
	if err == nil {
		t.m.RecordSubsystemRemoved()
	}
	return err
}

// Subsystems returns an iterator over the subsystems currently owned by
// the target.
func (t *Target) Subsystems() *Subsystems {
	return &Subsystems{eng: t.eng, m: t.m, cur: t.eng.FirstSubsystem(t.h)}
}

// EnableDiscovery creates the well-known discovery subsystem on this
// target and opens it to any host, returning it.
func (t *Target) EnableDiscovery() (*Subsystem, error) {
	discovery, err := t.AddSubsystem(engine.DiscoveryNQN, engine.SubsystemTypeDiscovery, 0)
	if err != nil {
		return nil, err
	}

	discovery.AllowAnyHost(true)
	return discovery, nil
}

// StartSubsystems starts every subsystem on the target, in iteration
// order. The first failure aborts the remaining sequence and is returned;
// already-started subsystems are not rolled back.
func (t *Target) StartSubsystems(ctx context.Context) error {
	for subsys := range t.Subsystems().All() {
		if err := subsys.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopSubsystems stops every subsystem on the target, in iteration order,
// aborting on the first failure.
func (t *Target) StopSubsystems(ctx context.Context) error {
	for subsys := range t.Subsystems().All() {
		if err := subsys.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PauseSubsystems pauses every subsystem on the target, in iteration
// order, aborting on the first failure.
func (t *Target) PauseSubsystems(ctx context.Context) error {
	for subsys := range t.Subsystems().All() {
		if err := subsys.Pause(ctx, engine.GlobalNSTag); err != nil {
			return err
		}
	}
	return nil
}

// ResumeSubsystems resumes every subsystem on the target, in iteration
// order, aborting on the first failure.
func (t *Target) ResumeSubsystems(ctx context.Context) error {
	for subsys := range t.Subsystems().All() {
		if err := subsys.Resume(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Listen initializes default listen options for the given fabric address
// and registers the target to begin accepting connections on it.
// Synchronous; a transport of the matching type must already be attached.
func (t *Target) Listen(id *engine.TransportID) error {
	var opts engine.ListenOpts
	engine.InitListenOpts(&opts)

	return status.FromRaw(t.eng.Listen(t.h, id, &opts))
}
