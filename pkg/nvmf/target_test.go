package nvmf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/engine/memory"
	"github.com/marmos91/dittofab/pkg/status"
)

func newTestTarget(t *testing.T) (*memory.Engine, *Target) {
	t.Helper()
	eng := memory.New()
	tgt := TargetFromHandle(eng, eng.CreateTarget("tgt0"))
	return eng, tgt
}

func newTestTransport(t *testing.T, eng *memory.Engine) *Transport {
	t.Helper()
	tr, err := NewTransport(eng, "tcp", nil)
	require.NoError(t, err)
	return tr
}

// pollUntilDelivered drives a deferred-mode engine until it has delivered
// at least one queued completion.
func pollUntilDelivered(t *testing.T, eng *memory.Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		return eng.Poll() > 0
	}, time.Second, time.Millisecond)
}

func TestTargetFromHandle_NilHandlePanics(t *testing.T) {
	eng := memory.New()
	assert.Panics(t, func() {
		TargetFromHandle(eng, nil)
	})
}

func TestCreateTarget(t *testing.T) {
	eng := memory.New()
	tgt, err := CreateTarget(eng, "tgt0")
	require.NoError(t, err)
	assert.Equal(t, "tgt0", tgt.Name())
}

func TestTarget_Name(t *testing.T) {
	_, tgt := newTestTarget(t)
	assert.Equal(t, "tgt0", tgt.Name())
}

func TestTarget_AddTransport_TransfersOwnership(t *testing.T) {
	eng, tgt := newTestTarget(t)
	tr := newTestTransport(t, eng)

	require.NoError(t, tgt.AddTransport(context.Background(), tr))

	// Ownership transferred: the caller's value is neutralized.
	assert.Panics(t, func() {
		_ = tr.Destroy(context.Background())
	})

	// The transport is now reachable through the target's collection.
	got := tgt.Transports().Next()
	require.NotNil(t, got)
	assert.Equal(t, "tcp", got.Type())
}

func TestTarget_AddTransport_FailureDestroysTransport(t *testing.T) {
	eng, tgt := newTestTarget(t)
	tr := newTestTransport(t, eng)

	eng.FailNextAddTransport(status.EINVAL)

	// The caller observes the original registration failure, not any
	// teardown status.
	err := tgt.AddTransport(context.Background(), tr)
	assert.Equal(t, status.EINVAL, err)

	// Nothing was attached.
	assert.Nil(t, tgt.Transports().Next())

	// The transport was destroyed by AddTransport itself, not left
	// dangling: a second destroy is a double free.
	assert.Panics(t, func() {
		_ = tr.Destroy(context.Background())
	})
}

func TestTarget_AddTransport_DeferredCompletion(t *testing.T) {
	eng, tgt := newTestTarget(t)
	tr := newTestTransport(t, eng)

	eng.DeferCompletions(true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- tgt.AddTransport(context.Background(), tr)
	}()

	pollUntilDelivered(t, eng)
	require.NoError(t, <-errCh)
	assert.NotNil(t, tgt.Transports().Next())
}

func TestTarget_AddTransport_AbandonedWaitLeavesTransportAlone(t *testing.T) {
	eng, tgt := newTestTarget(t)
	tr := newTestTransport(t, eng)

	eng.DeferCompletions(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The wait is abandoned, not failed: no teardown, no panic.
	err := tgt.AddTransport(ctx, tr)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, tgt.Transports().Next())

	// The submission stays committed; the next poll attaches the
	// transport and the late completion is absorbed.
	pollUntilDelivered(t, eng)
	got := tgt.Transports().Next()
	require.NotNil(t, got)
	assert.Equal(t, "tcp", got.Type())
}

func TestTarget_AddSubsystem(t *testing.T) {
	_, tgt := newTestTarget(t)

	subsys, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 4)
	require.NoError(t, err)

	assert.Equal(t, "nqn.2016-06.io.dittofab:vol0", subsys.NQN())
	assert.Equal(t, engine.SubsystemInactive, subsys.State())
	assert.NotEmpty(t, subsys.Serial())
}

func TestTarget_AddSubsystem_AllocationFailure(t *testing.T) {
	eng, tgt := newTestTarget(t)

	eng.FailNextCreateSubsystem()
	_, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	assert.Equal(t, status.ENOMEM, err)
}

func TestTarget_AddSubsystem_DuplicateNQN(t *testing.T) {
	_, tgt := newTestTarget(t)

	_, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)

	_, err = tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	assert.Equal(t, status.ENOMEM, err)
}

func TestTarget_RemoveSubsystem_Synchronous(t *testing.T) {
	_, tgt := newTestTarget(t)

	subsys, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)

	require.NoError(t, tgt.RemoveSubsystem(context.Background(), subsys))
	assert.Nil(t, tgt.Subsystems().Next())
}

func TestTarget_RemoveSubsystem_InProgress(t *testing.T) {
	eng, tgt := newTestTarget(t)

	subsys, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)

	eng.DeferCompletions(true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- tgt.RemoveSubsystem(context.Background(), subsys)
	}()

	pollUntilDelivered(t, eng)
	require.NoError(t, <-errCh)
	assert.Nil(t, tgt.Subsystems().Next())
}

func TestTarget_RemoveSubsystem_Rejected(t *testing.T) {
	_, tgt := newTestTarget(t)

	subsys, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)
	require.NoError(t, subsys.Start(context.Background()))

	// An active subsystem is not destroyable; the rejection surfaces
	// verbatim and the subsystem stays.
	err = tgt.RemoveSubsystem(context.Background(), subsys)
	assert.Equal(t, status.EAGAIN, err)
	assert.NotNil(t, tgt.Subsystems().Next())
}

func TestTarget_EnableDiscovery(t *testing.T) {
	eng, tgt := newTestTarget(t)

	discovery, err := tgt.EnableDiscovery()
	require.NoError(t, err)

	assert.Equal(t, engine.DiscoveryNQN, discovery.NQN())
	assert.Equal(t, engine.SubsystemTypeDiscovery, discovery.Type())
	assert.True(t, eng.AllowsAnyHost(discovery.Handle()))
}

func TestTarget_StartSubsystems_AbortsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	_, tgt := newTestTarget(t)

	a, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:a", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)
	b, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:b", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)
	c, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:c", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)

	// Make b's start illegal by starting it up front.
	require.NoError(t, b.Start(ctx))

	err = tgt.StartSubsystems(ctx)
	assert.Equal(t, status.EAGAIN, err)

	// a transitioned, b's failure was surfaced, c was never attempted. No
	// rollback of a.
	assert.Equal(t, engine.SubsystemActive, a.State())
	assert.Equal(t, engine.SubsystemActive, b.State())
	assert.Equal(t, engine.SubsystemInactive, c.State())
}

func TestTarget_StopSubsystems(t *testing.T) {
	ctx := context.Background()
	_, tgt := newTestTarget(t)

	for _, nqn := range []string{"nqn.a", "nqn.b"} {
		_, err := tgt.AddSubsystem(nqn, engine.SubsystemTypeNVMe, 1)
		require.NoError(t, err)
	}
	require.NoError(t, tgt.StartSubsystems(ctx))
	require.NoError(t, tgt.StopSubsystems(ctx))

	for subsys := range tgt.Subsystems().All() {
		assert.Equal(t, engine.SubsystemInactive, subsys.State())
	}
}

func TestTarget_PauseAndResumeSubsystems(t *testing.T) {
	ctx := context.Background()
	_, tgt := newTestTarget(t)

	_, err := tgt.AddSubsystem("nqn.a", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)

	require.NoError(t, tgt.StartSubsystems(ctx))
	require.NoError(t, tgt.PauseSubsystems(ctx))

	for subsys := range tgt.Subsystems().All() {
		assert.Equal(t, engine.SubsystemPaused, subsys.State())
	}

	require.NoError(t, tgt.ResumeSubsystems(ctx))

	for subsys := range tgt.Subsystems().All() {
		assert.Equal(t, engine.SubsystemActive, subsys.State())
	}
}

func TestTarget_Listen(t *testing.T) {
	eng, tgt := newTestTarget(t)

	id := &engine.TransportID{Trtype: "tcp", Adrfam: "ipv4", Traddr: "127.0.0.1", Trsvcid: "4420"}

	// No matching transport attached yet.
	assert.Equal(t, status.ENODEV, tgt.Listen(id))

	tr := newTestTransport(t, eng)
	require.NoError(t, tgt.AddTransport(context.Background(), tr))

	require.NoError(t, tgt.Listen(id))
	assert.Len(t, eng.Listeners(tgt.Handle()), 1)

	// Registering the same address twice is rejected.
	assert.Equal(t, status.EEXIST, tgt.Listen(id))
}

// TestTarget_EndToEnd exercises the full bring-up sequence: transport
// attach, discovery subsystem, activation.
func TestTarget_EndToEnd(t *testing.T) {
	ctx := context.Background()
	eng, tgt := newTestTarget(t)

	tr := newTestTransport(t, eng)
	require.NoError(t, tgt.AddTransport(ctx, tr))

	discovery, err := tgt.EnableDiscovery()
	require.NoError(t, err)

	require.NoError(t, tgt.StartSubsystems(ctx))

	assert.Equal(t, engine.SubsystemActive, discovery.State())
	assert.Equal(t, engine.DiscoveryNQN, discovery.NQN())
}
