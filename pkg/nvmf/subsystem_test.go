package nvmf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/status"
)

func newTestSubsystem(t *testing.T) (*Target, *Subsystem, func() int) {
	t.Helper()
	eng, tgt := newTestTarget(t)
	subsys, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)
	return tgt, subsys, eng.Poll
}

func TestSubsystem_Lifecycle(t *testing.T) {
	ctx := context.Background()
	_, subsys, _ := newTestSubsystem(t)

	assert.Equal(t, engine.SubsystemInactive, subsys.State())

	require.NoError(t, subsys.Start(ctx))
	assert.Equal(t, engine.SubsystemActive, subsys.State())

	require.NoError(t, subsys.Pause(ctx, engine.GlobalNSTag))
	assert.Equal(t, engine.SubsystemPaused, subsys.State())

	require.NoError(t, subsys.Resume(ctx))
	assert.Equal(t, engine.SubsystemActive, subsys.State())

	require.NoError(t, subsys.Stop(ctx))
	assert.Equal(t, engine.SubsystemInactive, subsys.State())
}

func TestSubsystem_IllegalTransitionsSurfaceEngineRejection(t *testing.T) {
	ctx := context.Background()
	_, subsys, _ := newTestSubsystem(t)

	// Inactive: stop, pause, resume are all illegal.
	assert.Equal(t, status.EAGAIN, subsys.Stop(ctx))
	assert.Equal(t, status.EAGAIN, subsys.Pause(ctx, engine.GlobalNSTag))
	assert.Equal(t, status.EAGAIN, subsys.Resume(ctx))

	require.NoError(t, subsys.Start(ctx))

	// Active: start and resume are illegal.
	assert.Equal(t, status.EAGAIN, subsys.Start(ctx))
	assert.Equal(t, status.EAGAIN, subsys.Resume(ctx))

	require.NoError(t, subsys.Pause(ctx, engine.GlobalNSTag))

	// Paused: start, stop, pause are illegal.
	assert.Equal(t, status.EAGAIN, subsys.Start(ctx))
	assert.Equal(t, status.EAGAIN, subsys.Stop(ctx))
	assert.Equal(t, status.EAGAIN, subsys.Pause(ctx, engine.GlobalNSTag))

	// The rejected submissions left the state untouched.
	assert.Equal(t, engine.SubsystemPaused, subsys.State())
}

func TestSubsystem_DeferredTransition(t *testing.T) {
	eng, tgt := newTestTarget(t)
	subsys, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)

	eng.DeferCompletions(true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- subsys.Start(context.Background())
	}()

	require.Eventually(t, func() bool {
		return eng.Poll() > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, <-errCh)
	assert.Equal(t, engine.SubsystemActive, subsys.State())
}

func TestSubsystemFromHandle_NilHandlePanics(t *testing.T) {
	eng, _ := newTestTarget(t)
	assert.Panics(t, func() {
		SubsystemFromHandle(eng, nil)
	})
}

func TestSubsystem_AllowAnyHost(t *testing.T) {
	eng, tgt := newTestTarget(t)
	subsys, err := tgt.AddSubsystem("nqn.2016-06.io.dittofab:vol0", engine.SubsystemTypeNVMe, 1)
	require.NoError(t, err)

	subsys.AllowAnyHost(true)
	assert.True(t, eng.AllowsAnyHost(subsys.Handle()))

	subsys.AllowAnyHost(false)
	assert.False(t, eng.AllowsAnyHost(subsys.Handle()))
}
