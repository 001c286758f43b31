package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofab/pkg/engine"
	"github.com/marmos91/dittofab/pkg/engine/memory"
	"github.com/marmos91/dittofab/pkg/nvmf"
	"github.com/marmos91/dittofab/pkg/status"
	"github.com/marmos91/dittofab/pkg/store/state"
	statememory "github.com/marmos91/dittofab/pkg/store/state/memory"
)

func testRecord(name string) *state.TargetRecord {
	return &state.TargetRecord{
		Name: name,
		Transports: []state.TransportRecord{
			{Type: "tcp"},
		},
		Subsystems: []state.SubsystemRecord{
			{NQN: engine.DiscoveryNQN, Type: "discovery", AllowAnyHost: true},
			{NQN: "nqn.2016-06.io.spdk:cnode1", Type: "nvme", NumNamespaces: 8, AllowAnyHost: true},
		},
		Listeners: []state.ListenerRecord{
			{Trtype: "tcp", Adrfam: "ipv4", Traddr: "127.0.0.1", Trsvcid: "4420"},
		},
	}
}

func newTestServer(t *testing.T) (*memory.Engine, *statememory.MemoryStateStore, *FabServer) {
	t.Helper()
	eng := memory.New()
	store := statememory.NewMemoryStateStore()
	t.Cleanup(func() { _ = store.Close() })
	return eng, store, New(eng, store, Options{})
}

func TestNew_NilArgumentsPanic(t *testing.T) {
	eng := memory.New()
	store := statememory.NewMemoryStateStore()

	assert.Panics(t, func() { New(nil, store, Options{}) })
	assert.Panics(t, func() { New(eng, nil, Options{}) })
}

func TestApplyRecord_BringsUpTarget(t *testing.T) {
	eng, store, srv := newTestServer(t)

	tgt, err := srv.ApplyRecord(context.Background(), testRecord("tgt0"))
	require.NoError(t, err)
	require.Equal(t, "tgt0", tgt.Name())

	// One transport attached
	var trtypes []string
	for tr := range tgt.Transports().All() {
		trtypes = append(trtypes, tr.Type())
	}
	assert.Equal(t, []string{"tcp"}, trtypes)

	// Discovery plus one NVMe subsystem, all started
	var nqns []string
	for subsys := range tgt.Subsystems().All() {
		nqns = append(nqns, subsys.NQN())
		assert.Equal(t, engine.SubsystemActive, subsys.State())
		assert.True(t, eng.AllowsAnyHost(subsys.Handle()))
	}
	assert.ElementsMatch(t, []string{engine.DiscoveryNQN, "nqn.2016-06.io.spdk:cnode1"}, nqns)

	// Listener registered
	assert.Len(t, eng.Listeners(tgt.Handle()), 1)

	// Definition persisted with a timestamp
	rec, err := store.LoadTarget(context.Background(), "tgt0")
	require.NoError(t, err)
	assert.False(t, rec.SavedAt.IsZero())
}

func TestApplyRecord_NoName(t *testing.T) {
	_, _, srv := newTestServer(t)

	_, err := srv.ApplyRecord(context.Background(), &state.TargetRecord{})
	assert.Error(t, err)
}

func TestApplyRecord_TransportFailureAborts(t *testing.T) {
	eng, store, srv := newTestServer(t)
	eng.FailNextAddTransport(status.EIO)

	_, err := srv.ApplyRecord(context.Background(), testRecord("tgt0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.EIO)

	// Nothing persisted for the failed bring-up
	_, err = store.LoadTarget(context.Background(), "tgt0")
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.Empty(t, srv.Targets())
}

func TestApplyRecord_SubsystemFailureAborts(t *testing.T) {
	eng, _, srv := newTestServer(t)
	eng.FailNextCreateSubsystem()

	_, err := srv.ApplyRecord(context.Background(), testRecord("tgt0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ENOMEM)
}

func TestApplyRecord_ListenerWithoutTransport(t *testing.T) {
	_, _, srv := newTestServer(t)

	rec := testRecord("tgt0")
	rec.Listeners[0].Trtype = "rdma"

	_, err := srv.ApplyRecord(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ENODEV)
}

func TestRestore_ReplaysSavedDefinitions(t *testing.T) {
	eng := memory.New()
	store := statememory.NewMemoryStateStore()
	defer func() { _ = store.Close() }()

	// A previous run saved two targets
	for _, name := range []string{"tgt0", "tgt1"} {
		rec := testRecord(name)
		rec.SavedAt = time.Now().UTC()
		require.NoError(t, store.SaveTarget(context.Background(), rec))
	}

	srv := New(eng, store, Options{})
	require.NoError(t, srv.Restore(context.Background()))

	targets := srv.Targets()
	require.Len(t, targets, 2)
	for _, tgt := range targets {
		for subsys := range tgt.Subsystems().All() {
			assert.Equal(t, engine.SubsystemActive, subsys.State())
		}
	}
}

func TestRestore_EmptyStore(t *testing.T) {
	_, _, srv := newTestServer(t)
	require.NoError(t, srv.Restore(context.Background()))
	assert.Empty(t, srv.Targets())
}

func TestServe_PollsAndStopsOnCancel(t *testing.T) {
	eng, _, srv := newTestServer(t)

	// Bring the target up before deferring completions so bring-up
	// completes inline.
	tgt, err := srv.ApplyRecord(context.Background(), testRecord("tgt0"))
	require.NoError(t, err)

	eng.DeferCompletions(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	// A deferred subsystem stop only resolves if the serve loop polls.
	var subsys *nvmf.Subsystem
	for s := range tgt.Subsystems().All() {
		if s.NQN() != engine.DiscoveryNQN {
			subsys = s
			break
		}
	}
	require.NotNil(t, subsys)
	require.NoError(t, subsys.Stop(context.Background()))
	assert.Equal(t, engine.SubsystemInactive, subsys.State())

	// Re-enable inline completion so shutdown's stop calls resolve.
	eng.DeferCompletions(false)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	// Shutdown stopped the remaining subsystems.
	for s := range tgt.Subsystems().All() {
		assert.Equal(t, engine.SubsystemInactive, s.State())
	}
}

func TestServe_SecondCallPanics(t *testing.T) {
	_, _, srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = srv.Serve(ctx)

	assert.Panics(t, func() { _ = srv.Serve(context.Background()) })
}

func TestForget_RemovesTargetAndDefinition(t *testing.T) {
	_, store, srv := newTestServer(t)

	tgt, err := srv.ApplyRecord(context.Background(), testRecord("tgt0"))
	require.NoError(t, err)

	require.NoError(t, srv.Forget(context.Background(), tgt))
	assert.Empty(t, srv.Targets())

	_, err = store.LoadTarget(context.Background(), "tgt0")
	assert.ErrorIs(t, err, state.ErrNotFound)
}
