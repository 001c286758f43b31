package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofab/pkg/store/state"
)

func sampleRecord(name string) *state.TargetRecord {
	return &state.TargetRecord{
		Name: name,
		Transports: []state.TransportRecord{
			{Type: "tcp", MaxQueueDepth: 128},
		},
		Subsystems: []state.SubsystemRecord{
			{NQN: "nqn.2016-06.io.dittofab:vol0", Type: "nvme", NumNamespaces: 2},
		},
		Listeners: []state.ListenerRecord{
			{Trtype: "tcp", Traddr: "0.0.0.0", Trsvcid: "4420"},
		},
	}
}

func TestMemoryStateStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()
	defer store.Close()

	require.NoError(t, store.SaveTarget(ctx, sampleRecord("tgt0")))

	rec, err := store.LoadTarget(ctx, "tgt0")
	require.NoError(t, err)
	assert.Equal(t, "tgt0", rec.Name)
	assert.Len(t, rec.Transports, 1)
	assert.Len(t, rec.Subsystems, 1)
	assert.Equal(t, "nqn.2016-06.io.dittofab:vol0", rec.Subsystems[0].NQN)
}

func TestMemoryStateStore_LoadMissing(t *testing.T) {
	store := NewMemoryStateStore()
	defer store.Close()

	_, err := store.LoadTarget(context.Background(), "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestMemoryStateStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()
	defer store.Close()

	require.NoError(t, store.SaveTarget(ctx, sampleRecord("tgt0")))

	rec, err := store.LoadTarget(ctx, "tgt0")
	require.NoError(t, err)
	rec.Subsystems[0].NQN = "mutated"

	again, err := store.LoadTarget(ctx, "tgt0")
	require.NoError(t, err)
	assert.Equal(t, "nqn.2016-06.io.dittofab:vol0", again.Subsystems[0].NQN)
}

func TestMemoryStateStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()
	defer store.Close()

	require.NoError(t, store.SaveTarget(ctx, sampleRecord("tgt1")))
	require.NoError(t, store.SaveTarget(ctx, sampleRecord("tgt0")))

	names, err := store.ListTargets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tgt0", "tgt1"}, names)

	require.NoError(t, store.DeleteTarget(ctx, "tgt0"))
	assert.ErrorIs(t, store.DeleteTarget(ctx, "tgt0"), state.ErrNotFound)

	names, err = store.ListTargets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tgt1"}, names)
}

func TestMemoryStateStore_RejectsUnnamedRecord(t *testing.T) {
	store := NewMemoryStateStore()
	defer store.Close()

	assert.Error(t, store.SaveTarget(context.Background(), &state.TargetRecord{}))
	assert.Error(t, store.SaveTarget(context.Background(), nil))
}
