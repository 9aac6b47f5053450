package presence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenn00/syncflow/internal/entity"
	"github.com/xenn00/syncflow/internal/store"
)

func currentDevices(t *testing.T, ms *store.MemoryStore) map[string]entity.PresenceRecord {
	t.Helper()
	sub, err := ms.Subscribe(context.Background(), store.PathDevices)
	require.NoError(t, err)
	defer sub.Close()
	select {
	case snap := <-sub.Snapshots():
		out := make(map[string]entity.PresenceRecord, len(snap))
		for id := range snap {
			var rec entity.PresenceRecord
			require.True(t, snap.Decode(id, &rec))
			out[id] = rec
		}
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no devices snapshot")
		return nil
	}
}

func TestSweepStale_EvictsOnlyExpired(t *testing.T) {
	records := []entity.PresenceRecord{
		{ID: "fresh", LastSeen: 50_000},
		{ID: "stale", LastSeen: 10_000},
	}

	evicted := SweepStale(records, time.UnixMilli(95_000), 60*time.Second)
	require.Len(t, evicted, 1)
	assert.Equal(t, "stale", evicted[0].ID)
}

func TestSweepStale_BoundaryFromHeartbeatSchedule(t *testing.T) {
	// device beat at t=0 and t=30000, then stopped
	rec := []entity.PresenceRecord{{ID: "d", LastSeen: 30_000}}

	assert.Empty(t, SweepStale(rec, time.UnixMilli(85_000), 60*time.Second),
		"55s of silence is within the threshold")
	assert.Len(t, SweepStale(rec, time.UnixMilli(95_000), 60*time.Second), 1,
		"65s of silence is past the threshold")
}

func TestSweepStale_Idempotent(t *testing.T) {
	records := []entity.PresenceRecord{
		{ID: "fresh", LastSeen: 50_000},
		{ID: "stale", LastSeen: 10_000},
	}
	now := time.UnixMilli(95_000)

	first := SweepStale(records, now, 60*time.Second)
	require.Len(t, first, 1)

	var remaining []entity.PresenceRecord
	for _, rec := range records {
		if rec.ID != first[0].ID {
			remaining = append(remaining, rec)
		}
	}
	assert.Empty(t, SweepStale(remaining, now, 60*time.Second), "second sweep over the survivors changes nothing")
}

func TestManager_RegisterPublishesImmediately(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	mgr := NewManager(ms, 30*time.Second, 60*time.Second).
		WithClock(func() time.Time { return time.UnixMilli(1_000) })

	h, err := mgr.Register(ctx, entity.PresenceRecord{ID: "dev1", Name: "phone", DeviceClass: entity.DeviceMobile})
	require.NoError(t, err)

	devices := currentDevices(t, ms)
	require.Contains(t, devices, "dev1")
	assert.Equal(t, int64(1_000), devices["dev1"].LastSeen)

	require.NoError(t, h.Release(ctx))
	assert.NotContains(t, currentDevices(t, ms), "dev1", "release deletes the record")
}

func TestManager_HeartbeatRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	var now atomic.Int64
	now.Store(1_000)
	mgr := NewManager(ms, 20*time.Millisecond, 60*time.Second).
		WithClock(func() time.Time { return time.UnixMilli(now.Load()) })

	h, err := mgr.Register(ctx, entity.PresenceRecord{ID: "dev1", Name: "phone"})
	require.NoError(t, err)
	defer h.Release(ctx)

	now.Store(2_000)
	require.Eventually(t, func() bool {
		return currentDevices(t, ms)["dev1"].LastSeen == 2_000
	}, 2*time.Second, 10*time.Millisecond, "a tick should republish with refreshed lastSeen")
}

func TestManager_ReleaseTwiceIsSafe(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	mgr := NewManager(ms, time.Hour, time.Hour)

	h, err := mgr.Register(ctx, entity.PresenceRecord{ID: "dev1"})
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))
	assert.NoError(t, h.Release(ctx))
}

func TestManager_SweepDeletesStaleRecords(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	mgr := NewManager(ms, 30*time.Second, 60*time.Second).
		WithClock(func() time.Time { return time.UnixMilli(95_000) })

	require.NoError(t, ms.Write(ctx, store.PathDevices, "stale", entity.PresenceRecord{ID: "stale", LastSeen: 10_000}))
	require.NoError(t, ms.Write(ctx, store.PathDevices, "fresh", entity.PresenceRecord{ID: "fresh", LastSeen: 90_000}))

	require.NoError(t, mgr.Sweep(ctx, []entity.PresenceRecord{
		{ID: "stale", LastSeen: 10_000},
		{ID: "fresh", LastSeen: 90_000},
	}))

	devices := currentDevices(t, ms)
	assert.NotContains(t, devices, "stale")
	assert.Contains(t, devices, "fresh")
}
