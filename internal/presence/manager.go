package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/internal/entity"
	"github.com/xenn00/syncflow/internal/store"
)

// Manager owns this client's presence record: it publishes the record, keeps
// it fresh with periodic heartbeats, and evicts peers that stopped beating.
type Manager struct {
	store    store.RealtimeStore
	interval time.Duration
	stale    time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewManager(st store.RealtimeStore, heartbeat, staleThreshold time.Duration) *Manager {
	return &Manager{
		store:    st,
		interval: heartbeat,
		stale:    staleThreshold,
		now:      time.Now,
		log:      log.With().Str("component", "presence").Logger(),
	}
}

// WithClock overrides the time source. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Handle keeps one registration's heartbeat alive until released.
type Handle struct {
	manager *Manager
	record  entity.PresenceRecord
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Register publishes the record immediately and starts the heartbeat loop.
// The store is additionally told to drop the record if this client
// disconnects without an orderly Release.
func (m *Manager) Register(ctx context.Context, rec entity.PresenceRecord) (*Handle, error) {
	rec.LastSeen = m.now().UnixMilli()
	if err := m.store.Write(ctx, store.PathDevices, rec.ID, rec); err != nil {
		return nil, err
	}
	if err := m.store.OnDisconnectCleanup(ctx, store.PathDevices, rec.ID); err != nil {
		m.log.Warn().Err(err).Str("device", rec.ID).Msg("disconnect cleanup registration failed")
	}

	h := &Handle{
		manager: m,
		record:  rec,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.beat(ctx)
	m.log.Info().Str("device", rec.ID).Str("name", rec.Name).Msg("device registered")
	return h, nil
}

// beat re-publishes the record every interval with a refreshed lastSeen. A
// failed publish is not retried on its own: the next tick is the retry.
func (h *Handle) beat(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.manager.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := h.record
			rec.LastSeen = h.manager.now().UnixMilli()
			if err := h.manager.store.Write(ctx, store.PathDevices, rec.ID, rec); err != nil {
				h.manager.log.Warn().Err(err).Str("device", rec.ID).Msg("heartbeat publish failed, waiting for next tick")
			}
		}
	}
}

// Release stops the heartbeat and deletes the record. Safe to call twice.
func (h *Handle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		err = h.manager.store.Delete(ctx, store.PathDevices, h.record.ID)
		h.manager.log.Info().Str("device", h.record.ID).Msg("device released")
	})
	return err
}

// SweepStale returns every record whose lastSeen is older than threshold at
// now. Pure: callers delete the result. Running it twice over the already
// evicted remainder returns nothing.
func SweepStale(records []entity.PresenceRecord, now time.Time, threshold time.Duration) []entity.PresenceRecord {
	var evict []entity.PresenceRecord
	cutoff := now.UnixMilli() - threshold.Milliseconds()
	for _, rec := range records {
		if rec.LastSeen < cutoff {
			evict = append(evict, rec)
		}
	}
	return evict
}

// Sweep deletes every stale record in one pass. Concurrent sweeps from
// several clients race benignly: deleting an already-deleted record is a
// no-op at the store.
func (m *Manager) Sweep(ctx context.Context, records []entity.PresenceRecord) error {
	stale := SweepStale(records, m.now(), m.stale)
	if len(stale) == 0 {
		return nil
	}
	ids := make([]string, 0, len(stale))
	for _, rec := range stale {
		ids = append(ids, rec.ID)
	}
	m.log.Info().Strs("devices", ids).Msg("evicting stale devices")
	return m.store.Delete(ctx, store.PathDevices, ids...)
}
