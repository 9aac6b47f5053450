package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a process-local RealtimeStore. It backs the relay server and
// the end-to-end tests; several clients sharing one MemoryStore observe each
// other exactly as they would through the hosted database.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	subs        map[string]map[*memorySub]struct{}
	cleanups    map[[2]string]struct{}
	now         func() time.Time
	closed      bool
}

type memorySub struct {
	store *MemoryStore
	path  string
	ch    chan Snapshot
	once  sync.Once
	err   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]json.RawMessage),
		subs:        make(map[string]map[*memorySub]struct{}),
		cleanups:    make(map[[2]string]struct{}),
		now:         time.Now,
	}
}

// WithClock overrides the append timestamp source. Test hook.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("store closed")
	}

	sub := &memorySub{store: m, path: path, ch: make(chan Snapshot, 16)}
	if m.subs[path] == nil {
		m.subs[path] = make(map[*memorySub]struct{})
	}
	m.subs[path][sub] = struct{}{}
	sub.push(m.snapshotLocked(path))

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}
	return sub, nil
}

func (s *memorySub) Snapshots() <-chan Snapshot { return s.ch }
func (s *memorySub) Err() error                 { return s.err }

func (s *memorySub) Close() {
	s.once.Do(func() {
		s.store.mu.Lock()
		if set, ok := s.store.subs[s.path]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.store.subs, s.path)
			}
		}
		s.store.mu.Unlock()
		close(s.ch)
	})
}

// push delivers latest-wins: a slow consumer sees fewer, newer snapshots,
// which is exactly the superset semantics subscribers already tolerate.
func (s *memorySub) push(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (m *MemoryStore) snapshotLocked(path string) Snapshot {
	src := m.collections[path]
	snap := make(Snapshot, len(src))
	for k, v := range src {
		snap[k] = v
	}
	return snap
}

func (m *MemoryStore) notifyLocked(path string) {
	snap := m.snapshotLocked(path)
	for sub := range m.subs[path] {
		sub.push(snap)
	}
}

func (m *MemoryStore) Write(ctx context.Context, path, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[path] == nil {
		m.collections[path] = make(map[string]json.RawMessage)
	}
	m.collections[path][key] = raw
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Merge(ctx context.Context, path string, entries map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[path] == nil {
		m.collections[path] = make(map[string]json.RawMessage)
	}
	coll := m.collections[path]
	for key, value := range entries {
		merged, remove, err := mergeEntry(coll[key], value)
		if err != nil {
			return err
		}
		if remove {
			delete(coll, key)
		} else {
			coll[key] = merged
		}
	}
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, path string, value any) (string, error) {
	raw, err := withCreatedAt(value, m.now())
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := NewPushID(m.now())
	if m.collections[path] == nil {
		m.collections[path] = make(map[string]json.RawMessage)
	}
	m.collections[path][id] = raw
	m.notifyLocked(path)
	return id, nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(keys) == 0 {
		delete(m.collections, path)
	} else if coll, ok := m.collections[path]; ok {
		for _, key := range keys {
			delete(coll, key)
		}
	}
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) OnDisconnectCleanup(ctx context.Context, path, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups[[2]string{path, key}] = struct{}{}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pending := make([][2]string, 0, len(m.cleanups))
	for entry := range m.cleanups {
		pending = append(pending, entry)
	}
	m.cleanups = make(map[[2]string]struct{})
	for _, entry := range pending {
		if coll, ok := m.collections[entry[0]]; ok {
			delete(coll, entry[1])
		}
		m.notifyLocked(entry[0])
	}
	var subs []*memorySub
	for _, set := range m.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

// mergeEntry merges value into existing. A nil value removes the whole entry;
// when both sides are JSON objects the merge descends one level, and a nil
// inner value removes that inner key.
func mergeEntry(existing json.RawMessage, value any) (json.RawMessage, bool, error) {
	if value == nil {
		return nil, true, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false, err
	}

	var incoming map[string]json.RawMessage
	if json.Unmarshal(raw, &incoming) != nil {
		return raw, false, nil
	}
	current := make(map[string]json.RawMessage)
	if existing != nil {
		if json.Unmarshal(existing, &current) != nil {
			return raw, false, nil
		}
	}
	for k, v := range incoming {
		if string(v) == "null" {
			delete(current, k)
		} else {
			current[k] = v
		}
	}
	// an inner delete against an absent entry must stay a no-op, never
	// materialize the entry out of its own tombstones
	if len(current) == 0 && existing == nil {
		return nil, true, nil
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return nil, false, err
	}
	return merged, false, nil
}

// withCreatedAt resolves the server timestamp: an appended object that does
// not carry createdAt gains one, so clients that omitted a client timestamp
// still order deterministically.
func withCreatedAt(value any, now time.Time) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return raw, nil
	}
	if _, ok := obj["createdAt"]; !ok {
		obj["createdAt"] = json.RawMessage(fmt.Sprintf("%d", now.UnixMilli()))
	}
	return json.Marshal(obj)
}
