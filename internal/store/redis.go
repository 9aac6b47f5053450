package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const mergeRetries = 5

// RedisStore implements RealtimeStore over a shared Redis instance: one hash
// per collection path plus a pub/sub channel that fans out a change ping, on
// which every subscriber re-reads the full hash. That reproduces the hosted
// database's snapshot-on-every-change semantics.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time

	mu       sync.Mutex
	cleanups map[[2]string]struct{}
	closed   bool
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:      rdb,
		now:      time.Now,
		cleanups: make(map[[2]string]struct{}),
	}
}

func hashKey(path string) string { return "sf:" + path }
func chanKey(path string) string { return "sf.ch:" + path }

type redisSub struct {
	store  *RedisStore
	path   string
	pubsub *redis.PubSub
	ch     chan Snapshot
	once   sync.Once
	closed chan struct{}

	errMu sync.Mutex
	err   error
}

func (r *RedisStore) Subscribe(ctx context.Context, path string) (Subscription, error) {
	pubsub := r.rdb.Subscribe(ctx, chanKey(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	sub := &redisSub{
		store:  r,
		path:   path,
		pubsub: pubsub,
		ch:     make(chan Snapshot, 16),
		closed: make(chan struct{}),
	}
	go sub.loop(ctx)
	return sub, nil
}

func (s *redisSub) loop(ctx context.Context) {
	defer close(s.ch)

	if !s.fetch(ctx) {
		return
	}
	msgs := s.pubsub.Channel()
	for {
		select {
		case <-s.closed:
			return
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		case _, ok := <-msgs:
			if !ok {
				select {
				case <-s.closed:
				default:
					s.setErr(errors.New("pubsub channel dropped"))
				}
				return
			}
			if !s.fetch(ctx) {
				return
			}
		}
	}
}

func (s *redisSub) fetch(ctx context.Context) bool {
	fields, err := s.store.rdb.HGetAll(ctx, hashKey(s.path)).Result()
	if err != nil {
		s.setErr(err)
		return false
	}
	snap := make(Snapshot, len(fields))
	for k, v := range fields {
		snap[k] = json.RawMessage(v)
	}
	select {
	case s.ch <- snap:
	case <-s.closed:
		return false
	}
	return true
}

func (s *redisSub) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *redisSub) Snapshots() <-chan Snapshot { return s.ch }

func (s *redisSub) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *redisSub) Close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.pubsub.Close()
	})
}

func (r *RedisStore) Write(ctx context.Context, path, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, hashKey(path), key, string(raw))
	pipe.Publish(ctx, chanKey(path), "w")
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Merge(ctx context.Context, path string, entries map[string]any) error {
	key := hashKey(path)

	merge := func(tx *redis.Tx) error {
		sets := make(map[string]string)
		var dels []string
		for field, value := range entries {
			current, err := tx.HGet(ctx, key, field).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			var existing json.RawMessage
			if err == nil {
				existing = json.RawMessage(current)
			}
			merged, remove, err := mergeEntry(existing, value)
			if err != nil {
				return err
			}
			if remove {
				dels = append(dels, field)
			} else {
				sets[field] = string(merged)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(sets) > 0 {
				pipe.HSet(ctx, key, sets)
			}
			if len(dels) > 0 {
				pipe.HDel(ctx, key, dels...)
			}
			pipe.Publish(ctx, chanKey(path), "m")
			return nil
		})
		return err
	}

	// optimistic concurrency: retry when another writer touched the hash
	// between our read and the commit
	for i := 0; i < mergeRetries; i++ {
		err := r.rdb.Watch(ctx, merge, key)
		if err != redis.TxFailedErr {
			return err
		}
		log.Debug().Str("path", path).Int("attempt", i+1).Msg("store: merge conflict, retrying")
	}
	return fmt.Errorf("merge %s: too many concurrent writers", path)
}

func (r *RedisStore) Append(ctx context.Context, path string, value any) (string, error) {
	raw, err := withCreatedAt(value, r.now())
	if err != nil {
		return "", err
	}
	id := NewPushID(r.now())
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, hashKey(path), id, string(raw))
	pipe.Publish(ctx, chanKey(path), "a")
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (r *RedisStore) Delete(ctx context.Context, path string, keys ...string) error {
	pipe := r.rdb.TxPipeline()
	if len(keys) == 0 {
		pipe.Del(ctx, hashKey(path))
	} else {
		pipe.HDel(ctx, hashKey(path), keys...)
	}
	pipe.Publish(ctx, chanKey(path), "d")
	_, err := pipe.Exec(ctx)
	return err
}

// OnDisconnectCleanup registers a session-scoped delete executed on Close.
// A crash that skips Close is covered by the presence stale sweep, which is
// why the delete only needs at-least-once semantics.
func (r *RedisStore) OnDisconnectCleanup(ctx context.Context, path, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups[[2]string{path, key}] = struct{}{}
	return nil
}

func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pending := make([][2]string, 0, len(r.cleanups))
	for entry := range r.cleanups {
		pending = append(pending, entry)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, entry := range pending {
		if err := r.Delete(ctx, entry[0], entry[1]); err != nil {
			log.Warn().Err(err).Str("path", entry[0]).Str("key", entry[1]).Msg("store: disconnect cleanup failed")
		}
	}
	return nil
}
