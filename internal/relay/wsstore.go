package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/internal/store"
)

// WSStore is a RealtimeStore backed by a relay server over one websocket
// connection. Mutations are request/response by seq; snapshots arrive
// unsolicited and are routed to their path's subscription.
type WSStore struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     int64
	pending map[int64]chan Frame
	subs    map[string]*wsSub
	closed  bool
	connErr error

	done chan struct{}
	log  zerolog.Logger
}

// Dial connects to a relay at url ("ws://host:port/ws").
func Dial(ctx context.Context, url string) (*WSStore, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	w := &WSStore{
		conn:    conn,
		pending: make(map[int64]chan Frame),
		subs:    make(map[string]*wsSub),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "relay-client").Logger(),
	}
	go w.readLoop()
	return w, nil
}

type wsSub struct {
	path  string
	snaps chan store.Snapshot
	err   error
	once  sync.Once
	owner *WSStore
}

func (s *wsSub) Snapshots() <-chan store.Snapshot { return s.snaps }
func (s *wsSub) Err() error                       { return s.err }

func (s *wsSub) Close() {
	s.once.Do(func() {
		s.owner.dropSub(s.path, nil)
		// best effort; the server also unsubscribes on disconnect
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = s.owner.request(ctx, Frame{Op: OpUnsubscribe, Path: s.path})
	})
}

func (w *WSStore) readLoop() {
	defer close(w.done)
	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			w.fail(err)
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			w.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		switch frame.Op {
		case OpSnapshot:
			w.routeSnapshot(frame)
		case OpAck, OpError:
			w.mu.Lock()
			reply, ok := w.pending[frame.Seq]
			delete(w.pending, frame.Seq)
			w.mu.Unlock()
			if ok {
				reply <- frame
			}
		default:
			w.log.Warn().Str("op", frame.Op).Msg("unexpected frame from relay")
		}
	}
}

// routeSnapshot delivers latest-wins: a stale undelivered snapshot is
// replaced, never queued behind.
func (w *WSStore) routeSnapshot(frame Frame) {
	w.mu.Lock()
	sub, ok := w.subs[frame.Path]
	w.mu.Unlock()
	if !ok {
		return
	}
	snap := store.Snapshot(frame.Data)
	if snap == nil {
		snap = store.Snapshot{}
	}
	for {
		select {
		case sub.snaps <- snap:
			return
		default:
			select {
			case <-sub.snaps:
			default:
			}
		}
	}
}

// fail tears everything down when the connection dies. Every open
// subscription surfaces the error, every pending request unblocks.
func (w *WSStore) fail(err error) {
	w.mu.Lock()
	if w.closed {
		err = nil
	}
	w.connErr = err
	subs := w.subs
	w.subs = map[string]*wsSub{}
	pending := w.pending
	w.pending = map[int64]chan Frame{}
	w.mu.Unlock()

	for _, sub := range subs {
		sub.err = err
		close(sub.snaps)
	}
	for _, reply := range pending {
		reply <- Frame{Op: OpError, Message: "connection lost"}
	}
}

func (w *WSStore) dropSub(path string, err error) {
	w.mu.Lock()
	sub, ok := w.subs[path]
	delete(w.subs, path)
	w.mu.Unlock()
	if ok {
		sub.err = err
		close(sub.snaps)
	}
}

func (w *WSStore) request(ctx context.Context, frame Frame) (Frame, error) {
	reply := make(chan Frame, 1)
	w.mu.Lock()
	if w.connErr != nil || w.closed {
		w.mu.Unlock()
		return Frame{}, fmt.Errorf("relay connection is down")
	}
	w.seq++
	frame.Seq = w.seq
	w.pending[frame.Seq] = reply
	w.mu.Unlock()

	w.writeMu.Lock()
	err := w.conn.WriteJSON(frame)
	w.writeMu.Unlock()
	if err != nil {
		w.mu.Lock()
		delete(w.pending, frame.Seq)
		w.mu.Unlock()
		return Frame{}, fmt.Errorf("relay write: %w", err)
	}

	select {
	case got := <-reply:
		if got.Op == OpError {
			return Frame{}, fmt.Errorf("relay: %s", got.Message)
		}
		return got, nil
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.pending, frame.Seq)
		w.mu.Unlock()
		return Frame{}, ctx.Err()
	}
}

func (w *WSStore) Subscribe(ctx context.Context, path string) (store.Subscription, error) {
	sub := &wsSub{path: path, snaps: make(chan store.Snapshot, 16), owner: w}
	w.mu.Lock()
	if prev, ok := w.subs[path]; ok {
		delete(w.subs, path)
		close(prev.snaps)
	}
	w.subs[path] = sub
	w.mu.Unlock()

	if _, err := w.request(ctx, Frame{Op: OpSubscribe, Path: path}); err != nil {
		w.dropSub(path, nil)
		return nil, err
	}
	return sub, nil
}

func (w *WSStore) Write(ctx context.Context, path, key string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	_, err = w.request(ctx, Frame{Op: OpWrite, Path: path, Key: key, Value: raw})
	return err
}

func (w *WSStore) Merge(ctx context.Context, path string, entries map[string]any) error {
	wire := make(map[string]json.RawMessage, len(entries))
	for key, value := range entries {
		raw, err := marshalValue(value)
		if err != nil {
			return err
		}
		wire[key] = raw
	}
	_, err := w.request(ctx, Frame{Op: OpMerge, Path: path, Entries: wire})
	return err
}

func (w *WSStore) Append(ctx context.Context, path string, value any) (string, error) {
	raw, err := marshalValue(value)
	if err != nil {
		return "", err
	}
	reply, err := w.request(ctx, Frame{Op: OpAppend, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return reply.ID, nil
}

func (w *WSStore) Delete(ctx context.Context, path string, keys ...string) error {
	_, err := w.request(ctx, Frame{Op: OpDelete, Path: path, Keys: keys})
	return err
}

func (w *WSStore) OnDisconnectCleanup(ctx context.Context, path, key string) error {
	_, err := w.request(ctx, Frame{Op: OpOnDisconnect, Path: path, Key: key})
	return err
}

func (w *WSStore) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	err := w.conn.Close()
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
	}
	return err
}

func marshalValue(value any) (json.RawMessage, error) {
	if value == nil {
		return json.RawMessage("null"), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return raw, nil
}
