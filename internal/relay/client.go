package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xenn00/syncflow/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MB
)

type cleanup struct {
	path string
	key  string
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	mu       sync.Mutex
	subs     map[string]store.Subscription
	cleanups []cleanup
	closed   bool
}

// writePump drains c.send to the socket and keeps the connection alive with
// pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				_ = w.Close()
				return
			}
			_ = w.Close()

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump parses op frames until the connection dies, then runs the client's
// registered disconnect cleanups.
func (c *client) readPump(ctx context.Context) {
	defer c.teardown(ctx)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reply(Frame{Op: OpError, Message: "malformed frame"})
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *client) handle(ctx context.Context, frame Frame) {
	switch frame.Op {
	case OpSubscribe:
		c.subscribe(ctx, frame)
	case OpUnsubscribe:
		c.unsubscribe(frame.Path)
		c.reply(Frame{Op: OpAck, Seq: frame.Seq})
	case OpWrite:
		c.ackErr(frame, "", c.server.st.Write(ctx, frame.Path, frame.Key, rawOrNil(frame.Value)))
	case OpMerge:
		entries := make(map[string]any, len(frame.Entries))
		for key, value := range frame.Entries {
			entries[key] = rawOrNil(value)
		}
		c.ackErr(frame, "", c.server.st.Merge(ctx, frame.Path, entries))
	case OpAppend:
		id, err := c.server.st.Append(ctx, frame.Path, rawOrNil(frame.Value))
		c.ackErr(frame, id, err)
	case OpDelete:
		c.ackErr(frame, "", c.server.st.Delete(ctx, frame.Path, frame.Keys...))
	case OpOnDisconnect:
		c.mu.Lock()
		c.cleanups = append(c.cleanups, cleanup{path: frame.Path, key: frame.Key})
		c.mu.Unlock()
		c.reply(Frame{Op: OpAck, Seq: frame.Seq})
	default:
		c.reply(Frame{Op: OpError, Seq: frame.Seq, Message: "unknown op " + frame.Op})
	}
}

func (c *client) subscribe(ctx context.Context, frame Frame) {
	c.unsubscribe(frame.Path)

	sub, err := c.server.st.Subscribe(ctx, frame.Path)
	if err != nil {
		c.reply(Frame{Op: OpError, Seq: frame.Seq, Path: frame.Path, Message: err.Error()})
		return
	}
	c.mu.Lock()
	c.subs[frame.Path] = sub
	c.mu.Unlock()
	c.reply(Frame{Op: OpAck, Seq: frame.Seq})

	go func(path string) {
		for snap := range sub.Snapshots() {
			c.push(Frame{Op: OpSnapshot, Path: path, Data: snap})
		}
	}(frame.Path)
}

func (c *client) unsubscribe(path string) {
	c.mu.Lock()
	sub, ok := c.subs[path]
	delete(c.subs, path)
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func (c *client) ackErr(frame Frame, id string, err error) {
	if err != nil {
		c.reply(Frame{Op: OpError, Seq: frame.Seq, Path: frame.Path, Message: err.Error()})
		return
	}
	c.reply(Frame{Op: OpAck, Seq: frame.Seq, ID: id})
}

func (c *client) reply(frame Frame) { c.push(frame) }

// push marshals and queues one frame. A slow consumer gets disconnected
// rather than blocking the server.
func (c *client) push(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.server.log.Error().Err(err).Str("op", frame.Op).Msg("relay: frame marshal failed")
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.log.Warn().Str("client", c.id).Msg("relay: slow consumer, closing")
		_ = c.conn.Close()
	}
}

func (c *client) teardown(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = map[string]store.Subscription{}
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	for _, cl := range cleanups {
		if err := c.server.st.Delete(ctx, cl.path, cl.key); err != nil {
			c.server.log.Warn().Err(err).Str("path", cl.path).Str("key", cl.key).
				Msg("relay: disconnect cleanup failed")
		}
	}
	close(c.send)
	_ = c.conn.Close()
	c.server.unregister(c)
	c.server.log.Info().Str("client", c.id).Int("cleanups", len(cleanups)).
		Msg("relay: client disconnected")
}

// rawOrNil maps a JSON null (or absent value) to a store-level nil so deletes
// travel through write and merge ops the same way they do in-process.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
