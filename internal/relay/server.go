package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins before exposing the relay beyond localhost
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the self-hostable realtime backend for development: one in-memory
// store shared by every websocket client, full-path snapshots pushed on every
// change.
type Server struct {
	st *store.MemoryStore

	mu      sync.Mutex
	clients map[*client]struct{}
	log     zerolog.Logger
}

func NewServer(st *store.MemoryStore) *Server {
	return &Server{
		st:      st,
		clients: make(map[*client]struct{}),
		log:     log.With().Str("component", "relay").Logger(),
	}
}

// Router mounts the relay endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	count := len(s.clients)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": count,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("relay: upgrade failed")
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
		subs:   make(map[string]store.Subscription),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("relay: client connected")

	// The request context dies when this handler returns; the connection's
	// ops outlive it.
	go c.writePump()
	go c.readPump(context.Background())
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
	s.log.Info().Int("clients", len(clients)).Msg("relay: server closed")
}
