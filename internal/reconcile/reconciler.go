package reconcile

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/internal/entity"
	app_error "github.com/xenn00/syncflow/internal/errors"
	"github.com/xenn00/syncflow/internal/store"
)

// StreamState is the lifecycle of one subscribed stream.
type StreamState int

const (
	StreamUnsubscribed StreamState = iota
	StreamSubscribing
	StreamLive
	StreamErrored
)

func (s StreamState) String() string {
	switch s {
	case StreamSubscribing:
		return "SUBSCRIBING"
	case StreamLive:
		return "LIVE"
	case StreamErrored:
		return "ERRORED"
	default:
		return "UNSUBSCRIBED"
	}
}

// Event is one raw delivery from a subscription pump: either a snapshot or a
// terminal subscription error. The generation stamp lets Apply drop late
// callbacks from a stream that was already torn down.
type Event struct {
	Path string
	Gen  uint64
	Snap store.Snapshot
	Err  error
}

// Update is what applying one event changed, for the consumer to render.
type Update struct {
	Path string
	// Notifications are the edge-triggered "new item from peer" hits.
	Notifications []entity.SharedItem
	// Disconnected is set when the stream dropped; the viewer should see a
	// disconnected status until a re-subscribe succeeds.
	Disconnected bool
}

// State is the reconciled, typed projection of every live stream. It is only
// ever a function of the last observed snapshots, never of local writes.
type State struct {
	Items      []entity.SharedItem
	Replies    map[string][]entity.Reply
	Rooms      []entity.ChatRoom
	Devices    []entity.PresenceRecord
	Membership entity.MembershipMap
	Admins     entity.AdminMap
}

type stream struct {
	path    string
	gen     uint64
	state   StreamState
	sub     store.Subscription
	tracker *Tracker
}

// Reconciler converts raw snapshot deliveries into ordered, deduplicated,
// typed collections and semantic notifications. It is confined to the
// session's event goroutine: Subscribe, Unsubscribe and Apply must not be
// called concurrently.
type Reconciler struct {
	st         store.RealtimeStore
	viewerID   string
	viewerName string
	// NotifyOnInitial controls whether a fresh subscription surfaces its
	// backlog as notifications. Off by default for every stream.
	notifyOnInitial bool

	events      chan Event
	streams     map[string]*stream
	nextGen     uint64
	contentPath string

	state State
	log   zerolog.Logger
}

func New(st store.RealtimeStore, viewerID, viewerName string, notifyOnInitial bool) *Reconciler {
	return &Reconciler{
		st:              st,
		viewerID:        viewerID,
		viewerName:      viewerName,
		notifyOnInitial: notifyOnInitial,
		events:          make(chan Event, 64),
		streams:         make(map[string]*stream),
		state:           State{Replies: make(map[string][]entity.Reply)},
		log:             log.With().Str("component", "reconcile").Logger(),
	}
}

// Events is the fan-in of every subscription pump. Feed each received event
// back through Apply.
func (r *Reconciler) Events() <-chan Event { return r.events }

// State returns the current typed projection.
func (r *Reconciler) State() *State { return &r.state }

// ViewerID is the identity notifications are suppressed for.
func (r *Reconciler) ViewerID() string { return r.viewerID }

// Status reports the lifecycle state of the stream at path.
func (r *Reconciler) Status(path string) StreamState {
	if s, ok := r.streams[path]; ok {
		return s.state
	}
	return StreamUnsubscribed
}

// Subscribe opens the stream at path. An existing subscription at the same
// path is torn down first, so re-subscribing is always a fresh subscription
// with fresh notification memory.
func (r *Reconciler) Subscribe(ctx context.Context, path string) error {
	r.Unsubscribe(path)

	r.nextGen++
	s := &stream{
		path:    path,
		gen:     r.nextGen,
		state:   StreamSubscribing,
		tracker: NewTracker(r.viewerID, r.viewerName, r.notifyOnInitial),
	}
	sub, err := r.st.Subscribe(ctx, path)
	if err != nil {
		r.log.Error().Err(err).Str("path", path).Msg("subscribe failed")
		return app_error.NewConnectionLost(err)
	}
	s.sub = sub
	r.streams[path] = s

	go func(gen uint64) {
		for snap := range sub.Snapshots() {
			r.events <- Event{Path: path, Gen: gen, Snap: snap}
		}
		if err := sub.Err(); err != nil {
			r.events <- Event{Path: path, Gen: gen, Err: err}
		}
	}(s.gen)

	r.log.Debug().Str("path", path).Uint64("gen", s.gen).Msg("stream subscribed")
	return nil
}

// Unsubscribe tears the stream down and discards its reconciled state and
// seen-id memory. A late event from the old generation is ignored by Apply.
func (r *Reconciler) Unsubscribe(path string) {
	s, ok := r.streams[path]
	if !ok {
		return
	}
	delete(r.streams, path)
	if s.sub != nil {
		s.sub.Close()
	}
	r.clearState(path)
	r.log.Debug().Str("path", path).Uint64("gen", s.gen).Msg("stream torn down")
}

// SwitchContent makes path the single live content stream. The old content
// subscription is fully torn down before the new one is established, so a
// consumer never observes a union of two feeds. An empty path means no
// content stream (the waiting state).
func (r *Reconciler) SwitchContent(ctx context.Context, path string) error {
	if r.contentPath == path && path != "" && r.Status(path) != StreamErrored {
		return nil
	}
	if r.contentPath != "" {
		r.Unsubscribe(r.contentPath)
	}
	r.contentPath = path
	if path == "" {
		return nil
	}
	if err := r.Subscribe(ctx, path); err != nil {
		r.contentPath = ""
		return err
	}
	return nil
}

// ContentPath is the currently selected content stream, "" when waiting.
func (r *Reconciler) ContentPath() string { return r.contentPath }

// Close tears down every stream.
func (r *Reconciler) Close() {
	for path := range r.streams {
		r.Unsubscribe(path)
	}
}

// Apply folds one event into the typed state. Events from a dead generation
// return ok=false and change nothing.
func (r *Reconciler) Apply(ev Event) (Update, bool) {
	s, live := r.streams[ev.Path]
	if !live || s.gen != ev.Gen {
		return Update{}, false
	}

	if ev.Err != nil {
		s.state = StreamErrored
		r.log.Warn().Err(ev.Err).Str("path", ev.Path).Msg("stream dropped")
		return Update{Path: ev.Path, Disconnected: true}, true
	}
	s.state = StreamLive

	update := Update{Path: ev.Path}
	entries := Order(ev.Snap)

	switch {
	case ev.Path == r.contentPath && r.contentPath != "":
		items := DecodeItems(entries)
		r.state.Items = items
		update.Notifications = s.tracker.Fresh(items)
	case strings.HasPrefix(ev.Path, "replies/"):
		parent := strings.TrimPrefix(ev.Path, "replies/")
		r.state.Replies[parent] = DecodeReplies(entries)
	case ev.Path == store.PathRooms:
		r.state.Rooms = DecodeRooms(entries)
	case ev.Path == store.PathDevices:
		r.state.Devices = DecodeDevices(entries)
	case ev.Path == store.PathMembership:
		r.state.Membership = DecodeMembership(ev.Snap)
	case ev.Path == store.PathAdmins:
		r.state.Admins = DecodeAdmins(ev.Snap)
	default:
		r.log.Warn().Str("path", ev.Path).Msg("snapshot for unclassified stream")
	}
	return update, true
}

func (r *Reconciler) clearState(path string) {
	switch {
	case path == r.contentPath:
		r.state.Items = nil
	case strings.HasPrefix(path, "replies/"):
		delete(r.state.Replies, strings.TrimPrefix(path, "replies/"))
	}
}
