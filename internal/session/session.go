package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/internal/auth"
	"github.com/xenn00/syncflow/internal/dispatch"
	"github.com/xenn00/syncflow/internal/entity"
	app_error "github.com/xenn00/syncflow/internal/errors"
	"github.com/xenn00/syncflow/internal/membership"
	"github.com/xenn00/syncflow/internal/presence"
	"github.com/xenn00/syncflow/internal/reconcile"
	"github.com/xenn00/syncflow/internal/router"
	"github.com/xenn00/syncflow/internal/store"
)

// Status is the session-level connection state shown to the viewer.
type Status int

const (
	StatusLive Status = iota
	// StatusWaiting: signed in but no content stream, because the viewer is a
	// member without any room assignment yet.
	StatusWaiting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusDisconnected:
		return "DISCONNECTED"
	default:
		return "LIVE"
	}
}

// View is one immutable rendering of the session handed to the consumer.
// Slices are copies; the consumer may hold them across updates.
type View struct {
	Status Status
	Tier   entity.Tier
	Stream router.StreamSelector

	Items        []entity.SharedItem
	Rooms        []entity.ChatRoom
	VisibleRooms []string
	Devices      []entity.PresenceRecord

	// Notifications carried by this update only: fresh peer items.
	Notifications []entity.SharedItem
}

type command struct {
	run   func(ctx context.Context) error
	reply chan error
}

// Config carries everything a session needs beyond its collaborators.
type Config struct {
	Identity      auth.Identity
	DeviceID      string
	DeviceClass   entity.DeviceClass
	SuperAdminID  string
	SweepInterval time.Duration
	// RetryDelay spaces re-subscription attempts after a stream drops or a
	// content switch fails. Defaults to 3s.
	RetryDelay time.Duration
}

// Session is the orchestrator: one goroutine owns the reconciler, routing
// decision, presence handle and membership-derived tier, and everything else
// talks to it through commands. Run is the loop; the exported methods are safe
// from any goroutine.
type Session struct {
	rt       store.RealtimeStore
	rec      *reconcile.Reconciler
	presence *presence.Manager
	members  membership.Store
	disp     *dispatch.Dispatcher
	cfg      Config

	requested router.Request
	selector  router.StreamSelector
	handle    *presence.Handle
	// contentErrored marks a selected content stream whose subscription could
	// not be established. The reconciler has no stream entry to report errored
	// in that case, so the session tracks it and keeps retrying.
	contentErrored bool

	cmds    chan command
	views   chan View
	retries chan string
	log     zerolog.Logger
}

func New(rt store.RealtimeStore, rec *reconcile.Reconciler, pm *presence.Manager,
	members membership.Store, disp *dispatch.Dispatcher, cfg Config) *Session {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	return &Session{
		rt:       rt,
		rec:      rec,
		presence: pm,
		members:  members,
		disp:     disp,
		cfg:      cfg,
		cmds:     make(chan command),
		views:    make(chan View, 8),
		retries:  make(chan string, 16),
		log:      log.With().Str("component", "session").Str("user", cfg.Identity.ID).Logger(),
	}
}

// Views delivers a fresh View after every applied change. Latest-wins: a slow
// consumer drops the oldest pending view, never blocks the loop.
func (s *Session) Views() <-chan View { return s.views }

// Run registers presence, opens the base streams and serves the event loop
// until ctx is cancelled. It owns all reconciler access.
func (s *Session) Run(ctx context.Context) error {
	handle, err := s.presence.Register(ctx, entity.PresenceRecord{
		ID:           s.cfg.DeviceID,
		Name:         s.cfg.Identity.DisplayName,
		DeviceClass:  s.cfg.DeviceClass,
		ProfileImage: s.cfg.Identity.AvatarURL,
	})
	if err != nil {
		return app_error.NewConnectionLost(err)
	}
	s.handle = handle

	for _, path := range []string{store.PathDevices, store.PathRooms, store.PathMembership, store.PathAdmins} {
		if err := s.rec.Subscribe(ctx, path); err != nil {
			s.teardown()
			return err
		}
	}
	s.reroute(ctx)

	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	s.log.Info().Str("device", s.cfg.DeviceID).Msg("session started")

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()

		case ev := <-s.rec.Events():
			update, ok := s.rec.Apply(ev)
			if !ok {
				continue
			}
			if rerouted := s.maybeReroute(ctx, ev.Path); rerouted {
				s.log.Debug().Str("trigger", ev.Path).Msg("stream rerouted")
			}
			if update.Disconnected {
				s.scheduleRetry(ev.Path)
			}
			s.publish(update)

		case path := <-s.retries:
			if s.contentErrored && path == s.selector.Path() {
				s.reroute(ctx)
				continue
			}
			if s.rec.Status(path) != reconcile.StreamErrored {
				continue
			}
			if err := s.rec.Subscribe(ctx, path); err != nil {
				s.log.Warn().Err(err).Str("path", path).Msg("re-subscribe failed")
				s.scheduleRetry(path)
			}

		case cmd := <-s.cmds:
			cmd.reply <- cmd.run(ctx)

		case <-sweep.C:
			if err := s.presence.Sweep(ctx, s.rec.State().Devices); err != nil {
				s.log.Warn().Err(err).Msg("presence sweep failed")
			}
		}
	}
}

// teardown releases presence and closes every stream. Release uses a fresh
// context so the record is deleted even when Run's context is already gone.
func (s *Session) teardown() {
	if s.handle != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.handle.Release(releaseCtx); err != nil {
			s.log.Warn().Err(err).Msg("presence release failed")
		}
		cancel()
	}
	s.rec.Close()
	close(s.views)
	s.log.Info().Msg("session stopped")
}

func (s *Session) scheduleRetry(path string) {
	time.AfterFunc(s.cfg.RetryDelay, func() {
		select {
		case s.retries <- path:
		default:
		}
	})
}

// do runs fn on the loop goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{run: fn, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tier is loop-confined.
func (s *Session) tier() entity.Tier {
	return membership.ResolveTier(s.cfg.Identity.ID, s.rec.State().Admins, s.cfg.SuperAdminID)
}

func (s *Session) actor() membership.Actor {
	return membership.Actor{ID: s.cfg.Identity.ID, Tier: s.tier()}
}

// reroute recomputes the active stream from tier, membership and the viewer's
// request, and switches the content subscription when the answer changed. This
// is what moves a waiting member into a room the instant assignment lands, and
// out again when it is revoked.
func (s *Session) reroute(ctx context.Context) bool {
	sel := router.ActiveStream(s.tier(), s.requested,
		membership.EffectiveRoomIDs(s.cfg.Identity.ID, s.rec.State().Membership))
	if sel == s.selector && s.rec.ContentPath() == sel.Path() {
		return false
	}
	prev := s.selector
	s.selector = sel
	if err := s.rec.SwitchContent(ctx, sel.Path()); err != nil {
		// no stream entry exists after a failed subscribe, so the viewer would
		// otherwise see a live status over a dead feed
		s.contentErrored = true
		s.scheduleRetry(sel.Path())
		s.log.Error().Err(err).Str("path", sel.Path()).Msg("content switch failed")
	} else {
		s.contentErrored = false
	}
	s.log.Info().Str("from", prev.Kind.String()).Str("to", sel.Kind.String()).
		Str("room", sel.RoomID).Msg("active stream changed")
	return true
}

func (s *Session) maybeReroute(ctx context.Context, changedPath string) bool {
	if changedPath != store.PathMembership && changedPath != store.PathAdmins && changedPath != store.PathRooms {
		return false
	}
	return s.reroute(ctx)
}

func (s *Session) status() Status {
	if s.selector.Kind == router.KindWaiting {
		return StatusWaiting
	}
	if s.contentErrored {
		return StatusDisconnected
	}
	for _, path := range []string{store.PathDevices, store.PathRooms, store.PathMembership, store.PathAdmins, s.selector.Path()} {
		if path != "" && s.rec.Status(path) == reconcile.StreamErrored {
			return StatusDisconnected
		}
	}
	return StatusLive
}

func (s *Session) publish(update reconcile.Update) {
	state := s.rec.State()
	tier := s.tier()
	view := View{
		Status:        s.status(),
		Tier:          tier,
		Stream:        s.selector,
		Items:         append([]entity.SharedItem(nil), state.Items...),
		Rooms:         append([]entity.ChatRoom(nil), state.Rooms...),
		VisibleRooms:  membership.VisibleRooms(tier, s.cfg.Identity.ID, state.Rooms, state.Membership),
		Devices:       append([]entity.PresenceRecord(nil), state.Devices...),
		Notifications: update.Notifications,
	}
	for {
		select {
		case s.views <- view:
			return
		default:
			select {
			case <-s.views:
			default:
			}
		}
	}
}

// OpenRoom requests roomID as the active stream. For a member the pick only
// sticks while their assignment includes the room.
func (s *Session) OpenRoom(ctx context.Context, roomID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		s.requested = router.Request{RoomID: roomID}
		s.reroute(ctx)
		if s.selector.Kind == router.KindRoom && s.selector.RoomID != roomID {
			return app_error.NewForbidden("not assigned to that room")
		}
		return nil
	})
}

// OpenGlobal requests the global feed. Members cannot hold it.
func (s *Session) OpenGlobal(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		s.requested = router.Request{Global: true}
		s.reroute(ctx)
		if s.selector.Kind != router.KindGlobal {
			return app_error.NewForbidden("the global feed requires admin tier")
		}
		return nil
	})
}

// Share publishes into the currently active stream.
func (s *Session) Share(ctx context.Context, req dispatch.Request) (string, error) {
	var id string
	err := s.do(ctx, func(ctx context.Context) error {
		path := s.selector.Path()
		if path == "" {
			return app_error.NewForbidden("no active stream to share into")
		}
		var err error
		id, err = s.disp.Publish(ctx, s.sender(), req, path)
		return err
	})
	return id, err
}

// ShareReply publishes a reply under parentItemID.
func (s *Session) ShareReply(ctx context.Context, text, parentItemID string) (string, error) {
	var id string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.disp.PublishReply(ctx, s.sender(), text, parentItemID)
		return err
	})
	return id, err
}

// DeleteItem removes an item from the active stream, replies included.
func (s *Session) DeleteItem(ctx context.Context, itemID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		path := s.selector.Path()
		if path == "" {
			return app_error.NewForbidden("no active stream")
		}
		return s.disp.DeleteItem(ctx, path, itemID)
	})
}

// ClearStream wipes the active stream. Admin tiers only.
func (s *Session) ClearStream(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if !s.tier().AtLeast(entity.TierAdmin) {
			return app_error.NewForbidden("clearing a stream requires admin tier")
		}
		path := s.selector.Path()
		if path == "" {
			return app_error.NewForbidden("no active stream")
		}
		return s.disp.ClearAll(ctx, path)
	})
}

// WatchReplies opens the reply thread of an item alongside the content stream.
func (s *Session) WatchReplies(ctx context.Context, itemID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.rec.Subscribe(ctx, store.Replies(itemID))
	})
}

// GrantAdmin and the other mutation methods resolve the acting tier from the
// current reconciled admin map, so a grant or revoke observed through the
// stream changes what the next call may do.
func (s *Session) GrantAdmin(ctx context.Context, userID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.members.GrantAdmin(ctx, s.actor(), userID)
	})
}

func (s *Session) RevokeAdmin(ctx context.Context, userID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.members.RevokeAdmin(ctx, s.actor(), userID)
	})
}

func (s *Session) AddMember(ctx context.Context, roomID, userID string, info entity.MemberInfo) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.members.AddMember(ctx, s.actor(), roomID, userID, info)
	})
}

func (s *Session) RemoveMember(ctx context.Context, roomID, userID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.members.RemoveMember(ctx, s.actor(), roomID, userID)
	})
}

func (s *Session) CreateRoom(ctx context.Context, name string) (string, error) {
	var id string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.members.CreateRoom(ctx, s.actor(), name)
		return err
	})
	return id, err
}

func (s *Session) DeleteRoom(ctx context.Context, roomID string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.members.DeleteRoom(ctx, s.actor(), roomID)
	})
}

func (s *Session) sender() dispatch.Sender {
	return dispatch.Sender{
		ID:    s.cfg.Identity.ID,
		Name:  s.cfg.Identity.DisplayName,
		Image: s.cfg.Identity.AvatarURL,
	}
}
