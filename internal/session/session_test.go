package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenn00/syncflow/internal/auth"
	"github.com/xenn00/syncflow/internal/blob"
	"github.com/xenn00/syncflow/internal/dispatch"
	"github.com/xenn00/syncflow/internal/entity"
	app_error "github.com/xenn00/syncflow/internal/errors"
	"github.com/xenn00/syncflow/internal/membership"
	"github.com/xenn00/syncflow/internal/presence"
	"github.com/xenn00/syncflow/internal/reconcile"
	"github.com/xenn00/syncflow/internal/router"
	"github.com/xenn00/syncflow/internal/store"
)

const superAdminID = "root"

func startSession(t *testing.T, rt store.RealtimeStore, id, name string) *Session {
	return startSessionCfg(t, rt, id, name, Config{})
}

func startSessionCfg(t *testing.T, rt store.RealtimeStore, id, name string, cfg Config) *Session {
	t.Helper()
	cfg.Identity = auth.Identity{ID: id, DisplayName: name}
	cfg.DeviceID = "device-" + id
	cfg.DeviceClass = entity.DeviceDesktop
	cfg.SuperAdminID = superAdminID

	rec := reconcile.New(rt, id, name, false)
	pm := presence.NewManager(rt, 30*time.Second, 60*time.Second)
	disp := dispatch.New(rt, blob.NewMemoryStore(), 100<<20)
	s := New(rt, rec, pm, membership.NewStore(rt), disp, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("session did not stop")
		}
	})
	return s
}

// awaitView consumes views until cond holds, collecting every notification
// seen on the way there.
func awaitView(t *testing.T, s *Session, cond func(View) bool) (View, []entity.SharedItem) {
	t.Helper()
	var collected []entity.SharedItem
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v, ok := <-s.Views():
			if !ok {
				t.Fatal("views channel closed")
			}
			collected = append(collected, v.Notifications...)
			if cond(v) {
				return v, collected
			}
		case <-deadline:
			t.Fatal("expected view never arrived")
		}
	}
}

func hasItem(content string) func(View) bool {
	return func(v View) bool {
		for _, item := range v.Items {
			if item.Content == content {
				return true
			}
		}
		return false
	}
}

func seedRoom(t *testing.T, ms *store.MemoryStore, memberIDs ...string) string {
	t.Helper()
	ctx := context.Background()
	members := membership.NewStore(ms)
	super := membership.Actor{ID: superAdminID, Tier: entity.TierSuperAdmin}
	roomID, err := members.CreateRoom(ctx, super, "general")
	require.NoError(t, err)
	for _, id := range memberIDs {
		require.NoError(t, members.AddMember(ctx, super, roomID, id, entity.MemberInfo{Name: id}))
	}
	return roomID
}

func TestShare_PeerNotifiedExactlyOnceSenderNever(t *testing.T) {
	ms := store.NewMemoryStore()
	roomID := seedRoom(t, ms, "userA", "userB")

	alice := startSession(t, ms, "userA", "Alice")
	bob := startSession(t, ms, "userB", "Bob")

	// both land in the shared room
	va, _ := awaitView(t, alice, func(v View) bool { return v.Stream.RoomID == roomID })
	vb, _ := awaitView(t, bob, func(v View) bool { return v.Stream.RoomID == roomID })
	assert.Equal(t, StatusLive, va.Status)
	assert.Equal(t, StatusLive, vb.Status)

	ctx := context.Background()
	_, err := alice.Share(ctx, dispatch.Request{Kind: entity.ContentText, Text: "hello"})
	require.NoError(t, err)

	// Bob sees the item and is notified exactly once
	_, bobNotes := awaitView(t, bob, hasItem("hello"))
	require.Len(t, bobNotes, 1)
	assert.Equal(t, "hello", bobNotes[0].Content)
	assert.Equal(t, "Alice", bobNotes[0].Sender)

	// Alice sees her own item through the echo, with no self-notification
	_, aliceNotes := awaitView(t, alice, hasItem("hello"))
	assert.Empty(t, aliceNotes)
}

func TestWaitingMemberAutoAssignedWhenMembershipLands(t *testing.T) {
	ms := store.NewMemoryStore()
	carol := startSession(t, ms, "userC", "Carol")

	v, _ := awaitView(t, carol, func(v View) bool { return v.Status == StatusWaiting })
	assert.Equal(t, router.KindWaiting, v.Stream.Kind)

	roomID := seedRoom(t, ms, "userC")

	v, _ = awaitView(t, carol, func(v View) bool { return v.Stream.RoomID == roomID })
	assert.Equal(t, StatusLive, v.Status)
	assert.Equal(t, router.KindRoom, v.Stream.Kind)
}

func TestShareWhileWaitingIsRejected(t *testing.T) {
	ms := store.NewMemoryStore()
	carol := startSession(t, ms, "userC", "Carol")
	awaitView(t, carol, func(v View) bool { return v.Status == StatusWaiting })

	_, err := carol.Share(context.Background(), dispatch.Request{Kind: entity.ContentText, Text: "hi"})
	assert.True(t, app_error.IsKind(err, app_error.Forbidden))
}

func TestMemberCannotOpenGlobal(t *testing.T) {
	ms := store.NewMemoryStore()
	seedRoom(t, ms, "userB")
	bob := startSession(t, ms, "userB", "Bob")
	awaitView(t, bob, func(v View) bool { return v.Stream.Kind == router.KindRoom })

	err := bob.OpenGlobal(context.Background())
	assert.True(t, app_error.IsKind(err, app_error.Forbidden))
}

func TestSuperAdminDefaultsToGlobalAndCanOpenAnyRoom(t *testing.T) {
	ms := store.NewMemoryStore()
	roomID := seedRoom(t, ms, "userB")

	root := startSession(t, ms, superAdminID, "Root")
	v, _ := awaitView(t, root, func(v View) bool { return v.Stream.Kind == router.KindGlobal })
	assert.Equal(t, entity.TierSuperAdmin, v.Tier)

	require.NoError(t, root.OpenRoom(context.Background(), roomID))
	awaitView(t, root, func(v View) bool { return v.Stream.RoomID == roomID })
}

func TestAdminGrantPropagatesToMutationRights(t *testing.T) {
	ms := store.NewMemoryStore()
	roomID := seedRoom(t, ms, "userC")
	ctx := context.Background()

	root := startSession(t, ms, superAdminID, "Root")
	carol := startSession(t, ms, "userC", "Carol")
	awaitView(t, root, func(v View) bool { return v.Tier == entity.TierSuperAdmin })
	awaitView(t, carol, func(v View) bool { return v.Stream.RoomID == roomID })

	// before the grant, Carol's mutations are refused locally
	err := carol.AddMember(ctx, roomID, "userD", entity.MemberInfo{Name: "Dave"})
	assert.True(t, app_error.IsKind(err, app_error.Forbidden))

	// only the super admin can grant; Carol cannot self-promote
	err = carol.GrantAdmin(ctx, "userC")
	assert.True(t, app_error.IsKind(err, app_error.Forbidden))

	require.NoError(t, root.GrantAdmin(ctx, "userC"))
	awaitView(t, carol, func(v View) bool { return v.Tier == entity.TierAdmin })

	assert.NoError(t, carol.AddMember(ctx, roomID, "userD", entity.MemberInfo{Name: "Dave"}))
}

func TestRevokedMemberFallsBackToWaiting(t *testing.T) {
	ms := store.NewMemoryStore()
	roomID := seedRoom(t, ms, "userB")
	ctx := context.Background()

	bob := startSession(t, ms, "userB", "Bob")
	awaitView(t, bob, func(v View) bool { return v.Stream.RoomID == roomID })

	super := membership.Actor{ID: superAdminID, Tier: entity.TierSuperAdmin}
	require.NoError(t, membership.NewStore(ms).RemoveMember(ctx, super, roomID, "userB"))

	v, _ := awaitView(t, bob, func(v View) bool { return v.Status == StatusWaiting })
	assert.Empty(t, v.Items, "no residue from the revoked room's feed")
}

func TestClearStreamRequiresAdmin(t *testing.T) {
	ms := store.NewMemoryStore()
	roomID := seedRoom(t, ms, "userB")
	ctx := context.Background()

	bob := startSession(t, ms, "userB", "Bob")
	awaitView(t, bob, func(v View) bool { return v.Stream.RoomID == roomID })

	err := bob.ClearStream(ctx)
	assert.True(t, app_error.IsKind(err, app_error.Forbidden))
}

func TestDeviceRosterVisibleAcrossSessions(t *testing.T) {
	ms := store.NewMemoryStore()
	seedRoom(t, ms, "userA", "userB")

	startSession(t, ms, "userA", "Alice")
	bob := startSession(t, ms, "userB", "Bob")

	v, _ := awaitView(t, bob, func(v View) bool { return len(v.Devices) == 2 })
	ids := []string{v.Devices[0].ID, v.Devices[1].ID}
	assert.ElementsMatch(t, []string{"device-userA", "device-userB"}, ids)
}

// feedOutageStore refuses room feed subscriptions while the outage flag is
// set, so a session can be started against a content backend that is down.
type feedOutageStore struct {
	*store.MemoryStore
	mu     sync.Mutex
	outage bool
}

func (f *feedOutageStore) setOutage(v bool) {
	f.mu.Lock()
	f.outage = v
	f.mu.Unlock()
}

func (f *feedOutageStore) Subscribe(ctx context.Context, path string) (store.Subscription, error) {
	f.mu.Lock()
	outage := f.outage
	f.mu.Unlock()
	if outage && strings.HasPrefix(path, "roomItems/") {
		return nil, errors.New("feed backend unavailable")
	}
	return f.MemoryStore.Subscribe(ctx, path)
}

func TestFailedContentSubscribeReportsDisconnectedThenRecovers(t *testing.T) {
	fs := &feedOutageStore{MemoryStore: store.NewMemoryStore()}
	roomID := seedRoom(t, fs.MemoryStore, "userB")
	ctx := context.Background()

	// an item already in the room, visible only once the feed subscription lands
	disp := dispatch.New(fs.MemoryStore, blob.NewMemoryStore(), 100<<20)
	_, err := disp.Publish(ctx, dispatch.Sender{ID: "userA", Name: "Alice"},
		dispatch.Request{Kind: entity.ContentText, Text: "backlog"}, store.RoomFeed(roomID))
	require.NoError(t, err)

	fs.setOutage(true)
	bob := startSessionCfg(t, fs, "userB", "Bob", Config{RetryDelay: 50 * time.Millisecond})

	// a dead feed must surface as disconnected, never as an empty live room
	v, _ := awaitView(t, bob, func(v View) bool { return v.Stream.RoomID == roomID })
	assert.Equal(t, StatusDisconnected, v.Status)
	assert.Empty(t, v.Items)

	fs.setOutage(false)
	v, _ = awaitView(t, bob, func(v View) bool { return v.Status == StatusLive && len(v.Items) == 1 })
	assert.Equal(t, "backlog", v.Items[0].Content)
	assert.Equal(t, router.KindRoom, v.Stream.Kind)
}

func TestWatchRepliesFollowsThread(t *testing.T) {
	ms := store.NewMemoryStore()
	roomID := seedRoom(t, ms, "userA", "userB")
	ctx := context.Background()

	alice := startSession(t, ms, "userA", "Alice")
	awaitView(t, alice, func(v View) bool { return v.Stream.RoomID == roomID })

	itemID, err := alice.Share(ctx, dispatch.Request{Kind: entity.ContentText, Text: "topic"})
	require.NoError(t, err)
	require.NoError(t, alice.WatchReplies(ctx, itemID))

	_, err = alice.ShareReply(ctx, "first reply", itemID)
	require.NoError(t, err)

	awaitView(t, alice, hasItem("topic"))
}
