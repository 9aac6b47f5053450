package membership

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/internal/entity"
	app_error "github.com/xenn00/syncflow/internal/errors"
	"github.com/xenn00/syncflow/internal/store"
)

// Actor is the identity and tier on whose behalf a mutation runs.
type Actor struct {
	ID   string
	Tier entity.Tier
}

// Store mutates the shared membership graph. Every mutation is gated locally
// before any store call and lands as a single-key structural merge, so
// concurrent unrelated writers are never clobbered. The interface leaves room
// for an implementation with version stamps later.
type Store interface {
	GrantAdmin(ctx context.Context, actor Actor, userID string) error
	RevokeAdmin(ctx context.Context, actor Actor, userID string) error
	AddMember(ctx context.Context, actor Actor, roomID, userID string, info entity.MemberInfo) error
	RemoveMember(ctx context.Context, actor Actor, roomID, userID string) error
	CreateRoom(ctx context.Context, actor Actor, name string) (string, error)
	DeleteRoom(ctx context.Context, actor Actor, roomID string) error
}

type realtimeStore struct {
	rt  store.RealtimeStore
	now func() time.Time
}

func NewStore(rt store.RealtimeStore) Store {
	return &realtimeStore{rt: rt, now: time.Now}
}

// NewStoreWithClock is the test constructor with a fixed time source.
func NewStoreWithClock(rt store.RealtimeStore, now func() time.Time) Store {
	return &realtimeStore{rt: rt, now: now}
}

func (s *realtimeStore) GrantAdmin(ctx context.Context, actor Actor, userID string) error {
	if !actor.Tier.AtLeast(entity.TierSuperAdmin) {
		return app_error.NewForbidden("only the super admin may grant admin")
	}
	grant := entity.AdminGrant{IsAdmin: true, AssignedAt: s.now().UnixMilli()}
	if err := s.rt.Merge(ctx, store.PathAdmins, map[string]any{userID: grant}); err != nil {
		return app_error.NewWriteFailed(err)
	}
	log.Info().Str("user", userID).Str("by", actor.ID).Msg("membership: admin granted")
	return nil
}

func (s *realtimeStore) RevokeAdmin(ctx context.Context, actor Actor, userID string) error {
	if !actor.Tier.AtLeast(entity.TierSuperAdmin) {
		return app_error.NewForbidden("only the super admin may revoke admin")
	}
	if err := s.rt.Delete(ctx, store.PathAdmins, userID); err != nil {
		return app_error.NewWriteFailed(err)
	}
	log.Info().Str("user", userID).Str("by", actor.ID).Msg("membership: admin revoked")
	return nil
}

func (s *realtimeStore) AddMember(ctx context.Context, actor Actor, roomID, userID string, info entity.MemberInfo) error {
	if !actor.Tier.AtLeast(entity.TierAdmin) {
		return app_error.NewForbidden("adding members requires admin tier")
	}
	if info.AddedAt == 0 {
		info.AddedAt = s.now().UnixMilli()
	}
	err := s.rt.Merge(ctx, store.PathMembership, map[string]any{
		roomID: map[string]any{userID: info},
	})
	if err != nil {
		return app_error.NewWriteFailed(err)
	}
	log.Info().Str("room", roomID).Str("user", userID).Str("by", actor.ID).Msg("membership: member added")
	return nil
}

func (s *realtimeStore) RemoveMember(ctx context.Context, actor Actor, roomID, userID string) error {
	if !actor.Tier.AtLeast(entity.TierAdmin) {
		return app_error.NewForbidden("removing members requires admin tier")
	}
	err := s.rt.Merge(ctx, store.PathMembership, map[string]any{
		roomID: map[string]any{userID: nil},
	})
	if err != nil {
		return app_error.NewWriteFailed(err)
	}
	log.Info().Str("room", roomID).Str("user", userID).Str("by", actor.ID).Msg("membership: member removed")
	return nil
}

func (s *realtimeStore) CreateRoom(ctx context.Context, actor Actor, name string) (string, error) {
	if !actor.Tier.AtLeast(entity.TierAdmin) {
		return "", app_error.NewForbidden("creating rooms requires admin tier")
	}
	room := map[string]any{
		"name":      name,
		"createdBy": actor.ID,
		"createdAt": s.now().UnixMilli(),
	}
	id, err := s.rt.Append(ctx, store.PathRooms, room)
	if err != nil {
		return "", app_error.NewWriteFailed(err)
	}
	log.Info().Str("room", id).Str("name", name).Str("by", actor.ID).Msg("membership: room created")
	return id, nil
}

// DeleteRoom removes the catalog entry, the room's membership entries and its
// content feed. The content feed going away is what subscribers observe as a
// cleared collection.
func (s *realtimeStore) DeleteRoom(ctx context.Context, actor Actor, roomID string) error {
	if !actor.Tier.AtLeast(entity.TierAdmin) {
		return app_error.NewForbidden("deleting rooms requires admin tier")
	}
	if err := s.rt.Delete(ctx, store.PathRooms, roomID); err != nil {
		return app_error.NewWriteFailed(err)
	}
	if err := s.rt.Merge(ctx, store.PathMembership, map[string]any{roomID: nil}); err != nil {
		return app_error.NewWriteFailed(err)
	}
	if err := s.rt.Delete(ctx, store.RoomFeed(roomID)); err != nil {
		return app_error.NewWriteFailed(err)
	}
	log.Info().Str("room", roomID).Str("by", actor.ID).Msg("membership: room deleted")
	return nil
}
