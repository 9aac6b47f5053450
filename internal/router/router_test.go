package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenn00/syncflow/internal/entity"
	"github.com/xenn00/syncflow/internal/store"
)

func TestActiveStream_UnassignedMemberWaits(t *testing.T) {
	sel := ActiveStream(entity.TierMember, Request{}, nil)
	assert.Equal(t, KindWaiting, sel.Kind)
	assert.Empty(t, sel.Path(), "waiting means no content subscription at all")
}

func TestActiveStream_MemberAutoAssignedToFirstRoom(t *testing.T) {
	sel := ActiveStream(entity.TierMember, Request{}, []string{"alpha", "zeta"})
	assert.Equal(t, KindRoom, sel.Kind)
	assert.Equal(t, "alpha", sel.RoomID, "auto-assignment picks the first stable id")
	assert.Equal(t, store.RoomFeed("alpha"), sel.Path())
}

func TestActiveStream_MemberExplicitPickWithinRooms(t *testing.T) {
	sel := ActiveStream(entity.TierMember, Request{RoomID: "zeta"}, []string{"alpha", "zeta"})
	assert.Equal(t, "zeta", sel.RoomID)
}

func TestActiveStream_MemberPickOutsideRoomsFallsBack(t *testing.T) {
	sel := ActiveStream(entity.TierMember, Request{RoomID: "forbidden"}, []string{"alpha"})
	assert.Equal(t, "alpha", sel.RoomID, "a member cannot open a room they are not assigned to")

	sel = ActiveStream(entity.TierMember, Request{RoomID: "forbidden"}, nil)
	assert.Equal(t, KindWaiting, sel.Kind)
}

func TestActiveStream_MemberCannotPickGlobal(t *testing.T) {
	sel := ActiveStream(entity.TierMember, Request{Global: true}, []string{"alpha"})
	assert.Equal(t, KindRoom, sel.Kind)
}

func TestActiveStream_AdminDefaultsToGlobal(t *testing.T) {
	for _, tier := range []entity.Tier{entity.TierAdmin, entity.TierSuperAdmin} {
		sel := ActiveStream(tier, Request{}, nil)
		assert.Equal(t, KindGlobal, sel.Kind, "tier %s", tier)
		assert.Equal(t, store.PathGlobalFeed, sel.Path())
	}
}

func TestActiveStream_AdminPicksAnyRoomNoAutoAssign(t *testing.T) {
	sel := ActiveStream(entity.TierAdmin, Request{RoomID: "any-room"}, nil)
	assert.Equal(t, KindRoom, sel.Kind)
	assert.Equal(t, "any-room", sel.RoomID)

	// membership never forces an admin anywhere
	sel = ActiveStream(entity.TierAdmin, Request{Global: true}, []string{"alpha"})
	assert.Equal(t, KindGlobal, sel.Kind)
}

func TestActiveStream_AssignmentAppearsWhileWaiting(t *testing.T) {
	// same request before and after membership lands
	req := Request{}
	before := ActiveStream(entity.TierMember, req, nil)
	after := ActiveStream(entity.TierMember, req, []string{"general"})

	assert.Equal(t, KindWaiting, before.Kind)
	assert.Equal(t, KindRoom, after.Kind)
	assert.Equal(t, "general", after.RoomID, "the instant membership gains an entry the router selects it")
}
