package membership

import (
	"sort"

	"github.com/xenn00/syncflow/internal/entity"
)

// ResolveTier derives the viewer's authorization tier. The super-admin check
// is identity-based and wins over the admin set.
func ResolveTier(userID string, admins entity.AdminMap, superAdminID string) entity.Tier {
	if superAdminID != "" && userID == superAdminID {
		return entity.TierSuperAdmin
	}
	if grant, ok := admins[userID]; ok && grant.IsAdmin {
		return entity.TierAdmin
	}
	return entity.TierMember
}

// VisibleRooms returns the room ids the viewer may open. Admin tiers see
// every room, newest-created first; member tier sees only rooms holding their
// membership entry. Equal creation times fall back to id order so every
// client renders the same list.
func VisibleRooms(tier entity.Tier, userID string, rooms []entity.ChatRoom, membership entity.MembershipMap) []string {
	visible := make([]entity.ChatRoom, 0, len(rooms))
	for _, room := range rooms {
		if tier.AtLeast(entity.TierAdmin) {
			visible = append(visible, room)
			continue
		}
		if _, ok := membership[room.ID][userID]; ok {
			visible = append(visible, room)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if visible[i].CreatedAt != visible[j].CreatedAt {
			return visible[i].CreatedAt > visible[j].CreatedAt
		}
		return visible[i].ID < visible[j].ID
	})
	ids := make([]string, len(visible))
	for i, room := range visible {
		ids[i] = room.ID
	}
	return ids
}

// EffectiveRoomIDs is the sorted set of room ids where the user appears as a
// member. Sorted so "first room" is stable across clients and re-renders.
func EffectiveRoomIDs(userID string, membership entity.MembershipMap) []string {
	var ids []string
	for roomID, members := range membership {
		if _, ok := members[userID]; ok {
			ids = append(ids, roomID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Unassigned reports the waiting-room condition: no membership anywhere and
// no admin tier.
func Unassigned(tier entity.Tier, userID string, membership entity.MembershipMap) bool {
	return tier == entity.TierMember && len(EffectiveRoomIDs(userID, membership)) == 0
}
