package router

import (
	"github.com/xenn00/syncflow/internal/entity"
	"github.com/xenn00/syncflow/internal/store"
)

// StreamKind says which content feed class is active.
type StreamKind int

const (
	// KindWaiting: no content stream. The viewer is an unassigned member;
	// presence and membership streams stay live so assignment shows up the
	// moment it lands.
	KindWaiting StreamKind = iota
	KindGlobal
	KindRoom
)

func (k StreamKind) String() string {
	switch k {
	case KindGlobal:
		return "GLOBAL"
	case KindRoom:
		return "ROOM"
	default:
		return "WAITING"
	}
}

// StreamSelector names the single content stream that should be live.
type StreamSelector struct {
	Kind   StreamKind
	RoomID string
}

// Path is the store path to subscribe, empty for the waiting state.
func (s StreamSelector) Path() string {
	switch s.Kind {
	case KindGlobal:
		return store.PathGlobalFeed
	case KindRoom:
		return store.RoomFeed(s.RoomID)
	default:
		return ""
	}
}

// Request is the viewer's explicit selection, zero value when nothing was
// picked yet.
type Request struct {
	Global bool
	RoomID string
}

// ActiveStream decides which content feed the viewer gets.
//
// Member tier is confined to its effective rooms: a valid explicit pick wins,
// otherwise the first (sorted) effective room is auto-selected, and with no
// assignment at all the selector resolves to Waiting. Admin tiers select
// freely, default to the legacy global feed, and are never auto-assigned.
func ActiveStream(tier entity.Tier, requested Request, effectiveRoomIDs []string) StreamSelector {
	if tier.AtLeast(entity.TierAdmin) {
		if requested.RoomID != "" {
			return StreamSelector{Kind: KindRoom, RoomID: requested.RoomID}
		}
		return StreamSelector{Kind: KindGlobal}
	}

	if requested.RoomID != "" && contains(effectiveRoomIDs, requested.RoomID) {
		return StreamSelector{Kind: KindRoom, RoomID: requested.RoomID}
	}
	if len(effectiveRoomIDs) > 0 {
		return StreamSelector{Kind: KindRoom, RoomID: effectiveRoomIDs[0]}
	}
	return StreamSelector{Kind: KindWaiting}
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
