package reconcile

import (
	"encoding/json"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/internal/entity"
)

// Entry is one flattened element of a keyed snapshot: the map key becomes the
// id, and the ordering timestamp is resolved against the server-stamped
// createdAt fallback.
type Entry struct {
	ID        string
	Timestamp int64
	Raw       json.RawMessage
}

type wireTimestamps struct {
	Timestamp *int64 `json:"timestamp"`
	CreatedAt *int64 `json:"createdAt"`
}

// Order flattens a snapshot into entries sorted ascending by timestamp. The
// client-supplied timestamp wins; createdAt covers the window before the
// store resolved it. Equal timestamps fall back to lexicographic id order so
// repeated reconciliation and different clients always agree.
func Order(snap map[string]json.RawMessage) []Entry {
	entries := make([]Entry, 0, len(snap))
	for id, raw := range snap {
		var ts wireTimestamps
		if err := json.Unmarshal(raw, &ts); err != nil {
			log.Warn().Str("id", id).Msg("reconcile: dropping non-object snapshot entry")
			continue
		}
		entry := Entry{ID: id, Raw: raw}
		switch {
		case ts.Timestamp != nil:
			entry.Timestamp = *ts.Timestamp
		case ts.CreatedAt != nil:
			entry.Timestamp = *ts.CreatedAt
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// DecodeItems turns ordered entries into shared items. The decode is strict
// about the type tag: an entry with an unknown content type is logged and
// skipped rather than trusted.
func DecodeItems(entries []Entry) []entity.SharedItem {
	items := make([]entity.SharedItem, 0, len(entries))
	for _, e := range entries {
		var item entity.SharedItem
		if err := json.Unmarshal(e.Raw, &item); err != nil {
			log.Warn().Str("id", e.ID).Err(err).Msg("reconcile: malformed shared item")
			continue
		}
		if !item.Type.Valid() {
			log.Warn().Str("id", e.ID).Str("type", string(item.Type)).Msg("reconcile: unknown content type")
			continue
		}
		item.ID = e.ID
		item.Timestamp = e.Timestamp
		items = append(items, item)
	}
	return items
}

func DecodeReplies(entries []Entry) []entity.Reply {
	replies := make([]entity.Reply, 0, len(entries))
	for _, e := range entries {
		var reply entity.Reply
		if err := json.Unmarshal(e.Raw, &reply); err != nil {
			log.Warn().Str("id", e.ID).Err(err).Msg("reconcile: malformed reply")
			continue
		}
		reply.ID = e.ID
		reply.Timestamp = e.Timestamp
		replies = append(replies, reply)
	}
	return replies
}

func DecodeRooms(entries []Entry) []entity.ChatRoom {
	rooms := make([]entity.ChatRoom, 0, len(entries))
	for _, e := range entries {
		var room entity.ChatRoom
		if err := json.Unmarshal(e.Raw, &room); err != nil {
			log.Warn().Str("id", e.ID).Err(err).Msg("reconcile: malformed room")
			continue
		}
		room.ID = e.ID
		if room.CreatedAt == 0 {
			room.CreatedAt = e.Timestamp
		}
		rooms = append(rooms, room)
	}
	return rooms
}

func DecodeDevices(entries []Entry) []entity.PresenceRecord {
	devices := make([]entity.PresenceRecord, 0, len(entries))
	for _, e := range entries {
		var rec entity.PresenceRecord
		if err := json.Unmarshal(e.Raw, &rec); err != nil {
			log.Warn().Str("id", e.ID).Err(err).Msg("reconcile: malformed presence record")
			continue
		}
		rec.ID = e.ID
		devices = append(devices, rec)
	}
	return devices
}

// DecodeMembership and DecodeAdmins are plain keyed maps, not ordered
// collections.

func DecodeMembership(snap map[string]json.RawMessage) entity.MembershipMap {
	membership := make(entity.MembershipMap, len(snap))
	for roomID, raw := range snap {
		var members map[string]entity.MemberInfo
		if err := json.Unmarshal(raw, &members); err != nil {
			log.Warn().Str("room", roomID).Err(err).Msg("reconcile: malformed membership entry")
			continue
		}
		membership[roomID] = members
	}
	return membership
}

func DecodeAdmins(snap map[string]json.RawMessage) entity.AdminMap {
	admins := make(entity.AdminMap, len(snap))
	for userID, raw := range snap {
		var grant entity.AdminGrant
		if err := json.Unmarshal(raw, &grant); err != nil {
			log.Warn().Str("user", userID).Err(err).Msg("reconcile: malformed admin grant")
			continue
		}
		admins[userID] = grant
	}
	return admins
}
