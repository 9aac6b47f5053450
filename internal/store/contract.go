package store

import (
	"context"
	"encoding/json"
)

// Snapshot is the full current value of one subscribed collection, keyed by
// entry id. An absent collection is delivered as an empty (or nil) snapshot,
// never as an error.
type Snapshot map[string]json.RawMessage

// Decode unmarshals one entry into out, reporting false when the key is
// absent or the payload does not fit the target shape.
func (s Snapshot) Decode(key string, out any) bool {
	raw, ok := s[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Subscription is one live change feed. Snapshots() yields the current value
// immediately after subscribing and again on every change. The channel is
// closed on Close or on a dropped feed; Err is non-nil only in the latter
// case.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Err() error
	Close()
}

// RealtimeStore is the collaborator contract over the shared realtime
// database. Within one subscribed path, snapshots are a monotonically-growing
// superset of state; no ordering is guaranteed across paths.
//
// Merge descends one level into object values, so a nested collection like
// the membership map can gain or lose a single inner key without clobbering
// concurrent writers of sibling keys.
type RealtimeStore interface {
	Subscribe(ctx context.Context, path string) (Subscription, error)
	// Write fully overwrites one entry of the collection at path.
	Write(ctx context.Context, path, key string, value any) error
	// Merge applies a key-level structural merge to the collection at path.
	Merge(ctx context.Context, path string, entries map[string]any) error
	// Append stores value under a fresh store-assigned id and returns it.
	Append(ctx context.Context, path string, value any) (string, error)
	// Delete removes the named entries, or the whole collection when no keys
	// are given. Deleting an absent entry is a no-op.
	Delete(ctx context.Context, path string, keys ...string) error
	// OnDisconnectCleanup arranges deletion of path/key if this client goes
	// away without an orderly release. At-least-once, idempotent.
	OnDisconnectCleanup(ctx context.Context, path, key string) error
	Close() error
}

// Collection paths shared by every store implementation.
const (
	PathDevices    = "devices"
	PathGlobalFeed = "sharedItems"
	PathRooms      = "rooms"
	PathMembership = "membership"
	PathAdmins     = "admins"
)

// RoomFeed is the content collection of one room.
func RoomFeed(roomID string) string { return "roomItems/" + roomID }

// Replies is the flat thread collection under one shared item.
func Replies(itemID string) string { return "replies/" + itemID }
