package reconcile

import (
	"github.com/xenn00/syncflow/internal/entity"
)

// Tracker is the per-subscription seen-id memory behind edge-triggered "new
// item" notifications. One tracker lives exactly as long as one subscription:
// it is created on subscribe and discarded on teardown, so notification state
// never leaks across room switches.
type Tracker struct {
	viewerID   string
	viewerName string
	// notifyOnInitial re-surfaces the backlog of the very first snapshot.
	// The legacy global feed historically behaved this way; the default is
	// to suppress everywhere.
	notifyOnInitial bool
	primed          bool
	seen            map[string]struct{}
}

func NewTracker(viewerID, viewerName string, notifyOnInitial bool) *Tracker {
	return &Tracker{
		viewerID:        viewerID,
		viewerName:      viewerName,
		notifyOnInitial: notifyOnInitial,
		seen:            make(map[string]struct{}),
	}
}

// ownItem reports whether the viewer sent the item. senderId is optional on
// the wire, so items written by older clients fall back to the display name.
func (t *Tracker) ownItem(item entity.SharedItem) bool {
	if item.SenderID != "" {
		return item.SenderID == t.viewerID
	}
	return item.Sender != "" && item.Sender == t.viewerName
}

// Fresh marks every item of the snapshot as seen and returns the ones worth
// notifying about: first sight of the id, sender is not the viewer, and the
// snapshot is not the initial backlog (unless configured otherwise). Payload
// changes to an already-seen id never re-notify.
func (t *Tracker) Fresh(items []entity.SharedItem) []entity.SharedItem {
	initial := !t.primed
	t.primed = true

	var fresh []entity.SharedItem
	for _, item := range items {
		if _, ok := t.seen[item.ID]; ok {
			continue
		}
		t.seen[item.ID] = struct{}{}
		if initial && !t.notifyOnInitial {
			continue
		}
		if t.ownItem(item) {
			continue
		}
		fresh = append(fresh, item)
	}
	return fresh
}
