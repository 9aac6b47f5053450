package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenn00/syncflow/internal/entity"
)

func item(id, senderID string, ts int64) entity.SharedItem {
	return entity.SharedItem{ID: id, Type: entity.ContentText, Content: "c", SenderID: senderID, Timestamp: ts}
}

func TestTracker_SuppressesInitialBacklog(t *testing.T) {
	tr := NewTracker("me", "Me", false)

	fresh := tr.Fresh([]entity.SharedItem{item("a", "peer", 1), item("b", "peer", 2)})
	assert.Empty(t, fresh, "first snapshot is backlog, not news")

	fresh = tr.Fresh([]entity.SharedItem{item("a", "peer", 1), item("b", "peer", 2), item("c", "peer", 3)})
	require.Len(t, fresh, 1)
	assert.Equal(t, "c", fresh[0].ID)
}

func TestTracker_NotifyOnInitialOption(t *testing.T) {
	tr := NewTracker("me", "Me", true)

	fresh := tr.Fresh([]entity.SharedItem{item("a", "peer", 1)})
	require.Len(t, fresh, 1, "legacy mode surfaces the backlog once")

	fresh = tr.Fresh([]entity.SharedItem{item("a", "peer", 1)})
	assert.Empty(t, fresh)
}

func TestTracker_ExactlyOncePerID(t *testing.T) {
	tr := NewTracker("me", "Me", false)
	tr.Fresh(nil) // prime with empty snapshot

	hits := 0
	for i := 0; i < 5; i++ {
		hits += len(tr.Fresh([]entity.SharedItem{item("x", "peer", 1)}))
	}
	assert.Equal(t, 1, hits, "an id notifies exactly once per subscription lifetime")
}

func TestTracker_NeverNotifiesOwnItems(t *testing.T) {
	tr := NewTracker("me", "Me", false)
	tr.Fresh(nil)

	fresh := tr.Fresh([]entity.SharedItem{item("mine", "me", 1), item("theirs", "peer", 2)})
	require.Len(t, fresh, 1)
	assert.Equal(t, "theirs", fresh[0].ID)
}

func TestTracker_MatchesSenderNameWhenSenderIDMissing(t *testing.T) {
	tr := NewTracker("me", "Me", false)
	tr.Fresh(nil)

	// senderId is optional on the wire; an item carrying only the display
	// name must still not notify its own sender
	mine := entity.SharedItem{ID: "legacy", Type: entity.ContentText, Content: "c", Sender: "Me", Timestamp: 1}
	theirs := entity.SharedItem{ID: "other", Type: entity.ContentText, Content: "c", Sender: "Peer", Timestamp: 2}

	fresh := tr.Fresh([]entity.SharedItem{mine, theirs})
	require.Len(t, fresh, 1)
	assert.Equal(t, "other", fresh[0].ID)
}

func TestTracker_PayloadChangeDoesNotRenotify(t *testing.T) {
	tr := NewTracker("me", "Me", false)
	tr.Fresh(nil)

	first := item("x", "peer", 1)
	require.Len(t, tr.Fresh([]entity.SharedItem{first}), 1)

	changed := first
	changed.Content = "edited"
	assert.Empty(t, tr.Fresh([]entity.SharedItem{changed}), "notification is edge-triggered on first sight, not content")
}

func TestTracker_FreshInstancePerSubscription(t *testing.T) {
	first := NewTracker("me", "Me", false)
	first.Fresh([]entity.SharedItem{item("a", "peer", 1)})

	// switching away and back means a brand new tracker: the old memory is gone
	second := NewTracker("me", "Me", false)
	fresh := second.Fresh([]entity.SharedItem{item("a", "peer", 1)})
	assert.Empty(t, fresh, "but the initial-snapshot suppression still protects the backlog")
}
