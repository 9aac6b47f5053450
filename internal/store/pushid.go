package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampWidth keeps the base-36 prefix fixed-length; variable-length
// prefixes would break lexicographic ordering across length boundaries.
const timestampWidth = 9

// NewPushID returns a fresh entry id whose prefix is the creation time in
// zero-padded base-36 millis, so ids from one client sort by creation order
// while the uuid suffix keeps them unique across clients.
func NewPushID(now time.Time) string {
	prefix := strconv.FormatInt(now.UnixMilli(), 36)
	if len(prefix) < timestampWidth {
		prefix = strings.Repeat("0", timestampWidth-len(prefix)) + prefix
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return "-" + prefix + suffix
}
