package relay

import "encoding/json"

// Ops a client may send. The server answers every mutating op with an ack or
// an error frame carrying the same seq, and pushes a snapshot frame for every
// change on a subscribed path.
const (
	OpSubscribe    = "subscribe"
	OpUnsubscribe  = "unsubscribe"
	OpWrite        = "write"
	OpMerge        = "merge"
	OpAppend       = "append"
	OpDelete       = "delete"
	OpOnDisconnect = "ondisconnect"

	OpSnapshot = "snapshot"
	OpAck      = "ack"
	OpError    = "error"
)

// Frame is the single wire shape for both directions. Unused fields stay
// empty; Value and Data are raw so the relay never has to know entity shapes.
type Frame struct {
	Op   string `json:"op"`
	Seq  int64  `json:"seq,omitempty"`
	Path string `json:"path,omitempty"`
	Key  string `json:"key,omitempty"`

	Value   json.RawMessage            `json:"value,omitempty"`
	Entries map[string]json.RawMessage `json:"entries,omitempty"`
	Keys    []string                   `json:"keys,omitempty"`

	Data map[string]json.RawMessage `json:"data,omitempty"`
	ID   string                     `json:"id,omitempty"`

	Message string `json:"message,omitempty"`
}
