package entity

// ContentType tags what a shared item carries. Media content holds a blob
// address, text holds the text itself.
type ContentType string

const (
	ContentText  ContentType = "TEXT"
	ContentImage ContentType = "IMAGE"
	ContentVideo ContentType = "VIDEO"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentImage, ContentVideo:
		return true
	}
	return false
}

// SharedItem is one entry of a content feed. Immutable once created except
// for deletion; the id is assigned by the store on append and never reused.
type SharedItem struct {
	ID           string      `json:"id"`
	Type         ContentType `json:"type"`
	Content      string      `json:"content"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	FileName     string      `json:"fileName,omitempty"`
	Sender       string      `json:"sender"`
	SenderImage  string      `json:"senderImage,omitempty"`
	SenderID     string      `json:"senderId,omitempty"`
	// Timestamp is the client-supplied epoch millisecond used for ordering.
	// When absent it falls back to the store's server-resolved createdAt.
	Timestamp int64 `json:"timestamp"`
}

// Reply is a flat, one-level thread entry under a parent SharedItem.
type Reply struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Sender      string `json:"sender"`
	SenderImage string `json:"senderImage,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}
