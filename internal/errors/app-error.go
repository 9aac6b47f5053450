package app_error

import (
	"fmt"
)

// Kind classifies an AppError so callers can branch on the failure class
// without string matching.
type Kind string

const (
	// ConnectionLost: a subscription dropped. Recoverable by re-subscribing.
	ConnectionLost Kind = "CONNECTION_LOST"
	// Forbidden: a tier-gated mutation attempted without sufficient tier.
	// Rejected locally, never sent to the store.
	Forbidden Kind = "FORBIDDEN"
	// EmptyContent: text publish with nothing left after trimming.
	EmptyContent Kind = "EMPTY_CONTENT"
	// UnsupportedType: media publish whose MIME category is not image or video.
	UnsupportedType Kind = "UNSUPPORTED_TYPE"
	// PayloadTooLarge: media publish over the configured ceiling. Size carries
	// the measured byte count for user-facing messaging.
	PayloadTooLarge Kind = "PAYLOAD_TOO_LARGE"
	// UploadFailed: the blob collaborator rejected an upload.
	UploadFailed Kind = "UPLOAD_FAILED"
	// WriteFailed: the realtime store rejected a write.
	WriteFailed Kind = "WRITE_FAILED"
)

type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	// Size is only set for PayloadTooLarge.
	Size int64 `json:"size,omitempty"`
}

func (e *AppError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewAppError(kind Kind, msg, field string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: msg,
		Field:   field,
	}
}

func NewForbidden(msg string) *AppError {
	return NewAppError(Forbidden, msg, "")
}

func NewConnectionLost(err error) *AppError {
	return NewAppError(ConnectionLost, err.Error(), "")
}

func NewPayloadTooLarge(size, ceiling int64) *AppError {
	return &AppError{
		Kind:    PayloadTooLarge,
		Message: fmt.Sprintf("payload of %d bytes exceeds the %d byte ceiling", size, ceiling),
		Size:    size,
	}
}

func NewWriteFailed(err error) *AppError {
	return NewAppError(WriteFailed, err.Error(), "")
}

func NewUploadFailed(err error) *AppError {
	return NewAppError(UploadFailed, err.Error(), "")
}

// IsKind reports whether err is an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Kind == kind
}

// Recoverable reports whether the failure clears on its own (next heartbeat
// tick or re-subscribe) rather than needing a changed input from the user.
func (e *AppError) Recoverable() bool {
	return e.Kind == ConnectionLost
}
