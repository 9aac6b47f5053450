package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xenn00/syncflow/internal/blob"
	"github.com/xenn00/syncflow/internal/entity"
	app_error "github.com/xenn00/syncflow/internal/errors"
	"github.com/xenn00/syncflow/internal/store"
)

// Sender identifies who a published item is attributed to.
type Sender struct {
	ID    string `validate:"required"`
	Name  string `validate:"required"`
	Image string
}

// Request is one publish attempt. Text carries the body for TEXT kind; Data,
// FileName and MIMEType describe the file for media kinds.
type Request struct {
	Kind     entity.ContentType `validate:"required"`
	Text     string
	FileName string
	MIMEType string
	Data     []byte
}

// Dispatcher is the write path back into the store the reconciler observes.
// A successful publish is never applied to local state: the sender sees their
// own item only through the subscription echo.
type Dispatcher struct {
	rt       store.RealtimeStore
	blobs    blob.Store
	ceiling  int64
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

func New(rt store.RealtimeStore, blobs blob.Store, mediaCeiling int64) *Dispatcher {
	return &Dispatcher{
		rt:       rt,
		blobs:    blobs,
		ceiling:  mediaCeiling,
		validate: validator.New(),
		now:      time.Now,
		log:      log.With().Str("component", "dispatch").Logger(),
	}
}

// WithClock overrides the timestamp source. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Publish validates and writes one shared item into the content stream at
// targetPath. Validation failures are rejected before any collaborator call.
func (d *Dispatcher) Publish(ctx context.Context, sender Sender, req Request, targetPath string) (string, error) {
	if err := d.validate.Struct(sender); err != nil {
		return "", app_error.NewAppError(app_error.WriteFailed, "incomplete sender identity", "sender")
	}

	record := map[string]any{
		"type":        req.Kind,
		"sender":      sender.Name,
		"senderImage": orNil(sender.Image),
		"senderId":    sender.ID,
		"timestamp":   d.now().UnixMilli(),
	}

	switch req.Kind {
	case entity.ContentText:
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return "", app_error.NewAppError(app_error.EmptyContent, "nothing to share after trimming", "text")
		}
		record["content"] = req.Text

	case entity.ContentImage, entity.ContentVideo:
		if err := d.checkMedia(req); err != nil {
			return "", err
		}
		address, err := d.blobs.Upload(ctx, req.FileName, req.MIMEType, req.Data)
		if err != nil {
			d.log.Error().Err(err).Str("file", req.FileName).Msg("blob upload failed")
			return "", app_error.NewUploadFailed(err)
		}
		record["content"] = address
		record["fileName"] = req.FileName

	default:
		return "", app_error.NewAppError(app_error.UnsupportedType, "unknown content kind", "kind")
	}

	id, err := d.rt.Append(ctx, targetPath, record)
	if err != nil {
		d.log.Error().Err(err).Str("path", targetPath).Msg("publish append failed")
		return "", app_error.NewWriteFailed(err)
	}
	d.log.Info().Str("id", id).Str("path", targetPath).Str("kind", string(req.Kind)).Msg("item published")
	return id, nil
}

// PublishReply writes a reply under the parent item's thread. Structurally a
// text publish against the reply sub-collection.
func (d *Dispatcher) PublishReply(ctx context.Context, sender Sender, text, parentItemID string) (string, error) {
	if err := d.validate.Struct(sender); err != nil {
		return "", app_error.NewAppError(app_error.WriteFailed, "incomplete sender identity", "sender")
	}
	if strings.TrimSpace(text) == "" {
		return "", app_error.NewAppError(app_error.EmptyContent, "nothing to reply after trimming", "text")
	}
	record := map[string]any{
		"content":     text,
		"sender":      sender.Name,
		"senderImage": orNil(sender.Image),
		"senderId":    sender.ID,
		"timestamp":   d.now().UnixMilli(),
	}
	id, err := d.rt.Append(ctx, store.Replies(parentItemID), record)
	if err != nil {
		return "", app_error.NewWriteFailed(err)
	}
	return id, nil
}

// DeleteItem removes a shared item and its whole reply thread. Permanent.
func (d *Dispatcher) DeleteItem(ctx context.Context, targetPath, itemID string) error {
	if err := d.rt.Delete(ctx, targetPath, itemID); err != nil {
		return app_error.NewWriteFailed(err)
	}
	if err := d.rt.Delete(ctx, store.Replies(itemID)); err != nil {
		return app_error.NewWriteFailed(err)
	}
	d.log.Info().Str("id", itemID).Str("path", targetPath).Msg("item deleted with replies")
	return nil
}

// ClearAll wipes the content stream at targetPath. Subscribers observe the
// cleared collection as an explicit empty snapshot.
func (d *Dispatcher) ClearAll(ctx context.Context, targetPath string) error {
	if err := d.rt.Delete(ctx, targetPath); err != nil {
		return app_error.NewWriteFailed(err)
	}
	d.log.Info().Str("path", targetPath).Msg("stream cleared")
	return nil
}

func (d *Dispatcher) checkMedia(req Request) error {
	category := strings.SplitN(req.MIMEType, "/", 2)[0]
	wantCategory := "image"
	if req.Kind == entity.ContentVideo {
		wantCategory = "video"
	}
	if category != wantCategory {
		return app_error.NewAppError(app_error.UnsupportedType,
			"only image and video files are supported", "mimeType")
	}
	if size := int64(len(req.Data)); size > d.ceiling {
		return app_error.NewPayloadTooLarge(size, d.ceiling)
	}
	return nil
}

// orNil keeps absent optional fields out of the stored record, matching how
// an absent profile image is represented everywhere else.
func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
