// Package composer stages outgoing text and attachments and turns them into sends and
// edits on the message log.
package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/itchan-dev/pairchat/client/internal/loop"
	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
	"github.com/itchan-dev/pairchat/shared/logger"
	"github.com/itchan-dev/pairchat/shared/metrics"
)

var ErrBusy = errors.New("a send is already in progress")

// ObjectStore holds uploaded attachments.
type ObjectStore interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	PublicURL(path string) string
}

type Messages interface {
	Send(id domain.MessageId, content string, replyTo *domain.MessageId, attachments []domain.Attachment) (domain.MessageId, error)
	Edit(id domain.MessageId, content string) error
}

type Typing interface {
	OnTextChange(text string)
	OnSend()
}

type Watermark interface {
	MarkReadNow() bool
}

type Deps struct {
	Objects   ObjectStore
	Messages  Messages
	Typing    Typing
	Watermark Watermark
	Sched     loop.Scheduler
	Runner    loop.Runner
}

// Composer runs on the update queue.
type Composer struct {
	user domain.Username
	deps Deps
	log  *slog.Logger

	text     string
	editText string
	replyTo  *domain.Message
	editing  *domain.Message
	pending  []domain.PendingAttachment
	sending  bool

	onChange      func()
	onUploadError func(name string, err error)
}

func New(user domain.Username, deps Deps) *Composer {
	return &Composer{
		user: user,
		deps: deps,
		log:  logger.For("composer"),
	}
}

func (c *Composer) OnChange(f func()) {
	c.onChange = f
}

// OnUploadError is told about every attachment that was skipped during a send.
func (c *Composer) OnUploadError(f func(name string, err error)) {
	c.onUploadError = f
}

func (c *Composer) Text() string {
	if c.editing != nil {
		return c.editText
	}
	return c.text
}

func (c *Composer) ReplyTo() *domain.Message { return c.replyTo }
func (c *Composer) Editing() *domain.Message { return c.editing }
func (c *Composer) IsEditing() bool          { return c.editing != nil }
func (c *Composer) Sending() bool            { return c.sending }

func (c *Composer) Pending() []domain.PendingAttachment {
	return c.pending
}

// SetText updates the draft of the current mode.
func (c *Composer) SetText(text string) {
	if c.editing != nil {
		c.editText = text
	} else {
		c.text = text
		c.deps.Typing.OnTextChange(text)
	}
	c.changed()
}

func (c *Composer) StartReply(msg domain.Message) error {
	if msg.IsDeleted() {
		return &internal_errors.ValidationError{Message: "cannot reply to a deleted message"}
	}
	c.editing = nil
	c.editText = ""
	m := msg.Clone()
	c.replyTo = &m
	c.changed()
	return nil
}

// StartEdit switches to edit mode on one of the local user's messages. Reply target and
// staged attachments are dropped.
func (c *Composer) StartEdit(msg domain.Message) error {
	if msg.Author != c.user {
		return fmt.Errorf("edit %s: %w", msg.Id, internal_errors.NotOwner)
	}
	if msg.IsDeleted() {
		return &internal_errors.ValidationError{Message: "cannot edit a deleted message"}
	}
	m := msg.Clone()
	c.editing = &m
	c.editText = msg.Content
	c.replyTo = nil
	c.pending = nil
	c.changed()
	return nil
}

// Cancel leaves reply or edit mode and withdraws typing. The draft and staged attachments
// are kept.
func (c *Composer) Cancel() {
	c.editing = nil
	c.editText = ""
	c.replyTo = nil
	c.deps.Typing.OnTextChange("")
	c.changed()
}

// AddFiles stages image files. Other types are skipped. It reports how many were added.
func (c *Composer) AddFiles(files []domain.File) (int, error) {
	if c.editing != nil {
		return 0, &internal_errors.ValidationError{Message: "attachments cannot be added while editing"}
	}
	added := 0
	for _, f := range files {
		if !strings.HasPrefix(f.MimeType, "image/") {
			c.log.Debug("skipping non-image file", "name", f.Name, "type", f.MimeType)
			continue
		}
		p := domain.PendingAttachment{Id: uuid.NewString(), File: f}
		if f.Data != nil {
			preview, err := Thumbnail(f.Data)
			if err != nil {
				c.log.Debug("no preview for attachment", "name", f.Name, "error", err)
			}
			p.Preview = preview
		}
		c.pending = append(c.pending, p)
		added++
	}
	if added > 0 {
		c.changed()
	}
	return added, nil
}

func (c *Composer) Remove(id string) bool {
	for i, p := range c.pending {
		if p.Id == id {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			c.changed()
			return true
		}
	}
	return false
}

// Submit sends the draft, or saves the edit in edit mode. Empty drafts are ignored.
// Attachments are uploaded off the queue; the message is sent once uploads finish.
func (c *Composer) Submit() error {
	if c.sending {
		return ErrBusy
	}
	if c.editing != nil {
		return c.submitEdit()
	}

	text := strings.TrimSpace(c.text)
	if text == "" && len(c.pending) == 0 {
		return nil
	}

	id := uuid.NewString()
	var replyTo *domain.MessageId
	if c.replyTo != nil {
		target := c.replyTo.Id
		replyTo = &target
	}

	if len(c.pending) == 0 {
		return c.send(id, text, replyTo, nil)
	}

	c.sending = true
	c.changed()
	pending := append([]domain.PendingAttachment(nil), c.pending...)

	c.deps.Runner.Go(func(ctx context.Context) func() {
		uploaded, failures := c.upload(ctx, id, pending)
		return func() {
			c.sending = false
			for _, err := range failures {
				c.log.Warn("attachment skipped", "message_id", id, "error", err)
				metrics.UploadFailures.Inc()
				if c.onUploadError != nil {
					c.onUploadError(err.name, err)
				}
			}
			if text == "" && len(uploaded) == 0 {
				c.log.Warn("nothing left to send", "message_id", id)
				c.changed()
				return
			}
			if err := c.send(id, text, replyTo, uploaded); err != nil {
				c.log.Warn("send failed", "message_id", id, "error", err)
				c.changed()
			}
		}
	})
	return nil
}

func (c *Composer) submitEdit() error {
	text := strings.TrimSpace(c.editText)
	if text == "" {
		return nil
	}
	if err := c.deps.Messages.Edit(c.editing.Id, text); err != nil {
		return err
	}
	c.editing = nil
	c.editText = ""
	c.changed()
	return nil
}

func (c *Composer) send(id domain.MessageId, text string, replyTo *domain.MessageId, attachments []domain.Attachment) error {
	if _, err := c.deps.Messages.Send(id, text, replyTo, attachments); err != nil {
		return err
	}
	c.text = ""
	c.replyTo = nil
	c.pending = nil
	c.deps.Typing.OnSend()
	if c.deps.Watermark != nil {
		c.deps.Watermark.MarkReadNow()
	}
	c.changed()
	return nil
}

type uploadError struct {
	name string
	err  error
}

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

// upload runs off the queue. Every failure is an UploadFailure for that file only.
func (c *Composer) upload(ctx context.Context, id domain.MessageId, pending []domain.PendingAttachment) ([]domain.Attachment, []*uploadError) {
	var uploaded []domain.Attachment
	var failures []*uploadError
	for _, p := range pending {
		f := p.File
		path := UploadPath(id, c.deps.Sched.Now(), f.Name)
		if err := c.put(ctx, path, f); err != nil {
			failures = append(failures, &uploadError{name: f.Name, err: internal_errors.Upload(f.Name, err)})
			continue
		}
		uploaded = append(uploaded, domain.Attachment{
			Name:        f.Name,
			MimeType:    f.MimeType,
			ByteSize:    f.Size,
			URL:         c.deps.Objects.PublicURL(path),
			StoragePath: path,
		})
	}
	return uploaded, failures
}

func (c *Composer) put(ctx context.Context, path string, f domain.File) error {
	if f.Data == nil {
		return errors.New("file has no data")
	}
	if _, err := f.Data.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", f.Name, err)
	}
	return c.deps.Objects.Upload(ctx, path, f.Data, f.Size, f.MimeType)
}

func (c *Composer) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
