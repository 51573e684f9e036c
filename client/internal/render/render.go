// Package render projects the message log into display rows.
package render

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"

	"github.com/itchan-dev/pairchat/client/internal/reconciler"
	"github.com/itchan-dev/pairchat/shared/domain"
)

const (
	DeletedText     = "Message deleted"
	UnavailableText = "Original message unavailable"
	ImageText       = "Image"
	DeletedRefText  = "Deleted message"

	FaviconRead   = "/favicon1.png"
	FaviconUnread = "/favicon2.png"
)

type ReplyPreview struct {
	Id       domain.MessageId `json:"id"`
	Author   domain.Username  `json:"author,omitempty"`
	Text     string           `json:"text"`
	Resolved bool             `json:"resolved"`
}

type AttachmentView struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	IsImage   bool   `json:"is_image"`
	SizeLabel string `json:"size"`
}

type Chip struct {
	Emoji domain.Emoji `json:"emoji"`
	Count int          `json:"count"`
	Mine  bool         `json:"mine"`
}

type Row struct {
	Id          domain.MessageId `json:"id"`
	Author      domain.Username  `json:"author"`
	Own         bool             `json:"own"`
	Grouped     bool             `json:"grouped"`
	TimeLabel   string           `json:"time,omitempty"` // empty for grouped rows
	Text        string           `json:"text"`
	HTML        string           `json:"html"`
	Edited      bool             `json:"edited"`
	Deleted     bool             `json:"deleted"`
	Delivery    string           `json:"delivery"`
	Reply       *ReplyPreview    `json:"reply,omitempty"`
	Attachments []AttachmentView `json:"attachments"`
	Reactions   []Chip           `json:"reactions"`

	CanReply  bool `json:"can_reply"`
	CanReact  bool `json:"can_react"`
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

type Options struct {
	Self     domain.Username
	Now      time.Time
	Location *time.Location
	Window   time.Duration
}

// Renderer is safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
}

func New() *Renderer {
	return &Renderer{policy: bluemonday.StrictPolicy()}
}

// Rows renders log in order.
func (r *Renderer) Rows(log []domain.Message, opts Options) []Row {
	if opts.Window <= 0 {
		opts.Window = reconciler.GroupWindow
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	grouped := reconciler.Grouped(log, opts.Window)

	rows := make([]Row, len(log))
	for i, m := range log {
		rows[i] = r.row(log, m, grouped[i], opts)
	}
	return rows
}

func (r *Renderer) row(log []domain.Message, m domain.Message, grouped bool, opts Options) Row {
	own := m.Author == opts.Self
	deleted := m.IsDeleted()

	row := Row{
		Id:          m.Id,
		Author:      m.Author,
		Own:         own,
		Grouped:     grouped,
		Edited:      m.EditedAt != nil && !deleted,
		Deleted:     deleted,
		Delivery:    m.Delivery.String(),
		Attachments: []AttachmentView{},
		Reactions:   []Chip{},
		CanReply:    !deleted,
		CanReact:    !deleted,
		CanEdit:     !deleted && own,
		CanDelete:   !deleted && own,
	}
	if !grouped {
		row.TimeLabel = TimeLabel(m.CreatedAt, opts.Now, opts.Location)
	}

	if deleted {
		row.Text = DeletedText
	} else {
		row.Text = m.Content
		for _, a := range m.Attachments {
			row.Attachments = append(row.Attachments, AttachmentView{
				Name:      a.Name,
				URL:       a.URL,
				IsImage:   a.IsImage(),
				SizeLabel: humanize.Bytes(uint64(max(a.ByteSize, 0))),
			})
		}
		row.Reactions = Chips(m.Reactions, opts.Self)
	}
	row.HTML = r.html(row.Text)

	if reply, isReply := reconciler.Resolve(log, m.ReplyTo); isReply {
		preview := Preview(reply)
		row.Reply = &preview
	}
	return row
}

// html escapes text and keeps line breaks.
func (r *Renderer) html(text string) string {
	safe := r.policy.Sanitize(text)
	return strings.ReplaceAll(safe, "\n", "<br>")
}

// Preview describes the referent of a reply.
func Preview(reply reconciler.Reply) ReplyPreview {
	if !reply.Resolved {
		return ReplyPreview{Id: reply.Id, Text: UnavailableText}
	}
	m := reply.Message
	text := m.Content
	switch {
	case text != "":
	case m.HasAttachments():
		text = ImageText
	default:
		text = DeletedRefText
	}
	return ReplyPreview{Id: reply.Id, Author: m.Author, Text: text, Resolved: true}
}

// Chips lists reactions with a stable emoji order.
func Chips(reactions domain.Reactions, self domain.Username) []Chip {
	chips := make([]Chip, 0, len(reactions))
	for _, emoji := range reactions.Emojis() {
		users := reactions[emoji]
		if len(users) == 0 {
			continue
		}
		chips = append(chips, Chip{Emoji: emoji, Count: len(users), Mine: reactions.Has(emoji, self)})
	}
	return chips
}

// TimeLabel formats a header time relative to now in loc.
func TimeLabel(t, now time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	t, now = t.In(loc), now.In(loc)
	clock := t.Format("15:04")

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)
	yesterday := today.AddDate(0, 0, -1)

	switch {
	case !t.Before(today) && t.Before(tomorrow):
		return clock
	case !t.Before(yesterday) && t.Before(today):
		return "Yesterday " + clock
	case t.Year() == now.Year():
		return t.Format("Jan 2") + " " + clock
	default:
		return t.Format("Jan 2, 2006") + " " + clock
	}
}

// Favicon is the icon matching the unread indicator.
func Favicon(unread bool) string {
	if unread {
		return FaviconUnread
	}
	return FaviconRead
}
