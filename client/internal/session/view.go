package session

import (
	"time"

	"github.com/itchan-dev/pairchat/client/internal/render"
	"github.com/itchan-dev/pairchat/shared/domain"
)

type ComposerView struct {
	Text    string            `json:"text"`
	ReplyTo *domain.MessageId `json:"reply_to,omitempty"`
	Editing *domain.MessageId `json:"editing,omitempty"`
	Pending []string          `json:"pending"`
	Sending bool              `json:"sending"`
}

type View struct {
	Rows       []render.Row       `json:"rows"`
	Empty      bool               `json:"empty"`
	Online     []domain.Username  `json:"online"`
	Typing     []domain.Username  `json:"typing"`
	Unread     bool               `json:"unread"`
	Favicon    string             `json:"favicon"`
	Watermark  *time.Time         `json:"watermark,omitempty"`
	Failed     []domain.MessageId `json:"failed"`
	Composer   ComposerView       `json:"composer"`
	Connected  bool               `json:"connected"`
	Subscribed bool               `json:"subscribed"`
}

// View renders the current state.
func (s *Session) View() (View, error) {
	var v View
	err := s.queue.Call(func() { v = s.view() })
	return v, err
}

func (s *Session) view() View {
	log := s.messages.Messages()
	snap := s.presence.Snapshot()
	unread := s.watermark.Unread()

	v := View{
		Rows: s.renderer.Rows(log, render.Options{
			Self:     s.opts.User,
			Now:      s.queue.Now(),
			Location: s.opts.Location,
			Window:   s.opts.Timings.GroupWindow,
		}),
		Empty:      len(log) == 0,
		Online:     snap.Online,
		Typing:     snap.Typing,
		Unread:     unread,
		Favicon:    render.Favicon(unread),
		Watermark:  s.watermark.Watermark(),
		Failed:     s.messages.Failed(),
		Connected:  s.feedConnected,
		Subscribed: s.presence.Subscribed(),
	}

	c := s.composer
	v.Composer = ComposerView{
		Text:    c.Text(),
		Pending: make([]string, 0, len(c.Pending())),
		Sending: c.Sending(),
	}
	if r := c.ReplyTo(); r != nil {
		id := r.Id
		v.Composer.ReplyTo = &id
	}
	if e := c.Editing(); e != nil {
		id := e.Id
		v.Composer.Editing = &id
	}
	for _, p := range c.Pending() {
		v.Composer.Pending = append(v.Composer.Pending, p.File.Name)
	}
	return v
}
