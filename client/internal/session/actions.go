package session

import (
	"fmt"

	"github.com/itchan-dev/pairchat/client/internal/gesture"
	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
)

// The methods below may be called from any goroutine; each runs one update on the queue.

// do runs f on the queue and returns its error.
func (s *Session) do(f func() error) error {
	var err error
	if callErr := s.queue.Call(func() { err = f() }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) lookup(id domain.MessageId) (domain.Message, error) {
	msg, ok := s.messages.Get(id)
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, internal_errors.NotFound)
	}
	return msg, nil
}

// Draft is a composer submission from the outer surface.
type Draft struct {
	Text    string
	ReplyTo *domain.MessageId
	Files   []domain.File
}

// Post stages d in the composer and submits it.
func (s *Session) Post(d Draft) error {
	return s.do(func() error {
		if d.ReplyTo != nil {
			target, err := s.lookup(*d.ReplyTo)
			if err != nil {
				return err
			}
			if err := s.composer.StartReply(target); err != nil {
				return err
			}
		}
		s.composer.SetText(d.Text)
		if len(d.Files) > 0 {
			if _, err := s.composer.AddFiles(d.Files); err != nil {
				return err
			}
		}
		return s.composer.Submit()
	})
}

func (s *Session) SetText(text string) error {
	return s.do(func() error {
		s.composer.SetText(text)
		return nil
	})
}

func (s *Session) Submit() error {
	return s.do(s.composer.Submit)
}

func (s *Session) AddFiles(files []domain.File) (int, error) {
	var n int
	err := s.do(func() error {
		var err error
		n, err = s.composer.AddFiles(files)
		return err
	})
	return n, err
}

func (s *Session) RemoveFile(id string) error {
	return s.do(func() error {
		if !s.composer.Remove(id) {
			return fmt.Errorf("attachment %s: %w", id, internal_errors.NotFound)
		}
		return nil
	})
}

func (s *Session) StartReply(id domain.MessageId) error {
	return s.do(func() error {
		msg, err := s.lookup(id)
		if err != nil {
			return err
		}
		return s.composer.StartReply(msg)
	})
}

func (s *Session) StartEdit(id domain.MessageId) error {
	return s.do(func() error {
		msg, err := s.lookup(id)
		if err != nil {
			return err
		}
		return s.composer.StartEdit(msg)
	})
}

func (s *Session) CancelContext() error {
	return s.do(func() error {
		s.composer.Cancel()
		return nil
	})
}

func (s *Session) React(id domain.MessageId, emoji domain.Emoji) error {
	return s.do(func() error { return s.messages.React(id, emoji) })
}

func (s *Session) Delete(id domain.MessageId) error {
	return s.do(func() error { return s.messages.Delete(id) })
}

func (s *Session) Retry(id domain.MessageId) error {
	return s.do(func() error { return s.messages.Retry(id) })
}

// LastVisible is fed by the viewport with the visible fraction of the last rendered row.
func (s *Session) LastVisible(ratio float64) error {
	return s.do(func() error {
		log := s.messages.Messages()
		if len(log) == 0 {
			return nil
		}
		s.watermark.OnLastVisible(log[len(log)-1], ratio)
		return nil
	})
}

func (s *Session) PointerDown(id domain.MessageId, p gesture.Point) (bool, error) {
	var opened bool
	err := s.do(func() error {
		msg, err := s.lookup(id)
		if err != nil {
			return err
		}
		opened = s.gesture.PointerDown(msg, p)
		return nil
	})
	return opened, err
}

func (s *Session) PointerMove(p gesture.Point) error {
	return s.do(func() error {
		s.gesture.PointerMove(p)
		return nil
	})
}

func (s *Session) PointerUp(p gesture.Point) (bool, error) {
	var fired bool
	err := s.do(func() error {
		fired = s.gesture.PointerUp(p)
		return nil
	})
	return fired, err
}

func (s *Session) PointerCancel() (bool, error) {
	var fired bool
	err := s.do(func() error {
		fired = s.gesture.PointerCancel()
		return nil
	})
	return fired, err
}

func (s *Session) Wheel(id domain.MessageId, dx, dy float64) (bool, error) {
	var fired bool
	err := s.do(func() error {
		msg, err := s.lookup(id)
		if err != nil {
			return err
		}
		fired = s.gesture.Wheel(msg, dx, dy)
		return nil
	})
	return fired, err
}
