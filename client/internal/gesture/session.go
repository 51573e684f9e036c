package gesture

import (
	"math"

	"github.com/itchan-dev/pairchat/shared/domain"
)

type Point struct {
	X, Y float64
}

// Lock is the axis decision of a session. A vertical decision never becomes a state: it
// destroys the session.
type Lock int

const (
	Unlocked Lock = iota
	Horizontal
)

func (l Lock) String() string {
	if l == Horizontal {
		return "horizontal"
	}
	return "unlocked"
}

// Session is one pointer interaction over a message.
type Session struct {
	Target domain.MessageId
	Start  Point
	Lock   Lock
	Offset float64 // clamped visual offset
	Own    bool

	dx float64 // raw horizontal displacement
}

// step is the outcome of feeding a move to a session.
type step int

const (
	stepContinue step = iota
	stepCancel
)

// move advances the session with the pointer at p.
func (s *Session) move(p Point) step {
	dx, dy := p.X-s.Start.X, p.Y-s.Start.Y
	s.dx = dx

	if s.Lock == Unlocked {
		ax, ay := math.Abs(dx), math.Abs(dy)
		switch {
		case ax > LockThreshold && ax > ay:
			s.Lock = Horizontal
		case ay > LockThreshold && ay > ax:
			return stepCancel
		default:
			return stepContinue
		}
	}

	s.Offset = clamp(dx, s.Own)
	return stepContinue
}

// fires reports whether releasing the session now triggers a reply.
func (s *Session) fires() bool {
	if s.Lock != Horizontal {
		return false
	}
	if s.Own {
		return s.dx > ReplyThreshold
	}
	return s.dx < -ReplyThreshold
}

// clamp limits an offset to the direction permitted for the message's ownership.
func clamp(dx float64, own bool) float64 {
	if own {
		return math.Min(math.Max(dx, 0), MaxOffset)
	}
	return math.Max(math.Min(dx, 0), -MaxOffset)
}

// permitted reports whether a horizontal delta points the way the message may be swiped.
func permitted(dx float64, own bool) bool {
	if own {
		return dx > 0
	}
	return dx < 0
}
