// Package gesture turns pointer drags and horizontal wheel scrolls over a message into
// reply intents.
package gesture

import (
	"log/slog"
	"math"
	"time"

	"github.com/itchan-dev/pairchat/client/internal/loop"
	"github.com/itchan-dev/pairchat/shared/domain"
	"github.com/itchan-dev/pairchat/shared/logger"
	"github.com/itchan-dev/pairchat/shared/metrics"
)

const (
	LockThreshold  = 6.0
	MaxOffset      = 90.0
	ReplyThreshold = 60.0
	WheelThreshold = 20.0

	SettleDelay   = 160 * time.Millisecond
	PulseDuration = 240 * time.Millisecond
)

type Source string

const (
	SourceDrag  Source = "drag"
	SourceWheel Source = "wheel"
)

// Pulse is the short directional nudge shown after a wheel reply. Direction is -1 or 1.
type Pulse struct {
	Direction int
	timer     loop.Timer
}

type Options struct {
	Settle time.Duration
	Pulse  time.Duration
	// Editing reports whether the composer is editing a message; wheel replies are
	// suppressed meanwhile.
	Editing func() bool
	OnReply func(target domain.MessageId, source Source)
}

// Recognizer runs on the update queue and owns at most one live session.
type Recognizer struct {
	user  domain.Username
	sched loop.Scheduler
	opts  Options
	log   *slog.Logger

	session  *Session
	settling map[domain.MessageId]loop.Timer
	pulses   map[domain.MessageId]*Pulse
}

func New(user domain.Username, sched loop.Scheduler, opts Options) *Recognizer {
	if opts.Settle <= 0 {
		opts.Settle = SettleDelay
	}
	if opts.Pulse <= 0 {
		opts.Pulse = PulseDuration
	}
	return &Recognizer{
		user:     user,
		sched:    sched,
		opts:     opts,
		log:      logger.For("gesture"),
		settling: make(map[domain.MessageId]loop.Timer),
		pulses:   make(map[domain.MessageId]*Pulse),
	}
}

// Session returns a copy of the live session, if any.
func (r *Recognizer) Session() (Session, bool) {
	if r.session == nil {
		return Session{}, false
	}
	return *r.session, true
}

// Offset is the visual drag offset of a message.
func (r *Recognizer) Offset(id domain.MessageId) float64 {
	if r.session != nil && r.session.Target == id {
		return r.session.Offset
	}
	return 0
}

func (r *Recognizer) Settling(id domain.MessageId) bool {
	_, ok := r.settling[id]
	return ok
}

// Pulse returns the running pulse of a message.
func (r *Recognizer) Pulse(id domain.MessageId) (int, bool) {
	p, ok := r.pulses[id]
	if !ok {
		return 0, false
	}
	return p.Direction, true
}

// PointerDown opens a session over msg. It is refused while another session is live or
// while msg is still settling from the previous one.
func (r *Recognizer) PointerDown(msg domain.Message, p Point) bool {
	if r.session != nil || r.Settling(msg.Id) {
		return false
	}
	r.session = &Session{
		Target: msg.Id,
		Start:  p,
		Own:    msg.Author == r.user,
	}
	return true
}

func (r *Recognizer) PointerMove(p Point) {
	if r.session == nil {
		return
	}
	if r.session.move(p) == stepCancel {
		r.log.Debug("gesture cancelled by vertical movement", "message_id", r.session.Target)
		r.session = nil
	}
}

// PointerUp ends the session at p and reports whether a reply fired.
func (r *Recognizer) PointerUp(p Point) bool {
	if r.session == nil {
		return false
	}
	if r.session.move(p) == stepCancel {
		r.session = nil
		return false
	}
	return r.release()
}

// PointerCancel ends the session at its last known position.
func (r *Recognizer) PointerCancel() bool {
	if r.session == nil {
		return false
	}
	return r.release()
}

func (r *Recognizer) release() bool {
	s := r.session
	r.session = nil

	fired := s.fires()
	if fired {
		r.reply(s.Target, SourceDrag)
	}

	id := s.Target
	if t, ok := r.settling[id]; ok {
		t.Stop()
	}
	r.settling[id] = r.sched.AfterFunc(r.opts.Settle, func() {
		delete(r.settling, id)
	})
	return fired
}

// Wheel handles a wheel event over msg and reports whether a reply fired.
func (r *Recognizer) Wheel(msg domain.Message, dx, dy float64) bool {
	if r.opts.Editing != nil && r.opts.Editing() {
		return false
	}
	ax := math.Abs(dx)
	if ax <= math.Abs(dy) || ax <= WheelThreshold {
		return false
	}
	own := msg.Author == r.user
	if !permitted(dx, own) {
		return false
	}

	r.reply(msg.Id, SourceWheel)
	r.pulse(msg.Id, dx)
	return true
}

// pulse nudges the message against the swipe direction, replacing a running pulse.
func (r *Recognizer) pulse(id domain.MessageId, dx float64) {
	if p, ok := r.pulses[id]; ok {
		p.timer.Stop()
	}
	dir := -1
	if dx < 0 {
		dir = 1
	}
	p := &Pulse{Direction: dir}
	p.timer = r.sched.AfterFunc(r.opts.Pulse, func() {
		if r.pulses[id] == p {
			delete(r.pulses, id)
		}
	})
	r.pulses[id] = p
}

func (r *Recognizer) reply(id domain.MessageId, source Source) {
	metrics.ReplyIntents.WithLabelValues(string(source)).Inc()
	r.log.Debug("reply intent", "message_id", id, "source", string(source))
	if r.opts.OnReply != nil {
		r.opts.OnReply(id, source)
	}
}
