// Package typing decides when to announce and withdraw the local user's typing state.
package typing

import (
	"strings"
	"time"

	"github.com/itchan-dev/pairchat/client/internal/loop"
	"github.com/itchan-dev/pairchat/shared/logger"
)

// IdleTimeout is the inactivity period after which typing is withdrawn.
const IdleTimeout = 1400 * time.Millisecond

type State int

const (
	Idle State = iota
	Typing
)

func (s State) String() string {
	if s == Typing {
		return "typing"
	}
	return "idle"
}

// Tracker is where transitions are announced.
type Tracker interface {
	Track(typing bool)
}

// Signal runs on the update queue.
type Signal struct {
	tracker Tracker
	sched   loop.Scheduler
	idle    time.Duration

	state State
	timer loop.Timer
}

func New(tracker Tracker, sched loop.Scheduler, idle time.Duration) *Signal {
	if idle <= 0 {
		idle = IdleTimeout
	}
	return &Signal{tracker: tracker, sched: sched, idle: idle}
}

func (s *Signal) State() State {
	return s.state
}

// OnTextChange is called with the full composer text after every edit.
func (s *Signal) OnTextChange(text string) {
	if strings.TrimSpace(text) == "" {
		s.stopTimer()
		if s.state == Typing {
			s.transition(Idle)
		}
		return
	}

	if s.state == Idle {
		s.transition(Typing)
	}
	s.stopTimer()
	s.timer = s.sched.AfterFunc(s.idle, s.expire)
}

// OnSend withdraws typing unconditionally.
func (s *Signal) OnSend() {
	s.stopTimer()
	s.state = Idle
	s.tracker.Track(false)
}

func (s *Signal) expire() {
	s.timer = nil
	if s.state == Typing {
		s.transition(Idle)
	}
}

func (s *Signal) transition(to State) {
	logger.Log.Debug("typing state changed", "component", "typing", "from", s.state.String(), "to", to.String())
	s.state = to
	s.tracker.Track(to == Typing)
}

func (s *Signal) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
