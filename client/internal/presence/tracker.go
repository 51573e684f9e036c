package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/itchan-dev/pairchat/client/internal/loop"
	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
	"github.com/itchan-dev/pairchat/shared/logger"
	"github.com/itchan-dev/pairchat/shared/metrics"
)

type Status int

const (
	StatusSubscribed Status = iota
	StatusClosed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusClosed:
		return "closed"
	default:
		return "error"
	}
}

// Listener receives channel events. Adapters call it from their own goroutines.
type Listener struct {
	OnStatus func(status Status, err error)
	OnSync   func(state domain.PresenceState)
}

// Channel is a presence channel. Subscribe returns once the subscription is set up and keeps
// delivering events until ctx is cancelled.
type Channel interface {
	Subscribe(ctx context.Context, key string, l Listener) error
	Track(ctx context.Context, key string, entry domain.PresenceEntry) error
}

// Tracker owns the presence set. Apart from Join, its methods run on the update queue.
type Tracker struct {
	self   domain.Username
	ch     Channel
	sched  loop.Scheduler
	runner loop.Runner
	post   loop.Poster
	log    *slog.Logger

	typing     bool
	subscribed bool
	// one Track request is in flight at a time; queued holds the newest state behind it
	inflight bool
	queued   *domain.PresenceEntry
	snap       Snapshot
	onChange   func(Snapshot)
}

func New(self domain.Username, ch Channel, sched loop.Scheduler, runner loop.Runner, post loop.Poster) *Tracker {
	return &Tracker{
		self:   self,
		ch:     ch,
		sched:  sched,
		runner: runner,
		post:   post,
		log:    logger.For("presence"),
		snap:   Snapshot{Online: []domain.Username{}, Typing: []domain.Username{}},
	}
}

func (t *Tracker) OnChange(f func(Snapshot)) {
	t.onChange = f
}

func (t *Tracker) Snapshot() Snapshot {
	return t.snap
}

// Join subscribes to the channel under the local username. Events are posted onto the
// update queue.
func (t *Tracker) Join(ctx context.Context) error {
	err := t.ch.Subscribe(ctx, t.self, Listener{
		OnStatus: func(status Status, err error) {
			t.deliver(func() {
				if status == StatusSubscribed {
					t.OnSubscribed()
				} else {
					t.OnDisconnected(err)
				}
			})
		},
		OnSync: func(state domain.PresenceState) {
			t.deliver(func() { t.OnSync(state) })
		},
	})
	if err != nil {
		return fmt.Errorf("join presence channel: %w", err)
	}
	return nil
}

func (t *Tracker) deliver(f func()) {
	if err := t.post.Post(f); err != nil {
		t.log.Debug("presence event dropped", "error", err)
	}
}

// OnSubscribed announces the local user as soon as the channel accepts the subscription;
// until then peers cannot see us.
func (t *Tracker) OnSubscribed() {
	t.subscribed = true
	t.log.Info("presence channel subscribed", "user", t.self)
	t.Track(t.typing)
}

// OnDisconnected keeps the last snapshot; the next full sync after resubscribing replaces it.
func (t *Tracker) OnDisconnected(err error) {
	t.subscribed = false
	metrics.ChannelDisruptions.WithLabelValues("presence").Inc()
	t.log.Warn("presence channel disrupted",
		"error", fmt.Errorf("%w: %v", internal_errors.ChannelDisruption, err))
}

// OnSync recomputes the member sets from scratch.
func (t *Tracker) OnSync(state domain.PresenceState) {
	t.snap = Reduce(state, t.self)
	metrics.PresenceSyncs.Inc()
	metrics.OnlineUsers.Set(float64(len(t.snap.Online)))
	if t.onChange != nil {
		t.onChange(t.snap)
	}
}

// Track broadcasts the local user's state. The call does not wait for the channel. Requests
// reach the channel in order; states tracked while one is in flight collapse to the newest.
func (t *Tracker) Track(typing bool) {
	t.typing = typing
	entry := domain.PresenceEntry{Username: t.self, Typing: typing, LastTrackedAt: t.sched.Now()}
	if t.inflight {
		t.queued = &entry
		return
	}
	t.send(entry)
}

func (t *Tracker) send(entry domain.PresenceEntry) {
	t.inflight = true
	t.runner.Go(func(ctx context.Context) func() {
		err := t.ch.Track(ctx, t.self, entry)
		return func() {
			if err != nil {
				t.log.Warn("presence track failed", "typing", entry.Typing, "error", err)
			}
			t.inflight = false
			if next := t.queued; next != nil {
				t.queued = nil
				t.send(*next)
			}
		}
	})
}

func (t *Tracker) Subscribed() bool {
	return t.subscribed
}

// Typing reports the last state handed to Track.
func (t *Tracker) Typing() bool {
	return t.typing
}
