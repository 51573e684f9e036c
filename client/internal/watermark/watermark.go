package watermark

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/itchan-dev/pairchat/client/internal/loop"
	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
	"github.com/itchan-dev/pairchat/shared/logger"
	"github.com/itchan-dev/pairchat/shared/metrics"
)

// ReadThreshold is the visible fraction of the last message that counts as read.
const ReadThreshold = 0.6

// Store persists one watermark row per user. GetWatermark returns NotFound when the user
// has none yet.
type Store interface {
	GetWatermark(ctx context.Context, user domain.Username) (*domain.Watermark, error)
	UpsertWatermark(ctx context.Context, w domain.Watermark) error
}

// Unread reports whether log holds a message newer than the watermark.
func Unread(log []domain.Message, watermark *time.Time) bool {
	if len(log) == 0 {
		return false
	}
	if watermark == nil {
		return true
	}
	return log[len(log)-1].CreatedAt.After(*watermark)
}

// Tracker caches the local user's watermark. It runs on the update queue.
type Tracker struct {
	user      domain.Username
	store     Store
	sched     loop.Scheduler
	runner    loop.Runner
	threshold float64
	log       *slog.Logger

	at       *time.Time
	messages []domain.Message
	unread   bool
	onUnread func(bool)
}

func New(user domain.Username, store Store, sched loop.Scheduler, runner loop.Runner, threshold float64) *Tracker {
	if threshold <= 0 || threshold > 1 {
		threshold = ReadThreshold
	}
	return &Tracker{
		user:      user,
		store:     store,
		sched:     sched,
		runner:    runner,
		threshold: threshold,
		log:       logger.For("watermark"),
	}
}

// OnUnreadChange registers the hook fired whenever the unread indicator flips.
func (t *Tracker) OnUnreadChange(f func(bool)) {
	t.onUnread = f
}

func (t *Tracker) Watermark() *time.Time {
	return t.at
}

func (t *Tracker) Unread() bool {
	return t.unread
}

// Load fetches the persisted watermark. It never moves the cached one backwards.
func (t *Tracker) Load() {
	t.runner.Go(func(ctx context.Context) func() {
		w, err := t.store.GetWatermark(ctx, t.user)
		return func() {
			switch {
			case errors.Is(err, internal_errors.NotFound):
				t.log.Debug("no watermark stored yet", "user", t.user)
			case err != nil:
				t.log.Warn("failed to load watermark", "user", t.user, "error", err)
			case w != nil:
				if t.at == nil || w.LastReadAt.After(*t.at) {
					at := w.LastReadAt
					t.at = &at
					t.refresh()
				}
			}
		}
	})
}

// Update is called with the log after every change.
func (t *Tracker) Update(log []domain.Message) {
	t.messages = log
	t.refresh()
}

// MarkRead advances the watermark to ts and persists it. A ts not after the current
// watermark is ignored; it reports whether the watermark moved.
func (t *Tracker) MarkRead(ts time.Time) bool {
	if t.at != nil && !ts.After(*t.at) {
		return false
	}
	t.at = &ts
	t.refresh()

	w := domain.Watermark{Username: t.user, LastReadAt: ts}
	t.runner.Go(func(ctx context.Context) func() {
		err := t.store.UpsertWatermark(ctx, w)
		if err == nil {
			return nil
		}
		return func() {
			metrics.PersistFailures.WithLabelValues("watermark").Inc()
			t.log.Warn("failed to persist watermark",
				"user", t.user, "error", internal_errors.Persist("upsert watermark", err))
		}
	})
	return true
}

func (t *Tracker) MarkReadNow() bool {
	return t.MarkRead(t.sched.Now())
}

// OnLastVisible is fed by the viewport with the last rendered message and its visible ratio.
func (t *Tracker) OnLastVisible(msg domain.Message, ratio float64) bool {
	if ratio < t.threshold {
		return false
	}
	return t.MarkRead(msg.CreatedAt)
}

func (t *Tracker) refresh() {
	unread := Unread(t.messages, t.at)
	if unread == t.unread {
		return
	}
	t.unread = unread
	if unread {
		metrics.Unread.Set(1)
	} else {
		metrics.Unread.Set(0)
	}
	if t.onUnread != nil {
		t.onUnread(unread)
	}
}
