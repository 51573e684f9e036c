// Package session wires the engine components onto one update queue and exposes the chat
// surface to the outer world.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/itchan-dev/pairchat/client/internal/composer"
	"github.com/itchan-dev/pairchat/client/internal/gesture"
	"github.com/itchan-dev/pairchat/client/internal/loop"
	"github.com/itchan-dev/pairchat/client/internal/presence"
	"github.com/itchan-dev/pairchat/client/internal/reconciler"
	"github.com/itchan-dev/pairchat/client/internal/render"
	"github.com/itchan-dev/pairchat/client/internal/typing"
	"github.com/itchan-dev/pairchat/client/internal/watermark"
	"github.com/itchan-dev/pairchat/shared/config"
	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
	"github.com/itchan-dev/pairchat/shared/logger"
	"github.com/itchan-dev/pairchat/shared/metrics"
)

// Backend is the query side of the message store.
type Backend interface {
	// ListMessages returns every message ordered by created_at ascending.
	ListMessages(ctx context.Context) ([]domain.Message, error)
}

// FeedListener receives change-feed traffic from the adapter's goroutines.
type FeedListener struct {
	OnEvent func(ev domain.ChangeEvent)
	// OnStatus reports connects (err == nil) and drops.
	OnStatus func(connected bool, err error)
}

// ChangeFeed delivers change events in the background until ctx is cancelled. Listen
// returns an error only when the feed cannot be set up at all.
type ChangeFeed interface {
	Listen(ctx context.Context, l FeedListener) error
}

// Queue is the update queue the session runs on.
type Queue interface {
	loop.Scheduler
	loop.Runner
	loop.Poster
	Call(f func()) error
}

type Deps struct {
	Backend    Backend
	Store      reconciler.Store
	Watermarks watermark.Store
	Objects    composer.ObjectStore
	Feed       ChangeFeed
	Presence   presence.Channel
}

type Options struct {
	User     domain.Username
	Timings  config.Timings
	Location *time.Location
	// OnUnread is called on the queue whenever the unread indicator flips.
	OnUnread func(unread bool)
}

type Session struct {
	opts  Options
	deps  Deps
	queue Queue
	log   *slog.Logger

	messages  *reconciler.Reconciler
	presence  *presence.Tracker
	typing    *typing.Signal
	watermark *watermark.Tracker
	gesture   *gesture.Recognizer
	composer  *composer.Composer
	renderer  *render.Renderer

	loaded        bool
	buffered      []domain.Message
	stale         bool
	retry         loop.Timer
	feedConnected bool
	feedDropped   bool
}

func New(deps Deps, opts Options, queue Queue) *Session {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Session{
		opts:     opts,
		deps:     deps,
		queue:    queue,
		log:      logger.For("session"),
		renderer: render.New(),
	}
	t := opts.Timings

	s.messages = reconciler.New(opts.User, deps.Store, queue, queue)
	s.presence = presence.New(opts.User, deps.Presence, queue, queue, queue)
	var announcer typing.Tracker = s.presence
	if deps.Presence == nil {
		announcer = silent{}
	}
	s.typing = typing.New(announcer, queue, t.TypingIdle)
	s.watermark = watermark.New(opts.User, deps.Watermarks, queue, queue, t.ReadThreshold)
	s.composer = composer.New(opts.User, composer.Deps{
		Objects:   deps.Objects,
		Messages:  s.messages,
		Typing:    s.typing,
		Watermark: s.watermark,
		Sched:     queue,
		Runner:    queue,
	})
	s.gesture = gesture.New(opts.User, queue, gesture.Options{
		Settle:  t.SwipeSettle,
		Pulse:   t.SwipePulse,
		Editing: s.composer.IsEditing,
		OnReply: s.onReplyIntent,
	})

	s.messages.OnChange(s.watermark.Update)
	s.watermark.OnUnreadChange(func(unread bool) {
		s.log.Info("unread indicator changed", "unread", unread, "favicon", render.Favicon(unread))
		if s.opts.OnUnread != nil {
			s.opts.OnUnread(unread)
		}
	})
	return s
}

// Start loads the snapshot and the watermark, then joins the change feed and the presence
// channel. Feed events arriving before the snapshot are held back and merged after it.
func (s *Session) Start(ctx context.Context) error {
	if err := s.queue.Call(func() {
		s.loadSnapshot()
		s.watermark.Load()
	}); err != nil {
		return err
	}

	if err := s.deps.Feed.Listen(ctx, FeedListener{
		OnEvent:  func(ev domain.ChangeEvent) { s.post(func() { s.onChangeEvent(ev) }) },
		OnStatus: func(connected bool, err error) { s.post(func() { s.onFeedStatus(connected, err) }) },
	}); err != nil {
		return fmt.Errorf("listen to change feed: %w", err)
	}

	if s.deps.Presence != nil {
		if err := s.presence.Join(ctx); err != nil {
			// presence is cosmetic; the chat works without it
			s.log.Warn("presence unavailable", "error", err)
		}
	}
	return nil
}

// silent swallows typing announcements when no presence channel is configured.
type silent struct{}

func (silent) Track(bool) {}

func (s *Session) post(f func()) {
	if err := s.queue.Post(f); err != nil {
		s.log.Debug("event dropped", "error", err)
	}
}

// snapshotRetry is how long to wait before fetching the snapshot again after a failure.
const snapshotRetry = 2 * time.Second

// loadSnapshot fetches the initial log. A failed fetch starts the session from an empty
// log so live events keep flowing, and the snapshot is retried in the background.
func (s *Session) loadSnapshot() {
	s.queue.Go(func(ctx context.Context) func() {
		records, err := s.deps.Backend.ListMessages(ctx)
		return func() {
			if err != nil {
				s.log.Error("failed to load messages", "error", err, "retry_in", snapshotRetry)
				records = nil
				s.stale = true
				s.scheduleResync()
			}
			if !s.loaded {
				s.install(records)
			}
		}
	})
}

// install loads the first snapshot and merges the events held back while it was in flight.
func (s *Session) install(records []domain.Message) {
	s.messages.Load(records)
	s.loaded = true
	for _, rec := range s.buffered {
		s.messages.ApplyChangeEvent(rec)
	}
	s.buffered = nil
}

func (s *Session) resync() {
	s.queue.Go(func(ctx context.Context) func() {
		records, err := s.deps.Backend.ListMessages(ctx)
		return func() {
			if err != nil {
				s.log.Warn("resync failed", "error", err, "stale", s.stale)
				if s.stale {
					s.scheduleResync()
				}
				return
			}
			s.stale = false
			if !s.loaded {
				s.install(records)
				return
			}
			s.messages.ResyncFrom(records)
		}
	})
}

// scheduleResync arms at most one pending snapshot retry.
func (s *Session) scheduleResync() {
	if s.retry != nil {
		return
	}
	s.retry = s.queue.AfterFunc(snapshotRetry, func() {
		s.retry = nil
		s.resync()
	})
}

func (s *Session) onChangeEvent(ev domain.ChangeEvent) {
	if ev.Record == nil {
		return
	}
	if !s.loaded {
		s.buffered = append(s.buffered, *ev.Record)
		return
	}
	s.messages.ApplyChangeEvent(*ev.Record)
}

// onFeedStatus resyncs after every reconnect; events sent while disconnected are lost.
func (s *Session) onFeedStatus(connected bool, err error) {
	if !connected {
		if s.feedConnected {
			metrics.ChannelDisruptions.WithLabelValues("feed").Inc()
			s.log.Warn("change feed disrupted",
				"error", fmt.Errorf("%w: %v", internal_errors.ChannelDisruption, err))
		}
		s.feedConnected = false
		s.feedDropped = true
		return
	}
	s.feedConnected = true
	if s.feedDropped {
		s.feedDropped = false
		s.log.Info("change feed reconnected, resyncing")
		s.resync()
	}
}

func (s *Session) onReplyIntent(id domain.MessageId, source gesture.Source) {
	msg, ok := s.messages.Get(id)
	if !ok {
		return
	}
	if err := s.composer.StartReply(msg); err != nil {
		s.log.Debug("reply intent ignored", "message_id", id, "source", string(source), "error", err)
	}
}
