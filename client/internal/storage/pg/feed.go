package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/itchan-dev/pairchat/client/internal/session"
	"github.com/itchan-dev/pairchat/shared/domain"
	"github.com/itchan-dev/pairchat/shared/logger"
)

const (
	minReconnectInterval = 500 * time.Millisecond
	maxReconnectInterval = 30 * time.Second
	listenerPingInterval = 90 * time.Second
	fetchTimeout         = 5 * time.Second
)

// MessageGetter reads rows whose notification was too large to carry them.
type MessageGetter interface {
	GetMessage(ctx context.Context, id domain.MessageId) (*domain.Message, error)
}

// Feed turns NOTIFY payloads on ChangesChannel into change events.
type Feed struct {
	dsn     string
	channel string
	rows    MessageGetter
	log     *slog.Logger
}

var _ session.ChangeFeed = (*Feed)(nil)

func NewFeed(dsn string, rows MessageGetter) *Feed {
	return &Feed{dsn: dsn, channel: ChangesChannel, rows: rows, log: logger.For("pg_feed")}
}

// Feed returns a change feed on the storage's database.
func (s *Storage) Feed() *Feed {
	return NewFeed(s.dsn, s)
}

// Listen registers on the channel and delivers events from a background goroutine until
// ctx is done. The listener reconnects on its own; every connect is reported through
// l.OnStatus.
func (f *Feed) Listen(ctx context.Context, l session.FeedListener) error {
	listener := pq.NewListener(f.dsn, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected, pq.ListenerEventReconnected:
				l.OnStatus(true, nil)
			case pq.ListenerEventDisconnected:
				l.OnStatus(false, err)
			case pq.ListenerEventConnectionAttemptFailed:
				f.log.Debug("listener connection attempt failed", "error", err)
			}
		})
	if err := listener.Listen(f.channel); err != nil {
		listener.Close()
		return fmt.Errorf("listen on %s: %w", f.channel, err)
	}

	go f.run(ctx, listener, l)
	return nil
}

func (f *Feed) run(ctx context.Context, listener *pq.Listener, l session.FeedListener) {
	defer listener.Close()
	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			// nil after a reconnect; the session resyncs on the status callback
			if n == nil {
				continue
			}
			ev, id, err := DecodeEvent([]byte(n.Extra))
			if err != nil {
				f.log.Warn("dropping malformed notification", "error", err)
				continue
			}
			if ev.Record == nil {
				if ev.Record, err = f.fetch(ctx, id); err != nil {
					f.log.Warn("dropping notification, row unavailable", "message_id", id, "error", err)
					continue
				}
			}
			l.OnEvent(ev)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					f.log.Debug("listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (f *Feed) fetch(ctx context.Context, id domain.MessageId) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	return f.rows.GetMessage(ctx, id)
}

// notification is the trigger payload. Rows too large for NOTIFY come with their id only.
type notification struct {
	EventType domain.EventType `json:"eventType"`
	Id        domain.MessageId `json:"id"`
	Record    *domain.Message  `json:"record"`
}

// DecodeEvent parses a trigger payload. When the payload names the row by id only, the
// event has a nil Record and the id says which row to fetch.
func DecodeEvent(payload []byte) (domain.ChangeEvent, domain.MessageId, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.ChangeEvent{}, "", fmt.Errorf("decode change event: %w", err)
	}
	ev := domain.ChangeEvent{EventType: n.EventType, Record: n.Record}
	if ev.Record == nil {
		if n.Id == "" {
			return domain.ChangeEvent{}, "", fmt.Errorf("change event %s without record", n.EventType)
		}
		return ev, n.Id, nil
	}
	if ev.Record.Id == "" {
		return domain.ChangeEvent{}, "", fmt.Errorf("change event %s without record id", n.EventType)
	}
	if ev.Record.Reactions == nil {
		ev.Record.Reactions = domain.Reactions{}
	}
	return ev, ev.Record.Id, nil
}
