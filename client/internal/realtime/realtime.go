// Package realtime is a change feed over a Supabase-style realtime websocket: Phoenix
// channel frames carrying postgres_changes for one table.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itchan-dev/pairchat/client/internal/session"
	"github.com/itchan-dev/pairchat/shared/domain"
	"github.com/itchan-dev/pairchat/shared/logger"
)

const (
	DefaultHeartbeat = 25 * time.Second
	writeWait        = 10 * time.Second
)

// frame is one Phoenix channel message.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type changePayload struct {
	Data struct {
		Type   domain.EventType `json:"type"`
		Record *domain.Message  `json:"record"`
	} `json:"data"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type Feed struct {
	url    string
	apiKey string
	schema string
	table  string
	topic  string

	dialer     *websocket.Dialer
	heartbeat  time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	log        *slog.Logger
}

var _ session.ChangeFeed = (*Feed)(nil)

// New returns a feed for public.messages at rawURL (ws:// or wss://).
func New(rawURL, apiKey string) *Feed {
	return &Feed{
		url:        rawURL,
		apiKey:     apiKey,
		schema:     "public",
		table:      "messages",
		topic:      "realtime:messages",
		dialer:     websocket.DefaultDialer,
		heartbeat:  DefaultHeartbeat,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		log:        logger.For("realtime"),
	}
}

// conn serialises writes; gorilla allows one concurrent writer.
type conn struct {
	ws  *websocket.Conn
	mu  sync.Mutex
	ref int
}

func (c *conn) send(topic, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	ref := strconv.Itoa(c.ref)
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(frame{Topic: topic, Event: event, Payload: raw, Ref: &ref})
}

// Listen dials and joins the channel. Only the first connection attempt is reported as an
// error; later drops are retried with backoff and surfaced through l.OnStatus.
func (f *Feed) Listen(ctx context.Context, l session.FeedListener) error {
	c, err := f.connect(ctx)
	if err != nil {
		return err
	}
	go f.run(ctx, c, l)
	return nil
}

func (f *Feed) endpoint() (string, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	if f.apiKey != "" {
		q.Set("apikey", f.apiKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *Feed) connect(ctx context.Context) (*conn, error) {
	endpoint, err := f.endpoint()
	if err != nil {
		return nil, err
	}
	ws, _, err := f.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	c := &conn{ws: ws}

	join := map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": f.schema, "table": f.table},
			},
		},
	}
	if f.apiKey != "" {
		join["access_token"] = f.apiKey
	}
	if err := c.send(f.topic, "phx_join", join); err != nil {
		ws.Close()
		return nil, fmt.Errorf("join %s: %w", f.topic, err)
	}
	return c, nil
}

func (f *Feed) run(ctx context.Context, c *conn, l session.FeedListener) {
	backoff := f.minBackoff
	for {
		l.OnStatus(true, nil)
		err := f.serve(ctx, c, l)
		if ctx.Err() != nil {
			return
		}
		l.OnStatus(false, err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := f.connect(ctx)
			if err == nil {
				c = next
				backoff = f.minBackoff
				break
			}
			f.log.Debug("reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, f.maxBackoff)
		}
	}
}

// serve reads frames until the connection fails or ctx is done.
func (f *Feed) serve(ctx context.Context, c *conn, l session.FeedListener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.ws.Close()
				return
			case <-done:
				c.ws.Close()
				return
			case <-ticker.C:
				if err := c.send("phoenix", "heartbeat", struct{}{}); err != nil {
					f.log.Debug("heartbeat failed", "error", err)
				}
			}
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		var fr frame
		if err := json.Unmarshal(data, &fr); err != nil {
			f.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		if err := f.handle(fr, l); err != nil {
			return err
		}
	}
}

var errChannelClosed = errors.New("channel closed by server")

func (f *Feed) handle(fr frame, l session.FeedListener) error {
	if fr.Topic != f.topic {
		return nil
	}
	switch fr.Event {
	case "postgres_changes":
		ev, err := DecodeChange(fr.Payload)
		if err != nil {
			f.log.Warn("dropping malformed change", "error", err)
			return nil
		}
		l.OnEvent(ev)
	case "phx_reply":
		var reply replyPayload
		if err := json.Unmarshal(fr.Payload, &reply); err == nil && reply.Status == "error" {
			return fmt.Errorf("join %s rejected: %s", f.topic, string(reply.Response))
		}
	case "phx_error", "phx_close":
		return errChannelClosed
	}
	return nil
}

// DecodeChange parses the payload of a postgres_changes frame.
func DecodeChange(payload []byte) (domain.ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode change: %w", err)
	}
	if p.Data.Record == nil || p.Data.Record.Id == "" {
		return domain.ChangeEvent{}, fmt.Errorf("change %s without record", p.Data.Type)
	}
	if p.Data.Record.Reactions == nil {
		p.Data.Record.Reactions = domain.Reactions{}
	}
	return domain.ChangeEvent{EventType: p.Data.Type, Record: p.Data.Record}, nil
}
