package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itchan-dev/pairchat/client/internal/session"
	"github.com/itchan-dev/pairchat/shared/domain"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

const change = `{"topic":"realtime:messages","event":"postgres_changes","ref":null,"payload":{"ids":[1],"data":{"schema":"public","table":"messages","type":"INSERT","record":{"id":"m1","user_name":"bob","content":"hi","created_at":"2026-03-01T12:00:00+00:00"}}}}`

type status struct {
	connected bool
	err       error
}

// fakeServer accepts joins, pushes one change per connection and drops the first
// connection right after.
func fakeServer(t *testing.T) (*httptest.Server, *atomic.Int32, chan frame) {
	var conns atomic.Int32
	joins := make(chan frame, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.URL.Query().Get("apikey"))
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		n := conns.Add(1)

		var join frame
		if err := ws.ReadJSON(&join); err != nil {
			return
		}
		joins <- join
		ws.WriteJSON(frame{Topic: join.Topic, Event: "phx_reply", Ref: join.Ref,
			Payload: json.RawMessage(`{"status":"ok","response":{}}`)})
		ws.WriteMessage(websocket.TextMessage, []byte(change))
		if n == 1 {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, &conns, joins
}

func TestFeed_ReceivesAndReconnects(t *testing.T) {
	server, conns, joins := fakeServer(t)
	f := New("ws"+strings.TrimPrefix(server.URL, "http"), "anon")
	f.minBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan domain.ChangeEvent, 4)
	statuses := make(chan status, 8)
	require.NoError(t, f.Listen(ctx, session.FeedListener{
		OnEvent:  func(ev domain.ChangeEvent) { events <- ev },
		OnStatus: func(ok bool, err error) { statuses <- status{ok, err} },
	}))

	join := <-joins
	assert.Equal(t, "realtime:messages", join.Topic)
	assert.Equal(t, "phx_join", join.Event)
	assert.Contains(t, string(join.Payload), `"table":"messages"`)

	ev := nextEvent(t, events)
	assert.Equal(t, domain.EventInsert, ev.EventType)
	assert.Equal(t, "m1", ev.Record.Id)

	assert.Equal(t, true, nextStatus(t, statuses).connected)
	dropped := nextStatus(t, statuses)
	assert.False(t, dropped.connected)
	assert.Error(t, dropped.err)
	assert.True(t, nextStatus(t, statuses).connected, "reconnects after a drop")

	nextEvent(t, events)
	assert.Equal(t, int32(2), conns.Load())
}

func TestFeed_DialFailure(t *testing.T) {
	f := New("ws://127.0.0.1:1/realtime/v1/websocket", "")
	err := f.Listen(context.Background(), session.FeedListener{
		OnEvent:  func(domain.ChangeEvent) {},
		OnStatus: func(bool, error) {},
	})
	assert.Error(t, err)
}

func TestDecodeChange(t *testing.T) {
	t.Run("update", func(t *testing.T) {
		ev, err := DecodeChange([]byte(`{"data":{"type":"UPDATE","record":{"id":"m1","reactions":{"👍":["bob"]}}}}`))
		require.NoError(t, err)
		assert.Equal(t, domain.EventUpdate, ev.EventType)
		assert.Equal(t, []string{"bob"}, ev.Record.Reactions["👍"])
	})

	t.Run("delete has no record", func(t *testing.T) {
		_, err := DecodeChange([]byte(`{"data":{"type":"DELETE","old_record":{"id":"m1"}}}`))
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeChange([]byte(`[`))
		assert.Error(t, err)
	})
}

func TestHandle_JoinRejected(t *testing.T) {
	f := New("ws://unused", "")
	err := f.handle(frame{Topic: "realtime:messages", Event: "phx_reply",
		Payload: json.RawMessage(`{"status":"error","response":{"reason":"unauthorized"}}`)}, session.FeedListener{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")

	assert.NoError(t, f.handle(frame{Topic: "phoenix", Event: "phx_reply",
		Payload: json.RawMessage(`{"status":"error"}`)}, session.FeedListener{}), "other topics are ignored")
}

func nextEvent(t *testing.T, ch <-chan domain.ChangeEvent) domain.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
		return domain.ChangeEvent{}
	}
}

func nextStatus(t *testing.T, ch <-chan status) status {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no status")
		return status{}
	}
}
