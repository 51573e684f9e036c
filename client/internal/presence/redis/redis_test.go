package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itchan-dev/pairchat/shared/domain"
	"github.com/itchan-dev/pairchat/shared/logger"
)

func TestMemberOf(t *testing.T) {
	tests := []struct {
		key    string
		member string
		ok     bool
	}{
		{"presence:member:alice:1234", "alice", true},
		{"presence:member:a:b:1234", "a:b", true},
		{"presence:member:alice", "", false},
		{"presence:member::1234", "", false},
		{"other:member:alice:1234", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			member, ok := memberOf("presence:member:", tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.member, member)
		})
	}
}

func TestDecodeState(t *testing.T) {
	keys := []string{
		"presence:member:alice:c1",
		"presence:member:bob:c2",
		"presence:member:bob:c3",
		"presence:member:carol:c4",
		"presence:member:dave:c5",
	}
	values := []interface{}{
		`{"username":"alice","typing":false,"online_at":"2026-03-01T12:00:00Z"}`,
		`{"username":"bob","typing":true,"online_at":"2026-03-01T12:00:01Z"}`,
		`{"username":"bob","typing":false,"online_at":"2026-03-01T12:00:02Z"}`,
		nil,
		`not json`,
	}

	state := decodeState("presence:member:", keys, values, logger.For("test"))

	require.Len(t, state, 2)
	assert.Len(t, state["alice"], 1)
	require.Len(t, state["bob"], 2)
	assert.True(t, state["bob"][0].Typing)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC), state["bob"][1].LastTrackedAt)
}

func TestChannelKeys(t *testing.T) {
	c := New(nil, "presence", 30*time.Second)
	key := c.memberKey("alice")

	member, ok := memberOf(c.memberPrefix(), key)
	require.True(t, ok)
	assert.Equal(t, "alice", member)
	assert.Equal(t, "presence:sync", c.syncChannel())
}

func TestTrack_IgnoresOlderEntry(t *testing.T) {
	// nothing listens here, so any write fails fast
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	c := New(client, "presence", 30*time.Second)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.last["alice"] = domain.PresenceEntry{Username: "alice", Typing: false, LastTrackedAt: at}

	err := c.Track(context.Background(), "alice", domain.PresenceEntry{Username: "alice", Typing: true, LastTrackedAt: at.Add(-time.Second)})
	require.NoError(t, err, "stale entry is dropped without touching redis")
	assert.False(t, c.last["alice"].Typing)

	err = c.Track(context.Background(), "alice", domain.PresenceEntry{Username: "alice", Typing: true, LastTrackedAt: at.Add(time.Second)})
	assert.Error(t, err)
	assert.True(t, c.last["alice"].Typing, "newer entry replaces the heartbeat payload")
}
