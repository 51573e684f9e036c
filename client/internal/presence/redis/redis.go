// Package redis implements the presence channel on Redis.
//
// Every connection stores its latest payload under its own expiring key
// "<channel>:member:<key>:<conn>" and announces changes on the "<channel>:sync" pub/sub
// channel. Subscribers rebuild the full state by scanning the member keys, so a peer that
// disappears without cleaning up drops out once its key expires.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/itchan-dev/pairchat/client/internal/presence"
	"github.com/itchan-dev/pairchat/shared/domain"
	"github.com/itchan-dev/pairchat/shared/logger"
)

type Channel struct {
	client goredis.UniversalClient
	name   string
	conn   string
	ttl    time.Duration
	log    *slog.Logger

	mu   sync.Mutex
	last map[string]domain.PresenceEntry
}

func New(client goredis.UniversalClient, name string, ttl time.Duration) *Channel {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Channel{
		client: client,
		name:   name,
		conn:   uuid.NewString(),
		ttl:    ttl,
		log:    logger.For("presence-redis"),
		last:   make(map[string]domain.PresenceEntry),
	}
}

// Connect pings the server before handing out the client.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (c *Channel) syncChannel() string {
	return c.name + ":sync"
}

func (c *Channel) memberPrefix() string {
	return c.name + ":member:"
}

func (c *Channel) memberKey(key string) string {
	return c.memberPrefix() + key + ":" + c.conn
}

// Track stores entry and announces it. An entry older than the one already tracked for key
// is ignored.
func (c *Channel) Track(ctx context.Context, key string, entry domain.PresenceEntry) error {
	c.mu.Lock()
	if prev, ok := c.last[key]; ok && entry.LastTrackedAt.Before(prev.LastTrackedAt) {
		c.mu.Unlock()
		c.log.Debug("ignoring stale presence entry", "key", key, "tracked_at", entry.LastTrackedAt)
		return nil
	}
	c.last[key] = entry
	// stores hold mu so a heartbeat cannot write back an older payload
	err := c.store(ctx, key, entry)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.syncChannel(), key).Err(); err != nil {
		return fmt.Errorf("publish presence of %s: %w", key, err)
	}
	return nil
}

func (c *Channel) store(ctx context.Context, key string, entry domain.PresenceEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := c.client.Set(ctx, c.memberKey(key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("store presence of %s: %w", key, err)
	}
	return nil
}

// Subscribe listens on the sync channel. Status and sync callbacks are delivered from a
// background goroutine until ctx is cancelled, at which point the member key is removed.
func (c *Channel) Subscribe(ctx context.Context, key string, l presence.Listener) error {
	ps := c.client.Subscribe(ctx, c.syncChannel())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe to %s: %w", c.syncChannel(), err)
	}
	go c.run(ctx, ps, key, l)
	return nil
}

func (c *Channel) run(ctx context.Context, ps *goredis.PubSub, key string, l presence.Listener) {
	defer ps.Close()

	heartbeat := time.NewTicker(c.ttl / 3)
	defer heartbeat.Stop()

	healthy := true
	l.OnStatus(presence.StatusSubscribed, nil)
	healthy = c.resync(ctx, l, healthy)

	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			c.leave(key)
			l.OnStatus(presence.StatusClosed, nil)
			return
		case _, ok := <-messages:
			if !ok {
				l.OnStatus(presence.StatusClosed, nil)
				return
			}
			healthy = c.resync(ctx, l, healthy)
		case <-heartbeat.C:
			c.refresh(ctx, key)
			healthy = c.resync(ctx, l, healthy)
		}
	}
}

// resync delivers a full state. A failing read is reported once as a disruption; the first
// successful one afterwards is reported as a fresh subscription.
func (c *Channel) resync(ctx context.Context, l presence.Listener, healthy bool) bool {
	state, err := c.State(ctx)
	if err != nil {
		if healthy && ctx.Err() == nil {
			l.OnStatus(presence.StatusError, err)
		}
		return false
	}
	if !healthy {
		l.OnStatus(presence.StatusSubscribed, nil)
	}
	l.OnSync(state)
	return true
}

func (c *Channel) refresh(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.last[key]
	if !ok {
		return
	}
	if err := c.store(ctx, key, entry); err != nil {
		c.log.Warn("presence heartbeat failed", "key", key, "error", err)
	}
}

func (c *Channel) leave(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Del(ctx, c.memberKey(key)).Err(); err != nil {
		c.log.Warn("failed to remove presence key", "key", key, "error", err)
		return
	}
	c.client.Publish(ctx, c.syncChannel(), key)
}

// State reads every live member key.
func (c *Channel) State(ctx context.Context) (domain.PresenceState, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.memberPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence keys: %w", err)
	}
	if len(keys) == 0 {
		return domain.PresenceState{}, nil
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence keys: %w", err)
	}
	return decodeState(c.memberPrefix(), keys, values, c.log), nil
}

// memberOf extracts the member key from "<prefix><key>:<conn>".
func memberOf(prefix, redisKey string) (string, bool) {
	rest, ok := strings.CutPrefix(redisKey, prefix)
	if !ok {
		return "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}

// decodeState groups payloads by member key. Keys that expired between SCAN and MGET come
// back as nil and are skipped, as are unreadable payloads.
func decodeState(prefix string, keys []string, values []interface{}, log *slog.Logger) domain.PresenceState {
	state := domain.PresenceState{}
	for i, k := range keys {
		if i >= len(values) || values[i] == nil {
			continue
		}
		member, ok := memberOf(prefix, k)
		if !ok {
			continue
		}
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		var entry domain.PresenceEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Debug("skipping malformed presence payload", "key", k, "error", err)
			continue
		}
		state[member] = append(state[member], entry)
	}
	return state
}
