package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/EloWard/EloWardBot/internal/control"
)

// Rank cache TTLs. Positive records live longer than negative ones so a
// user who just links an account is picked up quickly.
const (
	positiveRankTTL = 60 * time.Second
	negativeRankTTL = 30 * time.Second
)

// ConfigCache maps channel logins to their policy. Entries have no TTL;
// correctness depends on the control plane's invalidation stream. A nil
// cached policy means the control plane answered 404: the bot is
// disabled for that channel.
type ConfigCache struct {
	mu      sync.RWMutex
	entries map[string]*configEntry
	client  *control.Client
	log     zerolog.Logger
}

type configEntry struct {
	policy *control.ChannelPolicy
}

// NewConfigCache builds an empty cache backed by the control plane.
func NewConfigCache(client *control.Client, log zerolog.Logger) *ConfigCache {
	return &ConfigCache{
		entries: make(map[string]*configEntry),
		client:  client,
		log:     log,
	}
}

// Get returns the policy for a channel, filling the cache on a miss.
// Transient control-plane failures return nil without caching, so the
// next message retries.
func (c *ConfigCache) Get(ctx context.Context, channel string) *control.ChannelPolicy {
	channel = strings.ToLower(channel)

	c.mu.RLock()
	entry, ok := c.entries[channel]
	c.mu.RUnlock()
	if ok {
		return entry.policy
	}

	policy, err := c.client.ConfigGet(ctx, channel)
	if errors.Is(err, control.ErrNotFound) {
		c.mu.Lock()
		c.entries[channel] = &configEntry{}
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("channel", channel).Msg("config fetch failed, treating channel as disabled")
		return nil
	}
	return c.store(channel, policy)
}

// store inserts a fetched policy, keeping whichever record carries the
// larger version when a refetch races an invalidation-triggered fill.
func (c *ConfigCache) store(channel string, policy *control.ChannelPolicy) *control.ChannelPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[channel]; ok && existing.policy != nil &&
		existing.policy.Version > policy.Version {
		return existing.policy
	}
	c.entries[channel] = &configEntry{policy: policy}
	return policy
}

// Invalidate drops the entry for a channel.
func (c *ConfigCache) Invalidate(channel string) {
	channel = strings.ToLower(channel)
	c.mu.Lock()
	delete(c.entries, channel)
	c.mu.Unlock()
}

// Rank is the cached view of a user's ranked standing. A present record
// with an empty tier is the fail-open synthetic used during control
// plane outages.
type Rank struct {
	Present  bool
	Tier     string
	Division string
}

type rankEntry struct {
	rank    Rank
	expires time.Time
}

// RankCache maps user logins to rank records with a bounded TTL.
type RankCache struct {
	mu      sync.RWMutex
	entries map[string]rankEntry
	client  *control.Client
	log     zerolog.Logger

	now func() time.Time
}

// NewRankCache builds an empty cache backed by the control plane.
func NewRankCache(client *control.Client, log zerolog.Logger) *RankCache {
	return &RankCache{
		entries: make(map[string]rankEntry),
		client:  client,
		log:     log,
		now:     time.Now,
	}
}

// Get returns the rank record for a user, filling the cache on a miss.
// A transport failure yields a fail-open record that is not cached.
func (c *RankCache) Get(ctx context.Context, user string) Rank {
	user = strings.ToLower(user)

	c.mu.RLock()
	entry, ok := c.entries[user]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.rank
	}

	rd, err := c.client.RankGet(ctx, user)
	if errors.Is(err, control.ErrNotFound) {
		r := Rank{Present: false}
		c.put(user, r, negativeRankTTL)
		return r
	}
	if err != nil {
		c.log.Warn().Err(err).Str("user", user).Msg("rank fetch failed, failing open")
		return Rank{Present: true}
	}

	r := Rank{Present: true, Tier: rd.Tier, Division: rd.Division}
	c.put(user, r, positiveRankTTL)
	return r
}

func (c *RankCache) put(user string, r Rank, ttl time.Duration) {
	c.mu.Lock()
	c.entries[user] = rankEntry{rank: r, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Sweep evicts expired entries and returns the count removed.
func (c *RankCache) Sweep() (evicted int) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for user, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, user)
			evicted++
		}
	}
	return evicted
}
