package bot

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/EloWard/EloWardBot/internal/control"
)

// ErrNoCapacity is returned when every shard is at its channel bound.
var ErrNoCapacity = errors.New("no shard has capacity for another channel")

// ErrNotJoined is returned when an operation targets a channel no shard
// carries.
var ErrNotJoined = errors.New("channel is not carried by any shard")

// ChannelIO is the shard surface the scheduler drives.
type ChannelIO interface {
	Join(channel string) error
	Part(channel string) error
	Say(channel, text string) error
}

// Scheduler owns the expected channel set and the channel→shard
// membership map. JOINs are paced per shard so the per-connection rate
// cap survives bursts.
type Scheduler struct {
	mu         sync.Mutex
	expected   map[string]struct{}
	membership map[string]int

	shards   []ChannelIO
	limiters []*rate.Limiter
	capacity int

	client *control.Client
	log    zerolog.Logger
}

// NewScheduler builds a scheduler over the given shards. joinInterval
// is the minimum spacing between JOINs on one shard.
func NewScheduler(shards []ChannelIO, capacity int, joinInterval time.Duration, client *control.Client, log zerolog.Logger) *Scheduler {
	limiters := make([]*rate.Limiter, len(shards))
	for i := range shards {
		limiters[i] = rate.NewLimiter(rate.Every(joinInterval), 1)
	}
	return &Scheduler{
		expected:   make(map[string]struct{}),
		membership: make(map[string]int),
		shards:     shards,
		limiters:   limiters,
		capacity:   capacity,
		client:     client,
		log:        log,
	}
}

// Owner returns the shard currently carrying a channel.
func (s *Scheduler) Owner(channel string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.membership[strings.ToLower(channel)]
	return id, ok
}

// Expected reports whether a channel belongs to the expected set.
func (s *Scheduler) Expected(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.expected[strings.ToLower(channel)]
	return ok
}

// Counts returns the per-shard channel counts.
func (s *Scheduler) Counts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make([]int, len(s.shards))
	for _, id := range s.membership {
		counts[id]++
	}
	return counts
}

// Say routes one chat line through the shard that owns the channel, so
// replies always leave on the connection that carries it.
func (s *Scheduler) Say(channel, text string) error {
	id, ok := s.Owner(channel)
	if !ok {
		return ErrNotJoined
	}
	return s.shards[id].Say(channel, text)
}

// BootLoad fetches the expected set and walks it in order, filling the
// first shard before the second. All channels are marked existing, so
// none triggers a follow call.
func (s *Scheduler) BootLoad(ctx context.Context) error {
	channels, err := s.client.Channels(ctx)
	if err != nil {
		return err
	}
	s.log.Info().Int("channels", len(channels)).Msg("loaded expected channel set")

	for _, channel := range channels {
		if err := s.assign(ctx, channel, s.pickFillFirst); err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Msg("failed to join channel on boot")
		}
	}
	return nil
}

// Add places a newly enabled channel on the less-loaded eligible shard.
// When follow is set, the control plane's follow endpoint is called so
// the bot appears in the channel's follower list.
func (s *Scheduler) Add(ctx context.Context, channel string, follow bool) error {
	channel = strings.ToLower(channel)
	if err := s.assign(ctx, channel, s.pickLeastLoaded); err != nil {
		return err
	}
	if follow {
		if err := s.client.FollowChannel(ctx, channel); err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Msg("follow call failed")
		}
	}
	return nil
}

// Remove parts a channel from whichever shard carries it and drops it
// from the expected set.
func (s *Scheduler) Remove(channel string) error {
	channel = strings.ToLower(channel)

	s.mu.Lock()
	delete(s.expected, channel)
	id, ok := s.membership[channel]
	if ok {
		delete(s.membership, channel)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotJoined
	}
	s.log.Info().Str("channel", channel).Int("shard", id).Msg("parting channel")
	return s.shards[id].Part(channel)
}

// Rejoin re-issues JOINs for every channel a shard owns, paced. Used
// after the shard re-registers; membership survives the reconnect.
func (s *Scheduler) Rejoin(ctx context.Context, shardID int) {
	s.mu.Lock()
	var channels []string
	for channel, id := range s.membership {
		if id == shardID {
			channels = append(channels, channel)
		}
	}
	s.mu.Unlock()
	sort.Strings(channels)

	for _, channel := range channels {
		if err := s.limiters[shardID].Wait(ctx); err != nil {
			return
		}
		if err := s.shards[shardID].Join(channel); err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Int("shard", shardID).Msg("rejoin failed")
			return
		}
	}
	s.log.Info().Int("shard", shardID).Int("channels", len(channels)).Msg("rejoined channels")
}

// Reconcile reloads the expected set and converges membership: missing
// channels are joined, channels no longer expected are parted. A safety
// net behind the pub/sub plane, not the primary mechanism.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	channels, err := s.client.Channels(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]struct{}, len(channels))
	for _, channel := range channels {
		fresh[strings.ToLower(channel)] = struct{}{}
	}

	s.mu.Lock()
	var removed, added []string
	for channel := range s.membership {
		if _, ok := fresh[channel]; !ok {
			removed = append(removed, channel)
		}
	}
	for channel := range fresh {
		if _, ok := s.membership[channel]; !ok {
			added = append(added, channel)
		}
	}
	s.mu.Unlock()

	for _, channel := range removed {
		if err := s.Remove(channel); err != nil && !errors.Is(err, ErrNotJoined) {
			s.log.Warn().Err(err).Str("channel", channel).Msg("reconcile part failed")
		}
	}
	for _, channel := range added {
		if err := s.Add(ctx, channel, false); err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Msg("reconcile join failed")
		}
	}
	if len(removed) > 0 || len(added) > 0 {
		s.log.Info().Int("added", len(added)).Int("removed", len(removed)).Msg("reconciled expected set")
	}
	return nil
}

// assign records membership for a channel and issues the paced JOIN.
// The pick function chooses the shard under the scheduler lock.
func (s *Scheduler) assign(ctx context.Context, channel string, pick func() (int, error)) error {
	channel = strings.ToLower(channel)

	s.mu.Lock()
	s.expected[channel] = struct{}{}
	if id, ok := s.membership[channel]; ok {
		s.mu.Unlock()
		s.log.Debug().Str("channel", channel).Int("shard", id).Msg("channel already assigned")
		return nil
	}
	id, err := pick()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.membership[channel] = id
	s.mu.Unlock()

	if err := s.limiters[id].Wait(ctx); err != nil {
		return err
	}
	return s.shards[id].Join(channel)
}

// pickFillFirst returns the first shard with room. Boot policy.
func (s *Scheduler) pickFillFirst() (int, error) {
	counts := make([]int, len(s.shards))
	for _, id := range s.membership {
		counts[id]++
	}
	for id := range s.shards {
		if counts[id] < s.capacity {
			return id, nil
		}
	}
	return 0, ErrNoCapacity
}

// pickLeastLoaded returns the eligible shard with the fewest channels.
func (s *Scheduler) pickLeastLoaded() (int, error) {
	counts := make([]int, len(s.shards))
	for _, id := range s.membership {
		counts[id]++
	}
	best, bestCount := -1, 0
	for id := range s.shards {
		if counts[id] >= s.capacity {
			continue
		}
		if best == -1 || counts[id] < bestCount {
			best, bestCount = id, counts[id]
		}
	}
	if best == -1 {
		return 0, ErrNoCapacity
	}
	return best, nil
}
