package bot

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// invalidationEvent is the payload published by the control plane after
// each policy write. Version is carried for the refetch guard; the
// handler itself relies on drop-and-refetch semantics, which are
// insensitive to reordering.
type invalidationEvent struct {
	Type         string          `json:"type"`
	ChannelLogin string          `json:"channel_login"`
	Fields       json.RawMessage `json:"fields"`
	Version      int64           `json:"version"`
	UpdatedAt    int64           `json:"updated_at"`
}

// Subscriber consumes the config invalidation topic and keeps the local
// cache and channel membership in step with the control plane.
type Subscriber struct {
	rdb     *redis.Client
	topic   string
	configs *ConfigCache
	sched   *Scheduler
	log     zerolog.Logger
}

// NewSubscriber wires the invalidation consumer.
func NewSubscriber(rdb *redis.Client, topic string, configs *ConfigCache, sched *Scheduler, log zerolog.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, topic: topic, configs: configs, sched: sched, log: log}
}

// Run subscribes and consumes until the context is cancelled. The
// go-redis pubsub reconnects underneath; a closed channel ends the run.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, s.topic)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	s.log.Info().Str("topic", s.topic).Msg("subscribed to config updates")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

// handle applies one invalidation event. Receiving the same event twice
// costs at most one extra refetch.
func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	var ev invalidationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn().Err(err).Msg("unparseable pubsub payload")
		return
	}
	if ev.Type != "config_update" || ev.ChannelLogin == "" {
		return
	}

	channel := strings.ToLower(ev.ChannelLogin)
	s.configs.Invalidate(channel)
	s.log.Debug().Str("channel", channel).Int64("version", ev.Version).Msg("invalidated channel policy")

	// A channel we are not carrying yet is a newly enabled one: join
	// it lazily and follow it. The join is paced, so don't block the
	// consume loop on it.
	if _, ok := s.sched.Owner(channel); !ok {
		go func() {
			if err := s.sched.Add(ctx, channel, true); err != nil {
				s.log.Warn().Err(err).Str("channel", channel).Msg("lazy join failed")
			}
		}()
	}
}
