package bot

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/EloWard/EloWardBot/internal/control"
	"github.com/EloWard/EloWardBot/internal/irc"
	"github.com/EloWard/EloWardBot/internal/rank"
)

// messageBudget bounds the whole per-message pipeline, including every
// control-plane and moderation call it may make.
const messageBudget = 30 * time.Second

// Dispatcher routes each inbound chat line to the command interpreter
// or the enforcement pipeline. Each message is processed on its own
// goroutine so a slow HTTPS call never stalls a shard's read loop.
type Dispatcher struct {
	configs   *ConfigCache
	ranks     *RankCache
	sched     *Scheduler
	executor  *Executor
	commander *Commander
	admins    AdminSet
	log       zerolog.Logger
}

// NewDispatcher wires the dispatcher to the shared caches and workers.
func NewDispatcher(configs *ConfigCache, ranks *RankCache, sched *Scheduler, executor *Executor, commander *Commander, admins AdminSet, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		configs:   configs,
		ranks:     ranks,
		sched:     sched,
		executor:  executor,
		commander: commander,
		admins:    admins,
		log:       log,
	}
}

// Handle processes one PRIVMSG received on a shard. Panics inside the
// pipeline are contained here; a failed message is allowed.
func (d *Dispatcher) Handle(shardID int, m *irc.Message) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().Interface("panic", r).Str("raw", m.Raw).Msg("panic in message pipeline")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), messageBudget)
		defer cancel()
		d.process(ctx, shardID, m)
	}()
}

func (d *Dispatcher) process(ctx context.Context, shardID int, m *irc.Message) {
	channel := m.Channel()
	if channel == "" {
		return
	}
	user := m.Nick()
	text := strings.TrimSpace(m.Text())

	if IsCommand(text) {
		// Only the shard that owns the channel answers commands;
		// duplicates during a handover are silently dropped.
		owner, ok := d.sched.Owner(channel)
		if !ok || owner != shardID {
			return
		}
		roles := ResolveRoles(m, channel)
		say := func(line string) error { return d.sched.Say(channel, line) }
		d.commander.Handle(ctx, say, channel, user, roles, text)
		return
	}

	policy := d.configs.Get(ctx, channel)
	if policy == nil || !policy.Enabled {
		return
	}

	roles := ResolveRoles(m, channel)
	isAdmin := d.admins.Contains(user)
	if isAdmin || roles.Exempt() {
		return
	}

	r := d.ranks.Get(ctx, user)
	if !violates(policy, r) {
		return
	}

	if err := d.executor.Timeout(ctx, channel, user, roles, isAdmin, policy, r); err != nil {
		d.log.Warn().Err(err).Str("channel", channel).Str("user", user).Msg("moderation call failed")
	}
}

// violates decides whether a rank record fails the channel policy.
// Unknown modes fail open.
func violates(policy *control.ChannelPolicy, r Rank) bool {
	switch policy.Mode {
	case control.ModeHasRank:
		return !r.Present
	case control.ModeMinRank:
		if !r.Present {
			return true
		}
		return !rank.MeetsMinimum(r.Tier, r.Division, policy.MinTier, policy.MinDivision)
	}
	return false
}
