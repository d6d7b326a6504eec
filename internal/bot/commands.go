package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/EloWard/EloWardBot/internal/control"
	"github.com/EloWard/EloWardBot/internal/rank"
)

// Command prefixes recognised in chat.
const (
	commandPrefix = "!eloward"
	commandsAlias = "!commands"
	helpURL       = "https://www.eloward.com/help"
	commandsURL   = "https://www.eloward.com/commands"
	minTimeout    = 1
	maxTimeout    = control.MaxTimeoutSeconds
	usageMinRank  = "Usage: !eloward set min_rank TIER [DIVISION] (division required below MASTER)"
	deniedReply   = "Only the broadcaster and moderators can change EloWard settings."
	failedReply   = "Failed to update settings, please try again."
	unknownReply  = "Unknown command. See " + commandsURL
)

// SayFunc sends one reply line into the channel the command came from.
type SayFunc func(text string) error

// Commander interprets the in-chat command vocabulary and mutates
// channel policy through the signed control-plane RPC.
type Commander struct {
	client  *control.Client
	configs *ConfigCache
	admins  AdminSet
	site    string
	log     zerolog.Logger
}

// NewCommander builds the command interpreter.
func NewCommander(client *control.Client, configs *ConfigCache, admins AdminSet, site string, log zerolog.Logger) *Commander {
	return &Commander{client: client, configs: configs, admins: admins, site: site, log: log}
}

// IsCommand reports whether a chat line is addressed to the bot.
func IsCommand(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	return lower == commandsAlias ||
		lower == commandPrefix ||
		strings.HasPrefix(lower, commandPrefix+" ")
}

// Handle runs one command. Replies, including errors, are a single chat
// line; a non-command never reaches here.
func (c *Commander) Handle(ctx context.Context, say SayFunc, channel, user string, roles Roles, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}

	reply := func(line string) {
		if err := say(line); err != nil {
			c.log.Warn().Err(err).Str("channel", channel).Msg("failed to send reply")
		}
	}

	if strings.ToLower(fields[0]) == commandsAlias {
		reply("EloWard commands: " + commandsURL)
		return
	}

	if len(fields) == 1 {
		reply(c.shortStatus(ctx, channel))
		return
	}

	sub := strings.ToLower(fields[1])
	if sub == "help" {
		reply("EloWard help: " + helpURL)
		return
	}

	if !roles.Privileged() && !c.admins.Contains(user) {
		reply(deniedReply)
		return
	}

	switch sub {
	case "on":
		c.update(ctx, reply, channel, map[string]interface{}{"enabled": true}, "EloWard rank enforcement enabled.")
	case "off":
		c.update(ctx, reply, channel, map[string]interface{}{"enabled": false}, "EloWard rank enforcement disabled.")
	case "mode":
		c.setMode(ctx, reply, channel, fields[2:])
	case "set":
		c.handleSet(ctx, reply, channel, fields[2:])
	case "status":
		reply(c.detailedStatus(ctx, channel))
	default:
		reply(unknownReply)
	}
}

func (c *Commander) setMode(ctx context.Context, reply func(string), channel string, args []string) {
	if len(args) != 1 {
		reply("Usage: !eloward mode has_rank|min_rank")
		return
	}
	mode := strings.ToLower(args[0])
	if mode != control.ModeHasRank && mode != control.ModeMinRank {
		reply("Usage: !eloward mode has_rank|min_rank")
		return
	}
	c.update(ctx, reply, channel, map[string]interface{}{"mode": mode}, "Mode set to "+mode+".")
}

func (c *Commander) handleSet(ctx context.Context, reply func(string), channel string, args []string) {
	if len(args) == 0 {
		reply(unknownReply)
		return
	}

	switch strings.ToLower(args[0]) {
	case "timeout":
		if len(args) != 2 {
			reply("Usage: !eloward set timeout SECONDS")
			return
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			reply("Usage: !eloward set timeout SECONDS")
			return
		}
		if n < minTimeout {
			n = minTimeout
		}
		if n > maxTimeout {
			n = maxTimeout
		}
		c.update(ctx, reply, channel, map[string]interface{}{"timeout_seconds": n},
			fmt.Sprintf("Timeout set to %d seconds.", n))

	case "min_rank":
		if len(args) < 2 {
			reply(usageMinRank)
			return
		}
		tier := rank.NormalizeTier(args[1])
		if !rank.IsValidTier(tier) {
			reply(usageMinRank)
			return
		}

		division := "I"
		if rank.IsApexTier(tier) {
			// Division is meaningless at MASTER and above; persist I
			// whatever was supplied.
		} else {
			if len(args) < 3 {
				reply(usageMinRank)
				return
			}
			d, ok := rank.NormalizeDivision(args[2])
			if !ok {
				reply(usageMinRank)
				return
			}
			division = d
		}

		label := tier
		if !rank.IsApexTier(tier) {
			label = tier + " " + division
		}
		c.update(ctx, reply, channel,
			map[string]interface{}{"min_rank_tier": tier, "min_rank_division": division},
			"Minimum rank set to "+label)

	case "reason":
		if len(args) < 2 {
			reply("Usage: !eloward set reason TEXT")
			return
		}
		template := strings.Join(args[1:], " ")

		// The template applies to the currently active mode only.
		mode := control.ModeHasRank
		if policy := c.configs.Get(ctx, channel); policy != nil && policy.Mode == control.ModeMinRank {
			mode = control.ModeMinRank
		}
		field := "reason_template_has_rank"
		if mode == control.ModeMinRank {
			field = "reason_template_min_rank"
		}
		c.update(ctx, reply, channel, map[string]interface{}{field: template},
			"Timeout reason updated for "+mode+" mode.")

	default:
		reply(unknownReply)
	}
}

// update issues the signed config write, then invalidates the local
// entry so the next message reads fresh policy even if the pub/sub
// round-trip is slow.
func (c *Commander) update(ctx context.Context, reply func(string), channel string, fields map[string]interface{}, ok string) {
	if err := c.client.ConfigUpdate(ctx, strings.ToLower(channel), fields); err != nil {
		c.log.Warn().Err(err).Str("channel", channel).Interface("fields", fields).Msg("config update failed")
		reply(failedReply)
		return
	}
	c.configs.Invalidate(channel)
	reply(ok)
}

func (c *Commander) shortStatus(ctx context.Context, channel string) string {
	policy := c.configs.Get(ctx, channel)
	if policy == nil || !policy.Enabled {
		return fmt.Sprintf("%s rank enforcement is OFF. Help: %s", c.site, helpURL)
	}
	return fmt.Sprintf("%s rank enforcement is ON (mode: %s). Help: %s", c.site, policy.Mode, helpURL)
}

func (c *Commander) detailedStatus(ctx context.Context, channel string) string {
	policy := c.configs.Get(ctx, channel)
	if policy == nil {
		return c.site + " is not configured for this channel yet. Use !eloward on to enable."
	}

	state := "OFF"
	if policy.Enabled {
		state = "ON"
	}
	status := fmt.Sprintf("%s status: %s | mode: %s | timeout: %ds",
		c.site, state, policy.Mode, policy.TimeoutSeconds)
	if policy.Mode == control.ModeMinRank && policy.MinTier != "" {
		if rank.IsApexTier(policy.MinTier) {
			status += " | min rank: " + policy.MinTier
		} else {
			status += " | min rank: " + policy.MinTier + " " + policy.MinDivision
		}
	}
	return status
}
