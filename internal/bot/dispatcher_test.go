package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EloWard/EloWardBot/internal/control"
)

func enabledHasRank(h *harness) {
	h.ctl.policies["somechannel"] = &control.ChannelPolicy{
		ChannelLogin:   "somechannel",
		Enabled:        true,
		Mode:           control.ModeHasRank,
		TimeoutSeconds: 30,
		ReasonHasRank:  "Link your rank at {site} to chat",
		Version:        1,
	}
}

func enabledMinRank(h *harness, tier, division string) {
	h.ctl.policies["somechannel"] = &control.ChannelPolicy{
		ChannelLogin:   "somechannel",
		Enabled:        true,
		Mode:           control.ModeMinRank,
		MinTier:        tier,
		MinDivision:    division,
		TimeoutSeconds: 60,
		ReasonMinRank:  "Reach {tier} {division} first",
		Version:        1,
	}
}

func TestDispatchTimesOutUnrankedAuthor(t *testing.T) {
	h := newHarness(t)
	enabledHasRank(h)
	h.helix.users["alice"] = "1001"
	h.helix.users["somechannel"] = "2002"
	h.joinChannel("somechannel", 0)

	m := chatLine(t, "@badges= :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :hello")
	h.disp.process(context.Background(), 0, m)

	h.helix.mu.Lock()
	defer h.helix.mu.Unlock()
	require.Len(t, h.helix.bans, 1)
	assert.Equal(t, "1001", h.helix.bans[0].UserID)
	assert.Equal(t, 30, h.helix.bans[0].Duration)
	assert.Equal(t, "Link your rank at EloWard to chat", h.helix.bans[0].Reason)
}

func TestDispatchAllowsSufficientRank(t *testing.T) {
	h := newHarness(t)
	enabledMinRank(h, "GOLD", "IV")
	h.ctl.ranks["alice"] = control.RankData{Tier: "PLATINUM", Division: "II"}
	h.joinChannel("somechannel", 0)

	m := chatLine(t, "@badges= :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :hello")
	h.disp.process(context.Background(), 0, m)

	assert.Zero(t, h.helix.banCount())
}

func TestDispatchTimesOutInsufficientRank(t *testing.T) {
	h := newHarness(t)
	enabledMinRank(h, "GOLD", "IV")
	h.ctl.ranks["alice"] = control.RankData{Tier: "SILVER", Division: "I"}
	h.helix.users["alice"] = "1001"
	h.helix.users["somechannel"] = "2002"
	h.joinChannel("somechannel", 0)

	m := chatLine(t, "@badges= :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :hello")
	h.disp.process(context.Background(), 0, m)

	h.helix.mu.Lock()
	defer h.helix.mu.Unlock()
	require.Len(t, h.helix.bans, 1)
	assert.Equal(t, "Reach GOLD IV first", h.helix.bans[0].Reason)
}

func TestDispatchIgnoresDisabledChannel(t *testing.T) {
	h := newHarness(t)
	h.ctl.policies["somechannel"] = &control.ChannelPolicy{
		ChannelLogin: "somechannel", Enabled: false, Mode: control.ModeHasRank, Version: 1,
	}
	h.joinChannel("somechannel", 0)

	m := chatLine(t, "@badges= :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :hello")
	h.disp.process(context.Background(), 0, m)

	assert.Zero(t, h.helix.banCount())
	assert.Zero(t, h.ctl.rankCallCount())
}

func TestDispatchExemptSkipsRankLookup(t *testing.T) {
	h := newHarness(t)
	enabledHasRank(h)
	h.joinChannel("somechannel", 0)

	// A moderator with no linked rank: never looked up, never timed out.
	m := chatLine(t, "@badges=moderator/1 :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :hello")
	h.disp.process(context.Background(), 0, m)

	assert.Zero(t, h.helix.banCount())
	assert.Zero(t, h.ctl.rankCallCount())
}

func TestDispatchExemptsSuperAdmin(t *testing.T) {
	h := newHarness(t)
	enabledHasRank(h)
	h.joinChannel("somechannel", 0)

	m := chatLine(t, "@badges= :eloward!eloward@eloward.tmi.twitch.tv PRIVMSG #somechannel :hello")
	h.disp.process(context.Background(), 0, m)

	assert.Zero(t, h.helix.banCount())
	assert.Zero(t, h.ctl.rankCallCount())
}

func TestDispatchFailsOpenOnRankOutage(t *testing.T) {
	h := newHarness(t)
	enabledHasRank(h)
	h.ctl.rankDown = true
	h.joinChannel("somechannel", 0)

	m := chatLine(t, "@badges= :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :hello")
	h.disp.process(context.Background(), 0, m)
	assert.Zero(t, h.helix.banCount())

	// Nothing was cached; the next message retries the lookup.
	h.disp.process(context.Background(), 0, m)
	assert.Equal(t, 2, h.ctl.rankCallCount())
	assert.Zero(t, h.helix.banCount())
}

func TestDispatchCommandOnlyOnOwnerShard(t *testing.T) {
	h := newHarness(t)
	h.joinChannel("somechannel", 0)

	m := chatLine(t, "@badges=moderator/1 :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :!eloward")

	// Wrong shard: silently dropped, no reply.
	h.disp.process(context.Background(), 1, m)
	assert.Zero(t, h.shards[0].sayCount())
	assert.Zero(t, h.shards[1].sayCount())

	// Owner shard answers, and the reply leaves on that shard.
	h.disp.process(context.Background(), 0, m)
	assert.Equal(t, 1, h.shards[0].sayCount())
	assert.Zero(t, h.shards[1].sayCount())
}

func TestDispatchEnforcementNotOwnerGated(t *testing.T) {
	h := newHarness(t)
	enabledHasRank(h)
	h.helix.users["alice"] = "1001"
	h.helix.users["somechannel"] = "2002"
	h.joinChannel("somechannel", 0)

	// Enforcement runs wherever the message arrives, even during a
	// membership handover.
	m := chatLine(t, "@badges= :alice!alice@alice.tmi.twitch.tv PRIVMSG #somechannel :hello")
	h.disp.process(context.Background(), 1, m)

	assert.Equal(t, 1, h.helix.banCount())
}
