package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EloWard/EloWardBot/internal/control"
)

func hasRankPolicy(timeout int) *control.ChannelPolicy {
	return &control.ChannelPolicy{
		ChannelLogin:   "somechannel",
		Enabled:        true,
		Mode:           control.ModeHasRank,
		TimeoutSeconds: timeout,
		ReasonHasRank:  "Link your rank at {site} to chat",
		Version:        1,
	}
}

func TestRenderReason(t *testing.T) {
	policy := &control.ChannelPolicy{
		TimeoutSeconds: 30,
		MinTier:        "GOLD",
		MinDivision:    "IV",
	}

	got := RenderReason("{user} needs {tier} {division}, see {site} ({seconds}s)", policy, "alice", "EloWard")
	assert.Equal(t, "alice needs GOLD IV, see EloWard (30s)", got)

	// Bracketed forms are accepted too.
	got = RenderReason("Reach [tier] [division] first", policy, "alice", "EloWard")
	assert.Equal(t, "Reach GOLD IV first", got)

	// A template without placeholders passes through untouched.
	got = RenderReason("no placeholders here", policy, "alice", "EloWard")
	assert.Equal(t, "no placeholders here", got)
}

func TestExecutorTimesOutViewer(t *testing.T) {
	h := newHarness(t)
	h.helix.users["alice"] = "1001"
	h.helix.users["somechannel"] = "2002"

	err := h.disp.executor.Timeout(context.Background(), "somechannel", "alice",
		Roles{}, false, hasRankPolicy(30), Rank{})
	require.NoError(t, err)

	h.helix.mu.Lock()
	defer h.helix.mu.Unlock()
	require.Len(t, h.helix.bans, 1)
	ban := h.helix.bans[0]
	assert.Equal(t, "2002", ban.BroadcasterID)
	assert.Equal(t, "99", ban.ModeratorID)
	assert.Equal(t, "1001", ban.UserID)
	assert.Equal(t, 30, ban.Duration)
	assert.Equal(t, "Link your rank at EloWard to chat", ban.Reason)
}

func TestExecutorSkipsExempt(t *testing.T) {
	h := newHarness(t)

	err := h.disp.executor.Timeout(context.Background(), "somechannel", "alice",
		Roles{Subscriber: true}, false, hasRankPolicy(30), Rank{})
	require.NoError(t, err)
	assert.Zero(t, h.helix.banCount())

	err = h.disp.executor.Timeout(context.Background(), "somechannel", "eloward",
		Roles{}, true, hasRankPolicy(30), Rank{})
	require.NoError(t, err)
	assert.Zero(t, h.helix.banCount())
}

func TestExecutorRefusesWithoutTemplate(t *testing.T) {
	h := newHarness(t)
	policy := hasRankPolicy(30)
	policy.ReasonHasRank = ""

	err := h.disp.executor.Timeout(context.Background(), "somechannel", "alice",
		Roles{}, false, policy, Rank{})
	assert.ErrorIs(t, err, ErrNoTemplate)
	assert.Zero(t, h.helix.banCount())
}

func TestExecutorAbortsForListedModerator(t *testing.T) {
	h := newHarness(t)
	h.helix.users["alice"] = "1001"
	h.helix.users["somechannel"] = "2002"
	h.helix.mods["1001"] = true

	// Stale badges said viewer, the moderator list says otherwise.
	err := h.disp.executor.Timeout(context.Background(), "somechannel", "alice",
		Roles{}, false, hasRankPolicy(30), Rank{})
	require.NoError(t, err)
	assert.Zero(t, h.helix.banCount())
}

func TestExecutorFailsOnUnknownUser(t *testing.T) {
	h := newHarness(t)
	h.helix.users["somechannel"] = "2002"

	err := h.disp.executor.Timeout(context.Background(), "somechannel", "ghost",
		Roles{}, false, hasRankPolicy(30), Rank{})
	require.Error(t, err)
	assert.Zero(t, h.helix.banCount())
}
