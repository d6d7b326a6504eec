package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/EloWard/EloWardBot/internal/control"
	"github.com/EloWard/EloWardBot/internal/twitch"
)

// ErrNoTemplate is returned when the active mode has no reason template
// configured. The executor never substitutes a hardcoded default.
var ErrNoTemplate = errors.New("no reason template configured for the active mode")

// Executor carries out a timeout decision against the moderation API.
type Executor struct {
	helix *twitch.Client
	creds *control.Credentials
	site  string
	log   zerolog.Logger
}

// NewExecutor wires the executor to the helix client and the shared
// credential provider.
func NewExecutor(helix *twitch.Client, creds *control.Credentials, site string, log zerolog.Logger) *Executor {
	return &Executor{helix: helix, creds: creds, site: site, log: log}
}

// Timeout times out user in channel under policy. Exempt authors are
// rejected again here even though the dispatcher already filtered, and
// a best-effort moderator-list check guards against stale badges.
// Failures are logged and not retried; the next offending message
// triggers again.
func (e *Executor) Timeout(ctx context.Context, channel, user string, roles Roles, isAdmin bool, policy *control.ChannelPolicy, r Rank) error {
	if isAdmin || roles.Exempt() {
		return nil
	}

	tpl := policy.ReasonTemplate()
	if tpl == "" {
		e.log.Error().Str("channel", channel).Str("mode", policy.Mode).
			Msg("no reason template configured, refusing to act")
		return ErrNoTemplate
	}

	botLogin := e.creds.Login()
	users, err := e.helix.UsersByLogin(ctx, user, channel, botLogin)
	if err != nil {
		return e.maybeRefresh(err)
	}
	target, ok := users[strings.ToLower(user)]
	if !ok {
		return fmt.Errorf("could not resolve user id for %q", user)
	}
	broadcaster, ok := users[strings.ToLower(channel)]
	if !ok {
		return fmt.Errorf("could not resolve broadcaster id for %q", channel)
	}
	bot, ok := users[botLogin]
	if !ok {
		return fmt.Errorf("could not resolve the bot's own id")
	}

	// Badge detection is best-effort; a listed moderator is never
	// timed out, whatever the tags said.
	if mod, err := e.helix.IsModerator(ctx, broadcaster.ID, target.ID); err != nil {
		e.log.Debug().Err(err).Str("user", user).Msg("moderator double-check failed, continuing")
	} else if mod {
		e.log.Info().Str("user", user).Str("channel", channel).Msg("user is a moderator, aborting timeout")
		return nil
	}

	reason := RenderReason(tpl, policy, user, e.site)
	if err := e.helix.BanUser(ctx, broadcaster.ID, bot.ID, target.ID, policy.TimeoutSeconds, reason); err != nil {
		return e.maybeRefresh(err)
	}

	e.log.Info().Str("channel", channel).Str("user", user).
		Int("duration", policy.TimeoutSeconds).Str("mode", policy.Mode).Msg("timed out user")
	return nil
}

// maybeRefresh triggers an out-of-band credential refresh on auth
// failures; the current action is abandoned either way.
func (e *Executor) maybeRefresh(err error) error {
	if errors.Is(err, twitch.ErrAuthExpired) {
		e.log.Warn().Msg("moderation credential rejected, refreshing out of band")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, rerr := e.creds.Refresh(ctx); rerr != nil {
				e.log.Warn().Err(rerr).Msg("out-of-band credential refresh failed")
			}
		}()
	}
	return err
}

// RenderReason fills a reason template. Both {x} and [x] substitution
// forms are honored for tier and division.
func RenderReason(tpl string, policy *control.ChannelPolicy, user, site string) string {
	replacer := strings.NewReplacer(
		"{seconds}", strconv.Itoa(policy.TimeoutSeconds),
		"{site}", site,
		"{user}", user,
		"{tier}", policy.MinTier,
		"{division}", policy.MinDivision,
		"[tier]", policy.MinTier,
		"[division]", policy.MinDivision,
	)
	return replacer.Replace(tpl)
}
