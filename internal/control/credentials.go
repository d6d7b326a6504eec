package control

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// checkInterval is how often the background monitor inspects the
	// remaining credential life.
	checkInterval = 15 * time.Minute

	// refreshThreshold refreshes the credential when less life remains.
	refreshThreshold = 120 * time.Minute
)

// Credentials fetches and caches the bearer credential used for both the
// IRC login and the moderation API. When a refresh yields a different
// token, a rotation is signalled and the supervisor reconnects the
// shards with the new value.
type Credentials struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	login     string
	userID    string

	client   *Client
	log      zerolog.Logger
	rotation chan struct{}
}

// NewCredentials wires a provider to the control-plane client.
func NewCredentials(client *Client, log zerolog.Logger) *Credentials {
	return &Credentials{
		client:   client,
		log:      log,
		rotation: make(chan struct{}, 1),
	}
}

// Boot fetches the initial credential. A failure here is fatal.
func (c *Credentials) Boot(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

// Refresh fetches a new credential and reports whether the token value
// changed. The previous token is kept on failure.
func (c *Credentials) Refresh(ctx context.Context) (rotated bool, err error) {
	tr, err := c.client.Token(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	rotated = c.token != "" && c.token != tr.Token
	c.token = tr.Token
	c.expiresAt = time.UnixMilli(tr.ExpiresAt)
	c.login = strings.ToLower(tr.User.Login)
	c.userID = tr.User.ID
	c.mu.Unlock()

	c.log.Info().Str("login", tr.User.Login).Time("expires", time.UnixMilli(tr.ExpiresAt)).
		Bool("rotated", rotated).Msg("credential refreshed")

	if rotated {
		select {
		case c.rotation <- struct{}{}:
		default:
		}
	}
	return rotated, nil
}

// Current returns the token and its expiry.
func (c *Credentials) Current() (token string, expiry time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.expiresAt
}

// Login is the bot account login reported by the token endpoint.
func (c *Credentials) Login() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.login
}

// UserID is the bot account id reported by the token endpoint.
func (c *Credentials) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IRCPass formats the credential for the IRC PASS command.
func (c *Credentials) IRCPass() string {
	token, _ := c.Current()
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

// BearerToken formats the credential for Authorization: Bearer headers,
// which must not carry the oauth: prefix.
func (c *Credentials) BearerToken() string {
	token, _ := c.Current()
	return strings.TrimPrefix(token, "oauth:")
}

// Rotations signals once per observed token change.
func (c *Credentials) Rotations() <-chan struct{} {
	return c.rotation
}

// Monitor periodically refreshes the credential when its remaining life
// drops under the threshold. Network errors are retried on the next
// tick; a still-valid token keeps serving in the meantime.
func (c *Credentials) Monitor(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, expiry := c.Current()
			if time.Until(expiry) > refreshThreshold {
				continue
			}
			if _, err := c.Refresh(ctx); err != nil {
				c.log.Warn().Err(err).Msg("credential refresh failed, will retry next tick")
			}
		}
	}
}
