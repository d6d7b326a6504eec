// Package twitch is a minimal helix API client covering the three
// endpoints the moderation executor needs: users lookup, moderator list
// and bans.
package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production helix endpoint.
const DefaultBaseURL = "https://api.twitch.tv/helix"

const requestTimeout = 10 * time.Second

// ErrAuthExpired maps a 401/403: the bearer credential is no longer
// accepted and needs an out-of-band refresh.
var ErrAuthExpired = errors.New("twitch rejected the bearer credential")

// TokenSource provides the current bearer value, without the oauth:
// prefix.
type TokenSource interface {
	BearerToken() string
}

// User is one record from the users endpoint.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// Client talks to the helix API with the same bearer used for IRC.
type Client struct {
	baseURL  string
	clientID string
	tokens   TokenSource
	client   *http.Client
	log      zerolog.Logger
}

// NewClient builds a helix client. baseURL may be empty for production.
func NewClient(baseURL, clientID string, tokens TokenSource, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		clientID: clientID,
		tokens:   tokens,
		client:   &http.Client{Timeout: requestTimeout},
		log:      log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.tokens.BearerToken())
	req.Header.Set("Client-Id", c.clientID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrAuthExpired
	case http.StatusTooManyRequests:
		resp.Body.Close()
		c.log.Warn().Str("path", path).Str("ratelimit_reset", resp.Header.Get("Ratelimit-Reset")).
			Msg("helix request was ratelimited")
		return nil, fmt.Errorf("helix %s returned 429", path)
	}
	return resp, nil
}

// UsersByLogin resolves numeric ids for up to 100 logins in one call.
// The returned map is keyed by lowercase login; missing logins are
// simply absent.
func (c *Client) UsersByLogin(ctx context.Context, logins ...string) (map[string]User, error) {
	query := url.Values{}
	for _, l := range logins {
		query.Add("login", strings.ToLower(l))
	}

	resp, err := c.do(ctx, http.MethodGet, "/users", query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix /users returned %d", resp.StatusCode)
	}

	out := &struct {
		Data []User `json:"data"`
	}{}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, err
	}

	users := make(map[string]User, len(out.Data))
	for _, u := range out.Data {
		users[strings.ToLower(u.Login)] = u
	}
	return users, nil
}

// IsModerator reports whether userID moderates broadcasterID.
func (c *Client) IsModerator(ctx context.Context, broadcasterID, userID string) (bool, error) {
	query := url.Values{}
	query.Set("broadcaster_id", broadcasterID)
	query.Set("user_id", userID)

	resp, err := c.do(ctx, http.MethodGet, "/moderation/moderators", query, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("helix /moderation/moderators returned %d", resp.StatusCode)
	}

	out := &struct {
		Data []User `json:"data"`
	}{}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, err
	}
	return len(out.Data) > 0, nil
}

// BanUser issues a timeout (duration in seconds) against userID in
// broadcasterID's channel, acting as moderatorID.
func (c *Client) BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, duration int, reason string) error {
	query := url.Values{}
	query.Set("broadcaster_id", broadcasterID)
	query.Set("moderator_id", moderatorID)

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"user_id":  userID,
			"duration": duration,
			"reason":   reason,
		},
	}

	resp, err := c.do(ctx, http.MethodPost, "/moderation/bans", query, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("helix /moderation/bans returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}
