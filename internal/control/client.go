// Package control is the client for the EloWard control plane: the
// authoritative store for channel policies and rank records, the bot
// token endpoint, and the signed RPC surface used to mutate policies.
package control

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoSecret is returned when the shared HMAC secret is absent at boot.
var ErrNoSecret = errors.New("no webhook secret was provided")

// ErrNotFound maps a 404 from the control plane: the channel has no
// policy, or the user has no rank record.
var ErrNotFound = errors.New("control plane returned not found")

const requestTimeout = 5 * time.Second

// RPC paths. The update path has two spellings across control-plane
// revisions; the client tries the dash form first and falls back.
const (
	pathToken             = "/token"
	pathConfigGet         = "/bot/config-get"
	pathConfigUpdate      = "/bot/config-update"
	pathConfigUpdateAlias = "/bot/config:update"
	pathFollow            = "/bot/follow-channel"
	pathRankGet           = "/rank:get"
	pathChannels          = "/channels"
)

// Client signs and issues control-plane RPCs. Every POST carries an
// X-Timestamp header and an X-HMAC-Signature computed over the byte
// concatenation ts+method+path+body; the server rejects skew over 60s.
type Client struct {
	baseURL string
	secret  []byte
	client  *http.Client
	log     zerolog.Logger

	now func() time.Time
}

// NewClient fails fast when the secret is missing.
func NewClient(baseURL, secret string, log zerolog.Logger) (*Client, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Client{
		baseURL: baseURL,
		secret:  []byte(secret),
		client:  &http.Client{Timeout: requestTimeout},
		log:     log,
		now:     time.Now,
	}, nil
}

func (c *Client) sign(method, path string, body []byte) (ts, sig string) {
	ts = strconv.FormatInt(c.now().Unix(), 10)
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return ts, hex.EncodeToString(mac.Sum(nil))
}

// post issues one signed POST and decodes a 200 body into out when out
// is non-nil. 404 maps to ErrNotFound.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts, sig := c.sign(http.MethodPost, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-HMAC-Signature", sig)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("control plane %s returned %d: %s", path, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Token fetches a ready-to-use bearer credential. Unauthenticated.
func (c *Client) Token(ctx context.Context) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathToken, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	tr := &TokenResponse{}
	if err = json.NewDecoder(resp.Body).Decode(tr); err != nil {
		return nil, err
	}
	if tr.Token == "" {
		return nil, fmt.Errorf("token endpoint returned an empty token")
	}
	return tr, nil
}

// ConfigGet fetches the policy for a channel. ErrNotFound when none.
func (c *Client) ConfigGet(ctx context.Context, channelLogin string) (*ChannelPolicy, error) {
	policy := &ChannelPolicy{}
	err := c.post(ctx, pathConfigGet, map[string]string{"channel_login": channelLogin}, policy)
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// ConfigUpdate persists a subset of policy fields. The control plane
// publishes an invalidation after the write commits.
func (c *Client) ConfigUpdate(ctx context.Context, channelLogin string, fields map[string]interface{}) error {
	payload := map[string]interface{}{
		"channel_login": channelLogin,
		"fields":        fields,
	}
	err := c.post(ctx, pathConfigUpdate, payload, nil)
	if errors.Is(err, ErrNotFound) {
		// Older control-plane revisions expose the colon spelling.
		return c.post(ctx, pathConfigUpdateAlias, payload, nil)
	}
	return err
}

// FollowChannel makes the bot follow a newly enabled channel.
func (c *Client) FollowChannel(ctx context.Context, channelLogin string) error {
	return c.post(ctx, pathFollow, map[string]string{"channel_login": channelLogin}, nil)
}

// RankGet fetches the rank record for a user. ErrNotFound when absent.
func (c *Client) RankGet(ctx context.Context, userLogin string) (*RankData, error) {
	out := &struct {
		RankData RankData `json:"rank_data"`
	}{}
	err := c.post(ctx, pathRankGet, map[string]string{"user_login": userLogin}, out)
	if err != nil {
		return nil, err
	}
	return &out.RankData, nil
}

// Channels returns the expected channel set.
func (c *Client) Channels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathChannels, nil)
	if err != nil {
		return nil, err
	}
	ts, sig := c.sign(http.MethodGet, pathChannels, nil)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-HMAC-Signature", sig)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("channels endpoint returned %d", resp.StatusCode)
	}
	out := &struct {
		Channels []string `json:"channels"`
	}{}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}
