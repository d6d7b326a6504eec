// Package config collects process configuration from the environment,
// with an optional .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every knob the bot reads at boot. Values come from the
// environment; a .env file is honored when present.
type Config struct {
	// Control plane.
	ControlPlaneURL string `env:"EW_CONTROL_PLANE_URL" envDefault:"https://eloward-bot.unleashai.workers.dev"`
	WebhookSecret   string `env:"EW_WEBHOOK_SECRET"`

	// Invalidation plane. Empty disables instant propagation.
	RedisURL      string `env:"EW_REDIS_URL"`
	PubSubChannel string `env:"EW_PUBSUB_CHANNEL" envDefault:"eloward:config:updates"`

	// Platform.
	TwitchClientID string `env:"EW_TWITCH_CLIENT_ID"`
	Region         string `env:"EW_REGION" envDefault:"na1"`
	SiteName       string `env:"EW_SITE_NAME" envDefault:"EloWard"`

	// IRC presence.
	IRCTransport  string        `env:"EW_IRC_TRANSPORT" envDefault:"tcp"`
	IRCAddr       string        `env:"EW_IRC_ADDR" envDefault:"irc.chat.twitch.tv:6667"`
	IRCWsURL      string        `env:"EW_IRC_WS_URL" envDefault:"wss://irc-ws.chat.twitch.tv:443"`
	ShardCount    int           `env:"EW_SHARD_COUNT" envDefault:"2"`
	ShardCapacity int           `env:"EW_SHARD_CAPACITY" envDefault:"80"`
	JoinInterval  time.Duration `env:"EW_JOIN_INTERVAL" envDefault:"667ms"`

	// Expected-set reconciliation safety net. 0 disables.
	ReconcileInterval time.Duration `env:"EW_RECONCILE_INTERVAL" envDefault:"5m"`

	// Logins that are always command-privileged and enforcement-exempt.
	SuperAdmins []string `env:"EW_SUPER_ADMINS" envSeparator:"," envDefault:"eloward"`

	// Logging.
	LogLevel string `env:"EW_LOG_LEVEL" envDefault:"info"`
}

// Load reads the optional .env file and parses the environment.
// Priority: environment > .env > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the fatal-boot preconditions.
func (c *Config) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("EW_WEBHOOK_SECRET is required")
	}
	if c.ControlPlaneURL == "" {
		return fmt.Errorf("EW_CONTROL_PLANE_URL is required")
	}
	if c.ShardCount < 1 {
		return fmt.Errorf("EW_SHARD_COUNT must be > 0, got %d", c.ShardCount)
	}
	if c.ShardCapacity < 1 {
		return fmt.Errorf("EW_SHARD_CAPACITY must be > 0, got %d", c.ShardCapacity)
	}
	if c.JoinInterval <= 0 {
		return fmt.Errorf("EW_JOIN_INTERVAL must be positive, got %s", c.JoinInterval)
	}
	switch c.IRCTransport {
	case "tcp", "ws":
	default:
		return fmt.Errorf("EW_IRC_TRANSPORT must be tcp or ws, got %q", c.IRCTransport)
	}
	return nil
}
