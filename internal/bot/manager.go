// Package bot contains the presence-and-enforcement engine: the IRC
// shards, join scheduler, caches, dispatcher, command interpreter,
// pub/sub subscriber and the supervisor that owns them all.
package bot

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/EloWard/EloWardBot/internal/config"
	"github.com/EloWard/EloWardBot/internal/control"
	"github.com/EloWard/EloWardBot/internal/irc"
	"github.com/EloWard/EloWardBot/internal/twitch"
)

// BufferSize sets the event channel capacity shared by all shards.
const BufferSize = 2048

// shardStagger delays the second connection so both shards do not log
// in at the same instant.
const shardStagger = 2 * time.Second

// shutdownGrace bounds the wait for in-flight work on close.
const shutdownGrace = 5 * time.Second

const farewell = "EloWard signing off"

// Manager is the process supervisor. It owns every component for the
// process lifetime and shares the caches and membership by reference.
type Manager struct {
	cfg *config.Config
	log zerolog.Logger

	control *control.Client
	creds   *control.Credentials
	helix   *twitch.Client
	rdb     *redis.Client

	shards     []*IRCShard
	sched      *Scheduler
	configs    *ConfigCache
	ranks      *RankCache
	dispatcher *Dispatcher

	events chan ShardEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// booted flips once the first shard registers and the expected set
	// has been loaded; later registrations trigger rejoins instead.
	booted bool
}

// NewManager builds the component graph. It fails fast when the HMAC
// secret is missing or the redis URL is malformed.
func NewManager(cfg *config.Config, log zerolog.Logger) (*Manager, error) {
	ctl, err := control.NewClient(cfg.ControlPlaneURL, cfg.WebhookSecret, log)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		log:     log,
		control: ctl,
		creds:   control.NewCredentials(ctl, log),
		events:  make(chan ShardEvent, BufferSize),
	}
	m.helix = twitch.NewClient("", cfg.TwitchClientID, m.creds, log)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid EW_REDIS_URL: %w", err)
		}
		m.rdb = redis.NewClient(opts)
	} else {
		log.Warn().Msg("no redis configured, instant config propagation is disabled")
	}

	dial := m.dialFunc()
	m.shards = make([]*IRCShard, cfg.ShardCount)
	io := make([]ChannelIO, cfg.ShardCount)
	for i := range m.shards {
		m.shards[i] = NewIRCShard(i, dial, m.creds, m.events, log)
		io[i] = m.shards[i]
	}

	m.sched = NewScheduler(io, cfg.ShardCapacity, cfg.JoinInterval, ctl, log)
	m.configs = NewConfigCache(ctl, log)
	m.ranks = NewRankCache(ctl, log)

	admins := NewAdminSet(cfg.SuperAdmins)
	executor := NewExecutor(m.helix, m.creds, cfg.SiteName, log)
	commander := NewCommander(ctl, m.configs, admins, cfg.SiteName, log)
	m.dispatcher = NewDispatcher(m.configs, m.ranks, m.sched, executor, commander, admins, log)

	return m, nil
}

func (m *Manager) dialFunc() DialFunc {
	if m.cfg.IRCTransport == "ws" {
		url := m.cfg.IRCWsURL
		return func() (irc.Conn, error) { return irc.DialWebsocket(url) }
	}
	addr := m.cfg.IRCAddr
	return func() (irc.Conn, error) { return irc.DialTCP(addr) }
}

// Open boots the supervisor: credentials first, then the shards with a
// stagger, then the background loops. Any failure here is fatal.
func (m *Manager) Open(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	err := m.creds.Boot(bootCtx)
	bootCancel()
	if err != nil {
		return fmt.Errorf("initial credential fetch failed: %w", err)
	}

	m.goLoop(func() { m.handleEvents(ctx) })

	for i, shard := range m.shards {
		if i > 0 {
			time.Sleep(shardStagger)
		}
		if err := shard.Open(); err != nil {
			return fmt.Errorf("failed to open shard %d: %w", i, err)
		}
	}

	m.goLoop(func() { m.creds.Monitor(ctx) })
	m.goLoop(func() { m.rotationLoop(ctx) })
	m.goLoop(func() { m.sweeperLoop(ctx) })

	if m.rdb != nil {
		sub := NewSubscriber(m.rdb, m.cfg.PubSubChannel, m.configs, m.sched, m.log)
		m.goLoop(func() {
			if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
				m.log.Error().Err(err).Msg("pubsub subscriber stopped")
			}
		})
	}

	if m.cfg.ReconcileInterval > 0 {
		m.goLoop(func() { m.reconcileLoop(ctx) })
	}

	return nil
}

func (m *Manager) goLoop(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// handleEvents is the single consumer of the shard event channel.
func (m *Manager) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-m.events:
			switch e.Type {
			case EventRegistered:
				if e.ShardID == 0 && !m.booted {
					m.booted = true
					m.goLoop(func() {
						if err := m.sched.BootLoad(ctx); err != nil {
							m.log.Error().Err(err).Msg("failed to load expected channel set")
						}
					})
					continue
				}
				shardID := e.ShardID
				m.goLoop(func() { m.sched.Rejoin(ctx, shardID) })
			case EventClosed:
				m.log.Warn().Int("shard", e.ShardID).Err(e.Err).Msg("shard connection closed")
			case EventMessage:
				m.dispatcher.Handle(e.ShardID, e.Message)
			}
		}
	}
}

// rotationLoop reconnects every shard with the new credential whenever
// the provider observes a token change. Membership survives; each shard
// rejoins its channels after re-registering.
func (m *Manager) rotationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.creds.Rotations():
			m.log.Info().Msg("credential rotated, reconnecting shards")
			for i, shard := range m.shards {
				shard.Close()
				if i > 0 {
					time.Sleep(shardStagger)
				}
				if err := shard.Open(); err != nil {
					m.log.Error().Err(err).Int("shard", i).Msg("failed to reopen shard after rotation")
				}
			}
		}
	}
}

// sweeperLoop evicts expired rank entries at a jittered 90-120s
// interval. Config entries are permanent until invalidated.
func (m *Manager) sweeperLoop(ctx context.Context) {
	for {
		wait := 90*time.Second + time.Duration(rand.Int63n(int64(30*time.Second)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			if evicted := m.ranks.Sweep(); evicted > 0 {
				m.log.Debug().Int("evicted", evicted).Msg("swept expired rank entries")
			}
		}
	}
}

func (m *Manager) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sched.Reconcile(ctx); err != nil {
				m.log.Warn().Err(err).Msg("expected-set reconcile failed")
			}
		}
	}
}

// Close stops timers and the subscriber, quits the shards with a
// farewell and waits out a short grace window.
func (m *Manager) Close() {
	m.log.Info().Msg("shutting down")
	if m.cancel != nil {
		m.cancel()
	}

	for _, shard := range m.shards {
		shard.Quit(farewell)
		shard.Close()
	}

	if m.rdb != nil {
		if err := m.rdb.Close(); err != nil {
			m.log.Warn().Err(err).Msg("error closing redis client")
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		m.log.Warn().Msg("shutdown grace window elapsed")
	}
}
