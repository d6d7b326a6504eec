package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/EloWard/EloWardBot/internal/control"
	"github.com/EloWard/EloWardBot/internal/twitch"
)

// fakeControl is an in-memory control plane.
type fakeControl struct {
	mu         sync.Mutex
	policies   map[string]*control.ChannelPolicy
	ranks      map[string]control.RankData
	rankDown   bool
	configDown bool
	updateDown bool
	channels   []string

	updates     []map[string]interface{}
	follows     []string
	rankCalls   int
	configCalls int
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		policies: make(map[string]*control.ChannelPolicy),
		ranks:    make(map[string]control.RankData),
	}
}

func (f *fakeControl) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      "testtoken",
			"user":       map[string]string{"login": "elowardbot", "id": "99"},
			"expires_at": time.Now().Add(4*time.Hour).UnixMilli(),
		})
	})

	mux.HandleFunc("/bot/config-get", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChannelLogin string `json:"channel_login"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.configCalls++
		down := f.configDown
		policy, ok := f.policies[body.ChannelLogin]
		f.mu.Unlock()
		if down {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(policy)
	})

	mux.HandleFunc("/bot/config-update", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChannelLogin string                 `json:"channel_login"`
			Fields       map[string]interface{} `json:"fields"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		down := f.updateDown
		if !down {
			f.updates = append(f.updates, body.Fields)
		}
		f.mu.Unlock()
		if down {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/bot/follow-channel", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChannelLogin string `json:"channel_login"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.follows = append(f.follows, body.ChannelLogin)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/rank:get", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserLogin string `json:"user_login"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.rankCalls++
		down := f.rankDown
		rd, ok := f.ranks[body.UserLogin]
		f.mu.Unlock()

		if down {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"rank_data": rd})
	})

	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		channels := append([]string(nil), f.channels...)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"channels": channels})
	})

	return mux
}

func (f *fakeControl) rankCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rankCalls
}

func (f *fakeControl) configCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configCalls
}

func (f *fakeControl) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type banRequest struct {
	BroadcasterID string
	ModeratorID   string
	UserID        string
	Duration      int
	Reason        string
}

// fakeHelix is an in-memory moderation API.
type fakeHelix struct {
	mu    sync.Mutex
	users map[string]string // login -> id
	mods  map[string]bool   // user id -> moderates the broadcaster
	bans  []banRequest
}

func newFakeHelix() *fakeHelix {
	return &fakeHelix{
		users: map[string]string{"elowardbot": "99"},
		mods:  make(map[string]bool),
	}
}

func (f *fakeHelix) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var data []map[string]string
		for _, login := range r.URL.Query()["login"] {
			if id, ok := f.users[login]; ok {
				data = append(data, map[string]string{"id": id, "login": login})
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	})

	mux.HandleFunc("/moderation/moderators", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		userID := r.URL.Query().Get("user_id")
		var data []map[string]string
		if f.mods[userID] {
			data = append(data, map[string]string{"id": userID})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	})

	mux.HandleFunc("/moderation/bans", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data struct {
				UserID   string `json:"user_id"`
				Duration int    `json:"duration"`
				Reason   string `json:"reason"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.bans = append(f.bans, banRequest{
			BroadcasterID: r.URL.Query().Get("broadcaster_id"),
			ModeratorID:   r.URL.Query().Get("moderator_id"),
			UserID:        body.Data.UserID,
			Duration:      body.Data.Duration,
			Reason:        body.Data.Reason,
		})
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func (f *fakeHelix) banCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bans)
}

// fakeShard records channel traffic.
type fakeShard struct {
	mu    sync.Mutex
	joins []string
	parts []string
	says  []string
}

func (f *fakeShard) Join(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, channel)
	return nil
}

func (f *fakeShard) Part(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts = append(f.parts, channel)
	return nil
}

func (f *fakeShard) Say(channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.says = append(f.says, channel+": "+text)
	return nil
}

func (f *fakeShard) sayCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.says)
}

// harness wires a full pipeline over the fakes.
type harness struct {
	ctl     *fakeControl
	helix   *fakeHelix
	shards  []*fakeShard
	client  *control.Client
	creds   *control.Credentials
	configs *ConfigCache
	ranks   *RankCache
	sched   *Scheduler
	disp    *Dispatcher
	cmd     *Commander
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()

	h := &harness{ctl: newFakeControl(), helix: newFakeHelix()}

	ctlSrv := httptest.NewServer(h.ctl.handler())
	t.Cleanup(ctlSrv.Close)
	helixSrv := httptest.NewServer(h.helix.handler())
	t.Cleanup(helixSrv.Close)

	client, err := control.NewClient(ctlSrv.URL, "test-secret", log)
	require.NoError(t, err)
	h.client = client

	h.creds = control.NewCredentials(client, log)
	require.NoError(t, h.creds.Boot(context.Background()))

	h.shards = []*fakeShard{{}, {}}
	io := []ChannelIO{h.shards[0], h.shards[1]}
	h.sched = NewScheduler(io, 80, time.Millisecond, client, log)

	h.configs = NewConfigCache(client, log)
	h.ranks = NewRankCache(client, log)

	admins := NewAdminSet([]string{"eloward"})
	helixClient := twitch.NewClient(helixSrv.URL, "client-id", h.creds, log)
	executor := NewExecutor(helixClient, h.creds, "EloWard", log)
	h.cmd = NewCommander(client, h.configs, admins, "EloWard", log)
	h.disp = NewDispatcher(h.configs, h.ranks, h.sched, executor, h.cmd, admins, log)

	return h
}

// joinChannel places a channel on a shard without the network.
func (h *harness) joinChannel(channel string, shardID int) {
	h.sched.mu.Lock()
	h.sched.expected[channel] = struct{}{}
	h.sched.membership[channel] = shardID
	h.sched.mu.Unlock()
}
