package control

// ChannelPolicy is the per-channel moderation policy persisted by the
// control plane. Entries are replaced wholesale on invalidation; the bot
// never mutates one locally.
type ChannelPolicy struct {
	ChannelLogin   string `json:"channel_login"`
	Enabled        bool   `json:"enabled"`
	Mode           string `json:"mode"` // ModeHasRank or ModeMinRank
	MinTier        string `json:"min_rank_tier,omitempty"`
	MinDivision    string `json:"min_rank_division,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	ReasonHasRank  string `json:"reason_template_has_rank,omitempty"`
	ReasonMinRank  string `json:"reason_template_min_rank,omitempty"`

	// Version is monotonic, set by the control plane on each write.
	Version   int64 `json:"version"`
	UpdatedAt int64 `json:"updated_at"`
}

// Policy modes.
const (
	ModeHasRank = "has_rank"
	ModeMinRank = "min_rank"
)

// MaxTimeoutSeconds is the platform ceiling for a timeout (14 days).
const MaxTimeoutSeconds = 1209600

// ReasonTemplate returns the template for the active mode, or "" when
// none is configured.
func (p *ChannelPolicy) ReasonTemplate() string {
	if p.Mode == ModeMinRank {
		return p.ReasonMinRank
	}
	return p.ReasonHasRank
}

// TokenResponse is the body of GET /token.
type TokenResponse struct {
	Token string `json:"token"`
	User  struct {
		Login string `json:"login"`
		ID    string `json:"id"`
	} `json:"user"`
	ExpiresAt        int64 `json:"expires_at"` // epoch millis
	ExpiresInMinutes int   `json:"expires_in_minutes"`
	NeedsRefreshSoon bool  `json:"needs_refresh_soon"`
}

// RankData is the rank record carried by POST /rank:get.
type RankData struct {
	Tier     string `json:"rank_tier"`
	Division string `json:"rank_division"`
}
