package bot

import (
	"strings"

	"github.com/EloWard/EloWardBot/internal/irc"
)

// Roles classifies a chat author from message metadata. Detection is
// best-effort; the moderation executor re-checks moderators against the
// helix moderator list before acting.
type Roles struct {
	Broadcaster bool
	Moderator   bool
	Subscriber  bool
	VIP         bool
}

// ResolveRoles derives the author's roles for a message in channel.
// Badge prefixes win; tag flags are the fallback for older metadata.
func ResolveRoles(m *irc.Message, channel string) (r Roles) {
	if m.Nick() == strings.ToLower(channel) {
		r.Broadcaster = true
	}

	badges := m.Badges()
	if _, ok := badges["broadcaster"]; ok {
		r.Broadcaster = true
	}
	if _, ok := badges["moderator"]; ok {
		r.Moderator = true
	}
	if _, ok := badges["vip"]; ok {
		r.VIP = true
	}
	if _, ok := badges["subscriber"]; ok {
		r.Subscriber = true
	}
	// Founders are subscribers with a different badge.
	if _, ok := badges["founder"]; ok {
		r.Subscriber = true
	}

	if m.Tag("mod") == "1" || m.Tag("user-type") == "mod" {
		r.Moderator = true
	}
	if m.Tag("subscriber") == "1" {
		r.Subscriber = true
	}
	if m.Tag("vip") == "1" {
		r.VIP = true
	}
	return r
}

// Exempt reports whether the author is never subject to enforcement.
// This is part of the safety contract and is not configurable.
func (r Roles) Exempt() bool {
	return r.Broadcaster || r.Moderator || r.Subscriber
}

// Privileged reports whether the author may run mutating commands.
func (r Roles) Privileged() bool {
	return r.Broadcaster || r.Moderator
}

// AdminSet is the statically configured super-admin logins: always
// command-privileged and always enforcement-exempt.
type AdminSet map[string]struct{}

// NewAdminSet lowercases and indexes the given logins.
func NewAdminSet(logins []string) AdminSet {
	set := make(AdminSet, len(logins))
	for _, l := range logins {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			set[l] = struct{}{}
		}
	}
	return set
}

// Contains reports whether login is a super-admin.
func (a AdminSet) Contains(login string) bool {
	_, ok := a[strings.ToLower(login)]
	return ok
}
