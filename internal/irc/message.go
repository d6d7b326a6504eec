// Package irc implements the subset of the IRC line protocol spoken by
// Twitch chat: IRCv3 message tags, the commands the bot sends and the
// replies it must understand, over either plain TCP or a websocket.
package irc

import (
	"errors"
	"strings"
)

// ErrEmptyLine is returned when a line contains nothing to parse.
var ErrEmptyLine = errors.New("empty irc line")

// Message is a single parsed IRC line.
type Message struct {
	Raw      string
	Tags     map[string]string
	Prefix   string
	Command  string
	Params   []string
	Trailing string
}

// ParseMessage parses one raw line of the form
// "@tags :prefix COMMAND params :trailing".
func ParseMessage(line string) (*Message, error) {
	m := &Message{Raw: line}
	rest := strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(rest, "@") {
		cut := strings.SplitN(rest[1:], " ", 2)
		if len(cut) != 2 {
			return nil, ErrEmptyLine
		}
		m.Tags = parseTags(cut[0])
		rest = cut[1]
	}

	if strings.HasPrefix(rest, ":") {
		cut := strings.SplitN(rest[1:], " ", 2)
		if len(cut) != 2 {
			return nil, ErrEmptyLine
		}
		m.Prefix = cut[0]
		rest = cut[1]
	}

	if idx := strings.Index(rest, " :"); idx >= 0 {
		m.Trailing = rest[idx+2:]
		rest = rest[:idx]
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, ErrEmptyLine
	}
	m.Command = strings.ToUpper(fields[0])
	m.Params = fields[1:]
	return m, nil
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 1 {
			tags[kv[0]] = ""
			continue
		}
		tags[kv[0]] = unescapeTag(kv[1])
	}
	return tags
}

// unescapeTag reverses the IRCv3 tag value escaping.
func unescapeTag(v string) string {
	if !strings.Contains(v, "\\") {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i == len(v)-1 {
			b.WriteByte(v[i])
			continue
		}
		i++
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// Nick returns the author login from the message prefix.
func (m *Message) Nick() string {
	if i := strings.IndexByte(m.Prefix, '!'); i >= 0 {
		return strings.ToLower(m.Prefix[:i])
	}
	return strings.ToLower(m.Prefix)
}

// Channel returns the first channel parameter without the leading '#'.
func (m *Message) Channel() string {
	for _, p := range m.Params {
		if strings.HasPrefix(p, "#") {
			return strings.ToLower(strings.TrimPrefix(p, "#"))
		}
	}
	return ""
}

// Text returns the trailing chat text.
func (m *Message) Text() string {
	return m.Trailing
}

// Tag returns the value of an IRCv3 tag, or "" when absent.
func (m *Message) Tag(name string) string {
	return m.Tags[name]
}

// Badges parses the "badges" tag ("broadcaster/1,subscriber/12") into a
// name to version map.
func (m *Message) Badges() map[string]string {
	raw := m.Tags["badges"]
	if raw == "" {
		return nil
	}
	badges := make(map[string]string)
	for _, b := range strings.Split(raw, ",") {
		kv := strings.SplitN(b, "/", 2)
		if len(kv) == 2 {
			badges[kv[0]] = kv[1]
		} else if kv[0] != "" {
			badges[kv[0]] = ""
		}
	}
	return badges
}

// HasBadge reports whether the author carries a badge with the given name.
func (m *Message) HasBadge(name string) bool {
	_, ok := m.Badges()[name]
	return ok
}
