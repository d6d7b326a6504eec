package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/EloWard/EloWardBot/internal/control"
	"github.com/EloWard/EloWardBot/internal/irc"
)

// ErrNotConnected is returned when a write is attempted while the shard
// has no live connection.
var ErrNotConnected = errors.New("no irc connection exists")

// ErrAlreadyOpen is returned when Open is called on a live shard.
var ErrAlreadyOpen = errors.New("irc connection already opened")

// maxReconnectWait caps the reconnect backoff.
const maxReconnectWait = 30 * time.Second

// EventType discriminates shard lifecycle events.
type EventType int

// Shard event kinds.
const (
	EventMessage EventType = iota
	EventRegistered
	EventClosed
)

// ShardEvent is one item on the manager's event channel.
type ShardEvent struct {
	ShardID int
	Type    EventType
	Message *irc.Message
	Err     error
}

// DialFunc opens a fresh transport connection.
type DialFunc func() (irc.Conn, error)

// IRCShard is one persistent connection to the chat server, carrying an
// exclusive subset of channels. Writes to the socket are serialized by
// the transport; lifecycle events and inbound messages go to the shared
// event channel.
type IRCShard struct {
	sync.RWMutex

	ID int

	conn      irc.Conn
	dial      DialFunc
	creds     *control.Credentials
	events    chan<- ShardEvent
	listening chan struct{}

	// attempts counts consecutive failed reconnects. Reset on 001.
	attempts int

	log zerolog.Logger
}

// NewIRCShard wires a shard to its transport and credential source.
func NewIRCShard(id int, dial DialFunc, creds *control.Credentials, events chan<- ShardEvent, log zerolog.Logger) *IRCShard {
	return &IRCShard{
		ID:     id,
		dial:   dial,
		creds:  creds,
		events: events,
		log:    log.With().Int("shard", id).Logger(),
	}
}

// Open connects, negotiates capabilities and logs in. Registration is
// confirmed asynchronously: the 001 reply emits EventRegistered.
func (s *IRCShard) Open() error {
	s.Lock()
	defer s.Unlock()

	if s.conn != nil {
		return ErrAlreadyOpen
	}

	s.log.Info().Msg("connecting to chat")
	conn, err := s.dial()
	if err != nil {
		return err
	}

	login := s.creds.Login()
	for _, line := range []string{
		irc.CmdCap + " REQ :" + irc.Capabilities,
		irc.CmdPass + " " + s.creds.IRCPass(),
		irc.CmdNick + " " + login,
		irc.CmdUser + " " + login + " 8 * :" + login,
	} {
		if err = conn.WriteLine(line); err != nil {
			conn.Close()
			return err
		}
	}

	s.conn = conn
	s.listening = make(chan struct{})
	go s.listen(conn, s.listening)
	return nil
}

// listen reads lines until the connection dies or the shard is closed.
func (s *IRCShard) listen(conn irc.Conn, listening <-chan struct{}) {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			// Detect a manual close: after Close() the shard's conn is
			// different to the one we are reading from.
			s.RLock()
			sameConnection := s.conn == conn
			s.RUnlock()

			if sameConnection {
				s.log.Error().Err(err).Msg("error reading from chat connection")
				s.teardown()
				s.events <- ShardEvent{ShardID: s.ID, Type: EventClosed, Err: err}
				go s.reconnect()
			}
			return
		}

		select {
		case <-listening:
			return
		default:
			s.handleLine(line)
		}
	}
}

func (s *IRCShard) handleLine(line string) {
	m, err := irc.ParseMessage(line)
	if err != nil {
		return
	}

	switch m.Command {
	case irc.CmdPing:
		if err := s.write(irc.CmdPong + " :" + m.Text()); err != nil {
			s.log.Warn().Err(err).Msg("failed to answer ping")
		}
	case irc.RplWelcome:
		s.Lock()
		s.attempts = 0
		s.Unlock()
		s.log.Info().Msg("registered with chat")
		s.events <- ShardEvent{ShardID: s.ID, Type: EventRegistered}
	case irc.CmdReconnect:
		// Server-initiated reconnect; treat like a dropped connection.
		s.log.Info().Msg("server requested reconnect")
		s.teardown()
		s.events <- ShardEvent{ShardID: s.ID, Type: EventClosed}
		go s.reconnect()
	case irc.CmdNotice:
		s.log.Debug().Str("notice", m.Text()).Msg("server notice")
	case irc.CmdPrivmsg:
		s.events <- ShardEvent{ShardID: s.ID, Type: EventMessage, Message: m}
	}
}

// reconnectWait doubles per attempt up to maxReconnectWait. The clamp
// happens before the shift so a long outage cannot overflow the
// duration into a zero or negative sleep.
func reconnectWait(attempts int) time.Duration {
	if attempts >= 5 {
		return maxReconnectWait
	}
	return time.Duration(1<<uint(attempts)) * time.Second
}

// reconnect re-establishes the session after an unexpected closure,
// refreshing the credential first. Backoff doubles per attempt up to
// maxReconnectWait; the counter resets once registration succeeds.
func (s *IRCShard) reconnect() {
	for {
		s.Lock()
		wait := reconnectWait(s.attempts)
		s.attempts++
		s.Unlock()

		time.Sleep(wait)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := s.creds.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("credential refresh before reconnect failed")
		}
		cancel()

		err := s.Open()
		if err == nil || errors.Is(err, ErrAlreadyOpen) {
			return
		}
		s.log.Warn().Err(err).Dur("wait", wait).Msg("reconnect failed")
	}
}

// teardown drops the connection without emitting anything.
func (s *IRCShard) teardown() {
	s.Lock()
	defer s.Unlock()
	if s.listening != nil {
		close(s.listening)
		s.listening = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close shuts the connection down intentionally (credential rotation or
// shutdown). The reader sees a different connection afterwards and
// schedules no reconnect; the supervisor drives any new connect.
func (s *IRCShard) Close() {
	s.teardown()
}

func (s *IRCShard) write(line string) error {
	s.RLock()
	conn := s.conn
	s.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteLine(line)
}

// Join asks the server to add the shard to a channel.
func (s *IRCShard) Join(channel string) error {
	return s.write(irc.CmdJoin + " #" + strings.ToLower(channel))
}

// Part removes the shard from a channel.
func (s *IRCShard) Part(channel string) error {
	return s.write(irc.CmdPart + " #" + strings.ToLower(channel))
}

// Say sends one chat line to a channel.
func (s *IRCShard) Say(channel, text string) error {
	return s.write(fmt.Sprintf("%s #%s :%s", irc.CmdPrivmsg, strings.ToLower(channel), text))
}

// Quit sends a farewell before the connection is closed.
func (s *IRCShard) Quit(message string) {
	if err := s.write(irc.CmdQuit + " :" + message); err != nil && !errors.Is(err, ErrNotConnected) {
		s.log.Warn().Err(err).Msg("error sending quit")
	}
}

// Connected reports whether the shard currently holds a live connection.
func (s *IRCShard) Connected() bool {
	s.RLock()
	defer s.RUnlock()
	return s.conn != nil
}
