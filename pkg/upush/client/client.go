// Package client implements a UPush peer session: the endpoint that registers a name with the directory, resolves other names through it, and exchanges text messages with other peers directly.
//
// A Session is single-threaded.
// Run drives it as an event loop over the transport, a command channel, and the earliest pending deadline.
// Tests (and callers with their own loop) may instead call HandleDatagram, Exec, and Tick directly from a single goroutine.
//
// Outbound messages use stop-and-wait with an alternating bit per peer.
// An unacknowledged message is resent after the response timeout; before its third transmission the peer's address is re-resolved, and after its fourth the peer is evicted and every message still queued to it is reported as a DeliveryFailure.
package client

import (
	"net/netip"
	"os"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/rflandau/upush/pkg/upush"
	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/seq"
	"github.com/rflandau/upush/pkg/upush/transport"
	"github.com/rs/zerolog"

	mapset "github.com/deckarep/golang-set/v2"
)

// A Message is a data frame that was surfaced to the local user.
type Message struct {
	From string
	Text string
	// address the message arrived from
	Addr netip.AddrPort
}

// A Session is one named peer.
type Session struct {
	log    *zerolog.Logger
	name   string
	server netip.AddrPort
	t      transport.Transport

	timeout   time.Duration
	heartbeat time.Duration
	now       func() time.Time
	dedup     bool

	onMessage func(Message)
	onFailure func(DeliveryFailure)
	onCmdErr  func(Command, error)

	control      seq.Channel        // shared by every REG and LOOKUP
	lastRegister time.Time          // zero until Register succeeds
	peers        *linkedhashmap.Map // name -> *peer
	blocked      mapset.Set[string]

	// datagrams from other peers that arrived while we were waiting on the directory.
	// Handled, in arrival order, before the next wait.
	deferred []transport.Datagram
}

// New returns a session for the given name that reaches the directory at server over t.
// The session does not own t; the caller closes it.
func New(name string, server netip.AddrPort, t transport.Transport, opts ...SessionOption) (*Session, error) {
	if err := protocol.ValidateName(name); err != nil {
		return nil, err
	} else if !server.IsValid() {
		return nil, ErrBadAddr(server)
	} else if t == nil {
		return nil, ErrNilTransport
	}

	s := &Session{
		name:      name,
		server:    netip.AddrPortFrom(server.Addr().Unmap(), server.Port()),
		t:         t,
		timeout:   upush.DefaultResponseTimeout,
		heartbeat: upush.DefaultHeartbeatInterval,
		now:       time.Now,
		peers:     linkedhashmap.New(),
		blocked:   mapset.NewThreadUnsafeSet[string](),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:         os.Stdout,
			FieldsOrder: []string{"nick"},
			TimeFormat:  "15:04:05",
		}).With().
			Str("nick", name).
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		s.log = &l
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.onMessage == nil {
		s.onMessage = func(m Message) {
			s.log.Info().Str("from", m.From).Str("text", m.Text).Msg("message received")
		}
	}
	if s.onFailure == nil {
		s.onFailure = func(f DeliveryFailure) {
			s.log.Warn().Str("peer", f.Peer).Err(f.Err).Msg("message dropped")
		}
	}
	if s.onCmdErr == nil {
		s.onCmdErr = func(c Command, err error) {
			s.log.Warn().Err(err).Str("command", c.String()).Msg("command failed")
		}
	}

	s.log.Debug().Func(s.Zerolog).Msg("session created")
	return s, nil
}

//#region getters

// Name returns the name this session registers under.
func (s *Session) Name() string {
	return s.name
}

// Server returns the address of the directory server.
func (s *Session) Server() netip.AddrPort {
	return s.server
}

// Registered returns whether Register has succeeded.
func (s *Session) Registered() bool {
	return !s.lastRegister.IsZero()
}

// Blocked returns the names currently blocked.
func (s *Session) Blocked() []string {
	return s.blocked.ToSlice()
}

//#endregion getters

// Zerolog pretty prints the state of the session into the given zerolog event.
// Intended to be given to *zerolog.Event.Func().
func (s *Session) Zerolog(e *zerolog.Event) {
	e.Str("name", s.name).
		Str("server", s.server.String()).
		Str("local address", s.t.LocalAddr().String()).
		Dur("timeout", s.timeout).
		Dur("heartbeat", s.heartbeat).
		Uint8("control bit", uint8(s.control.Peek())).
		Int("known peers", s.peers.Size()).
		Int("blocked", s.blocked.Cardinality())
}
