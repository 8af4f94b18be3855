package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rflandau/upush/pkg/upush"
	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/transport"
)

// lookupAttempts is how many LOOKUPs are sent, each with a fresh bit, before the directory is considered unreachable.
const lookupAttempts = 2

// Register announces this session's name to the directory and waits for it to be acknowledged.
// The directory learns our address from the datagram itself.
// Returns ErrNoServerResponse if no matching reply arrives within the timeout, or ErrUnexpectedReply if the directory answers with anything but OK.
func (s *Session) Register(ctx context.Context) error {
	if ctx == nil {
		return upush.ErrNilCtx
	}
	bit := s.control.Assign()
	frame, err := protocol.Request{Bit: bit, Command: protocol.CommandRegister, Name: s.name}.Serialize()
	if err != nil {
		return err
	}
	if err := s.t.Send(frame, s.server); err != nil {
		return err
	}

	// transport waits are wall-clock; the session clock only schedules retransmits and heartbeats
	ack, err := s.awaitServer(ctx, bit, time.Now().Add(s.timeout))
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return ErrNoServerResponse
		}
		return err
	}
	if ack.Kind != protocol.AckOK {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, ack.Kind)
	}
	s.lastRegister = s.now()
	s.log.Info().Str("server", s.server.String()).Msg("registration complete")
	return nil
}

// Lookup resolves name through the directory and upserts the peer's record with the result.
//
// Each attempt sends a LOOKUP with a freshly assigned control bit and waits up to the timeout for the matching reply.
// Replies from other addresses or with the other bit are ignored; they do not consume an attempt, nor do they extend it.
// Datagrams from other peers that arrive while waiting are kept and handled afterwards.
func (s *Session) Lookup(ctx context.Context, name string) (netip.AddrPort, error) {
	if ctx == nil {
		return netip.AddrPort{}, upush.ErrNilCtx
	} else if err := protocol.ValidateName(name); err != nil {
		return netip.AddrPort{}, err
	}

	for attempt := 1; attempt <= lookupAttempts; attempt++ {
		bit := s.control.Assign()
		frame, err := protocol.Request{Bit: bit, Command: protocol.CommandLookup, Name: name}.Serialize()
		if err != nil {
			return netip.AddrPort{}, err
		}
		s.log.Debug().Str("name", name).Uint8("bit", uint8(bit)).Int("attempt", attempt).Msg("looking up")
		if err := s.t.Send(frame, s.server); err != nil {
			return netip.AddrPort{}, err
		}

		deadline := time.Now().Add(s.timeout) // wall-clock, as in Register
		for {
			ack, err := s.awaitServer(ctx, bit, deadline)
			if errors.Is(err, transport.ErrTimeout) {
				break
			} else if err != nil {
				return netip.AddrPort{}, err
			}

			switch ack.Kind {
			case protocol.AckNotFound:
				return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrNameNotRegistered, name)
			case protocol.AckNick:
				if ack.Nick != name {
					s.log.Warn().Str("requested", name).Str("received", ack.Nick).Msg("directory answered for another name")
					continue
				}
				s.upsertPeer(name, ack.Addr)
				return ack.Addr, nil
			default:
				// most likely the ack of a heartbeat that shared this bit
				s.log.Debug().Str("reply", ack.Kind.String()).Msg("ignoring reply while awaiting lookup")
			}
		}
		s.log.Info().Str("name", name).Int("attempt", attempt).Msg("lookup timed out")
	}
	return netip.AddrPort{}, ErrNoServerResponse
}

// awaitServer reads datagrams until an ack from the directory carrying bit arrives or deadline passes (transport.ErrTimeout).
// Acks from the directory with the other bit are dropped; datagrams from anyone else are deferred.
func (s *Session) awaitServer(ctx context.Context, bit protocol.Bit, deadline time.Time) (protocol.Ack, error) {
	for {
		d, err := transport.Receive(ctx, s.t, time.Until(deadline))
		if err != nil {
			return protocol.Ack{}, err
		}
		if d.Source != s.server {
			s.deferred = append(s.deferred, d)
			continue
		}
		ack, err := protocol.DeserializeAck(d.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed reply from directory")
			continue
		}
		if ack.Bit != bit {
			s.log.Debug().Uint8("expected", uint8(bit)).Uint8("received", uint8(ack.Bit)).Msg("ignoring old reply from directory")
			continue
		}
		return ack, nil
	}
}
