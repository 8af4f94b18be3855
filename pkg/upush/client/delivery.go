package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/rflandau/upush/pkg/upush"
	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/transport"
)

// the escalation ladder, indexed by how many times the head has been sent
const (
	attemptsBeforeResolve uint8 = 2 // re-resolve before the third transmission
	maxAttempts           uint8 = 4
)

// Send queues text for delivery to the named peer.
// An unknown peer is looked up first; lookup errors are returned as-is and nothing is queued.
// A nil return means the message was queued, not that it was delivered: failures arrive later as a DeliveryFailure.
func (s *Session) Send(ctx context.Context, to, text string) error {
	if ctx == nil {
		return upush.ErrNilCtx
	} else if err := protocol.ValidateName(to); err != nil {
		return err
	} else if s.blocked.Contains(to) {
		return ErrBlocked
	} else if text == "" {
		return protocol.ErrEmptyText
	}

	p, found := s.lookupPeer(to)
	if !found {
		if _, err := s.Lookup(ctx, to); err != nil {
			return err
		}
		if p, found = s.lookupPeer(to); !found {
			return fmt.Errorf("%w: %s vanished after resolution", ErrNameNotRegistered, to)
		}
	}
	return s.enqueue(p, text)
}

// enqueue renders text with the peer's next bit and appends it to the queue, transmitting it at once if nothing is ahead of it.
// The bit is only consumed once the frame is known to be valid.
func (s *Session) enqueue(p *peer, text string) error {
	bit := p.next.Peek()
	frame, err := protocol.Data{Bit: bit, From: s.name, To: p.name, Text: text}.Serialize()
	if err != nil {
		return err
	}
	p.next.Assign()

	m := &pending{frame: frame, bit: bit, text: text}
	p.q.Enqueue(m)
	s.log.Debug().Str("peer", p.name).Uint8("bit", uint8(bit)).Int("queue depth", p.q.Size()).Msg("message queued")
	if p.q.Size() == 1 {
		return s.transmit(p, m)
	}
	return nil
}

// transmit (re)sends m to p's current address and counts the attempt.
// A lost datagram is not an error; only transport failures are returned.
func (s *Session) transmit(p *peer, m *pending) error {
	m.attempts++
	m.lastSent = s.now()
	s.log.Debug().Str("peer", p.name).Str("address", p.addr.String()).
		Uint8("bit", uint8(m.bit)).Uint8("attempt", m.attempts).Msg("sending message")
	if err := s.t.Send(m.frame, p.addr); err != nil {
		if errors.Is(err, transport.ErrTransport) || errors.Is(err, transport.ErrClosed) {
			return err
		}
		s.log.Warn().Err(err).Str("peer", p.name).Msg("failed to send message")
	}
	return nil
}

// acknowledge handles an ack from a peer.
// A matching bit releases the head and sends the next message; anything else leaves the queue untouched.
func (s *Session) acknowledge(p *peer, ack protocol.Ack) error {
	m, ok := p.inFlight()
	if !ok {
		s.log.Debug().Str("peer", p.name).Uint8("bit", uint8(ack.Bit)).Msg("ack with nothing in flight")
		return nil
	}
	if err := p.ack.Verify(ack.Bit); err != nil {
		s.log.Info().Err(err).Str("peer", p.name).
			Uint8("expected", uint8(p.ack.Peek())).Uint8("received", uint8(ack.Bit)).Msg("ignoring old ack")
		return nil
	}
	switch ack.Kind {
	case protocol.AckOK:
	case protocol.AckWrongName, protocol.AckWrongFormat:
		// the peer rejected it; retransmitting the same frame cannot help
		s.log.Warn().Str("peer", p.name).Str("reply", ack.Kind.String()).Msg("peer rejected message")
	default:
		s.log.Debug().Str("peer", p.name).Str("reply", ack.Payload).Msg("unrecognized ack payload")
	}

	p.q.Dequeue()
	p.ack.Flip()
	s.log.Debug().Str("peer", p.name).Uint8("bit", uint8(m.bit)).Uint8("attempts", m.attempts).Msg("message delivered")
	if next, ok := p.head(); ok {
		next.attempts = 0
		return s.transmit(p, next)
	}
	return nil
}

// escalate applies the retry policy to p's in-flight message if its response timeout has elapsed.
// Resolution errors evict the peer; context and transport errors are returned.
func (s *Session) escalate(ctx context.Context, p *peer) error {
	m, ok := p.inFlight()
	if !ok || s.now().Sub(m.lastSent) < s.timeout {
		return nil
	}

	switch {
	case m.attempts >= maxAttempts:
		s.evict(p, ErrPeerUnreachable)
		return nil
	case m.attempts == attemptsBeforeResolve:
		s.log.Info().Str("peer", p.name).Msg("no ack, re-resolving peer")
		if _, err := s.Lookup(ctx, p.name); err != nil {
			if errors.Is(err, ErrNameNotRegistered) || errors.Is(err, ErrNoServerResponse) || errors.Is(err, ErrUnexpectedReply) {
				s.evict(p, fmt.Errorf("%w: %w", ErrPeerUnreachable, err))
				return nil
			}
			return err
		}
		// Lookup moved p to the address it resolved
	}
	return s.transmit(p, m)
}
