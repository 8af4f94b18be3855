package client

import (
	"context"
	"errors"
	"net/netip"

	"github.com/rflandau/upush/pkg/upush"
	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/transport"
)

// HandleDatagram processes a single received datagram: either an ack for one of our messages or a message for us.
// Malformed and unexpected input is logged and dropped; only transport failures are returned.
func (s *Session) HandleDatagram(ctx context.Context, d transport.Datagram) error {
	if ctx == nil {
		return upush.ErrNilCtx
	}
	if protocol.IsAck(d.Payload) {
		return s.handleAck(d)
	}
	return s.handleData(d)
}

func (s *Session) handleAck(d transport.Datagram) error {
	if d.Source == s.server {
		// heartbeat acks, and late replies to lookups we already gave up on
		s.log.Debug().Str("reply", string(d.Payload)).Msg("ignoring directory ack outside of an exchange")
		return nil
	}
	p, found := s.peerByAddr(d.Source)
	if !found {
		s.log.Warn().Err(ErrAddressMismatch).Str("sender address", d.Source.String()).Msg("ack from unknown sender")
		return nil
	}
	ack, err := protocol.DeserializeAck(d.Payload)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", p.name).Msg("dropping malformed ack")
		return nil
	}
	return s.acknowledge(p, ack)
}

// handleData acknowledges a message addressed to us and surfaces it, unless its sender is blocked.
// Misaddressed messages are answered WRONG NAME; unparseable ones WRONG FORMAT.
func (s *Session) handleData(d transport.Datagram) error {
	msg, err := protocol.DeserializeData(d.Payload)
	if err != nil {
		bit, ok := protocol.PeekBit(d.Payload)
		if !ok {
			bit = 0
		}
		s.log.Warn().Err(err).Str("sender address", d.Source.String()).Msg("received invalid message format")
		return s.reply(d.Source, protocol.Ack{Bit: bit, Kind: protocol.AckWrongFormat})
	}
	if msg.To != s.name {
		s.log.Warn().Str("to", msg.To).Str("sender address", d.Source.String()).Msg("received message with wrong name")
		return s.reply(d.Source, protocol.Ack{Bit: msg.Bit, Kind: protocol.AckWrongName})
	}
	if err := s.reply(d.Source, protocol.Ack{Bit: msg.Bit, Kind: protocol.AckOK}); err != nil {
		return err
	}

	if s.blocked.Contains(msg.From) {
		s.log.Debug().Str("from", msg.From).Msg("suppressing message from blocked peer")
		return nil
	}
	p := s.upsertPeer(msg.From, d.Source)
	if s.dedup {
		if p.heardYet && p.lastIn == msg.Bit {
			s.log.Info().Str("from", msg.From).Uint8("bit", uint8(msg.Bit)).Msg("suppressing duplicate message")
			return nil
		}
		p.lastIn, p.heardYet = msg.Bit, true
	}
	s.onMessage(Message{From: msg.From, Text: msg.Text, Addr: d.Source})
	return nil
}

// reply sends an ack to the given address.
func (s *Session) reply(to netip.AddrPort, ack protocol.Ack) error {
	b, err := ack.Serialize()
	if err != nil {
		s.log.Error().Err(err).Func(ack.Zerolog).Msg("failed to serialize ack")
		return nil
	}
	if err := s.t.Send(b, to); err != nil {
		if errors.Is(err, transport.ErrTransport) || errors.Is(err, transport.ErrClosed) {
			return err
		}
		s.log.Warn().Err(err).Str("target address", to.String()).Msg("failed to send ack")
	}
	return nil
}
