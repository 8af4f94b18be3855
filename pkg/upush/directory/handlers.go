package directory

import (
	"errors"
	"net/netip"

	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/transport"
)

// handle answers a single datagram.
// Malformed requests are dropped; only transport failures are returned.
func (s *Server) handle(t transport.Transport, d transport.Datagram) error {
	req, err := protocol.DeserializeRequest(d.Payload)
	if err != nil {
		s.log.Warn().Err(err).
			Str("sender address", d.Source.String()).
			Int("message size (bytes)", len(d.Payload)).
			Msg("dropping malformed request")
		return nil
	}
	s.log.Debug().Func(req.Zerolog).Str("sender address", d.Source.String()).Msg("request received")

	switch req.Command {
	case protocol.CommandRegister:
		return s.serveRegister(t, req, d.Source)
	default:
		return s.serveLookup(t, req, d.Source)
	}
}

// serveRegister acknowledges the registration and then upserts the sender under the requested name.
// The observed source address is recorded; the request carries no address of its own.
func (s *Server) serveRegister(t transport.Transport, req protocol.Request, sender netip.AddrPort) error {
	if err := s.respond(t, sender, protocol.Ack{Bit: req.Bit, Kind: protocol.AckOK}); err != nil {
		return err
	}
	if err := s.Register(req.Name, sender); err != nil {
		// the request parsed, so the name is valid; only the address can be off
		s.log.Warn().Err(err).Str("name", req.Name).Msg("failed to register")
		return nil
	}
	s.log.Info().Str("name", req.Name).Str("address", sender.String()).Msg("registered")
	return nil
}

// serveLookup answers any non-REG command by resolving its target.
// Absent and stale entries are both NOT FOUND (stale ones are evicted by the lookup).
func (s *Server) serveLookup(t transport.Transport, req protocol.Request, sender netip.AddrPort) error {
	addr, found := s.Lookup(req.Name)
	if !found {
		s.log.Debug().Str("name", req.Name).Str("requester", sender.String()).Msg("lookup missed")
		return s.respond(t, sender, protocol.Ack{Bit: req.Bit, Kind: protocol.AckNotFound})
	}
	return s.respond(t, sender, protocol.Ack{Bit: req.Bit, Kind: protocol.AckNick, Nick: req.Name, Addr: addr})
}

// respond is a helper function to serialize an ack and write it across the wire to the given address.
// Serialization failures are logged and swallowed.
// Errors wrapping transport.ErrTransport are returned, everything else is logged.
func (s *Server) respond(t transport.Transport, to netip.AddrPort, ack protocol.Ack) error {
	b, err := ack.Serialize()
	if err != nil {
		s.log.Error().Err(err).Func(ack.Zerolog).Msg("failed to serialize response")
		return nil
	}
	if err := t.Send(b, to); err != nil {
		if errors.Is(err, transport.ErrTransport) {
			return err
		}
		s.log.Warn().Err(err).Func(ack.Zerolog).Str("target address", to.String()).Msg("failed to respond")
	}
	return nil
}
