package client

import (
	"errors"
	"time"

	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/transport"
)

// nextHeartbeat returns when the registration should next be refreshed.
// Zero if the session never registered.
func (s *Session) nextHeartbeat() time.Time {
	if s.lastRegister.IsZero() {
		return time.Time{}
	}
	return s.lastRegister.Add(s.heartbeat)
}

// beat re-sends our registration if the heartbeat interval has elapsed.
// The control bit is reused, not assigned: the ack is never awaited, so the exchange does not advance the channel.
// A lost heartbeat is simply retried at the next interval.
func (s *Session) beat() error {
	next := s.nextHeartbeat()
	if next.IsZero() || s.now().Before(next) {
		return nil
	}
	frame, err := protocol.Request{Bit: s.control.Peek(), Command: protocol.CommandRegister, Name: s.name}.Serialize()
	if err != nil {
		return err
	}
	s.lastRegister = s.now()
	s.log.Debug().Str("server", s.server.String()).Msg("heartbeat")
	if err := s.t.Send(frame, s.server); err != nil {
		if errors.Is(err, transport.ErrTransport) || errors.Is(err, transport.ErrClosed) {
			return err
		}
		s.log.Warn().Err(err).Msg("failed to send heartbeat")
	}
	return nil
}
