package directory

import (
	"time"

	"github.com/rflandau/upush/pkg/upush/transport"
	"github.com/rs/zerolog"
)

// File options.go provides options that can be passed to the directory constructor to configure it.

// ServerOption function to set various options on the directory server.
// Uses defaults if an option is not set.
type ServerOption func(*Server)

// WithLogger replaces the server's default logger with the given logger.
func WithLogger(l *zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithStaleAfter overwrites upush.DefaultStaleAfter.
// An entry not refreshed for longer than d is answered NOT FOUND (and evicted).
func WithStaleAfter(d time.Duration) ServerOption {
	return func(s *Server) { s.staleAfter = d }
}

// WithClock replaces time.Now as the server's source of time.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// WithTransport makes the server answer on t instead of binding its own UDP socket.
// The server does not close a transport it was given.
func WithTransport(t transport.Transport) ServerOption {
	return func(s *Server) { s.net.given = t }
}

// WithLossPercent drops the given percentage of outbound acks.
// For exercising clients against an unreliable server.
func WithLossPercent(percent uint8) ServerOption {
	return func(s *Server) { s.lossPercent = percent }
}
