package client

import (
	"time"

	"github.com/rs/zerolog"
)

// File options.go provides options that can be passed to the session constructor to configure it.

// SessionOption function to set various options on a session.
// Uses defaults if an option is not set.
type SessionOption func(*Session)

// WithLogger replaces the session's default logger with the given logger.
func WithLogger(l *zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.log = l
	}
}

// WithTimeout overwrites upush.DefaultResponseTimeout.
// It bounds each directory exchange and is the retransmission timeout for peer messages.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// WithHeartbeatInterval overwrites upush.DefaultHeartbeatInterval.
// Must be shorter than the directory's staleness threshold for the registration to survive idle periods.
func WithHeartbeatInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.heartbeat = d }
}

// WithClock replaces time.Now as the session's source of time for heartbeat and retransmission deadlines.
// Blocking waits on the directory still use real timers.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithMessageHandler sets the function surfaced messages are given to.
// Called on the session's goroutine; it must not block.
func WithMessageHandler(fn func(Message)) SessionOption {
	return func(s *Session) { s.onMessage = fn }
}

// WithFailureHandler sets the function delivery failures are given to.
// Called on the session's goroutine; it must not block.
func WithFailureHandler(fn func(DeliveryFailure)) SessionOption {
	return func(s *Session) { s.onFailure = fn }
}

// WithCommandErrorHandler sets the function Run reports non-fatal command errors to (unknown names, blocked peers, and the like).
func WithCommandErrorHandler(fn func(Command, error)) SessionOption {
	return func(s *Session) { s.onCmdErr = fn }
}

// WithDuplicateSuppression makes the receiver remember the bit of the last message surfaced from each sender and acknowledge, without surfacing, a message that repeats it.
// Off by default: without it a retransmission whose ack was lost is shown twice.
func WithDuplicateSuppression() SessionOption {
	return func(s *Session) { s.dedup = true }
}
