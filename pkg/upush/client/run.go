package client

import (
	"context"
	"errors"
	"time"

	"github.com/rflandau/upush/pkg/upush"
	"github.com/rflandau/upush/pkg/upush/transport"
)

// Tick performs all timed work that is due: the heartbeat, then the retry policy for every peer whose in-flight message has timed out.
// Peers are visited in the order they were first seen.
func (s *Session) Tick(ctx context.Context) error {
	if ctx == nil {
		return upush.ErrNilCtx
	}
	if err := s.beat(); err != nil {
		return err
	}
	for _, name := range s.peerNames() {
		p, found := s.lookupPeer(name)
		if !found { // evicted earlier in this pass
			continue
		}
		if err := s.escalate(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// NextDeadline returns the earliest instant at which Tick has work to do.
// Zero if nothing is scheduled.
func (s *Session) NextDeadline() time.Time {
	next := s.nextHeartbeat()
	it := s.peers.Iterator()
	for it.Next() {
		p, ok := it.Value().(*peer)
		if !ok {
			continue
		}
		if m, busy := p.inFlight(); busy {
			if due := m.lastSent.Add(s.timeout); next.IsZero() || due.Before(next) {
				next = due
			}
		}
	}
	return next
}

// Run is the session's event loop.
// It waits on the transport, cmds, and the next deadline, handling each event to completion before waiting again.
//
// Run returns nil when ctx is cancelled, a QUIT is received, or cmds is closed.
// Transport failures are fatal, as is losing the directory while resolving a peer for a send.
// Other command errors are given to the command error handler.
func (s *Session) Run(ctx context.Context, cmds <-chan Command) error {
	if ctx == nil {
		return upush.ErrNilCtx
	}
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if err := s.flushDeferred(ctx); err != nil {
			return err
		}

		var wake <-chan time.Time
		if next := s.NextDeadline(); !next.IsZero() {
			timer.Reset(max(next.Sub(s.now()), 0))
			wake = timer.C
		}

		var err error
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-s.t.Inbound():
			if !ok {
				if err := s.t.Err(); err != nil {
					return err
				}
				return transport.ErrClosed
			}
			err = s.HandleDatagram(ctx, d)
		case c, ok := <-cmds:
			if !ok {
				return nil
			}
			err = s.Exec(ctx, c)
			if errors.Is(err, ErrQuit) {
				return nil
			} else if err != nil && !fatal(err) {
				s.onCmdErr(c, err)
				err = nil
			}
		case <-wake:
			err = s.Tick(ctx)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// flushDeferred handles the datagrams that arrived while a directory exchange was in progress.
func (s *Session) flushDeferred(ctx context.Context) error {
	for len(s.deferred) > 0 {
		d := s.deferred[0]
		s.deferred = s.deferred[1:]
		if err := s.HandleDatagram(ctx, d); err != nil {
			return err
		}
	}
	s.deferred = nil
	return nil
}

// fatal reports whether err ends the session.
func fatal(err error) bool {
	return errors.Is(err, transport.ErrTransport) ||
		errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, ErrNoServerResponse) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
