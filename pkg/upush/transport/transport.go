// Package transport moves raw datagrams between UPush endpoints.
//
// A Transport is deliberately dumb: Send may silently lose a datagram and Inbound may deliver duplicates or reorder them.
// Reliability is the job of the packages above it.
package transport

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/rflandau/upush/pkg/upush"
)

var (
	ErrTimeout = errors.New("timed out awaiting a datagram")
	ErrClosed  = errors.New("transport is closed")
	// ErrTransport wraps failures of the underlying socket.
	// Endpoints treat it as fatal.
	ErrTransport = errors.New("transport failure")
)

// A Datagram is a single received payload and the address it came from.
type Datagram struct {
	Payload []byte
	Source  netip.AddrPort
}

// Transport is the datagram primitive every endpoint sits on.
type Transport interface {
	// Send transmits payload to the given address.
	// A nil error does not imply delivery.
	Send(payload []byte, to netip.AddrPort) error
	// Inbound returns the channel received datagrams are delivered on.
	// The channel is closed when the transport dies; Err then reports why.
	Inbound() <-chan Datagram
	// Err returns the error that killed the transport, if any.
	Err() error
	// LocalAddr returns the address the transport receives on.
	LocalAddr() netip.AddrPort
	// Close releases the transport. Inbound is closed as a result.
	Close() error
}

// Receive blocks until t delivers a datagram, the timeout elapses (ErrTimeout), or ctx is cancelled.
// If t has died, its Err is returned (or ErrClosed if it closed cleanly).
func Receive(ctx context.Context, t Transport, timeout time.Duration) (Datagram, error) {
	if ctx == nil {
		return Datagram{}, upush.ErrNilCtx
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d, ok := <-t.Inbound():
		if !ok {
			if err := t.Err(); err != nil {
				return Datagram{}, err
			}
			return Datagram{}, ErrClosed
		}
		return d, nil
	case <-timer.C:
		return Datagram{}, ErrTimeout
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

// normalize strips IPv4-in-IPv6 mapping so that addresses compare equal no matter which socket family observed them.
func normalize(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
