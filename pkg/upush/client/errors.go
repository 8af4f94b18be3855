package client

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrBadAddr returns an error to indicate that the given netip.AddrPort was invalid
func ErrBadAddr(ap netip.AddrPort) error {
	return fmt.Errorf("address %v is not a valid ip:port", ap)
}

var (
	// ErrAddressMismatch indicates a reply or ack arrived from an address we were not waiting on.
	ErrAddressMismatch = errors.New("datagram from an unexpected address")
	// ErrNameNotRegistered is returned when the directory has no live entry for the requested name.
	ErrNameNotRegistered = errors.New("name is not registered")
	// ErrNoServerResponse is returned when every attempt of a directory exchange timed out.
	// Callers should consider the directory unreachable.
	ErrNoServerResponse = errors.New("no response from the directory server")
	// ErrPeerUnreachable is the cause carried by a DeliveryFailure when a peer was evicted.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrUnexpectedReply is returned when the directory answered with something other than what the exchange expects.
	ErrUnexpectedReply = errors.New("unexpected reply from the directory server")
	ErrNilTransport    = errors.New("a transport is required")
	ErrBlocked         = errors.New("peer is blocked")
	ErrAlreadyBlocked  = errors.New("peer is already blocked")
	ErrNotBlocked      = errors.New("peer is not blocked")
	ErrBadCommand      = errors.New("unrecognized command")
	// ErrQuit is returned by Exec for a QUIT command. Run treats it as a clean exit.
	ErrQuit = errors.New("quit")
)

// DeliveryFailure reports a message that was dropped without being acknowledged.
// One is emitted for every message still queued when its peer is evicted.
type DeliveryFailure struct {
	Peer string
	Text string
	Err  error
}

func (f DeliveryFailure) Error() string {
	return fmt.Sprintf("failed to deliver to %s: %v", f.Peer, f.Err)
}

func (f DeliveryFailure) Unwrap() error {
	return f.Err
}
