package directory

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
	ErrStopped = errors.New("this directory server is not running")
)
