// Package upush is the parent package of the UPush implementation.
// It contains child packages protocol (text frame handling), seq (alternating bits), transport (datagram I/O), directory (the rendezvous server), client (peer sessions), and status (an HTTP view of a directory).
// Child packages are mostly self-contained, the upush parent package provides the few shared utilities.
package upush

import (
	"errors"
	"time"
)

// MaxPacketSize specifies the buffer size used to hold UDP payloads.
// Every UPush frame is a single line of text and must fit into a single datagram; a byte is reserved so that a full read can be distinguished from a truncated one, and the UDP reader drops any read that fills the buffer.
const MaxPacketSize uint16 = 1401

// Default timings.
// Directory entries outlive DefaultStaleAfter only if refreshed, so peers must heartbeat more often than that.
const (
	DefaultStaleAfter        time.Duration = 30 * time.Second
	DefaultHeartbeatInterval time.Duration = 10 * time.Second
	DefaultResponseTimeout   time.Duration = time.Second
)

var ErrNilCtx = errors.New("do not pass nil contexts; use context.TODO or context.Background instead")
