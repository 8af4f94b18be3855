// Package seq implements the sender side of the alternating-bit scheme.
//
// A Channel is a single bit. Whoever creates a protocol unit calls Assign to label it; whoever waits on replies calls Matches (or Verify) to tell a reply to the current unit apart from a stale or duplicated one, and Flip once the current unit is resolved.
package seq

import (
	"errors"

	"github.com/rflandau/upush/pkg/upush/protocol"
)

// ErrStaleBit indicates that a reply carried the bit of an exchange that has already been resolved.
var ErrStaleBit = errors.New("stale sequence bit")

// Channel is one alternating bit.
// The zero value starts at 0 and is ready for immediate use.
//
// Channels are not safe for concurrent use; each is owned by a single event loop.
type Channel struct {
	cur protocol.Bit
}

// Assign returns the current bit, then flips it.
// Called once per protocol unit created on this channel.
func (c *Channel) Assign() protocol.Bit {
	b := c.cur
	c.cur = c.cur.Flip()
	return b
}

// Peek returns the current bit without altering it.
func (c *Channel) Peek() protocol.Bit {
	return c.cur
}

// Matches compares a received bit to the currently expected one.
// Never alters the channel.
func (c *Channel) Matches(b protocol.Bit) bool {
	return c.cur == b
}

// Verify is Matches expressed as an error.
// Returns ErrStaleBit on mismatch.
func (c *Channel) Verify(b protocol.Bit) error {
	if !c.Matches(b) {
		return ErrStaleBit
	}
	return nil
}

// Flip advances the channel to the next expected bit.
func (c *Channel) Flip() {
	c.cur = c.cur.Flip()
}
