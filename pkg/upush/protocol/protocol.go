/*
Package protocol contains tools for building and parsing UPush frames.

Every frame is a single line of space-separated ASCII text carried in a single datagram.
There are three shapes:

	PKT <bit> REG <name>                              (Request)
	PKT <bit> LOOKUP <name>                           (Request)
	PKT <bit> FROM <name> TO <name> MSG <text>        (Data)
	ACK <bit> <payload>                               (Ack)

Each shape has its own struct with a Serialize method and a Deserialize function.
Deserializers validate arity and field shape up front and return ErrMalformedFrame rather than a partially populated struct.
*/
package protocol

import (
	"bytes"
	"strconv"

	"github.com/rflandau/upush/pkg/upush"
)

// MaxNameLen is the longest name (in bytes) a peer may register under.
const MaxNameLen = 19

// Leading tokens.
const (
	tokenPacket = "PKT"
	tokenAck    = "ACK"
)

// Bit is the alternating sequence label carried by every frame.
// On the wire it is a single decimal digit; only 0 and 1 are ever assigned, but any digit is accepted (and echoed) on receipt.
type Bit uint8

// Flip returns the other value of an alternating bit.
func (b Bit) Flip() Bit {
	return b ^ 1
}

// Valid returns whether b can be written as a single decimal digit.
func (b Bit) Valid() bool {
	return b <= 9
}

func (b Bit) String() string {
	return strconv.FormatUint(uint64(b), 10)
}

// ParseBit reads a bit from a single-digit token.
func ParseBit(tok string) (Bit, error) {
	if len(tok) != 1 || tok[0] < '0' || tok[0] > '9' {
		return 0, ErrBadBit
	}
	return Bit(tok[0] - '0'), nil
}

// PeekBit returns the bit found at the fixed bit offset of a frame (the 5th byte), if it is a digit.
// Used to echo a bit back when the rest of the frame could not be parsed.
func PeekBit(raw []byte) (Bit, bool) {
	if len(raw) < 5 || raw[4] < '0' || raw[4] > '9' {
		return 0, false
	}
	return Bit(raw[4] - '0'), true
}

// ValidateName checks that name can be used as a peer name.
// Names are 1 to MaxNameLen ASCII bytes and must not contain whitespace.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return ErrBadName
	}
	for i := range len(name) {
		c := name[i]
		if c > 127 || c == ' ' || (c >= '\t' && c <= '\r') {
			return ErrBadName
		}
	}
	return nil
}

// clean strips the padding some senders leave after the frame (trailing NULs and line terminators).
func clean(raw []byte) string {
	return string(bytes.TrimRight(raw, "\x00\r\n"))
}

// fits returns ErrFrameTooLarge if the frame would not fit into a single packet.
func fits(frame []byte) ([]byte, error) {
	if len(frame) >= int(upush.MaxPacketSize) {
		return nil, ErrFrameTooLarge
	}
	return frame, nil
}
