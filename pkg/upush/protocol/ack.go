package protocol

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// minAckLen is the shortest byte string IsAck will consider ("ACK 0 OK").
const minAckLen = 8

// AckKind enumerates the payloads an Ack can carry.
type AckKind uint8

const (
	// payload did not match any known shape; the bit is still meaningful
	AckUnknown AckKind = iota
	AckOK
	AckNotFound
	AckWrongName
	AckWrongFormat
	// NICK <name> IP <addr> PORT <port>
	AckNick
)

const (
	payloadOK          = "OK"
	payloadNotFound    = "NOT FOUND"
	payloadWrongName   = "WRONG NAME"
	payloadWrongFormat = "WRONG FORMAT"
	tokenNick          = "NICK"
	tokenIP            = "IP"
	tokenPort          = "PORT"
)

// String returns the string representation of the given AckKind.
func (k AckKind) String() string {
	switch k {
	case AckOK:
		return payloadOK
	case AckNotFound:
		return payloadNotFound
	case AckWrongName:
		return payloadWrongName
	case AckWrongFormat:
		return payloadWrongFormat
	case AckNick:
		return tokenNick
	default:
		return "UNKNOWN"
	}
}

// An Ack answers a Request (from the directory) or a Data frame (from a peer).
// It always carries the bit of the frame it answers.
type Ack struct {
	Bit  Bit
	Kind AckKind
	// Nick and Addr are only set when Kind == AckNick.
	Nick string
	Addr netip.AddrPort
	// Payload is the raw text after the bit.
	// Only consulted by Serialize when Kind == AckUnknown.
	Payload string
}

// Serialize returns the ack as wire bytes.
func (a Ack) Serialize() ([]byte, error) {
	if !a.Bit.Valid() {
		return nil, ErrBadBit
	}
	var payload string
	switch a.Kind {
	case AckOK:
		payload = payloadOK
	case AckNotFound:
		payload = payloadNotFound
	case AckWrongName:
		payload = payloadWrongName
	case AckWrongFormat:
		payload = payloadWrongFormat
	case AckNick:
		if err := ValidateName(a.Nick); err != nil {
			return nil, err
		} else if !a.Addr.IsValid() {
			return nil, malformed("invalid address %v", a.Addr)
		}
		payload = tokenNick + " " + a.Nick +
			" " + tokenIP + " " + a.Addr.Addr().Unmap().String() +
			" " + tokenPort + " " + strconv.FormatUint(uint64(a.Addr.Port()), 10)
	default:
		if a.Payload == "" {
			return nil, malformed("empty payload")
		}
		payload = a.Payload
	}
	return fits([]byte(tokenAck + " " + a.Bit.String() + " " + payload))
}

// IsAck reports whether raw looks like an acknowledgement: at least minAckLen bytes, the literal ACK prefix, and a digit at the bit offset.
// It does not validate the payload.
func IsAck(raw []byte) bool {
	if len(raw) < minAckLen || string(raw[:len(tokenAck)]) != tokenAck {
		return false
	}
	_, ok := PeekBit(raw)
	return ok
}

// DeserializeAck parses an acknowledgement.
// Payloads that are not one of the known shapes produce an AckUnknown ack rather than an error, as the bit alone is enough to verify delivery.
// A NICK payload that cannot be parsed is an error.
func DeserializeAck(raw []byte) (Ack, error) {
	s := clean(raw)
	if !IsAck([]byte(s)) {
		return Ack{}, malformed("not an ack")
	} else if s[3] != ' ' || s[5] != ' ' {
		return Ack{}, malformed("fields must be space-separated")
	}
	bit, _ := PeekBit([]byte(s))
	a := Ack{Bit: bit, Payload: s[6:]}
	switch a.Payload {
	case payloadOK:
		a.Kind = AckOK
	case payloadNotFound:
		a.Kind = AckNotFound
	case payloadWrongName:
		a.Kind = AckWrongName
	case payloadWrongFormat:
		a.Kind = AckWrongFormat
	default:
		if !strings.HasPrefix(a.Payload, tokenNick+" ") {
			a.Kind = AckUnknown
			return a, nil
		}
		nick, addr, err := parseNick(a.Payload)
		if err != nil {
			return Ack{}, err
		}
		a.Kind, a.Nick, a.Addr = AckNick, nick, addr
	}
	return a, nil
}

// parseNick parses "NICK <name> IP <addr> PORT <port>".
func parseNick(payload string) (string, netip.AddrPort, error) {
	toks := strings.Split(payload, " ")
	if len(toks) != 6 {
		return "", netip.AddrPort{}, malformed("NICK payload: expected 6 fields, found %d", len(toks))
	} else if toks[2] != tokenIP || toks[4] != tokenPort {
		return "", netip.AddrPort{}, malformed("NICK payload: expected %s and %s markers", tokenIP, tokenPort)
	} else if err := ValidateName(toks[1]); err != nil {
		return "", netip.AddrPort{}, malformed("NICK payload: %v", err)
	}
	addr, err := netip.ParseAddr(toks[3])
	if err != nil {
		return "", netip.AddrPort{}, malformed("NICK payload: %v", err)
	}
	port, err := strconv.ParseUint(toks[5], 10, 16)
	if err != nil {
		return "", netip.AddrPort{}, malformed("NICK payload: %v", err)
	}
	return toks[1], netip.AddrPortFrom(addr, uint16(port)), nil
}

// Zerolog attaches the ack's fields to the given log event.
// Intended to be given to *zerolog.Event.Func().
func (a Ack) Zerolog(ev *zerolog.Event) {
	ev.Uint8("bit", uint8(a.Bit)).Str("kind", a.Kind.String())
	if a.Kind == AckNick {
		ev.Str("nick", a.Nick).Str("address", a.Addr.String())
	} else if a.Kind == AckUnknown {
		ev.Str("payload", a.Payload)
	}
}
