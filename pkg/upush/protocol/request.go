package protocol

import (
	"strings"

	"github.com/rs/zerolog"
)

// Command is the verb of a control Request.
type Command string

const (
	// Register (or refresh) the sender's address under a name.
	CommandRegister Command = "REG"
	// Resolve a name to the address it was registered from.
	CommandLookup Command = "LOOKUP"
)

// A Request is a control frame sent by a peer to the directory server.
type Request struct {
	Bit     Bit
	Command Command
	// name being registered or looked up
	Name string
}

// Serialize returns the request as wire bytes.
// Fails if the name is invalid; names are never truncated.
func (r Request) Serialize() ([]byte, error) {
	if err := ValidateName(r.Name); err != nil {
		return nil, err
	} else if !r.Bit.Valid() {
		return nil, ErrBadBit
	} else if r.Command == "" || strings.ContainsRune(string(r.Command), ' ') {
		return nil, malformed("command %q", r.Command)
	}
	return fits([]byte(tokenPacket + " " + r.Bit.String() + " " + string(r.Command) + " " + r.Name))
}

// DeserializeRequest parses a control frame.
// The command is not restricted to CommandRegister and CommandLookup; the directory treats any other verb as a lookup.
func DeserializeRequest(raw []byte) (Request, error) {
	toks := strings.Split(clean(raw), " ")
	if len(toks) != 4 {
		return Request{}, malformed("expected 4 fields, found %d", len(toks))
	} else if toks[0] != tokenPacket {
		return Request{}, malformed("expected %s, found %q", tokenPacket, toks[0])
	}
	bit, err := ParseBit(toks[1])
	if err != nil {
		return Request{}, malformed("%v", err)
	}
	if toks[2] == "" {
		return Request{}, malformed("empty command")
	}
	if err := ValidateName(toks[3]); err != nil {
		return Request{}, malformed("%v", err)
	}
	return Request{Bit: bit, Command: Command(toks[2]), Name: toks[3]}, nil
}

// Zerolog attaches the request's fields to the given log event.
// Intended to be given to *zerolog.Event.Func().
func (r Request) Zerolog(ev *zerolog.Event) {
	ev.Uint8("bit", uint8(r.Bit)).
		Str("command", string(r.Command)).
		Str("name", r.Name)
}
