package protocol

import (
	"strings"

	"github.com/rs/zerolog"
)

// field markers of a Data frame
const (
	tokenFrom = "FROM"
	tokenTo   = "TO"
	tokenMsg  = "MSG"
)

// Data is a text message sent directly from one peer to another.
type Data struct {
	Bit  Bit
	From string
	To   string
	// Everything after the MSG marker. May contain spaces.
	Text string
}

// Serialize returns the message as wire bytes.
// Fails if either name is invalid, the text is empty, or the result does not fit in one packet.
func (d Data) Serialize() ([]byte, error) {
	if err := ValidateName(d.From); err != nil {
		return nil, err
	} else if err := ValidateName(d.To); err != nil {
		return nil, err
	} else if d.Text == "" {
		return nil, ErrEmptyText
	} else if !d.Bit.Valid() {
		return nil, ErrBadBit
	}
	var sb strings.Builder
	sb.Grow(len(tokenPacket) + len(tokenFrom) + len(tokenTo) + len(tokenMsg) + len(d.From) + len(d.To) + len(d.Text) + 8)
	sb.WriteString(tokenPacket + " ")
	sb.WriteString(d.Bit.String())
	sb.WriteString(" " + tokenFrom + " ")
	sb.WriteString(d.From)
	sb.WriteString(" " + tokenTo + " ")
	sb.WriteString(d.To)
	sb.WriteString(" " + tokenMsg + " ")
	sb.WriteString(d.Text)
	return fits([]byte(sb.String()))
}

// DeserializeData parses a data frame.
// All of PKT, bit, FROM, name, TO, name, MSG, and text must be present and in order.
func DeserializeData(raw []byte) (Data, error) {
	// the text is the remainder, so it keeps its own spaces
	toks := strings.SplitN(clean(raw), " ", 8)
	if len(toks) != 8 {
		return Data{}, malformed("expected 8 fields, found %d", len(toks))
	}
	if toks[0] != tokenPacket {
		return Data{}, malformed("expected %s, found %q", tokenPacket, toks[0])
	}
	bit, err := ParseBit(toks[1])
	if err != nil {
		return Data{}, malformed("%v", err)
	}
	for i, want := range map[int]string{2: tokenFrom, 4: tokenTo, 6: tokenMsg} {
		if toks[i] != want {
			return Data{}, malformed("expected %s, found %q", want, toks[i])
		}
	}
	if err := ValidateName(toks[3]); err != nil {
		return Data{}, malformed("sender: %v", err)
	} else if err := ValidateName(toks[5]); err != nil {
		return Data{}, malformed("recipient: %v", err)
	} else if toks[7] == "" {
		return Data{}, malformed("%v", ErrEmptyText)
	}
	return Data{Bit: bit, From: toks[3], To: toks[5], Text: toks[7]}, nil
}

// Zerolog attaches the message's fields (but not its text) to the given log event.
// Intended to be given to *zerolog.Event.Func().
func (d Data) Zerolog(ev *zerolog.Event) {
	ev.Uint8("bit", uint8(d.Bit)).
		Str("from", d.From).
		Str("to", d.To).
		Int("text length", len(d.Text))
}
