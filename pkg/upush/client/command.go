package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/rflandau/upush/pkg/upush"
	"github.com/rflandau/upush/pkg/upush/protocol"
)

// CommandKind enumerates the things a local user can ask of a session.
type CommandKind uint8

const (
	CmdSend CommandKind = iota
	CmdBlock
	CmdUnblock
	CmdQuit
)

// Command is a single instruction from the local user.
type Command struct {
	Kind CommandKind
	Peer string // unset for CmdQuit
	Text string // only set for CmdSend
}

func (c Command) String() string {
	switch c.Kind {
	case CmdSend:
		return "@" + c.Peer + " " + c.Text
	case CmdBlock:
		return "BLOCK " + c.Peer
	case CmdUnblock:
		return "UNBLOCK " + c.Peer
	case CmdQuit:
		return "QUIT"
	}
	return fmt.Sprintf("unknown command (%d)", c.Kind)
}

// ParseCommand reads one line of user input:
//
//	@<nick> <text>
//	BLOCK <nick>
//	UNBLOCK <nick>
//	QUIT
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "QUIT" {
		return Command{Kind: CmdQuit}, nil
	}

	if rest, ok := strings.CutPrefix(line, "@"); ok {
		nick, text, found := strings.Cut(rest, " ")
		if !found || text == "" {
			return Command{}, fmt.Errorf("%w: expected @<nick> <message>", ErrBadCommand)
		} else if err := protocol.ValidateName(nick); err != nil {
			return Command{}, err
		}
		return Command{Kind: CmdSend, Peer: nick, Text: text}, nil
	}

	verb, nick, found := strings.Cut(line, " ")
	var kind CommandKind
	switch verb {
	case "BLOCK":
		kind = CmdBlock
	case "UNBLOCK":
		kind = CmdUnblock
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, verb)
	}
	if !found {
		return Command{}, fmt.Errorf("%w: expected %s <nick>", ErrBadCommand, verb)
	} else if err := protocol.ValidateName(nick); err != nil {
		return Command{}, err
	}
	return Command{Kind: kind, Peer: nick}, nil
}

// Exec carries out a single command.
// CmdQuit returns ErrQuit.
func (s *Session) Exec(ctx context.Context, c Command) error {
	if ctx == nil {
		return upush.ErrNilCtx
	}
	switch c.Kind {
	case CmdSend:
		return s.Send(ctx, c.Peer, c.Text)
	case CmdBlock:
		return s.Block(c.Peer)
	case CmdUnblock:
		return s.Unblock(c.Peer)
	case CmdQuit:
		return ErrQuit
	}
	return fmt.Errorf("%w: %v", ErrBadCommand, c)
}

// Block stops messages from name from being surfaced and refuses to send to it.
// Any record for name is destroyed, and its queued messages are reported as failed with ErrBlocked.
func (s *Session) Block(name string) error {
	if err := protocol.ValidateName(name); err != nil {
		return err
	}
	if !s.blocked.Add(name) {
		return ErrAlreadyBlocked
	}
	if p, found := s.lookupPeer(name); found {
		s.evict(p, ErrBlocked)
	}
	s.log.Info().Str("peer", name).Msg("blocked")
	return nil
}

// Unblock reverses Block.
func (s *Session) Unblock(name string) error {
	if err := protocol.ValidateName(name); err != nil {
		return err
	}
	if !s.blocked.Contains(name) {
		return ErrNotBlocked
	}
	s.blocked.Remove(name)
	s.log.Info().Str("peer", name).Msg("unblocked")
	return nil
}
