package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"github.com/rflandau/upush/pkg/upush/client"
)

// lineReader is satisfied by *liner.State and by scannerReader for non-interactive input.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

type scannerReader struct {
	sc *bufio.Scanner
}

func (r scannerReader) Prompt(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (scannerReader) Close() error { return nil }

// newLineReader uses liner when stdin is a terminal and a plain scanner otherwise (pipes, files).
func newLineReader(in io.Reader) lineReader {
	if in == os.Stdin && liner.TerminalSupported() {
		l := liner.NewLiner()
		l.SetCtrlCAborts(true)
		return &historyReader{State: l}
	}
	return scannerReader{sc: bufio.NewScanner(in)}
}

// historyReader records every non-empty line so the arrow keys can recall earlier commands.
type historyReader struct {
	*liner.State
}

func (h *historyReader) Prompt(p string) (string, error) {
	line, err := h.State.Prompt(p)
	if err == nil && strings.TrimSpace(line) != "" {
		h.AppendHistory(line)
	}
	return line, err
}

// pump feeds parsed console lines to cmds until input ends or ctx is cancelled.
// End of input and Ctrl-C both close cmds, which ends the session as a QUIT would.
func pump(ctx context.Context, r lineReader, cmds chan<- client.Command, onErr func(line string, err error)) {
	defer close(cmds)
	for {
		line, err := r.Prompt("")
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				onErr(line, err)
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		c, err := client.ParseCommand(line)
		if err != nil {
			onErr(line, err)
			continue
		}
		select {
		case cmds <- c:
		case <-ctx.Done():
			return
		}
		if c.Kind == client.CmdQuit {
			return
		}
	}
}

// printer renders session events for a human at the console.
type printer struct {
	out                  io.Writer
	nick, warn, critical func(format string, a ...interface{}) string
}

func newPrinter(out io.Writer, noColor bool) printer {
	colors := []*color.Color{color.New(color.FgCyan, color.Bold), color.New(color.FgYellow), color.New(color.FgHiRed)}
	for _, c := range colors {
		if noColor {
			c.DisableColor()
		}
	}
	return printer{
		out:      out,
		nick:     colors[0].SprintfFunc(),
		warn:     colors[1].SprintfFunc(),
		critical: colors[2].SprintfFunc(),
	}
}

func (p printer) message(m client.Message) {
	fmt.Fprintf(p.out, "%s: %s\n", p.nick("%s", m.From), m.Text)
}

func (p printer) failure(f client.DeliveryFailure) {
	switch {
	case errors.Is(f.Err, client.ErrNameNotRegistered):
		fmt.Fprintln(p.out, p.critical("NICK %s NOT REGISTERED", f.Peer))
	case errors.Is(f.Err, client.ErrBlocked):
		fmt.Fprintln(p.out, p.warn("dropped message to blocked %s: %q", f.Peer, f.Text))
	default:
		fmt.Fprintln(p.out, p.critical("NICK %s UNREACHABLE", f.Peer))
	}
}

func (p printer) commandError(c client.Command, err error) {
	if errors.Is(err, client.ErrNameNotRegistered) {
		fmt.Fprintln(p.out, p.critical("NICK %s NOT REGISTERED", c.Peer))
		return
	}
	fmt.Fprintln(p.out, p.warn("%v: %v", c, err))
}

func (p printer) inputError(line string, err error) {
	fmt.Fprintln(p.out, p.warn("ignoring %q: %v", line, err))
}
