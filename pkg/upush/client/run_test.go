package client

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/netip"
	"testing"
	"time"

	. "github.com/rflandau/upush/internal/testsupport"
	"github.com/rflandau/upush/pkg/upush/directory"
	"github.com/rflandau/upush/pkg/upush/transport"
)

// spins up a directory and returns a constructor for registered sessions on the same fabric, using real clocks.
func liveNetwork(t *testing.T) func(name string, addr netip.AddrPort, opts ...SessionOption) (*Session, *transport.Mem) {
	fab := transport.NewFabric()
	dirT, err := fab.Attach(serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	dir, err := directory.New(serverAddr, directory.WithTransport(dirT))
	if err != nil {
		t.Fatal(err)
	}
	if err := dir.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(dir.Stop)

	return func(name string, addr netip.AddrPort, opts ...SessionOption) (*Session, *transport.Mem) {
		t.Helper()
		m, err := fab.Attach(addr)
		if err != nil {
			t.Fatal(err)
		}
		s, err := New(name, serverAddr, m, append([]SessionOption{WithTimeout(100 * time.Millisecond)}, opts...)...)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Register(t.Context()); err != nil {
			t.Fatal(err)
		}
		return s, m
	}
}

func TestRun(t *testing.T) {
	spawn := liveNetwork(t)
	inbox := make(chan Message, 8)
	alice, _ := spawn(RandomName(), aliceAddr)
	bob, _ := spawn(RandomName(), bobAddr, WithMessageHandler(func(m Message) { inbox <- m }))

	aliceCmds, bobCmds := make(chan Command), make(chan Command)
	aliceErr, bobErr := make(chan error, 1), make(chan error, 1)
	go func() { aliceErr <- alice.Run(t.Context(), aliceCmds) }()
	go func() { bobErr <- bob.Run(t.Context(), bobCmds) }()

	for _, text := range []string{"hi", "how are you", "bye"} {
		aliceCmds <- Command{Kind: CmdSend, Peer: bob.Name(), Text: text}
	}
	for _, want := range []string{"hi", "how are you", "bye"} {
		select {
		case m := <-inbox:
			if m.From != alice.Name() || m.Text != want {
				t.Fatal(ExpectedActual(want, m.Text))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%q never arrived", want)
		}
	}

	aliceCmds <- Command{Kind: CmdQuit}
	close(bobCmds)
	for _, ch := range []chan error{aliceErr, bobErr} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(time.Second):
			t.Fatal("Run did not return")
		}
	}
}

func TestRunLossy(t *testing.T) {
	spawn := liveNetwork(t)
	var (
		inbox = make(chan Message, 16)
		fails = make(chan DeliveryFailure, 16)
	)
	alice, aT := spawn(RandomName(), aliceAddr, WithFailureHandler(func(f DeliveryFailure) { fails <- f }))
	bob, bT := spawn(RandomName(), bobAddr, WithMessageHandler(func(m Message) { inbox <- m }), WithDuplicateSuppression())

	// resolve bob before losses can get in the way of the lookup
	if _, err := alice.Lookup(t.Context(), bob.Name()); err != nil {
		t.Fatal(err)
	}
	// then drop a fifth of everything either of them sends
	for _, s := range []struct {
		sess *Session
		t    transport.Transport
		seed uint64
	}{{alice, aT, 1}, {bob, bT, 2}} {
		l, err := transport.NewLossy(s.t, 20, transport.WithRand(rand.New(rand.NewPCG(s.seed, s.seed))))
		if err != nil {
			t.Fatal(err)
		}
		s.sess.t = l
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	aliceCmds := make(chan Command, 8)
	go alice.Run(ctx, aliceCmds)
	go bob.Run(ctx, nil)

	texts := []string{"a", "b", "c", "d", "e", "f"}
	for _, text := range texts {
		aliceCmds <- Command{Kind: CmdSend, Peer: bob.Name(), Text: text}
	}
	for _, want := range texts {
		select {
		case m := <-inbox:
			if m.Text != want {
				t.Fatal("messages duplicated or out of order", ExpectedActual(want, m.Text))
			}
		case f := <-fails:
			t.Skipf("%q was lost past the retry budget: %v", f.Text, f.Err)
		case <-time.After(5 * time.Second):
			t.Fatalf("%q never arrived", want)
		}
	}
}

func TestRunTransportDeath(t *testing.T) {
	spawn := liveNetwork(t)
	alice, aT := spawn(RandomName(), aliceAddr)
	errCh := make(chan error, 1)
	go func() { errCh <- alice.Run(t.Context(), nil) }()
	time.Sleep(10 * time.Millisecond)
	aT.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, transport.ErrClosed) {
			t.Fatal(ExpectedActual(transport.ErrClosed, err))
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunFatalLookup(t *testing.T) {
	fab := transport.NewFabric()
	m, _ := fab.Attach(aliceAddr)
	s, err := New("alice", serverAddr, m, WithTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	cmds := make(chan Command, 1)
	cmds <- Command{Kind: CmdSend, Peer: "bob", Text: "anyone?"}
	if err := s.Run(t.Context(), cmds); !errors.Is(err, ErrNoServerResponse) {
		t.Fatal(ExpectedActual(ErrNoServerResponse, err))
	}
}
