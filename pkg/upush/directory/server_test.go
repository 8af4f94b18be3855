package directory_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	. "github.com/rflandau/upush/internal/testsupport"
	"github.com/rflandau/upush/pkg/upush/directory"
	"github.com/rflandau/upush/pkg/upush/transport"
)

var (
	serverAddr = netip.MustParseAddrPort("10.0.0.1:2000")
	aliceAddr  = netip.MustParseAddrPort("10.0.0.2:5000")
	bobAddr    = netip.MustParseAddrPort("10.0.0.3:5001")
)

// spawns a server on a fresh fabric along with two peers that can talk to it.
func setup(t *testing.T, opts ...directory.ServerOption) (s *directory.Server, alice, bob *transport.Mem) {
	t.Helper()
	fab := transport.NewFabric()
	srvT, err := fab.Attach(serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	if alice, err = fab.Attach(aliceAddr); err != nil {
		t.Fatal(err)
	}
	if bob, err = fab.Attach(bobAddr); err != nil {
		t.Fatal(err)
	}
	s, err = directory.New(serverAddr, append([]directory.ServerOption{directory.WithTransport(srvT)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s, alice, bob
}

// sends req from the given endpoint and returns the server's reply.
func exchange(t *testing.T, from *transport.Mem, req string) string {
	t.Helper()
	if err := from.Send([]byte(req), serverAddr); err != nil {
		t.Fatal(err)
	}
	d, err := transport.Receive(t.Context(), from, time.Second)
	if err != nil {
		t.Fatalf("no reply to %q: %v", req, err)
	} else if d.Source != serverAddr {
		t.Fatal(ExpectedActual(serverAddr, d.Source))
	}
	return string(d.Payload)
}

// the OK is sent before the upsert, so wait until the registry catches up.
func awaitEntry(t *testing.T, s *directory.Server, name string, addr netip.AddrPort) directory.Entry {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e, found := s.Entry(name); found && e.Addr == addr {
			return e
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("%s was never registered at %v", name, addr)
	return directory.Entry{}
}

func TestNew(t *testing.T) {
	if _, err := directory.New(netip.AddrPort{}); err == nil {
		t.Fatal("expected an error for an invalid address")
	}
	s, err := directory.New(serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	if s.Address() != serverAddr {
		t.Fatal(ExpectedActual(serverAddr, s.Address()))
	}
	if s.StaleAfter() != 30*time.Second {
		t.Fatal(ExpectedActual(30*time.Second, s.StaleAfter()))
	}
}

func TestRoundTrip(t *testing.T) {
	s, alice, bob := setup(t)

	if got := exchange(t, alice, "PKT 0 REG alice"); got != "ACK 0 OK" {
		t.Fatal(ExpectedActual("ACK 0 OK", got))
	}
	awaitEntry(t, s, "alice", aliceAddr)

	t.Run("lookup echoes the request bit", func(t *testing.T) {
		for _, tt := range []struct{ req, want string }{
			{"PKT 1 LOOKUP alice", "ACK 1 NICK alice IP 10.0.0.2 PORT 5000"},
			{"PKT 0 LOOKUP alice", "ACK 0 NICK alice IP 10.0.0.2 PORT 5000"},
			{"PKT 7 LOOKUP alice", "ACK 7 NICK alice IP 10.0.0.2 PORT 5000"},
			{"PKT 1 LOOKUP carol", "ACK 1 NOT FOUND"},
		} {
			if got := exchange(t, bob, tt.req); got != tt.want {
				t.Error(ExpectedActual(tt.want, got))
			}
		}
	})

	t.Run("any non-REG command is a lookup", func(t *testing.T) {
		want := "ACK 0 NICK alice IP 10.0.0.2 PORT 5000"
		if got := exchange(t, bob, "PKT 0 WHOIS alice"); got != want {
			t.Fatal(ExpectedActual(want, got))
		}
	})

	t.Run("re-registration moves the name", func(t *testing.T) {
		// bob claims alice's name from his own address
		if got := exchange(t, bob, "PKT 1 REG alice"); got != "ACK 1 OK" {
			t.Fatal(ExpectedActual("ACK 1 OK", got))
		}
		awaitEntry(t, s, "alice", bobAddr)
		want := "ACK 0 NICK alice IP 10.0.0.3 PORT 5001"
		if got := exchange(t, alice, "PKT 0 LOOKUP alice"); got != want {
			t.Fatal(ExpectedActual(want, got))
		}
	})
}

func TestStaleness(t *testing.T) {
	const staleAfter = 30 * time.Second
	clk := NewClock()
	s, alice, bob := setup(t, directory.WithClock(clk.Now), directory.WithStaleAfter(staleAfter))

	exchange(t, alice, "PKT 0 REG alice")
	awaitEntry(t, s, "alice", aliceAddr)

	clk.Advance(staleAfter)
	if got := exchange(t, bob, "PKT 0 LOOKUP alice"); got != "ACK 0 NICK alice IP 10.0.0.2 PORT 5000" {
		t.Fatal("entry went stale at exactly the threshold", got)
	}

	clk.Advance(time.Millisecond)
	if e, found := s.Entry("alice"); !found || !e.Stale {
		t.Fatal("stale entry should still be present (and flagged) until looked up")
	}
	if got := exchange(t, bob, "PKT 1 LOOKUP alice"); got != "ACK 1 NOT FOUND" {
		t.Fatal(ExpectedActual("ACK 1 NOT FOUND", got))
	}
	if _, found := s.Entry("alice"); found {
		t.Fatal("stale entry survived a lookup")
	}

	t.Run("heartbeat keeps the entry alive", func(t *testing.T) {
		exchange(t, alice, "PKT 1 REG alice")
		awaitEntry(t, s, "alice", aliceAddr)
		for range 5 {
			clk.Advance(staleAfter - time.Second)
			before := clk.Now()
			exchange(t, alice, "PKT 0 REG alice")
			deadline := time.Now().Add(time.Second)
			for {
				if e, _ := s.Entry("alice"); !e.LastRefresh.Before(before) {
					break
				} else if time.Now().After(deadline) {
					t.Fatal("registration was not refreshed")
				}
				time.Sleep(time.Millisecond)
			}
		}
		if got := exchange(t, bob, "PKT 0 LOOKUP alice"); got != "ACK 0 NICK alice IP 10.0.0.2 PORT 5000" {
			t.Fatal(got)
		}
	})
}

func TestMalformed(t *testing.T) {
	_, alice, _ := setup(t)

	for _, raw := range []string{
		"",
		"hello there",
		"PKT 0 REG",
		"PKT x REG alice",
		"PKT 0 REG alice extra",
		"ACK 0 OK",
		"PKT 0 REG this-name-is-far-too-long",
	} {
		if err := alice.Send([]byte(raw), serverAddr); err != nil {
			t.Fatal(err)
		}
	}
	if d, err := transport.Receive(t.Context(), alice, 20*time.Millisecond); !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("malformed request was answered with %q", d.Payload)
	}
	// still serving
	if got := exchange(t, alice, "PKT 1 REG alice"); got != "ACK 1 OK" {
		t.Fatal(ExpectedActual("ACK 1 OK", got))
	}
}

func TestEntries(t *testing.T) {
	clk := NewClock()
	s, _, _ := setup(t, directory.WithClock(clk.Now), directory.WithStaleAfter(10*time.Second))

	names := []string{RandomName(), RandomName(), RandomName()}
	for i, n := range names {
		if err := s.Register(n, netip.AddrPortFrom(netip.MustParseAddr("10.1.1.1"), uint16(6000+i))); err != nil {
			t.Fatal(err)
		}
		clk.Advance(5 * time.Second)
	}
	// first name is now 15s old, the others are 10s and 5s
	entries := s.Entries()
	if len(entries) != len(names) {
		t.Fatal(ExpectedActual(len(names), len(entries)))
	}
	for i, e := range entries {
		if e.Name != names[i] {
			t.Error("entries out of registration order", ExpectedActual(names[i], e.Name))
		}
		if want := i == 0; e.Stale != want {
			t.Errorf("%s: %v", e.Name, ExpectedActual(want, e.Stale))
		}
	}

	if err := s.Register("bad name", aliceAddr); err == nil {
		t.Fatal("registered a name containing a space")
	}
	if err := s.Register(RandomName(), netip.AddrPort{}); err == nil {
		t.Fatal("registered an invalid address")
	}
}

func TestServe(t *testing.T) {
	t.Run("cancellation", func(t *testing.T) {
		fab := transport.NewFabric()
		srvT, _ := fab.Attach(serverAddr)
		s, err := directory.New(serverAddr, directory.WithTransport(srvT))
		if err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(t.Context())
		errCh := make(chan error, 1)
		go func() { errCh <- s.Serve(ctx) }()
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(time.Second):
			t.Fatal("Serve did not return after cancellation")
		}
	})

	t.Run("transport death", func(t *testing.T) {
		fab := transport.NewFabric()
		srvT, _ := fab.Attach(serverAddr)
		s, err := directory.New(serverAddr, directory.WithTransport(srvT))
		if err != nil {
			t.Fatal(err)
		}
		errCh := make(chan error, 1)
		go func() { errCh <- s.Serve(t.Context()) }()
		time.Sleep(10 * time.Millisecond)
		srvT.Close()
		select {
		case err := <-errCh:
			if !errors.Is(err, transport.ErrClosed) {
				t.Fatal(ExpectedActual(transport.ErrClosed, err))
			}
		case <-time.After(time.Second):
			t.Fatal("Serve did not return after the transport closed")
		}
	})
}

func TestUDP(t *testing.T) {
	s, err := directory.New(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if s.Address().Port() == 0 {
		t.Fatal("expected the bound port to be reported")
	}

	peer, err := transport.Listen(t.Context(), netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()

	if err := peer.Send([]byte("PKT 0 REG udpeer"), s.Address()); err != nil {
		t.Fatal(err)
	}
	d, err := transport.Receive(t.Context(), peer, time.Second)
	if err != nil {
		t.Fatal(err)
	} else if string(d.Payload) != "ACK 0 OK" {
		t.Fatal(ExpectedActual("ACK 0 OK", string(d.Payload)))
	}
	e := awaitEntry(t, s, "udpeer", peer.LocalAddr())
	if e.Stale {
		t.Fatal("fresh entry flagged stale")
	}

	// restarting is a no-op while running
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
}
