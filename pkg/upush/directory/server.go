// Package directory implements the UPush directory server: the rendezvous point that maps nicknames to the address a peer last registered from.
// A server can be spun up with New and driven with Start/Stop or Serve.
//
// Registrations go stale when a peer stops refreshing them.
// Staleness is judged lazily, when a lookup touches the entry, so the server never runs a timer of its own.
package directory

import (
	"context"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/rflandau/upush/pkg/upush"
	"github.com/rflandau/upush/pkg/upush/directory/expiring"
	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/transport"
	"github.com/rs/zerolog"
)

// A Server answers REG and LOOKUP requests from UPush peers.
type Server struct {
	log  *zerolog.Logger
	addr netip.AddrPort
	net  struct {
		accepting atomic.Bool
		given     transport.Transport // supplied by WithTransport; not ours to close
		t         transport.Transport // the transport we are currently answering on
		cancel    context.CancelFunc
		done      chan struct{} // closed when dispatch returns
		err       error         // why dispatch returned; only read after done is closed
	}

	lossPercent uint8
	staleAfter  time.Duration
	now         func() time.Time

	registry *expiring.Table[string, netip.AddrPort]
}

// An Entry is a point-in-time view of a single registration.
type Entry struct {
	Name        string
	Addr        netip.AddrPort // source address of the latest REG
	LastRefresh time.Time
	Stale       bool // will be evicted by the next lookup
}

// New generates a new directory server, optionally modified with opts.
// The returned server is ready for use as soon as it is .Start()'d.
func New(addr netip.AddrPort, opts ...ServerOption) (*Server, error) {
	if !addr.IsValid() {
		return nil, ErrBadAddr(addr)
	}

	s := &Server{
		addr:       addr,
		staleAfter: upush.DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}).With().
			Str("role", "directory").
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		s.log = &l
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.registry = expiring.New[string, netip.AddrPort](s.staleAfter, s.now)

	s.log.Debug().Func(s.Zerolog).Msg("directory created")
	return s, nil
}

//#region getters

// Address returns the address the server is answering on.
// Before Start, this is the address it was configured with.
func (s *Server) Address() netip.AddrPort {
	if s.net.accepting.Load() && s.net.t != nil {
		return s.net.t.LocalAddr()
	}
	return s.addr
}

// StaleAfter returns how long an entry survives without a refresh.
func (s *Server) StaleAfter() time.Duration {
	return s.staleAfter
}

//#endregion getters

//#region registry

// Register upserts the given name, stamping it with the current time.
// Re-registering moves a name to its new address.
func (s *Server) Register(name string, addr netip.AddrPort) error {
	if err := protocol.ValidateName(name); err != nil {
		return err
	} else if !addr.IsValid() {
		return ErrBadAddr(addr)
	}
	s.registry.Store(name, addr)
	return nil
}

// Lookup returns the address registered under name.
// A stale entry is evicted and reported as not found.
func (s *Server) Lookup(name string) (netip.AddrPort, bool) {
	return s.registry.Load(name)
}

// Entry returns the registration for name without evicting it, even if it is stale.
func (s *Server) Entry(name string) (Entry, bool) {
	addr, refreshed, stale, found := s.registry.Peek(name)
	if !found {
		return Entry{}, false
	}
	return Entry{Name: name, Addr: addr, LastRefresh: refreshed, Stale: stale}, true
}

// Entries returns every registration in the order the names were first registered.
// Stale entries are included and flagged.
func (s *Server) Entries() []Entry {
	out := make([]Entry, 0, s.registry.Len())
	s.registry.Range(func(name string, addr netip.AddrPort, refreshed time.Time, stale bool) bool {
		out = append(out, Entry{Name: name, Addr: addr, LastRefresh: refreshed, Stale: stale})
		return true
	})
	return out
}

//#endregion registry

// Start causes the server to begin listening.
// Ineffectual if already listening.
func (s *Server) Start() error {
	if swapped := s.net.accepting.CompareAndSwap(false, true); !swapped {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	var t transport.Transport = s.net.given
	if t == nil {
		u, err := transport.Listen(ctx, s.addr, transport.WithUDPLogger(s.log))
		if err != nil {
			cancel()
			s.net.accepting.Store(false)
			return err
		}
		t = u
	}
	if s.lossPercent > 0 {
		l, err := transport.NewLossy(t, s.lossPercent, transport.WithLossyLogger(s.log))
		if err != nil {
			if s.net.given == nil {
				t.Close()
			}
			cancel()
			s.net.accepting.Store(false)
			return err
		}
		t = l
	}

	s.net.t = t
	s.net.cancel = cancel
	s.net.err = nil
	s.net.done = make(chan struct{})

	s.log.Info().Str("local address", t.LocalAddr().String()).Msg("accepting requests")
	go s.dispatch(ctx, t, s.net.done)
	return nil
}

// dispatch handles incoming datagrams one at a time.
// Spun up by .Start(), shuttered by .Stop() or by the death of the transport.
func (s *Server) dispatch(ctx context.Context, t transport.Transport, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-t.Inbound():
			if !ok {
				s.net.err = t.Err()
				if s.net.err == nil {
					s.net.err = transport.ErrClosed
				}
				s.log.Error().Err(s.net.err).Msg("transport died, no longer answering")
				return
			}
			if err := s.handle(t, d); err != nil {
				s.net.err = err
				s.log.Error().Err(err).Msg("failed to answer, no longer answering")
				return
			}
		}
	}
}

// Stop causes the server to stop answering requests.
// Ineffectual if not listening.
func (s *Server) Stop() {
	if !s.net.accepting.CompareAndSwap(true, false) {
		return
	}

	s.log.Info().Msg("initializing graceful shutdown")
	s.net.cancel()
	var closeErr error
	if s.net.given == nil {
		closeErr = s.net.t.Close()
	}
	<-s.net.done
	s.log.Info().AnErr("transport close error", closeErr).Msg("completed graceful shutdown")
}

// Serve starts the server and blocks until ctx is cancelled or the transport fails.
// Returns nil on cancellation and the transport error otherwise.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		return upush.ErrNilCtx
	}
	if err := s.Start(); err != nil {
		return err
	}
	done := s.net.done
	defer s.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return s.net.err
	}
}

// Zerolog pretty prints the state of the server into the given zerolog event.
// Intended to be given to *zerolog.Event.Func().
func (s *Server) Zerolog(e *zerolog.Event) {
	e.Str("address", s.Address().String()).
		Bool("accepting", s.net.accepting.Load()).
		Dur("stale after", s.staleAfter).
		Int("entries", s.registry.Len())
}
