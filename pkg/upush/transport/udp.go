package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rflandau/upush/pkg/upush"
	"github.com/rs/zerolog"
)

// inboundBacklog is how many received datagrams may wait for the owning loop before the reader starts dropping them.
const inboundBacklog = 64

// UDP is a Transport over a single UDP socket.
// A reader goroutine slurps packets off the socket and forwards them to Inbound; everything else happens on the caller's goroutine.
type UDP struct {
	log   *zerolog.Logger
	pconn net.PacketConn
	addr  netip.AddrPort
	in    chan Datagram

	closed  atomic.Bool
	errMu   sync.Mutex
	err     error
	readerD chan struct{} // closed when the reader returns
}

// UDPOption function to set various options on a UDP transport.
type UDPOption func(*UDP)

// WithUDPLogger replaces the transport's default logger with the given logger.
func WithUDPLogger(l *zerolog.Logger) UDPOption {
	return func(u *UDP) {
		u.log = l
	}
}

// Listen binds a UDP socket to addr and begins forwarding received datagrams.
// Pass port 0 for an ephemeral port; LocalAddr reports the bound address.
func Listen(ctx context.Context, addr netip.AddrPort, opts ...UDPOption) (*UDP, error) {
	if ctx == nil {
		return nil, upush.ErrNilCtx
	} else if !addr.IsValid() {
		return nil, fmt.Errorf("address %v is not a valid ip:port", addr)
	}
	u := &UDP{
		in:      make(chan Datagram, inboundBacklog),
		readerD: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}).With().
			Str("transport", "udp").
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		u.log = &l
	}

	pconn, err := (&net.ListenConfig{}).ListenPacket(ctx, "udp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	u.pconn = pconn
	if ua, ok := pconn.LocalAddr().(*net.UDPAddr); ok {
		u.addr = normalize(ua.AddrPort())
	} else {
		u.addr = addr
	}

	u.log.Info().Str("local address", u.addr.String()).Msg("accepting incoming packets")
	go u.read()
	return u, nil
}

// read handles incoming UDP packets and forwards each to the inbound channel.
// Returns (and closes the channel) when the socket fails or is closed.
func (u *UDP) read() {
	defer close(u.readerD)
	defer close(u.in)
	for {
		var pktbuf = make([]byte, upush.MaxPacketSize)
		rxN, senderAddr, err := u.pconn.ReadFrom(pktbuf)
		if err != nil {
			if u.closed.Load() || errors.Is(err, net.ErrClosed) {
				u.log.Debug().Msg("socket closed, reader returning...")
				return
			}
			u.log.Warn().Err(err).Msg("packet read error, returning...")
			u.setErr(fmt.Errorf("%w: %w", ErrTransport, err))
			return
		} else if rxN == 0 {
			u.log.Debug().Msg("zero byte message received")
			continue
		} else if rxN >= int(upush.MaxPacketSize) {
			// filled the buffer, so the datagram was likely cut short
			u.log.Warn().Str("sender address", senderAddr.String()).Msg("oversized datagram, dropping packet")
			continue
		}
		ua, ok := senderAddr.(*net.UDPAddr)
		if !ok {
			u.log.Warn().Str("sender address", senderAddr.String()).Msg("non-UDP sender address, dropping packet")
			continue
		}
		d := Datagram{Payload: pktbuf[:rxN], Source: normalize(ua.AddrPort())}
		u.log.Debug().Str("sender address", d.Source.String()).Int("message size (bytes)", rxN).Msg("packet received")
		select {
		case u.in <- d:
		default:
			u.log.Warn().Str("sender address", d.Source.String()).Msg("inbound backlog full, dropping packet")
		}
	}
}

// Send writes payload to the given address.
func (u *UDP) Send(payload []byte, to netip.AddrPort) error {
	if u.closed.Load() {
		return ErrClosed
	} else if !to.IsValid() {
		return fmt.Errorf("address %v is not a valid ip:port", to)
	}
	n, err := u.pconn.WriteTo(payload, net.UDPAddrFromAddrPort(to))
	if err != nil {
		u.log.Warn().Err(err).Str("target address", to.String()).Msg("failed to send")
		return fmt.Errorf("%w: %w", ErrTransport, err)
	} else if n != len(payload) {
		u.log.Warn().
			Int("total bytes written", n).
			Int("payload length (Bytes)", len(payload)).
			Msg("bytes written does not equal payload length")
		return fmt.Errorf("%w: short write (%d/%dB)", ErrTransport, n, len(payload))
	}
	return nil
}

func (u *UDP) Inbound() <-chan Datagram {
	return u.in
}

func (u *UDP) Err() error {
	u.errMu.Lock()
	defer u.errMu.Unlock()
	return u.err
}

func (u *UDP) setErr(err error) {
	u.errMu.Lock()
	defer u.errMu.Unlock()
	u.err = err
}

func (u *UDP) LocalAddr() netip.AddrPort {
	return u.addr
}

// Close shuts the socket and waits for the reader to return.
// Ineffectual if already closed.
func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := u.pconn.Close()
	<-u.readerD
	u.log.Info().AnErr("conn close error", err).Str("local address", u.addr.String()).Msg("closed")
	return err
}
