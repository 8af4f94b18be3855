package transport

import (
	"errors"
	"net/netip"
	"slices"
	"sync"
)

var ErrAddrInUse = errors.New("address already attached to the fabric")

// A Fabric is an in-process datagram network.
// Endpoints attach to it under an address and exchange datagrams with UDP semantics: sends to unknown addresses vanish, and a full receiver drops.
// The zero value is not usable; call NewFabric.
type Fabric struct {
	mu     sync.Mutex
	conns  map[netip.AddrPort]*Mem
	filter func(from, to netip.AddrPort, payload []byte) (deliver bool)
}

// NewFabric returns an empty fabric.
func NewFabric() *Fabric {
	return &Fabric{conns: make(map[netip.AddrPort]*Mem)}
}

// Attach returns a new endpoint bound to addr.
func (f *Fabric) Attach(addr netip.AddrPort) (*Mem, error) {
	addr = normalize(addr)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, found := f.conns[addr]; found {
		return nil, ErrAddrInUse
	}
	m := &Mem{f: f, addr: addr, in: make(chan Datagram, inboundBacklog)}
	f.conns[addr] = m
	return m, nil
}

// SetFilter installs a function consulted for every datagram on the fabric.
// Returning false drops the datagram. Pass nil to deliver everything.
func (f *Fabric) SetFilter(fn func(from, to netip.AddrPort, payload []byte) (deliver bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = fn
}

// Mem is a Transport attached to a Fabric.
type Mem struct {
	f    *Fabric
	addr netip.AddrPort
	in   chan Datagram

	// guarded by f.mu
	closed bool
	sent   [][]byte
}

// Send delivers a copy of payload to the endpoint attached at to, if there is one.
func (m *Mem) Send(payload []byte, to netip.AddrPort) error {
	to = normalize(to)
	cp := slices.Clone(payload)
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sent = append(m.sent, cp)
	if m.f.filter != nil && !m.f.filter(m.addr, to, cp) {
		return nil
	}
	dst, found := m.f.conns[to]
	if !found {
		return nil
	}
	select {
	case dst.in <- Datagram{Payload: cp, Source: m.addr}:
	default:
	}
	return nil
}

// Sent returns every payload this endpoint has sent, including ones the fabric dropped.
func (m *Mem) Sent() [][]byte {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	return slices.Clone(m.sent)
}

func (m *Mem) Inbound() <-chan Datagram {
	return m.in
}

// Err always returns nil; memory endpoints only die by Close.
func (m *Mem) Err() error {
	return nil
}

func (m *Mem) LocalAddr() netip.AddrPort {
	return m.addr
}

// Close detaches the endpoint from the fabric.
// Ineffectual if already closed.
func (m *Mem) Close() error {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	delete(m.f.conns, m.addr)
	close(m.in)
	return nil
}
