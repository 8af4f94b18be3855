package client

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/seq"
)

// a message waiting for (or awaiting acknowledgement of) transmission
type pending struct {
	frame    []byte // rendered data frame, bit included
	bit      protocol.Bit
	text     string
	attempts uint8     // transmissions so far; 0 until the message reaches the head of its queue
	lastSent time.Time // zero until first transmitted
}

// a remote peer we have resolved or heard from
type peer struct {
	name string
	addr netip.AddrPort
	next seq.Channel           // bit for the next message created
	ack  seq.Channel           // bit the in-flight message expects back
	q    *linkedlistqueue.Queue // *pending, head is the only one ever transmitted

	// last bit surfaced from this peer; only consulted with duplicate suppression
	lastIn   protocol.Bit
	heardYet bool
}

// head returns the message at the front of the queue, if any.
func (p *peer) head() (*pending, bool) {
	v, ok := p.q.Peek()
	if !ok {
		return nil, false
	}
	m, ok := v.(*pending)
	if !ok {
		panic(fmt.Sprintf("failed to cast queued message (%v)", v))
	}
	return m, true
}

// inFlight returns the head if it has been transmitted and awaits an ack.
func (p *peer) inFlight() (*pending, bool) {
	m, ok := p.head()
	if !ok || m.attempts == 0 {
		return nil, false
	}
	return m, true
}

// drain empties the queue, returning the texts that were still waiting.
func (p *peer) drain() []string {
	texts := make([]string, 0, p.q.Size())
	for _, v := range p.q.Values() {
		if m, ok := v.(*pending); ok {
			texts = append(texts, m.text)
		}
	}
	p.q.Clear()
	return texts
}

// lookupPeer fetches the record for name.
func (s *Session) lookupPeer(name string) (*peer, bool) {
	v, found := s.peers.Get(name)
	if !found {
		return nil, false
	}
	p, ok := v.(*peer)
	if !ok {
		panic(fmt.Sprintf("failed to cast peer record (%v)", v))
	}
	return p, true
}

// upsertPeer creates a record for name at addr, or moves an existing record to addr in place.
// Sequence state and queued messages survive an address change.
func (s *Session) upsertPeer(name string, addr netip.AddrPort) *peer {
	if p, found := s.lookupPeer(name); found {
		if p.addr != addr {
			s.log.Info().Str("peer", name).Str("old address", p.addr.String()).Str("new address", addr.String()).Msg("peer moved")
			p.addr = addr
		}
		return p
	}
	p := &peer{name: name, addr: addr, q: linkedlistqueue.New()}
	s.peers.Put(name, p)
	s.log.Debug().Str("peer", name).Str("address", addr.String()).Msg("peer record created")
	return p
}

// peerByAddr returns the record an ack from addr belongs to.
// If several names share the address, the one with a message in flight wins.
func (s *Session) peerByAddr(addr netip.AddrPort) (*peer, bool) {
	var fallback *peer
	it := s.peers.Iterator()
	for it.Next() {
		p, ok := it.Value().(*peer)
		if !ok || p.addr != addr {
			continue
		}
		if _, busy := p.inFlight(); busy {
			return p, true
		}
		if fallback == nil {
			fallback = p
		}
	}
	return fallback, fallback != nil
}

// peerNames returns the name of every known peer in the order they were first seen.
func (s *Session) peerNames() []string {
	keys := s.peers.Keys()
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if n, ok := k.(string); ok {
			names = append(names, n)
		}
	}
	return names
}

// evict destroys the record for p, reporting each message still queued to it as failed with the given cause.
func (s *Session) evict(p *peer, cause error) {
	s.peers.Remove(p.name)
	texts := p.drain()
	s.log.Warn().Err(cause).Str("peer", p.name).Int("dropped messages", len(texts)).Msg("peer evicted")
	for _, text := range texts {
		s.onFailure(DeliveryFailure{Peer: p.name, Text: text, Err: cause})
	}
}
