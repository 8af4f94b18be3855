// Package testsupport is an internal-only package that provides utilities for testing uniformity.
package testsupport

import (
	"fmt"
	"math"
	"math/rand/v2"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/rflandau/upush/pkg/upush/protocol"
)

// ExpectedActual returns a newline-prefixed string comparing the expected result to the actual result.
// Should be used to add clarity to unit test error messages.
func ExpectedActual[T any](expected, actual T) string {
	return fmt.Sprintf("\n\tExpected: '%v'\n\tActual: '%v'", expected, actual)
}

var (
	usedPorts   = make(map[uint16]bool)
	usedPortsMu sync.Mutex
)

// RandomLocalhostAddrPort returns a random addrport pointing to a randomly selected port >= 1024 on 127.0.0.1.
// Maintains a map of ports that it has given out to ensure no duplicates.
// Not a perfect solution, but it is just to support testing so ¯\_(ツ)_/¯
func RandomLocalhostAddrPort() netip.AddrPort {
	usedPortsMu.Lock()
	defer usedPortsMu.Unlock()
	var port uint16
	for {
		port = uint16(1024 + rand.Uint32N(math.MaxUint16-1024))
		if !usedPorts[port] {
			usedPorts[port] = true
			break
		}
	}

	return netip.MustParseAddrPort("127.0.0.1:" + strconv.FormatUint(uint64(port), 10))
}

var (
	usedNames   = make(map[string]bool)
	usedNamesMu sync.Mutex
)

// RandomName returns a random, never-before-returned name that is valid as a peer name.
func RandomName() string {
	usedNamesMu.Lock()
	defer usedNamesMu.Unlock()
	for {
		name := strings.ReplaceAll(randomdata.FirstName(randomdata.RandomGender), " ", "")
		if len(name) > protocol.MaxNameLen-3 {
			name = name[:protocol.MaxNameLen-3]
		}
		name += strconv.Itoa(randomdata.Number(100, 999))
		if protocol.ValidateName(name) == nil && !usedNames[name] {
			usedNames[name] = true
			return name
		}
	}
}

// Clock is a manually advanced time source.
// Pass its Now method wherever a component accepts a clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at an arbitrary, fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Unix(1700000000, 0)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
