package seq_test

import (
	"errors"
	"testing"

	. "github.com/rflandau/upush/internal/testsupport"
	"github.com/rflandau/upush/pkg/upush/protocol"
	"github.com/rflandau/upush/pkg/upush/seq"
)

// The n-th bit assigned on a channel must equal n mod 2.
func TestChannel_AssignAlternates(t *testing.T) {
	var c seq.Channel
	for n := range 9 {
		if got := c.Assign(); got != protocol.Bit(n%2) {
			t.Fatalf("assignment %d: %s", n, ExpectedActual(protocol.Bit(n%2), got))
		}
	}
}

func TestChannel_MatchesDoesNotFlip(t *testing.T) {
	var c seq.Channel
	for range 3 {
		if !c.Matches(0) {
			t.Fatal("fresh channel should expect 0")
		} else if c.Matches(1) {
			t.Fatal("fresh channel should not expect 1")
		}
	}
	if err := c.Verify(1); !errors.Is(err, seq.ErrStaleBit) {
		t.Fatal(ExpectedActual(seq.ErrStaleBit, err))
	}
	c.Flip()
	if err := c.Verify(1); err != nil {
		t.Fatal(err)
	}
	if c.Peek() != 1 {
		t.Fatal(ExpectedActual[protocol.Bit](1, c.Peek()))
	}
	// digits other than 0 and 1 never match
	if c.Matches(3) {
		t.Fatal("bit 3 should never match")
	}
}
