package expiring_test

import (
	"slices"
	"testing"
	"time"

	. "github.com/rflandau/upush/internal/testsupport"
	"github.com/rflandau/upush/pkg/upush/directory/expiring"
)

func TestTable(t *testing.T) {
	const ttl = 30 * time.Second

	t.Run("lazy eviction on load", func(t *testing.T) {
		clk := NewClock()
		tbl := expiring.New[string, int](ttl, clk.Now)

		tbl.Store("Cipher Pata", 1)
		clk.Advance(ttl)
		// exactly ttl is not yet stale
		checkLoad(t, tbl, "Cipher Pata", true, 1)

		clk.Advance(time.Millisecond)
		// still present until somebody looks
		if tbl.Len() != 1 {
			t.Fatal("stale element was evicted without a lookup", ExpectedActual(1, tbl.Len()))
		}
		checkLoad(t, tbl, "Cipher Pata", false, 0)
		if tbl.Len() != 0 {
			t.Fatal("stale element survived a lookup", ExpectedActual(0, tbl.Len()))
		}
	})

	t.Run("store refreshes", func(t *testing.T) {
		clk := NewClock()
		tbl := expiring.New[string, string](ttl, clk.Now)

		tbl.Store("Godslayer's Seal", "a")
		clk.Advance(ttl - time.Second)
		tbl.Store("Godslayer's Seal", "b")
		clk.Advance(ttl - time.Second)
		checkLoad(t, tbl, "Godslayer's Seal", true, "b")
	})

	t.Run("peek does not evict", func(t *testing.T) {
		clk := NewClock()
		tbl := expiring.New[string, bool](ttl, clk.Now)

		tbl.Store("O, Flame!", true)
		stamp := clk.Now()
		clk.Advance(2 * ttl)
		v, refreshed, stale, found := tbl.Peek("O, Flame!")
		if !found || !v {
			t.Fatal("peek did not find the element")
		} else if !stale {
			t.Fatal("element should be flagged stale")
		} else if !refreshed.Equal(stamp) {
			t.Fatal(ExpectedActual(stamp, refreshed))
		}
		if tbl.Len() != 1 {
			t.Fatal("peek evicted an element", ExpectedActual(1, tbl.Len()))
		}
		if _, _, _, found := tbl.Peek("Antspur Rapier"); found {
			t.Fatal("found an element that was never stored")
		}
	})

	t.Run("delete", func(t *testing.T) {
		tbl := expiring.New[string, string](ttl, nil)
		key, val := "Comet Azur", "Azur Staff"
		tbl.Store(key, val)
		if !tbl.Delete(key) {
			t.Fatalf("failed to delete key='%v': not found", key)
		}
		checkLoad(t, tbl, key, false, "")
		if tbl.Delete("Aomet Czur") {
			t.Fatal("successfully deleted non-existent key")
		}
	})

	t.Run("range keeps insertion order", func(t *testing.T) {
		clk := NewClock()
		tbl := expiring.New[string, int](ttl, clk.Now)
		want := []string{"c", "a", "b"}
		for i, k := range want {
			tbl.Store(k, i)
		}
		clk.Advance(ttl + time.Second)
		tbl.Store("a", 10) // refresh in place; a is no longer stale

		var (
			got   []string
			stale = map[string]bool{}
		)
		tbl.Range(func(k string, _ int, _ time.Time, s bool) bool {
			got = append(got, k)
			stale[k] = s
			return true
		})
		if !slices.Equal(want, got) {
			t.Fatal(ExpectedActual(want, got))
		}
		if stale["a"] || !stale["b"] || !stale["c"] {
			t.Fatalf("unexpected staleness: %v", stale)
		}

		// early exit
		var count int
		tbl.Range(func(string, int, time.Time, bool) bool {
			count++
			return false
		})
		if count != 1 {
			t.Fatal(ExpectedActual(1, count))
		}
	})
}

// helper function for checking that a key is (or is not) found and, if found, carries the expected value.
func checkLoad[k comparable, v comparable](t *testing.T, tbl *expiring.Table[k, v], key k, expectFound bool, expectVal v) {
	t.Helper()
	got, found := tbl.Load(key)
	if found != expectFound {
		t.Fatalf("key %v: %s", key, ExpectedActual(expectFound, found))
	}
	if found && got != expectVal {
		t.Fatalf("key %v: %s", key, ExpectedActual(expectVal, got))
	}
}
