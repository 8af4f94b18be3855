// Package expiring introduces tables whose elements go stale when they are not refreshed.
//
// Unlike a timer-driven cache, a Table never prunes on its own.
// Staleness is judged against the table's clock when an element is fetched with Load, and a stale element is evicted at that moment.
package expiring

import (
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// wrapped value with the time it was last stored
type timedV[value_t any] struct {
	val       value_t
	refreshed time.Time
}

// A Table is an insertion-ordered map whose elements are considered stale once more than its ttl has elapsed since they were last stored.
// Tables are safe for concurrent use.
//
// NOTE(rlandau): Tables should only be passed by reference due to underlying mutex use.
type Table[key_t comparable, value_t any] struct {
	mu  sync.Mutex
	m   *linkedhashmap.Map // key_t -> timedV[value_t]
	ttl time.Duration
	now func() time.Time
}

// New returns a table whose elements go stale after ttl.
// now may be nil, in which case time.Now is used.
func New[key_t comparable, value_t any](ttl time.Duration, now func() time.Time) *Table[key_t, value_t] {
	if now == nil {
		now = time.Now
	}
	return &Table[key_t, value_t]{m: linkedhashmap.New(), ttl: ttl, now: now}
}

// TTL returns the duration after which an unrefreshed element is stale.
func (tbl *Table[key_t, value_t]) TTL() time.Duration {
	return tbl.ttl
}

// Store saves the given k/v and stamps it with the current time.
// If a value was previously associated to this key, it is overwritten in place (keeping its position in the iteration order).
func (tbl *Table[key_t, value_t]) Store(key key_t, value value_t) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tbl.m.Put(key, timedV[value_t]{val: value, refreshed: tbl.now()})
}

// Load fetches the value associated to the given key.
// If the element exists but is stale, it is deleted and (zero, false) is returned.
func (tbl *Table[key_t, value_t]) Load(key key_t) (value value_t, found bool) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tVal, found := tbl.get(key)
	if !found {
		return value, false
	}
	if tbl.isStale(tVal.refreshed) {
		tbl.m.Remove(key)
		return value, false
	}
	return tVal.val, true
}

// Peek fetches the value associated to the given key along with its last refresh time and whether it is stale.
// Unlike Load, Peek never evicts.
func (tbl *Table[key_t, value_t]) Peek(key key_t) (value value_t, refreshed time.Time, stale bool, found bool) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tVal, found := tbl.get(key)
	if !found {
		return value, refreshed, false, false
	}
	return tVal.val, tVal.refreshed, tbl.isStale(tVal.refreshed), true
}

// Delete destroys a key in the table.
// Ineffectual if key is not found.
func (tbl *Table[key_t, value_t]) Delete(key key_t) (found bool) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	if _, found = tbl.m.Get(key); found {
		tbl.m.Remove(key)
	}
	return found
}

// Len returns the number of elements in the table, stale or not.
func (tbl *Table[key_t, value_t]) Len() int {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	return tbl.m.Size()
}

// Range calls fn for each element in insertion order until fn returns false.
// Stale elements are visited (and flagged) but not evicted.
// The table is locked for the duration; fn must not call back into it.
func (tbl *Table[key_t, value_t]) Range(fn func(key key_t, value value_t, refreshed time.Time, stale bool) (next bool)) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	it := tbl.m.Iterator()
	for it.Next() {
		key, ok := it.Key().(key_t)
		if !ok {
			panic(fmt.Sprintf("failed to cast key from map (%v)", it.Key()))
		}
		tVal, ok := it.Value().(timedV[value_t])
		if !ok {
			panic(fmt.Sprintf("failed to cast value from map (%v)", it.Value()))
		}
		if !fn(key, tVal.val, tVal.refreshed, tbl.isStale(tVal.refreshed)) {
			return
		}
	}
}

// get fetches the wrapped value. Caller must hold the lock.
func (tbl *Table[key_t, value_t]) get(key key_t) (timedV[value_t], bool) {
	tmp, found := tbl.m.Get(key)
	if !found {
		return timedV[value_t]{}, false
	}
	tVal, ok := tmp.(timedV[value_t])
	if !ok {
		panic(fmt.Sprintf("failed to cast value from map (%v)", tmp))
	}
	return tVal, true
}

// an element is stale iff strictly more than ttl has elapsed since its refresh
func (tbl *Table[key_t, value_t]) isStale(refreshed time.Time) bool {
	return tbl.now().Sub(refreshed) > tbl.ttl
}
