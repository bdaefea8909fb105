package sinktrie

import (
	"github.com/cobalt-ds/sinktrie/gatomic"
	"github.com/cobalt-ds/sinktrie/hazard"
)

// Put inserts key/value if key is not already present. It reports whether
// the insertion happened; an existing mapping for key is left untouched
// (sinktrie leaves are immutable — update a key by Erase then Put). h must
// be a Handle obtained from Register and not currently in use by another
// goroutine; a Handle that has been Unregistered yields ErrNotRegistered.
//
// The trie is walked once, from the root captured at entry. A slot holding
// a cell is descended with a plain atomic load — cells are never freed
// once published, so nothing needs protecting there. Only a slot that
// looks like a leaf is Protected before its key is inspected, since a
// concurrent Erase could otherwise retire it mid-read.
//
// Each time the walk lands on a leaf whose key differs from the incoming
// key, exactly one new cell is built and CAS'd into that leaf's slot, with
// the evicted leaf pre-placed in the child its own hash stream selects;
// the incoming key then continues into the cell's other child on the next
// iteration. If that publishing CAS loses a race, the half-built cell was
// never visible to anyone (Go's collector reclaims it once this function
// forgets it) and the walk simply re-examines whatever is now in the slot.
// No step ever needs to restart from the root: cells, once linked, are
// never reparented, so a slot pointer captured earlier in the walk stays
// valid for the rest of the call even if a concurrent sink publishes a
// wider root in the meantime.
func (m *Map[K, V]) Put(h *hazard.Handle, key K, value V) (inserted bool, err error) {
	if !h.Active() {
		return false, hazard.ErrNotRegistered
	}
	r := gatomic.LoadPointer(&m.root)
	c := newCursor(m.hasher, key)
	idx := c.advance(r.bitCount)
	slot := &r.slots[idx]
	word := slot.word.Load()
	desired := leafWord(&leaf[K, V]{key: key, value: value})

	for {
		switch {
		case word == 0:
			if slot.word.CAS(0, desired) {
				return true, nil
			}
			// Someone else claimed this slot first; re-deliberate
			// against whatever they put there.
			word = slot.word.Load()

		case isCellTag(word):
			cl := untagCell[K, V](word)
			slot = cl.childAt(c.advance(1))
			word = slot.word.Load()

		default:
			protected := h.Protect(0, &slot.word)
			switch {
			case protected == 0:
				h.ClearProtect(0)
				word = 0

			case isCellTag(protected):
				h.ClearProtect(0)
				word = protected

			default:
				existing := asLeaf[K, V](protected)
				if existing.key == key {
					h.ClearProtect(0)
					return false, nil
				}
				nc, ok := m.split(c, slot, protected, existing)
				h.ClearProtect(0)
				if !ok {
					// Lost the race to publish the new cell; the
					// prepared cell was never observable, so there's
					// nothing to retire. Re-deliberate against the
					// fresh slot value.
					word = slot.word.Load()
					continue
				}
				slot = nc.childAt(c.advance(1))
				word = slot.word.Load()
			}
		}
	}
}

// split builds a single new cell that houses existingWord (the leaf
// currently occupying slot) at the child its own hash stream selects, and
// attempts to CAS it into slot in place of existingWord. On success it also
// updates the per-depth cell-population counters and triggers a sink if
// this cell completed a fully populated layer, then returns the published
// cell so the caller can route the incoming key into its other child. On
// failure the second return is false and the cell built here is discarded
// without ever having been observable to another goroutine.
func (m *Map[K, V]) split(c *cursor[K], slot *atomicSlot, existingWord uintptr, existing *leaf[K, V]) (*cell[K, V], bool) {
	solidity := c.BitsConsumed()
	evictedBit := nextBit(m.hasher, existing.key, solidity)
	nc := &cell[K, V]{}
	nc.childAt(evictedBit).word.Store(existingWord)

	if !slot.word.CAS(existingWord, cellWord(nc)) {
		return nil, false
	}

	if solidity >= 1 && solidity <= maxSolidity {
		full := m.cellCount[solidity-1].Inc() == uint64(1)<<solidity
		if full && solidity > 1 && c.Depth() > 2 {
			m.sink(solidity)
		}
	}
	return nc, true
}
