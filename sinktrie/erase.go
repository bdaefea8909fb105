package sinktrie

import (
	"github.com/cobalt-ds/sinktrie/gatomic"
	"github.com/cobalt-ds/sinktrie/hazard"
)

// Erase removes key's mapping, if present, and reports whether it was
// removed. The freed leaf is retired through h rather than reclaimed
// immediately, so a concurrent Get or Put that already read it before the
// CAS is guaranteed to finish dereferencing it safely. h must be a Handle
// obtained from Register and not currently in use by another goroutine; a
// Handle that has been Unregistered yields ErrNotRegistered.
//
// Cells are never removed once published: a descended path stays valid
// forever, so concurrent readers never need to protect interior nodes,
// only leaves. Erase never collapses the cell that held the erased leaf;
// its slot is simply nulled and the cell itself persists, empty, for the
// lifetime of the map.
func (m *Map[K, V]) Erase(h *hazard.Handle, key K) (removed bool, err error) {
	if !h.Active() {
		return false, hazard.ErrNotRegistered
	}
	r := gatomic.LoadPointer(&m.root)
	c := newCursor(m.hasher, key)
	idx := c.advance(r.bitCount)
	slot := &r.slots[idx]
	word := slot.word.Load()

	for {
		if word == 0 {
			return false, nil
		}
		if isCellTag(word) {
			cl := untagCell[K, V](word)
			slot = cl.childAt(c.advance(1))
			word = slot.word.Load()
			continue
		}

		protected := h.Protect(0, &slot.word)
		switch {
		case protected == 0:
			h.ClearProtect(0)
			return false, nil

		case isCellTag(protected):
			h.ClearProtect(0)
			cl := untagCell[K, V](protected)
			slot = cl.childAt(c.advance(1))
			word = slot.word.Load()

		default:
			l := asLeaf[K, V](protected)
			if l.key != key {
				h.ClearProtect(0)
				return false, nil
			}
			if slot.word.CAS(protected, 0) {
				h.ClearProtect(0)
				h.Retire(protected, nil)
				return true, nil
			}
			// Lost the race: either another eraser already nulled
			// this slot, or a concurrent Put split it into a cell
			// with this same leaf pre-placed one level deeper.
			// Either way re-deliberate against the fresh value
			// instead of assuming the key is gone.
			h.ClearProtect(0)
			word = slot.word.Load()
		}
	}
}
