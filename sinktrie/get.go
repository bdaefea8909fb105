package sinktrie

import (
	"github.com/cobalt-ds/sinktrie/gatomic"
	"github.com/cobalt-ds/sinktrie/hazard"
)

// Get looks up key and returns its value and whether it was present. h must
// be a Handle obtained from Register and not currently in use by another
// goroutine; a Handle that has been Unregistered yields ErrNotRegistered.
//
// A cell pointer is dereferenced with a plain atomic load: cells are never
// freed once published, so no concurrent Erase can invalidate one out from
// under a reader. Only a leaf pointer needs a hazard-pointer Protect before
// it's safe to read the key/value out of it, since Erase retires leaves.
func (m *Map[K, V]) Get(h *hazard.Handle, key K) (value V, found bool, err error) {
	var zero V
	if !h.Active() {
		return zero, false, hazard.ErrNotRegistered
	}
	r := gatomic.LoadPointer(&m.root)
	c := newCursor(m.hasher, key)
	idx := c.advance(r.bitCount)
	slot := &r.slots[idx]
	word := slot.word.Load()

	for {
		if word == 0 {
			return zero, false, nil
		}
		if isCellTag(word) {
			cl := untagCell[K, V](word)
			slot = cl.childAt(c.advance(1))
			word = slot.word.Load()
			continue
		}
		protected := h.Protect(0, &slot.word)
		if protected == 0 {
			h.ClearProtect(0)
			return zero, false, nil
		}
		if isCellTag(protected) {
			h.ClearProtect(0)
			cl := untagCell[K, V](protected)
			slot = cl.childAt(c.advance(1))
			word = slot.word.Load()
			continue
		}
		l := asLeaf[K, V](protected)
		if l.key == key {
			v := l.value
			h.ClearProtect(0)
			return v, true, nil
		}
		h.ClearProtect(0)
		return zero, false, nil
	}
}
