// Package sinktrie implements a concurrent, lock-free hash trie: a map
// that supports Put, Get, and Erase from many goroutines at once without
// coarse locking and without blocking readers behind writers or writers
// behind other writers on disjoint keys.
//
// The trie is rooted in a multi-way array sized to the requested capacity.
// Interior nodes (cells) are created lazily, only when two keys collide on
// every bit consumed so far; a successfully populated layer of cells is
// periodically "sunk" into an expanded root to keep descent shallow. Every
// slot in the trie is a single machine word: zero means empty, an even
// nonzero value is a leaf pointer, and an odd value is a cell pointer with
// the tag bit masked off. Dereferencing a leaf read from a shared slot
// requires a hazard-pointer Handle (see the hazard package) so that a
// concurrent Erase can't free it out from underneath a reader.
package sinktrie

import (
	"unsafe"

	"go.uber.org/atomic"

	"github.com/cobalt-ds/sinktrie/gatomic"
	"github.com/cobalt-ds/sinktrie/hasher"
	"github.com/cobalt-ds/sinktrie/hazard"
)

// maxSolidity bounds the per-depth cell-population counters and the
// parked-old-root array at 64, matching the 64-bit hash word the default
// hasher produces per segment.
const maxSolidity = 64

// leaf is an immutable key/value record. Once published into the trie it
// is never mutated; a Put against an existing key is a no-op, and the
// only way a key's mapping changes is an Erase followed by a new Put.
type leaf[K any, V any] struct {
	key   K
	value V
}

// cell is an interior trie node: two atomic slots, selecting lhs for a 0
// bit and rhs for a 1 bit of the key's hash.
type cell[K any, V any] struct {
	lhs atomicSlot
	rhs atomicSlot
}

// childAt returns the lhs or rhs slot for bit (0 or 1).
func (c *cell[K, V]) childAt(bit uint64) *atomicSlot {
	if bit == 0 {
		return &c.lhs
	}
	return &c.rhs
}

// atomicSlot holds one tagged machine word: 0 (empty), an even nonzero
// value (leaf pointer), or an odd value (cell pointer, tag bit set).
type atomicSlot struct {
	word atomic.Uintptr
}

// root is the top of the trie: an array of 2^bitCount slots, indexed by
// the first bitCount bits of a key's hash. bitCount only ever grows, via
// sink.
type root[K, V any] struct {
	bitCount uint
	slots    []atomicSlot
}

// Map is a concurrent, lock-free key→value map.
type Map[K comparable, V any] struct {
	root      *root[K, V]
	hasher    hasher.Hasher[K]
	domain    *hazard.Domain
	cellCount [maxSolidity]atomic.Uint64
	oldRoots  [maxSolidity]*root[K, V]
}

// Option configures a Map at construction time.
type Option[K comparable, V any] func(*Map[K, V])

// WithDomain uses an existing hazard.Domain instead of creating a private
// one, letting several Maps share a single registration pool of hazard
// handles rather than each map registering its own.
func WithDomain[K comparable, V any](d *hazard.Domain) Option[K, V] {
	return func(m *Map[K, V]) {
		m.domain = d
	}
}

// New returns a Map sized for at least capacity entries before its first
// sink (capacity rounds up to a power of two, minimum 2). If h is nil, the
// default maphash-backed comparable hasher is used.
func New[K comparable, V any](capacity int, h hasher.Hasher[K], opts ...Option[K, V]) *Map[K, V] {
	if h == nil {
		h = hasher.NewComparable[K]()
	}
	bitCount := uint(1)
	size := 2
	for size < capacity {
		size <<= 1
		bitCount++
	}
	m := &Map[K, V]{
		hasher: h,
		root:   &root[K, V]{bitCount: bitCount, slots: make([]atomicSlot, size)},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.domain == nil {
		m.domain = hazard.NewDomain(hazard.DefaultMaxThreads, hazard.DefaultProtectedSlots, 0)
	}
	return m
}

// Register obtains a hazard.Handle for use with Put/Get/Erase. Callers
// must Unregister the handle (or Close the Map) before letting it go out
// of scope.
func (m *Map[K, V]) Register() (*hazard.Handle, error) {
	return m.domain.Register()
}

// Unregister releases a Handle obtained from Register.
func (m *Map[K, V]) Unregister(h *hazard.Handle) error {
	return m.domain.Unregister(h)
}

// Close severs the Map's references to its current and parked roots and
// tears down its hazard domain. Callers must have ceased all operations
// against every Handle before calling Close.
func (m *Map[K, V]) Close() {
	for i := range m.oldRoots {
		r := gatomic.LoadPointer(&m.oldRoots[i])
		if r == nil {
			continue
		}
		// The cells under a parked root have been re-parented into a
		// newer root; null their children so walking the parked root
		// alone (nothing does, post-Close) can't double-visit them.
		for j := range r.slots {
			w := r.slots[j].word.Load()
			if isCellTag(w) {
				c := untagCell[K, V](w)
				c.lhs.word.Store(0)
				c.rhs.word.Store(0)
			}
		}
		gatomic.StorePointer(&m.oldRoots[i], nil)
	}
	gatomic.StorePointer(&m.root, nil)
	m.domain.Close()
}

// --- pointer tagging helpers ---

func isCellTag(word uintptr) bool {
	return word&1 == 1
}

func leafWord[K, V any](l *leaf[K, V]) uintptr {
	return uintptr(unsafe.Pointer(l))
}

func asLeaf[K, V any](word uintptr) *leaf[K, V] {
	return (*leaf[K, V])(unsafe.Pointer(word)) //nolint:govet
}

func cellWord[K, V any](c *cell[K, V]) uintptr {
	return uintptr(unsafe.Pointer(c)) | 1
}

func untagCell[K, V any](word uintptr) *cell[K, V] {
	return (*cell[K, V])(unsafe.Pointer(word &^ uintptr(1)))
}
