package sinktrie

import "github.com/cobalt-ds/sinktrie/gatomic"

// sink absorbs the now-fully-populated layer of cells at depth
// targetDepth-1 into a freshly allocated root one bit wider, so that
// future descents index that layer directly out of the root array instead
// of walking a cell to reach it. Concurrent callers racing to sink the
// same layer spin until the root they expect to supersede (bitCount ==
// targetDepth-2) is actually published — a different thread may still be
// building the very root this call is waiting to replace — then race a
// single CompareAndSwapPointer to publish the doubled root; every loser
// simply discards the root it built, since the winner's root already
// reflects the identical absorption.
//
// Absorbing a cell's two children is a plain word copy: a cell's lhs/rhs
// slots already encode exactly the next bit a doubled root array would
// index on, landing at old index i and i+len(old.slots) respectively. A
// leaf still sitting bare in the old root array (no collision has reached
// it yet) is re-seated the same way, by recomputing one more bit of its
// own hash stream.
func (m *Map[K, V]) sink(targetDepth uint) {
	if targetDepth < 2 || targetDepth > maxSolidity {
		return
	}
	var old *root[K, V]
	for {
		old = gatomic.LoadPointer(&m.root)
		if old.bitCount == targetDepth-2 {
			break
		}
		if old.bitCount > targetDepth-2 {
			// Someone already sunk past this generation.
			return
		}
	}

	half := uint64(len(old.slots))
	next := &root[K, V]{
		bitCount: old.bitCount + 1,
		slots:    make([]atomicSlot, half*2),
	}

	for i := range old.slots {
		word := old.slots[i].word.Load()
		switch {
		case word == 0:
			// both children stay empty
		case !isCellTag(word):
			l := asLeaf[K, V](word)
			bit := nextBit(m.hasher, l.key, old.bitCount)
			next.slots[uint64(i)+bit*half].word.Store(word)
		default:
			cl := untagCell[K, V](word)
			next.slots[i].word.Store(cl.lhs.word.Load())
			next.slots[uint64(i)+half].word.Store(cl.rhs.word.Load())
		}
	}

	if !gatomic.CompareAndSwapPointer(&m.root, old, next) {
		return
	}
	gatomic.StorePointer(&m.oldRoots[old.bitCount], old)
}
