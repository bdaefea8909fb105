// Package hazard implements a hazard-pointer based safe-memory-reclamation
// engine: a bounded set of per-handle protected-pointer slots plus a
// retired-pointer batch that a Scan reconciles against every handle's
// currently-protected pointers before approving a pointer for reclamation.
//
// The engine is an explicit collaborator rather than process-wide
// thread-local state: a Domain is owned by whatever structure needs SMR
// (typically one per sinktrie.Map), and each caller registers its own
// Handle and threads it explicitly through calls instead of relying on an
// implicit "current thread".
package hazard

import (
	"errors"
	"sync"

	"go.uber.org/atomic"
)

// Default tunables: P protected slots per handle, MaxThreads concurrent
// registrants, B retired-batch capacity.
const (
	DefaultProtectedSlots = 1
	DefaultMaxThreads     = 64
)

// DefaultRetiredBatch is B = 2 * MaxThreads * P, chosen so Scan always has
// at least MaxThreads*P pointers' worth of slack to reclaim.
func DefaultRetiredBatch(maxThreads, protectedSlots int) int {
	return 2 * maxThreads * protectedSlots
}

var (
	// ErrTooManyThreads is returned by Register when the domain already
	// has MaxThreads live handles.
	ErrTooManyThreads = errors.New("hazard: too many registered threads")

	// ErrNotRegistered is returned when an operation is attempted against
	// a Handle that was never registered, or has since been unregistered.
	ErrNotRegistered = errors.New("hazard: handle not registered")
)

// retired is a single pointer handed to the engine for deferred deletion,
// along with the hook that performs the deletion once Scan approves it.
type retired struct {
	word uintptr
	free func()
}

// Handle is a single registrant's hazard-pointer state: its protected
// slots and its batch of not-yet-reclaimed retired pointers.
type Handle struct {
	domain    *Domain
	protected []atomic.Uintptr
	active    atomic.Bool
	retired   []retired
}

// Active reports whether the handle is currently registered. Every
// sinktrie operation checks this before touching the trie.
func (h *Handle) Active() bool {
	return h.active.Load()
}

// Protect atomically publishes intent to dereference the current value of
// slot into protected slot index, then re-confirms the slot hasn't
// changed underneath it. It loops until publish and confirm agree, which
// is the only way Protect can make a reclaimer's Scan observe a pointer
// that's about to be dereferenced.
func (h *Handle) Protect(index int, slot *atomic.Uintptr) uintptr {
	for {
		v := slot.Load()
		h.protected[index].Store(v)
		if v2 := slot.Load(); v2 == v {
			return v
		}
	}
}

// ClearProtect releases the pointer held in protected slot index. Every
// operation must call this on every exit path before returning.
func (h *Handle) ClearProtect(index int) {
	h.protected[index].Store(0)
}

// Retire hands word (the tagged-or-untagged representation of a pointer
// pulled from a trie slot) to the engine for deferred reclamation. free,
// if non-nil, is invoked once Scan confirms no handle still protects
// word; Go's collector reclaims the underlying memory on its own once the
// last strong reference is dropped; free exists for callers that want to
// observe exactly when that happens (tests, instrumentation).
func (h *Handle) Retire(word uintptr, free func()) {
	h.retired = append(h.retired, retired{word: word, free: free})
	if len(h.retired) >= h.domain.retiredCap {
		h.domain.scan(h)
	}
}

// Domain owns the set of registered handles and the try-locked Scan that
// reconciles retired batches against currently-protected pointers.
type Domain struct {
	maxThreads int
	perThread  int
	retiredCap int

	mu       sync.Mutex
	handles  []*Handle
	scanLock atomic.Bool
}

// NewDomain constructs a Domain with the given registration cap, protected
// slots per handle, and retired-batch capacity. Passing zero for any
// argument substitutes the spec default.
func NewDomain(maxThreads, protectedSlots, retiredCap int) *Domain {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	if protectedSlots <= 0 {
		protectedSlots = DefaultProtectedSlots
	}
	if retiredCap <= 0 {
		retiredCap = DefaultRetiredBatch(maxThreads, protectedSlots)
	}
	return &Domain{
		maxThreads: maxThreads,
		perThread:  protectedSlots,
		retiredCap: retiredCap,
	}
}

// Register allocates and returns a new Handle, or ErrTooManyThreads if the
// domain is already at capacity.
func (d *Domain) Register() (*Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) >= d.maxThreads {
		return nil, ErrTooManyThreads
	}
	h := &Handle{
		domain:    d,
		protected: make([]atomic.Uintptr, d.perThread),
	}
	h.active.Store(true)
	d.handles = append(d.handles, h)
	return h, nil
}

// Unregister removes h from the domain and drains its retired batch
// unconditionally. It is an error to unregister a handle that isn't
// currently active.
func (d *Domain) Unregister(h *Handle) error {
	if h == nil || !h.active.Load() {
		return ErrNotRegistered
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.handles {
		if x == h {
			d.handles = append(d.handles[:i:i], d.handles[i+1:]...)
			h.active.Store(false)
			drain(h.retired)
			h.retired = nil
			return nil
		}
	}
	return ErrNotRegistered
}

// scan reconciles h's retired batch against the protected pointers
// currently published by every registered handle. At most one scan runs
// at a time across the whole domain; a concurrent Retire that would also
// trigger a scan simply bypasses it and keeps accumulating.
func (d *Domain) scan(h *Handle) {
	if !d.scanLock.CAS(false, true) {
		return
	}
	defer d.scanLock.Store(false)

	live := d.liveSet()

	dismissed := h.retired[:0]
	for _, r := range h.retired {
		if _, hazardous := live[r.word]; hazardous {
			dismissed = append(dismissed, r)
		} else if r.free != nil {
			r.free()
		}
	}
	h.retired = dismissed
}

// liveSet gathers every pointer currently published across all
// registered handles' protected slots.
func (d *Domain) liveSet() map[uintptr]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := make(map[uintptr]struct{}, len(d.handles)*d.perThread)
	for _, other := range d.handles {
		for i := range other.protected {
			if v := other.protected[i].Load(); v != 0 {
				live[v] = struct{}{}
			}
		}
	}
	return live
}

// Close tears down the domain: every still-registered handle's retired
// batch is drained unconditionally. Callers must have ceased all
// operations against every handle before calling Close.
func (d *Domain) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.handles {
		drain(h.retired)
		h.retired = nil
		h.active.Store(false)
	}
	d.handles = nil
}

func drain(rs []retired) {
	for _, r := range rs {
		if r.free != nil {
			r.free()
		}
	}
}
