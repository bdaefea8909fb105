package hazard

import (
	"testing"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	qt "github.com/cobalt-ds/sinktrie/quicktest"
)

func TestRegisterUnregister(t *testing.T) {
	d := NewDomain(2, 1, 0)
	h1, err := d.Register()
	qt.Assert(t, err, qt.IsZero[error]())
	qt.Assert(t, h1.Active(), qt.Equals(true))

	h2, err := d.Register()
	qt.Assert(t, err, qt.IsZero[error]())

	_, err = d.Register()
	qt.Assert(t, err, qt.Equals(ErrTooManyThreads))

	qt.Assert(t, d.Unregister(h1), qt.IsZero[error]())
	qt.Assert(t, h1.Active(), qt.Equals(false))

	// A slot freed by Unregister can be reused.
	h3, err := d.Register()
	qt.Assert(t, err, qt.IsZero[error]())
	qt.Assert(t, h3.Active(), qt.Equals(true))

	_ = h2
}

func TestUnregisterTwiceFails(t *testing.T) {
	d := NewDomain(4, 1, 0)
	h, err := d.Register()
	qt.Assert(t, err, qt.IsZero[error]())
	qt.Assert(t, d.Unregister(h), qt.IsZero[error]())
	qt.Assert(t, d.Unregister(h), qt.Equals(ErrNotRegistered))
}

func TestUnregisterWithoutRegisterFails(t *testing.T) {
	d := NewDomain(4, 1, 0)
	h := &Handle{domain: d, protected: make([]atomic.Uintptr, 1)}
	qt.Assert(t, d.Unregister(h), qt.Equals(ErrNotRegistered))
}

func TestProtectTracksLiveValue(t *testing.T) {
	d := NewDomain(4, 1, 0)
	h, err := d.Register()
	qt.Assert(t, err, qt.IsZero[error]())

	var slot atomic.Uintptr
	slot.Store(42)
	got := h.Protect(0, &slot)
	qt.Assert(t, got, qt.Equals[uintptr](42))
	h.ClearProtect(0)
}

func TestRetireDoesNotFreeProtectedPointer(t *testing.T) {
	d := NewDomain(4, 1, 2) // tiny retired cap to force a Scan quickly
	reader, err := d.Register()
	qt.Assert(t, err, qt.IsZero[error]())
	writer, err := d.Register()
	qt.Assert(t, err, qt.IsZero[error]())

	var slot atomic.Uintptr
	slot.Store(100)

	// reader protects the pointer that's about to be retired.
	_ = reader.Protect(0, &slot)

	freed := false
	writer.Retire(100, func() { freed = true })
	writer.Retire(200, func() {}) // fills the batch (cap=2), triggers Scan

	qt.Assert(t, freed, qt.Equals(false))

	reader.ClearProtect(0)
	writer.Retire(300, func() {}) // triggers another Scan, now unprotected
	qt.Assert(t, freed, qt.Equals(true))
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	d := NewDomain(8, 1, 0)
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			h, err := d.Register()
			if err != nil {
				return err
			}
			var slot atomic.Uintptr
			slot.Store(uintptr(1))
			h.Protect(0, &slot)
			h.ClearProtect(0)
			return d.Unregister(h)
		})
	}
	qt.Assert(t, g.Wait(), qt.IsZero[error]())
}
