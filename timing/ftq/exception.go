package ftq

// FaultKind classifies instruction-fetch faults reported by retirement.
type FaultKind uint8

const (
	// FaultNone means no fault.
	FaultNone FaultKind = iota
	// FaultPage is an instruction page fault.
	FaultPage
	// FaultGuestPage is a guest-stage instruction page fault.
	FaultGuestPage
	// FaultAccess is an instruction access fault.
	FaultAccess
)

// exceptionTracker latches the single outstanding instruction-fetch
// fault until the writeback cursor has drained past the faulting slot.
// While latched, every fetch or prefetch request against that slot
// carries the fault flag so the consumer can suppress or annotate the
// access instead of fetching from a faulting address.
type exceptionTracker struct {
	valid bool
	kind  FaultKind
	ptr   Ptr
}

// latch records a fault reported by retirement. Retirement guarantees at
// most one is outstanding, so a second latch simply overwrites.
func (t *exceptionTracker) latch(kind FaultKind, ptr Ptr) {
	if kind == FaultNone {
		return
	}
	t.valid = true
	t.kind = kind
	t.ptr = ptr
}

// flagFor returns the fault kind a request against the given slot must
// carry.
func (t *exceptionTracker) flagFor(ptr Ptr) FaultKind {
	if t.valid && t.ptr == ptr {
		return t.kind
	}
	return FaultNone
}

// drain clears the latch once the writeback cursor has moved past the
// faulting slot: the fault has been observed and will not be re-issued
// against stale state.
func (t *exceptionTracker) drain(wbPtr Ptr, depth uint32) {
	if t.valid && wbPtr.After(t.ptr, depth) {
		t.valid = false
		t.kind = FaultNone
	}
}
