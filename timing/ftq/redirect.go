package ftq

// RedirectLevel tells how much of the target slot a redirect squashes.
type RedirectLevel uint8

const (
	// FlushAfter squashes everything after the redirecting instruction,
	// which itself stands.
	FlushAfter RedirectLevel = iota
	// FlushSelf squashes the redirecting instruction too; it will be
	// refetched on the corrected path.
	FlushSelf
)

// RedirectSource identifies which stage raised a redirect.
type RedirectSource uint8

const (
	// RedirectNone means no redirect this cycle.
	RedirectNone RedirectSource = iota
	// RedirectBackend is a retirement-issued redirect.
	RedirectBackend
	// RedirectPredecode is a fetch-stage redirect raised when predecode
	// discovers a mispredict before retirement does.
	RedirectPredecode
)

// MispredCause tags why a backend redirect fired.
type MispredCause uint8

const (
	// CauseNone covers non-mispredict redirects (faults, fences).
	CauseNone MispredCause = iota
	// CauseDirection is a taken/not-taken disagreement.
	CauseDirection
	// CauseTarget is a target-address disagreement.
	CauseTarget
)

// Redirect invalidates all queued work from a slot+offset onward and
// steers the frontend to Target.
type Redirect struct {
	Ptr    Ptr
	Offset uint32
	Level  RedirectLevel
	Target uint64
	Cause  MispredCause
	// Taken reports whether the redirecting instruction was an actually
	// taken CFI.
	Taken bool
	// Fault carries an instruction-fetch fault reported alongside a
	// backend redirect.
	Fault FaultKind
	// Source is filled in by arbitration.
	Source RedirectSource
	// Spec is the speculative snapshot of the redirected slot, attached
	// when the rollback is applied so the predictor can restore its
	// history.
	Spec SpecSnapshot
}

// flushSelf reports whether the redirect squashes its own instruction.
func (r Redirect) flushSelf() bool {
	return r.Level == FlushSelf
}

// arbitrate picks the single redirect applied this cycle. Retirement
// outranks predecode; the loser is suppressed entirely and must be
// re-raised if still relevant.
func arbitrate(backend, predecode *Redirect) (*Redirect, RedirectSource) {
	if backend != nil {
		r := *backend
		r.Source = RedirectBackend
		return &r, RedirectBackend
	}
	if predecode != nil {
		r := *predecode
		r.Source = RedirectPredecode
		return &r, RedirectPredecode
	}
	return nil, RedirectNone
}
