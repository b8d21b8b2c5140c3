package ftq

// StageResponse is one stage of the predictor's per-cycle response
// bundle. s1 is the fastest, least accurate guess; s2 and s3 refine it,
// and may override an earlier stage's already-allocated slot.
type StageResponse struct {
	Valid bool
	// Stage is 1, 2 or 3.
	Stage uint8
	// Ptr is the slot the response targets. s1 responses allocate at the
	// queue's allocate cursor and ignore this field; s2/s3 responses
	// name the slot they refine.
	Ptr Ptr
	// Override marks an s2/s3 response that disagrees with what was
	// already allocated and wants to overwrite its own earlier guess.
	Override bool

	Block FetchBlock
	CFI   CFIIndex
	Hit   bool
	// Target is the predicted start address of the following block.
	Target uint64

	// The remaining fields are only carried by s3 responses.
	Meta []byte
	FTB  FTBEntry
	Spec SpecSnapshot
}

// PredictorResponse is the 3-stage bundle the predictor presents each
// cycle. Any stage may be absent.
type PredictorResponse struct {
	S1 *StageResponse
	S2 *StageResponse
	S3 *StageResponse
}

// FetchRequest is one request to the fetch-dispatch or prefetch
// consumer. It stays valid, unchanged, until the consumer fires.
type FetchRequest struct {
	Ptr Ptr
	// StartAddr is the first byte of the block to fetch.
	StartAddr uint64
	// NextAddr is the start of the block expected to follow, bypassed
	// from the newest allocation when the cursor targets it.
	NextAddr uint64
	// CFI is the taken-CFI offset, when already known.
	CFI   CFIIndex
	Block FetchBlock
	// Fault is the latched instruction-fetch fault for this slot, if
	// any.
	Fault FaultKind
}

// PredecodeWriteback is the fetch stage's decoded result for one slot.
type PredecodeWriteback struct {
	Ptr  Ptr
	Info PredecodeInfo
	// SelfCheckMispred is set when the predictor's own consistency check
	// flagged the prediction while decoding.
	SelfCheckMispred bool
	// Mispredict marks a taken CFI whose decoded target disagrees with
	// the prediction, discovered before retirement.
	Mispredict CFIIndex
	// Target is the corrected target for a predecode-discovered
	// mispredict.
	Target uint64
}

// CommitKind distinguishes plain commit events from fused ones that
// retire trailing sub-instructions in the same event.
type CommitKind uint8

const (
	// CommitNormal retires exactly the named offset.
	CommitNormal CommitKind = iota
	// CommitFusedPair additionally retires the next offset.
	CommitFusedPair
	// CommitFusedTriple additionally retires the next two offsets.
	CommitFusedTriple
)

// extra returns how many offsets beyond the named one the event retires.
func (k CommitKind) extra() uint32 {
	switch k {
	case CommitFusedPair:
		return 1
	case CommitFusedTriple:
		return 2
	default:
		return 0
	}
}

// CommitEvent is one retirement confirmation. Fused kinds spill into the
// first offset(s) of the next slot when they run past the block.
type CommitEvent struct {
	Ptr    Ptr
	Offset uint32
	Kind   CommitKind
}

// BackendRedirect is the retirement-issued redirect stream entry.
type BackendRedirect struct {
	Ptr    Ptr
	Offset uint32
	Level  RedirectLevel
	Target uint64
	Cause  MispredCause
	// Taken reports whether the redirecting instruction was an actually
	// taken CFI. False for a branch that was predicted taken and fell
	// through.
	Taken bool
	Fault FaultKind
}

// PredictorUpdate is the retirement-confirmed update sent back to the
// predictor after a slot commits.
type PredictorUpdate struct {
	PC     uint64
	Meta   []byte
	Spec   SpecSnapshot
	CFI    CFIIndex
	Target uint64

	OldEntry FTBEntry
	NewEntry FTBEntry

	MispredMask []bool
	TakenMask   []bool
	JmpTaken    bool
	FalseHit    bool
	// Stage is the predictor stage the block was originally predicted
	// at.
	Stage uint8
}

// CycleInput carries everything the queue's collaborators present this
// cycle.
type CycleInput struct {
	// Predictor is the 3-stage response bundle, if any stage is active.
	Predictor *PredictorResponse

	// FetchReady / PrefetchReady assert that the respective consumer
	// accepts whatever request the queue presents this cycle.
	FetchReady    bool
	PrefetchReady bool

	// Writeback is the fetch stage's predecode result, if one arrives.
	Writeback *PredecodeWriteback

	// Commits is the retirement commit-event stream for this cycle.
	Commits []CommitEvent

	// Redirect is the retirement-issued redirect, if one fires.
	Redirect *BackendRedirect

	// RedirectHints are redirect-candidate slots usable one cycle before
	// the real redirect, letting the queue pre-read the address table
	// off the critical path.
	RedirectHints []Ptr
}

// CycleOutput is everything the queue presents back after one cycle.
type CycleOutput struct {
	// PredictorAccepted reports whether this cycle's s1 response was
	// taken. When false the predictor must hold and retry.
	PredictorAccepted bool

	// ToFetch / ToPrefetch are the requests presented to the consumers.
	// A request fired this cycle iff the corresponding Ready input was
	// asserted.
	ToFetch    *FetchRequest
	ToPrefetch *FetchRequest

	// ToPredictor is the retirement-confirmed update produced when a
	// slot commits.
	ToPredictor *PredictorUpdate

	// Redirect is the single redirect applied this cycle, including
	// fetch-stage-discovered mispredicts passed through to the backend.
	Redirect *Redirect

	// NewestTarget / NewestPtr expose the most recent allocation for
	// backend address bookkeeping.
	NewestTarget uint64
	NewestPtr    Ptr
	NewestValid  bool
}
