package ftq

// Offsets within a fetch block are counted in 2-byte sub-instruction
// slots, so a compressed instruction occupies one offset and a full-size
// instruction two.
const instBytes = 2

// JumpKind classifies the single unconditional control-flow instruction
// a fetch block may end with.
type JumpKind uint8

const (
	// JumpNone means the block contains no jump.
	JumpNone JumpKind = iota
	// JumpJAL is a direct jump.
	JumpJAL
	// JumpJALR is a register-indirect jump.
	JumpJALR
	// JumpCall is a direct or indirect call.
	JumpCall
	// JumpRet is a function return.
	JumpRet
)

// JumpDesc describes the jump instruction within a block, if any.
type JumpDesc struct {
	Kind   JumpKind
	Offset uint32
	Target uint64
}

// FetchBlock is the per-slot fetch-block descriptor held in the address
// table.
type FetchBlock struct {
	// StartAddr is the first byte of the block.
	StartAddr uint64
	// NextLineAddr is the start of the following cache line.
	NextLineAddr uint64
	// CrossMask marks, per offset, instructions whose bytes spill into
	// the next line.
	CrossMask []bool
	// FallthruErr flags a block whose recorded fallthrough address does
	// not lie beyond its start, forcing a conservative refetch.
	FallthruErr bool
}

// PredecodeInfo is the per-slot decode summary written back by the fetch
// stage.
type PredecodeInfo struct {
	// BrMask marks offsets holding conditional branches.
	BrMask []bool
	// Jump is the at-most-one jump/call/return in the block.
	Jump JumpDesc
	// RVCMask marks offsets holding compressed instructions.
	RVCMask []bool
	// ValidMask marks offsets where an in-range instruction starts.
	ValidMask []bool
}

// CFIIndex optionally marks the taken control-flow instruction within a
// block.
type CFIIndex struct {
	Valid  bool
	Offset uint32
}

// SpecSnapshot is the speculative predictor history captured at
// allocation. The queue only copies and compares it.
type SpecSnapshot struct {
	Data []byte
}

// Clone returns an independent copy of the snapshot.
func (s SpecSnapshot) Clone() SpecSnapshot {
	if s.Data == nil {
		return SpecSnapshot{}
	}
	d := make([]byte, len(s.Data))
	copy(d, s.Data)
	return SpecSnapshot{Data: d}
}

// Equal reports whether two snapshots carry identical history.
func (s SpecSnapshot) Equal(o SpecSnapshot) bool {
	if len(s.Data) != len(o.Data) {
		return false
	}
	for i := range s.Data {
		if s.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// FetchStatus tracks whether a slot's fetch request has been issued.
type FetchStatus uint8

const (
	// StatusToSend means the slot still owes a fetch request.
	StatusToSend FetchStatus = iota
	// StatusSent means the fetch request fired.
	StatusSent
)

// HitStatus records the outcome of the predictor-table lookup for a slot.
type HitStatus uint8

const (
	// NotHit means the predictor had no table entry for the block.
	NotHit HitStatus = iota
	// FalseHit means the predictor claimed a match that predecode or
	// retirement disproved.
	FalseHit
	// Hit means the table entry matched.
	Hit
)

// CommitState is the per-offset retirement progress of a slot.
type CommitState uint8

const (
	// StateEmpty means no instruction is tracked at the offset.
	StateEmpty CommitState = iota
	// StateToCommit means predecode confirmed an instruction that has
	// not retired yet.
	StateToCommit
	// StateCommitted means retirement confirmed the instruction.
	StateCommitted
	// StateFlushed means a redirect squashed the instruction.
	StateFlushed
)
