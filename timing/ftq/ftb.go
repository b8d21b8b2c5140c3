package ftq

import "math/bits"

// Branch targets are stored compacted: the low bits of the target plus a
// 2-valued carry adjustment against the upper bits of the block start.
// Conditional branches reach nearby code, jalr/ret tails can land far
// away, so the tail slot keeps more bits.
const (
	brTargetBits   = 20
	tailTargetBits = 40
)

// Target carry adjustments relative to the block start's upper bits.
const (
	// TargetStatSame means the target shares the start's upper bits.
	TargetStatSame uint8 = iota
	// TargetStatUp means the target's upper bits are start's plus one.
	TargetStatUp
	// TargetStatDown means the target's upper bits are start's minus one.
	TargetStatDown
)

func lowerStat(start, target uint64, nbits uint) (uint64, uint8) {
	lo := target & ((1 << nbits) - 1)
	hiStart := start >> nbits
	hiTarget := target >> nbits
	switch {
	case hiTarget == hiStart+1:
		return lo, TargetStatUp
	case hiTarget+1 == hiStart:
		return lo, TargetStatDown
	default:
		return lo, TargetStatSame
	}
}

func targetFromStat(start, lo uint64, stat uint8, nbits uint) uint64 {
	hi := start >> nbits
	switch stat {
	case TargetStatUp:
		hi++
	case TargetStatDown:
		hi--
	}
	return hi<<nbits | lo
}

// BranchSlot is one compact conditional-branch record in an FTB entry.
type BranchSlot struct {
	Valid  bool
	Offset uint32
	// TargetLo holds the low brTargetBits of the branch target.
	TargetLo uint64
	// TargetStat is the upper-bit carry adjustment.
	TargetStat uint8
	// StrongBias means "treat as always taken without full lookup".
	StrongBias bool
}

// SetTarget records target compacted against the block start.
func (s *BranchSlot) SetTarget(start, target uint64) {
	s.TargetLo, s.TargetStat = lowerStat(start, target, brTargetBits)
}

// Target reconstructs the full branch target for a block at start.
func (s BranchSlot) Target(start uint64) uint64 {
	return targetFromStat(start, s.TargetLo, s.TargetStat, brTargetBits)
}

// TailSlot is the jump/call/return descriptor terminating an FTB entry.
// When invalid, the last branch slot plays the tail role instead.
type TailSlot struct {
	Valid  bool
	Offset uint32
	// TargetLo holds the low tailTargetBits of the jump target.
	TargetLo   uint64
	TargetStat uint8
}

// SetTarget records target compacted against the block start.
func (s *TailSlot) SetTarget(start, target uint64) {
	s.TargetLo, s.TargetStat = lowerStat(start, target, tailTargetBits)
}

// Target reconstructs the full jump target for a block at start.
func (s TailSlot) Target(start uint64) uint64 {
	return targetFromStat(start, s.TargetLo, s.TargetStat, tailTargetBits)
}

// FTBEntry is the compact per-block branch-target-table record the queue
// maintains on behalf of the predictor. Branch slots are kept sorted by
// ascending offset. When the tail slot is valid it claims the capacity of
// the last branch slot, so a block with an independent jump records at
// most NumBr-1 conditional branches.
type FTBEntry struct {
	Valid bool
	// Brs are the conditional-branch slots, sorted by offset.
	Brs []BranchSlot
	// Tail is the jump descriptor, invalid when the block has no jump.
	Tail TailSlot
	// Pft is the truncated fallthrough address, in 2-byte units.
	Pft uint32
	// Carry records overflow of the truncated fallthrough field against
	// the block start.
	Carry bool

	IsCall bool
	IsRet  bool
	IsJalr bool
	// LastMayBeRVCCall marks a compressed call sitting in the last
	// offset, whose link address needs special care downstream.
	LastMayBeRVCCall bool
}

func fallthroughBits(width uint32) uint {
	// One extra bit over the block's offset range, so the field can
	// express addresses up to a full block beyond the start.
	return uint(bits.Len32(width))
}

// SetFallthrough records addr in the truncated fallthrough field, with
// the carry bit capturing overflow past the start's upper bits.
func (e *FTBEntry) SetFallthrough(start, addr uint64, width uint32) {
	fbits := fallthroughBits(width)
	unit := addr / instBytes
	e.Pft = uint32(unit & ((1 << fbits) - 1))
	e.Carry = unit>>fbits != (start/instBytes)>>fbits
}

// FallthroughAddr reconstructs the full fallthrough address for a block
// at start.
func (e FTBEntry) FallthroughAddr(start uint64, width uint32) uint64 {
	fbits := fallthroughBits(width)
	base := (start / instBytes) >> fbits
	if e.Carry {
		base++
	}
	return (base<<fbits | uint64(e.Pft)) * instBytes
}

// Clone returns a deep copy of the entry.
func (e FTBEntry) Clone() FTBEntry {
	c := e
	if e.Brs != nil {
		c.Brs = make([]BranchSlot, len(e.Brs))
		copy(c.Brs, e.Brs)
	}
	return c
}

// Equal reports whether two entries encode the same record.
func (e FTBEntry) Equal(o FTBEntry) bool {
	if e.Valid != o.Valid || e.Tail != o.Tail ||
		e.Pft != o.Pft || e.Carry != o.Carry ||
		e.IsCall != o.IsCall || e.IsRet != o.IsRet || e.IsJalr != o.IsJalr ||
		e.LastMayBeRVCCall != o.LastMayBeRVCCall {
		return false
	}
	if len(e.Brs) != len(o.Brs) {
		return false
	}
	for i := range e.Brs {
		if e.Brs[i] != o.Brs[i] {
			return false
		}
	}
	return true
}

// HasBrAt reports whether a valid branch slot records the given offset.
func (e FTBEntry) HasBrAt(offset uint32) bool {
	for _, s := range e.Brs {
		if s.Valid && s.Offset == offset {
			return true
		}
	}
	return false
}

// brCapacity is the number of branch slots usable given the tail's state.
func (e FTBEntry) brCapacity() int {
	if e.Tail.Valid {
		return len(e.Brs) - 1
	}
	return len(e.Brs)
}

// ConsistentWith reports whether the entry's recorded control flow agrees
// with what predecode found in the block. A disagreement marks the
// original lookup as a false hit.
func (e FTBEntry) ConsistentWith(pd PredecodeInfo) bool {
	for _, s := range e.Brs {
		if s.Valid && (int(s.Offset) >= len(pd.BrMask) || !pd.BrMask[s.Offset]) {
			return false
		}
	}
	if e.Tail.Valid {
		if pd.Jump.Kind == JumpNone || pd.Jump.Offset != e.Tail.Offset {
			return false
		}
		jalr := pd.Jump.Kind == JumpJALR || pd.Jump.Kind == JumpRet
		if e.IsJalr != jalr ||
			e.IsCall != (pd.Jump.Kind == JumpCall) ||
			e.IsRet != (pd.Jump.Kind == JumpRet) {
			return false
		}
		return true
	}
	return pd.Jump.Kind == JumpNone
}

// Generator derives updated FTB entries at commit time. Generate is a
// pure function of its arguments; the Generator itself only carries block
// geometry.
type Generator struct {
	// Width is the number of 2-byte offsets per fetch block.
	Width uint32
	// NumBr is the branch-slot capacity of an entry.
	NumBr int
}

// GenReport describes which update path Generate exercised, plus the
// per-slot outcome masks the predictor update needs.
type GenReport struct {
	// TakenMask marks, per branch slot of the new entry, whether that
	// branch was the taken CFI this round.
	TakenMask []bool
	// TailTaken reports whether the tail jump was taken.
	TailTaken bool
	// MispredMask has one bit per branch slot plus a final bit for the
	// tail: taken AND reported mispredicted at that offset.
	MispredMask []bool

	// Exactly one of the following is set per call, except Unchanged,
	// which accompanies a hit that modified nothing.
	Init             bool
	Unchanged        bool
	NewBranch        bool
	JalrRetarget     bool
	StrongBiasChange bool
	BranchFull       bool
}

// Generate merges one committed round of observations into an FTB entry.
// old is the entry the prediction was made with, hit whether the lookup
// matched, pd the predecode result for the block, cfi the taken CFI (if
// any), target the observed next address, and mispredVec the per-offset
// mispredict reports from retirement.
func (g Generator) Generate(
	start uint64,
	old FTBEntry,
	hit bool,
	pd PredecodeInfo,
	cfi CFIIndex,
	target uint64,
	mispredVec []bool,
) (FTBEntry, GenReport) {
	rep := GenReport{
		TakenMask:   make([]bool, g.NumBr),
		MispredMask: make([]bool, g.NumBr+1),
	}

	cfiIsBr := cfi.Valid && int(cfi.Offset) < len(pd.BrMask) && pd.BrMask[cfi.Offset]
	cfiIsJump := cfi.Valid && pd.Jump.Kind != JumpNone && cfi.Offset == pd.Jump.Offset

	var e FTBEntry
	if !hit {
		e = g.initEntry(start, pd, cfi, target)
		rep.Init = true
	} else {
		e = old.Clone()
		newBr := cfiIsBr && !e.HasBrAt(cfi.Offset)
		jalrRetarget := cfiIsJump && e.Tail.Valid && e.IsJalr && !e.IsRet &&
			e.Tail.Target(start) != target

		switch {
		case newBr:
			rep.BranchFull = g.insertBranch(&e, start, cfi.Offset, target, pd)
			rep.NewBranch = true
		case jalrRetarget:
			e.Tail.SetTarget(start, target)
			for i := range e.Brs {
				e.Brs[i].StrongBias = false
			}
			rep.JalrRetarget = true
		default:
			for i := range e.Brs {
				s := &e.Brs[i]
				if !s.Valid || !s.StrongBias {
					continue
				}
				reached := !cfi.Valid || cfi.Offset >= s.Offset
				takenHere := cfiIsBr && cfi.Offset == s.Offset
				if reached && !takenHere {
					s.StrongBias = false
					rep.StrongBiasChange = true
				}
			}
		}

		// Keep the recorded target of a confirmed-taken branch in step
		// with the observed one.
		if cfiIsBr {
			for i := range e.Brs {
				s := &e.Brs[i]
				if s.Valid && s.Offset == cfi.Offset && s.Target(start) != target {
					s.SetTarget(start, target)
				}
			}
		}

		rep.Unchanged = !rep.NewBranch && !rep.JalrRetarget &&
			!rep.StrongBiasChange && e.Equal(old)
	}

	for i, s := range e.Brs {
		taken := s.Valid && cfiIsBr && cfi.Offset == s.Offset
		rep.TakenMask[i] = taken
		rep.MispredMask[i] = taken &&
			int(s.Offset) < len(mispredVec) && mispredVec[s.Offset]
	}
	rep.TailTaken = e.Tail.Valid && cfiIsJump && cfi.Offset == e.Tail.Offset
	rep.MispredMask[g.NumBr] = rep.TailTaken &&
		int(e.Tail.Offset) < len(mispredVec) && mispredVec[e.Tail.Offset]

	return e, rep
}

// initEntry builds a fresh entry from one observed round: the taken
// branch (if any) lands in slot 0 strongly biased, the block's jump
// becomes the tail.
func (g Generator) initEntry(
	start uint64, pd PredecodeInfo, cfi CFIIndex, target uint64,
) FTBEntry {
	e := FTBEntry{Valid: true, Brs: make([]BranchSlot, g.NumBr)}

	if cfi.Valid && int(cfi.Offset) < len(pd.BrMask) && pd.BrMask[cfi.Offset] {
		e.Brs[0] = BranchSlot{Valid: true, Offset: cfi.Offset, StrongBias: true}
		e.Brs[0].SetTarget(start, target)
	}

	j := pd.Jump
	jumpRVC := j.Kind != JumpNone &&
		int(j.Offset) < len(pd.RVCMask) && pd.RVCMask[j.Offset]
	if j.Kind != JumpNone {
		e.Tail.Valid = true
		e.Tail.Offset = j.Offset
		tgt := j.Target
		if cfi.Valid && cfi.Offset == j.Offset &&
			(j.Kind == JumpJALR || j.Kind == JumpRet) {
			// Indirect targets are only known from the observed outcome.
			tgt = target
		}
		e.Tail.SetTarget(start, tgt)
		e.IsCall = j.Kind == JumpCall
		e.IsRet = j.Kind == JumpRet
		e.IsJalr = j.Kind == JumpJALR || j.Kind == JumpRet
		e.LastMayBeRVCCall = e.IsCall && jumpRVC && j.Offset == g.Width-1
	}

	// A jump that is not a full-size instruction in the last offset ends
	// the block early; otherwise the block runs its full width.
	pft := start + uint64(g.Width)*instBytes
	if j.Kind != JumpNone && !(j.Offset == g.Width-1 && !jumpRVC) {
		size := uint64(4)
		if jumpRVC {
			size = 2
		}
		pft = start + uint64(j.Offset)*instBytes + size
	}
	e.SetFallthrough(start, pft, g.Width)

	return e
}

// insertBranch slots a newly observed taken branch into the entry in
// sorted position. Returns true when the branch table was full: the last
// slot is evicted (or the new branch rejected when it is the largest) and
// the fallthrough is cut at the larger of the two offsets, shortening the
// recorded block.
func (g Generator) insertBranch(
	e *FTBEntry, start uint64, offset uint32, target uint64, pd PredecodeInfo,
) bool {
	capN := e.brCapacity()
	slots := e.Brs[:capN]

	pos := capN
	for i := 0; i < capN; i++ {
		if !slots[i].Valid || slots[i].Offset > offset {
			pos = i
			break
		}
	}

	full := capN > 0 && slots[capN-1].Valid
	newSlot := BranchSlot{Valid: true, Offset: offset, StrongBias: true}
	newSlot.SetTarget(start, target)

	switch {
	case !full && pos < capN:
		copy(slots[pos+1:], slots[pos:capN-1])
		slots[pos] = newSlot
		return false
	case full && pos < capN:
		// Evict the last slot to make room, then cut the recorded block
		// at the evicted branch.
		cut := slots[capN-1].Offset
		copy(slots[pos+1:], slots[pos:capN-1])
		slots[pos] = newSlot
		e.SetFallthrough(start, start+uint64(cut)*instBytes, g.Width)
		return true
	default:
		// The new branch is beyond every recorded one: leave the table
		// as is and cut the block just before the new branch, so later
		// lookups refetch from there.
		e.SetFallthrough(start, start+uint64(offset)*instBytes, g.Width)
		return true
	}
}
