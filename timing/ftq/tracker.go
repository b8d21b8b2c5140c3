package ftq

// commitTracker holds the per-slot, per-offset commit-state arrays. It is
// the only storage that is actively cleared on reuse and on flush
// rollback; every other table is simply overwritten.
type commitTracker struct {
	depth  uint32
	width  uint32
	states [][]CommitState
}

func newCommitTracker(depth, width uint32) *commitTracker {
	t := &commitTracker{
		depth:  depth,
		width:  width,
		states: make([][]CommitState, depth),
	}
	for i := range t.states {
		t.states[i] = make([]CommitState, width)
	}
	return t
}

// resetSlot clears a slot's array back to empty, used when the slot is
// reallocated.
func (t *commitTracker) resetSlot(idx uint32) {
	for i := range t.states[idx] {
		t.states[idx][i] = StateEmpty
	}
}

// state returns the commit state at one offset.
func (t *commitTracker) state(idx, offset uint32) CommitState {
	return t.states[idx][offset]
}

// markToCommit records predecode writeback: every in-range valid
// sub-instruction moves to to-commit. Offsets already committed or
// flushed are left alone.
func (t *commitTracker) markToCommit(idx uint32, validMask []bool) {
	row := t.states[idx]
	for off := range row {
		if off < len(validMask) && validMask[off] && row[off] == StateEmpty {
			row[off] = StateToCommit
		}
	}
}

// commit marks one offset committed.
func (t *commitTracker) commit(idx, offset uint32) {
	if offset < t.width {
		t.states[idx][offset] = StateCommitted
	}
}

// flushFrom applies a redirect to the target slot: offsets after the
// redirect point become empty, the point itself becomes flushed when the
// redirect squashes its own instruction, and everything before it is
// untouched.
func (t *commitTracker) flushFrom(idx, offset uint32, flushSelf bool) {
	row := t.states[idx]
	for off := offset + 1; off < t.width; off++ {
		row[off] = StateEmpty
	}
	if flushSelf && offset < t.width {
		row[offset] = StateFlushed
	}
}

// committable reports whether the slot's array shows a fully retired
// block: every tracked sub-instruction in {to-commit, committed} with the
// last tracked one committed.
func (t *commitTracker) committable(idx uint32) bool {
	row := t.states[idx]
	last := -1
	for off, st := range row {
		switch st {
		case StateEmpty:
			continue
		case StateToCommit, StateCommitted:
			last = off
		default:
			return false
		}
	}
	return last >= 0 && row[last] == StateCommitted
}

// squashed reports whether the slot's first sub-instruction was flushed
// or never arrived, meaning the whole block was squashed and the commit
// cursor may skip it.
func (t *commitTracker) squashed(idx uint32) bool {
	st := t.states[idx][0]
	return st == StateFlushed || st == StateEmpty
}
