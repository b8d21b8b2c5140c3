package ftq

import "fmt"

// Statistics holds queue performance counters. They are a reporting side
// channel updated by Tick, never consulted by the transition itself.
type Statistics struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Allocations is the number of slots allocated from s1 responses.
	Allocations uint64
	// PredictorStalls counts s1 responses rejected by backpressure.
	PredictorStalls uint64
	// PredictorOverrides counts s2/s3 self-redirects.
	PredictorOverrides uint64
	// FetchRequests / PrefetchRequests count requests that fired.
	FetchRequests    uint64
	PrefetchRequests uint64
	// Writebacks is the number of predecode writebacks absorbed.
	Writebacks uint64
	// FalseHits counts predictor-table matches disproved by predecode.
	FalseHits uint64
	// Commits is the number of slots the commit cursor retired.
	Commits uint64
	// SquashSkips counts fully squashed blocks skipped without stalling.
	SquashSkips uint64
	// BackendRedirects / PredecodeRedirects count applied redirects by
	// source; SuppressedRedirects counts same-cycle losers.
	BackendRedirects    uint64
	PredecodeRedirects  uint64
	SuppressedRedirects uint64
	// Faults counts latched instruction-fetch faults.
	Faults uint64

	// FTB generator path counters.
	FTBInit         uint64
	FTBUnchanged    uint64
	FTBNewBranch    uint64
	FTBJalrRetarget uint64
	FTBBiasChange   uint64
	FTBFull         uint64
}

// RedirectRate returns applied redirects per thousand cycles.
func (s Statistics) RedirectRate() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.BackendRedirects+s.PredecodeRedirects) / float64(s.Cycles) * 1000
}

// FalseHitRate returns false hits as a percentage of commits.
func (s Statistics) FalseHitRate() float64 {
	if s.Commits == 0 {
		return 0
	}
	return float64(s.FalseHits) / float64(s.Commits) * 100
}

// FetchTargetQueue is the speculative pipeline coordination queue between
// the staged branch predictor, the fetch-dispatch stage, and retirement.
// All state transitions are evaluated against the previous cycle's state
// and latched by the end of each Tick call.
type FetchTargetQueue struct {
	cfg Config
	gen Generator

	store   *entryStore
	tracker *commitTracker
	exc     exceptionTracker

	// Cursors over the circular index space.
	bpuPtr     Ptr
	ifuPtr     Ptr
	ifuPtrP1   Ptr
	ifuPtrP2   Ptr
	pfPtr      Ptr
	pfPtrP1    Ptr
	wbPtr      Ptr
	commPtr    Ptr
	commPtrP1  Ptr
	robCommPtr Ptr

	// Per-slot status.
	fetchStatus []FetchStatus
	pfStatus    []FetchStatus
	hitStatus   []HitStatus
	cfiIndex    []CFIIndex
	cfiTarget   []uint64
	mispredVec  [][]bool

	// One-cycle read ports into the address table plus the redirect
	// snapshot pre-read.
	ifuPort     blockReadPort
	ifuNextPort blockReadPort
	pfPort      blockReadPort
	pfNextPort  blockReadPort
	hintValid   bool
	hintIdx     uint32
	hintSpec    SpecSnapshot

	// Table-update cool-down, in cycles.
	coolDown uint32

	// Newest allocation, for backend address bookkeeping.
	newestValid  bool
	newestPtr    Ptr
	newestTarget uint64

	stats Statistics
}

// New creates a fetch target queue with the given configuration.
func New(cfg Config) (*FetchTargetQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}

	q := &FetchTargetQueue{
		cfg:         cfg,
		gen:         Generator{Width: cfg.Width, NumBr: cfg.BranchSlots},
		store:       newEntryStore(cfg.Depth),
		tracker:     newCommitTracker(cfg.Depth, cfg.Width),
		fetchStatus: make([]FetchStatus, cfg.Depth),
		pfStatus:    make([]FetchStatus, cfg.Depth),
		hitStatus:   make([]HitStatus, cfg.Depth),
		cfiIndex:    make([]CFIIndex, cfg.Depth),
		cfiTarget:   make([]uint64, cfg.Depth),
		mispredVec:  make([][]bool, cfg.Depth),
	}
	for i := range q.mispredVec {
		q.mispredVec[i] = make([]bool, cfg.Width)
	}
	q.syncShadows()
	return q, nil
}

// Config returns the queue configuration.
func (q *FetchTargetQueue) Config() Config { return q.cfg }

// Stats returns the performance counters.
func (q *FetchTargetQueue) Stats() Statistics { return q.stats }

// Cursor accessors, mainly for harnesses and invariant checks.

// AllocPtr returns the allocate cursor.
func (q *FetchTargetQueue) AllocPtr() Ptr { return q.bpuPtr }

// DispatchPtr returns the fetch-dispatch cursor.
func (q *FetchTargetQueue) DispatchPtr() Ptr { return q.ifuPtr }

// PrefetchPtr returns the prefetch-dispatch cursor.
func (q *FetchTargetQueue) PrefetchPtr() Ptr { return q.pfPtr }

// WritebackPtr returns the predecode-writeback cursor.
func (q *FetchTargetQueue) WritebackPtr() Ptr { return q.wbPtr }

// CommitPtr returns the commit cursor.
func (q *FetchTargetQueue) CommitPtr() Ptr { return q.commPtr }

// ValidEntries returns the number of allocated, uncommitted slots.
func (q *FetchTargetQueue) ValidEntries() int {
	return Distance(q.bpuPtr, q.commPtr, q.cfg.Depth)
}

// CommitStateAt returns the commit state of one sub-instruction slot.
func (q *FetchTargetQueue) CommitStateAt(ptr Ptr, offset uint32) CommitState {
	return q.tracker.state(ptr.Index, offset)
}

// HitStatusAt returns the predictor-table lookup status of a slot.
func (q *FetchTargetQueue) HitStatusAt(ptr Ptr) HitStatus {
	return q.hitStatus[ptr.Index]
}

// EntryAt returns the FTB entry snapshot stored for a slot.
func (q *FetchTargetQueue) EntryAt(ptr Ptr) FTBEntry {
	return q.store.ftb(ptr.Index)
}

// CommittedThrough answers the MMIO ordering query: whether every slot
// up to and including ptr has already committed. Memory-mapped fetches
// that must be architecturally ordered gate on this.
func (q *FetchTargetQueue) CommittedThrough(ptr Ptr) bool {
	return ptr.Before(q.commPtr, q.cfg.Depth)
}

// Reset clears all queue state and statistics.
func (q *FetchTargetQueue) Reset() {
	fresh, _ := New(q.cfg)
	*q = *fresh
}

// syncShadows rederives the lookahead shadow cursors from their
// primaries.
func (q *FetchTargetQueue) syncShadows() {
	d := q.cfg.Depth
	q.ifuPtrP1 = q.ifuPtr.Inc(d)
	q.ifuPtrP2 = q.ifuPtrP1.Inc(d)
	q.pfPtrP1 = q.pfPtr.Inc(d)
	q.commPtrP1 = q.commPtr.Inc(d)
}

// rowWrite records an address-table write performed this cycle, feeding
// the read-port bypass paths.
type rowWrite struct {
	valid bool
	idx   uint32
	row   FetchBlock
}

// Tick evaluates one cycle. Every decision reads the state left by the
// previous cycle; all mutations latch before Tick returns.
func (q *FetchTargetQueue) Tick(in CycleInput) CycleOutput {
	q.stats.Cycles++
	var out CycleOutput
	d := q.cfg.Depth

	// Commit eligibility is sampled before anything moves: it gates
	// predictor backpressure this cycle.
	commitFires := q.commitEligible()

	// Predecode writeback, possibly raising a fetch-stage redirect.
	var pdRedirect *Redirect
	if in.Writeback != nil {
		pdRedirect = q.applyWriteback(in.Writeback)
	}

	// Retirement commit events.
	q.applyCommits(in.Commits)

	// Redirect arbitration: at most one applied per cycle, retirement
	// first.
	var backend *Redirect
	if in.Redirect != nil {
		r := in.Redirect
		backend = &Redirect{
			Ptr: r.Ptr, Offset: r.Offset, Level: r.Level,
			Target: r.Target, Cause: r.Cause, Taken: r.Taken,
			Fault: r.Fault,
		}
	}
	applied, source := arbitrate(backend, pdRedirect)
	if backend != nil && pdRedirect != nil {
		q.stats.SuppressedRedirects++
	}
	redirected := applied != nil
	if redirected {
		q.applyRollback(applied)
		out.Redirect = applied
		switch source {
		case RedirectBackend:
			q.stats.BackendRedirects++
		case RedirectPredecode:
			q.stats.PredecodeRedirects++
		}
	}

	// Predictor responses. A rollback this cycle takes priority over
	// any allocation or bypass-driven dispatch to the slots it
	// invalidated, so the whole response is deferred.
	var write rowWrite
	if !redirected && in.Predictor != nil {
		out.PredictorAccepted, write = q.handlePredictor(in.Predictor, commitFires)
	}

	// Fetch and prefetch dispatch, suppressed on redirect cycles.
	if !redirected {
		out.ToFetch = q.dispatchFetch(in.FetchReady, write)
		out.ToPrefetch = q.dispatchPrefetch(in.PrefetchReady, write)
	}

	// Commit and FTB-entry generation.
	out.ToPredictor = q.tryCommit(commitFires)

	// Fault latch drains once writeback has moved past the slot.
	q.exc.drain(q.wbPtr, d)

	// Prime the one-cycle read ports for the coming cycle.
	q.ifuPort.latch(q.store, q.ifuPtr.Index, write.valid, write.idx, write.row)
	q.ifuNextPort.latch(q.store, q.ifuPtrP1.Index, write.valid, write.idx, write.row)
	q.pfPort.latch(q.store, q.pfPtr.Index, write.valid, write.idx, write.row)
	q.pfNextPort.latch(q.store, q.pfPtrP1.Index, write.valid, write.idx, write.row)
	if len(in.RedirectHints) > 0 {
		h := in.RedirectHints[0]
		q.hintValid = true
		q.hintIdx = h.Index
		q.hintSpec = q.store.spec(h.Index)
	} else {
		q.hintValid = false
	}

	out.NewestValid = q.newestValid
	out.NewestPtr = q.newestPtr
	out.NewestTarget = q.newestTarget

	q.checkInvariants()
	return out
}

// applyWriteback absorbs one predecode writeback: commit states move to
// to-commit, the predictor's claimed hit is verified, and a discovered
// mispredict becomes a fetch-stage redirect candidate.
func (q *FetchTargetQueue) applyWriteback(wb *PredecodeWriteback) *Redirect {
	if wb.Ptr != q.wbPtr {
		panic(fmt.Sprintf(
			"ftq: out-of-order predecode writeback: got %v, expected %v",
			wb.Ptr, q.wbPtr))
	}
	idx := wb.Ptr.Index

	q.store.writePredecode(idx, wb.Info)
	q.tracker.markToCommit(idx, wb.Info.ValidMask)
	q.stats.Writebacks++

	if q.hitStatus[idx] == Hit {
		if wb.SelfCheckMispred || !q.store.ftb(idx).ConsistentWith(wb.Info) {
			q.hitStatus[idx] = FalseHit
			q.stats.FalseHits++
		}
	}

	var rd *Redirect
	if wb.Mispredict.Valid {
		q.cfiIndex[idx] = wb.Mispredict
		q.cfiTarget[idx] = wb.Target
		if wb.Mispredict.Offset < q.cfg.Width {
			q.mispredVec[idx][wb.Mispredict.Offset] = true
		}
		rd = &Redirect{
			Ptr:    wb.Ptr,
			Offset: wb.Mispredict.Offset,
			Level:  FlushAfter,
			Target: wb.Target,
			Cause:  CauseTarget,
		}
	}

	q.wbPtr = q.wbPtr.Inc(q.cfg.Depth)
	return rd
}

// applyCommits marks retired sub-instructions committed. Fused kinds
// spill into the following slot when they run past the block.
func (q *FetchTargetQueue) applyCommits(events []CommitEvent) {
	d := q.cfg.Depth
	for _, ev := range events {
		ptr := ev.Ptr
		off := ev.Offset
		for n := uint32(0); n <= ev.Kind.extra(); n++ {
			if off >= q.cfg.Width {
				ptr = ptr.Inc(d)
				off = 0
			}
			q.tracker.commit(ptr.Index, off)
			off++
		}
		if ev.Ptr.After(q.robCommPtr, d) {
			q.robCommPtr = ev.Ptr
		}
	}
}

// applyRollback performs the cursor resets and commit-state rewrite for
// the single redirect applied this cycle.
func (q *FetchTargetQueue) applyRollback(r *Redirect) {
	d := q.cfg.Depth
	if r.Ptr == q.bpuPtr || r.Ptr.After(q.bpuPtr, d) {
		panic(fmt.Sprintf(
			"ftq: redirect targets unallocated slot %v (alloc cursor %v)",
			r.Ptr, q.bpuPtr))
	}

	next := r.Ptr.Inc(d)
	q.bpuPtr = next
	q.ifuPtr = next
	q.pfPtr = next
	q.wbPtr = next
	q.syncShadows()

	idx := r.Ptr.Index
	q.tracker.flushFrom(idx, r.Offset, r.flushSelf())

	if r.Source == RedirectBackend {
		if r.Cause != CauseNone && r.Offset < q.cfg.Width {
			q.mispredVec[idx][r.Offset] = true
			if !r.flushSelf() && r.Taken {
				q.cfiIndex[idx] = CFIIndex{Valid: true, Offset: r.Offset}
				q.cfiTarget[idx] = r.Target
			} else {
				// The slot's recorded CFI did not actually take.
				q.cfiIndex[idx] = CFIIndex{}
			}
		}
		if r.Fault != FaultNone {
			// The faulting pc is refetched into the slot right after
			// the redirect target; that slot's requests must carry the
			// flag until writeback drains past it.
			q.exc.latch(r.Fault, next)
			q.stats.Faults++
		}
	}

	// Attach the slot's speculative snapshot so the predictor can
	// restore its history. The lookahead hint pre-read covers the
	// common case without paying the table latency.
	if q.hintValid && q.hintIdx == idx {
		r.Spec = q.hintSpec
	} else {
		r.Spec = q.store.spec(idx)
	}

	// Anything newer than the redirect slot is gone.
	if q.newestValid && q.newestPtr.After(r.Ptr, d) {
		q.newestValid = false
	}
}

// handlePredictor absorbs the 3-stage response bundle: s1 allocates,
// s2/s3 refine or self-redirect, s3 finalizes the table snapshot.
func (q *FetchTargetQueue) handlePredictor(
	resp *PredictorResponse, commitFires bool,
) (accepted bool, write rowWrite) {
	d := q.cfg.Depth

	if s := resp.S1; s != nil && s.Valid {
		if Distance(q.bpuPtr, q.commPtr, d) < int(d) || commitFires {
			write = q.allocate(s)
			accepted = true
		} else {
			q.stats.PredictorStalls++
		}
	}

	for _, s := range []*StageResponse{resp.S2, resp.S3} {
		if s == nil || !s.Valid {
			continue
		}
		if s.Override {
			write = q.selfRedirect(s)
			continue
		}
		idx := s.Ptr.Index
		if s.Hit {
			q.hitStatus[idx] = Hit
		} else {
			q.hitStatus[idx] = NotHit
		}
		q.cfiIndex[idx] = s.CFI
		if s.Stage == 3 {
			q.store.writeMeta(idx, s.Meta, s.FTB, 3)
			q.store.writeSpec(idx, s.Spec)
		}
	}
	return accepted, write
}

// allocate initializes the row at the allocate cursor from an accepted
// s1 response and advances the cursor.
func (q *FetchTargetQueue) allocate(s *StageResponse) rowWrite {
	idx := q.bpuPtr.Index

	q.store.writeBlock(idx, s.Block)
	q.store.writeMeta(idx, nil, FTBEntry{}, s.Stage)
	q.tracker.resetSlot(idx)
	q.fetchStatus[idx] = StatusToSend
	q.pfStatus[idx] = StatusToSend
	if s.Hit {
		q.hitStatus[idx] = Hit
	} else {
		q.hitStatus[idx] = NotHit
	}
	q.cfiIndex[idx] = s.CFI
	q.cfiTarget[idx] = s.Target
	for i := range q.mispredVec[idx] {
		q.mispredVec[idx][i] = false
	}

	q.newestValid = true
	q.newestPtr = q.bpuPtr
	q.newestTarget = s.Target

	q.bpuPtr = q.bpuPtr.Inc(q.cfg.Depth)
	q.stats.Allocations++
	return rowWrite{valid: true, idx: idx, row: s.Block}
}

// selfRedirect handles an s2/s3 response that overrides the predictor's
// own earlier guess: the slot is rewritten, the allocate cursor rolls
// back to just past it, and any consumer cursor that had run ahead rolls
// back onto it. This is a narrower rollback than a retirement redirect.
func (q *FetchTargetQueue) selfRedirect(s *StageResponse) rowWrite {
	d := q.cfg.Depth
	idx := s.Ptr.Index

	q.store.writeBlock(idx, s.Block)
	q.tracker.resetSlot(idx)
	q.fetchStatus[idx] = StatusToSend
	q.pfStatus[idx] = StatusToSend
	if s.Hit {
		q.hitStatus[idx] = Hit
	} else {
		q.hitStatus[idx] = NotHit
	}
	q.cfiIndex[idx] = s.CFI
	q.cfiTarget[idx] = s.Target
	for i := range q.mispredVec[idx] {
		q.mispredVec[idx][i] = false
	}
	if s.Stage == 3 {
		q.store.writeMeta(idx, s.Meta, s.FTB, 3)
		q.store.writeSpec(idx, s.Spec)
	}

	q.bpuPtr = s.Ptr.Inc(d)
	if q.ifuPtr.After(s.Ptr, d) {
		q.ifuPtr = s.Ptr
	}
	if q.pfPtr.After(s.Ptr, d) {
		q.pfPtr = s.Ptr
	}
	if q.wbPtr.After(s.Ptr, d) {
		q.wbPtr = s.Ptr
	}
	q.syncShadows()

	q.newestValid = true
	q.newestPtr = s.Ptr
	q.newestTarget = s.Target

	q.stats.PredictorOverrides++
	return rowWrite{valid: true, idx: idx, row: s.Block}
}

// dispatchFetch presents one fetch request when the dispatch cursor has
// an unsent entry and storage (or the write bypass) can supply its row.
func (q *FetchTargetQueue) dispatchFetch(ready bool, write rowWrite) *FetchRequest {
	d := q.cfg.Depth
	if q.ifuPtr == q.bpuPtr {
		return nil
	}
	idx := q.ifuPtr.Index
	if q.fetchStatus[idx] != StatusToSend {
		return nil
	}

	// A same-cycle write supersedes whatever the port latched.
	row, ok := q.ifuPort.read(idx)
	if write.valid && write.idx == idx {
		row, ok = write.row, true
	}
	if !ok {
		// Row not readable yet; retry next cycle.
		return nil
	}

	req := &FetchRequest{
		Ptr:       q.ifuPtr,
		StartAddr: row.StartAddr,
		Block:     row,
		CFI:       q.cfiIndex[idx],
		Fault:     q.exc.flagFor(q.ifuPtr),
	}
	req.NextAddr = q.nextStartAddr(q.ifuPtrP1, &q.ifuNextPort, idx, write)

	if ready {
		q.fetchStatus[idx] = StatusSent
		q.ifuPtr = q.ifuPtr.Inc(d)
		q.syncShadows()
		q.stats.FetchRequests++
	}
	return req
}

// dispatchPrefetch runs the dispatch protocol on the independent
// prefetch cursor.
func (q *FetchTargetQueue) dispatchPrefetch(ready bool, write rowWrite) *FetchRequest {
	d := q.cfg.Depth
	if q.pfPtr == q.bpuPtr {
		return nil
	}
	idx := q.pfPtr.Index
	if q.pfStatus[idx] != StatusToSend {
		return nil
	}

	row, ok := q.pfPort.read(idx)
	if write.valid && write.idx == idx {
		row, ok = write.row, true
	}
	if !ok {
		return nil
	}

	req := &FetchRequest{
		Ptr:       q.pfPtr,
		StartAddr: row.StartAddr,
		Block:     row,
		CFI:       q.cfiIndex[idx],
		Fault:     q.exc.flagFor(q.pfPtr),
	}
	req.NextAddr = q.nextStartAddr(q.pfPtrP1, &q.pfNextPort, idx, write)

	if ready {
		q.pfStatus[idx] = StatusSent
		q.pfPtr = q.pfPtr.Inc(d)
		q.syncShadows()
		q.stats.PrefetchRequests++
	}
	return req
}

// nextStartAddr resolves a request's next-block start address: from the
// following entry when one exists (read one cycle ahead, or bypassed
// when it was written this cycle), otherwise from the current entry's
// predicted target.
func (q *FetchTargetQueue) nextStartAddr(
	nextPtr Ptr, port *blockReadPort, curIdx uint32, write rowWrite,
) uint64 {
	if nextPtr != q.bpuPtr {
		if write.valid && write.idx == nextPtr.Index {
			return write.row.StartAddr
		}
		if row, ok := port.read(nextPtr.Index); ok {
			return row.StartAddr
		}
	}
	return q.cfiTarget[curIdx]
}

// commitEligible reports whether the commit cursor may advance this
// cycle: the slot has been predecoded, no table-update cool-down is in
// progress, and either retirement already confirmed past it, its commit
// states are complete, or it was entirely squashed.
func (q *FetchTargetQueue) commitEligible() bool {
	if q.coolDown > 0 {
		return false
	}
	if q.commPtr == q.wbPtr {
		return false
	}
	idx := q.commPtr.Index
	return q.robCommPtr.After(q.commPtr, q.cfg.Depth) ||
		q.tracker.committable(idx) ||
		q.tracker.squashed(idx)
}

// tryCommit advances the commit cursor and runs the FTB-entry generator
// for blocks that actually executed.
func (q *FetchTargetQueue) tryCommit(eligible bool) *PredictorUpdate {
	if !eligible {
		if q.coolDown > 0 {
			q.coolDown--
		}
		return nil
	}

	idx := q.commPtr.Index
	var upd *PredictorUpdate

	if q.tracker.squashed(idx) && !q.tracker.committable(idx) {
		q.stats.SquashSkips++
	} else {
		block := q.store.block(idx)
		old := q.store.ftb(idx)
		hit := q.hitStatus[idx] == Hit
		newEntry, rep := q.gen.Generate(
			block.StartAddr, old, hit,
			q.store.predecode(idx),
			q.cfiIndex[idx], q.cfiTarget[idx],
			q.mispredVec[idx],
		)

		upd = &PredictorUpdate{
			PC:          block.StartAddr,
			Meta:        q.store.meta(idx),
			Spec:        q.store.spec(idx),
			CFI:         q.cfiIndex[idx],
			Target:      q.cfiTarget[idx],
			OldEntry:    old,
			NewEntry:    newEntry,
			MispredMask: rep.MispredMask,
			TakenMask:   rep.TakenMask,
			JmpTaken:    rep.TailTaken,
			FalseHit:    q.hitStatus[idx] == FalseHit,
			Stage:       q.store.stage(idx),
		}

		q.coolDown = q.cfg.UpdateCoolDown
		q.stats.Commits++
		q.countGenPath(rep)
	}

	q.commPtr = q.commPtr.Inc(q.cfg.Depth)
	q.syncShadows()
	return upd
}

func (q *FetchTargetQueue) countGenPath(rep GenReport) {
	switch {
	case rep.Init:
		q.stats.FTBInit++
	case rep.NewBranch:
		q.stats.FTBNewBranch++
		if rep.BranchFull {
			q.stats.FTBFull++
		}
	case rep.JalrRetarget:
		q.stats.FTBJalrRetarget++
	case rep.StrongBiasChange:
		q.stats.FTBBiasChange++
	case rep.Unchanged:
		q.stats.FTBUnchanged++
	}
}

// checkInvariants enforces the implementation-time invariants. A
// violation is a bug in the queue or its harness, never a recoverable
// condition.
func (q *FetchTargetQueue) checkInvariants() {
	d := q.cfg.Depth
	if q.bpuPtr.Before(q.ifuPtr, d) {
		panic("ftq: dispatch cursor ran past allocate cursor")
	}
	if q.bpuPtr.Before(q.pfPtr, d) {
		panic("ftq: prefetch cursor ran past allocate cursor")
	}
	if q.bpuPtr.Before(q.wbPtr, d) {
		panic("ftq: writeback cursor ran past allocate cursor")
	}
	if q.bpuPtr.Before(q.commPtr, d) {
		panic("ftq: commit cursor ran past allocate cursor")
	}
	if q.ifuPtr.Before(q.commPtr, d) {
		panic("ftq: commit cursor ran past dispatch cursor")
	}
	if Distance(q.bpuPtr, q.commPtr, d) > int(d) {
		panic("ftq: queue overfull")
	}
}
