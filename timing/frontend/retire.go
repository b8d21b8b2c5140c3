package frontend

import (
	"github.com/sarchlab/ftqsim/timing/ftq"
	"github.com/sarchlab/ftqsim/timing/icache"
)

// retireJob is one fetched block waiting to retire.
type retireJob struct {
	block      FetchedBlock
	cyclesLeft int
}

// RetireUnit is the backend stand-in: it executes fetched blocks against
// the workload's ground truth in program order, confirms retired
// sub-instructions with commit events, and raises a redirect whenever
// the frontend's followed path diverges from the true one.
type RetireUnit struct {
	prog    *Program
	img     *icache.Image
	latency int

	// visits holds per-branch execution counts, driving the
	// deterministic outcome streams.
	visits map[uint64]uint64

	// expected is the true start address of the next block to retire.
	// Blocks arriving with any other start are wrong-path leftovers and
	// are dropped.
	expected uint64

	jobs []retireJob

	stats RetireStats
}

// RetireStats holds retire-unit performance counters.
type RetireStats struct {
	// Retired is the number of correct-path blocks executed.
	Retired uint64
	// WrongPath is the number of wrong-path blocks dropped.
	WrongPath uint64
	// Redirects is the number of backend redirects raised.
	Redirects uint64
	// Instructions is the number of sub-instruction slots committed.
	Instructions uint64
}

// NewRetireUnit creates a retire unit executing prog, confirming blocks
// latency cycles after their predecode completes.
func NewRetireUnit(prog *Program, img *icache.Image, latency int) *RetireUnit {
	if latency < 1 {
		latency = 1
	}
	return &RetireUnit{
		prog:     prog,
		img:      img,
		latency:  latency,
		visits:   map[uint64]uint64{},
		expected: prog.Base,
	}
}

// Stats returns the performance counters.
func (r *RetireUnit) Stats() RetireStats {
	return r.stats
}

// Feed hands one predecoded block to the retire pipeline.
func (r *RetireUnit) Feed(block *FetchedBlock) {
	r.jobs = append(r.jobs, retireJob{
		block:      *block,
		cyclesLeft: r.latency,
	})
}

// Hint returns the slot the next retirement will touch when it is one
// cycle away, for the queue's redirect pre-read.
func (r *RetireUnit) Hint() []ftq.Ptr {
	if len(r.jobs) > 0 && r.jobs[0].cyclesLeft == 1 {
		return []ftq.Ptr{r.jobs[0].block.Ptr}
	}
	return nil
}

// Tick retires at most one block. It returns the commit events for the
// retired sub-instructions and, on divergence, the backend redirect.
func (r *RetireUnit) Tick() ([]ftq.CommitEvent, *ftq.BackendRedirect) {
	for i := range r.jobs {
		if r.jobs[i].cyclesLeft > 0 {
			r.jobs[i].cyclesLeft--
		}
	}

	if len(r.jobs) == 0 || r.jobs[0].cyclesLeft > 0 {
		return nil, nil
	}
	block := r.jobs[0].block
	r.jobs = r.jobs[1:]

	if block.Start != r.expected {
		r.stats.WrongPath++
		return nil, nil
	}
	r.stats.Retired++

	// The fetched extent ends at the predicted taken CFI; past it
	// nothing reached the backend.
	extent := r.prog.Width
	if block.CFI.Valid && block.CFI.Offset+2 < extent {
		extent = block.CFI.Offset + 2
	}

	outcome := r.prog.Execute(r.img, block.Start, extent, r.visits)
	r.expected = outcome.Next

	commits := []ftq.CommitEvent{{
		Ptr:    block.Ptr,
		Offset: outcome.LastOffset,
	}}
	r.stats.Instructions += uint64(outcome.LastOffset) + 1

	if outcome.CFI == block.CFI && outcome.Next == block.Next {
		return commits, nil
	}

	// The frontend followed the wrong path from this block.
	rd := &ftq.BackendRedirect{
		Ptr:    block.Ptr,
		Target: outcome.Next,
		Level:  ftq.FlushAfter,
	}
	switch {
	case !outcome.CFI.Valid:
		// Predicted taken, actually fell through: resume past the
		// fetched extent.
		rd.Offset = outcome.LastOffset
		rd.Cause = ftq.CauseDirection
	case outcome.CFI == block.CFI:
		rd.Offset = outcome.CFI.Offset
		rd.Cause = ftq.CauseTarget
		rd.Taken = true
	default:
		rd.Offset = outcome.CFI.Offset
		rd.Cause = ftq.CauseDirection
		rd.Taken = true
	}

	r.stats.Redirects++
	r.dropWrongPath()
	return commits, rd
}

// dropWrongPath clears the queued jobs behind a redirect; they are all
// wrong-path.
func (r *RetireUnit) dropWrongPath() {
	r.stats.WrongPath += uint64(len(r.jobs))
	r.jobs = r.jobs[:0]
}
