package frontend

import (
	"github.com/sarchlab/ftqsim/timing/ftq"
)

// PredictorConfig holds configuration for the staged block predictor.
type PredictorConfig struct {
	// BHTSize is the number of 2-bit counters in the Branch History
	// Table. Must be a power of 2. Default is 1024.
	BHTSize uint32
	// FTBSize is the number of entries in the fetch target buffer
	// storage. Must be a power of 2. Default is 256.
	FTBSize uint32
}

// DefaultPredictorConfig returns a default configuration.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		BHTSize: 1024,
		FTBSize: 256,
	}
}

// PredictorStats holds statistics for the staged predictor.
type PredictorStats struct {
	// Predictions is the total number of block predictions made.
	Predictions uint64
	// FTBHits is the number of FTB lookups that matched.
	FTBHits uint64
	// FTBMisses is the number of FTB lookups that missed.
	FTBMisses uint64
	// Updates is the number of commit-time updates consumed.
	Updates uint64
	// Redirects is the number of history restores from redirects.
	Redirects uint64
}

// FTBHitRate returns the FTB hit rate as a percentage.
func (s PredictorStats) FTBHitRate() float64 {
	total := s.FTBHits + s.FTBMisses
	if total == 0 {
		return 0
	}
	return float64(s.FTBHits) / float64(total) * 100
}

// ftbSlot is one entry of the predictor's direct-mapped FTB storage.
type ftbSlot struct {
	valid bool
	start uint64
	entry ftq.FTBEntry
}

// inflight is a prediction working its way through the pipeline toward
// its s3 confirmation.
type inflight struct {
	valid bool
	ptr   ftq.Ptr
	start uint64
	hit   bool
	cfi   ftq.CFIIndex
	spec  ftq.SpecSnapshot
	entry ftq.FTBEntry
	// cyclesLeft counts down to the s3 response.
	cyclesLeft int
}

// StagedPredictor is the block-granular branch predictor driving the
// queue: 2-bit saturating counters indexed by branch pc, plus compact
// per-block target entries keyed by block start address. Predictions are
// delivered in stages: s1 allocates immediately, s3 confirms two cycles
// later with the entry snapshot and metadata the commit path needs.
type StagedPredictor struct {
	config PredictorConfig
	width  uint32

	// Branch History Table - 2-bit saturating counters
	// States: 0=Strongly Not Taken, 1=Weakly Not Taken,
	//         2=Weakly Taken, 3=Strongly Taken
	bht []uint8

	ftb []ftbSlot

	// history is the speculative global taken/not-taken history,
	// shifted at each prediction and restored on redirects.
	history uint64

	// nextPC is the start address of the next block to predict.
	nextPC uint64

	// pending is the s1 response presented last cycle, re-presented
	// unchanged while the queue applies backpressure.
	pending *ftq.StageResponse

	pipe [2]inflight

	stats PredictorStats
}

// NewStagedPredictor creates a staged predictor predicting width-offset
// blocks, starting at entryPC.
func NewStagedPredictor(
	config PredictorConfig, width uint32, entryPC uint64,
) *StagedPredictor {
	bhtSize := config.BHTSize
	ftbSize := config.FTBSize
	if bhtSize == 0 {
		bhtSize = 1024
	}
	if ftbSize == 0 {
		ftbSize = 256
	}

	p := &StagedPredictor{
		config: PredictorConfig{BHTSize: bhtSize, FTBSize: ftbSize},
		width:  width,
		bht:    make([]uint8, bhtSize),
		ftb:    make([]ftbSlot, ftbSize),
		nextPC: entryPC,
	}

	// Initialize BHT weakly taken.
	for i := range p.bht {
		p.bht[i] = 2
	}

	return p
}

// Stats returns the predictor statistics.
func (p *StagedPredictor) Stats() PredictorStats {
	return p.stats
}

// NextPC returns the start address the next s1 response will predict.
func (p *StagedPredictor) NextPC() uint64 {
	return p.nextPC
}

func (p *StagedPredictor) bhtIndex(pc uint64) uint32 {
	// Fold the low history bits in so the same static branch trains
	// separate counters on different paths.
	return uint32(((pc >> 1) ^ p.history) & uint64(p.config.BHTSize-1))
}

func (p *StagedPredictor) ftbIndex(start uint64) uint32 {
	return uint32((start >> 1) & uint64(p.config.FTBSize-1))
}

// lookup finds the FTB entry for a block start, if recorded.
func (p *StagedPredictor) lookup(start uint64) (ftq.FTBEntry, bool) {
	slot := p.ftb[p.ftbIndex(start)]
	if slot.valid && slot.start == start {
		return slot.entry, true
	}
	return ftq.FTBEntry{}, false
}

// snapshot captures the speculative history for redirect recovery.
func (p *StagedPredictor) snapshot() ftq.SpecSnapshot {
	data := make([]byte, 8)
	h := p.history
	for i := range data {
		data[i] = byte(h >> (8 * uint(i)))
	}
	return ftq.SpecSnapshot{Data: data}
}

func (p *StagedPredictor) restore(s ftq.SpecSnapshot) {
	var h uint64
	for i, b := range s.Data {
		if i >= 8 {
			break
		}
		h |= uint64(b) << (8 * uint(i))
	}
	p.history = h
}

// Tick produces this cycle's response bundle. accepted reports whether
// last cycle's s1 response was taken by the queue; when false the same
// response is presented again unchanged.
func (p *StagedPredictor) Tick(accepted bool, allocatedAt ftq.Ptr) *ftq.PredictorResponse {
	resp := &ftq.PredictorResponse{}

	// The oldest in-flight prediction becomes this cycle's s3 response
	// once its latency runs out; only then may an accepted prediction
	// shift in behind it.
	if fl := &p.pipe[1]; fl.valid {
		fl.cyclesLeft--
		if fl.cyclesLeft <= 0 {
			resp.S3 = &ftq.StageResponse{
				Valid: true,
				Stage: 3,
				Ptr:   fl.ptr,
				Hit:   fl.hit,
				CFI:   fl.cfi,
				FTB:   fl.entry,
				Meta:  []byte{byte(fl.cfi.Offset)},
				Spec:  fl.spec,
			}
			fl.valid = false
		}
	}
	if accepted {
		p.pipe[1] = p.pipe[0]
		p.pipe[0] = inflight{}
		p.pending = nil
	}

	if p.pending == nil {
		p.pending = p.predict(allocatedAt)
	} else {
		// Retried allocation: the slot it will land in may have moved.
		p.pipe[0].ptr = allocatedAt
	}
	resp.S1 = p.pending
	return resp
}

// predict builds the s1 response for the current next PC and
// speculatively follows it.
func (p *StagedPredictor) predict(allocatedAt ftq.Ptr) *ftq.StageResponse {
	start := p.nextPC
	spec := p.snapshot()
	entry, hit := p.lookup(start)
	p.stats.Predictions++
	if hit {
		p.stats.FTBHits++
	} else {
		p.stats.FTBMisses++
	}

	cfi := ftq.CFIIndex{}
	target := start + uint64(p.width)*2
	taken := false

	if hit {
		target = entry.FallthroughAddr(start, p.width)
		for _, br := range entry.Brs {
			if !br.Valid {
				continue
			}
			pc := start + uint64(br.Offset)*2
			if br.StrongBias || p.bht[p.bhtIndex(pc)] >= 2 {
				cfi = ftq.CFIIndex{Valid: true, Offset: br.Offset}
				target = br.Target(start)
				taken = true
				break
			}
		}
		if !taken && entry.Tail.Valid {
			cfi = ftq.CFIIndex{Valid: true, Offset: entry.Tail.Offset}
			target = entry.Tail.Target(start)
			taken = true
		}
	}

	p.history = p.history<<1 | boolBit(taken)

	s := &ftq.StageResponse{
		Valid: true,
		Stage: 1,
		Block: ftq.FetchBlock{
			StartAddr:    start,
			NextLineAddr: (start/64 + 1) * 64,
			CrossMask:    make([]bool, p.width),
		},
		CFI:    cfi,
		Hit:    hit,
		Target: target,
	}

	p.pipe[0] = inflight{
		valid:      true,
		ptr:        allocatedAt,
		start:      start,
		hit:        hit,
		cfi:        cfi,
		spec:       spec,
		entry:      entry,
		cyclesLeft: 1,
	}

	p.nextPC = target
	return s
}

// Redirect steers the predictor onto the corrected path and restores the
// speculative history from the redirected slot's snapshot.
func (p *StagedPredictor) Redirect(r *ftq.Redirect) {
	p.nextPC = r.Target
	p.restore(r.Spec)
	if r.Cause != ftq.CauseNone {
		// The corrected outcome of the redirecting branch is taken.
		p.history = p.history<<1 | 1
	}
	p.pipe[0] = inflight{}
	p.pipe[1] = inflight{}
	p.pending = nil
	p.stats.Redirects++
}

// Update consumes one commit-time update: the regenerated entry replaces
// the stored one and every resolved branch trains its counter.
func (p *StagedPredictor) Update(u *ftq.PredictorUpdate) {
	p.stats.Updates++

	idx := p.ftbIndex(u.PC)
	p.ftb[idx] = ftbSlot{valid: true, start: u.PC, entry: u.NewEntry}

	for i, br := range u.NewEntry.Brs {
		if !br.Valid || i >= len(u.TakenMask) {
			continue
		}
		pc := u.PC + uint64(br.Offset)*2
		bhtIdx := p.bhtIndex(pc)
		counter := p.bht[bhtIdx]
		if u.TakenMask[i] {
			if counter < 3 {
				p.bht[bhtIdx] = counter + 1
			}
		} else if u.CFI.Valid && u.CFI.Offset > br.Offset {
			// The branch was reached and fell through.
			if counter > 0 {
				p.bht[bhtIdx] = counter - 1
			}
		} else if !u.CFI.Valid {
			if counter > 0 {
				p.bht[bhtIdx] = counter - 1
			}
		}
	}
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
