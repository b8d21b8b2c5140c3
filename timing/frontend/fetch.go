package frontend

import (
	"github.com/sarchlab/ftqsim/timing/ftq"
	"github.com/sarchlab/ftqsim/timing/icache"
)

// FetchedBlock describes one block the fetch unit finished predecoding,
// for the retire unit to execute against.
type FetchedBlock struct {
	Ptr   ftq.Ptr
	Start uint64
	// CFI is the taken-CFI prediction after any predecode correction.
	CFI ftq.CFIIndex
	// Next is the start address the frontend follows after this block,
	// after any predecode correction.
	Next uint64
	// Fault is the fault flag the fetch request carried.
	Fault ftq.FaultKind
}

// fetchJob is one in-flight fetch with its cache latency countdown.
type fetchJob struct {
	req        ftq.FetchRequest
	bytes      []byte
	cyclesLeft uint64
}

// FetchUnit consumes the queue's fetch requests, reads block bytes
// through the instruction cache, and writes predecode results back in
// dispatch order. Fetches complete after their cache access latency;
// later fetches never pass earlier ones.
type FetchUnit struct {
	cache    *icache.Cache
	width    uint32
	capacity int

	jobs []fetchJob

	stats FetchStats
}

// FetchStats holds fetch-unit performance counters.
type FetchStats struct {
	// Accepted is the number of fetch requests taken.
	Accepted uint64
	// Predecoded is the number of writebacks produced.
	Predecoded uint64
	// Corrections counts predecode-discovered mispredicts.
	Corrections uint64
	// Flushed counts in-flight fetches dropped by redirects.
	Flushed uint64
}

// NewFetchUnit creates a fetch unit decoding width-offset blocks through
// the given cache, holding at most capacity fetches in flight.
func NewFetchUnit(cache *icache.Cache, width uint32, capacity int) *FetchUnit {
	if capacity < 1 {
		capacity = 1
	}
	return &FetchUnit{
		cache:    cache,
		width:    width,
		capacity: capacity,
	}
}

// Stats returns the performance counters.
func (f *FetchUnit) Stats() FetchStats {
	return f.stats
}

// CanAccept reports whether a fetch request would be taken this cycle.
func (f *FetchUnit) CanAccept() bool {
	return len(f.jobs) < f.capacity
}

// Accept takes one fetch request, reading its block bytes from the
// cache. Must only be called after CanAccept reported true.
func (f *FetchUnit) Accept(req *ftq.FetchRequest) {
	blockBytes := uint64(f.width) * 2
	res := f.cache.FetchLine(req.StartAddr)
	latency := res.Latency

	lineSize := uint64(f.cache.Config().LineSize)
	lineOff := req.StartAddr % lineSize
	bytes := make([]byte, blockBytes)
	n := copy(bytes, res.Line[lineOff:])

	if uint64(n) < blockBytes {
		// The block straddles into the next line.
		res2 := f.cache.FetchLine(req.Block.NextLineAddr)
		copy(bytes[n:], res2.Line)
		if res2.Latency > latency {
			latency = res2.Latency
		}
	}

	f.jobs = append(f.jobs, fetchJob{
		req:        *req,
		bytes:      bytes,
		cyclesLeft: latency,
	})
	f.stats.Accepted++
}

// Tick advances the in-flight fetches. When the oldest one's latency has
// elapsed it is predecoded, producing the queue writeback and the block
// descriptor the retire unit consumes.
func (f *FetchUnit) Tick() (*ftq.PredecodeWriteback, *FetchedBlock) {
	for i := range f.jobs {
		if f.jobs[i].cyclesLeft > 0 {
			f.jobs[i].cyclesLeft--
		}
	}

	if len(f.jobs) == 0 || f.jobs[0].cyclesLeft > 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]

	wb, next := f.predecode(&job)
	f.stats.Predecoded++

	done := &FetchedBlock{
		Ptr:   job.req.Ptr,
		Start: job.req.StartAddr,
		CFI:   job.req.CFI,
		Next:  next,
		Fault: job.req.Fault,
	}
	if wb.Mispredict.Valid {
		done.CFI = wb.Mispredict
		f.stats.Corrections++
	}

	return wb, done
}

// predecode decodes the job's bytes, checks the prediction against the
// decoded control flow, and truncates the valid mask at the predicted
// taken CFI, past which nothing was sent downstream.
func (f *FetchUnit) predecode(job *fetchJob) (*ftq.PredecodeWriteback, uint64) {
	info := Predecode(job.bytes, f.width)
	req := &job.req
	start := req.StartAddr
	next := req.NextAddr

	wb := &ftq.PredecodeWriteback{Ptr: req.Ptr}

	if cfi := req.CFI; cfi.Valid && cfi.Offset < f.width {
		o := cfi.Offset
		isBr := info.BrMask[o]
		isJump := info.Jump.Kind != ftq.JumpNone && info.Jump.Offset == o

		switch {
		case !isBr && !isJump:
			// Predicted taken at something that is not a CFI: resume
			// sequentially after it.
			wb.SelfCheckMispred = true
			wb.Mispredict = cfi
			wb.Target = start + uint64(o+1)*2
		case isBr:
			if t := decodedTarget(job.bytes, o); t != next {
				wb.Mispredict = cfi
				wb.Target = t
			}
		case info.Jump.Kind == ftq.JumpJAL || info.Jump.Kind == ftq.JumpCall:
			if info.Jump.Target != next {
				wb.Mispredict = cfi
				wb.Target = info.Jump.Target
			}
		}

		// Offsets past the predicted CFI were not delivered.
		end := o + 1
		if !info.RVCMask[o] {
			end = o + 2
		}
		for off := end; off < f.width; off++ {
			info.ValidMask[off] = false
		}
	} else if info.Jump.Kind == ftq.JumpJAL || info.Jump.Kind == ftq.JumpCall {
		// An unpredicted direct jump always takes.
		wb.Mispredict = ftq.CFIIndex{Valid: true, Offset: info.Jump.Offset}
		wb.Target = info.Jump.Target
		for off := info.Jump.Offset + 2; off < f.width; off++ {
			info.ValidMask[off] = false
		}
	}

	if wb.Mispredict.Valid {
		next = wb.Target
	}

	wb.Info = info
	return wb, next
}

// decodedTarget reads the absolute target of the full-size CFI at the
// given offset.
func decodedTarget(bytes []byte, offset uint32) uint64 {
	p0 := uint16(bytes[offset*2]) | uint16(bytes[offset*2+1])<<8
	p1 := uint16(bytes[offset*2+2]) | uint16(bytes[offset*2+3])<<8
	return cfiTarget(p0, p1)
}

// Flush drops every in-flight fetch after a redirect.
func (f *FetchUnit) Flush() {
	f.stats.Flushed += uint64(len(f.jobs))
	f.jobs = f.jobs[:0]
}
