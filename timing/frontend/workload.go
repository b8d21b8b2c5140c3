package frontend

import (
	"math/rand"

	"github.com/sarchlab/ftqsim/timing/ftq"
	"github.com/sarchlab/ftqsim/timing/icache"
)

// The synthetic workload encodes instructions as 16-bit parcels, tagged
// in the top nibble. Control-flow instructions are full-size (two
// parcels) and carry a 28-bit absolute byte target split across them;
// everything else is a compressed no-op.
const (
	opNop  = 0x1
	opBr   = 0x4 // conditional branch
	opJal  = 0x5 // direct jump
	opJalr = 0x6 // indirect jump, target not encoded
	opCall = 0x7 // direct call
	opRet  = 0x8 // return, target not encoded
)

func encodeCFI(tag int, target uint64) (uint16, uint16) {
	return uint16(tag)<<12 | uint16(target>>16)&0x0FFF, uint16(target)
}

func parcelTag(p uint16) int   { return int(p >> 12) }
func parcelHi(p uint16) uint64 { return uint64(p & 0x0FFF) }

func cfiTarget(p0, p1 uint16) uint64 {
	return parcelHi(p0)<<16 | uint64(p1)
}

// Program is the synthetic workload: a set of fetch blocks written into
// a program image, plus the ground truth the retire unit executes
// against.
type Program struct {
	// Base is the start address of the first block.
	Base uint64
	// Width is the block width in 2-byte offsets.
	Width uint32
	// Blocks are the block start addresses, contiguous from Base.
	Blocks []uint64

	// bias maps a branch pc to its taken percentage.
	bias map[uint64]int
}

// GenerateProgram writes a deterministic seeded program of numBlocks
// width-offset blocks into img and returns its ground truth.
func GenerateProgram(
	img *icache.Image, seed int64, numBlocks int, width uint32,
) *Program {
	rng := rand.New(rand.NewSource(seed))
	const base = 0x1000
	blockBytes := uint64(width) * 2

	p := &Program{
		Base:   base,
		Width:  width,
		Blocks: make([]uint64, numBlocks),
		bias:   map[uint64]int{},
	}
	for i := range p.Blocks {
		p.Blocks[i] = base + uint64(i)*blockBytes
	}

	for _, start := range p.Blocks {
		// Fill with compressed no-ops first.
		for off := uint32(0); off < width; off++ {
			img.Write16(start+uint64(off)*2, uint16(opNop)<<12)
		}

		// Up to two conditional branches at distinct even offsets,
		// leaving room for the second parcel.
		nBr := rng.Intn(3)
		used := map[uint32]bool{}
		for b := 0; b < nBr; b++ {
			off := uint32(rng.Intn(int(width)-1)) &^ 1
			if used[off] || used[off+1] {
				continue
			}
			used[off] = true
			used[off+1] = true

			target := p.Blocks[rng.Intn(numBlocks)]
			p0, p1 := encodeCFI(opBr, target)
			pc := start + uint64(off)*2
			img.Write16(pc, p0)
			img.Write16(pc+2, p1)
			p.bias[pc] = rng.Intn(101)
		}

		// Sometimes end the block with a jump.
		if rng.Intn(100) < 30 {
			off := width - 2
			if !used[off] && !used[off+1] {
				tag := []int{opJal, opJalr, opCall, opRet}[rng.Intn(4)]
				target := p.Blocks[rng.Intn(numBlocks)]
				if tag == opJalr || tag == opRet {
					target = 0
				}
				p0, p1 := encodeCFI(tag, target)
				pc := start + uint64(off)*2
				img.Write16(pc, p0)
				img.Write16(pc+2, p1)
			}
		}
	}

	return p
}

// mix is a splitmix-style hash used for reproducible branch outcomes.
func mix(pc, n uint64) uint64 {
	z := pc*0x9E3779B97F4A7C15 + n
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	return z ^ z>>31
}

// branchTaken reports the ground-truth outcome of the visitCount-th
// execution of the branch at pc.
func (p *Program) branchTaken(pc uint64, visitCount uint64) bool {
	return mix(pc, visitCount)%100 < uint64(p.bias[pc])
}

// indirectTarget reports the ground-truth target of the visitCount-th
// execution of the indirect jump at pc.
func (p *Program) indirectTarget(pc uint64, visitCount uint64) uint64 {
	return p.Blocks[mix(pc^0xA5A5, visitCount)%uint64(len(p.Blocks))]
}

// fallthrough of a block, wrapping back to the first block past the end.
func (p *Program) fallthroughOf(start uint64) uint64 {
	next := start + uint64(p.Width)*2
	if len(p.Blocks) > 0 && next > p.Blocks[len(p.Blocks)-1] {
		return p.Base
	}
	return next
}

// Outcome is the ground-truth execution of one block visit.
type Outcome struct {
	// CFI marks the taken control-flow instruction, if any.
	CFI ftq.CFIIndex
	// Next is the address execution actually continues at.
	Next uint64
	// LastOffset is the start offset of the last executed instruction.
	LastOffset uint32
}

// Execute runs one visit of the block at start against the ground
// truth, over the first extent offsets. visits maps CFI pcs to how often
// they executed before; Execute advances the counters of every branch it
// reaches.
func (p *Program) Execute(
	img *icache.Image, start uint64, extent uint32, visits map[uint64]uint64,
) Outcome {
	if extent > p.Width {
		extent = p.Width
	}
	last := uint32(0)
	for off := uint32(0); off < extent; {
		pc := start + uint64(off)*2
		p0 := img.Read16(pc)
		tag := parcelTag(p0)
		last = off

		switch tag {
		case opBr:
			if off+1 >= extent {
				// Truncated trailing branch parcel; padding.
				off++
				continue
			}
			n := visits[pc]
			visits[pc] = n + 1
			if p.branchTaken(pc, n) {
				return Outcome{
					CFI:        ftq.CFIIndex{Valid: true, Offset: off},
					Next:       cfiTarget(p0, img.Read16(pc+2)),
					LastOffset: off,
				}
			}
			off += 2
		case opJal, opCall:
			if off+1 >= extent {
				off++
				continue
			}
			return Outcome{
				CFI:        ftq.CFIIndex{Valid: true, Offset: off},
				Next:       cfiTarget(p0, img.Read16(pc+2)),
				LastOffset: off,
			}
		case opJalr, opRet:
			if off+1 >= extent {
				off++
				continue
			}
			n := visits[pc]
			visits[pc] = n + 1
			return Outcome{
				CFI:        ftq.CFIIndex{Valid: true, Offset: off},
				Next:       p.indirectTarget(pc, n),
				LastOffset: off,
			}
		default:
			off++
		}
	}

	next := start + uint64(extent)*2
	if extent == p.Width {
		next = p.fallthroughOf(start)
	}
	return Outcome{Next: next, LastOffset: last}
}

// Predecode derives the fetch stage's decode summary for a block from
// its raw bytes.
func Predecode(bytes []byte, width uint32) ftq.PredecodeInfo {
	info := ftq.PredecodeInfo{
		BrMask:    make([]bool, width),
		RVCMask:   make([]bool, width),
		ValidMask: make([]bool, width),
	}

	for off := uint32(0); off < width; {
		if int(off)*2+1 >= len(bytes) {
			break
		}
		p0 := uint16(bytes[off*2]) | uint16(bytes[off*2+1])<<8
		tag := parcelTag(p0)

		switch tag {
		case opBr, opJal, opJalr, opCall, opRet:
			if off+1 >= width || int(off)*2+3 >= len(bytes) {
				// Truncated control-flow instruction; treat the parcel
				// as padding.
				info.ValidMask[off] = true
				info.RVCMask[off] = true
				off++
				continue
			}
			info.ValidMask[off] = true
			p1 := uint16(bytes[off*2+2]) | uint16(bytes[off*2+3])<<8
			if tag == opBr {
				info.BrMask[off] = true
			} else if info.Jump.Kind == ftq.JumpNone {
				info.Jump = ftq.JumpDesc{
					Kind:   jumpKindOf(tag),
					Offset: off,
					Target: cfiTarget(p0, p1),
				}
			}
			off += 2
		default:
			info.ValidMask[off] = true
			info.RVCMask[off] = true
			off++
		}
	}
	return info
}

func jumpKindOf(tag int) ftq.JumpKind {
	switch tag {
	case opJal:
		return ftq.JumpJAL
	case opJalr:
		return ftq.JumpJALR
	case opCall:
		return ftq.JumpCall
	case opRet:
		return ftq.JumpRet
	}
	return ftq.JumpNone
}
