package ftq_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ftqsim/timing/ftq"
)

// pdWith builds a predecode result for a 16-offset block with branches
// at the given offsets.
func pdWith(width uint32, brOffsets ...uint32) ftq.PredecodeInfo {
	pd := ftq.PredecodeInfo{
		BrMask:    make([]bool, width),
		RVCMask:   make([]bool, width),
		ValidMask: make([]bool, width),
	}
	for i := range pd.ValidMask {
		pd.ValidMask[i] = true
		pd.RVCMask[i] = true
	}
	for _, off := range brOffsets {
		pd.BrMask[off] = true
	}
	return pd
}

var _ = Describe("FTB entry generator", func() {
	const start = uint64(0x1000)

	var gen ftq.Generator

	BeforeEach(func() {
		gen = ftq.Generator{Width: 16, NumBr: 2}
	})

	Describe("init path", func() {
		It("should round-trip a single branch", func() {
			pd := pdWith(16, 5)
			cfi := ftq.CFIIndex{Valid: true, Offset: 5}

			e, rep := gen.Generate(start, ftq.FTBEntry{}, false, pd, cfi, 0x2000, nil)

			Expect(rep.Init).To(BeTrue())
			Expect(e.Valid).To(BeTrue())
			Expect(e.Brs[0].Valid).To(BeTrue())
			Expect(e.Brs[0].Offset).To(Equal(uint32(5)))
			Expect(e.Brs[0].Target(start)).To(Equal(uint64(0x2000)))
			Expect(e.Brs[0].StrongBias).To(BeTrue())
			Expect(e.Tail.Valid).To(BeFalse())
			// No jump: the block runs its full width.
			Expect(e.FallthroughAddr(start, 16)).To(Equal(start + 32))
			Expect(rep.TakenMask[0]).To(BeTrue())
		})

		It("should place the jump in the tail slot", func() {
			pd := pdWith(16)
			pd.Jump = ftq.JumpDesc{Kind: ftq.JumpJAL, Offset: 7, Target: 0x4000}

			e, _ := gen.Generate(start, ftq.FTBEntry{}, false, pd, ftq.CFIIndex{}, 0, nil)

			Expect(e.Tail.Valid).To(BeTrue())
			Expect(e.Tail.Offset).To(Equal(uint32(7)))
			Expect(e.Tail.Target(start)).To(Equal(uint64(0x4000)))
			Expect(e.IsJalr).To(BeFalse())
			// Compressed jump at offset 7 ends the block there.
			Expect(e.FallthroughAddr(start, 16)).To(Equal(start + 14 + 2))
		})

		It("should take the indirect target from the observed outcome", func() {
			pd := pdWith(16)
			pd.Jump = ftq.JumpDesc{Kind: ftq.JumpJALR, Offset: 3}
			cfi := ftq.CFIIndex{Valid: true, Offset: 3}

			e, _ := gen.Generate(start, ftq.FTBEntry{}, false, pd, cfi, 0xA000, nil)

			Expect(e.IsJalr).To(BeTrue())
			Expect(e.Tail.Target(start)).To(Equal(uint64(0xA000)))
		})
	})

	Describe("repeat hit", func() {
		It("should be idempotent when nothing changed", func() {
			pd := pdWith(16, 5)
			cfi := ftq.CFIIndex{Valid: true, Offset: 5}
			e, _ := gen.Generate(start, ftq.FTBEntry{}, false, pd, cfi, 0x2000, nil)

			e2, rep := gen.Generate(start, e, true, pd, cfi, 0x2000, make([]bool, 16))

			Expect(e2.Equal(e)).To(BeTrue())
			Expect(rep.Unchanged).To(BeTrue())
			Expect(rep.Init).To(BeFalse())
			Expect(rep.NewBranch).To(BeFalse())
			Expect(rep.JalrRetarget).To(BeFalse())
			Expect(rep.StrongBiasChange).To(BeFalse())
		})
	})

	Describe("new branch path", func() {
		It("should insert in sorted position", func() {
			pd := pdWith(16, 5)
			e, _ := gen.Generate(start, ftq.FTBEntry{}, false, pd,
				ftq.CFIIndex{Valid: true, Offset: 5}, 0x2000, nil)

			pd2 := pdWith(16, 2, 5)
			e2, rep := gen.Generate(start, e, true, pd2,
				ftq.CFIIndex{Valid: true, Offset: 2}, 0x3000, nil)

			Expect(rep.NewBranch).To(BeTrue())
			Expect(rep.BranchFull).To(BeFalse())
			Expect(e2.Brs[0].Offset).To(Equal(uint32(2)))
			Expect(e2.Brs[0].StrongBias).To(BeTrue())
			Expect(e2.Brs[0].Target(start)).To(Equal(uint64(0x3000)))
			Expect(e2.Brs[1].Offset).To(Equal(uint32(5)))
		})

		It("should evict the last slot when the table is full", func() {
			e := ftq.FTBEntry{Valid: true, Brs: make([]ftq.BranchSlot, 2)}
			e.Brs[0] = ftq.BranchSlot{Valid: true, Offset: 2}
			e.Brs[1] = ftq.BranchSlot{Valid: true, Offset: 5}
			e.SetFallthrough(start, start+32, 16)

			pd3 := pdWith(16, 2, 3, 5)
			e2, rep := gen.Generate(start, e, true, pd3,
				ftq.CFIIndex{Valid: true, Offset: 3}, 0x4000, nil)

			Expect(rep.NewBranch).To(BeTrue())
			Expect(rep.BranchFull).To(BeTrue())
			Expect(e2.Brs[0].Offset).To(Equal(uint32(2)))
			Expect(e2.Brs[1].Offset).To(Equal(uint32(3)))
			// The recorded block is cut at the evicted branch.
			Expect(e2.FallthroughAddr(start, 16)).To(Equal(start + 10))
		})

		It("should cut before a new branch beyond every recorded one", func() {
			e := ftq.FTBEntry{Valid: true, Brs: make([]ftq.BranchSlot, 2)}
			e.Brs[0] = ftq.BranchSlot{Valid: true, Offset: 2}
			e.Brs[1] = ftq.BranchSlot{Valid: true, Offset: 5}
			e.SetFallthrough(start, start+32, 16)

			pd := pdWith(16, 2, 5, 9)
			e2, rep := gen.Generate(start, e, true, pd,
				ftq.CFIIndex{Valid: true, Offset: 9}, 0x4000, nil)

			Expect(rep.BranchFull).To(BeTrue())
			Expect(e2.Brs[0].Offset).To(Equal(uint32(2)))
			Expect(e2.Brs[1].Offset).To(Equal(uint32(5)))
			Expect(e2.FallthroughAddr(start, 16)).To(Equal(start + 18))
		})
	})

	Describe("jalr retarget path", func() {
		It("should overwrite the tail target and clear strong bias", func() {
			pd := pdWith(16, 1)
			pd.Jump = ftq.JumpDesc{Kind: ftq.JumpJALR, Offset: 7}
			e, _ := gen.Generate(start, ftq.FTBEntry{}, false, pd,
				ftq.CFIIndex{Valid: true, Offset: 7}, 0xA000, nil)
			e.Brs[0] = ftq.BranchSlot{Valid: true, Offset: 1, StrongBias: true}

			e2, rep := gen.Generate(start, e, true, pd,
				ftq.CFIIndex{Valid: true, Offset: 7}, 0xB000, nil)

			Expect(rep.JalrRetarget).To(BeTrue())
			Expect(e2.Tail.Target(start)).To(Equal(uint64(0xB000)))
			Expect(e2.Brs[0].StrongBias).To(BeFalse())
			Expect(rep.TailTaken).To(BeTrue())
		})
	})

	Describe("strong-bias decay", func() {
		It("should clear the bit when the branch falls through", func() {
			pd := pdWith(16, 5)
			e, _ := gen.Generate(start, ftq.FTBEntry{}, false, pd,
				ftq.CFIIndex{Valid: true, Offset: 5}, 0x2000, nil)

			e2, rep := gen.Generate(start, e, true, pd, ftq.CFIIndex{}, 0, nil)

			Expect(rep.StrongBiasChange).To(BeTrue())
			Expect(e2.Brs[0].StrongBias).To(BeFalse())
			Expect(e2.Brs[0].Valid).To(BeTrue())
		})

		It("should not clear the bit for a branch not reached", func() {
			pd := pdWith(16, 1, 5)
			e := ftq.FTBEntry{Valid: true, Brs: make([]ftq.BranchSlot, 2)}
			e.Brs[0] = ftq.BranchSlot{Valid: true, Offset: 1, StrongBias: true}
			e.Brs[1] = ftq.BranchSlot{Valid: true, Offset: 5, StrongBias: true}
			e.Brs[0].SetTarget(start, 0x2000)
			e.Brs[1].SetTarget(start, 0x3000)

			// Taken at offset 1: offset 5 is never reached, its bias
			// must survive.
			e2, rep := gen.Generate(start, e, true, pd,
				ftq.CFIIndex{Valid: true, Offset: 1}, 0x2000, nil)

			Expect(rep.StrongBiasChange).To(BeFalse())
			Expect(e2.Brs[1].StrongBias).To(BeTrue())
		})
	})

	Describe("mispredict reporting", func() {
		It("should mask mispredicts with taken", func() {
			pd := pdWith(16, 5)
			e, _ := gen.Generate(start, ftq.FTBEntry{}, false, pd,
				ftq.CFIIndex{Valid: true, Offset: 5}, 0x2000, nil)

			mispred := make([]bool, 16)
			mispred[5] = true
			_, rep := gen.Generate(start, e, true, pd,
				ftq.CFIIndex{Valid: true, Offset: 5}, 0x2000, mispred)

			Expect(rep.TakenMask[0]).To(BeTrue())
			Expect(rep.MispredMask[0]).To(BeTrue())

			// Not taken this round: mispredict at the offset does not
			// count against the slot.
			_, rep = gen.Generate(start, e, true, pd, ftq.CFIIndex{}, 0, mispred)
			Expect(rep.MispredMask[0]).To(BeFalse())
		})
	})

	Describe("fallthrough compaction", func() {
		It("should reconstruct across the carry boundary", func() {
			var e ftq.FTBEntry
			blockStart := uint64(0x103C)
			pft := blockStart + 8

			e.SetFallthrough(blockStart, pft, 16)

			Expect(e.Carry).To(BeTrue())
			Expect(e.FallthroughAddr(blockStart, 16)).To(Equal(pft))
		})

		It("should not set carry within the field range", func() {
			var e ftq.FTBEntry
			e.SetFallthrough(0x1000, 0x1020, 16)

			Expect(e.Carry).To(BeFalse())
			Expect(e.FallthroughAddr(0x1000, 16)).To(Equal(uint64(0x1020)))
		})
	})

	Describe("consistency check", func() {
		It("should flag a recorded branch absent from predecode", func() {
			e := ftq.FTBEntry{Valid: true, Brs: make([]ftq.BranchSlot, 2)}
			e.Brs[0] = ftq.BranchSlot{Valid: true, Offset: 5}

			Expect(e.ConsistentWith(pdWith(16))).To(BeFalse())
			Expect(e.ConsistentWith(pdWith(16, 5))).To(BeTrue())
		})

		It("should flag a jump appearing where none was recorded", func() {
			e := ftq.FTBEntry{Valid: true, Brs: make([]ftq.BranchSlot, 2)}

			pd := pdWith(16)
			pd.Jump = ftq.JumpDesc{Kind: ftq.JumpJAL, Offset: 7}
			Expect(e.ConsistentWith(pd)).To(BeFalse())
		})

		It("should tolerate a new branch (learned at commit)", func() {
			e := ftq.FTBEntry{Valid: true, Brs: make([]ftq.BranchSlot, 2)}

			Expect(e.ConsistentWith(pdWith(16, 3))).To(BeTrue())
		})
	})
})
