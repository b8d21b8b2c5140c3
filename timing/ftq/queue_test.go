package ftq_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ftqsim/timing/ftq"
)

// testConfig is the small geometry most queue specs use: 8 slots of 4
// offsets each.
func testConfig() ftq.Config {
	return ftq.Config{
		Depth:          8,
		Width:          4,
		BranchSlots:    2,
		UpdateCoolDown: 2,
	}
}

func blockAt(start uint64, width uint32) ftq.FetchBlock {
	return ftq.FetchBlock{
		StartAddr:    start,
		NextLineAddr: (start/64 + 1) * 64,
		CrossMask:    make([]bool, width),
	}
}

// s1 builds a predictor response allocating one block.
func s1(start, target uint64, cfi ftq.CFIIndex, hit bool) *ftq.PredictorResponse {
	return &ftq.PredictorResponse{
		S1: &ftq.StageResponse{
			Valid:  true,
			Stage:  1,
			Block:  blockAt(start, 4),
			CFI:    cfi,
			Hit:    hit,
			Target: target,
		},
	}
}

// wbAll builds a writeback with every offset valid and compressed.
func wbAll(ptr ftq.Ptr, brOffsets ...uint32) *ftq.PredecodeWriteback {
	info := ftq.PredecodeInfo{
		BrMask:    make([]bool, 4),
		RVCMask:   []bool{true, true, true, true},
		ValidMask: []bool{true, true, true, true},
	}
	for _, off := range brOffsets {
		info.BrMask[off] = true
	}
	return &ftq.PredecodeWriteback{Ptr: ptr, Info: info}
}

func ptrAt(idx uint32) ftq.Ptr { return ftq.Ptr{Index: idx} }

var _ = Describe("FetchTargetQueue", func() {
	var q *ftq.FetchTargetQueue

	BeforeEach(func() {
		var err error
		q, err = ftq.New(testConfig())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("allocation", func() {
		It("should allocate on an accepted s1 response", func() {
			out := q.Tick(ftq.CycleInput{
				Predictor: s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
			})

			Expect(out.PredictorAccepted).To(BeTrue())
			Expect(q.AllocPtr()).To(Equal(ptrAt(1)))
			Expect(q.ValidEntries()).To(Equal(1))
			Expect(out.NewestValid).To(BeTrue())
			Expect(out.NewestTarget).To(Equal(uint64(0x1008)))
			Expect(out.NewestPtr).To(Equal(ptrAt(0)))
		})

		It("should apply backpressure when full", func() {
			for i := 0; i < 8; i++ {
				out := q.Tick(ftq.CycleInput{
					Predictor: s1(0x1000+uint64(i)*8, 0, ftq.CFIIndex{}, false),
				})
				Expect(out.PredictorAccepted).To(BeTrue())
			}

			out := q.Tick(ftq.CycleInput{
				Predictor: s1(0x2000, 0, ftq.CFIIndex{}, false),
			})

			Expect(out.PredictorAccepted).To(BeFalse())
			Expect(q.ValidEntries()).To(Equal(8))
			Expect(q.Stats().PredictorStalls).To(Equal(uint64(1)))
		})
	})

	Describe("fetch dispatch", func() {
		It("should present a request without firing until the consumer is ready", func() {
			out := q.Tick(ftq.CycleInput{
				Predictor: s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
			})

			Expect(out.ToFetch).NotTo(BeNil())
			Expect(out.ToFetch.StartAddr).To(Equal(uint64(0x1000)))
			// No next entry yet: the predicted target stands in.
			Expect(out.ToFetch.NextAddr).To(Equal(uint64(0x1008)))
			Expect(q.DispatchPtr()).To(Equal(ptrAt(0)))

			// The request is retried unchanged and fires.
			out = q.Tick(ftq.CycleInput{FetchReady: true})
			Expect(out.ToFetch).NotTo(BeNil())
			Expect(out.ToFetch.StartAddr).To(Equal(uint64(0x1000)))
			Expect(q.DispatchPtr()).To(Equal(ptrAt(1)))
			Expect(q.Stats().FetchRequests).To(Equal(uint64(1)))
		})

		It("should take the next address from the following entry", func() {
			q.Tick(ftq.CycleInput{
				Predictor: s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
			})

			out := q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1008, 0x1010, ftq.CFIIndex{}, false),
				FetchReady: true,
			})

			// Slot 1 was allocated this very cycle: its start address is
			// bypassed into slot 0's request.
			Expect(out.ToFetch.Ptr).To(Equal(ptrAt(0)))
			Expect(out.ToFetch.NextAddr).To(Equal(uint64(0x1008)))
		})

		It("should run the prefetch cursor independently", func() {
			q.Tick(ftq.CycleInput{
				Predictor: s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
			})

			out := q.Tick(ftq.CycleInput{FetchReady: true})
			Expect(out.ToFetch).NotTo(BeNil())
			Expect(out.ToPrefetch).NotTo(BeNil())
			Expect(q.DispatchPtr()).To(Equal(ptrAt(1)))
			Expect(q.PrefetchPtr()).To(Equal(ptrAt(0)))

			out = q.Tick(ftq.CycleInput{PrefetchReady: true})
			Expect(out.ToPrefetch.StartAddr).To(Equal(uint64(0x1000)))
			Expect(q.PrefetchPtr()).To(Equal(ptrAt(1)))
			Expect(q.Stats().PrefetchRequests).To(Equal(uint64(1)))
		})
	})

	Describe("predictor override", func() {
		It("should rewrite the slot and roll consumers back onto it", func() {
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			Expect(q.DispatchPtr()).To(Equal(ptrAt(1)))

			q.Tick(ftq.CycleInput{
				Predictor: &ftq.PredictorResponse{
					S2: &ftq.StageResponse{
						Valid:    true,
						Stage:    2,
						Ptr:      ptrAt(0),
						Override: true,
						Block:    blockAt(0x2000, 4),
						Target:   0x2008,
					},
				},
			})

			Expect(q.AllocPtr()).To(Equal(ptrAt(1)))
			Expect(q.DispatchPtr()).To(Equal(ptrAt(0)))
			Expect(q.Stats().PredictorOverrides).To(Equal(uint64(1)))

			out := q.Tick(ftq.CycleInput{FetchReady: true})
			Expect(out.ToFetch.StartAddr).To(Equal(uint64(0x2000)))
		})
	})

	Describe("redirect rollback", func() {
		// Allocate and dispatch two blocks, then write both back.
		prime := func() {
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1008, 0x1010, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			q.Tick(ftq.CycleInput{Writeback: wbAll(ptrAt(0))})
			q.Tick(ftq.CycleInput{Writeback: wbAll(ptrAt(1))})
		}

		It("should reset every producer and consumer cursor to slot+1", func() {
			prime()

			out := q.Tick(ftq.CycleInput{
				Redirect: &ftq.BackendRedirect{
					Ptr:    ptrAt(1),
					Offset: 2,
					Level:  ftq.FlushSelf,
					Target: 0x9000,
					Cause:  ftq.CauseDirection,
				},
			})

			Expect(out.Redirect).NotTo(BeNil())
			Expect(out.Redirect.Source).To(Equal(ftq.RedirectBackend))
			Expect(q.AllocPtr()).To(Equal(ptrAt(2)))
			Expect(q.DispatchPtr()).To(Equal(ptrAt(2)))
			Expect(q.PrefetchPtr()).To(Equal(ptrAt(2)))
			Expect(q.WritebackPtr()).To(Equal(ptrAt(2)))
			// The commit cursor is behind the redirect and stays put.
			Expect(q.CommitPtr()).To(Equal(ptrAt(0)))
		})

		It("should rewrite the target slot's commit states", func() {
			prime()

			q.Tick(ftq.CycleInput{
				Redirect: &ftq.BackendRedirect{
					Ptr:    ptrAt(1),
					Offset: 2,
					Level:  ftq.FlushSelf,
					Target: 0x9000,
					Cause:  ftq.CauseDirection,
				},
			})

			Expect(q.CommitStateAt(ptrAt(1), 0)).To(Equal(ftq.StateToCommit))
			Expect(q.CommitStateAt(ptrAt(1), 1)).To(Equal(ftq.StateToCommit))
			Expect(q.CommitStateAt(ptrAt(1), 2)).To(Equal(ftq.StateFlushed))
			Expect(q.CommitStateAt(ptrAt(1), 3)).To(Equal(ftq.StateEmpty))
		})

		It("should leave the redirect offset alone without flushSelf", func() {
			prime()

			q.Tick(ftq.CycleInput{
				Redirect: &ftq.BackendRedirect{
					Ptr:    ptrAt(1),
					Offset: 2,
					Level:  ftq.FlushAfter,
					Target: 0x9000,
					Cause:  ftq.CauseDirection,
				},
			})

			Expect(q.CommitStateAt(ptrAt(1), 2)).To(Equal(ftq.StateToCommit))
			Expect(q.CommitStateAt(ptrAt(1), 3)).To(Equal(ftq.StateEmpty))
		})

		It("should suppress a same-cycle predecode redirect", func() {
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1008, 0x1010, ftq.CFIIndex{}, false),
				FetchReady: true,
			})

			wb := wbAll(ptrAt(0), 1)
			wb.Mispredict = ftq.CFIIndex{Valid: true, Offset: 1}
			wb.Target = 0x5000

			out := q.Tick(ftq.CycleInput{
				Writeback: wb,
				Redirect: &ftq.BackendRedirect{
					Ptr:    ptrAt(0),
					Offset: 0,
					Level:  ftq.FlushSelf,
					Target: 0x6000,
					Cause:  ftq.CauseDirection,
				},
			})

			Expect(out.Redirect.Source).To(Equal(ftq.RedirectBackend))
			Expect(out.Redirect.Offset).To(Equal(uint32(0)))
			Expect(q.Stats().SuppressedRedirects).To(Equal(uint64(1)))
			Expect(q.Stats().BackendRedirects).To(Equal(uint64(1)))
			Expect(q.Stats().PredecodeRedirects).To(Equal(uint64(0)))
			Expect(q.AllocPtr()).To(Equal(ptrAt(1)))
		})
	})

	Describe("commit", func() {
		// Allocate, dispatch and write back one plain block.
		primeOne := func() {
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			q.Tick(ftq.CycleInput{Writeback: wbAll(ptrAt(0))})
		}

		It("should commit once the last tracked offset retires", func() {
			primeOne()

			q.Tick(ftq.CycleInput{
				Commits: []ftq.CommitEvent{{Ptr: ptrAt(0), Offset: 3}},
			})
			// Eligibility is sampled at cycle start: the commit lands
			// one cycle after the event.
			Expect(q.CommitPtr()).To(Equal(ptrAt(0)))

			out := q.Tick(ftq.CycleInput{})
			Expect(q.CommitPtr()).To(Equal(ptrAt(1)))
			Expect(out.ToPredictor).NotTo(BeNil())
			Expect(out.ToPredictor.PC).To(Equal(uint64(0x1000)))
			Expect(out.ToPredictor.FalseHit).To(BeFalse())
			Expect(q.Stats().Commits).To(Equal(uint64(1)))
			Expect(q.Stats().FTBInit).To(Equal(uint64(1)))
		})

		It("should answer the ordering query only after commit", func() {
			primeOne()
			Expect(q.CommittedThrough(ptrAt(0))).To(BeFalse())

			q.Tick(ftq.CycleInput{
				Commits: []ftq.CommitEvent{{Ptr: ptrAt(0), Offset: 3}},
			})
			q.Tick(ftq.CycleInput{})

			Expect(q.CommittedThrough(ptrAt(0))).To(BeTrue())
			Expect(q.CommittedThrough(ptrAt(1))).To(BeFalse())
		})

		It("should hold the cool-down after a table update", func() {
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1008, 0x1010, ftq.CFIIndex{}, false),
				FetchReady: true,
				Writeback:  wbAll(ptrAt(0)),
			})
			q.Tick(ftq.CycleInput{
				Writeback: wbAll(ptrAt(1)),
				Commits: []ftq.CommitEvent{
					{Ptr: ptrAt(0), Offset: 3},
					{Ptr: ptrAt(1), Offset: 3},
				},
			})

			out := q.Tick(ftq.CycleInput{})
			Expect(out.ToPredictor).NotTo(BeNil())
			Expect(q.CommitPtr()).To(Equal(ptrAt(1)))

			// Two cool-down cycles before the next slot may commit.
			out = q.Tick(ftq.CycleInput{})
			Expect(out.ToPredictor).To(BeNil())
			out = q.Tick(ftq.CycleInput{})
			Expect(out.ToPredictor).To(BeNil())
			out = q.Tick(ftq.CycleInput{})
			Expect(out.ToPredictor).NotTo(BeNil())
			Expect(q.CommitPtr()).To(Equal(ptrAt(2)))
		})

		It("should commit when retirement already confirmed a later slot", func() {
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1008, 0x1010, ftq.CFIIndex{}, false),
				FetchReady: true,
				Writeback:  wbAll(ptrAt(0)),
			})
			q.Tick(ftq.CycleInput{Writeback: wbAll(ptrAt(1))})

			// Only slot 1 reports retirement; slot 0 commits anyway
			// because everything up to slot 1 is confirmed.
			q.Tick(ftq.CycleInput{
				Commits: []ftq.CommitEvent{{Ptr: ptrAt(1), Offset: 3}},
			})
			q.Tick(ftq.CycleInput{})

			Expect(q.CommitPtr()).To(Equal(ptrAt(1)))
		})

		It("should skip a fully squashed block without stalling", func() {
			primeOne()

			q.Tick(ftq.CycleInput{
				Redirect: &ftq.BackendRedirect{
					Ptr:    ptrAt(0),
					Offset: 0,
					Level:  ftq.FlushSelf,
					Target: 0x7000,
					Cause:  ftq.CauseDirection,
				},
			})

			out := q.Tick(ftq.CycleInput{})
			Expect(q.CommitPtr()).To(Equal(ptrAt(1)))
			Expect(out.ToPredictor).To(BeNil())
			Expect(q.Stats().SquashSkips).To(Equal(uint64(1)))
			Expect(q.Stats().Commits).To(Equal(uint64(0)))
		})

		It("should spill fused commits into the next slot", func() {
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1008, 0x1010, ftq.CFIIndex{}, false),
				FetchReady: true,
				Writeback:  wbAll(ptrAt(0)),
			})
			q.Tick(ftq.CycleInput{Writeback: wbAll(ptrAt(1))})

			q.Tick(ftq.CycleInput{
				Commits: []ftq.CommitEvent{
					{Ptr: ptrAt(0), Offset: 3, Kind: ftq.CommitFusedPair},
				},
			})

			Expect(q.CommitStateAt(ptrAt(0), 3)).To(Equal(ftq.StateCommitted))
			Expect(q.CommitStateAt(ptrAt(1), 0)).To(Equal(ftq.StateCommitted))
		})
	})

	Describe("false hit detection", func() {
		It("should mark a hit disproved by predecode", func() {
			entry := ftq.FTBEntry{Valid: true, Brs: make([]ftq.BranchSlot, 2)}
			entry.Brs[0] = ftq.BranchSlot{Valid: true, Offset: 2, StrongBias: true}
			entry.Brs[0].SetTarget(0x1000, 0x3000)

			q.Tick(ftq.CycleInput{
				Predictor: s1(0x1000, 0x3000, ftq.CFIIndex{Valid: true, Offset: 2}, true),
			})
			q.Tick(ftq.CycleInput{
				Predictor: &ftq.PredictorResponse{
					S3: &ftq.StageResponse{
						Valid: true,
						Stage: 3,
						Ptr:   ptrAt(0),
						Hit:   true,
						CFI:   ftq.CFIIndex{Valid: true, Offset: 2},
						FTB:   entry,
						Meta:  []byte{0xAB},
					},
				},
				FetchReady: true,
			})

			// Predecode finds no branch at offset 2.
			q.Tick(ftq.CycleInput{Writeback: wbAll(ptrAt(0))})

			Expect(q.HitStatusAt(ptrAt(0))).To(Equal(ftq.FalseHit))
			Expect(q.Stats().FalseHits).To(Equal(uint64(1)))
		})
	})

	Describe("exception tracking", func() {
		It("should flag refetches of a faulting slot until drained", func() {
			q.Tick(ftq.CycleInput{
				Predictor:  s1(0x1000, 0x1008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})

			q.Tick(ftq.CycleInput{
				Redirect: &ftq.BackendRedirect{
					Ptr:    ptrAt(0),
					Offset: 0,
					Level:  ftq.FlushSelf,
					Target: 0x7000,
					Fault:  ftq.FaultPage,
				},
			})
			Expect(q.Stats().Faults).To(Equal(uint64(1)))

			// The refetched block lands in slot 1 and carries the flag.
			out := q.Tick(ftq.CycleInput{
				Predictor:  s1(0x7000, 0x7008, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			Expect(out.ToFetch).NotTo(BeNil())
			Expect(out.ToFetch.Fault).To(Equal(ftq.FaultPage))

			// Writeback drains the latch.
			q.Tick(ftq.CycleInput{Writeback: wbAll(ptrAt(1))})
			out = q.Tick(ftq.CycleInput{
				Predictor:  s1(0x7008, 0x7010, ftq.CFIIndex{}, false),
				FetchReady: true,
			})
			Expect(out.ToFetch.Fault).To(Equal(ftq.FaultNone))
		})
	})

	Describe("end-to-end scenario", func() {
		It("should retarget a confirmed branch through commit", func() {
			entry := ftq.FTBEntry{Valid: true, Brs: make([]ftq.BranchSlot, 2)}
			entry.Brs[0] = ftq.BranchSlot{Valid: true, Offset: 1, StrongBias: true}
			entry.Brs[0].SetTarget(0x2000, 0x1000)
			entry.SetFallthrough(0x2000, 0x2008, 4)

			// Allocate a block at 0x2000 with a branch at offset 1
			// predicted taken to 0x1000.
			q.Tick(ftq.CycleInput{
				Predictor: s1(0x2000, 0x1000, ftq.CFIIndex{Valid: true, Offset: 1}, true),
			})
			q.Tick(ftq.CycleInput{
				Predictor: &ftq.PredictorResponse{
					S3: &ftq.StageResponse{
						Valid: true,
						Stage: 3,
						Ptr:   ptrAt(0),
						Hit:   true,
						CFI:   ftq.CFIIndex{Valid: true, Offset: 1},
						FTB:   entry,
						Meta:  []byte{1},
						Spec:  ftq.SpecSnapshot{Data: []byte{0x42}},
					},
				},
				FetchReady: true,
			})

			// Predecode confirms the branch but observes target 0x1004.
			wb := wbAll(ptrAt(0), 1)
			wb.Mispredict = ftq.CFIIndex{Valid: true, Offset: 1}
			wb.Target = 0x1004
			out := q.Tick(ftq.CycleInput{Writeback: wb})

			// Branch presence agrees: no false hit. The target mismatch
			// raises a fetch-stage redirect.
			Expect(q.HitStatusAt(ptrAt(0))).To(Equal(ftq.Hit))
			Expect(out.Redirect).NotTo(BeNil())
			Expect(out.Redirect.Source).To(Equal(ftq.RedirectPredecode))
			Expect(out.Redirect.Ptr).To(Equal(ptrAt(0)))
			Expect(out.Redirect.Offset).To(Equal(uint32(1)))
			Expect(out.Redirect.Target).To(Equal(uint64(0x1004)))

			// Retirement confirms the surviving sub-instructions.
			q.Tick(ftq.CycleInput{
				Commits: []ftq.CommitEvent{
					{Ptr: ptrAt(0), Offset: 0},
					{Ptr: ptrAt(0), Offset: 1},
				},
			})

			upd := q.Tick(ftq.CycleInput{}).ToPredictor
			Expect(upd).NotTo(BeNil())
			Expect(upd.FalseHit).To(BeFalse())
			Expect(upd.CFI).To(Equal(ftq.CFIIndex{Valid: true, Offset: 1}))
			// A branch-target change is not the tail-jump path: the
			// entry keeps its shape, the slot's target follows the
			// observed one, and the mispredict lands in the mask.
			Expect(upd.NewEntry.Brs[0].Offset).To(Equal(uint32(1)))
			Expect(upd.NewEntry.Brs[0].Target(0x2000)).To(Equal(uint64(0x1004)))
			Expect(upd.NewEntry.Tail.Valid).To(BeFalse())
			Expect(upd.MispredMask[0]).To(BeTrue())
			Expect(upd.TakenMask[0]).To(BeTrue())
			Expect(upd.Meta).To(Equal([]byte{1}))
			Expect(upd.Stage).To(Equal(uint8(3)))
		})
	})
})
