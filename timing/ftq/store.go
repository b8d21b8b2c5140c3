package ftq

// entryStore is the multi-table backing storage of the queue, one row per
// slot across four tables: fetch-block descriptors, speculative predictor
// snapshots, predecode results, and predictor metadata plus the FTB
// entry the prediction was made with. Rows are plain storage; all access
// ordering is the queue's business.
type entryStore struct {
	depth uint32

	blocks []FetchBlock
	specs  []SpecSnapshot
	pds    []PredecodeInfo
	metas  [][]byte
	ftbs   []FTBEntry
	// stages records the predictor stage each row was finalized at.
	stages []uint8
}

func newEntryStore(depth uint32) *entryStore {
	return &entryStore{
		depth:  depth,
		blocks: make([]FetchBlock, depth),
		specs:  make([]SpecSnapshot, depth),
		pds:    make([]PredecodeInfo, depth),
		metas:  make([][]byte, depth),
		ftbs:   make([]FTBEntry, depth),
		stages: make([]uint8, depth),
	}
}

func (s *entryStore) writeBlock(idx uint32, b FetchBlock) {
	s.blocks[idx] = b
}

func (s *entryStore) writeSpec(idx uint32, sp SpecSnapshot) {
	s.specs[idx] = sp.Clone()
}

func (s *entryStore) writePredecode(idx uint32, pd PredecodeInfo) {
	s.pds[idx] = pd
}

func (s *entryStore) writeMeta(idx uint32, meta []byte, ftb FTBEntry, stage uint8) {
	if meta != nil {
		m := make([]byte, len(meta))
		copy(m, meta)
		s.metas[idx] = m
	} else {
		s.metas[idx] = nil
	}
	s.ftbs[idx] = ftb.Clone()
	s.stages[idx] = stage
}

func (s *entryStore) block(idx uint32) FetchBlock        { return s.blocks[idx] }
func (s *entryStore) spec(idx uint32) SpecSnapshot       { return s.specs[idx] }
func (s *entryStore) predecode(idx uint32) PredecodeInfo { return s.pds[idx] }
func (s *entryStore) meta(idx uint32) []byte             { return s.metas[idx] }
func (s *entryStore) ftb(idx uint32) FTBEntry            { return s.ftbs[idx] }
func (s *entryStore) stage(idx uint32) uint8             { return s.stages[idx] }

// blockReadPort models a synchronous one-cycle read port into the
// address table: the row requested in one cycle is available the next.
// Rows written in the same cycle the port latches are forwarded through
// the bypass instead of waiting for storage.
type blockReadPort struct {
	valid bool
	idx   uint32
	row   FetchBlock
}

// latch issues the read for the coming cycle. bypassValid/bypassIdx
// describe a row written this cycle; when they cover the requested index
// the freshly written value is forwarded.
func (p *blockReadPort) latch(
	s *entryStore, idx uint32,
	bypassValid bool, bypassIdx uint32, bypassRow FetchBlock,
) {
	p.valid = true
	p.idx = idx
	if bypassValid && bypassIdx == idx {
		p.row = bypassRow
		return
	}
	p.row = s.block(idx)
}

// read returns the row latched last cycle. ok is false when the port has
// not been primed or holds a different index than asked for, in which
// case the caller must wait a cycle.
func (p *blockReadPort) read(idx uint32) (FetchBlock, bool) {
	if !p.valid || p.idx != idx {
		return FetchBlock{}, false
	}
	return p.row, true
}
