package icache

// pageSize is the allocation granule of the sparse image.
const pageSize = 4096

// Image is a sparse byte-addressable program image the cache fills from.
// Pages are allocated on first write; unwritten bytes read as zero.
type Image struct {
	pages map[uint64][]byte
}

// NewImage creates an empty program image.
func NewImage() *Image {
	return &Image{pages: make(map[uint64][]byte)}
}

func (m *Image) page(addr uint64, allocate bool) []byte {
	base := addr &^ (pageSize - 1)
	p, ok := m.pages[base]
	if !ok && allocate {
		p = make([]byte, pageSize)
		m.pages[base] = p
	}
	return p
}

// Read8 reads one byte.
func (m *Image) Read8(addr uint64) byte {
	p := m.page(addr, false)
	if p == nil {
		return 0
	}
	return p[addr%pageSize]
}

// Write8 writes one byte.
func (m *Image) Write8(addr uint64, value byte) {
	m.page(addr, true)[addr%pageSize] = value
}

// Read16 reads a little-endian 16-bit value.
func (m *Image) Read16(addr uint64) uint16 {
	return uint16(m.Read8(addr)) | uint16(m.Read8(addr+1))<<8
}

// Write16 writes a little-endian 16-bit value.
func (m *Image) Write16(addr uint64, value uint16) {
	m.Write8(addr, byte(value))
	m.Write8(addr+1, byte(value>>8))
}

// Read32 reads a little-endian 32-bit value.
func (m *Image) Read32(addr uint64) uint32 {
	return uint32(m.Read16(addr)) | uint32(m.Read16(addr+2))<<16
}

// Write32 writes a little-endian 32-bit value.
func (m *Image) Write32(addr uint64, value uint32) {
	m.Write16(addr, uint16(value))
	m.Write16(addr+2, uint16(value>>16))
}

// Read64 reads a little-endian 64-bit value.
func (m *Image) Read64(addr uint64) uint64 {
	return uint64(m.Read32(addr)) | uint64(m.Read32(addr+4))<<32
}

// Write64 writes a little-endian 64-bit value.
func (m *Image) Write64(addr uint64, value uint64) {
	m.Write32(addr, uint32(value))
	m.Write32(addr+4, uint32(value>>32))
}

// ReadLine implements LineSource.
func (m *Image) ReadLine(addr uint64, size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = m.Read8(addr + uint64(i))
	}
	return data
}
