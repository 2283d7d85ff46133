package mem

// PhysicalStore is the machine's entire physical memory: a flat byte
// array addressed by physical offset. It has no notion of ownership —
// every read or write arrives already translated by a Manager.
//
// Grounded on biscuit's Physmem_t (biscuit/src/mem/mem.go), which plays
// the same role for a real kernel; we drop the per-CPU free lists and
// TLB bookkeeping biscuit needs for actual hardware and keep it to a
// single responsibility: a byte array sized to a page multiple.
type PhysicalStore struct {
	bytes []byte
}

// NewPhysicalStore allocates a zeroed store of the given size.
func NewPhysicalStore(size int) *PhysicalStore {
	return &PhysicalStore{bytes: make([]byte, size)}
}

// Size returns the store's total byte capacity.
func (p *PhysicalStore) Size() int { return len(p.bytes) }

// ReadByte returns the byte at the given physical offset.
func (p *PhysicalStore) ReadByte(addr int) byte {
	return p.bytes[addr]
}

// WriteByte stores a byte at the given physical offset.
func (p *PhysicalStore) WriteByte(addr int, v byte) {
	p.bytes[addr] = v
}

// ReadFrame returns a slice view of n bytes starting at addr. The slice
// aliases the store's backing array; callers that need to retain it
// across further writes must copy.
func (p *PhysicalStore) ReadFrame(addr, n int) []byte {
	return p.bytes[addr : addr+n]
}

// WriteFrame copies data into the store starting at addr.
func (p *PhysicalStore) WriteFrame(addr int, data []byte) {
	copy(p.bytes[addr:], data)
}

// ZeroRange zeroes n bytes starting at addr.
func (p *PhysicalStore) ZeroRange(addr, n int) {
	clear(p.bytes[addr : addr+n])
}
