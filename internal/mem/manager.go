package mem

import (
	"fmt"
	"os"
	"sync"

	"github.com/virtos/virtos/internal/cpu"
)

// Config bundles the boot-time sizing configuration that bears on the
// memory subsystem.
type Config struct {
	VirtualSize      int
	PhysicalSize     int
	PageSize         int
	SharedRegionSize int
	NumSharedRegions int
	SwapDir          string
}

// Manager owns the page table, the free-frame bitmap, and swap I/O,
// and is the only path by which an opcode touches memory. Grounded on
// biscuit's Physmem_t for the free-frame bookkeeping and on vm.Vm_t's
// Userdmap8_inner for the "translate, fault if necessary, then access"
// shape — collapsed here into one standalone MemoryManager instead of
// biscuit's OS-god-object, since paging is this system's whole memory
// story and deserves its own boundary.
type Manager struct {
	mu sync.Mutex

	Table     *PageTable
	Phys      *PhysicalStore
	FrameFree []bool
	Clock     *cpu.MonotonicClock

	swapDir          string
	sharedRegionSize int
	numSharedRegions int
}

// NewManager constructs a Manager and performs its boot-time
// reservations: build the page table with the leading identity-mapped
// frames, clear stale swap files, and carve out the shared-memory
// regions.
func NewManager(cfg Config, clock *cpu.MonotonicClock) (*Manager, error) {
	if cfg.PageSize <= 0 || cfg.PageSize%4 != 0 {
		return nil, fmt.Errorf("mem: page size %d must be a positive multiple of 4", cfg.PageSize)
	}
	if cfg.SwapDir == "" {
		cfg.SwapDir = "."
	}
	m := &Manager{
		Table:            NewPageTable(cfg.VirtualSize, cfg.PhysicalSize, cfg.PageSize),
		Phys:             NewPhysicalStore(cfg.PhysicalSize),
		Clock:            clock,
		swapDir:          cfg.SwapDir,
		sharedRegionSize: cfg.SharedRegionSize,
		numSharedRegions: cfg.NumSharedRegions,
	}
	// Every frame starts claimed: the leading virtual pages are
	// identity-mapped onto them at boot (NewPageTable), and a frame only
	// becomes free again once its page is released back to the OS.
	frames := cfg.PhysicalSize / cfg.PageSize
	m.FrameFree = make([]bool, frames)

	if err := clearSwapDir(cfg.SwapDir); err != nil {
		return nil, fmt.Errorf("mem: clearing stale swap files: %w", err)
	}
	m.reserveSharedRegions()
	return m, nil
}

// reserveSharedRegions walks the first
// NumSharedRegions*SharedRegionSize/PageSize free pages in order,
// assigning descending region ids every SharedRegionSize/PageSize pages
// so each region occupies a contiguous run.
func (m *Manager) reserveSharedRegions() {
	if m.numSharedRegions <= 0 || m.sharedRegionSize <= 0 {
		return
	}
	pagesPerRegion := m.sharedRegionSize / m.Table.PageSize
	if pagesPerRegion == 0 {
		return
	}
	total := m.numSharedRegions * pagesPerRegion
	region := m.numSharedRegions
	assigned := 0
	for _, pg := range m.Table.Pages {
		if assigned >= total {
			break
		}
		if pg.OwnerPid != 0 || pg.SharedRegionId != 0 {
			continue
		}
		pg.SharedRegionId = region
		assigned++
		if assigned%pagesPerRegion == 0 {
			region--
		}
	}
}

// findPage linearly scans the page table for the owned or shared page
// entry that backs offset for pid.
func (m *Manager) findPage(pid, offset int) *Page {
	for _, pg := range m.Table.Pages {
		if pg.OwnsOffset(pid, m.Table.PageSize, offset) {
			return pg
		}
	}
	return nil
}

// Translate resolves a process-virtual offset to a physical address,
// faulting the backing page in if necessary.
func (m *Manager) Translate(pid, offset int, willWrite bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := m.findPage(pid, offset)
	if page == nil {
		return 0, MemoryException(pid, offset)
	}
	pvi := page.processVirtualIndexFor(pid)
	pageOffset := offset - pvi

	if willWrite {
		page.Dirty = true
	}
	page.AccessCount++
	page.LastAccessed = m.Clock.Tick()

	if !page.Valid {
		if err := m.resolveFault(page); err != nil {
			return 0, err
		}
	}
	return page.PhysicalAddress + pageOffset, nil
}

// resolveFault claims a free frame if one exists, else evicts an LRU
// victim (swapping it out first if dirty), then swaps the faulting
// page in.
func (m *Manager) resolveFault(page *Page) error {
	if idx, ok := m.claimFreeFrame(); ok {
		page.PhysicalAddress = idx * m.Table.PageSize
	} else {
		victim := m.selectVictim(page)
		if victim == nil {
			// Every page is either invalid or is the faulting page itself,
			// yet no frame is free: physical memory was sized smaller than
			// one page, an invariant violation from boot configuration, not
			// a process-level fault.
			panic("mem: no victim available for eviction")
		}
		if err := m.swapOut(victim); err != nil {
			return err
		}
		page.PhysicalAddress = victim.PhysicalAddress
		victim.Valid = false
		victim.PhysicalAddress = 0
		victim.Dirty = false
	}
	if err := m.swapIn(page); err != nil {
		return err
	}
	page.PageFaults++
	page.Valid = true
	return nil
}

func (m *Manager) claimFreeFrame() (int, bool) {
	for i, free := range m.FrameFree {
		if free {
			m.FrameFree[i] = false
			return i, true
		}
	}
	return 0, false
}

func (m *Manager) freeFrame(physAddr int) {
	idx := physAddr / m.Table.PageSize
	m.FrameFree[idx] = true
}

// selectVictim picks the valid page (other than faulting) with the
// smallest LastAccessed tick, an LRU approximation. Ties resolve to
// whichever page the table scan visits first, a deliberate and
// deterministic tie-break.
func (m *Manager) selectVictim(faulting *Page) *Page {
	var victim *Page
	for _, pg := range m.Table.Pages {
		if pg == faulting || !pg.Valid {
			continue
		}
		if victim == nil || pg.LastAccessed < victim.LastAccessed {
			victim = pg
		}
	}
	return victim
}

func (m *Manager) swapOut(page *Page) error {
	if !page.Dirty {
		return nil
	}
	payload := swapPayload{
		Bytes:        append([]byte(nil), m.Phys.ReadFrame(page.PhysicalAddress, m.Table.PageSize)...),
		AccessCount:  page.AccessCount,
		LastAccessed: page.LastAccessed,
	}
	return writeSwapFile(swapFilePath(m.swapDir, page), payload)
}

func (m *Manager) swapIn(page *Page) error {
	path := swapFilePath(m.swapDir, page)
	payload, ok, err := readSwapFile(path)
	if err != nil {
		return err
	}
	if !ok {
		m.Phys.ZeroRange(page.PhysicalAddress, m.Table.PageSize)
		return nil
	}
	m.Phys.WriteFrame(page.PhysicalAddress, payload.Bytes)
	page.AccessCount = payload.AccessCount
	if payload.LastAccessed > page.LastAccessed {
		page.LastAccessed = payload.LastAccessed
	}
	return os.Remove(path)
}

// ReadByte reads a single byte from pid's address space.
func (m *Manager) ReadByte(pid, offset int) (byte, error) {
	phys, err := m.Translate(pid, offset, false)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Phys.ReadByte(phys), nil
}

// WriteByte writes a single byte into pid's address space.
func (m *Manager) WriteByte(pid, offset int, v byte) error {
	phys, err := m.Translate(pid, offset, true)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Phys.WriteByte(phys, v)
	return nil
}

// ReadU32 reads a little-endian 32-bit value.
func (m *Manager) ReadU32(pid, offset int) (uint32, error) {
	var buf [4]byte
	for i := range buf {
		b, err := m.ReadByte(pid, offset+i)
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// WriteU32 writes a little-endian 32-bit value.
func (m *Manager) WriteU32(pid, offset int, v uint32) error {
	buf := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	for i, b := range buf {
		if err := m.WriteByte(pid, offset+i, b); err != nil {
			return err
		}
	}
	return nil
}

// SetRange fills length bytes starting at offset with fillByte.
func (m *Manager) SetRange(pid, offset, length int, fillByte byte) error {
	for i := 0; i < length; i++ {
		if err := m.WriteByte(pid, offset+i, fillByte); err != nil {
			return err
		}
	}
	return nil
}

// MapProcess consumes ceil(bytes/PageSize) free, non-shared, OS-owned
// pages for pid and assigns consecutive process-virtual offsets. It
// returns *OutOfMemory, a host-fatal error, if the table can't cover
// the request.
func (m *Manager) MapProcess(pid, bytes int) ([]*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := bytes / m.Table.PageSize
	if bytes%m.Table.PageSize != 0 {
		n++
	}
	claimed := make([]*Page, 0, n)
	pvi := 0
	for _, pg := range m.Table.Pages {
		if len(claimed) == n {
			break
		}
		if pg.OwnerPid == 0 && pg.SharedRegionId == 0 {
			pg.OwnerPid = pid
			pg.ProcessVirtualIndex = pvi
			pvi += m.Table.PageSize
			claimed = append(claimed, pg)
		}
	}
	if len(claimed) < n {
		for _, pg := range claimed {
			pg.free()
		}
		return nil, &OutOfMemory{Pid: pid, RequestedBytes: bytes}
	}
	return claimed, nil
}

// CopyIn writes data into pid's address space starting at offset 0,
// used by CreateProcess to load a program image.
func (m *Manager) CopyIn(pid int, data []byte) error {
	for i, b := range data {
		if err := m.WriteByte(pid, i, b); err != nil {
			return err
		}
	}
	return nil
}

// MapSharedToProcess attaches every page of the given shared region to
// pid at the next free process-virtual slot (one page past pid's
// current highest mapped offset). It returns the first offset the
// region appears at.
func (m *Manager) MapSharedToProcess(pid, regionID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxEnd := 0
	for _, pg := range m.Table.Pages {
		if pg.OwnerPid == pid {
			if end := pg.ProcessVirtualIndex + m.Table.PageSize; end > maxEnd {
				maxEnd = end
			}
		}
		for _, so := range pg.SharedOwners {
			if so.Pid == pid {
				if end := so.ProcessVirtualIndex + m.Table.PageSize; end > maxEnd {
					maxEnd = end
				}
			}
		}
	}

	offset := maxEnd
	first := -1
	for _, pg := range m.Table.Pages {
		if pg.SharedRegionId != regionID {
			continue
		}
		pg.SharedOwners = append(pg.SharedOwners, SharedOwner{Pid: pid, ProcessVirtualIndex: offset})
		if first == -1 {
			first = offset
		}
		offset += m.Table.PageSize
	}
	if first == -1 {
		return 0, fmt.Errorf("mem: no shared region %d reserved", regionID)
	}
	return first, nil
}

// ReleaseProcess frees every page pid owns and drops pid from every
// shared page's owner list.
func (m *Manager) ReleaseProcess(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pg := range m.Table.Pages {
		if pg.OwnerPid == pid {
			if pg.Valid {
				m.Phys.ZeroRange(pg.PhysicalAddress, m.Table.PageSize)
				m.freeFrame(pg.PhysicalAddress)
			}
			_ = os.Remove(swapFilePath(m.swapDir, pg))
			pg.free()
			continue
		}
		if len(pg.SharedOwners) == 0 {
			continue
		}
		kept := pg.SharedOwners[:0]
		for _, so := range pg.SharedOwners {
			if so.Pid != pid {
				kept = append(kept, so)
			}
		}
		pg.SharedOwners = kept
	}
}

// HeapAlloc finds n = ceil(bytes/PageSize) contiguous free entries in
// heapPages (ordered by ascending process-virtual offset) and claims
// them. A request for 0 bytes is a no-op success: no pages are claimed
// and address 0 is returned, which can never collide with a real heap
// address since heapStart is always past the code and data segments.
func (m *Manager) HeapAlloc(pid int, heapPages []*Page, bytes int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bytes <= 0 {
		return 0, nil
	}
	n := bytes / m.Table.PageSize
	if bytes%m.Table.PageSize != 0 {
		n++
	}
	for start := 0; start+n <= len(heapPages); start++ {
		free := true
		for k := 0; k < n; k++ {
			if heapPages[start+k].HeapAllocationStart != 0 {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		addr := heapPages[start].ProcessVirtualIndex
		for k := 0; k < n; k++ {
			heapPages[start+k].HeapAllocationStart = addr
		}
		return addr, nil
	}
	return 0, HeapException(pid, bytes)
}

// HeapFree clears every page in heapPages whose HeapAllocationStart
// equals startAddress, zeroing their bytes, and returns the count of
// pages cleared (0 if none matched, e.g. a free of an address that was
// never allocated, a recoverable no-op rather than a fault).
func (m *Manager) HeapFree(heapPages []*Page, startAddress int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if startAddress == 0 {
		return 0
	}
	cleared := 0
	for _, pg := range heapPages {
		if pg.HeapAllocationStart != startAddress {
			continue
		}
		if pg.Valid {
			m.Phys.ZeroRange(pg.PhysicalAddress, m.Table.PageSize)
		} else {
			_ = os.Remove(swapFilePath(m.swapDir, pg))
		}
		pg.HeapAllocationStart = 0
		pg.Dirty = false
		cleared++
	}
	return cleared
}

// PageFaultsForProcess sums PageFaults over every page pid owns.
func (m *Manager) PageFaultsForProcess(pid int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, pg := range m.Table.Pages {
		if pg.OwnerPid == pid {
			total += int(pg.PageFaults)
		}
	}
	return total
}
