package mem

// SharedOwner is one process's mapping of a shared page, replacing
// biscuit's parallel-array representation (sharedOwners/sharedProcessIndex
// as two lists keyed by position) with a single slice of pairs.
type SharedOwner struct {
	Pid                 int
	ProcessVirtualIndex int
}

// Page is one page-table entry. Exactly PageTable.Count() of these exist
// for the lifetime of a Manager; CreateProcess and page faults only ever
// reassign their fields, never allocate or free the entries themselves.
//
// Grounded on biscuit's Physpg_t/Pmap_t split (biscuit/src/mem/mem.go):
// biscuit tracks physical pages and page-table entries separately because
// it has real hardware page tables to build; our page table entry is
// richer because it carries both the virtual-page identity and
// everything paging/ownership/sharing needs in one record. Manager uses
// the same claim/evict vocabulary (Refup/Refdown become ownership
// assignment, the free-frame bitmap is biscuit's freei/freelen
// expressed as bools).
type Page struct {
	// VirtualAddress and PageNumber are immutable for the page's
	// lifetime; PageNumber == VirtualAddress / PageSize.
	VirtualAddress int
	PageNumber     int

	Valid           bool
	PhysicalAddress int

	// OwnerPid is 0 for pages owned by the OS (free or reserved for
	// sharing); non-zero assigns the page to that process.
	OwnerPid            int
	ProcessVirtualIndex int

	// HeapAllocationStart is 0 when this page is free on its owner's
	// heap; otherwise it names the process-virtual address of the
	// allocation that claimed it.
	HeapAllocationStart int

	Dirty        bool
	AccessCount  uint32
	LastAccessed int64
	PageFaults   uint32

	// SharedRegionId is 0 for non-shared pages. Non-zero identifies one
	// of the shared regions reserved at boot; such pages have
	// OwnerPid == 0 and zero or more SharedOwners.
	SharedRegionId int
	SharedOwners   []SharedOwner
}

// OwnsOffset reports whether this page backs process-virtual offset off
// for pid, either as sole owner or as a shared mapping.
func (p *Page) OwnsOffset(pid, pageSize, off int) bool {
	if p.OwnerPid == pid && p.ProcessVirtualIndex <= off && off < p.ProcessVirtualIndex+pageSize {
		return true
	}
	if p.SharedRegionId != 0 {
		for _, so := range p.SharedOwners {
			if so.Pid == pid && so.ProcessVirtualIndex <= off && off < so.ProcessVirtualIndex+pageSize {
				return true
			}
		}
	}
	return false
}

// processVirtualIndexFor returns the process-virtual base this page
// presents to pid at the given offset, accounting for shared mappings
// potentially appearing at a different offset than ProcessVirtualIndex.
func (p *Page) processVirtualIndexFor(pid int) int {
	if p.OwnerPid == pid {
		return p.ProcessVirtualIndex
	}
	for _, so := range p.SharedOwners {
		if so.Pid == pid {
			return so.ProcessVirtualIndex
		}
	}
	return p.ProcessVirtualIndex
}

// free resets a page to the unowned, invalid state CreateProcess and
// page-fault handling expect to find free pages in.
func (p *Page) free() {
	p.Valid = false
	p.PhysicalAddress = 0
	p.OwnerPid = 0
	p.ProcessVirtualIndex = 0
	p.HeapAllocationStart = 0
	p.Dirty = false
	p.AccessCount = 0
	p.PageFaults = 0
	p.SharedOwners = nil
	// SharedRegionId and LastAccessed survive: region reservations are
	// made once at boot and never reassigned, and LastAccessed retains
	// its ordering value for any victim-selection scan mid-flight.
}

// PageTable is the fixed array of Page entries spanning the system's
// whole virtual address space, one entry per virtual page, created once
// at boot and never destroyed: entries are only ever reassigned.
type PageTable struct {
	PageSize int
	Pages    []*Page
}

// NewPageTable builds a page table covering virtualSize bytes (rounded
// up to PageSize), identity-mapping the first physicalSize/PageSize
// pages as the initial valid, OS-owned set.
func NewPageTable(virtualSize, physicalSize, pageSize int) *PageTable {
	total := virtualSize / pageSize
	if virtualSize%pageSize != 0 {
		total++
	}
	pt := &PageTable{PageSize: pageSize, Pages: make([]*Page, total)}
	validCount := physicalSize / pageSize
	for i := range pt.Pages {
		va := i * pageSize
		pg := &Page{
			VirtualAddress: va,
			PageNumber:     va / pageSize,
		}
		if i < validCount {
			pg.Valid = true
			pg.PhysicalAddress = va
		}
		pt.Pages[i] = pg
	}
	return pt
}

// Count returns the total number of virtual pages in the table.
func (pt *PageTable) Count() int { return len(pt.Pages) }
