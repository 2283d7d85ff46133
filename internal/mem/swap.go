package mem

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// swapPayload is a page's on-disk representation: its bytes plus the
// two scalars a restored page needs to resume LRU accounting
// (accessCount, lastAccessed). Any self-describing format that
// round-trips this shape works; the original system's literal XML
// encoding was an implementation detail, not a wire contract.
// encoding/gob gives us exactly that with zero extra dependencies — see
// DESIGN.md for why no third-party serialization library was reached
// for here.
type swapPayload struct {
	Bytes        []byte
	AccessCount  uint32
	LastAccessed int64
}

// swapFileName names a swap file "page{N}-{V}.xml" so files stay
// self-identifying by (pageNumber, virtualAddress) even though the
// contents are gob, not XML.
func swapFileName(page *Page) string {
	return fmt.Sprintf("page%d-%d.xml", page.PageNumber, page.VirtualAddress)
}

func swapFilePath(dir string, page *Page) string {
	return filepath.Join(dir, swapFileName(page))
}

func writeSwapFile(path string, data swapPayload) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(&data)
}

// readSwapFile returns (payload, true, nil) if a swap file exists for
// the page, or (zero value, false, nil) if the page has never been
// swapped out.
func readSwapFile(path string) (swapPayload, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return swapPayload{}, false, nil
		}
		return swapPayload{}, false, err
	}
	defer f.Close()
	var data swapPayload
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return swapPayload{}, false, err
	}
	return data, true, nil
}

// clearSwapDir deletes any swap files left over from a previous run.
// Swap files never outlive a single run, so anything present at boot
// is stale.
func clearSwapDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "page*-*.xml"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
