package bxfile

// areatable.go: the area-manage table, the inner level of the
// two-level free-space index described in §3.2/§4.1. A file header
// (areafile.go) owns a sequence of these tables, each covering up to
// PagesPerTableDefault consecutively numbered managed pages. A table is
// itself a header page (per-class page counts — the aggregate level)
// followed by one or more bitmap pages (one byte per managed page, the
// rate-bitmap value from ratetable.go — the per-page level).
//
// Keeping an aggregate count per rate class lets the free-page search
// skip an entire table without touching its bitmap pages at all: if a
// table's count for every class at or above the search threshold is
// zero, no page in it can satisfy the request (§4.1 step 1).

// areaTableLayout picks 2-byte or 4-byte per-class counters, decided
// once from how many pages a single table covers (§3.2).
type areaTableLayout struct {
	wide bool
}

func areaTableLayoutFor(pagesPerTable int) areaTableLayout {
	return areaTableLayout{wide: pagesPerTable >= SmallTableThreshold}
}

func (l areaTableLayout) counterWidth() int {
	if l.wide {
		return 4
	}
	return 2
}

// headerPayloadSize is the page-count field (always 4 bytes) plus one
// counter per rate class, RateClassNever included (NumRateClasses+1
// counters), for both the unused-class and free-class aggregates
// (§3.2: "per-group rate tables" track both axes).
func (l areaTableLayout) headerPayloadSize() int {
	return 4 + 2*(NumRateClasses+1)*l.counterWidth()
}

func (l areaTableLayout) getCounter(b []byte, class RateClass, free bool) uint32 {
	off := l.counterOffset(class, free)
	if l.wide {
		return getUint32LE(b[off:])
	}
	return uint32(getUint16LE(b[off:]))
}

func (l areaTableLayout) setCounter(b []byte, class RateClass, free bool, v uint32) {
	off := l.counterOffset(class, free)
	if l.wide {
		putUint32LE(b[off:], v)
		return
	}
	putUint16LE(b[off:], uint16(v))
}

func (l areaTableLayout) counterOffset(class RateClass, free bool) int {
	base := 4
	idx := int(class)
	if free {
		idx += NumRateClasses + 1
	}
	return base + idx*l.counterWidth()
}

// areaTableHeader is a view over a table's dedicated header page.
type areaTableHeader struct {
	data   []byte
	layout areaTableLayout
}

func newAreaTableHeader(data []byte, pagesPerTable int) *areaTableHeader {
	return &areaTableHeader{data: data, layout: areaTableLayoutFor(pagesPerTable)}
}

func (h *areaTableHeader) pageCount() int     { return int(getUint32LE(h.data)) }
func (h *areaTableHeader) setPageCount(n int) { putUint32LE(h.data, uint32(n)) }

func (h *areaTableHeader) unusedClassCount(c RateClass) uint32 {
	return h.layout.getCounter(h.data, c, false)
}
func (h *areaTableHeader) setUnusedClassCount(c RateClass, v uint32) {
	h.layout.setCounter(h.data, c, false, v)
}
func (h *areaTableHeader) freeClassCount(c RateClass) uint32 {
	return h.layout.getCounter(h.data, c, true)
}
func (h *areaTableHeader) setFreeClassCount(c RateClass, v uint32) {
	h.layout.setCounter(h.data, c, true, v)
}

func (h *areaTableHeader) initEmpty() {
	h.setPageCount(0)
	for c := RateClassNever; c <= RateClass80plus; c++ {
		h.setUnusedClassCount(c, 0)
		h.setFreeClassCount(c, 0)
	}
}

// hasCandidate reports whether any tracked page's free class meets or
// exceeds the class implied by searchRate, purely from the aggregate
// counters — the level-1 skip check (§4.1 step 1).
func (h *areaTableHeader) hasCandidate(searchRate int) bool {
	return h.hasCandidateByClass(searchRate, false)
}

// hasCandidateByClass is hasCandidate parameterized over which axis
// (unused-rate or free-rate) to check, per §4.1's search(..., by_unused).
func (h *areaTableHeader) hasCandidateByClass(searchRate int, byUnused bool) bool {
	threshold := classOfPercent(searchRate)
	for c := threshold; c <= RateClass80plus; c++ {
		var cnt uint32
		if byUnused {
			cnt = h.unusedClassCount(c)
		} else {
			cnt = h.freeClassCount(c)
		}
		if cnt > 0 {
			return true
		}
	}
	return false
}

// areaTableBitmap is a view over a table's bitmap pages, concatenated
// logically into one byte-per-managed-page array regardless of how many
// physical pages back it.
type areaTableBitmap struct {
	pages        [][]byte // one slice per bitmap page, in order
	bytesPerPage int
}

func newAreaTableBitmap(pages [][]byte) *areaTableBitmap {
	bpp := 0
	if len(pages) > 0 {
		bpp = len(pages[0])
	}
	return &areaTableBitmap{pages: pages, bytesPerPage: bpp}
}

// bitmapPagesNeeded returns how many bitmap pages a table must have to
// track pagesPerTable managed pages at one byte each.
func bitmapPagesNeeded(pagesPerTable, pageSize int) int {
	if pageSize == 0 {
		return 0
	}
	return (pagesPerTable + pageSize - 1) / pageSize
}

func (b *areaTableBitmap) get(idx int) byte {
	page, off := idx/b.bytesPerPage, idx%b.bytesPerPage
	return b.pages[page][off]
}

func (b *areaTableBitmap) set(idx int, v byte) {
	page, off := idx/b.bytesPerPage, idx%b.bytesPerPage
	b.pages[page][off] = v
}

// setPageRate records a managed page's current unused/free percentages,
// updating both the bitmap byte and the header's aggregate counters. idx
// is the page's position within this table (0-based). wasTracked
// distinguishes "this slot never had a value" (no old counters to
// decrement) from an update to an already-tracked page.
func setPageRate(h *areaTableHeader, bm *areaTableBitmap, idx int, unusedPct, freePct int, wasTracked bool) {
	newUnused := classOfPercent(unusedPct)
	newFree := classOfPercent(freePct)

	if wasTracked {
		oldByte := bm.get(idx)
		if !isUnallocated(oldByte) {
			oldUnused, oldFree := fromBitmapValue(oldByte)
			h.setUnusedClassCount(oldUnused, h.unusedClassCount(oldUnused)-1)
			h.setFreeClassCount(oldFree, h.freeClassCount(oldFree)-1)
		}
	}

	bm.set(idx, toBitmapValue(newUnused, newFree))
	h.setUnusedClassCount(newUnused, h.unusedClassCount(newUnused)+1)
	h.setFreeClassCount(newFree, h.freeClassCount(newFree)+1)
	if idx >= h.pageCount() {
		h.setPageCount(idx + 1)
	}
}

// clearPageRate removes a managed page's tracked rate entirely (used
// when a page is returned to the "never allocated" state by the area
// file, e.g. after truncation bookkeeping).
func clearPageRate(h *areaTableHeader, bm *areaTableBitmap, idx int) {
	oldByte := bm.get(idx)
	if !isUnallocated(oldByte) {
		oldUnused, oldFree := fromBitmapValue(oldByte)
		h.setUnusedClassCount(oldUnused, h.unusedClassCount(oldUnused)-1)
		h.setFreeClassCount(oldFree, h.freeClassCount(oldFree)-1)
	}
	bm.set(idx, 0)
	h.setUnusedClassCount(RateClassNever, h.unusedClassCount(RateClassNever)+1)
	h.setFreeClassCount(RateClassNever, h.freeClassCount(RateClassNever)+1)
}

// findFreePage scans this table's bitmap for the first managed page
// whose free class meets or exceeds searchRate's, the level-2 step of
// the search once the level-1 aggregate check has passed (§4.1 step 2).
func findFreePage(h *areaTableHeader, bm *areaTableBitmap, searchRate int) (idx int, ok bool) {
	return findFreePageByClass(h, bm, searchRate, false)
}

// findFreePageByClass is findFreePage parameterized over which axis
// (unused-rate or free-rate) a candidate byte is judged by, per
// §4.1's AreaFile.SearchFreePage(..., by_unused).
func findFreePageByClass(h *areaTableHeader, bm *areaTableBitmap, searchRate int, byUnused bool) (idx int, ok bool) {
	if !h.hasCandidateByClass(searchRate, byUnused) {
		return 0, false
	}
	threshold := classOfPercent(searchRate)
	for i := 0; i < h.pageCount(); i++ {
		b := bm.get(i)
		if isUnallocated(b) {
			continue
		}
		unused, free := fromBitmapValue(b)
		c := free
		if byUnused {
			c = unused
		}
		if int(c) >= int(threshold) {
			return i, true
		}
	}
	return 0, false
}
