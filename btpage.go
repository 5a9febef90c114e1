package bxfile

// btpage.go: the shared B+-tree page base every variant (Simple, Multi,
// Unique) builds on. A B+-tree page lives inside one area of an
// area-manage page (areadir.go) — its address is therefore a
// (PageID, AreaID) pair, not a bare page number, since several small
// B+-tree pages can be packed into a single physical page.
//
// Layout within the area's current bytes, the same converging-regions
// technique as areadir.go and the teacher's page.go: a node/leaf flag
// packed into the high bit of the entry count, prev/next sibling links,
// an entry-pointer vector that grows forward from the header, entry
// payloads that grow backward from the area's end, and (for Multi and
// Unique) a trailer bitmap reserved at the very end of the area.

const (
	leafFlagBit    = uint16(1 << 15)
	entryCountMask = leafFlagBit - 1
)

// RowID identifies a row in the base table a B+-tree file indexes;
// this engine treats it as an opaque 8-byte value it never interprets.
type RowID uint64

// pageAddr addresses one B+-tree page: the physical page it lives in,
// plus the area within that page.
type pageAddr struct {
	Page PageID
	Area AreaID
}

var undefinedAddr = pageAddr{Page: UndefinedPageID, Area: UndefinedAreaID}

func (a pageAddr) isUndefined() bool { return a.Page == UndefinedPageID }

const addrSize = 6 // 4-byte PageID + 2-byte AreaID

func getAddr(b []byte) pageAddr {
	return pageAddr{Page: PageID(getUint32LE(b)), Area: AreaID(getUint16LE(b[4:]))}
}

func putAddr(b []byte, a pageAddr) {
	putUint32LE(b, uint32(a.Page))
	putUint16LE(b[4:], uint16(a.Area))
}

// btPageHeaderSize is flags+count (2 bytes) plus the prev and next
// sibling addresses.
const btPageHeaderSize = 2 + addrSize + addrSize

// btPage is the shared base. trailerSize is supplied by the variant
// wrapper (0 for Simple; for Multi's null bitmap and Unique's tombstone
// bitmap, the same defaultTrailerSize block — §3.3).
type btPage struct {
	data        []byte
	trailerSize int
}

func newBtPage(data []byte, trailerSize int) *btPage {
	return &btPage{data: data, trailerSize: trailerSize}
}

func (p *btPage) flagsAndCount() uint16     { return getUint16LE(p.data) }
func (p *btPage) setFlagsAndCount(v uint16) { putUint16LE(p.data, v) }

func (p *btPage) IsLeaf() bool { return p.flagsAndCount()&leafFlagBit != 0 }

func (p *btPage) SetLeaf(leaf bool) {
	v := p.flagsAndCount() &^ leafFlagBit
	if leaf {
		v |= leafFlagBit
	}
	p.setFlagsAndCount(v)
}

func (p *btPage) EntryCount() int { return int(p.flagsAndCount() & entryCountMask) }

func (p *btPage) setEntryCount(n int) {
	v := p.flagsAndCount() & leafFlagBit
	p.setFlagsAndCount(v | uint16(n)&entryCountMask)
}

func (p *btPage) Prev() pageAddr     { return getAddr(p.data[2:]) }
func (p *btPage) SetPrev(a pageAddr) { putAddr(p.data[2:], a) }
func (p *btPage) Next() pageAddr     { return getAddr(p.data[2+addrSize:]) }
func (p *btPage) SetNext(a pageAddr) { putAddr(p.data[2+addrSize:], a) }

func (p *btPage) init(leaf bool) {
	p.setFlagsAndCount(0)
	p.SetLeaf(leaf)
	p.SetPrev(undefinedAddr)
	p.SetNext(undefinedAddr)
}

func (p *btPage) dataAreaEnd() int { return len(p.data) - p.trailerSize }

func (p *btPage) entryOffset(i int) int {
	return int(getUint16LE(p.data[btPageHeaderSize+i*2:]))
}

func (p *btPage) setEntryOffsetSlot(i int, off int) {
	putUint16LE(p.data[btPageHeaderSize+i*2:], uint16(off))
}

// minOffset returns the lowest entry start offset currently referenced
// by the pointer vector, or dataAreaEnd() if there are no entries yet.
func (p *btPage) minOffset() int {
	n := p.EntryCount()
	if n == 0 {
		return p.dataAreaEnd()
	}
	m := p.entryOffset(0)
	for i := 1; i < n; i++ {
		if o := p.entryOffset(i); o < m {
			m = o
		}
	}
	return m
}

// freeBytes is the gap between the pointer vector's end and the
// nearest live entry payload. Space orphaned by a removed entry is not
// reclaimed here — that is compact's job, matching the teacher's
// fragmentation model.
func (p *btPage) freeBytes() int {
	lower := btPageHeaderSize + 2*p.EntryCount()
	return p.minOffset() - lower
}

// insertRaw places raw at slot i, shifting the pointer vector to make
// room, and reports errOutOfSpace if the area has no room for it.
func (p *btPage) insertRaw(i int, raw []byte) error {
	need := 2 + len(raw)
	if p.freeBytes() < need {
		return errOutOfSpace
	}
	n := p.EntryCount()
	for j := n; j > i; j-- {
		p.setEntryOffsetSlot(j, p.entryOffset(j-1))
	}
	newOff := p.minOffset() - len(raw)
	copy(p.data[newOff:newOff+len(raw)], raw)
	p.setEntryOffsetSlot(i, newOff)
	p.setEntryCount(n + 1)
	return nil
}

// removeSlot drops the pointer-vector entry at i; the bytes it pointed
// to become an orphaned hole until the next compact.
func (p *btPage) removeSlot(i int) {
	n := p.EntryCount()
	for j := i; j < n-1; j++ {
		p.setEntryOffsetSlot(j, p.entryOffset(j+1))
	}
	p.setEntryCount(n - 1)
}

// compact squeezes out fragmentation left by prior removals, rewriting
// every live entry contiguously against dataAreaEnd() in its current
// pointer-vector order. entryLen reports an entry's byte length given
// its start offset — variant-specific, since leaf and internal entries
// differ in shape.
func (p *btPage) compact(entryLen func(off int) int) {
	n := p.EntryCount()
	type ent struct{ off, length int }
	ents := make([]ent, n)
	total := 0
	for i := 0; i < n; i++ {
		off := p.entryOffset(i)
		l := entryLen(off)
		ents[i] = ent{off, l}
		total += l
	}
	scratch := make([]byte, total)
	cursor := 0
	for i := 0; i < n; i++ {
		copy(scratch[cursor:cursor+ents[i].length], p.data[ents[i].off:ents[i].off+ents[i].length])
		cursor += ents[i].length
	}
	end := p.dataAreaEnd()
	pos := end - total
	copy(p.data[pos:end], scratch)
	cursor = 0
	for i := 0; i < n; i++ {
		p.setEntryOffsetSlot(i, pos+cursor)
		cursor += ents[i].length
	}
}

// internalEntryLen/packInternalEntry/unpackInternalEntry are shared by
// every variant: an internal (non-leaf) node entry is always
// [keyLen uint16][key][child pageAddr], since only leaf entries carry
// variant-specific row data.
func internalEntryLen(data []byte, off int) int {
	kl := int(getUint16LE(data[off:]))
	return 2 + kl + addrSize
}

func packInternalEntry(key []byte, child pageAddr) []byte {
	raw := make([]byte, 2+len(key)+addrSize)
	putUint16LE(raw, uint16(len(key)))
	copy(raw[2:], key)
	putAddr(raw[2+len(key):], child)
	return raw
}

func (p *btPage) childAt(i int) pageAddr {
	off := p.entryOffset(i)
	kl := int(getUint16LE(p.data[off:]))
	return getAddr(p.data[off+2+kl:])
}

func (p *btPage) setChildAt(i int, child pageAddr) {
	off := p.entryOffset(i)
	kl := int(getUint16LE(p.data[off:]))
	putAddr(p.data[off+2+kl:], child)
}

// keyAt reads the key of entry i. Every entry shape (leaf or internal,
// any variant) begins with [keyLen uint16][key bytes], so this is
// common to all of them.
func (p *btPage) keyAt(i int) []byte {
	off := p.entryOffset(i)
	kl := int(getUint16LE(p.data[off:]))
	return p.data[off+2 : off+2+kl]
}

// lowerBound returns the index of the first entry whose key is >= key
// under cmp, and whether that entry's key compares exactly equal.
func (p *btPage) lowerBound(cmp Comparator, key []byte) (idx int, exact bool) {
	lo, hi := 0, p.EntryCount()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.Compare(p.keyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < p.EntryCount() && cmp.Compare(p.keyAt(lo), key) == 0
}

// verifyOrder checks that every entry's key is strictly increasing
// under cmp (§4.8: every B+-tree page verification starts here).
func (p *btPage) verifyOrder(cmp Comparator) error {
	for i := 1; i < p.EntryCount(); i++ {
		if cmp.Compare(p.keyAt(i-1), p.keyAt(i)) >= 0 {
			return WrapError(ErrVerifyInconsistent, nil)
		}
	}
	return nil
}

// verifyNoOverlap checks that no two live entries' byte ranges overlap,
// the B+-tree-page analogue of areadir.go's checkPhysicalArea.
func (p *btPage) verifyNoOverlap(entryLen func(off int) int) error {
	type span struct{ start, end int }
	n := p.EntryCount()
	spans := make([]span, n)
	for i := 0; i < n; i++ {
		off := p.entryOffset(i)
		spans[i] = span{off, off + entryLen(off)}
		if off < btPageHeaderSize+2*n || spans[i].end > p.dataAreaEnd() {
			return WrapError(ErrVerifyInconsistent, nil)
		}
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				return WrapError(ErrVerifyInconsistent, nil)
			}
		}
	}
	return nil
}

// detach resets the area to an empty leaf page, used when a page is
// concatenated away and its area is about to be freed (§4.3).
func (p *btPage) detach() {
	for i := range p.data {
		p.data[i] = 0
	}
	p.init(true)
}

// trailerBit and setTrailerBit address one bit within the variant's
// trailer region, a flat bitmap reserved at the area's tail whose
// meaning (a Multi key's NULL flag, a Unique row's tombstone) is
// decided by the variant wrapper, not by btPage itself.
func (p *btPage) trailerBit(i int) bool {
	region := p.data[len(p.data)-p.trailerSize:]
	return region[i/8]&(1<<uint(i%8)) != 0
}

func (p *btPage) setTrailerBit(i int, v bool) {
	region := p.data[len(p.data)-p.trailerSize:]
	if v {
		region[i/8] |= 1 << uint(i%8)
	} else {
		region[i/8] &^= 1 << uint(i%8)
	}
}

// shiftTrailerBitsForInsert/Remove keep each entry's trailer bit
// attached to its logical slot when the pointer vector shifts — the
// trailer is addressed by ordinal position, exactly like the pointer
// vector itself.
func (p *btPage) shiftTrailerBitsForInsert(i, n int) {
	for j := n; j > i; j-- {
		p.setTrailerBit(j, p.trailerBit(j-1))
	}
	p.setTrailerBit(i, false)
}

func (p *btPage) shiftTrailerBitsForRemove(i, n int) {
	for j := i; j < n-1; j++ {
		p.setTrailerBit(j, p.trailerBit(j+1))
	}
}

// defaultTrailerSize reserves enough bits for the worst-case entry
// count an area of this size could ever hold (every entry at its
// theoretical minimum size), so the trailer never needs to be resized
// in place once a page is formatted. This trades a little space for
// not having to migrate bits across a moving boundary.
func defaultTrailerSize(areaSize int) int {
	const minEntrySize = 10 // 2 (keyLen) + 0 key bytes + 8 (rowID)
	maxEntries := areaSize / minEntrySize
	n := (maxEntries + 7) / 8
	if n < 1 {
		n = 1
	}
	return n
}
