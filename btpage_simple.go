package bxfile

// btpage_simple.go: the Simple-variant leaf entry codec. A Simple
// index carries no NULL keys and no row visibility bookkeeping — each
// leaf entry is just [keyLen uint16][key][rowID uint64], and the page
// carries no trailer at all (§3.3, §4.4 "Simple").

func simpleLeafEntryLen(data []byte, off int) int {
	kl := int(getUint16LE(data[off:]))
	return 2 + kl + 8
}

func packSimpleLeafEntry(key []byte, row RowID) []byte {
	raw := make([]byte, 2+len(key)+8)
	putUint16LE(raw, uint16(len(key)))
	copy(raw[2:], key)
	putUint64LE(raw[2+len(key):], uint64(row))
	return raw
}

func (p *btPage) simpleRowAt(i int) RowID {
	off := p.entryOffset(i)
	kl := int(getUint16LE(p.data[off:]))
	return RowID(getUint64LE(p.data[off+2+kl:]))
}

// newSimpleLeafPage formats data as an empty Simple leaf page.
func newSimpleLeafPage(data []byte) *btPage {
	p := newBtPage(data, 0)
	p.init(true)
	return p
}

func newSimpleInternalPage(data []byte) *btPage {
	p := newBtPage(data, 0)
	p.init(false)
	return p
}

// simplePage wraps btPage with the Simple variant's entry codec, used
// by btreefile.go/cursor.go/rebalance.go so they never touch raw
// offsets directly.
type simplePage struct{ *btPage }

func openSimplePage(data []byte) simplePage {
	return simplePage{newBtPage(data, 0)}
}

func (p simplePage) entryLen(off int) int {
	if p.IsLeaf() {
		return simpleLeafEntryLen(p.data, off)
	}
	return internalEntryLen(p.data, off)
}

func (p simplePage) InsertLeaf(i int, key []byte, row RowID) error {
	return p.insertRaw(i, packSimpleLeafEntry(key, row))
}

func (p simplePage) InsertInternal(i int, key []byte, child pageAddr) error {
	return p.insertRaw(i, packInternalEntry(key, child))
}

func (p simplePage) Remove(i int) { p.removeSlot(i) }

func (p simplePage) Compact() { p.compact(p.entryLen) }

func (p simplePage) Verify(cmp Comparator) error {
	if err := p.verifyOrder(cmp); err != nil {
		return err
	}
	return p.verifyNoOverlap(p.entryLen)
}
