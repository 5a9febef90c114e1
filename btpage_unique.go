package bxfile

// btpage_unique.go: the Unique-variant leaf entry codec. A Unique index
// permits no NULL keys and enforces a one-row-per-key constraint, but a
// deleted row's entry is not immediately removed — it is marked with a
// tombstone bit in the trailer so that a transaction that started
// before the delete can still see it, and so a subsequent insert of the
// same key can detect it was only soft-deleted. A vacuum pass
// (verify.go) later hard-removes tombstoned entries whose deleting
// transaction is no longer visible to anyone (§3.3, §4.6 "Unique",
// §4.8 vacuum).

func newUniqueLeafPage(data []byte) *btPage {
	p := newBtPage(data, defaultTrailerSize(len(data)))
	p.init(true)
	return p
}

func newUniqueInternalPage(data []byte) *btPage {
	p := newBtPage(data, 0)
	p.init(false)
	return p
}

type uniquePage struct{ *btPage }

func openUniqueLeafPage(data []byte) uniquePage {
	return uniquePage{newBtPage(data, defaultTrailerSize(len(data)))}
}

func openUniqueInternalPage(data []byte) uniquePage {
	return uniquePage{newBtPage(data, 0)}
}

func (p uniquePage) entryLen(off int) int {
	if p.IsLeaf() {
		return simpleLeafEntryLen(p.data, off)
	}
	return internalEntryLen(p.data, off)
}

func (p uniquePage) IsTombstoned(i int) bool    { return p.IsLeaf() && p.trailerBit(i) }
func (p uniquePage) SetTombstone(i int, v bool) { p.setTrailerBit(i, v) }

func (p uniquePage) RowAt(i int) RowID { return p.simpleRowAt(i) }

func (p uniquePage) InsertLeaf(i int, key []byte, row RowID) error {
	if err := p.insertRaw(i, packSimpleLeafEntry(key, row)); err != nil {
		return err
	}
	n := p.EntryCount()
	p.shiftTrailerBitsForInsert(i, n-1)
	p.setTrailerBit(i, false)
	return nil
}

func (p uniquePage) InsertInternal(i int, key []byte, child pageAddr) error {
	return p.insertRaw(i, packInternalEntry(key, child))
}

// Remove hard-removes entry i; only the vacuum pass does this for live
// pages. Ordinary deletes use SetTombstone instead.
func (p uniquePage) Remove(i int) {
	if p.IsLeaf() {
		n := p.EntryCount()
		p.shiftTrailerBitsForRemove(i, n)
	}
	p.removeSlot(i)
}

func (p uniquePage) Compact() { p.compact(p.entryLen) }

func (p uniquePage) Verify(cmp Comparator) error {
	if err := p.verifyOrder(cmp); err != nil {
		return err
	}
	return p.verifyNoOverlap(p.entryLen)
}

// tombstoneCount counts entries currently marked deleted, the quantity
// the header's expunge_flag_count mirrors so a vacuum decision doesn't
// need to rescan every leaf (§4.8).
func (p uniquePage) tombstoneCount() int {
	if !p.IsLeaf() {
		return 0
	}
	n := 0
	for i := 0; i < p.EntryCount(); i++ {
		if p.IsTombstoned(i) {
			n++
		}
	}
	return n
}
