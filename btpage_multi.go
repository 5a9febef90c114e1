package bxfile

// btpage_multi.go: the Multi-variant leaf entry codec. A Multi index
// allows NULL key values and stores row visibility nowhere — many rows
// may share a key, including the NULL key itself. NULL-ness is tracked
// per entry in a fixed-size trailer bit vector reserved at the tail of
// the page's area rather than by a
// sentinel byte pattern, so a NULL key occupies zero key bytes (§3.3,
// §4.5 "Multi").
//
// NULL keys sort before every non-null key; among themselves they carry
// no further ordering since there is nothing to compare.

func newMultiLeafPage(data []byte) *btPage {
	p := newBtPage(data, defaultTrailerSize(len(data)))
	p.init(true)
	return p
}

func newMultiInternalPage(data []byte) *btPage {
	p := newBtPage(data, 0) // internal pages never hold NULL-able keys
	p.init(false)
	return p
}

type multiPage struct{ *btPage }

func openMultiLeafPage(data []byte) multiPage {
	return multiPage{newBtPage(data, defaultTrailerSize(len(data)))}
}

func openMultiInternalPage(data []byte) multiPage {
	return multiPage{newBtPage(data, 0)}
}

func (p multiPage) entryLen(off int) int {
	if p.IsLeaf() {
		return simpleLeafEntryLen(p.data, off)
	}
	return internalEntryLen(p.data, off)
}

func (p multiPage) IsNull(i int) bool { return p.IsLeaf() && p.trailerBit(i) }

func (p multiPage) compareAt(cmp Comparator, i int, key []byte, keyIsNull bool) int {
	iNull := p.IsNull(i)
	switch {
	case iNull && keyIsNull:
		return 0
	case iNull && !keyIsNull:
		return -1
	case !iNull && keyIsNull:
		return 1
	default:
		return cmp.Compare(p.keyAt(i), key)
	}
}

// LowerBound is the Multi-aware equivalent of btPage.lowerBound: it
// treats a NULL search key and NULL entry keys specially instead of
// handing them to cmp, which has no NULL convention of its own.
func (p multiPage) LowerBound(cmp Comparator, key []byte, keyIsNull bool) (idx int, exact bool) {
	lo, hi := 0, p.EntryCount()
	for lo < hi {
		mid := (lo + hi) / 2
		if p.compareAt(cmp, mid, key, keyIsNull) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < p.EntryCount() && p.compareAt(cmp, lo, key, keyIsNull) == 0
}

func (p multiPage) InsertLeaf(i int, key []byte, row RowID, isNull bool) error {
	if isNull {
		key = nil
	}
	if err := p.insertRaw(i, packSimpleLeafEntry(key, row)); err != nil {
		return err
	}
	n := p.EntryCount()
	p.shiftTrailerBitsForInsert(i, n-1)
	p.setTrailerBit(i, isNull)
	return nil
}

func (p multiPage) InsertInternal(i int, key []byte, child pageAddr) error {
	return p.insertRaw(i, packInternalEntry(key, child))
}

func (p multiPage) Remove(i int) {
	if p.IsLeaf() {
		n := p.EntryCount()
		p.shiftTrailerBitsForRemove(i, n)
	}
	p.removeSlot(i)
}

func (p multiPage) Compact() { p.compact(p.entryLen) }

func (p multiPage) Verify(cmp Comparator) error {
	for i := 1; i < p.EntryCount(); i++ {
		if p.compareAt(cmp, i-1, p.keyAt(i), p.IsNull(i)) >= 0 {
			return WrapError(ErrVerifyInconsistent, nil)
		}
	}
	return p.verifyNoOverlap(p.entryLen)
}
