package bxfile

import "github.com/diskbtree/bxfile/bufpool"

// estimate.go: row-count estimation without a full scan, by narrowing
// an interval as the search descends instead of counting every
// matching row (§4.7 "estimate_count_for_search"/"estimate_count_for_fetch").
// Neither internal nor leaf pages store per-child counts, so the
// estimate divides the file's total entry count by each internal
// page's fanout on the way down; whenever both bounds of a range query
// land in the very same leaf (both bounds are still descended) the
// interval narrowing is skipped and the leaf is counted directly by a
// scan from the low bound, which original_source's estimator also
// special-cases as its cheapest path.

func (f *BTreeFile) totalEntryCount() uint64 {
	ref, err := f.af.FixPage(f.headerAddr.Page, bufpool.ReadOnly)
	if err != nil {
		return 0
	}
	defer ref.Unfix(false)
	ap := newAreaPage(ref.Bytes())
	hdr := &fileHeader{ap.areaBytes(f.headerAddr.Area)}
	return hdr.EntryCount()
}

// EstimateCountForSearch estimates how many rows are stored under key.
// When the landed leaf already contains every matching entry (the
// common case for Simple/Unique, and for Multi keys with few
// duplicates), the result is exact rather than estimated.
func (f *BTreeFile) EstimateCountForSearch(key []byte, isNull bool) (uint64, error) {
	total := f.totalEntryCount()
	if total == 0 {
		return 0, nil
	}
	path, err := f.descendPath(key, isNull)
	if err != nil {
		return 0, err
	}

	estimate := float64(total)
	for _, addr := range path[:len(path)-1] {
		ref, ops, err := f.openForRead(addr)
		if err != nil {
			return 0, err
		}
		n := ops.EntryCount()
		ref.Unfix(false)
		if n > 0 {
			estimate /= float64(n)
		}
	}

	leaf := path[len(path)-1]
	ref, ops, err := f.openForRead(leaf)
	if err != nil {
		return 0, err
	}
	defer ref.Unfix(false)
	idx, _ := ops.Find(f.cmp, key, isNull)
	n := ops.EntryCount()
	exact := 0
	ranOffEnd := true
	for i := idx; i < n; i++ {
		e := ops.Entry(i)
		if e.IsNull != isNull || (!isNull && f.cmp.Compare(e.Key, key) != 0) {
			ranOffEnd = false
			break
		}
		exact++
	}
	if !ranOffEnd || idx == n {
		return uint64(exact), nil
	}
	if estimate < float64(exact) {
		estimate = float64(exact)
	}
	return uint64(estimate), nil
}

// EstimateCountForFetch estimates how many rows fall in [lowKey,
// highKey] (both inclusive; either end's isNull flag selects the NULL
// key class on a Multi file).
func (f *BTreeFile) EstimateCountForFetch(lowKey []byte, lowIsNull bool, highKey []byte, highIsNull bool) (uint64, error) {
	total := f.totalEntryCount()
	if total == 0 {
		return 0, nil
	}
	lowPath, err := f.descendPath(lowKey, lowIsNull)
	if err != nil {
		return 0, err
	}
	highPath, err := f.descendPath(highKey, highIsNull)
	if err != nil {
		return 0, err
	}

	if lowPath[len(lowPath)-1] == highPath[len(highPath)-1] {
		return f.countRangeInLeaf(lowPath[len(lowPath)-1], lowKey, lowIsNull, highKey)
	}

	common := 0
	for common < len(lowPath) && common < len(highPath) && lowPath[common] == highPath[common] {
		common++
	}

	estimate := float64(total)
	for i := 0; i < common; i++ {
		ref, ops, err := f.openForRead(lowPath[i])
		if err != nil {
			return 0, err
		}
		n := ops.EntryCount()
		ref.Unfix(false)
		if n > 0 {
			estimate /= float64(n)
		}
	}

	if common < len(lowPath)-1 && common < len(highPath)-1 {
		ref, ops, err := f.openForRead(lowPath[common])
		if err == nil {
			loIdx, _ := ops.Find(f.cmp, lowKey, lowIsNull)
			hiIdx, _ := ops.Find(f.cmp, highKey, highIsNull)
			span := hiIdx - loIdx + 1
			if span < 1 {
				span = 1
			}
			estimate *= float64(span)
			ref.Unfix(false)
		}
	}
	if estimate < 1 {
		estimate = 1
	}
	return uint64(estimate), nil
}

func (f *BTreeFile) countRangeInLeaf(leaf pageAddr, lowKey []byte, lowIsNull bool, highKey []byte) (uint64, error) {
	ref, ops, err := f.openForRead(leaf)
	if err != nil {
		return 0, err
	}
	defer ref.Unfix(false)
	idx, _ := ops.Find(f.cmp, lowKey, lowIsNull)
	var n uint64
	for i := idx; i < ops.EntryCount(); i++ {
		e := ops.Entry(i)
		if !e.IsNull && f.cmp.Compare(e.Key, highKey) > 0 {
			break
		}
		n++
	}
	return n, nil
}
