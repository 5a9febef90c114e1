package bxfile

// rebalance.go: the split, redistribute and concatenate primitives
// that keep a B+-tree file's pages within their target occupancy.
// Split ratios are skewed away from 50/50 when recent insert traffic
// looks append-mostly (monotonically increasing keys), so a workload
// that only ever inserts at the right edge doesn't pay the cost of
// rewriting half a page on every split (§4.3).

// splitRatio picks how much of a full page's entries stay on the left
// (original) side of a split, based on the fraction of all-time inserts
// that landed at the current maximum key (maxValueInsertCount /
// insertCount): a workload dominated by ever-increasing keys gets a
// ratio of 1.0, which splitIndex clamps so that only the last entry
// moves to the right page, leaving it nearly empty to absorb future
// appends; a workload mostly-but-not-always
// appending gets 90/10; anything else gets a balanced 50/50.
func splitRatio(insertCount, maxValueInsertCount uint64) float64 {
	if insertCount == 0 {
		return 0.5
	}
	r := float64(maxValueInsertCount) / float64(insertCount)
	switch {
	case r > 0.8:
		return 1.0
	case r > 0.4:
		return 0.9
	default:
		return 0.5
	}
}

// splitIndex turns a split ratio into an entry index in [1, n-1], the
// point at which entries [idx, n) move to the new right-hand page. It
// is always at least 1 so the left page keeps at least one entry, and
// at most n-1 so the right page gets at least one.
func splitIndex(n int, leftFraction float64) int {
	idx := int(float64(n) * leftFraction)
	if idx < 1 {
		idx = 1
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// splitPage moves src's entries [idx, n) onto the freshly formatted
// dst, in order, leaving src with only [0, idx). Both pages must be the
// same kind and leaf/internal-ness. Returns dst's first key, the
// separator the caller inserts into the parent to point at dst
// (§4.3's delegate-key propagation: this is the "insert-new-first-key"
// half of the pair; a plain split never needs the "expunge-old"
// half, since src's own first key is untouched).
func splitPage(src, dst pageOps, idx int) ([]byte, error) {
	n := src.EntryCount()
	for i := idx; i < n; i++ {
		e := src.Entry(i)
		if src.IsLeaf() {
			if err := dst.InsertLeaf(dst.EntryCount(), e); err != nil {
				return nil, err
			}
		} else {
			if err := dst.InsertInternal(dst.EntryCount(), e.Key, src.ChildAt(i)); err != nil {
				return nil, err
			}
		}
	}
	for i := n - 1; i >= idx; i-- {
		src.Remove(i)
	}
	src.Compact()
	if dst.EntryCount() == 0 {
		return nil, WrapError(ErrUnexpected, nil)
	}
	return append([]byte(nil), dst.KeyAt(0)...), nil
}

// threeWaySplit is splitPage's fallback for the rare case where the
// entries destined for the right side don't even fit in one freshly
// formatted page on their own (a handful of oversized entries
// clustered at the tail): it divides src's tail into two roughly equal
// halves across dst1 and dst2 instead of one.
func threeWaySplit(src, dst1, dst2 pageOps, idx int) (dst1FirstKey, dst2FirstKey []byte, err error) {
	n := src.EntryCount()
	mid := idx + (n-idx)/2
	if mid <= idx {
		mid = idx + 1
	}
	if mid >= n {
		mid = n - 1
	}
	if _, err := splitPage(src, dst1, idx); err != nil {
		return nil, nil, err
	}
	// dst1 now holds everything from idx on; carve its own tail into
	// dst2 at the equivalent offset.
	localMid := mid - idx
	key2, err := splitPage(dst1, dst2, localMid)
	if err != nil {
		return nil, nil, err
	}
	return append([]byte(nil), dst1.KeyAt(0)...), key2, nil
}

// canRedistribute reports whether redistribution is worth attempting
// before falling back to a split or ahead of a concatenate (§4.3): it
// checks only that left and right each hold more than one entry, not
// their free space.
func canRedistribute(left, right pageOps) bool {
	return left.EntryCount() > 1 && right.EntryCount() > 1
}

// redistribute moves entries across the left/right boundary until both
// sides' free space is roughly balanced, moving from whichever side has
// more entries. It reports whether left's first key changed, which
// happens only when every one of left's original entries moved away —
// the case that requires the delegate-key expunge+insert pair at the
// parent (§4.3).
func redistribute(left, right pageOps) (leftFirstKeyChanged bool, err error) {
	oldLeftFirst := append([]byte(nil), left.KeyAt(0)...)

	for left.EntryCount() > right.EntryCount()+1 {
		i := left.EntryCount() - 1
		e := left.Entry(i)
		if left.IsLeaf() {
			if err := right.InsertLeaf(0, e); err != nil {
				return false, err
			}
		} else {
			if err := right.InsertInternal(0, e.Key, left.ChildAt(i)); err != nil {
				return false, err
			}
		}
		left.Remove(i)
	}
	for right.EntryCount() > left.EntryCount()+1 {
		e := right.Entry(0)
		if right.IsLeaf() {
			if err := left.InsertLeaf(left.EntryCount(), e); err != nil {
				return false, err
			}
		} else {
			if err := left.InsertInternal(left.EntryCount(), e.Key, right.ChildAt(0)); err != nil {
				return false, err
			}
		}
		right.Remove(0)
	}
	left.Compact()
	right.Compact()

	if left.EntryCount() == 0 {
		return false, nil
	}
	return string(left.KeyAt(0)) != string(oldLeftFirst), nil
}

// concatenate moves every entry of right onto the end of left. The
// caller is responsible for verifying left has enough free space (via
// FreeBytes) before calling, and for freeing right's area afterward
// (§4.3).
func concatenate(left, right pageOps) error {
	n := right.EntryCount()
	for i := 0; i < n; i++ {
		e := right.Entry(i)
		if right.IsLeaf() {
			if err := left.InsertLeaf(left.EntryCount(), e); err != nil {
				return err
			}
		} else {
			if err := left.InsertInternal(left.EntryCount(), e.Key, right.ChildAt(i)); err != nil {
				return err
			}
		}
	}
	left.Compact()
	return nil
}

// fitsConcatenated estimates whether right's live entries would fit
// into left's current free space without actually performing the
// move — a cheap admission check before committing to concatenate.
func fitsConcatenated(left, right pageOps) bool {
	need := 0
	n := right.EntryCount()
	for i := 0; i < n; i++ {
		e := right.Entry(i)
		if right.IsLeaf() {
			need += 2 + len(e.Key) + 8
		} else {
			need += 2 + len(e.Key) + addrSize
		}
	}
	return left.FreeBytes() >= need
}
