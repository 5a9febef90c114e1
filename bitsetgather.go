package bxfile

import "sync"

// bitsetgather.go: the one intra-file parallel operation (§4.7, §5's
// "sole intra-file parallel section"). Given a vector of conditions, a
// bounded pool of workers claims one condition at a time from a
// latch-guarded iterator, walks that condition's whole leaf chain, and
// ORs its findings into one shared row-id set at the end — a fork-join
// worker pool rather than a preemptive scheduler, and one where a
// worker that finishes a short chain picks up whichever condition is
// claimed next instead of sitting idle.

// RowSet is the result of a bitset gather: the set of row ids matched
// by at least one condition. It is not safe for concurrent writes from
// multiple goroutines; GatherByBitSet's workers each accumulate into
// their own RowSet and merge into the shared one under the gather
// latch.
type RowSet map[RowID]struct{}

func newRowSet() RowSet { return make(RowSet) }

func (s RowSet) add(r RowID) { s[r] = struct{}{} }

// merge ORs other into s in place.
func (s RowSet) merge(other RowSet) {
	for r := range other {
		s[r] = struct{}{}
	}
}

// Contains reports whether r is in the set.
func (s RowSet) Contains(r RowID) bool {
	_, ok := s[r]
	return ok
}

// Len returns the number of distinct rows in the set.
func (s RowSet) Len() int { return len(s) }

// gatherIterator is the single piece of shared state every worker
// pulls from: a cursor over the condition vector, protected by mu, the
// file-wide latch §4.7/§5 describe. Claiming a condition hands its
// entire leaf chain to one worker — a single condition's leaves must
// be visited in sibling-link order, so there is nothing to gain from
// letting two workers fight over the same chain, only from letting
// independent conditions run concurrently.
type gatherIterator struct {
	mu         sync.Mutex
	conditions []Condition
	nextIdx    int
}

// claim hands the caller the next unclaimed condition and its index,
// or ok=false once every condition has been claimed.
func (g *gatherIterator) claim() (cond Condition, idx int, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nextIdx >= len(g.conditions) {
		return Condition{}, 0, false
	}
	idx = g.nextIdx
	cond = g.conditions[idx]
	g.nextIdx++
	return cond, idx, true
}

// scanLeaf collects every matching, non-tombstoned row in one leaf for
// cond, starting at cond.Key (isNew) or at entry 0 (continuation), and
// reports the next leaf to continue into if the scan ran off this
// leaf's tail still matching.
func scanLeaf(f *BTreeFile, cond Condition, leaf pageAddr, isNew bool, out RowSet) (nextLeaf pageAddr, hasMore bool, err error) {
	ref, ops, err := f.openForRead(leaf)
	if err != nil {
		return pageAddr{}, false, err
	}
	defer ref.Unfix(false)

	n := ops.EntryCount()
	start := 0
	if isNew {
		start, _ = ops.Find(f.cmp, cond.Key, cond.IsNull)
	}
	matchedToEnd := n > 0 && start < n
	for i := start; i < n; i++ {
		e := ops.Entry(i)
		eq := e.IsNull == cond.IsNull && (cond.IsNull || f.cmp.Compare(e.Key, cond.Key) == 0)
		if !eq {
			matchedToEnd = false
			break
		}
		if !e.Tombstoned {
			out.add(e.Row)
		}
		if cond.Exact && f.kind == KindUnique {
			// A Unique index has at most one live row per key; no
			// point continuing once it's been found.
			matchedToEnd = false
			break
		}
		if i == n-1 {
			matchedToEnd = true
		}
	}
	if !matchedToEnd {
		return pageAddr{}, false, nil
	}
	next := ops.Raw().Next()
	if next.isUndefined() {
		return pageAddr{}, false, nil
	}
	return next, true, nil
}

// scanCondition walks cond's entire leaf chain — the "repeatedly call
// next_leaf_page" loop of §4.7, internalized to the single worker that
// claimed this condition — accumulating matches into out.
func scanCondition(f *BTreeFile, cond Condition, out RowSet) error {
	path, err := f.descendPath(cond.Key, cond.IsNull)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	isNew := true
	for {
		next, hasMore, err := scanLeaf(f, cond, leaf, isNew, out)
		if err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
		leaf = next
		isNew = false
	}
}

// GatherByBitSet runs conditions against file concurrently across up
// to workerCount goroutines and returns the union of every matching
// row (§4.7). workerCount is clamped to at least 1 and to the number
// of conditions, since a worker with no condition left to claim has
// nothing to do.
func (f *BTreeFile) GatherByBitSet(conditions []Condition, workerCount int) (RowSet, error) {
	if len(conditions) == 0 {
		return newRowSet(), nil
	}
	if workerCount < 1 {
		workerCount = 1
	}
	if workerCount > len(conditions) {
		workerCount = len(conditions)
	}

	iter := &gatherIterator{conditions: conditions}
	result := newRowSet()
	var resultMu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := newRowSet()
			for {
				cond, _, ok := iter.claim()
				if !ok {
					break
				}
				if err := scanCondition(f, cond, local); err != nil {
					setErr(err)
					return
				}
			}
			resultMu.Lock()
			result.merge(local)
			resultMu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}
