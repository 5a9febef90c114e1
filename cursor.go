package bxfile

import "github.com/diskbtree/bxfile/txnctl"

// cursor.go: the search cursor state machine (§4.7). A cursor is
// primed against a condition, then walked one entry at a time with
// Get; Mark/Rewind save and restore its position so a caller can back
// out of a partial scan (e.g. after discovering a later predicate
// fails) without re-descending from the root.

// CursorState is the cursor's current phase.
type CursorState int

const (
	// CursorIdle has never been primed with Search.
	CursorIdle CursorState = iota
	// CursorPrimed has a starting position but has not yet yielded an
	// entry via Get.
	CursorPrimed
	// CursorScanning has yielded at least one entry and may yield more.
	CursorScanning
	// CursorExhausted will yield no further entries; Get always
	// reports ok=false.
	CursorExhausted
)

// Condition is what a cursor searches for: an equality probe (Exact)
// or an open-ended range anchored at Key (inclusive) and scanned until
// the underlying comparator stops matching a caller-supplied predicate
// is out of scope here — range filtering beyond the anchor is the
// caller's job once it starts reading rows back via Get.
type Condition struct {
	Key    []byte
	IsNull bool
	Exact  bool // Unique/point lookups can stop after the first hit
}

// Cursor walks one BTreeFile's leaves, optionally registering a
// pulse-duration lock on each leaf page it visits through lockMgr
// (§4.7, §4.8's row-lock collaborator).
type Cursor struct {
	file    *BTreeFile
	lockMgr txnctl.LockManager

	state   CursorState
	reverse bool
	cond    Condition

	leaf pageAddr
	idx  int

	markLeaf  pageAddr
	markIdx   int
	markState CursorState
}

// NewCursor creates an idle cursor over file. lockMgr may be nil, in
// which case no row locks are registered (read-only embeddings that
// supply their own concurrency control at a higher level).
func NewCursor(file *BTreeFile, lockMgr txnctl.LockManager) *Cursor {
	return &Cursor{file: file, lockMgr: lockMgr, state: CursorIdle}
}

// Search primes the cursor at cond's anchor key, in ascending order
// unless reverse is set.
func (c *Cursor) Search(cond Condition, reverse bool) error {
	path, err := c.file.descendPath(cond.Key, cond.IsNull)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	ref, ops, err := c.file.openForRead(leaf)
	if err != nil {
		return err
	}
	idx, exact := ops.Find(c.file.cmp, cond.Key, cond.IsNull)
	n := ops.EntryCount()
	ref.Unfix(false)

	c.cond = cond
	c.reverse = reverse
	c.leaf = leaf
	if reverse {
		if exact {
			c.idx = idx
		} else {
			c.idx = idx - 1
		}
	} else {
		c.idx = idx
	}
	c.state = CursorPrimed
	if n == 0 {
		c.state = CursorExhausted
	}
	return c.registerLock(leaf)
}

func (c *Cursor) registerLock(leaf pageAddr) error {
	if c.lockMgr == nil {
		return nil
	}
	name := leafLockName(leaf)
	_, err := c.lockMgr.Lock(name, txnctl.Shared, txnctl.Pulse)
	return err
}

func leafLockName(addr pageAddr) string {
	b := make([]byte, addrSize)
	putAddr(b, addr)
	return "leaf:" + string(b)
}

// Get returns the entry at the cursor's current position and advances
// it, reporting ok=false once the scan is exhausted or cond.Key stops
// matching (for a non-Exact condition, the caller is expected to keep
// calling Get only while it wants entries from this key onward; Get
// itself only detects the anchor-equality boundary for Exact
// conditions and natural end-of-chain).
func (c *Cursor) Get() (key []byte, row RowID, ok bool, err error) {
	if c.state == CursorIdle || c.state == CursorExhausted {
		return nil, 0, false, nil
	}

	for {
		ref, ops, ferr := c.file.openForRead(c.leaf)
		if ferr != nil {
			return nil, 0, false, ferr
		}
		n := ops.EntryCount()
		if c.idx == newLeafSentinel {
			if c.reverse {
				c.idx = n - 1
			} else {
				c.idx = 0
			}
		}
		if c.idx < 0 || c.idx >= n {
			next := c.advanceLeaf(ops)
			ref.Unfix(false)
			if next.isUndefined() {
				c.state = CursorExhausted
				return nil, 0, false, nil
			}
			c.leaf = next
			c.idx = newLeafSentinel
			if err := c.registerLock(c.leaf); err != nil {
				return nil, 0, false, err
			}
			continue
		}

		e := ops.Entry(c.idx)
		if c.cond.Exact {
			eq := e.IsNull == c.cond.IsNull && (e.IsNull || c.file.cmp.Compare(e.Key, c.cond.Key) == 0)
			if !eq {
				ref.Unfix(false)
				c.state = CursorExhausted
				return nil, 0, false, nil
			}
		}

		key = append([]byte(nil), e.Key...)
		row = e.Row
		skip := e.Tombstoned
		if c.reverse {
			c.idx--
		} else {
			c.idx++
		}
		ref.Unfix(false)

		c.state = CursorScanning
		if c.cond.Exact {
			// Uniqueness guarantees at most one live match; stop
			// scanning immediately instead of walking further leaves.
			if c.file.kind == KindUnique {
				c.state = CursorExhausted
			}
		}
		if skip {
			if c.state == CursorExhausted {
				return nil, 0, false, nil
			}
			continue
		}
		return key, row, true, nil
	}
}

func (c *Cursor) advanceLeaf(ops pageOps) pageAddr {
	if c.reverse {
		return ops.Raw().Prev()
	}
	return ops.Raw().Next()
}

// newLeafSentinel marks a freshly entered leaf whose starting index
// (0 going forward, EntryCount()-1 going in reverse) can only be
// resolved once that leaf's entry count is known.
const newLeafSentinel = -1 << 30

// Mark snapshots the cursor's current position so a later Rewind can
// return to it.
func (c *Cursor) Mark() {
	c.markLeaf = c.leaf
	c.markIdx = c.idx
	c.markState = c.state
}

// Rewind restores the position last saved by Mark.
func (c *Cursor) Rewind() {
	c.leaf = c.markLeaf
	c.idx = c.markIdx
	c.state = c.markState
}

// DetachSearchPage forgets the cursor's current position, returning it
// to CursorIdle. Get re-fixes every page it visits rather than holding
// one pinned across calls, so there is no buffer reference to release
// here; this only discards the cached leaf/index so a later Search
// starts a fresh descent instead of resuming.
func (c *Cursor) DetachSearchPage() {
	c.leaf = pageAddr{}
	c.idx = 0
	c.state = CursorIdle
}
