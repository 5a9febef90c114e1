package bxfile

import (
	"io"
	"time"

	"github.com/diskbtree/bxfile/bufpool"
)

// btreefile.go: the B+-tree file itself, the layer that ties the
// physical allocator (areafile.go/areadir.go) to the page codecs
// (pageops.go) and the split/redistribute primitives (rebalance.go)
// into create/search/insert/expunge/verify operations (§4.4-§4.8).
//
// Simplifying convention: every B+-tree page (leaf or internal) is
// formatted as the dominant area of its own physical page rather than
// packed several-to-a-page. The area-manage file's variable-sized
// allocation still matters — it is what lets a freed B+-tree page's
// area be reclaimed and reused by a later allocation — but this file
// never needs area-level growth (changeAreaSize) in its hot insert
// path, only allocateArea once per new page.

// OpenMode selects how a BTreeFile instance intends to use the file, a
// declaration the embedding layer's transaction manager uses to choose
// its own isolation level (§6 "configuration").
type OpenMode int

const (
	ModeRead OpenMode = iota
	ModeUpdate
	ModeBatch
	ModeVerify
)

// header field offsets within the file's dedicated header area.
const (
	hdrKindOff                = 0
	hdrRootOff                = hdrKindOff + 1
	hdrLeftOff                = hdrRootOff + addrSize
	hdrRightOff               = hdrLeftOff + addrSize
	hdrEntryCountOff          = hdrRightOff + addrSize
	hdrStepCountOff           = hdrEntryCountOff + 8
	hdrInsertCountOff         = hdrStepCountOff + 8
	hdrMaxValueInsertCountOff = hdrInsertCountOff + 8
	hdrLastMtimeOff           = hdrMaxValueInsertCountOff + 8
	hdrExpungeFlagCountOff    = hdrLastMtimeOff + 8
	headerAreaSize            = hdrExpungeFlagCountOff + 8
)

type fileHeader struct{ data []byte }

func (h *fileHeader) Kind() Kind              { return Kind(h.data[hdrKindOff]) }
func (h *fileHeader) SetKind(k Kind)          { h.data[hdrKindOff] = byte(k) }
func (h *fileHeader) Root() pageAddr          { return getAddr(h.data[hdrRootOff:]) }
func (h *fileHeader) SetRoot(a pageAddr)      { putAddr(h.data[hdrRootOff:], a) }
func (h *fileHeader) Leftmost() pageAddr      { return getAddr(h.data[hdrLeftOff:]) }
func (h *fileHeader) SetLeftmost(a pageAddr)  { putAddr(h.data[hdrLeftOff:], a) }
func (h *fileHeader) Rightmost() pageAddr     { return getAddr(h.data[hdrRightOff:]) }
func (h *fileHeader) SetRightmost(a pageAddr) { putAddr(h.data[hdrRightOff:], a) }
func (h *fileHeader) EntryCount() uint64      { return getUint64LE(h.data[hdrEntryCountOff:]) }
func (h *fileHeader) SetEntryCount(v uint64)  { putUint64LE(h.data[hdrEntryCountOff:], v) }
func (h *fileHeader) StepCount() uint64       { return getUint64LE(h.data[hdrStepCountOff:]) }
func (h *fileHeader) SetStepCount(v uint64)   { putUint64LE(h.data[hdrStepCountOff:], v) }
func (h *fileHeader) InsertCount() uint64     { return getUint64LE(h.data[hdrInsertCountOff:]) }
func (h *fileHeader) SetInsertCount(v uint64) { putUint64LE(h.data[hdrInsertCountOff:], v) }
func (h *fileHeader) MaxValueInsertCount() uint64 {
	return getUint64LE(h.data[hdrMaxValueInsertCountOff:])
}
func (h *fileHeader) SetMaxValueInsertCount(v uint64) {
	putUint64LE(h.data[hdrMaxValueInsertCountOff:], v)
}
func (h *fileHeader) LastMtime() int64     { return int64(getUint64LE(h.data[hdrLastMtimeOff:])) }
func (h *fileHeader) SetLastMtime(v int64) { putUint64LE(h.data[hdrLastMtimeOff:], uint64(v)) }
func (h *fileHeader) ExpungeFlagCount() uint64 {
	return getUint64LE(h.data[hdrExpungeFlagCountOff:])
}
func (h *fileHeader) SetExpungeFlagCount(v uint64) {
	putUint64LE(h.data[hdrExpungeFlagCountOff:], v)
}

// BTreeFile is one secondary-index file: Simple, Multi or Unique,
// selected at creation and fixed for the file's lifetime.
type BTreeFile struct {
	af   *AreaFile
	cmp  Comparator
	kind Kind
	mode OpenMode

	headerAddr pageAddr
	root       pageAddr
	leftmost   pageAddr
	rightmost  pageAddr

	logger LoggerFunc
}

// CreateBTreeFile formats a brand-new B+-tree file of the given kind on
// an empty pool.
func CreateBTreeFile(pool bufpool.Pool, opts CreateOptions, kind Kind, cmp Comparator) (*BTreeFile, error) {
	af, err := Create(pool, opts)
	if err != nil {
		return nil, err
	}
	pid, err := af.AllocatePage(100)
	if err != nil {
		return nil, err
	}
	ref, err := af.FixPage(pid, bufpool.Write)
	if err != nil {
		return nil, WrapError(ErrFileManipulateError, err)
	}
	ap := newAreaPage(ref.Bytes())
	hdrArea, err := ap.allocateArea(headerAreaSize, false)
	if err != nil {
		ref.Unfix(true)
		return nil, err
	}
	leafSize := int(ap.freeSize())
	leafArea, err := ap.allocateArea(leafSize, false)
	if err != nil {
		ref.Unfix(true)
		return nil, err
	}
	newLeafPage(kind, ap.areaBytes(leafArea))

	rootAddr := pageAddr{Page: pid, Area: leafArea}
	hdr := &fileHeader{ap.areaBytes(hdrArea)}
	hdr.SetKind(kind)
	hdr.SetRoot(rootAddr)
	hdr.SetLeftmost(rootAddr)
	hdr.SetRightmost(rootAddr)

	f := &BTreeFile{
		af: af, cmp: cmp, kind: kind, mode: ModeUpdate,
		headerAddr: pageAddr{Page: pid, Area: hdrArea},
		root:       rootAddr, leftmost: rootAddr, rightmost: rootAddr,
		logger: noopLogger,
	}
	up, fp := ap.unusedPercent(), ap.freePercent()
	if err := ref.Unfix(false); err != nil {
		return nil, WrapError(ErrFileManipulateError, err)
	}
	if err := af.UpdatePageRate(pid, up, fp); err != nil {
		return nil, err
	}
	return f, nil
}

// MountBTreeFile attaches to an existing B+-tree file, reading its
// header from the first managed page's area 0 (the convention every
// CreateBTreeFile call establishes).
func MountBTreeFile(pool bufpool.Pool, cmp Comparator) (*BTreeFile, error) {
	af, err := Mount(pool)
	if err != nil {
		return nil, err
	}
	pid, ok := af.GetTopPageID()
	if !ok {
		return nil, WrapError(ErrNotFound, nil)
	}
	ref, err := af.FixPage(pid, bufpool.ReadOnly)
	if err != nil {
		return nil, WrapError(ErrFileManipulateError, err)
	}
	ap := newAreaPage(ref.Bytes())
	hdr := &fileHeader{ap.areaBytes(0)}
	f := &BTreeFile{
		af: af, cmp: cmp, kind: hdr.Kind(), mode: ModeUpdate,
		headerAddr: pageAddr{Page: pid, Area: 0},
		root:       hdr.Root(), leftmost: hdr.Leftmost(), rightmost: hdr.Rightmost(),
		logger: noopLogger,
	}
	if err := ref.Unfix(false); err != nil {
		return nil, WrapError(ErrFileManipulateError, err)
	}
	return f, nil
}

func (f *BTreeFile) Kind() Kind   { return f.kind }
func (f *BTreeFile) Close() error { return f.af.Flush() }

// FlushAllPages forces every dirty page the underlying area-manage
// file holds out to the buffer pool (§6's canonical `flush_all_pages`).
func (f *BTreeFile) FlushAllPages() error { return f.af.Flush() }

// Sync forwards to the area-manage file's Sync, the canonical
// `sync(in-out incomplete, modified)` operation.
func (f *BTreeFile) Sync() (incomplete, modified bool, err error) { return f.af.Sync() }

// RecoverAllPages rebuilds every area-manage table's counters and
// bitmap from its managed pages' own area-directory headers, the
// canonical `recover_all_pages` operation (§6, §4.8). Like
// AreaFile.RecoverAllAreaManageTables, it returns ErrVerifyCorrected on
// a clean run rather than nil.
func (f *BTreeFile) RecoverAllPages(cancel Canceller) error {
	return f.af.RecoverAllAreaManageTables(cancel)
}

// Backup writes a full snapshot of the underlying area-manage file,
// the canonical `backup_start`/`backup_end` pair collapsed into one
// call since this engine has no incremental backup mode.
func (f *BTreeFile) Backup(w io.Writer) error { return f.af.Backup(w) }

// Move relocates the file onto dst, the canonical `move(path)`
// operation; the destination pool stands in for a target path since
// this module leaves storage location to the buffer pool collaborator.
func (f *BTreeFile) Move(dst bufpool.Pool) (*BTreeFile, error) {
	moved, err := f.af.Move(dst)
	if err != nil {
		return nil, err
	}
	cp := *f
	cp.af = moved
	return &cp, nil
}

// Destroy discards the file's backing pages. The area-manage file owns
// no directory of its own (that is the embedding layer's job per §1),
// so destroying a BTreeFile is flushing whatever the pool already has
// and letting the caller remove the pool's backing storage.
func (f *BTreeFile) Destroy() error { return f.af.Flush() }

// -- low-level page access --

func (f *BTreeFile) openForRead(addr pageAddr) (bufpool.Ref, pageOps, error) {
	ref, err := f.af.FixPage(addr.Page, bufpool.ReadOnly)
	if err != nil {
		return nil, nil, WrapError(ErrFileManipulateError, err)
	}
	ap := newAreaPage(ref.Bytes())
	return ref, openPage(f.kind, ap.areaBytes(addr.Area)), nil
}

func (f *BTreeFile) openForWrite(addr pageAddr) (bufpool.Ref, pageOps, error) {
	ref, err := f.af.FixPage(addr.Page, bufpool.DiscardableWrite)
	if err != nil {
		return nil, nil, WrapError(ErrFileManipulateError, err)
	}
	ap := newAreaPage(ref.Bytes())
	return ref, openPage(f.kind, ap.areaBytes(addr.Area)), nil
}

// closePage unfixes ref and refreshes addr.Page's rate-bitmap entry.
func (f *BTreeFile) closePage(ref bufpool.Ref, addr pageAddr) error {
	ap := newAreaPage(ref.Bytes())
	up, fp := ap.unusedPercent(), ap.freePercent()
	if err := ref.Unfix(false); err != nil {
		return WrapError(ErrFileManipulateError, err)
	}
	return f.af.UpdatePageRate(addr.Page, up, fp)
}

// newPage allocates a brand-new physical page, carves out nearly all
// of it as a single area, and formats that area as an empty leaf or
// internal page.
func (f *BTreeFile) newPage(leaf bool) (pageAddr, error) {
	pid, err := f.af.AllocatePage(100)
	if err != nil {
		return pageAddr{}, err
	}
	ref, err := f.af.FixPage(pid, bufpool.DiscardableWrite)
	if err != nil {
		return pageAddr{}, WrapError(ErrFileManipulateError, err)
	}
	ap := newAreaPage(ref.Bytes())
	size := int(ap.freeSize()) - ap.directoryGrowthFor(AreaID(ap.managedCount()))
	areaID, err := ap.allocateArea(size, false)
	if err != nil {
		ref.Unfix(true)
		return pageAddr{}, err
	}
	if leaf {
		newLeafPage(f.kind, ap.areaBytes(areaID))
	} else {
		newInternalPage(f.kind, ap.areaBytes(areaID))
	}
	addr := pageAddr{Page: pid, Area: areaID}
	if err := f.closePage(ref, addr); err != nil {
		return pageAddr{}, err
	}
	return addr, nil
}

func (f *BTreeFile) firstKeyOf(addr pageAddr) ([]byte, error) {
	ref, ops, err := f.openForRead(addr)
	if err != nil {
		return nil, err
	}
	defer ref.Unfix(false)
	if ops.EntryCount() == 0 {
		return nil, WrapError(ErrUnexpected, nil)
	}
	return append([]byte(nil), ops.KeyAt(0)...), nil
}

// -- header bookkeeping --

func (f *BTreeFile) withHeader(mutate func(h *fileHeader)) error {
	ref, err := f.af.FixPage(f.headerAddr.Page, bufpool.DiscardableWrite)
	if err != nil {
		return WrapError(ErrFileManipulateError, err)
	}
	ap := newAreaPage(ref.Bytes())
	hdr := &fileHeader{ap.areaBytes(f.headerAddr.Area)}
	mutate(hdr)
	return ref.Unfix(false)
}

func (f *BTreeFile) headerCounters() (insertCount, maxValueInsertCount uint64) {
	ref, err := f.af.FixPage(f.headerAddr.Page, bufpool.ReadOnly)
	if err != nil {
		return 0, 0
	}
	defer ref.Unfix(false)
	ap := newAreaPage(ref.Bytes())
	hdr := &fileHeader{ap.areaBytes(f.headerAddr.Area)}
	return hdr.InsertCount(), hdr.MaxValueInsertCount()
}

// bumpCounters updates the header's lifetime insert accounting used by
// splitRatio, and its entry count. isAppend marks an insert whose key
// was >= every existing key at the time (the rightmost edge), feeding
// maxValueInsertCount (§4.3).
func (f *BTreeFile) bumpCounters(isAppend bool, mtime int64) {
	f.withHeader(func(h *fileHeader) {
		h.SetEntryCount(h.EntryCount() + 1)
		h.SetInsertCount(h.InsertCount() + 1)
		if isAppend {
			h.SetMaxValueInsertCount(h.MaxValueInsertCount() + 1)
		}
		h.SetLastMtime(mtime)
	})
}

func (f *BTreeFile) bumpExpungeFlagCount(delta int64) {
	f.withHeader(func(h *fileHeader) {
		v := int64(h.ExpungeFlagCount()) + delta
		if v < 0 {
			v = 0
		}
		h.SetExpungeFlagCount(uint64(v))
	})
}

func (f *BTreeFile) bumpStepCount() {
	f.withHeader(func(h *fileHeader) { h.SetStepCount(h.StepCount() + 1) })
}

func (f *BTreeFile) setRoot(addr pageAddr) {
	f.root = addr
	f.withHeader(func(h *fileHeader) { h.SetRoot(addr) })
}

func (f *BTreeFile) setLeftmost(addr pageAddr) {
	f.leftmost = addr
	f.withHeader(func(h *fileHeader) { h.SetLeftmost(addr) })
}

func (f *BTreeFile) setRightmost(addr pageAddr) {
	f.rightmost = addr
	f.withHeader(func(h *fileHeader) { h.SetRightmost(addr) })
}

// -- descent --

// descendPath returns the root-to-leaf path of page addresses for key.
func (f *BTreeFile) descendPath(key []byte, isNull bool) ([]pageAddr, error) {
	path := make([]pageAddr, 0, 4)
	addr := f.root
	for {
		path = append(path, addr)
		ref, ops, err := f.openForRead(addr)
		if err != nil {
			return nil, err
		}
		if ops.IsLeaf() {
			ref.Unfix(false)
			return path, nil
		}
		idx, exact := ops.Find(f.cmp, key, isNull)
		if !exact && idx > 0 {
			idx--
		}
		child := ops.ChildAt(idx)
		ref.Unfix(false)
		addr = child
	}
}

// Search returns every row stored under key (isNull selects the NULL
// key class for Multi files; other kinds ignore it), walking right
// across sibling leaves while keys keep comparing equal, and skipping
// tombstoned Unique entries (§4.4-§4.6).
func (f *BTreeFile) Search(key []byte, isNull bool) ([]RowID, error) {
	path, err := f.descendPath(key, isNull)
	if err != nil {
		return nil, err
	}
	leaf := path[len(path)-1]
	var rows []RowID
	for {
		ref, ops, err := f.openForRead(leaf)
		if err != nil {
			return nil, err
		}
		n := ops.EntryCount()
		idx, _ := ops.Find(f.cmp, key, isNull)
		matchedToEnd := false
		for i := idx; i < n; i++ {
			e := ops.Entry(i)
			eq := e.IsNull == isNull && (isNull || f.cmp.Compare(e.Key, key) == 0)
			if !eq {
				break
			}
			if !e.Tombstoned {
				rows = append(rows, e.Row)
			}
			if i == n-1 {
				matchedToEnd = true
			}
		}
		next := ops.Raw().Next()
		ref.Unfix(false)
		if !matchedToEnd || next.isUndefined() {
			break
		}
		leaf = next
	}
	return rows, nil
}

// Insert adds one (key, row) entry. For Unique files a live, non-equal
// key is checked with the comparator's IntegrityCheck; re-inserting a
// key whose only entry is tombstoned resurrects that entry in place.
func (f *BTreeFile) Insert(key []byte, row RowID, isNull bool) error {
	if f.kind != KindMulti && isNull {
		return NewError(ErrBadArgument)
	}
	path, err := f.descendPath(key, isNull)
	if err != nil {
		return err
	}
	leafAddr := path[len(path)-1]

	if f.kind == KindUnique {
		ref, ops, err := f.openForRead(leafAddr)
		if err != nil {
			return err
		}
		idx, exact := ops.Find(f.cmp, key, isNull)
		if exact {
			e := ops.Entry(idx)
			ref.Unfix(false)
			if !e.Tombstoned {
				ucmp := asUniqueComparator(f.cmp)
				if err := ucmp.IntegrityCheck(key, e.Key); err != nil {
					return err
				}
			}
			return f.resurrect(leafAddr, idx, key, row)
		}
		ref.Unfix(false)
	}

	isAppend := f.isRightmostAppend(path, key)
	e := leafEntry{Key: key, Row: row, IsNull: isNull}
	if err := f.insertIntoPage(path, len(path)-1, key, e, pageAddr{}, true); err != nil {
		return err
	}
	f.bumpCounters(isAppend, stampNow())
	return nil
}

func (f *BTreeFile) resurrect(leafAddr pageAddr, idx int, key []byte, row RowID) error {
	ref, ops, err := f.openForWrite(leafAddr)
	if err != nil {
		return err
	}
	ops.Remove(idx)
	if err := ops.InsertLeaf(idx, leafEntry{Key: key, Row: row}); err != nil {
		ref.Unfix(true)
		return err
	}
	if err := f.closePage(ref, leafAddr); err != nil {
		return err
	}
	f.bumpExpungeFlagCount(-1)
	f.bumpCounters(false, stampNow())
	return nil
}

// isRightmostAppend reports whether key is >= the tree's current
// maximum key, the condition splitRatio's workload detection tracks.
func (f *BTreeFile) isRightmostAppend(path []pageAddr, key []byte) bool {
	last, err := f.firstKeyOf(f.rightmost)
	if err != nil {
		return false
	}
	ref, ops, err := f.openForRead(f.rightmost)
	if err != nil {
		return false
	}
	defer ref.Unfix(false)
	if ops.EntryCount() == 0 {
		return true
	}
	_ = last
	return f.cmp.Compare(key, ops.KeyAt(ops.EntryCount()-1)) >= 0
}

// insertIntoPage inserts a leaf entry (isLeaf) or an internal
// separator+child pair into path[level], splitting and propagating
// upward on overflow, and propagating a delegate-key change to the
// parent when the insertion lands at slot 0 (§4.3).
func (f *BTreeFile) insertIntoPage(path []pageAddr, level int, key []byte, e leafEntry, child pageAddr, isLeaf bool) error {
	addr := path[level]
	ref, ops, err := f.openForWrite(addr)
	if err != nil {
		return err
	}

	idx, exact := ops.Find(f.cmp, key, e.IsNull)
	var insertErr error
	if isLeaf {
		insertErr = ops.InsertLeaf(idx, e)
	} else {
		if exact {
			idx++
		}
		insertErr = ops.InsertInternal(idx, key, child)
	}
	if insertErr == nil {
		wasFirst := idx == 0
		if err := f.closePage(ref, addr); err != nil {
			return err
		}
		if wasFirst && level > 0 {
			return f.updateDelegateKey(path[:level], addr, key)
		}
		return nil
	}
	if !Is(insertErr, ErrOutOfSpace) {
		ref.Unfix(true)
		return insertErr
	}
	ref.Unfix(true)
	return f.splitPageAt(path, level, key, e, child, isLeaf)
}

func (f *BTreeFile) splitPageAt(path []pageAddr, level int, key []byte, e leafEntry, child pageAddr, isLeaf bool) error {
	addr := path[level]
	ref, ops, err := f.openForWrite(addr)
	if err != nil {
		return err
	}
	newAddr, err := f.newPage(isLeaf)
	if err != nil {
		ref.Unfix(true)
		return err
	}
	nref, nops, err := f.openForWrite(newAddr)
	if err != nil {
		ref.Unfix(true)
		return err
	}

	insertCount, maxVal := f.headerCounters()
	ratio := splitRatio(insertCount, maxVal)
	idx := splitIndex(ops.EntryCount(), ratio)
	sepKey, err := splitPage(ops, nops, idx)
	if err != nil {
		ref.Unfix(true)
		nref.Unfix(true)
		return err
	}

	if isLeaf {
		oldNext := ops.Raw().Next()
		ops.Raw().SetNext(newAddr)
		nops.Raw().SetPrev(addr)
		nops.Raw().SetNext(oldNext)
		if !oldNext.isUndefined() {
			if onref, oops, err := f.openForWrite(oldNext); err == nil {
				oops.Raw().SetPrev(newAddr)
				f.closePage(onref, oldNext)
			}
		} else {
			f.setRightmost(newAddr)
		}
	}

	target := ops
	if f.cmp.Compare(key, sepKey) >= 0 {
		target = nops
	}
	tidx, texact := target.Find(f.cmp, key, e.IsNull)
	if isLeaf {
		if err := target.InsertLeaf(tidx, e); err != nil {
			ref.Unfix(true)
			nref.Unfix(true)
			return err
		}
	} else {
		if texact {
			tidx++
		}
		if err := target.InsertInternal(tidx, key, child); err != nil {
			ref.Unfix(true)
			nref.Unfix(true)
			return err
		}
	}

	if err := f.closePage(ref, addr); err != nil {
		return err
	}
	if err := f.closePage(nref, newAddr); err != nil {
		return err
	}

	return f.insertSeparatorIntoParent(path[:level], sepKey, newAddr)
}

func (f *BTreeFile) insertSeparatorIntoParent(ancestors []pageAddr, sepKey []byte, child pageAddr) error {
	if len(ancestors) == 0 {
		return f.growNewRoot(sepKey, child)
	}
	return f.insertIntoPage(ancestors, len(ancestors)-1, sepKey, leafEntry{}, child, false)
}

func (f *BTreeFile) growNewRoot(sepKey []byte, rightChild pageAddr) error {
	oldRoot := f.root
	newRootAddr, err := f.newPage(false)
	if err != nil {
		return err
	}
	ref, ops, err := f.openForWrite(newRootAddr)
	if err != nil {
		return err
	}
	leftFirst, err := f.firstKeyOf(oldRoot)
	if err != nil {
		ref.Unfix(true)
		return err
	}
	if err := ops.InsertInternal(0, leftFirst, oldRoot); err != nil {
		ref.Unfix(true)
		return err
	}
	if err := ops.InsertInternal(1, sepKey, rightChild); err != nil {
		ref.Unfix(true)
		return err
	}
	if err := f.closePage(ref, newRootAddr); err != nil {
		return err
	}
	f.setRoot(newRootAddr)
	f.bumpStepCount()
	return nil
}

// updateDelegateKey replaces the separator pointing at changedChild in
// its parent with newFirstKey: expunge the old entry, then insert the
// new one (§4.3's delegate-key propagation pair), recursing upward if
// that changes the parent's own first key in turn.
func (f *BTreeFile) updateDelegateKey(ancestors []pageAddr, changedChild pageAddr, newFirstKey []byte) error {
	if len(ancestors) == 0 {
		return nil
	}
	level := len(ancestors) - 1
	addr := ancestors[level]
	ref, ops, err := f.openForWrite(addr)
	if err != nil {
		return err
	}
	pos := -1
	for i := 0; i < ops.EntryCount(); i++ {
		if ops.ChildAt(i) == changedChild {
			pos = i
			break
		}
	}
	if pos < 0 {
		ref.Unfix(true)
		return WrapError(ErrIntegrityViolation, nil)
	}
	wasFirst := pos == 0
	ops.Remove(pos)
	ops.Compact()
	idx, exact := ops.Find(f.cmp, newFirstKey, false)
	if exact {
		idx++
	}
	if err := ops.InsertInternal(idx, newFirstKey, changedChild); err != nil {
		ref.Unfix(true)
		return err
	}
	thisIsFirst := idx == 0
	if err := f.closePage(ref, addr); err != nil {
		return err
	}
	if wasFirst && thisIsFirst {
		return f.updateDelegateKey(ancestors[:level], addr, newFirstKey)
	}
	return nil
}

// Expunge removes one (key, row) entry: a hard remove for Simple and
// Multi, a tombstone for Unique (§4.4-§4.6, §4.8).
func (f *BTreeFile) Expunge(key []byte, row RowID, isNull bool) error {
	path, err := f.descendPath(key, isNull)
	if err != nil {
		return err
	}
	leafAddr := path[len(path)-1]
	ref, ops, err := f.openForWrite(leafAddr)
	if err != nil {
		return err
	}
	n := ops.EntryCount()
	idx, _ := ops.Find(f.cmp, key, isNull)
	found := -1
	for i := idx; i < n; i++ {
		e := ops.Entry(i)
		if e.IsNull != isNull || (!isNull && f.cmp.Compare(e.Key, key) != 0) {
			break
		}
		if e.Row == row {
			found = i
			break
		}
	}
	if found < 0 {
		ref.Unfix(true)
		return WrapError(ErrNotFound, nil)
	}

	if f.kind == KindUnique {
		uops := ops.(uniqueOps)
		uops.p.SetTombstone(found, true)
		if err := f.closePage(ref, leafAddr); err != nil {
			return err
		}
		f.bumpExpungeFlagCount(1)
		f.withHeader(func(h *fileHeader) {
			if h.EntryCount() > 0 {
				h.SetEntryCount(h.EntryCount() - 1)
			}
		})
		return nil
	}

	wasFirst := found == 0
	ops.Remove(found)
	ops.Compact()
	if err := f.closePage(ref, leafAddr); err != nil {
		return err
	}
	f.withHeader(func(h *fileHeader) {
		if h.EntryCount() > 0 {
			h.SetEntryCount(h.EntryCount() - 1)
		}
	})
	return f.settleAfterRemoval(path, wasFirst)
}

// needsReduce reports whether a page's free space has crossed the
// 50% threshold that triggers §4.4's reduce() after a delete.
func needsReduce(ops pageOps) bool {
	return ops.FreeBytes()*2 > len(ops.Raw().data)
}

// settleAfterRemoval applies §4.3 steps 2-4 after an entry (leaf entry
// or, recursively, a whole child pointer) has just been removed from
// path's tail page: collapse an internal root down to its one
// remaining child, reduce a non-root page that is now empty or more
// than half free against an adjacent sibling, or otherwise propagate
// a changed first key to the parent.
func (f *BTreeFile) settleAfterRemoval(path []pageAddr, wasFirst bool) error {
	level := len(path) - 1
	addr := path[level]
	ancestors := path[:level]

	ref, ops, err := f.openForRead(addr)
	if err != nil {
		return err
	}
	entryCount := ops.EntryCount()
	isLeaf := ops.IsLeaf()
	reduce := entryCount > 0 && needsReduce(ops)
	ref.Unfix(false)

	if len(ancestors) == 0 {
		if isLeaf || entryCount != 1 {
			return nil
		}
		return f.collapseRoot(addr)
	}

	if entryCount == 0 || reduce {
		return f.reduceChild(ancestors, addr)
	}

	if wasFirst {
		newFirst, err := f.firstKeyOf(addr)
		if err == nil {
			return f.updateDelegateKey(ancestors, addr, newFirst)
		}
	}
	return nil
}

// collapseRoot replaces an internal root holding exactly one child by
// promoting that child to root, decrementing step_count (the inverse
// of growNewRoot's bump), and freeing the old root page (§4.3 step 3).
func (f *BTreeFile) collapseRoot(oldRoot pageAddr) error {
	ref, ops, err := f.openForRead(oldRoot)
	if err != nil {
		return err
	}
	if ops.EntryCount() != 1 {
		ref.Unfix(false)
		return nil
	}
	child := ops.ChildAt(0)
	ref.Unfix(false)

	f.setRoot(child)
	f.withHeader(func(h *fileHeader) {
		if h.StepCount() > 0 {
			h.SetStepCount(h.StepCount() - 1)
		}
	})
	return f.af.FreePage(oldRoot.Page)
}

// reduceChild implements §4.4's reduce(): addr, a child of
// ancestors[last], has become empty or fallen under the 50%-free
// threshold. It is paired with an adjacent sibling under the same
// parent — the left neighbor preferred, matching reduce()'s own
// prev-before-next preference — and the pair's left-hand page decides
// the outcome: if it has more than half its space free, the right-hand
// page is concatenated into it and freed; otherwise the pair is just
// redistributed. Freeing a child recurses settleAfterRemoval one level
// up, since removing its parent's entry for it is itself a removal
// that may in turn need to collapse or reduce the parent.
func (f *BTreeFile) reduceChild(ancestors []pageAddr, addr pageAddr) error {
	parentAddr := ancestors[len(ancestors)-1]
	pref, pops, err := f.openForRead(parentAddr)
	if err != nil {
		return err
	}
	pos, n := -1, pops.EntryCount()
	for i := 0; i < n; i++ {
		if pops.ChildAt(i) == addr {
			pos = i
			break
		}
	}
	var siblingAddr pageAddr
	siblingIsLeft := false
	switch {
	case pos < 0:
		pref.Unfix(false)
		return WrapError(ErrIntegrityViolation, nil)
	case pos > 0:
		siblingAddr = pops.ChildAt(pos - 1)
		siblingIsLeft = true
	case pos < n-1:
		siblingAddr = pops.ChildAt(pos + 1)
	default:
		pref.Unfix(false)
		return nil // only child under this parent: nothing to reduce against
	}
	pref.Unfix(false)

	leftAddr, rightAddr := addr, siblingAddr
	if siblingIsLeft {
		leftAddr, rightAddr = siblingAddr, addr
	}

	lref, lops, err := f.openForWrite(leftAddr)
	if err != nil {
		return err
	}
	rref, rops, err := f.openForWrite(rightAddr)
	if err != nil {
		lref.Unfix(true)
		return err
	}

	if needsReduce(lops) && fitsConcatenated(lops, rops) {
		return f.concatenateSiblings(ancestors, lref, lops, leftAddr, rref, rops, rightAddr)
	}
	if canRedistribute(lops, rops) {
		return f.redistributeSiblings(ancestors, lref, lops, leftAddr, rref, rops, rightAddr)
	}
	lref.Unfix(true)
	rref.Unfix(true)
	return nil
}

func (f *BTreeFile) concatenateSiblings(ancestors []pageAddr, lref bufpool.Ref, lops pageOps, leftAddr pageAddr, rref bufpool.Ref, rops pageOps, rightAddr pageAddr) error {
	if err := concatenate(lops, rops); err != nil {
		lref.Unfix(true)
		rref.Unfix(true)
		return err
	}
	if rops.IsLeaf() {
		oldNext := rops.Raw().Next()
		lops.Raw().SetNext(oldNext)
		if !oldNext.isUndefined() {
			if onref, oops, operr := f.openForWrite(oldNext); operr == nil {
				oops.Raw().SetPrev(leftAddr)
				f.closePage(onref, oldNext)
			}
		} else {
			f.setRightmost(leftAddr)
		}
	}
	var leftNewFirst []byte
	if lops.EntryCount() > 0 {
		leftNewFirst = append([]byte(nil), lops.KeyAt(0)...)
	}
	if err := f.closePage(lref, leftAddr); err != nil {
		rref.Unfix(true)
		return err
	}
	rref.Unfix(true)
	if err := f.af.FreePage(rightAddr.Page); err != nil {
		return err
	}
	if len(ancestors) > 0 && leftNewFirst != nil {
		if err := f.updateDelegateKey(ancestors, leftAddr, leftNewFirst); err != nil {
			return err
		}
	}
	return f.removeChildEntry(ancestors, rightAddr)
}

func (f *BTreeFile) redistributeSiblings(ancestors []pageAddr, lref bufpool.Ref, lops pageOps, leftAddr pageAddr, rref bufpool.Ref, rops pageOps, rightAddr pageAddr) error {
	leftChanged, err := redistribute(lops, rops)
	if err != nil {
		lref.Unfix(true)
		rref.Unfix(true)
		return err
	}
	var leftNewFirst, rightNewFirst []byte
	if lops.EntryCount() > 0 {
		leftNewFirst = append([]byte(nil), lops.KeyAt(0)...)
	}
	if rops.EntryCount() > 0 {
		rightNewFirst = append([]byte(nil), rops.KeyAt(0)...)
	}
	if err := f.closePage(lref, leftAddr); err != nil {
		rref.Unfix(true)
		return err
	}
	if err := f.closePage(rref, rightAddr); err != nil {
		return err
	}
	if leftChanged && leftNewFirst != nil {
		if err := f.updateDelegateKey(ancestors, leftAddr, leftNewFirst); err != nil {
			return err
		}
	}
	if rightNewFirst != nil {
		return f.updateDelegateKey(ancestors, rightAddr, rightNewFirst)
	}
	return nil
}

// removeChildEntry removes parentPath's tail page's entry pointing at
// child — the whole-child-removal counterpart of updateDelegateKey's
// key-only replacement — then lets settleAfterRemoval decide whether
// the parent itself now needs to collapse or reduce in turn.
func (f *BTreeFile) removeChildEntry(parentPath []pageAddr, child pageAddr) error {
	parentAddr := parentPath[len(parentPath)-1]
	ref, ops, err := f.openForWrite(parentAddr)
	if err != nil {
		return err
	}
	pos := -1
	for i := 0; i < ops.EntryCount(); i++ {
		if ops.ChildAt(i) == child {
			pos = i
			break
		}
	}
	if pos < 0 {
		ref.Unfix(true)
		return WrapError(ErrIntegrityViolation, nil)
	}
	ops.Remove(pos)
	ops.Compact()
	if err := f.closePage(ref, parentAddr); err != nil {
		return err
	}
	return f.settleAfterRemoval(parentPath, pos == 0)
}

// stampNow returns the wall-clock stamp recorded as a file's
// LastMtime on every insert.
func stampNow() int64 { return time.Now().UnixNano() }
