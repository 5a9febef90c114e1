package bxfile

import (
	"fmt"
	"sync"

	"github.com/diskbtree/bxfile/bufpool"
	"github.com/diskbtree/bxfile/txnctl"
)

// verify.go: structural verification of both file layers, area-manage
// table recovery, and the Unique variant's vacuum (§4.8).

// Canceller lets a long verify/compact pass be interrupted between
// pages (area-manage verification) or between leaves (vacuum),
// without needing the full transaction-manager contract (§5
// "Cancellation").
type Canceller interface {
	Cancelled() bool
}

func checkCancelled(c Canceller) error {
	if c != nil && c.Cancelled() {
		return NewError(ErrCancel)
	}
	return nil
}

// -- area-manage-file verification --

// VerifyAreaFile walks every table, cross-checking its aggregate
// per-class counters against its own bitmap and, for every tracked
// page, against that page's own area-directory header; it then asks
// the page itself to confirm no two in-use areas overlap (§4.8).
func (f *AreaFile) VerifyAreaFile(cancel Canceller) error {
	for i := 0; i < f.tableCount; i++ {
		if err := checkCancelled(cancel); err != nil {
			return err
		}
		if err := f.verifyTable(i); err != nil {
			return err
		}
	}
	return nil
}

func (f *AreaFile) verifyTable(i int) error {
	header, bitmap, refs, err := f.fixTable(i, bufpool.ReadOnly)
	if err != nil {
		return err
	}
	defer unfixAll(refs)

	upper := f.tableFill(i)
	if header.pageCount() != upper {
		return WrapError(ErrVerifyInconsistent, nil)
	}

	var unusedSum, freeSum uint32
	for c := RateClassNever; c <= RateClass80plus; c++ {
		unusedSum += header.unusedClassCount(c)
		freeSum += header.freeClassCount(c)
	}
	if int(unusedSum) != upper || int(freeSum) != upper {
		return WrapError(ErrVerifyInconsistent, nil)
	}

	for idx := 0; idx < upper; idx++ {
		b := bitmap.get(idx)
		if isUnallocated(b) {
			continue
		}
		storedUnused, storedFree := fromBitmapValue(b)

		pageRef, err := f.pool.Fix(uint32(f.tableDataStart(i)+PageID(idx)), bufpool.ReadOnly)
		if err != nil {
			return WrapError(ErrFileManipulateError, err)
		}
		ap := newAreaPage(pageRef.Bytes())
		actualUnused := classOfPercent(ap.unusedPercent())
		actualFree := classOfPercent(ap.freePercent())
		areaErr := ap.checkPhysicalArea()
		pageRef.Unfix(false)

		if areaErr != nil {
			return WrapError(ErrIntegrityViolation, areaErr)
		}
		if actualUnused != storedUnused || actualFree != storedFree {
			return WrapError(ErrVerifyInconsistent, nil)
		}
	}
	return nil
}

// RecoverAllAreaManageTables rebuilds every table's counters and bitmap
// from its own managed pages' headers, discarding whatever the tables
// currently claim. Returns ErrVerifyCorrected on success, mirroring
// verify()'s "found and repaired" outcome (§4.8 "Recovery of
// area-manage-table": page bodies are never touched, only the tables).
func (f *AreaFile) RecoverAllAreaManageTables(cancel Canceller) error {
	for i := 0; i < f.tableCount; i++ {
		if err := checkCancelled(cancel); err != nil {
			return err
		}
		if err := f.RecoverAreaManageTable(i); err != nil {
			return err
		}
	}
	return NewError(ErrVerifyCorrected)
}

// -- B+-tree-file verification --

// Verify walks the whole tree: the root carries no siblings, every
// page's own entries are in order and non-overlapping (pageOps.Verify),
// the leftmost/rightmost leaves reached by descent match the header's
// recorded ones, and the leaves' entries sum to the header's
// EntryCount, tombstoned Unique entries not counted (§4.8).
func (f *BTreeFile) Verify(cancel Canceller) error {
	ref, ops, err := f.openForRead(f.root)
	if err != nil {
		return err
	}
	rootHasSiblings := !ops.Raw().Prev().isUndefined() || !ops.Raw().Next().isUndefined()
	ref.Unfix(false)
	if rootHasSiblings {
		return WrapError(ErrIntegrityViolation, nil)
	}

	var leafSum uint64
	var firstLeaf, lastLeaf pageAddr
	sawFirst := false
	if err := f.verifySubtree(f.root, cancel, &leafSum, &firstLeaf, &lastLeaf, &sawFirst); err != nil {
		return err
	}
	if firstLeaf != f.leftmost || lastLeaf != f.rightmost {
		return WrapError(ErrIntegrityViolation, nil)
	}
	if leafSum != f.totalEntryCount() {
		return WrapError(ErrVerifyInconsistent, nil)
	}
	return nil
}

func (f *BTreeFile) verifySubtree(addr pageAddr, cancel Canceller, leafSum *uint64, first, last *pageAddr, sawFirst *bool) error {
	if err := checkCancelled(cancel); err != nil {
		return err
	}
	ref, ops, err := f.openForRead(addr)
	if err != nil {
		return err
	}
	if verr := ops.Verify(f.cmp); verr != nil {
		ref.Unfix(false)
		return WrapError(ErrIntegrityViolation, verr)
	}
	if ops.IsLeaf() {
		live := ops.EntryCount()
		if uops, ok := ops.(uniqueOps); ok {
			for i := 0; i < uops.EntryCount(); i++ {
				if uops.p.IsTombstoned(i) {
					live--
				}
			}
		}
		*leafSum += uint64(live)
		if !*sawFirst {
			*first = addr
			*sawFirst = true
		}
		*last = addr
		ref.Unfix(false)
		return nil
	}

	n := ops.EntryCount()
	children := make([]pageAddr, n)
	for i := 0; i < n; i++ {
		children[i] = ops.ChildAt(i)
	}
	ref.Unfix(false)

	for _, c := range children {
		if err := f.verifySubtree(c, cancel, leafSum, first, last, sawFirst); err != nil {
			return err
		}
	}
	return nil
}

// -- Unique vacuum --

// vacuumLatch is the process-wide critical section §4.8/§5 require
// around every row-lock attempt a vacuum pass makes: the lock manager
// is not re-entrant for identical requests within the same transaction,
// so lock attempts from concurrent compact() calls are serialized here
// rather than relied upon to interleave safely on their own.
var vacuumLatch sync.Mutex

// Compact performs the Unique variant's vacuum: once ExpungeFlagCount
// reaches the file's VacuumThreshold, walk leaves left to right and,
// for every tombstoned entry, attempt a Pulse-duration Exclusive lock
// on its row; on success the row is confirmed invisible to any
// transaction and the entry is hard-removed, recording the reclaim in
// sub first when sub is non-nil (§4.8 "compact").
func (f *BTreeFile) Compact(lockMgr txnctl.LockManager, sub *DeletedSubFile, cancel Canceller) error {
	if f.kind != KindUnique {
		return NewError(ErrBadArgument)
	}
	if f.expungeFlagCount() < uint64(f.af.VacuumThreshold()) {
		return nil
	}

	leaf := f.leftmost
	for !leaf.isUndefined() {
		if err := checkCancelled(cancel); err != nil {
			return err
		}
		next, err := f.compactLeaf(leaf, lockMgr, sub)
		if err != nil {
			return err
		}
		leaf = next
	}
	return nil
}

func (f *BTreeFile) expungeFlagCount() uint64 {
	ref, err := f.af.FixPage(f.headerAddr.Page, bufpool.ReadOnly)
	if err != nil {
		return 0
	}
	defer ref.Unfix(false)
	ap := newAreaPage(ref.Bytes())
	hdr := &fileHeader{ap.areaBytes(f.headerAddr.Area)}
	return hdr.ExpungeFlagCount()
}

func (f *BTreeFile) compactLeaf(addr pageAddr, lockMgr txnctl.LockManager, sub *DeletedSubFile) (pageAddr, error) {
	ref, ops, err := f.openForWrite(addr)
	if err != nil {
		return pageAddr{}, err
	}
	uops, ok := ops.(uniqueOps)
	if !ok {
		next := ops.Raw().Next()
		ref.Unfix(true)
		return next, WrapError(ErrUnexpected, nil)
	}

	var oldFirstKey []byte
	if uops.EntryCount() > 0 {
		oldFirstKey = append([]byte(nil), uops.KeyAt(0)...)
	}
	firstRemoved := false

	i := 0
	for i < uops.EntryCount() {
		if !uops.p.IsTombstoned(i) {
			i++
			continue
		}
		e := uops.Entry(i)

		vacuumLatch.Lock()
		var acquired bool
		if lockMgr == nil {
			acquired = true
		} else {
			acquired, err = lockMgr.Lock(fmt.Sprintf("tuple:%d", uint64(e.Row)), txnctl.Exclusive, txnctl.Pulse)
		}
		vacuumLatch.Unlock()
		if err != nil {
			ref.Unfix(true)
			return pageAddr{}, WrapError(ErrFileManipulateError, err)
		}
		if !acquired {
			f.logger(0, "compact: row %d still locked, skipping this pass", uint64(e.Row))
			i++
			continue
		}

		if sub != nil {
			if err := sub.Record(e.Key, e.Row); err != nil {
				ref.Unfix(true)
				return pageAddr{}, err
			}
		}
		if i == 0 {
			firstRemoved = true
		}
		uops.Remove(i)
		f.bumpExpungeFlagCount(-1)
	}
	uops.Compact()
	next := ops.Raw().Next()
	if err := f.closePage(ref, addr); err != nil {
		return pageAddr{}, err
	}

	if firstRemoved && uops.EntryCount() > 0 && oldFirstKey != nil {
		if newFirst, err := f.firstKeyOf(addr); err == nil && string(newFirst) != string(oldFirstKey) {
			if path, derr := f.descendPath(oldFirstKey, false); derr == nil {
				if uerr := f.updateDelegateKey(path[:len(path)-1], addr, newFirst); uerr != nil {
					return pageAddr{}, uerr
				}
			}
		}
	}
	return next, nil
}
