package bxfile

import (
	"io"

	"github.com/diskbtree/bxfile/bufpool"
)

// areafile.go: the area-manage file, the outermost layer of the
// physical file layout (§3, §4.1). It owns a file header page plus a
// sequence of "groups", each group being one area-manage table's own
// pages (a header page and its bitmap pages, §3.2) immediately followed
// by the up-to-PagesPerTable managed data pages that table tracks.
// Because bufpool.Pool.Fix(Allocate) only ever hands out the next
// sequential page number, every group's meta pages are allocated before
// any of its data pages — that ordering is what lets every page id be
// computed arithmetically from (pageSize, pagesPerTable) rather than
// stored in an index.

// CreateOptions configures a new area-manage file (§6, spec Design
// Notes "configuration").
type CreateOptions struct {
	// PageSize is the fixed page size in bytes for every page in the
	// file, managed and meta alike.
	PageSize int
	// PagesPerTable is how many managed data pages one area-manage
	// table covers before a new one is started.
	PagesPerTable int
	// PageUseRate is the default free-percentage search threshold
	// (§4.1's "search rate"), used when callers don't supply one.
	PageUseRate int
	// VacuumThreshold is the file-wide expunge-flag count at or above
	// which the Unique variant's Compact runs its vacuum (§4.8, §5).
	VacuumThreshold int
}

// DefaultCreateOptions returns sensible defaults matching §6's
// described geometry.
func DefaultCreateOptions() CreateOptions {
	return CreateOptions{
		PageSize:        4096,
		PagesPerTable:   PagesPerTableDefault,
		PageUseRate:     FastSearchRateCeiling,
		VacuumThreshold: VacuumThreshold,
	}
}

func (o CreateOptions) validate() error {
	if o.PageSize < MinPageSize || o.PageSize > MaxPageSize {
		return errBadArgument
	}
	if o.PagesPerTable <= 0 || o.PagesPerTable > PagesPerTableDefault {
		return errBadArgument
	}
	if o.PageUseRate < 0 || o.PageUseRate > 100 {
		return errBadArgument
	}
	return nil
}

const fileHeaderMagic = 0x62784631 // "bxF1"

// AreaFile is the area-manage file: a page allocator backed by the
// two-level free-space index of areatable.go, sitting on top of an
// external bufpool.Pool.
type AreaFile struct {
	pool bufpool.Pool
	opts CreateOptions

	tableCount       int
	currentTableFill int // pages handed out within the last table

	logger LoggerFunc
}

func (f *AreaFile) metaPagesPerGroup() int {
	return 1 + bitmapPagesNeeded(f.opts.PagesPerTable, f.opts.PageSize)
}

func (f *AreaFile) groupSize() int {
	return f.metaPagesPerGroup() + f.opts.PagesPerTable
}

func (f *AreaFile) tableHeaderPageID(i int) PageID {
	return PageID(int(FirstAreaTablePageID) + i*f.groupSize())
}

func (f *AreaFile) tableBitmapPageIDs(i int) []PageID {
	start := f.tableHeaderPageID(i) + 1
	n := bitmapPagesNeeded(f.opts.PagesPerTable, f.opts.PageSize)
	ids := make([]PageID, n)
	for j := range ids {
		ids[j] = start + PageID(j)
	}
	return ids
}

func (f *AreaFile) tableDataStart(i int) PageID {
	return f.tableHeaderPageID(i) + PageID(f.metaPagesPerGroup())
}

func (f *AreaFile) pageTableIndex(id PageID) int {
	return int(id-FirstAreaTablePageID) / f.groupSize()
}

func (f *AreaFile) pageLocalIndex(id PageID) int {
	ti := f.pageTableIndex(id)
	return int(id) - int(f.tableDataStart(ti))
}

// Create formats a brand-new area-manage file on pool, which must be
// empty (HighWaterMark() == 0).
func Create(pool bufpool.Pool, opts CreateOptions) (*AreaFile, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if pool.PageSize() != opts.PageSize {
		return nil, errBadArgument
	}
	f := &AreaFile{pool: pool, opts: opts, logger: noopLogger}

	hdrRef, err := pool.Fix(0, bufpool.Allocate)
	if err != nil {
		return nil, WrapError(ErrFileManipulateError, err)
	}
	f.writeHeader(hdrRef.Bytes())
	if err := hdrRef.Unfix(false); err != nil {
		return nil, WrapError(ErrFileManipulateError, err)
	}

	if err := f.ensureGroup(); err != nil {
		return nil, err
	}
	return f, nil
}

// Mount attaches to an existing area-manage file, reconstructing its
// in-memory state from the file header.
func Mount(pool bufpool.Pool) (*AreaFile, error) {
	ref, err := pool.Fix(0, bufpool.ReadOnly)
	if err != nil {
		return nil, WrapError(ErrFileManipulateError, err)
	}
	f := &AreaFile{pool: pool, logger: noopLogger}
	if err := f.readHeader(ref.Bytes()); err != nil {
		ref.Unfix(false)
		return nil, err
	}
	if err := ref.Unfix(false); err != nil {
		return nil, WrapError(ErrFileManipulateError, err)
	}
	return f, nil
}

func (f *AreaFile) writeHeader(b []byte) {
	putUint32LE(b[0:], fileHeaderMagic)
	putUint32LE(b[4:], uint32(DataVersion))
	putUint32LE(b[8:], uint32(f.opts.PageSize))
	putUint32LE(b[12:], uint32(f.opts.PagesPerTable))
	putUint32LE(b[16:], uint32(f.opts.PageUseRate))
	putUint32LE(b[20:], uint32(f.opts.VacuumThreshold))
	putUint32LE(b[24:], uint32(f.tableCount))
	putUint32LE(b[28:], uint32(f.currentTableFill))
}

func (f *AreaFile) readHeader(b []byte) error {
	if getUint32LE(b[0:]) != fileHeaderMagic {
		return WrapError(ErrIntegrityViolation, nil)
	}
	f.opts = CreateOptions{
		PageSize:        int(getUint32LE(b[8:])),
		PagesPerTable:   int(getUint32LE(b[12:])),
		PageUseRate:     int(getUint32LE(b[16:])),
		VacuumThreshold: int(getUint32LE(b[20:])),
	}
	f.tableCount = int(getUint32LE(b[24:]))
	f.currentTableFill = int(getUint32LE(b[28:]))
	return nil
}

func (f *AreaFile) persistHeader() error {
	ref, err := f.pool.Fix(0, bufpool.Write)
	if err != nil {
		return WrapError(ErrFileManipulateError, err)
	}
	f.writeHeader(ref.Bytes())
	return ref.Unfix(false)
}

// ensureGroup allocates a fresh group's meta pages (header + bitmap)
// when there is no room left, or none yet exists.
func (f *AreaFile) ensureGroup() error {
	if f.tableCount > 0 && f.currentTableFill < f.opts.PagesPerTable {
		return nil
	}
	hdrRef, err := f.pool.Fix(0, bufpool.Allocate)
	if err != nil {
		return WrapError(ErrFileManipulateError, err)
	}
	newAreaTableHeader(hdrRef.Bytes(), f.opts.PagesPerTable).initEmpty()
	if err := hdrRef.Unfix(false); err != nil {
		return WrapError(ErrFileManipulateError, err)
	}

	n := bitmapPagesNeeded(f.opts.PagesPerTable, f.opts.PageSize)
	for i := 0; i < n; i++ {
		bmRef, err := f.pool.Fix(0, bufpool.Allocate)
		if err != nil {
			return WrapError(ErrFileManipulateError, err)
		}
		if err := bmRef.Unfix(false); err != nil {
			return WrapError(ErrFileManipulateError, err)
		}
	}

	f.tableCount++
	f.currentTableFill = 0
	return f.persistHeader()
}

func (f *AreaFile) fixTable(i int, mode bufpool.FixMode) (*areaTableHeader, *areaTableBitmap, []bufpool.Ref, error) {
	var refs []bufpool.Ref
	hdrRef, err := f.pool.Fix(uint32(f.tableHeaderPageID(i)), mode)
	if err != nil {
		return nil, nil, nil, WrapError(ErrFileManipulateError, err)
	}
	refs = append(refs, hdrRef)
	header := newAreaTableHeader(hdrRef.Bytes(), f.opts.PagesPerTable)

	var pages [][]byte
	for _, id := range f.tableBitmapPageIDs(i) {
		ref, err := f.pool.Fix(uint32(id), mode)
		if err != nil {
			unfixAll(refs)
			return nil, nil, nil, WrapError(ErrFileManipulateError, err)
		}
		refs = append(refs, ref)
		pages = append(pages, ref.Bytes())
	}
	return header, newAreaTableBitmap(pages), refs, nil
}

func unfixAll(refs []bufpool.Ref) {
	for _, r := range refs {
		r.Unfix(false)
	}
}

// areaRateOfSize expresses a requested area size as a percentage of
// the file's page size, the area_rate_of(S) term in §4.1's
// search_rate formula.
func areaRateOfSize(size, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	pct := size * 100 / pageSize
	if pct > 100 {
		pct = 100
	}
	return pct
}

// pickCandidateTables chooses up to MaxCandidateTables table indexes to
// probe: the caller's hinted table, one other pseudo-randomly chosen
// table, and always the last table (§4.1 step 1). Candidates are
// deduplicated before being returned — the hinted-table/random-sample
// overlap that original_source/ leaves unguarded (§9 Design Notes:
// "implementers should deduplicate before fixing").
func (f *AreaFile) pickCandidateTables(hint int) []int {
	if hint < 0 || hint >= f.tableCount {
		hint = f.tableCount - 1
	}
	seen := make(map[int]bool, MaxCandidateTables)
	out := make([]int, 0, MaxCandidateTables)
	add := func(i int) {
		if i < 0 || i >= f.tableCount || seen[i] {
			return
		}
		seen[i] = true
		out = append(out, i)
	}
	add(hint)

	// Deterministic pseudo-random probe (splitmix64-style) seeded from
	// the hint and table count: reproducible across runs with the same
	// file shape, which keeps this path testable without a stored RNG
	// state surviving restarts.
	state := uint64(hint)*2654435761 + uint64(f.tableCount)*40503 + 1
	for len(out) < MaxCandidateTables-1 && len(out) < f.tableCount {
		state += 0x9E3779B97F4A7C15
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z = z ^ (z >> 31)
		add(int(z % uint64(f.tableCount)))
	}
	add(f.tableCount - 1) // "the last table is always included"
	if len(out) > MaxCandidateTables {
		out = out[:MaxCandidateTables]
	}
	return out
}

// SearchFreePage implements §4.1's bounded, best-effort free-page
// search: a request for size bytes to host areaCount total areas is
// reduced to a search_rate class and probed against up to
// MaxCandidateTables tables (startHint's table, one pseudo-random
// other and the last table). It never allocates or mutates anything; it returns
// (UndefinedPageID, false) both when the fast path can't guarantee a
// hit (search_rate >= FastSearchRateCeiling) and when no probed
// candidate actually has the room once directory growth is accounted
// for — a true negative here does not mean no such page exists (§4.1:
// "best-effort... may miss a satisfying page that exists").
func (f *AreaFile) SearchFreePage(size int, startHint PageID, byUnused bool, areaCount int) (PageID, bool) {
	if f.tableCount == 0 {
		return UndefinedPageID, false
	}
	searchRate := 100 - f.opts.PageUseRate + areaRateOfSize(size, f.opts.PageSize)
	if searchRate >= FastSearchRateCeiling {
		return UndefinedPageID, false
	}

	hintTable := f.pageTableIndex(startHint)
	for _, ti := range f.pickCandidateTables(hintTable) {
		header, bitmap, refs, err := f.fixTable(ti, bufpool.ReadOnly)
		if err != nil {
			continue
		}
		idx, ok := findFreePageByClass(header, bitmap, searchRate, byUnused)
		unfixAll(refs)
		if !ok {
			continue
		}
		pid := f.tableDataStart(ti) + PageID(idx)
		pageRef, err := f.pool.Fix(uint32(pid), bufpool.ReadOnly)
		if err != nil {
			continue
		}
		fits := newAreaPage(pageRef.Bytes()).fitsFreeSpace(size, areaCount)
		pageRef.Unfix(false)
		if fits {
			return pid, true
		}
	}
	return UndefinedPageID, false
}

// SearchFreePage2 is SearchFreePage but hands back the page already
// fixed in the caller's requested mode, avoiding the find-then-refix
// race a caller hits if it intends to mutate the page it just found
// (§4.1: "search_free_page2... with caller-specified fix mode").
func (f *AreaFile) SearchFreePage2(size int, startHint PageID, byUnused bool, areaCount int, mode bufpool.FixMode) (bufpool.Ref, bool, error) {
	pid, ok := f.SearchFreePage(size, startHint, byUnused, areaCount)
	if !ok {
		return nil, false, nil
	}
	ref, err := f.pool.Fix(uint32(pid), mode)
	if err != nil {
		return nil, false, WrapError(ErrFileManipulateError, err)
	}
	return ref, true, nil
}

// AllocatePage finds or creates a managed data page with at least
// minFreePercent of its user area free. Unlike SearchFreePage (§4.1's
// read-only query operation), AllocatePage always returns a usable
// page: it walks backward from the most recently filled table (most
// likely to have room) up to MaxCandidateTables tables, then falls
// back to growing the file if none had room.
func (f *AreaFile) AllocatePage(minFreePercent int) (PageID, error) {
	if f.tableCount == 0 {
		if err := f.ensureGroup(); err != nil {
			return 0, err
		}
	}

	examined := 0
	for i := f.tableCount - 1; i >= 0 && examined < MaxCandidateTables; i-- {
		header, bitmap, refs, err := f.fixTable(i, bufpool.ReadOnly)
		if err != nil {
			return 0, err
		}
		idx, ok := findFreePage(header, bitmap, minFreePercent)
		unfixAll(refs)
		if ok {
			return f.tableDataStart(i) + PageID(idx), nil
		}
		examined++
	}
	f.logger(0, "search_free_page: no candidate within MaxCandidateTables, growing file")

	if err := f.ensureGroup(); err != nil {
		return 0, err
	}
	ti := f.tableCount - 1
	localIdx := f.currentTableFill
	newID := f.tableDataStart(ti) + PageID(localIdx)

	dataRef, err := f.pool.Fix(0, bufpool.Allocate)
	if err != nil {
		return 0, WrapError(ErrFileManipulateError, err)
	}
	if dataRef.PageID() != uint32(newID) {
		dataRef.Unfix(true)
		return 0, WrapError(ErrIntegrityViolation, nil)
	}
	initAreaPage(dataRef.Bytes())
	if err := dataRef.Unfix(false); err != nil {
		return 0, WrapError(ErrFileManipulateError, err)
	}

	header, bitmap, refs, err := f.fixTable(ti, bufpool.DiscardableWrite)
	if err != nil {
		return 0, err
	}
	setPageRate(header, bitmap, localIdx, 100, 100, false)
	unfixAll(refs)

	f.currentTableFill++
	if err := f.persistHeader(); err != nil {
		return 0, err
	}
	return newID, nil
}

// FreePage reinitializes id as an empty area-manage page and records it
// as fully free in its owning table.
func (f *AreaFile) FreePage(id PageID) error {
	ref, err := f.pool.Fix(uint32(id), bufpool.DiscardableWrite)
	if err != nil {
		return WrapError(ErrFileManipulateError, err)
	}
	initAreaPage(ref.Bytes())
	if err := ref.Unfix(false); err != nil {
		return WrapError(ErrFileManipulateError, err)
	}

	ti := f.pageTableIndex(id)
	idx := f.pageLocalIndex(id)
	header, bitmap, refs, err := f.fixTable(ti, bufpool.DiscardableWrite)
	if err != nil {
		return err
	}
	defer unfixAll(refs)
	setPageRate(header, bitmap, idx, 100, 100, true)
	return nil
}

// UpdatePageRate recomputes id's rate-bitmap entry and its table's
// aggregate counters after the caller has mutated id's area directory.
func (f *AreaFile) UpdatePageRate(id PageID, unusedPct, freePct int) error {
	ti := f.pageTableIndex(id)
	idx := f.pageLocalIndex(id)
	header, bitmap, refs, err := f.fixTable(ti, bufpool.DiscardableWrite)
	if err != nil {
		return err
	}
	defer unfixAll(refs)
	setPageRate(header, bitmap, idx, unusedPct, freePct, true)
	return nil
}

// FixPage fixes a managed data page in the given mode, for callers that
// need to read or mutate its area directory directly.
func (f *AreaFile) FixPage(id PageID, mode bufpool.FixMode) (bufpool.Ref, error) {
	return f.pool.Fix(uint32(id), mode)
}

// GetPageSearchableThreshold returns the default free-percentage
// threshold this file's allocator searches for when callers don't
// supply their own (§6's PageUseRate configuration knob).
func (f *AreaFile) GetPageSearchableThreshold() int {
	return f.opts.PageUseRate
}

func (f *AreaFile) PageSize() int        { return f.opts.PageSize }
func (f *AreaFile) VacuumThreshold() int { return f.opts.VacuumThreshold }

// walk over managed data pages, in ascending or descending PageID
// order, skipping pages never allocated.
func (f *AreaFile) GetTopPageID() (PageID, bool) {
	for i := 0; i < f.tableCount; i++ {
		upper := f.tableFill(i)
		for idx := 0; idx < upper; idx++ {
			if f.pageAllocated(i, idx) {
				return f.tableDataStart(i) + PageID(idx), true
			}
		}
	}
	return 0, false
}

func (f *AreaFile) GetLastPageID() (PageID, bool) {
	for i := f.tableCount - 1; i >= 0; i-- {
		upper := f.tableFill(i)
		for idx := upper - 1; idx >= 0; idx-- {
			if f.pageAllocated(i, idx) {
				return f.tableDataStart(i) + PageID(idx), true
			}
		}
	}
	return 0, false
}

func (f *AreaFile) GetNextPageID(after PageID) (PageID, bool) {
	ti := f.pageTableIndex(after)
	idx := f.pageLocalIndex(after)
	for i := ti; i < f.tableCount; i++ {
		upper := f.tableFill(i)
		start := 0
		if i == ti {
			start = idx + 1
		}
		for j := start; j < upper; j++ {
			if f.pageAllocated(i, j) {
				return f.tableDataStart(i) + PageID(j), true
			}
		}
	}
	return 0, false
}

func (f *AreaFile) GetPrevPageID(before PageID) (PageID, bool) {
	ti := f.pageTableIndex(before)
	idx := f.pageLocalIndex(before)
	for i := ti; i >= 0; i-- {
		upper := f.tableFill(i) - 1
		if i == ti {
			upper = idx - 1
		}
		for j := upper; j >= 0; j-- {
			if f.pageAllocated(i, j) {
				return f.tableDataStart(i) + PageID(j), true
			}
		}
	}
	return 0, false
}

func (f *AreaFile) tableFill(i int) int {
	if i == f.tableCount-1 {
		return f.currentTableFill
	}
	return f.opts.PagesPerTable
}

func (f *AreaFile) pageAllocated(tableIdx, localIdx int) bool {
	header, bitmap, refs, err := f.fixTable(tableIdx, bufpool.ReadOnly)
	if err != nil {
		return false
	}
	defer unfixAll(refs)
	if localIdx >= header.pageCount() {
		return false
	}
	return !isUnallocated(bitmap.get(localIdx))
}

// RecoverAreaManageTable rebuilds table i's aggregate counters and
// per-page bitmap by rescanning every one of its managed data pages'
// own area-directory header, discarding whatever the table currently
// claims. This is the table-level half of verify.go's recovery path
// (§4.8: "rebuild the table from page headers").
func (f *AreaFile) RecoverAreaManageTable(i int) error {
	f.logger(0, "area-manage table %d: recovery triggered", i)
	header, bitmap, refs, err := f.fixTable(i, bufpool.DiscardableWrite)
	if err != nil {
		return err
	}
	defer unfixAll(refs)

	upper := f.tableFill(i)
	header.initEmpty()
	for idx := 0; idx < upper; idx++ {
		pageRef, err := f.pool.Fix(uint32(f.tableDataStart(i)+PageID(idx)), bufpool.ReadOnly)
		if err != nil {
			return WrapError(ErrFileManipulateError, err)
		}
		p := newAreaPage(pageRef.Bytes())
		setPageRate(header, bitmap, idx, p.unusedPercent(), p.freePercent(), false)
		pageRef.Unfix(false)
	}
	return nil
}

func (f *AreaFile) Flush() error                                 { return f.pool.Flush() }
func (f *AreaFile) Sync() (incomplete, modified bool, err error) { return f.pool.Sync() }

// Unmount drops this handle; the underlying pool's lifecycle is the
// caller's responsibility.
func (f *AreaFile) Unmount() error { return nil }

// Backup writes every page of the file, in order, to w. It is a thin
// wrapper: durability, incremental backup and OS-level file operations
// belong to the external buffer pool, not this package (§ "Design
// Notes" — collaborators out of scope).
func (f *AreaFile) Backup(w io.Writer) error {
	hw := f.pool.HighWaterMark()
	for pgno := uint32(0); pgno < hw; pgno++ {
		ref, err := f.pool.Fix(pgno, bufpool.ReadOnly)
		if err != nil {
			return WrapError(ErrFileManipulateError, err)
		}
		_, err = w.Write(ref.Bytes())
		ref.Unfix(false)
		if err != nil {
			return WrapError(ErrFileManipulateError, err)
		}
	}
	return nil
}

// Restore recreates an area-manage file on pool (which must be empty)
// from a stream previously produced by Backup.
func Restore(pool bufpool.Pool, r io.Reader) (*AreaFile, error) {
	buf := make([]byte, pool.PageSize())
	var pages [][]byte
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, WrapError(ErrFileManipulateError, err)
		}
		pages = append(pages, append([]byte(nil), buf...))
	}
	for _, data := range pages {
		ref, err := pool.Fix(0, bufpool.Allocate)
		if err != nil {
			return nil, WrapError(ErrFileManipulateError, err)
		}
		copy(ref.Bytes(), data)
		if err := ref.Unfix(false); err != nil {
			return nil, WrapError(ErrFileManipulateError, err)
		}
	}
	return Mount(pool)
}

// Move copies this file's entire contents onto dst, a fresh empty pool,
// without altering the source.
func (f *AreaFile) Move(dst bufpool.Pool) (*AreaFile, error) {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.Backup(pw)
		pw.Close()
	}()
	moved, err := Restore(dst, pr)
	if backupErr := <-errCh; backupErr != nil {
		return nil, backupErr
	}
	if err != nil {
		return nil, err
	}
	return moved, nil
}
