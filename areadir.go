package bxfile

// areadir.go: the area-manage page header and its trailing area
// directory (§3.1, §4.2). This is the "data page" of the physical file
// layer — not to be confused with a B+-tree leaf/node page, which is
// built on top of an allocated area.
//
// Layout of one area-manage page (header sizes depend on pageLayout,
// derived once from the page size — §3.1, §6):
//
//	[ header | user area (areas grow forward) | ... free gap ... | area directory (blocks grow backward) ]
//
// The area directory is a sequence of 8-area blocks nearest the page's
// end first; each block holds 8 (offset,size) entries followed by one
// use-bitmap byte (§3.1).

// areaLayout selects the 2-byte ("small") or 4-byte ("wide") width used
// for the header's size/offset fields and for each directory entry,
// derived once from the page size (§3.1: "small/large decision is
// derived once from the page size").
type areaLayout struct {
	wide bool
}

func layoutForPageSize(pageSize int) areaLayout {
	return areaLayout{wide: pageSize > 0xFFFF}
}

func (l areaLayout) fieldWidth() int {
	if l.wide {
		return 4
	}
	return 2
}

// headerSize is unused_size + free_size + free_offset (each fieldWidth
// bytes) plus managed_area_count, which is always 2 bytes (§6).
func (l areaLayout) headerSize() int {
	return 3*l.fieldWidth() + 2
}

func (l areaLayout) blockSize() int {
	return AreasPerBlock*2*l.fieldWidth() + 1
}

func (l areaLayout) undefinedOffset() uint32 {
	if l.wide {
		return UndefinedAreaOffset32
	}
	return uint32(UndefinedAreaOffset16)
}

func (l areaLayout) getField(b []byte) uint32 {
	if l.wide {
		return getUint32LE(b)
	}
	return uint32(getUint16LE(b))
}

func (l areaLayout) putField(b []byte, v uint32) {
	if l.wide {
		putUint32LE(b, v)
		return
	}
	putUint16LE(b, uint16(v))
}

// areaPage is a view over one fixed-size page buffer containing an
// area-manage page header and directory.
type areaPage struct {
	data   []byte
	layout areaLayout
}

func newAreaPage(data []byte) *areaPage {
	return &areaPage{data: data, layout: layoutForPageSize(len(data))}
}

func (p *areaPage) w() int { return p.layout.fieldWidth() }

func (p *areaPage) unusedSize() uint32     { return p.layout.getField(p.data[0:]) }
func (p *areaPage) setUnusedSize(v uint32) { p.layout.putField(p.data[0:], v) }

func (p *areaPage) freeSize() uint32     { return p.layout.getField(p.data[p.w():]) }
func (p *areaPage) setFreeSize(v uint32) { p.layout.putField(p.data[p.w():], v) }

func (p *areaPage) freeOffset() uint32     { return p.layout.getField(p.data[2*p.w():]) }
func (p *areaPage) setFreeOffset(v uint32) { p.layout.putField(p.data[2*p.w():], v) }

func (p *areaPage) managedCount() int {
	return int(getUint16LE(p.data[3*p.w():]))
}
func (p *areaPage) setManagedCount(v int) {
	putUint16LE(p.data[3*p.w():], uint16(v))
}

func (p *areaPage) headerSize() int { return p.layout.headerSize() }

func (p *areaPage) blockCount() int {
	n := p.managedCount()
	return (n + AreasPerBlock - 1) / AreasPerBlock
}

func (p *areaPage) directorySize() int {
	return p.blockCount() * p.layout.blockSize()
}

// blockStart returns the byte offset of block i (areas 8i..8i+7); block
// 0 sits nearest the end of the page, consistent with the directory
// growing backward as more blocks are added.
func (p *areaPage) blockStart(block int) int {
	return len(p.data) - (block+1)*p.layout.blockSize()
}

func (p *areaPage) slotOffset(id AreaID) int {
	block := int(id) / AreasPerBlock
	slot := int(id) % AreasPerBlock
	return p.blockStart(block) + slot*2*p.w()
}

func (p *areaPage) bitmapOffset(block int) int {
	return p.blockStart(block) + AreasPerBlock*2*p.w()
}

func (p *areaPage) slotBit(id AreaID) byte {
	return 1 << (uint(id) % AreasPerBlock)
}

// areaSlot returns the recorded (offset, size) of id, regardless of
// whether the slot is currently in use.
func (p *areaPage) areaSlot(id AreaID) (offset, size uint32) {
	o := p.slotOffset(id)
	return p.layout.getField(p.data[o:]), p.layout.getField(p.data[o+p.w():])
}

func (p *areaPage) setAreaSlot(id AreaID, offset, size uint32) {
	o := p.slotOffset(id)
	p.layout.putField(p.data[o:], offset)
	p.layout.putField(p.data[o+p.w():], size)
}

func (p *areaPage) isUsed(id AreaID) bool {
	block := int(id) / AreasPerBlock
	return p.data[p.bitmapOffset(block)]&p.slotBit(id) != 0
}

func (p *areaPage) setUsed(id AreaID, used bool) {
	block := int(id) / AreasPerBlock
	off := p.bitmapOffset(block)
	if used {
		p.data[off] |= p.slotBit(id)
	} else {
		p.data[off] &^= p.slotBit(id)
	}
}

// isOverwriteable reports whether id's directory slot is free to be
// reused for a brand-new allocation: its bit is clear and its offset
// has been invalidated (either never assigned, or cleared by
// compaction) — §3.1.
func (p *areaPage) isOverwriteable(id AreaID) bool {
	if p.isUsed(id) {
		return false
	}
	off, _ := p.areaSlot(id)
	return off == p.layout.undefinedOffset()
}

// initAreaPage formats a freshly allocated page as an empty area-manage
// page.
func initAreaPage(data []byte) *areaPage {
	p := newAreaPage(data)
	p.setManagedCount(0)
	p.setUnusedSize(uint32(len(data) - p.headerSize()))
	p.setFreeSize(uint32(len(data) - p.headerSize()))
	p.setFreeOffset(uint32(p.headerSize()))
	return p
}

// directoryGrowthFor returns how many extra directory bytes allocating
// id (a brand-new id, i.e. id == managedCount before the call) would
// require: a full new block if id starts one, else zero.
func (p *areaPage) directoryGrowthFor(id AreaID) int {
	if int(id)%AreasPerBlock == 0 {
		return p.layout.blockSize()
	}
	return 0
}

// findOverwriteableSlot scans existing slots for one marked
// overwriteable, returning (id, true) if found.
func (p *areaPage) findOverwriteableSlot() (AreaID, bool) {
	for i := 0; i < p.managedCount(); i++ {
		id := AreaID(i)
		if p.isOverwriteable(id) {
			return id, true
		}
	}
	return 0, false
}

// allocateArea places a new size-byte area, returning its id.
// withCompaction controls whether a single compaction retry is
// attempted when only unused_area_size (not contiguous free_area_size)
// can satisfy the request (§4.2). The retry assumes nothing else
// allocates on this page between the free-space check and the
// compaction; that holds because each file has a single writer.
func (p *areaPage) allocateArea(size int, withCompaction bool) (AreaID, error) {
	id, directoryGrowth, err := p.planAllocation(size)
	if err != nil {
		if withCompaction && p.unusedSize() >= uint32(size)+uint32(directoryGrowthIfGrow(p)) {
			p.compaction()
			id, directoryGrowth, err = p.planAllocation(size)
		}
		if err != nil {
			return 0, err
		}
	}
	return p.commitAllocation(id, size, directoryGrowth), nil
}

// directoryGrowthIfGrow estimates the directory growth the allocation
// needs once compaction has run, used only to decide whether a
// compaction retry is worth attempting: zero when an unused slot below
// the last used one exists (compaction makes it overwriteable), else
// the growth for a brand-new slot after trailing unused slots are
// trimmed.
func directoryGrowthIfGrow(p *areaPage) int {
	n := p.managedCount()
	for n > 0 && !p.isUsed(AreaID(n-1)) {
		n--
	}
	for i := 0; i < n; i++ {
		if !p.isUsed(AreaID(i)) {
			return 0
		}
	}
	return p.directoryGrowthFor(AreaID(n))
}

func (p *areaPage) planAllocation(size int) (id AreaID, directoryGrowth int, err error) {
	if reuseID, ok := p.findOverwriteableSlot(); ok {
		if p.freeSize() < uint32(size) {
			return 0, 0, errOutOfSpace
		}
		return reuseID, 0, nil
	}
	if p.managedCount() >= MaxManagedAreaCount {
		return 0, 0, errOutOfSpace
	}
	newID := AreaID(p.managedCount())
	growth := p.directoryGrowthFor(newID)
	if p.freeSize() < uint32(size+growth) {
		return 0, 0, errOutOfSpace
	}
	return newID, growth, nil
}

func (p *areaPage) commitAllocation(id AreaID, size, directoryGrowth int) AreaID {
	offset := p.freeOffset()
	p.setAreaSlot(id, offset, uint32(size))
	p.setUsed(id, true)
	p.setFreeOffset(offset + uint32(size))
	p.setFreeSize(p.freeSize() - uint32(size+directoryGrowth))
	p.setUnusedSize(p.unusedSize() - uint32(size+directoryGrowth))
	if int(id) >= p.managedCount() {
		p.setManagedCount(int(id) + 1)
	}
	return id
}

// freeArea clears id's use bit; the slot's (offset,size) remain valid
// until the next compaction (§4.2).
func (p *areaPage) freeArea(id AreaID) error {
	if int(id) >= p.managedCount() || !p.isUsed(id) {
		return errBadArgument
	}
	_, size := p.areaSlot(id)
	p.setUsed(id, false)
	p.setUnusedSize(p.unusedSize() + size)
	return nil
}

// reuseArea re-sets the use bit of a previously freed slot whose
// offset/size were not invalidated by a compaction in between.
func (p *areaPage) reuseArea(id AreaID) error {
	if int(id) >= p.managedCount() || p.isUsed(id) {
		return errBadArgument
	}
	offset, size := p.areaSlot(id)
	if offset == p.layout.undefinedOffset() {
		return errBadArgument // invalidated by a compaction
	}
	p.setUsed(id, true)
	p.setUnusedSize(p.unusedSize() - size)
	return nil
}

// compaction rewrites all in-use areas contiguously at the start of the
// user area in ascending id order, invalidates every freed slot, and
// trims trailing unused slots from managedCount (§4.2).
func (p *areaPage) compaction() {
	type liveArea struct {
		id     AreaID
		offset uint32
		size   uint32
	}
	n := p.managedCount()
	live := make([]liveArea, 0, n)
	for i := 0; i < n; i++ {
		id := AreaID(i)
		if p.isUsed(id) {
			off, sz := p.areaSlot(id)
			live = append(live, liveArea{id, off, sz})
		}
	}

	// Copy payload bytes into their compacted positions. Copies proceed
	// in ascending destination order; since destination offsets are
	// monotonically non-decreasing and <= their source offsets, an
	// in-place forward copy never clobbers a not-yet-read source.
	cursor := uint32(p.headerSize())
	for _, a := range live {
		if a.offset != cursor {
			copy(p.data[cursor:cursor+a.size], p.data[a.offset:a.offset+a.size])
		}
		p.setAreaSlot(a.id, cursor, a.size)
		cursor += a.size
	}

	// Invalidate every freed slot so reuseArea can no longer reference
	// a now-stale offset.
	undef := p.layout.undefinedOffset()
	for i := 0; i < n; i++ {
		id := AreaID(i)
		if !p.isUsed(id) {
			p.setAreaSlot(id, undef, undef)
		}
	}

	// Trim trailing invalidated slots.
	newCount := n
	for newCount > 0 && !p.isUsed(AreaID(newCount-1)) {
		off, _ := p.areaSlot(AreaID(newCount - 1))
		if off != undef {
			break
		}
		newCount--
	}
	p.setManagedCount(newCount)

	p.setFreeOffset(cursor)
	dirSize := p.blockCount() * p.layout.blockSize()
	freeSz := uint32(len(p.data)-dirSize) - cursor
	p.setFreeSize(freeSz)
	p.setUnusedSize(freeSz)
}

// changeAreaSize resizes id in place when shrinking, relocates it to
// the free-space tail when growing and room allows, or (if doCompaction)
// frees, compacts and reallocates it. Returns whether the change took
// effect (§4.2).
func (p *areaPage) changeAreaSize(id AreaID, newSize int, doCompaction bool) (bool, error) {
	if int(id) >= p.managedCount() || !p.isUsed(id) {
		return false, errBadArgument
	}
	offset, oldSize := p.areaSlot(id)
	if uint32(newSize) <= oldSize {
		p.setAreaSlot(id, offset, uint32(newSize))
		p.setUnusedSize(p.unusedSize() + (oldSize - uint32(newSize)))
		return true, nil
	}

	if p.freeSize() >= uint32(newSize) {
		newOffset := p.freeOffset()
		copy(p.data[newOffset:newOffset+oldSize], p.data[offset:offset+oldSize])
		p.setAreaSlot(id, newOffset, uint32(newSize))
		p.setFreeOffset(newOffset + uint32(newSize))
		p.setFreeSize(p.freeSize() - uint32(newSize))
		p.setUnusedSize(p.unusedSize() + oldSize - uint32(newSize))
		return true, nil
	}

	if !doCompaction {
		return false, nil
	}
	if err := p.freeArea(id); err != nil {
		return false, err
	}
	p.compaction()
	newID, directoryGrowth, err := p.planAllocation(newSize)
	if err != nil {
		return false, err
	}
	got := p.commitAllocation(newID, newSize, directoryGrowth)
	if got != id {
		// The id moved; callers on the shared skeleton always look up
		// areas by id through the B+-tree page's own bookkeeping, so
		// surface the new id via a second setAreaSlot copy onto the
		// original id's (now-stale) slot is not possible — instead
		// report failure so the caller re-resolves the area by key.
		return false, errUnexpected
	}
	return true, nil
}

func (p *areaPage) readArea(id AreaID, dst []byte, offsetInArea int) (int, error) {
	if int(id) >= p.managedCount() || !p.isUsed(id) {
		return 0, errBadArgument
	}
	offset, size := p.areaSlot(id)
	if offsetInArea < 0 || uint32(offsetInArea) > size {
		return 0, errBadArgument
	}
	n := copy(dst, p.data[offset+uint32(offsetInArea):offset+size])
	return n, nil
}

func (p *areaPage) writeArea(id AreaID, src []byte, offsetInArea int) error {
	if int(id) >= p.managedCount() || !p.isUsed(id) {
		return errBadArgument
	}
	offset, size := p.areaSlot(id)
	if offsetInArea < 0 || uint32(offsetInArea+len(src)) > size {
		return errBadArgument
	}
	copy(p.data[offset+uint32(offsetInArea):], src)
	return nil
}

func (p *areaPage) areaBytes(id AreaID) []byte {
	offset, size := p.areaSlot(id)
	return p.data[offset : offset+size]
}

// topAreaID / lastAreaID / nextAreaID / prevAreaID walk in-use slots in
// id order, not physical order (§4.2).
func (p *areaPage) topAreaID() (AreaID, bool) {
	for i := 0; i < p.managedCount(); i++ {
		if p.isUsed(AreaID(i)) {
			return AreaID(i), true
		}
	}
	return 0, false
}

func (p *areaPage) lastAreaID() (AreaID, bool) {
	for i := p.managedCount() - 1; i >= 0; i-- {
		if p.isUsed(AreaID(i)) {
			return AreaID(i), true
		}
	}
	return 0, false
}

func (p *areaPage) nextAreaID(after AreaID) (AreaID, bool) {
	for i := int(after) + 1; i < p.managedCount(); i++ {
		if p.isUsed(AreaID(i)) {
			return AreaID(i), true
		}
	}
	return 0, false
}

func (p *areaPage) prevAreaID(before AreaID) (AreaID, bool) {
	for i := int(before) - 1; i >= 0; i-- {
		if p.isUsed(AreaID(i)) {
			return AreaID(i), true
		}
	}
	return 0, false
}

// unusedPercent / freePercent express the page's two rate classes as
// percentages of its user-area size, the quantity ratetable.go's
// classOfPercent discretizes (§3.1).
func (p *areaPage) userAreaSize() int {
	return len(p.data) - p.headerSize()
}

func (p *areaPage) unusedPercent() int {
	ua := p.userAreaSize()
	if ua == 0 {
		return 0
	}
	return int(p.unusedSize()) * 100 / ua
}

func (p *areaPage) freePercent() int {
	ua := p.userAreaSize()
	if ua == 0 {
		return 0
	}
	return int(p.freeSize()) * 100 / ua
}

// fitsFreeSpace reports whether this page can host a size-byte area
// plus areaCount total new allocations, after accounting for directory
// growth less any overwriteable slots already available (§4.1 step 3:
// "subtract the directory growth for K new areas less any
// overwriteable slots, and verify >= S").
func (p *areaPage) fitsFreeSpace(size, areaCount int) bool {
	overwriteable := 0
	for i := 0; i < p.managedCount() && overwriteable < areaCount; i++ {
		if p.isOverwriteable(AreaID(i)) {
			overwriteable++
		}
	}
	needed := areaCount - overwriteable
	if needed < 0 {
		needed = 0
	}
	growth := 0
	start := p.managedCount()
	for i := 0; i < needed; i++ {
		growth += p.directoryGrowthFor(AreaID(start + i))
	}
	return int(p.freeSize()) >= size+growth
}

// checkPhysicalArea verifies that every in-use area's byte range lies
// inside the user area and does not overlap any other in-use area
// (§4.8: check_physical_area).
func (p *areaPage) checkPhysicalArea() error {
	type span struct{ start, end uint32 }
	var spans []span
	userEnd := uint32(len(p.data) - p.directorySize())
	for i := 0; i < p.managedCount(); i++ {
		id := AreaID(i)
		if !p.isUsed(id) {
			continue
		}
		off, sz := p.areaSlot(id)
		if off < uint32(p.headerSize()) || off+sz > userEnd {
			return errUnexpected
		}
		spans = append(spans, span{off, off + sz})
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				return errUnexpected
			}
		}
	}
	return nil
}
