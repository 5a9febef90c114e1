package bxfile

// pageops.go: a uniform facade over the three leaf-entry codecs
// (Simple, Multi, Unique) so btreefile.go, cursor.go, rebalance.go and
// estimate.go can walk, split and search pages without a type switch at
// every call site. Kind selects which codec a raw page's bytes are
// interpreted with; the codecs themselves (btpage_simple.go,
// btpage_multi.go, btpage_unique.go) remain the source of truth for
// on-disk layout.

// Kind identifies which of the three B+-tree variants a file is
// (§4.4-§4.6: "Simple", "Multi", "Unique").
type Kind uint8

const (
	KindSimple Kind = iota
	KindMulti
	KindUnique
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "Simple"
	case KindMulti:
		return "Multi"
	case KindUnique:
		return "Unique"
	default:
		return "Unknown"
	}
}

// leafEntry is the variant-agnostic shape of one leaf entry, used at
// the pageOps boundary so callers don't need to know which trailer bit
// (if any) a variant attaches to it.
type leafEntry struct {
	Key        []byte
	Row        RowID
	IsNull     bool // meaningful only for Multi
	Tombstoned bool // meaningful only for Unique; ignored on insert
}

// pageOps is the uniform view over one B+-tree page, leaf or internal.
type pageOps interface {
	Raw() *btPage
	IsLeaf() bool
	EntryCount() int
	KeyAt(i int) []byte
	Entry(i int) leafEntry
	ChildAt(i int) pageAddr
	SetChildAt(i int, child pageAddr)
	InsertLeaf(i int, e leafEntry) error
	InsertInternal(i int, key []byte, child pageAddr) error
	Remove(i int)
	Compact()
	Verify(cmp Comparator) error
	Find(cmp Comparator, key []byte, isNull bool) (idx int, exact bool)
	FreeBytes() int
}

func newLeafPage(kind Kind, data []byte) *btPage {
	switch kind {
	case KindMulti:
		return newMultiLeafPage(data)
	case KindUnique:
		return newUniqueLeafPage(data)
	default:
		return newSimpleLeafPage(data)
	}
}

func newInternalPage(kind Kind, data []byte) *btPage {
	switch kind {
	case KindMulti:
		return newMultiInternalPage(data)
	case KindUnique:
		return newUniqueInternalPage(data)
	default:
		return newSimpleInternalPage(data)
	}
}

// openPage interprets data under kind's codec, dispatching on the
// already-formatted leaf/internal flag and on whether the variant
// reserves a trailer only for leaves (Multi, Unique) or never (Simple).
func openPage(kind Kind, data []byte) pageOps {
	isLeaf := newBtPage(data, 0).flagsAndCount()&leafFlagBit != 0
	switch kind {
	case KindMulti:
		if isLeaf {
			return multiOps{openMultiLeafPage(data)}
		}
		return multiOps{openMultiInternalPage(data)}
	case KindUnique:
		if isLeaf {
			return uniqueOps{openUniqueLeafPage(data)}
		}
		return uniqueOps{openUniqueInternalPage(data)}
	default:
		if isLeaf {
			return simpleOps{openSimplePage(data)}
		}
		return simpleOps{simplePage{newBtPage(data, 0)}}
	}
}

// -- Simple --

type simpleOps struct{ p simplePage }

func (o simpleOps) Raw() *btPage       { return o.p.btPage }
func (o simpleOps) IsLeaf() bool       { return o.p.IsLeaf() }
func (o simpleOps) EntryCount() int    { return o.p.EntryCount() }
func (o simpleOps) KeyAt(i int) []byte { return o.p.keyAt(i) }
func (o simpleOps) Entry(i int) leafEntry {
	return leafEntry{Key: o.p.keyAt(i), Row: o.p.simpleRowAt(i)}
}
func (o simpleOps) ChildAt(i int) pageAddr           { return o.p.childAt(i) }
func (o simpleOps) SetChildAt(i int, child pageAddr) { o.p.setChildAt(i, child) }
func (o simpleOps) InsertLeaf(i int, e leafEntry) error {
	return o.p.InsertLeaf(i, e.Key, e.Row)
}
func (o simpleOps) InsertInternal(i int, key []byte, child pageAddr) error {
	return o.p.InsertInternal(i, key, child)
}
func (o simpleOps) Remove(i int)                { o.p.Remove(i) }
func (o simpleOps) Compact()                    { o.p.Compact() }
func (o simpleOps) Verify(cmp Comparator) error { return o.p.Verify(cmp) }
func (o simpleOps) Find(cmp Comparator, key []byte, isNull bool) (int, bool) {
	return o.p.lowerBound(cmp, key)
}
func (o simpleOps) FreeBytes() int { return o.p.freeBytes() }

// -- Multi --

type multiOps struct{ p multiPage }

func (o multiOps) Raw() *btPage       { return o.p.btPage }
func (o multiOps) IsLeaf() bool       { return o.p.IsLeaf() }
func (o multiOps) EntryCount() int    { return o.p.EntryCount() }
func (o multiOps) KeyAt(i int) []byte { return o.p.keyAt(i) }
func (o multiOps) Entry(i int) leafEntry {
	return leafEntry{Key: o.p.keyAt(i), Row: o.p.simpleRowAt(i), IsNull: o.p.IsNull(i)}
}
func (o multiOps) ChildAt(i int) pageAddr           { return o.p.childAt(i) }
func (o multiOps) SetChildAt(i int, child pageAddr) { o.p.setChildAt(i, child) }
func (o multiOps) InsertLeaf(i int, e leafEntry) error {
	return o.p.InsertLeaf(i, e.Key, e.Row, e.IsNull)
}
func (o multiOps) InsertInternal(i int, key []byte, child pageAddr) error {
	return o.p.InsertInternal(i, key, child)
}
func (o multiOps) Remove(i int)                { o.p.Remove(i) }
func (o multiOps) Compact()                    { o.p.Compact() }
func (o multiOps) Verify(cmp Comparator) error { return o.p.Verify(cmp) }
func (o multiOps) Find(cmp Comparator, key []byte, isNull bool) (int, bool) {
	return o.p.LowerBound(cmp, key, isNull)
}
func (o multiOps) FreeBytes() int { return o.p.freeBytes() }

// -- Unique --

type uniqueOps struct{ p uniquePage }

func (o uniqueOps) Raw() *btPage       { return o.p.btPage }
func (o uniqueOps) IsLeaf() bool       { return o.p.IsLeaf() }
func (o uniqueOps) EntryCount() int    { return o.p.EntryCount() }
func (o uniqueOps) KeyAt(i int) []byte { return o.p.keyAt(i) }
func (o uniqueOps) Entry(i int) leafEntry {
	return leafEntry{Key: o.p.keyAt(i), Row: o.p.RowAt(i), Tombstoned: o.p.IsTombstoned(i)}
}
func (o uniqueOps) ChildAt(i int) pageAddr           { return o.p.childAt(i) }
func (o uniqueOps) SetChildAt(i int, child pageAddr) { o.p.setChildAt(i, child) }
func (o uniqueOps) InsertLeaf(i int, e leafEntry) error {
	if err := o.p.InsertLeaf(i, e.Key, e.Row); err != nil {
		return err
	}
	if e.Tombstoned {
		o.p.SetTombstone(i, true)
	}
	return nil
}
func (o uniqueOps) InsertInternal(i int, key []byte, child pageAddr) error {
	return o.p.InsertInternal(i, key, child)
}
func (o uniqueOps) Remove(i int)                { o.p.Remove(i) }
func (o uniqueOps) Compact()                    { o.p.Compact() }
func (o uniqueOps) Verify(cmp Comparator) error { return o.p.Verify(cmp) }
func (o uniqueOps) Find(cmp Comparator, key []byte, isNull bool) (int, bool) {
	return o.p.lowerBound(cmp, key)
}
func (o uniqueOps) FreeBytes() int { return o.p.freeBytes() }
