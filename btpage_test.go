package bxfile

import "testing"

func TestBtPageInsertAndKeyAt(t *testing.T) {
	data := make([]byte, 512)
	p := newSimpleLeafPage(data)
	sp := simplePage{p}

	if err := sp.InsertLeaf(0, []byte("b"), RowID(2)); err != nil {
		t.Fatalf("InsertLeaf: %v", err)
	}
	if err := sp.InsertLeaf(0, []byte("a"), RowID(1)); err != nil {
		t.Fatalf("InsertLeaf: %v", err)
	}
	if p.EntryCount() != 2 {
		t.Fatalf("EntryCount = %d, want 2", p.EntryCount())
	}
	if string(p.keyAt(0)) != "a" || string(p.keyAt(1)) != "b" {
		t.Fatalf("keys = %q, %q, want a, b", p.keyAt(0), p.keyAt(1))
	}
	if sp.simpleRowAt(0) != 1 || sp.simpleRowAt(1) != 2 {
		t.Fatalf("rows = %d, %d, want 1, 2", sp.simpleRowAt(0), sp.simpleRowAt(1))
	}
}

func TestBtPageRemoveAndCompact(t *testing.T) {
	data := make([]byte, 512)
	p := newSimpleLeafPage(data)
	sp := simplePage{p}
	for i, k := range []string{"a", "b", "c"} {
		if err := sp.InsertLeaf(i, []byte(k), RowID(i)); err != nil {
			t.Fatalf("InsertLeaf: %v", err)
		}
	}
	sp.Remove(1)
	if p.EntryCount() != 2 {
		t.Fatalf("EntryCount after remove = %d, want 2", p.EntryCount())
	}
	if string(p.keyAt(0)) != "a" || string(p.keyAt(1)) != "c" {
		t.Fatalf("keys after remove = %q, %q, want a, c", p.keyAt(0), p.keyAt(1))
	}
	sp.Compact()
	if string(p.keyAt(0)) != "a" || string(p.keyAt(1)) != "c" {
		t.Fatalf("keys after compact = %q, %q, want a, c", p.keyAt(0), p.keyAt(1))
	}
	if err := sp.Verify(BytesComparator{}); err != nil {
		t.Fatalf("Verify after compact: %v", err)
	}
}

func TestBtPageLowerBound(t *testing.T) {
	data := make([]byte, 512)
	p := newSimpleLeafPage(data)
	sp := simplePage{p}
	for i, k := range []string{"b", "d", "f"} {
		if err := sp.InsertLeaf(i, []byte(k), RowID(i)); err != nil {
			t.Fatalf("InsertLeaf: %v", err)
		}
	}
	cmp := BytesComparator{}
	if idx, exact := p.lowerBound(cmp, []byte("d")); idx != 1 || !exact {
		t.Fatalf("lowerBound(d) = (%d, %v), want (1, true)", idx, exact)
	}
	if idx, exact := p.lowerBound(cmp, []byte("c")); idx != 1 || exact {
		t.Fatalf("lowerBound(c) = (%d, %v), want (1, false)", idx, exact)
	}
	if idx, exact := p.lowerBound(cmp, []byte("z")); idx != 3 || exact {
		t.Fatalf("lowerBound(z) = (%d, %v), want (3, false)", idx, exact)
	}
}

func TestBtPageInsertRawOutOfSpace(t *testing.T) {
	data := make([]byte, btPageHeaderSize+2)
	p := newSimpleLeafPage(data)
	sp := simplePage{p}
	if err := sp.InsertLeaf(0, []byte("too-long-a-key-for-this-tiny-page"), RowID(1)); err == nil {
		t.Fatal("expected errOutOfSpace on an undersized page")
	}
}

func TestBtPageDetach(t *testing.T) {
	data := make([]byte, 512)
	p := newSimpleLeafPage(data)
	sp := simplePage{p}
	sp.InsertLeaf(0, []byte("x"), RowID(9))
	p.SetPrev(pageAddr{Page: 7})
	p.detach()
	if p.EntryCount() != 0 {
		t.Fatalf("EntryCount after detach = %d, want 0", p.EntryCount())
	}
	if !p.IsLeaf() {
		t.Fatal("detach should leave the page marked as a leaf")
	}
	if !p.Prev().isUndefined() {
		t.Fatal("detach should reset Prev to undefined")
	}
}

func TestMultiPageNullOrdering(t *testing.T) {
	data := make([]byte, 512)
	p := newMultiLeafPage(data)
	mp := openMultiLeafPage(data)
	if !samePage(p, mp.btPage) {
		t.Fatal("openMultiLeafPage should view the same bytes as newMultiLeafPage")
	}

	if err := mp.InsertLeaf(0, nil, RowID(1), true); err != nil {
		t.Fatalf("InsertLeaf(null): %v", err)
	}
	if err := mp.InsertLeaf(1, []byte("a"), RowID(2), false); err != nil {
		t.Fatalf("InsertLeaf(a): %v", err)
	}
	if !mp.IsNull(0) {
		t.Fatal("entry 0 should be NULL")
	}
	if mp.IsNull(1) {
		t.Fatal("entry 1 should not be NULL")
	}

	idx, exact := mp.LowerBound(BytesComparator{}, nil, true)
	if idx != 0 || !exact {
		t.Fatalf("LowerBound(null) = (%d, %v), want (0, true)", idx, exact)
	}
	if err := mp.Verify(BytesComparator{}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestMultiPageRemovePreservesTrailerAlignment(t *testing.T) {
	data := make([]byte, 512)
	mp := openMultiLeafPage(newMultiLeafPage(data).data)
	mp.InsertLeaf(0, nil, RowID(1), true)
	mp.InsertLeaf(1, []byte("a"), RowID(2), false)
	mp.InsertLeaf(2, []byte("b"), RowID(3), false)

	mp.Remove(0)
	if mp.IsNull(0) {
		t.Fatal("after removing the NULL entry, remaining entries should not read as NULL")
	}
	if string(mp.keyAt(0)) != "a" || string(mp.keyAt(1)) != "b" {
		t.Fatalf("keys after remove = %q, %q, want a, b", mp.keyAt(0), mp.keyAt(1))
	}
}

func TestUniquePageTombstone(t *testing.T) {
	data := make([]byte, 512)
	up := openUniqueLeafPage(newUniqueLeafPage(data).data)
	if err := up.InsertLeaf(0, []byte("k"), RowID(1)); err != nil {
		t.Fatalf("InsertLeaf: %v", err)
	}
	if up.IsTombstoned(0) {
		t.Fatal("freshly inserted entry should not be tombstoned")
	}
	up.SetTombstone(0, true)
	if !up.IsTombstoned(0) {
		t.Fatal("entry should be tombstoned after SetTombstone(true)")
	}
	if up.RowAt(0) != RowID(1) {
		t.Fatalf("RowAt = %d, want 1", up.RowAt(0))
	}
}

func TestUniquePageVerifyRejectsDuplicateKeys(t *testing.T) {
	data := make([]byte, 512)
	up := openUniqueLeafPage(newUniqueLeafPage(data).data)
	up.InsertLeaf(0, []byte("k"), RowID(1))
	up.InsertLeaf(1, []byte("k"), RowID(2))
	if err := up.Verify(BytesComparator{}); err == nil {
		t.Fatal("Verify should reject two leaf entries sharing one key")
	}
}

func TestPageOpsRoundTripAllVariants(t *testing.T) {
	for _, kind := range []Kind{KindSimple, KindMulti, KindUnique} {
		data := make([]byte, 1024)
		raw := newLeafPage(kind, data)
		ops := openPage(kind, raw.data)
		e := leafEntry{Key: []byte("k1"), Row: RowID(42)}
		if err := ops.InsertLeaf(0, e); err != nil {
			t.Fatalf("%v: InsertLeaf: %v", kind, err)
		}
		got := ops.Entry(0)
		if string(got.Key) != "k1" || got.Row != 42 {
			t.Fatalf("%v: Entry(0) = %+v, want Key=k1 Row=42", kind, got)
		}
		if err := ops.Verify(BytesComparator{}); err != nil {
			t.Fatalf("%v: Verify: %v", kind, err)
		}
		idx, exact := ops.Find(BytesComparator{}, []byte("k1"), false)
		if idx != 0 || !exact {
			t.Fatalf("%v: Find(k1) = (%d, %v), want (0, true)", kind, idx, exact)
		}
	}
}

func samePage(a *btPage, b *btPage) bool {
	return &a.data[0] == &b.data[0]
}
