package fastmap

import (
	"math/rand"
	"testing"
)

func pageBody(pageSize int, fill byte) []byte {
	b := make([]byte, pageSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestPageTable(t *testing.T) {
	m := &PageTable{}

	if m.Get(1) != nil {
		t.Error("expected nil for an empty table")
	}

	e1 := &Entry{Data: pageBody(64, 1)}
	e2 := &Entry{Data: pageBody(64, 2)}

	m.Set(1, e1)
	m.Set(2, e2)

	if m.Get(1) != e1 {
		t.Error("Get(1) failed")
	}
	if m.Get(2) != e2 {
		t.Error("Get(2) failed")
	}
	if m.Get(3) != nil {
		t.Error("Get(3) should be nil")
	}

	e3 := &Entry{Data: pageBody(64, 3)}
	m.Set(1, e3)
	if m.Get(1) != e3 {
		t.Error("overwriting an existing page number failed")
	}

	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}

	m.Clear()
	if m.Len() != 0 {
		t.Error("Clear() left entries behind")
	}
	if m.Get(1) != nil {
		t.Error("Get after Clear should be nil")
	}
}

// TestPageTableGrowth mimics a pool that has allocated many pages in
// the sequential order AllocatePage always produces, forcing several
// grow() calls.
func TestPageTableGrowth(t *testing.T) {
	m := &PageTable{}

	const n = 10000
	entries := make([]*Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = &Entry{Data: pageBody(4096, byte(i))}
		m.Set(uint32(i), entries[i])
	}

	if m.Len() != n {
		t.Errorf("Len() = %d, want %d", m.Len(), n)
	}
	for i := 0; i < n; i++ {
		if m.Get(uint32(i)) != entries[i] {
			t.Errorf("Get(%d) returned the wrong entry after growth", i)
		}
	}
}

// TestPageTableZeroPage checks page number 0 is not mistaken for an
// unused bucket (the file header always lives at page 0, §3).
func TestPageTableZeroPage(t *testing.T) {
	m := &PageTable{}
	e := &Entry{Data: pageBody(4096, 9)}
	m.Set(0, e)

	if m.Get(0) != e {
		t.Error("page 0 lookup failed")
	}
	if m.Len() != 1 {
		t.Error("Len should be 1")
	}
}

var benchPages []*Entry

func init() {
	benchPages = make([]*Entry, 200000)
	for i := range benchPages {
		benchPages[i] = &Entry{Data: pageBody(4096, byte(i))}
	}
}

func BenchmarkPageTableSequentialAllocate(b *testing.B) {
	m := &PageTable{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Set(uint32(i), benchPages[i%len(benchPages)])
	}
}

func BenchmarkGoMapSequentialAllocate(b *testing.B) {
	m := make(map[uint32]*Entry)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m[uint32(i)] = benchPages[i%len(benchPages)]
	}
}

// BenchmarkPageTableRandomFix models a working set fixed out of page
// order, the pattern a rebalance pass touching scattered siblings
// produces.
func BenchmarkPageTableRandomFix(b *testing.B) {
	m := &PageTable{}
	pgnos := make([]uint32, b.N)
	for i := range pgnos {
		pgnos[i] = rand.Uint32()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Set(pgnos[i], benchPages[i%len(benchPages)])
	}
}

func BenchmarkGoMapRandomFix(b *testing.B) {
	m := make(map[uint32]*Entry)
	pgnos := make([]uint32, b.N)
	for i := range pgnos {
		pgnos[i] = rand.Uint32()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m[pgnos[i]] = benchPages[i%len(benchPages)]
	}
}

func BenchmarkPageTableSequentialLookup(b *testing.B) {
	m := &PageTable{}
	for i := 0; i < 100000; i++ {
		m.Set(uint32(i), benchPages[i%len(benchPages)])
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Get(uint32(i % 100000))
	}
}

func BenchmarkGoMapSequentialLookup(b *testing.B) {
	m := make(map[uint32]*Entry)
	for i := 0; i < 100000; i++ {
		m[uint32(i)] = benchPages[i%len(benchPages)]
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[uint32(i%100000)]
	}
}

// BenchmarkPageTableMissLookup models a read of a page never written,
// the sparse-file-past-EOF case membuf.Pool.Fix falls back for.
func BenchmarkPageTableMissLookup(b *testing.B) {
	m := &PageTable{}
	for i := 0; i < 100000; i++ {
		m.Set(uint32(i), benchPages[i%len(benchPages)])
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Get(uint32(i + 1000000))
	}
}

func BenchmarkGoMapMissLookup(b *testing.B) {
	m := make(map[uint32]*Entry)
	for i := 0; i < 100000; i++ {
		m[uint32(i)] = benchPages[i%len(benchPages)]
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[uint32(i+1000000)]
	}
}
