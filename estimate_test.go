package bxfile

import (
	"fmt"
	"testing"
)

func TestEstimateCountForSearchExactOnSmallFile(t *testing.T) {
	f := newTestBTreeFile(t, KindSimple)
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("e%02d", i))
		if err := f.Insert(key, RowID(i), false); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	n, err := f.EstimateCountForSearch([]byte("e05"), false)
	if err != nil {
		t.Fatalf("EstimateCountForSearch: %v", err)
	}
	if n != 1 {
		t.Fatalf("EstimateCountForSearch(e05) = %d, want 1", n)
	}
}

func TestEstimateCountForSearchMultiDuplicates(t *testing.T) {
	f := newTestBTreeFile(t, KindMulti)
	for i := 0; i < 5; i++ {
		if err := f.Insert([]byte("dup"), RowID(i), false); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	n, err := f.EstimateCountForSearch([]byte("dup"), false)
	if err != nil {
		t.Fatalf("EstimateCountForSearch: %v", err)
	}
	if n != 5 {
		t.Fatalf("EstimateCountForSearch(dup) = %d, want 5", n)
	}
}

func TestEstimateCountForSearchMissingKey(t *testing.T) {
	f := newTestBTreeFile(t, KindSimple)
	if err := f.Insert([]byte("a"), RowID(1), false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err := f.EstimateCountForSearch([]byte("zzz"), false)
	if err != nil {
		t.Fatalf("EstimateCountForSearch: %v", err)
	}
	if n != 0 {
		t.Fatalf("EstimateCountForSearch(missing) = %d, want 0", n)
	}
}

func TestEstimateCountForFetchSameLeafIsExact(t *testing.T) {
	f := newTestBTreeFile(t, KindSimple)
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("f%02d", i))
		if err := f.Insert(key, RowID(i), false); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	n, err := f.EstimateCountForFetch([]byte("f02"), false, []byte("f05"), false)
	if err != nil {
		t.Fatalf("EstimateCountForFetch: %v", err)
	}
	if n != 4 {
		t.Fatalf("EstimateCountForFetch(f02,f05) = %d, want 4", n)
	}
}

func TestEstimateCountForFetchAcrossLeaves(t *testing.T) {
	f := newTestBTreeFile(t, KindSimple)
	const n = 400
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("g%05d", i))
		if err := f.Insert(key, RowID(i), false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	est, err := f.EstimateCountForFetch([]byte("g00000"), false, []byte("g00399"), false)
	if err != nil {
		t.Fatalf("EstimateCountForFetch: %v", err)
	}
	if est == 0 {
		t.Fatal("expected a non-zero estimate spanning the whole file")
	}
	if est > uint64(n)*2 {
		t.Fatalf("estimate %d is implausibly larger than the actual row count %d", est, n)
	}
}

func TestEstimateCountOnEmptyFile(t *testing.T) {
	f := newTestBTreeFile(t, KindSimple)
	n, err := f.EstimateCountForSearch([]byte("anything"), false)
	if err != nil {
		t.Fatalf("EstimateCountForSearch: %v", err)
	}
	if n != 0 {
		t.Fatalf("EstimateCountForSearch on empty file = %d, want 0", n)
	}
	n, err = f.EstimateCountForFetch([]byte("a"), false, []byte("z"), false)
	if err != nil {
		t.Fatalf("EstimateCountForFetch: %v", err)
	}
	if n != 0 {
		t.Fatalf("EstimateCountForFetch on empty file = %d, want 0", n)
	}
}
