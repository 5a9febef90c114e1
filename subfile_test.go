package bxfile

import "testing"

func TestDeletedSubFileRecordAndLookup(t *testing.T) {
	pool := newMembufPool(t)
	sub, err := CreateDeletedSubFile(pool, DefaultCreateOptions(), BytesComparator{})
	if err != nil {
		t.Fatalf("CreateDeletedSubFile: %v", err)
	}
	if err := sub.Record([]byte("k"), RowID(1)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := sub.Record([]byte("k"), RowID(2)); err != nil {
		t.Fatalf("Record second: %v", err)
	}
	rows, err := sub.Lookup([]byte("k"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Lookup(k) = %v, want 2 records (no uniqueness constraint)", rows)
	}
}

func TestDeletedSubFileMount(t *testing.T) {
	pool := newMembufPool(t)
	sub, err := CreateDeletedSubFile(pool, DefaultCreateOptions(), BytesComparator{})
	if err != nil {
		t.Fatalf("CreateDeletedSubFile: %v", err)
	}
	if err := sub.Record([]byte("k"), RowID(9)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mounted, err := MountDeletedSubFile(pool, BytesComparator{})
	if err != nil {
		t.Fatalf("MountDeletedSubFile: %v", err)
	}
	rows, err := mounted.Lookup([]byte("k"))
	if err != nil {
		t.Fatalf("Lookup on mounted sub-file: %v", err)
	}
	if len(rows) != 1 || rows[0] != 9 {
		t.Fatalf("Lookup(k) on mounted sub-file = %v, want [9]", rows)
	}
}
