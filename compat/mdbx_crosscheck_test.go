package compat

import (
	"encoding/binary"
	"os"
	"runtime"
	"testing"

	mdbx "github.com/erigontech/mdbx-go/mdbx"

	bxfile "github.com/diskbtree/bxfile"
	"github.com/diskbtree/bxfile/membuf"
)

// TestMultiFileDuplicateSetMatchesMdbxDupsort cross-checks the Multi
// variant's handling of repeated keys (§4.3 "Multi") against mdbx-go's
// DupSort database, the same cross-validation role
// tests/compat_large_test.go's NextDup walk plays for gdbx against
// libmdbx. Duplicate-value ordering differs between the two engines
// (mdbx sorts duplicates by value bytes; this engine preserves
// insertion order within a key) so the check compares the *set* of
// row ids observed per key rather than their order.
func TestMultiFileDuplicateSetMatchesMdbxDupsort(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	dir, err := os.MkdirTemp("", "bxfile-mdbx-compat-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	env, err := mdbx.NewEnv(mdbx.Label("compat"))
	if err != nil {
		t.Fatalf("mdbx.NewEnv: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	env.SetOption(mdbx.OptMaxDB, 1)
	env.SetGeometry(-1, -1, 1<<30, -1, -1, 4096)
	if err := env.Open(dir, mdbx.Create, 0o644); err != nil {
		t.Fatalf("mdbx Open: %v", err)
	}

	const numKeys = 20
	const valsPerKey = 5

	pool := membuf.New(4096)
	opts := bxfile.DefaultCreateOptions()
	bf, err := bxfile.CreateBTreeFile(pool, opts, bxfile.KindMulti, bxfile.BytesComparator{})
	if err != nil {
		t.Fatalf("CreateBTreeFile: %v", err)
	}

	wantByKey := make(map[string]map[bxfile.RowID]bool, numKeys)

	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	dbi, err := txn.OpenDBI("dups", mdbx.Create|mdbx.DupSort, nil, nil)
	if err != nil {
		txn.Abort()
		t.Fatalf("OpenDBI: %v", err)
	}
	for ki := 0; ki < numKeys; ki++ {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(ki))
		set := make(map[bxfile.RowID]bool, valsPerKey)
		for vi := 0; vi < valsPerKey; vi++ {
			row := bxfile.RowID(ki*1000 + vi)
			val := make([]byte, 8)
			binary.BigEndian.PutUint64(val, uint64(row))
			if err := txn.Put(dbi, key, val, 0); err != nil {
				txn.Abort()
				t.Fatalf("mdbx Put: %v", err)
			}
			if err := bf.Insert(key, row, false); err != nil {
				t.Fatalf("engine Insert: %v", err)
			}
			set[row] = true
		}
		wantByKey[string(key)] = set
	}
	if _, err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtxn, err := env.BeginTxn(nil, mdbx.TxnReadOnly)
	if err != nil {
		t.Fatalf("BeginTxn(readonly): %v", err)
	}
	defer rtxn.Abort()
	cur, err := rtxn.OpenCursor(dbi)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer cur.Close()

	for keyStr, want := range wantByKey {
		key := []byte(keyStr)
		got := make(map[bxfile.RowID]bool, len(want))
		_, v, err := cur.Get(key, nil, mdbx.Set)
		if err != nil {
			t.Fatalf("mdbx Set(%x): %v", key, err)
		}
		got[bxfile.RowID(binary.BigEndian.Uint64(v))] = true
		for {
			_, v, err = cur.Get(nil, nil, mdbx.NextDup)
			if err != nil {
				break
			}
			got[bxfile.RowID(binary.BigEndian.Uint64(v))] = true
		}
		if len(got) != len(want) {
			t.Fatalf("mdbx dup set for key %x has %d entries, want %d", key, len(got), len(want))
		}
		for row := range want {
			if !got[row] {
				t.Fatalf("mdbx missing row %d for key %x", row, key)
			}
		}
	}

	for keyStr, want := range wantByKey {
		key := []byte(keyStr)
		rows, err := bf.Search(key, false)
		if err != nil {
			t.Fatalf("Search(%x): %v", key, err)
		}
		if len(rows) != len(want) {
			t.Fatalf("engine dup set for key %x has %d entries, want %d", key, len(rows), len(want))
		}
		for _, r := range rows {
			if !want[r] {
				t.Fatalf("engine returned unexpected row %d for key %x", r, key)
			}
		}
	}
}
