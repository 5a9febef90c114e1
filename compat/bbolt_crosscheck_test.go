// Package compat cross-checks this engine's on-disk key ordering
// against independent, real embedded B+-tree implementations, the same
// role the teacher's tests/compat_test.go plays for gdbx against
// libmdbx (github.com/erigontech/mdbx-go/mdbx).
package compat

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	bolt "go.etcd.io/bbolt"

	bxfile "github.com/diskbtree/bxfile"
	"github.com/diskbtree/bxfile/membuf"
)

// newBoltDB opens a throwaway bbolt database under t.TempDir.
func newBoltDB(t *testing.T) *bolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crosscheck.bolt")
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	t.Cleanup(func() { db.Close(); os.Remove(path) })
	return db
}

// fixtureKeys returns n big-endian uint64 keys in insertion order, not
// sorted order, so both stores have to do the sorting themselves.
func fixtureKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		// A multiplicative shuffle keeps the keys distinct and unsorted
		// without needing math/rand (kept deterministic for this test).
		v := uint64((i*2654435761 + 17) % (n * 9973))
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, v)
		keys[i] = k
	}
	return keys
}

func sortedCopy(keys [][]byte) [][]byte {
	out := make([][]byte, len(keys))
	copy(out, keys)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// TestSimpleFileMatchesBoltSortOrder round-trips the same key set
// through a real bbolt bucket and through this engine's Simple variant
// and asserts both report the same ascending key order. Grounded on
// the teacher's TestBasicReadWrite, adapted to compare sort order
// instead of mdbx wire bytes since bxfile's on-disk layout is private.
func TestSimpleFileMatchesBoltSortOrder(t *testing.T) {
	keys := fixtureKeys(500)

	db := newBoltDB(t)
	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("crosscheck"))
		if err != nil {
			return err
		}
		for i, k := range keys {
			v := make([]byte, 8)
			binary.BigEndian.PutUint64(v, uint64(i))
			if err := b.Put(k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("bolt populate: %v", err)
	}

	pool := membuf.New(4096)
	opts := bxfile.DefaultCreateOptions()
	bf, err := bxfile.CreateBTreeFile(pool, opts, bxfile.KindSimple, bxfile.BytesComparator{})
	if err != nil {
		t.Fatalf("CreateBTreeFile: %v", err)
	}
	for i, k := range keys {
		if err := bf.Insert(k, bxfile.RowID(i), false); err != nil {
			t.Fatalf("Insert(%x): %v", k, err)
		}
	}

	var boltOrder [][]byte
	if err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("crosscheck"))
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			boltOrder = append(boltOrder, append([]byte(nil), k...))
		}
		return nil
	}); err != nil {
		t.Fatalf("bolt iterate: %v", err)
	}

	want := sortedCopy(keys)

	if len(boltOrder) != len(want) {
		t.Fatalf("bolt returned %d keys, want %d", len(boltOrder), len(want))
	}
	for i := range want {
		if !bytes.Equal(boltOrder[i], want[i]) {
			t.Fatalf("bolt order mismatch at %d: got %x want %x", i, boltOrder[i], want[i])
		}
	}

	cur := bxfile.NewCursor(bf, nil)
	if err := cur.Search(bxfile.Condition{}, false); err != nil {
		t.Fatalf("Search: %v", err)
	}
	var engineOrder [][]byte
	for {
		k, _, ok, err := cur.Get()
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !ok {
			break
		}
		engineOrder = append(engineOrder, append([]byte(nil), k...))
	}
	if len(engineOrder) != len(want) {
		t.Fatalf("engine returned %d keys, want %d", len(engineOrder), len(want))
	}
	for i := range want {
		if !bytes.Equal(engineOrder[i], want[i]) {
			t.Fatalf("engine order mismatch at %d: got %x want %x", i, engineOrder[i], want[i])
		}
	}
}

// TestSimpleFilePresenceMatchesBolt deletes every other key from both
// stores and checks presence/absence agree afterward, mirroring the
// teacher's delete-then-verify compat pattern.
func TestSimpleFilePresenceMatchesBolt(t *testing.T) {
	keys := fixtureKeys(200)

	db := newBoltDB(t)
	if err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("crosscheck"))
		if err != nil {
			return err
		}
		for i, k := range keys {
			if err := b.Put(k, []byte{byte(i)}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("bolt populate: %v", err)
	}

	pool := membuf.New(4096)
	opts := bxfile.DefaultCreateOptions()
	bf, err := bxfile.CreateBTreeFile(pool, opts, bxfile.KindSimple, bxfile.BytesComparator{})
	if err != nil {
		t.Fatalf("CreateBTreeFile: %v", err)
	}
	for i, k := range keys {
		if err := bf.Insert(k, bxfile.RowID(i), false); err != nil {
			t.Fatalf("Insert(%x): %v", k, err)
		}
	}

	var deleted [][]byte
	var deletedRows []bxfile.RowID
	for i, k := range keys {
		if i%2 == 0 {
			deleted = append(deleted, k)
			deletedRows = append(deletedRows, bxfile.RowID(i))
		}
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("crosscheck"))
		for _, k := range deleted {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("bolt delete: %v", err)
	}
	for i, k := range deleted {
		if err := bf.Expunge(k, deletedRows[i], false); err != nil {
			t.Fatalf("Expunge(%x): %v", k, err)
		}
	}

	if err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("crosscheck"))
		for _, k := range deleted {
			if v := b.Get(k); v != nil {
				t.Fatalf("bolt still has deleted key %x", k)
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("bolt verify: %v", err)
	}

	for _, k := range deleted {
		rows, err := bf.Search(k, false)
		if err != nil {
			t.Fatalf("Search(%x): %v", k, err)
		}
		if len(rows) != 0 {
			t.Fatalf("engine still has deleted key %x: %v", k, rows)
		}
	}
}
