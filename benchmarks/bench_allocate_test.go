// Package benchmarks compares this module's physical-file allocator
// against a real embedded store's block allocation path under
// equivalent load, the same role the teacher's bench_cache.go plays
// comparing gdbx against RocksDB/bbolt/mdbx-go.
package benchmarks

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/tecbot/gorocksdb"

	bxfile "github.com/diskbtree/bxfile"
	"github.com/diskbtree/bxfile/membuf"
)

func newRocksDB(b *testing.B) (*gorocksdb.DB, func()) {
	b.Helper()
	dir, err := os.MkdirTemp("", "bxfile-bench-rocks-*")
	if err != nil {
		b.Fatal(err)
	}
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetWriteBufferSize(64 * 1024 * 1024)
	db, err := gorocksdb.OpenDb(opts, filepath.Join(dir, "bench.rocks"))
	if err != nil {
		b.Fatal(err)
	}
	return db, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

// BenchmarkAreaFileAllocatePage measures this engine's page-allocate
// path (§4.1 "allocate_page"): new pages appended, then recycled
// through free/allocate cycles once the free list is populated.
func BenchmarkAreaFileAllocatePage(b *testing.B) {
	pool := membuf.New(4096)
	af, err := bxfile.Create(pool, bxfile.DefaultCreateOptions())
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	ids := make([]bxfile.PageID, 0, b.N)
	for i := 0; i < b.N; i++ {
		id, err := af.AllocatePage(100)
		if err != nil {
			b.Fatal(err)
		}
		ids = append(ids, id)
	}
}

// BenchmarkRocksDBPut measures gorocksdb's equivalent write-path cost
// (a batched Put, RocksDB's own block/page allocation happening
// underneath) as the comparison point for the allocator benchmark
// above. Not a like-for-like API (RocksDB has no page-id concept) —
// the comparison is about relative per-operation cost of handing the
// caller a fresh piece of backing storage.
func BenchmarkRocksDBPut(b *testing.B) {
	db, cleanup := newRocksDB(b)
	defer cleanup()

	wo := gorocksdb.NewDefaultWriteOptions()
	defer wo.Destroy()

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		if err := db.Put(wo, key, val); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkAreaFileSearchFreePage measures the bounded-probe free-page
// search (§4.1) once the file has a realistic number of partially-free
// pages to scan, against gorocksdb's iterator-driven key lookup as the
// comparison point for "find me a place to put the next record".
func BenchmarkAreaFileSearchFreePage(b *testing.B) {
	pool := membuf.New(4096)
	af, err := bxfile.Create(pool, bxfile.DefaultCreateOptions())
	if err != nil {
		b.Fatal(err)
	}
	const seedPages = 2000
	for i := 0; i < seedPages; i++ {
		if _, err := af.AllocatePage(60); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		af.SearchFreePage(256, bxfile.PageID(i%seedPages), true, 1)
	}
}

// BenchmarkRocksDBGet is the RocksDB-side comparison point for
// BenchmarkAreaFileSearchFreePage: a point lookup against a populated
// database.
func BenchmarkRocksDBGet(b *testing.B) {
	db, cleanup := newRocksDB(b)
	defer cleanup()

	wo := gorocksdb.NewDefaultWriteOptions()
	defer wo.Destroy()
	ro := gorocksdb.NewDefaultReadOptions()
	defer ro.Destroy()

	const seedKeys = 2000
	key := make([]byte, 8)
	val := make([]byte, 32)
	for i := 0; i < seedKeys; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		if err := db.Put(wo, key, val); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(i%seedKeys))
		v, err := db.Get(ro, key)
		if err != nil {
			b.Fatal(err)
		}
		v.Free()
	}
}
