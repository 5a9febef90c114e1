// Package bxfile implements a disk-resident, transactional B+-tree used as
// a secondary index inside a relational database, together with the
// free-space-managed physical file layer it is built on.
//
// Two collaborating subsystems live here:
//
//   - The area-manage file: a page allocator and two-level free-space
//     index (file header + area-rate tables) that lets the B+-tree
//     allocate and free variable-sized areas inside fixed-size pages
//     without a linear scan of the file.
//   - The B+-tree file, in three variants (Simple, Multi, Unique) that
//     share a common page/rebalance skeleton but differ in how they
//     handle NULL key fields and row visibility after delete.
//
// This package does not itself perform I/O or durability: callers supply
// a bufpool.Pool implementation (the versioned page buffer) and, for the
// Unique variant's vacuum, a txnctl.LockManager (the transaction
// manager's row-lock facility). The membuf package provides an in-memory
// bufpool.Pool suitable for tests and for embedding this engine without
// a full buffer-pool implementation.
//
// Basic usage:
//
//	pool := membuf.New(4096)
//	f, err := bxfile.CreateBTreeFile(pool, bxfile.DefaultCreateOptions(),
//	        bxfile.KindSimple, bxfile.BytesComparator{})
//	if err != nil {
//	        log.Fatal(err)
//	}
//	defer f.Close()
//
//	if err := f.Insert(encodedKey, rowID, false); err != nil {
//	        log.Fatal(err)
//	}
//
//	c := bxfile.NewCursor(f, nil)
//	if err := c.Search(bxfile.Condition{}, false); err != nil {
//	        log.Fatal(err)
//	}
//	for {
//	        key, rowID, ok, err := c.Get()
//	        if err != nil {
//	                log.Fatal(err)
//	        }
//	        if !ok {
//	                break
//	        }
//	        _ = key
//	        _ = rowID
//	}
package bxfile
