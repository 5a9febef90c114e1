// Package bufpool specifies the contract of the versioned page buffer
// that this module's engine is built on top of. The buffer pool itself —
// memory-mapped I/O, durability, crash recovery, MVCC snapshotting — is
// out of scope for this repository (it is an external collaborator);
// only the interface the engine needs from it is specified here.
package bufpool

import "fmt"

// FixMode selects how a page is fixed (pinned) for the duration of an
// operation.
type FixMode int

const (
	// ReadOnly fixes a page for reading; writes through the returned
	// Ref are not guaranteed to be observed by other fixes.
	ReadOnly FixMode = iota

	// Write fixes a page for reading and writing; the write is durable
	// once the owning transaction commits.
	Write

	// DiscardableWrite fixes a page for reading and writing such that,
	// if the enclosing transaction rolls back, the buffer pool
	// discards the dirty version and re-reads the previous one. This
	// is the mode every allocator and rebalance mutation uses (§4.1,
	// §4.2, §5).
	DiscardableWrite

	// Allocate fixes a brand-new page (appended past the current
	// high-water mark), zero-initialized, for writing.
	Allocate
)

func (m FixMode) String() string {
	switch m {
	case ReadOnly:
		return "ReadOnly"
	case Write:
		return "Write"
	case DiscardableWrite:
		return "DiscardableWrite"
	case Allocate:
		return "Allocate"
	default:
		return fmt.Sprintf("FixMode(%d)", int(m))
	}
}

// Ref is a fixed (pinned) page. Bytes is valid only between Fix and
// Unfix; callers must not retain it past Unfix.
type Ref interface {
	// Bytes returns the page's raw contents. For a read-only fix the
	// slice must not be mutated.
	Bytes() []byte

	// PageID returns the versioned page number this ref pins.
	PageID() uint32

	// Unfix releases the pin. For a Write/DiscardableWrite/Allocate fix,
	// Unfix(discard=true) asks the pool to drop the in-progress write
	// instead of making it visible — this is how a rolled-back mutation
	// is undone without the engine tracking undo state itself.
	Unfix(discard bool) error
}

// Pool is the subset of buffer-pool operations this engine consumes. A
// real implementation backs it with memory-mapped I/O, write-ahead
// logging and MVCC snapshot isolation; membuf.Pool is an in-memory
// reference implementation adequate for tests and embedding.
type Pool interface {
	// Fix pins the page pgno in the given mode. For mode == Allocate,
	// pgno is ignored and a fresh page number is assigned.
	Fix(pgno uint32, mode FixMode) (Ref, error)

	// PageSize returns the fixed page size this pool was created with.
	PageSize() int

	// HighWaterMark returns one past the greatest page number ever
	// handed out by Allocate.
	HighWaterMark() uint32

	// Flush forces all dirty pages fixed by committed writers to
	// stable storage.
	Flush() error

	// Sync is Flush plus whatever additional fsync-equivalent the
	// concrete pool needs; incomplete/modified mirror the out-params
	// of the canonical sync(in-out incomplete, modified) operation
	// (§6): the pool reports whether work remains and whether anything
	// was written.
	Sync() (incomplete bool, modified bool, err error)
}
