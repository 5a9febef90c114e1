// Package membuf is an in-memory reference implementation of
// bufpool.Pool. It exists so the rest of this module — and its tests —
// can exercise the full B+-tree and area-manage-file engine without a
// real durable buffer pool. It is grounded on the page-struct pooling
// (sync.Pool) pattern the teacher's buffer layer uses and on
// internal/fastmap for its page table.
//
// membuf provides no durability whatsoever: Flush/Sync are no-ops and
// process exit loses all data. A production embedding supplies its own
// bufpool.Pool backed by memory-mapped I/O and a write-ahead log.
package membuf

import (
	"sync"

	"github.com/diskbtree/bxfile/bufpool"
	"github.com/diskbtree/bxfile/internal/fastmap"
)

// Pool is an in-memory bufpool.Pool. The zero value is not usable; use
// New.
type Pool struct {
	mu       sync.Mutex
	pageSize int
	pages    fastmap.PageTable
	nextPgno uint32

	bufPool sync.Pool // recycles zeroed page buffers
}

// New creates an empty in-memory pool with the given fixed page size.
func New(pageSize int) *Pool {
	p := &Pool{
		pageSize: pageSize,
	}
	p.bufPool.New = func() any {
		return make([]byte, p.pageSize)
	}
	return p
}

func (p *Pool) lookup(pgno uint32) ([]byte, bool) {
	e := p.pages.Get(pgno)
	if e == nil {
		return nil, false
	}
	return e.Data, true
}

func (p *Pool) store(pgno uint32, data []byte) {
	p.pages.Set(pgno, &fastmap.Entry{Data: data})
}

func (p *Pool) PageSize() int { return p.pageSize }

func (p *Pool) HighWaterMark() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextPgno
}

func (p *Pool) Flush() error { return nil }

func (p *Pool) Sync() (incomplete bool, modified bool, err error) { return false, false, nil }

// Fix implements bufpool.Pool.
func (p *Pool) Fix(pgno uint32, mode bufpool.FixMode) (bufpool.Ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if mode == bufpool.Allocate {
		pgno = p.nextPgno
		p.nextPgno++
		buf := p.bufPool.Get().([]byte)
		for i := range buf {
			buf[i] = 0
		}
		p.store(pgno, buf)
		return &ref{pool: p, pgno: pgno, data: buf, mode: mode}, nil
	}

	data, ok := p.lookup(pgno)
	if !ok {
		// Read of a never-written page returns a zeroed buffer without
		// advancing the high-water mark; this matches a sparse file
		// read past EOF.
		data = make([]byte, p.pageSize)
	}

	switch mode {
	case bufpool.ReadOnly:
		return &ref{pool: p, pgno: pgno, data: data, mode: mode}, nil
	case bufpool.Write, bufpool.DiscardableWrite:
		// Discardable-write fixes snapshot the previous bytes so that
		// Unfix(discard=true) can restore them without the caller
		// tracking any undo state itself.
		var snapshot []byte
		if mode == bufpool.DiscardableWrite {
			snapshot = append([]byte(nil), data...)
		}
		return &ref{pool: p, pgno: pgno, data: data, mode: mode, snapshot: snapshot}, nil
	default:
		return nil, errUnknownMode
	}
}

type ref struct {
	pool     *Pool
	pgno     uint32
	data     []byte
	mode     bufpool.FixMode
	snapshot []byte
}

func (r *ref) Bytes() []byte  { return r.data }
func (r *ref) PageID() uint32 { return r.pgno }

func (r *ref) Unfix(discard bool) error {
	if discard && r.snapshot != nil {
		r.pool.mu.Lock()
		if data, ok := r.pool.lookup(r.pgno); ok {
			copy(data, r.snapshot)
		}
		r.pool.mu.Unlock()
	}
	return nil
}

var errUnknownMode = &poolError{"unknown fix mode"}

type poolError struct{ msg string }

func (e *poolError) Error() string { return "membuf: " + e.msg }
