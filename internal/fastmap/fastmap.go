// Package fastmap implements a fibonacci-hashed open-addressing table
// keyed by page number. It exists for membuf.Pool's in-memory page
// directory: the overwhelmingly sequential page-number traffic this
// module's allocator produces (groups of pages handed out table at a
// time, §4.1) is exactly the case fibonacci hashing spreads well, and
// avoiding a built-in map sidesteps its per-entry allocation for what
// is, in practice, a single long-lived directory sized once and then
// read far more than it is written.
package fastmap

// Entry is the value stored per page number: the buffer-pool-owned
// byte slice backing that page's contents. PageTable stores *Entry
// directly rather than boxing it behind an unsafe.Pointer — its only
// caller, membuf.Pool, never needs to store anything else.
type Entry struct {
	Data []byte
}

// PageTable is a fast hash map from a page number to its *Entry.
// Open addressing with linear probing and fibonacci hashing.
type PageTable struct {
	buckets []pageBucket
	count   int
	mask    uint32
}

type pageBucket struct {
	pgno  uint32
	entry *Entry
	used  bool // needed because pgno==0 is itself a valid page number
}

// Fibonacci hash constant: 2^32 / golden ratio.
const fibHash32 = 2654435769

func (m *PageTable) hash(pgno uint32) uint32 {
	return pgno * fibHash32
}

// Get returns the entry fixed for pgno, or nil if it has never been
// allocated or read into the pool.
func (m *PageTable) Get(pgno uint32) *Entry {
	if len(m.buckets) == 0 {
		return nil
	}
	h := m.hash(pgno)
	idx := h & m.mask
	for {
		b := &m.buckets[idx]
		if !b.used {
			return nil
		}
		if b.pgno == pgno {
			return b.entry
		}
		idx = (idx + 1) & m.mask
	}
}

// Set records entry as pgno's current page body.
func (m *PageTable) Set(pgno uint32, entry *Entry) {
	if len(m.buckets) == 0 {
		m.buckets = make([]pageBucket, 16)
		m.mask = 15
	} else if m.count >= len(m.buckets)*3/4 {
		m.grow()
	}

	h := m.hash(pgno)
	idx := h & m.mask
	for {
		b := &m.buckets[idx]
		if !b.used {
			b.pgno = pgno
			b.entry = entry
			b.used = true
			m.count++
			return
		}
		if b.pgno == pgno {
			b.entry = entry
			return
		}
		idx = (idx + 1) & m.mask
	}
}

// grow doubles the table size.
func (m *PageTable) grow() {
	old := m.buckets
	m.buckets = make([]pageBucket, len(old)*2)
	m.mask = uint32(len(m.buckets) - 1)
	m.count = 0

	for i := range old {
		if old[i].used {
			m.Set(old[i].pgno, old[i].entry)
		}
	}
}

// ForEach iterates over every (page number, entry) pair. Order is
// bucket order, not page-number order.
func (m *PageTable) ForEach(fn func(pgno uint32, entry *Entry)) {
	for i := range m.buckets {
		if m.buckets[i].used {
			fn(m.buckets[i].pgno, m.buckets[i].entry)
		}
	}
}

// Clear removes every entry but keeps the backing array, matching
// membuf's own behavior on a Pool it wants to reuse.
func (m *PageTable) Clear() {
	clear(m.buckets)
	m.count = 0
}

// Len returns the number of pages currently tracked.
func (m *PageTable) Len() int {
	return m.count
}
