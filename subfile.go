package bxfile

import "github.com/diskbtree/bxfile/bufpool"

// subfile.go: the Unique variant's deleted-key sub-file. A Unique
// file's vacuum (verify.go) hard-removes tombstoned entries once no
// transaction can still see them, but a hard removal loses the
// evidence a concurrent investigation or recovery tool might want —
// "was row R ever indexed under key K, and when was it removed". The
// sub-file is a second, ordinary Simple B+-tree file, opened beside the
// live one, that records (key, row) pairs as they are permanently
// reclaimed (§4.6 "Unique", §4.8 vacuum).
//
// It carries no uniqueness constraint of its own: the same key may be
// deleted and reinserted many times over a file's life, and every
// reclaim appends a fresh record rather than overwriting the last one.

// DeletedSubFile is the audit trail a Unique BTreeFile's vacuum writes
// to when it hard-removes a tombstoned entry.
type DeletedSubFile struct {
	inner *BTreeFile
	seq   uint64
}

// CreateDeletedSubFile formats a brand-new sub-file on pool.
func CreateDeletedSubFile(pool bufpool.Pool, opts CreateOptions, cmp Comparator) (*DeletedSubFile, error) {
	inner, err := CreateBTreeFile(pool, opts, KindSimple, cmp)
	if err != nil {
		return nil, err
	}
	return &DeletedSubFile{inner: inner}, nil
}

// MountDeletedSubFile attaches to an existing sub-file.
func MountDeletedSubFile(pool bufpool.Pool, cmp Comparator) (*DeletedSubFile, error) {
	inner, err := MountBTreeFile(pool, cmp)
	if err != nil {
		return nil, err
	}
	return &DeletedSubFile{inner: inner}, nil
}

// Record appends one reclaim event. The sub-file's own key schema
// matches the live file's (so the same Comparator is reused), but
// since it is never searched by key equality for the purpose of
// uniqueness — only scanned for audit — colliding keys simply coexist
// as distinct Simple entries.
func (d *DeletedSubFile) Record(key []byte, row RowID) error {
	d.seq++
	return d.inner.Insert(key, row, false)
}

// Lookup returns every row ever recorded as reclaimed under key.
func (d *DeletedSubFile) Lookup(key []byte) ([]RowID, error) {
	return d.inner.Search(key, false)
}

func (d *DeletedSubFile) Flush() error { return d.inner.Close() }
