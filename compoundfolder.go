package knoxcrypt

import (
	"fmt"
	"strings"
)

// indexName formats the synthetic folder-entry name CompoundFolder uses to
// chain an overflow bucket onto the primary one. n starts at 1 — the
// primary bucket itself (n == 0) never gets a synthetic entry, since it is
// addressed directly by the folder's own first-block index.
func indexName(n int) string { return fmt.Sprintf("index_%d", n) }

func isIndexName(name string) bool { return strings.HasPrefix(name, "index_") }

// hasSpace reports whether bucket can accept one more live entry: either
// it has never filled its ContentSize quota of slots, or a removal has
// left a recyclable hole inside that quota. This is the open question 2
// decision — both branches matter and are exercised in compoundfolder_test.go.
func hasSpace(bucket *LeafFolder) (bool, error) {
	if bucket.EntryCount() < ContentSize {
		return true, nil
	}
	_, ok, err := bucket.findRecyclable()
	return ok, err
}

// CompoundFolder is a namespace folder's content: a primary LeafFolder
// plus, once it fills past ContentSize live entries, a chain of overflow
// "bucket" LeafFolders linked in via synthetic index_<n> entries stored in
// the primary bucket. To callers it behaves like a single folder; the
// sharding is invisible outside this file.
type CompoundFolder struct {
	builder     *FileBlockBuilder
	disposition OpenDisposition
	buckets     []*LeafFolder
}

// NewCompoundFolder allocates a brand-new, empty folder.
func NewCompoundFolder(builder *FileBlockBuilder, disposition OpenDisposition) (*CompoundFolder, error) {
	primary, err := NewLeafFolder(builder)
	if err != nil {
		return nil, err
	}
	return &CompoundFolder{builder: builder, disposition: disposition, buckets: []*LeafFolder{primary}}, nil
}

// NewCompoundFolderAt allocates a new folder at a forced block index — the
// root folder is always created this way (index 0), and a decoy
// alternative root volume uses it at a caller-chosen index.
func NewCompoundFolderAt(builder *FileBlockBuilder, index uint64, disposition OpenDisposition) (*CompoundFolder, error) {
	primary, err := NewLeafFolderAt(builder, index)
	if err != nil {
		return nil, err
	}
	return &CompoundFolder{builder: builder, disposition: disposition, buckets: []*LeafFolder{primary}}, nil
}

// OpenCompoundFolder opens an existing folder rooted at startBlock,
// discovering and loading any overflow buckets by following its index_<n>
// chain.
func OpenCompoundFolder(builder *FileBlockBuilder, startBlock uint64, disposition OpenDisposition) (*CompoundFolder, error) {
	primary, err := OpenLeafFolder(builder, startBlock, disposition)
	if err != nil {
		return nil, err
	}
	cf := &CompoundFolder{builder: builder, disposition: disposition, buckets: []*LeafFolder{primary}}

	for n := 1; ; n++ {
		e, ok, err := primary.FindByName(indexName(n))
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		bucket, err := OpenLeafFolder(builder, e.FirstBlock, disposition)
		if err != nil {
			return nil, err
		}
		cf.buckets = append(cf.buckets, bucket)
	}
	return cf, nil
}

// StartBlock returns the folder's identity: its primary bucket's first
// block index.
func (cf *CompoundFolder) StartBlock() uint64 { return cf.buckets[0].StartBlock() }

func (cf *CompoundFolder) addBucket() (*LeafFolder, error) {
	bucket, err := NewLeafFolder(cf.builder)
	if err != nil {
		return nil, err
	}
	n := len(cf.buckets)
	if _, err := cf.buckets[0].AddEntry(indexName(n), FolderEntry, bucket.StartBlock()); err != nil {
		return nil, err
	}
	cf.buckets = append(cf.buckets, bucket)
	return bucket, nil
}

func (cf *CompoundFolder) addEntry(name string, et EntryType, firstBlock uint64) (uint32, error) {
	if isIndexName(name) {
		return 0, NewIllegalFilenameError(name, "name is reserved for internal bucket chaining")
	}
	for _, bucket := range cf.buckets {
		ok, err := hasSpace(bucket)
		if err != nil {
			return 0, err
		}
		if ok {
			return bucket.AddEntry(name, et, firstBlock)
		}
	}
	bucket, err := cf.addBucket()
	if err != nil {
		return 0, err
	}
	return bucket.AddEntry(name, et, firstBlock)
}

// AddFile records a new file entry.
func (cf *CompoundFolder) AddFile(name string, firstBlock uint64) (uint32, error) {
	return cf.addEntry(name, FileEntry, firstBlock)
}

// AddFolder records a new sub-folder entry.
func (cf *CompoundFolder) AddFolder(name string, firstBlock uint64) (uint32, error) {
	return cf.addEntry(name, FolderEntry, firstBlock)
}

// FindByName looks up a live entry across every bucket.
func (cf *CompoundFolder) FindByName(name string) (DirEntry, bool, error) {
	if isIndexName(name) {
		return DirEntry{}, false, nil
	}
	for _, bucket := range cf.buckets {
		e, ok, err := bucket.FindByName(name)
		if err != nil {
			return DirEntry{}, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return DirEntry{}, false, nil
}

// RemoveByName clears the first live entry matching name. If that leaves a
// trailing overflow bucket with no live entries, the bucket is unlinked and
// dropped from the primary bucket's index_<n> chain, per §4.8's "if the
// bucket's entry count falls to 0, drop it from the parent LeafFolder."
// Only a trailing bucket is ever dropped — removing one from the middle
// would require renumbering every index_<n> entry after it, which the
// on-disk format has no atomic way to do.
func (cf *CompoundFolder) RemoveByName(name string) error {
	for i, bucket := range cf.buckets {
		e, ok, err := bucket.FindByName(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := bucket.RemoveEntry(e.Slot); err != nil {
			return err
		}
		return cf.dropEmptyTrailingBucket(i)
	}
	return NewNotFoundError(name, "no such entry")
}

// dropEmptyTrailingBucket unlinks and drops the last overflow bucket if it
// has gone empty, cascading inward while the new tail is also empty and
// not the primary bucket.
func (cf *CompoundFolder) dropEmptyTrailingBucket(touched int) error {
	if touched != len(cf.buckets)-1 {
		return nil
	}
	for len(cf.buckets) > 1 {
		last := cf.buckets[len(cf.buckets)-1]
		count, err := last.LiveCount()
		if err != nil {
			return err
		}
		if count != 0 {
			return nil
		}
		if err := last.file.Unlink(); err != nil {
			return err
		}
		n := len(cf.buckets) - 1
		indexEntry, ok, err := cf.buckets[0].FindByName(indexName(n))
		if err != nil {
			return err
		}
		if ok {
			if err := cf.buckets[0].RemoveEntry(indexEntry.Slot); err != nil {
				return err
			}
		}
		cf.buckets = cf.buckets[:n]
	}
	return nil
}

// ListAllEntries returns every live file and folder entry across all
// buckets, in bucket order, with the internal index_<n> chaining entries
// filtered out.
func (cf *CompoundFolder) ListAllEntries() ([]DirEntry, error) {
	var out []DirEntry
	for _, bucket := range cf.buckets {
		entries, err := bucket.ListEntries()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !isIndexName(e.Name) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// IsEmpty reports whether the folder has no live entries.
func (cf *CompoundFolder) IsEmpty() (bool, error) {
	entries, err := cf.ListAllEntries()
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Unlink frees every block belonging to this folder's own metadata
// chains — its primary bucket and any overflow buckets. It does not touch
// the folder's children; callers call this only once the folder is empty
// or its children's chains have already been freed.
func (cf *CompoundFolder) Unlink() error {
	for _, bucket := range cf.buckets {
		if err := bucket.file.Unlink(); err != nil {
			return err
		}
	}
	return nil
}
