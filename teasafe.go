package knoxcrypt

import (
	"os"
	"strings"
)

// TeaSafe is the namespace root: one mounted image, one root CompoundFolder,
// and the allocator/bitmap/keystream machinery everything else in the
// namespace is built from. AddFile and AddFolder validate the new entry's
// path before doing anything else — deeper layers (CompoundFolder,
// LeafFolder, File) trust that their inputs have already been checked. The
// other methods only look names up, so a malformed path resolves to
// NotFoundError.
type TeaSafe struct {
	path      string
	img       *ImageStream
	bitmap    *VolumeBitmap
	builder   *FileBlockBuilder
	blockSize uint32
	blocks    uint64
	root      *CompoundFolder
}

const rootDisposition = ReadWrite

func defaultDisposition() OpenDisposition { return OpenDisposition{Access: rootDisposition} }

// cipherBufferSize resolves a Config's requested precompute size: zero
// selects DefaultCipherBuffer, a negative value disables precomputation by
// passing it through unchanged (NewByteTransformer treats anything <= 0 as
// "don't precompute"), and a positive value is used as-is.
func cipherBufferSize(requested int) int {
	if requested == 0 {
		return DefaultCipherBuffer
	}
	return requested
}

// CreateImage creates a brand-new image on disk and mounts it.
func CreateImage(cfg *Config) (*TeaSafe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Blocks == 0 {
		return nil, NewValidationError("blocks", cfg.Blocks, "block count must be greater than zero")
	}

	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	rounds := cfg.Rounds
	if rounds == 0 {
		rounds = DefaultRounds
	}
	iv, err := randomUint64()
	if err != nil {
		return nil, NewIOError("create", cfg.Path, err)
	}

	bt, err := NewByteTransformer(cfg.Password, iv, rounds, cipherBufferSize(cfg.CipherBufferSize), cfg.KeyProvider, cfg.Events)
	if err != nil {
		return nil, err
	}

	size := ImageSize(cfg.Blocks, blockSize)
	img, err := CreateImageStream(cfg.Path, size, bt)
	if err != nil {
		return nil, err
	}

	ivBuf := make([]byte, ivSize)
	putBeUint64(ivBuf, iv)
	if err := img.WritePlain(ivBuf, 0); err != nil {
		img.Close()
		return nil, err
	}
	if err := img.WritePlain([]byte{rounds}, ivSize); err != nil {
		img.Close()
		return nil, err
	}
	bcBuf := make([]byte, blockCountSize)
	putBeUint64(bcBuf, cfg.Blocks)
	if err := img.WriteAt(bcBuf, cipherRegionStart); err != nil {
		img.Close()
		return nil, err
	}

	bitmap := NewVolumeBitmap(cfg.Blocks)
	if err := img.WriteAt(bitmap.Bytes(), BitmapOffset()); err != nil {
		img.Close()
		return nil, err
	}

	builder := NewFileBlockBuilder(img, bitmap, cfg.Blocks, blockSize, defaultDisposition())
	root, err := NewCompoundFolderAt(builder, cfg.RootBlock, defaultDisposition())
	if err != nil {
		img.Close()
		return nil, err
	}
	if err := img.WriteAt(bitmap.Bytes(), BitmapOffset()); err != nil {
		img.Close()
		return nil, err
	}

	return &TeaSafe{path: cfg.Path, img: img, bitmap: bitmap, builder: builder, blockSize: blockSize, blocks: cfg.Blocks, root: root}, nil
}

// OpenImage mounts an existing image. cfg.BlockSize must match the value
// the image was created with — it is a mount parameter, not something
// persisted on disk, exactly like choosing a block size at mkfs time.
func OpenImage(cfg *Config) (*TeaSafe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, NewIOError("stat", cfg.Path, err)
	}

	prefix, err := os.Open(cfg.Path)
	if err != nil {
		return nil, NewIOError("open", cfg.Path, err)
	}
	rawPrefix := make([]byte, cipherRegionStart)
	_, err = prefix.ReadAt(rawPrefix, 0)
	prefix.Close()
	if err != nil {
		return nil, NewIOError("read", cfg.Path, err)
	}
	iv := beUint64(rawPrefix[0:ivSize])
	rounds := rawPrefix[ivSize]

	bt, err := NewByteTransformer(cfg.Password, iv, rounds, cipherBufferSize(cfg.CipherBufferSize), cfg.KeyProvider, cfg.Events)
	if err != nil {
		return nil, err
	}

	img, err := OpenImageStream(cfg.Path, bt)
	if err != nil {
		return nil, err
	}

	bcBuf := make([]byte, blockCountSize)
	if err := img.ReadAt(bcBuf, cipherRegionStart); err != nil {
		img.Close()
		return nil, err
	}
	blocks := beUint64(bcBuf)

	sb := &Superblock{IV: iv, Rounds: rounds, BlockCount: blocks}
	if err := sb.Validate(cfg.Path, info.Size(), blockSize); err != nil {
		img.Close()
		return nil, err
	}

	bitmapBuf := make([]byte, BitmapSize(blocks))
	if err := img.ReadAt(bitmapBuf, BitmapOffset()); err != nil {
		img.Close()
		return nil, err
	}
	bitmap, err := LoadVolumeBitmap(bitmapBuf, blocks)
	if err != nil {
		img.Close()
		return nil, NewCorruptImageError(cfg.Path, err.Error())
	}

	builder := NewFileBlockBuilder(img, bitmap, blocks, blockSize, defaultDisposition())
	root, err := OpenCompoundFolder(builder, cfg.RootBlock, defaultDisposition())
	if err != nil {
		img.Close()
		return nil, err
	}

	return &TeaSafe{path: cfg.Path, img: img, bitmap: bitmap, builder: builder, blockSize: blockSize, blocks: blocks, root: root}, nil
}

// syncBitmap flushes the in-memory bitmap to disk. Every caller that
// allocates or recycles a block must call this before returning, since the
// bitmap itself is held in memory for the life of the mount rather than
// being written through on every Set/Clear.
func (ts *TeaSafe) syncBitmap() error {
	return ts.img.WriteAt(ts.bitmap.Bytes(), BitmapOffset())
}

// Close flushes the bitmap and closes the underlying image.
func (ts *TeaSafe) Close() error {
	if err := ts.syncBitmap(); err != nil {
		return err
	}
	return ts.img.Close()
}

func (ts *TeaSafe) resolveFolder(parts []string) (*CompoundFolder, error) {
	cur := ts.root
	for _, name := range parts {
		e, ok, err := cur.FindByName(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, NewNotFoundError(name, "no such folder")
		}
		if e.Type != FolderEntry {
			return nil, NewNotFoundError(name, "not a folder")
		}
		cur, err = OpenCompoundFolder(ts.builder, e.FirstBlock, defaultDisposition())
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// AddFile creates a new, empty file at path.
func (ts *TeaSafe) AddFile(path string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	parts := SplitPath(path)
	parent, err := ts.resolveFolder(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]

	if _, ok, err := parent.FindByName(name); err != nil {
		return err
	} else if ok {
		return NewAlreadyExistsError(path)
	}

	f, err := CreateFile(ts.builder, defaultDisposition())
	if err != nil {
		return err
	}
	if _, err := parent.AddFile(name, f.StartBlock()); err != nil {
		return err
	}
	return ts.syncBitmap()
}

// AddFolder creates a new, empty folder at path.
func (ts *TeaSafe) AddFolder(path string) error {
	trimmed := strings.TrimSuffix(path, "/")
	if err := ValidateFolderPath(trimmed); err != nil {
		return err
	}
	parts := SplitPath(trimmed)
	parent, err := ts.resolveFolder(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]

	if _, ok, err := parent.FindByName(name); err != nil {
		return err
	} else if ok {
		return NewAlreadyExistsError(path)
	}

	sub, err := NewCompoundFolder(ts.builder, defaultDisposition())
	if err != nil {
		return err
	}
	if _, err := parent.AddFolder(name, sub.StartBlock()); err != nil {
		return err
	}
	return ts.syncBitmap()
}

// RemoveFile deletes a file and frees its blocks.
func (ts *TeaSafe) RemoveFile(path string) error {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return NewNotFoundError(path, "no such file")
	}
	parent, err := ts.resolveFolder(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]

	e, ok, err := parent.FindByName(name)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError(path, "no such file")
	}
	if e.Type != FileEntry {
		return NewNotFoundError(path, "is a folder")
	}

	f, err := OpenFile(ts.builder, e.FirstBlock, defaultDisposition())
	if err != nil {
		return err
	}
	if err := f.Unlink(); err != nil {
		return err
	}
	if err := parent.RemoveByName(name); err != nil {
		return err
	}
	return ts.syncBitmap()
}

// RemoveFolder deletes the folder at path and frees its metadata blocks.
// Under MustBeEmpty, a non-empty folder is rejected with
// FolderNotEmptyError. Under Recursive, every child file and folder is
// removed first, depth-first, then the folder itself — mirroring
// removeCompoundFolder's "recursive; first removes all children … then
// unlinks its backing file" contract.
func (ts *TeaSafe) RemoveFolder(path string, mode FolderRemovalType) error {
	trimmed := strings.TrimSuffix(path, "/")
	parts := SplitPath(trimmed)
	if len(parts) == 0 {
		return NewNotFoundError(path, "no such folder")
	}
	parent, err := ts.resolveFolder(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]

	e, ok, err := parent.FindByName(name)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError(path, "no such folder")
	}
	if e.Type != FolderEntry {
		return NewNotFoundError(path, "is a file")
	}

	target, err := OpenCompoundFolder(ts.builder, e.FirstBlock, defaultDisposition())
	if err != nil {
		return err
	}
	empty, err := target.IsEmpty()
	if err != nil {
		return err
	}
	if !empty {
		if mode != Recursive {
			return NewFolderNotEmptyError(path)
		}
		if err := ts.removeFolderContents(target); err != nil {
			return err
		}
	}
	if err := target.Unlink(); err != nil {
		return err
	}
	if err := parent.RemoveByName(name); err != nil {
		return err
	}
	return ts.syncBitmap()
}

// removeFolderContents depth-first unlinks every file and folder living
// inside folder, without touching folder's own backing chain — the caller
// unlinks that once this returns.
func (ts *TeaSafe) removeFolderContents(folder *CompoundFolder) error {
	entries, err := folder.ListAllEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type == FileEntry {
			f, err := OpenFile(ts.builder, e.FirstBlock, defaultDisposition())
			if err != nil {
				return err
			}
			if err := f.Unlink(); err != nil {
				return err
			}
			continue
		}
		child, err := OpenCompoundFolder(ts.builder, e.FirstBlock, defaultDisposition())
		if err != nil {
			return err
		}
		if err := ts.removeFolderContents(child); err != nil {
			return err
		}
		if err := child.Unlink(); err != nil {
			return err
		}
	}
	return nil
}

// RenameEntry moves the entry at oldPath to newPath, preserving its first
// block index — the entry's identity never changes, only which folder
// points at it. The destination entry is written before the source entry
// is cleared, so a crash between the two steps leaves the entry visible at
// both paths, each pointing at the same chain, until one is removed by hand.
func (ts *TeaSafe) RenameEntry(oldPath, newPath string) error {
	oldParts := SplitPath(oldPath)
	newParts := SplitPath(newPath)
	if len(oldParts) == 0 || len(newParts) == 0 {
		return NewNotFoundError(oldPath, "no such entry")
	}

	oldParent, err := ts.resolveFolder(oldParts[:len(oldParts)-1])
	if err != nil {
		return err
	}
	oldName := oldParts[len(oldParts)-1]
	e, ok, err := oldParent.FindByName(oldName)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError(oldPath, "no such entry")
	}

	newParent, err := ts.resolveFolder(newParts[:len(newParts)-1])
	if err != nil {
		return err
	}
	newName := newParts[len(newParts)-1]
	if _, ok, err := newParent.FindByName(newName); err != nil {
		return err
	} else if ok {
		return NewAlreadyExistsError(newPath)
	}

	if e.Type == FolderEntry {
		if _, err := newParent.AddFolder(newName, e.FirstBlock); err != nil {
			return err
		}
	} else {
		if _, err := newParent.AddFile(newName, e.FirstBlock); err != nil {
			return err
		}
	}
	if err := oldParent.RemoveByName(oldName); err != nil {
		return err
	}
	return ts.syncBitmap()
}

// GetInfo resolves path and describes what it points at.
func (ts *TeaSafe) GetInfo(path string) (EntryInfo, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return EntryInfo{}, NewNotFoundError(path, "no such entry")
	}
	parent, err := ts.resolveFolder(parts[:len(parts)-1])
	if err != nil {
		return EntryInfo{}, err
	}
	name := parts[len(parts)-1]
	e, ok, err := parent.FindByName(name)
	if err != nil {
		return EntryInfo{}, err
	}
	if !ok {
		return EntryInfo{}, NewNotFoundError(path, "no such entry")
	}

	info := EntryInfo{Filename: e.Name, Type: e.Type, FirstBlock: e.FirstBlock}
	if e.Type == FileEntry {
		size, err := chainSize(ts.builder, e.FirstBlock)
		if err != nil {
			return EntryInfo{}, err
		}
		info.Size = uint64(size)
	}
	return info, nil
}

// FileExists reports whether path names a live file.
func (ts *TeaSafe) FileExists(path string) bool {
	info, err := ts.GetInfo(path)
	return err == nil && info.Type == FileEntry
}

// FolderExists reports whether path names a live folder.
func (ts *TeaSafe) FolderExists(path string) bool {
	info, err := ts.GetInfo(path)
	return err == nil && info.Type == FolderEntry
}

// OpenFile resolves path and opens its content for reading and/or writing
// under the given disposition.
func (ts *TeaSafe) OpenFile(path string, disposition OpenDisposition) (*File, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil, NewNotFoundError(path, "no such file")
	}
	parent, err := ts.resolveFolder(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	name := parts[len(parts)-1]
	e, ok, err := parent.FindByName(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewNotFoundError(path, "no such file")
	}
	if e.Type != FileEntry {
		return nil, NewNotFoundError(path, "is a folder")
	}
	return OpenFile(ts.builder, e.FirstBlock, disposition)
}

// TruncateFile resizes the file at path.
func (ts *TeaSafe) TruncateFile(path string, size int64) error {
	f, err := ts.OpenFile(path, defaultDisposition())
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		return err
	}
	return ts.syncBitmap()
}

// ListFolder lists the direct children of the folder at path.
func (ts *TeaSafe) ListFolder(path string) ([]DirEntry, error) {
	trimmed := strings.TrimSuffix(path, "/")
	folder := ts.root
	if trimmed != "" {
		parts := SplitPath(trimmed)
		var err error
		folder, err = ts.resolveFolder(parts)
		if err != nil {
			return nil, err
		}
	}
	return folder.ListAllEntries()
}

// StatVFS reports the image's current capacity and usage. Files/Ffree/
// Favail mirror Blocks/Bfree/Bavail since knoxcrypt has no notion of an
// inode distinct from a block — a file's identity is just its first block
// index, per the statvfs fields defined in the original TeaSafe.cpp.
func (ts *TeaSafe) StatVFS() StatVFS {
	free := ts.bitmap.CountFree()
	return StatVFS{
		Bsize:   uint64(ts.blockSize),
		Blocks:  ts.blocks,
		Bfree:   free,
		Bavail:  free,
		Files:   ts.blocks,
		Ffree:   free,
		Favail:  free,
		Namemax: MaxFilenameLength,
	}
}
