package knoxcrypt

import "io"

// DirEntry is one decoded metadata slot inside a LeafFolder.
type DirEntry struct {
	Slot       uint32
	Name       string
	Type       EntryType
	FirstBlock uint64
}

// LeafFolder is a folder's metadata store: an entry count header followed
// by fixed-width slots, each either a live file/folder entry or a
// recyclable hole left by a removal. It is itself just a File — the block
// chain that holds its content — so opening, growing and truncating a
// folder's metadata reuses exactly the same machinery as an ordinary file.
type LeafFolder struct {
	file       *File
	entryCount uint32
}

// leafFolderHeaderSize is the width of the entry-count header: an 8-byte
// big-endian uint64, per spec.md §3/§4.7.
const leafFolderHeaderSize = 8

// NewLeafFolder allocates a new, empty metadata chain.
func NewLeafFolder(builder *FileBlockBuilder) (*LeafFolder, error) {
	f, err := CreateFile(builder, OpenDisposition{Access: ReadWrite})
	if err != nil {
		return nil, err
	}
	lf := &LeafFolder{file: f}
	if err := lf.writeHeader(); err != nil {
		return nil, err
	}
	return lf, nil
}

// NewLeafFolderAt allocates a new metadata chain at a forced block index,
// used for the root folder (and decoy alternative roots) rather than the
// normal free-list allocation.
func NewLeafFolderAt(builder *FileBlockBuilder, index uint64) (*LeafFolder, error) {
	b, err := builder.AllocateAt(index)
	if err != nil {
		return nil, err
	}
	lf := &LeafFolder{file: &File{builder: builder, startBlock: b.Index(), disposition: OpenDisposition{Access: ReadWrite}}}
	if err := lf.writeHeader(); err != nil {
		return nil, err
	}
	return lf, nil
}

// OpenLeafFolder opens an existing metadata chain at startBlock.
func OpenLeafFolder(builder *FileBlockBuilder, startBlock uint64, disposition OpenDisposition) (*LeafFolder, error) {
	f, err := OpenFile(builder, startBlock, disposition)
	if err != nil {
		return nil, err
	}
	lf := &LeafFolder{file: f}
	if err := lf.readHeader(); err != nil {
		return nil, err
	}
	return lf, nil
}

// StartBlock returns the first block of this folder's metadata chain.
func (lf *LeafFolder) StartBlock() uint64 { return lf.file.StartBlock() }

// EntryCount returns the number of slots ever allocated, including holes
// left by removed entries.
func (lf *LeafFolder) EntryCount() uint32 { return lf.entryCount }

func (lf *LeafFolder) readHeader() error {
	if _, err := lf.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, leafFolderHeaderSize)
	if lf.file.Size() >= leafFolderHeaderSize {
		if _, err := io.ReadFull(lf.file, buf); err != nil {
			return err
		}
	}
	lf.entryCount = uint32(beUint64(buf))
	return nil
}

func (lf *LeafFolder) writeHeader() error {
	if _, err := lf.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, leafFolderHeaderSize)
	putBeUint64(buf, uint64(lf.entryCount))
	_, err := lf.file.Write(buf)
	return err
}

func slotOffset(slot uint32) int64 {
	return leafFolderHeaderSize + int64(slot)*EntryWidth
}

// findRecyclable returns the first slot whose in-use flag is clear, if
// any, matching the open question 2 decision that a hole left by a
// removal is reused ahead of growing the chain with a brand-new slot.
func (lf *LeafFolder) findRecyclable() (uint32, bool, error) {
	for slot := uint32(0); slot < lf.entryCount; slot++ {
		e, err := lf.readSlot(slot)
		if err != nil {
			return 0, false, err
		}
		if !e.inUse {
			return slot, true, nil
		}
	}
	return 0, false, nil
}

type rawSlot struct {
	inUse      bool
	isFolder   bool
	name       string
	firstBlock uint64
}

func (lf *LeafFolder) readSlot(slot uint32) (rawSlot, error) {
	if _, err := lf.file.Seek(slotOffset(slot), io.SeekStart); err != nil {
		return rawSlot{}, err
	}
	buf := make([]byte, EntryWidth)
	if _, err := io.ReadFull(lf.file, buf); err != nil {
		return rawSlot{}, err
	}
	return decodeSlot(buf), nil
}

func (lf *LeafFolder) writeSlot(slot uint32, r rawSlot) error {
	if _, err := lf.file.Seek(slotOffset(slot), io.SeekStart); err != nil {
		return err
	}
	_, err := lf.file.Write(encodeSlot(r))
	return err
}

func encodeSlot(r rawSlot) []byte {
	buf := make([]byte, EntryWidth)
	var flags byte
	if r.inUse {
		flags |= EntryFlagInUse
	}
	if r.isFolder {
		flags |= EntryFlagFolder
	}
	buf[0] = flags
	copy(buf[1:1+MaxFilenameLength], r.name)
	putBeUint64(buf[1+MaxFilenameLength:], r.firstBlock)
	return buf
}

func decodeSlot(buf []byte) rawSlot {
	flags := buf[0]
	nameBytes := buf[1 : 1+MaxFilenameLength]
	end := 0
	for end < len(nameBytes) && nameBytes[end] != 0 {
		end++
	}
	return rawSlot{
		inUse:      flags&EntryFlagInUse != 0,
		isFolder:   flags&EntryFlagFolder != 0,
		name:       string(nameBytes[:end]),
		firstBlock: beUint64(buf[1+MaxFilenameLength:]),
	}
}

// AddEntry records a new file or folder entry, reusing a recycled slot
// when one is available.
func (lf *LeafFolder) AddEntry(name string, et EntryType, firstBlock uint64) (uint32, error) {
	slot, reused, err := lf.findRecyclable()
	if err != nil {
		return 0, err
	}
	if !reused {
		slot = lf.entryCount
		lf.entryCount++
		if err := lf.writeHeader(); err != nil {
			return 0, err
		}
	}
	r := rawSlot{inUse: true, isFolder: et == FolderEntry, name: name, firstBlock: firstBlock}
	if err := lf.writeSlot(slot, r); err != nil {
		return 0, err
	}
	return slot, nil
}

// RemoveEntry clears a slot's in-use flag, leaving it recyclable.
func (lf *LeafFolder) RemoveEntry(slot uint32) error {
	if slot >= lf.entryCount {
		return NewNotFoundError("", "no such entry slot")
	}
	return lf.writeSlot(slot, rawSlot{})
}

// FindByName returns the first live entry matching name.
func (lf *LeafFolder) FindByName(name string) (DirEntry, bool, error) {
	for slot := uint32(0); slot < lf.entryCount; slot++ {
		r, err := lf.readSlot(slot)
		if err != nil {
			return DirEntry{}, false, err
		}
		if r.inUse && r.name == name {
			return toFolderEntry(slot, r), true, nil
		}
	}
	return DirEntry{}, false, nil
}

// ListEntries returns every live entry in slot order.
func (lf *LeafFolder) ListEntries() ([]DirEntry, error) {
	var out []DirEntry
	for slot := uint32(0); slot < lf.entryCount; slot++ {
		r, err := lf.readSlot(slot)
		if err != nil {
			return nil, err
		}
		if r.inUse {
			out = append(out, toFolderEntry(slot, r))
		}
	}
	return out, nil
}

// LiveCount returns the number of currently in-use entries (as opposed to
// EntryCount, which also counts recyclable holes).
func (lf *LeafFolder) LiveCount() (int, error) {
	entries, err := lf.ListEntries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func toFolderEntry(slot uint32, r rawSlot) DirEntry {
	t := FileEntry
	if r.isFolder {
		t = FolderEntry
	}
	return DirEntry{Slot: slot, Name: r.name, Type: t, FirstBlock: r.firstBlock}
}
