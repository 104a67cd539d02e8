package knoxcrypt

import "encoding/binary"

// FileBlock is one fixed-size slot in the block area: a small header
// (bytesWritten, nextIndex) immediately followed by a payload of
// blockSize-FileBlockMeta bytes. Every header write is flushed to the
// image immediately — there is no separate "dirty" flag for the header,
// only for the file-level view built on top of a chain of blocks.
type FileBlock struct {
	index        uint64
	img          *ImageStream
	totalBlocks  uint64
	blockSize    uint32
	disposition  OpenDisposition
	bytesWritten uint32
	nextIndex    uint64
}

func (b *FileBlock) offset() int64 {
	return BlockOffset(b.totalBlocks, b.index, b.blockSize)
}

// PayloadSize returns how many content bytes this block can hold.
func (b *FileBlock) PayloadSize() uint32 {
	return b.blockSize - FileBlockMeta
}

// NewFileBlock initialises a freshly allocated block — caller is
// responsible for having marked it in-use in the volume bitmap first — and
// immediately persists its empty header.
func NewFileBlock(img *ImageStream, totalBlocks uint64, blockSize uint32, index uint64, disposition OpenDisposition) (*FileBlock, error) {
	b := &FileBlock{
		index:       index,
		img:         img,
		totalBlocks: totalBlocks,
		blockSize:   blockSize,
		disposition: disposition,
		nextIndex:   index,
	}
	if err := b.writeHeader(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadFileBlock reads an existing block's header off the image.
func LoadFileBlock(img *ImageStream, totalBlocks uint64, blockSize uint32, index uint64, disposition OpenDisposition) (*FileBlock, error) {
	b := &FileBlock{
		index:       index,
		img:         img,
		totalBlocks: totalBlocks,
		blockSize:   blockSize,
		disposition: disposition,
	}
	buf := make([]byte, FileBlockMeta)
	if err := img.ReadAt(buf, b.offset()); err != nil {
		return nil, err
	}
	b.bytesWritten = binary.BigEndian.Uint32(buf[0:4])
	b.nextIndex = binary.BigEndian.Uint64(buf[4:12])
	return b, nil
}

func (b *FileBlock) writeHeader() error {
	buf := make([]byte, FileBlockMeta)
	binary.BigEndian.PutUint32(buf[0:4], b.bytesWritten)
	binary.BigEndian.PutUint64(buf[4:12], b.nextIndex)
	return b.img.WriteAt(buf, b.offset())
}

// Index returns this block's position in the block area.
func (b *FileBlock) Index() uint64 { return b.index }

// BytesWritten returns how many payload bytes this block currently holds.
func (b *FileBlock) BytesWritten() uint32 { return b.bytesWritten }

// HasNext reports whether this block has a successor in its chain. A block
// terminates its chain when nextIndex equals its own index — the sentinel
// is self-reference, not a reserved value, matching the normative wire
// format.
func (b *FileBlock) HasNext() bool { return b.nextIndex != b.index }

// NextIndex returns the successor block's index. Only meaningful when
// HasNext is true.
func (b *FileBlock) NextIndex() uint64 { return b.nextIndex }

// SetBytesWritten updates and immediately persists the block's fill level.
func (b *FileBlock) SetBytesWritten(n uint32) error {
	if !b.disposition.writable() {
		return NewNotWritableError("")
	}
	if n > b.PayloadSize() {
		return NewIOError("set-size", "", ErrIOOverflow)
	}
	b.bytesWritten = n
	return b.writeHeader()
}

// SetNextIndex updates and immediately persists the block's successor
// pointer. Pass the block's own index (via ClearNext) to terminate the
// chain here.
func (b *FileBlock) SetNextIndex(next uint64) error {
	if !b.disposition.writable() {
		return NewNotWritableError("")
	}
	b.nextIndex = next
	return b.writeHeader()
}

// ClearNext terminates the chain at this block.
func (b *FileBlock) ClearNext() error {
	return b.SetNextIndex(b.index)
}

// ReadPayload reads len(buf) content bytes starting at offsetInBlock.
func (b *FileBlock) ReadPayload(buf []byte, offsetInBlock uint32) error {
	if !b.disposition.readable() {
		return NewNotReadableError("")
	}
	if uint64(offsetInBlock)+uint64(len(buf)) > uint64(b.PayloadSize()) {
		return NewIOError("read", "", ErrIOOverflow)
	}
	return b.img.ReadAt(buf, b.offset()+int64(FileBlockMeta)+int64(offsetInBlock))
}

// WritePayload writes buf as content bytes starting at offsetInBlock.
func (b *FileBlock) WritePayload(buf []byte, offsetInBlock uint32) error {
	if !b.disposition.writable() {
		return NewNotWritableError("")
	}
	if uint64(offsetInBlock)+uint64(len(buf)) > uint64(b.PayloadSize()) {
		return NewIOError("write", "", ErrIOOverflow)
	}
	return b.img.WriteAt(buf, b.offset()+int64(FileBlockMeta)+int64(offsetInBlock))
}
