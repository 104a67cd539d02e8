package knoxcrypt

// FileBlockBuilder is the only path by which a block index turns into a
// live FileBlock: it keeps the volume bitmap and a FIFO of recently-freed
// indices in sync with every allocation, so nothing elsewhere in the
// engine ever sets a bitmap bit directly.
type FileBlockBuilder struct {
	img         *ImageStream
	bitmap      *VolumeBitmap
	totalBlocks uint64
	blockSize   uint32
	disposition OpenDisposition
	recycle     []uint64
}

// NewFileBlockBuilder constructs a builder bound to a mounted image's
// bitmap and block area.
func NewFileBlockBuilder(img *ImageStream, bitmap *VolumeBitmap, totalBlocks uint64, blockSize uint32, disposition OpenDisposition) *FileBlockBuilder {
	return &FileBlockBuilder{img: img, bitmap: bitmap, totalBlocks: totalBlocks, blockSize: blockSize, disposition: disposition}
}

// Allocate hands out a fresh block: a previously recycled index if one is
// queued, otherwise the lowest-indexed free block in the bitmap. Either way
// the bitmap bit is set before the block's header is written, so a crash
// between the two never hands the same index out twice.
func (fb *FileBlockBuilder) Allocate() (*FileBlock, error) {
	idx, err := fb.nextIndex()
	if err != nil {
		return nil, err
	}
	return NewFileBlock(fb.img, fb.totalBlocks, fb.blockSize, idx, fb.disposition)
}

func (fb *FileBlockBuilder) nextIndex() (uint64, error) {
	if len(fb.recycle) > 0 {
		idx := fb.recycle[0]
		fb.recycle = fb.recycle[1:]
		if fb.bitmap.IsSet(idx) {
			return 0, NewCorruptImageError("", "recycled block index is still marked in-use")
		}
		if err := fb.bitmap.Set(idx); err != nil {
			return 0, err
		}
		return idx, nil
	}
	return fb.bitmap.TakeFirstFree()
}

// AllocateAt forces out a specific block index, bypassing the normal
// free-list scan. Used at image creation time for the root folder (index
// 0) and for a decoy/alternative root volume at a caller-chosen index.
func (fb *FileBlockBuilder) AllocateAt(index uint64) (*FileBlock, error) {
	if err := fb.bitmap.Set(index); err != nil {
		return nil, err
	}
	return NewFileBlock(fb.img, fb.totalBlocks, fb.blockSize, index, fb.disposition)
}

// AllocateRoot forces out block 0 for the root compound folder at image
// creation time, bypassing the normal free-list scan since block 0 is
// known to be free on a brand-new bitmap.
func (fb *FileBlockBuilder) AllocateRoot() (*FileBlock, error) {
	return fb.AllocateAt(0)
}

// Recycle clears a block's bitmap bit and queues its index for reuse ahead
// of any never-allocated index, so freed space is reclaimed before the
// volume grows toward blocks it has never touched.
func (fb *FileBlockBuilder) Recycle(index uint64) error {
	if err := fb.bitmap.Clear(index); err != nil {
		return err
	}
	fb.recycle = append(fb.recycle, index)
	return nil
}

// Open loads an existing block by index without consulting the bitmap or
// the recycle queue — used when walking an already-allocated chain.
func (fb *FileBlockBuilder) Open(index uint64) (*FileBlock, error) {
	return LoadFileBlock(fb.img, fb.totalBlocks, fb.blockSize, index, fb.disposition)
}

// PayloadSize returns the content capacity of one block under this
// builder's configured block size.
func (fb *FileBlockBuilder) PayloadSize() uint32 {
	return fb.blockSize - FileBlockMeta
}
