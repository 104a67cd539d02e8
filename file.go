package knoxcrypt

import "io"

// File is a byte stream backed by a chain of fixed-size FileBlocks: reads
// and writes translate a logical offset into a (hop count, offset-in-block)
// pair and walk the chain from its first block that many hops. Nothing
// about File is buffered past the block it is currently touching — every
// Read/Write call goes straight through FileBlock to the image, the same
// way the block headers themselves are never left dirty in memory.
type File struct {
	builder     *FileBlockBuilder
	startBlock  uint64
	disposition OpenDisposition
	size        int64
	offset      int64
}

// chainSize walks a block chain from start and sums its bytesWritten
// fields, detecting a non-terminating chain rather than looping forever.
func chainSize(builder *FileBlockBuilder, start uint64) (int64, error) {
	var size int64
	visited := make(map[uint64]bool)
	idx := start
	for {
		if visited[idx] {
			return 0, NewCorruptImageError("", "block chain does not terminate")
		}
		visited[idx] = true

		b, err := builder.Open(idx)
		if err != nil {
			return 0, err
		}
		size += int64(b.BytesWritten())
		if !b.HasNext() {
			return size, nil
		}
		idx = b.NextIndex()
	}
}

// CreateFile allocates a fresh single-block chain and returns a File over
// it, ready for writing.
func CreateFile(builder *FileBlockBuilder, disposition OpenDisposition) (*File, error) {
	b, err := builder.Allocate()
	if err != nil {
		return nil, err
	}
	return &File{builder: builder, startBlock: b.Index(), disposition: disposition}, nil
}

// OpenFile opens an existing chain starting at startBlock. Disposition's
// Write mode is applied immediately: Truncate empties the file, Append
// positions the initial offset at its current end.
func OpenFile(builder *FileBlockBuilder, startBlock uint64, disposition OpenDisposition) (*File, error) {
	size, err := chainSize(builder, startBlock)
	if err != nil {
		return nil, err
	}
	f := &File{builder: builder, startBlock: startBlock, disposition: disposition, size: size}

	switch disposition.Write {
	case Truncate:
		if err := f.Truncate(0); err != nil {
			return nil, err
		}
	case Append:
		f.offset = f.size
	}
	return f, nil
}

// StartBlock returns the first block index of this file's chain — its
// identity within the folder entry that points at it.
func (f *File) StartBlock() uint64 { return f.startBlock }

// Size returns the file's current logical size.
func (f *File) Size() int64 { return f.size }

// Offset returns the current read/write position.
func (f *File) Offset() int64 { return f.offset }

// blockAt returns the block that is hop chain-links away from the first
// block. When allocate is true and the chain is shorter than hop, new
// blocks are allocated and linked in to reach it; otherwise a short chain
// yields io.EOF.
func (f *File) blockAt(hop uint64, allocate bool) (*FileBlock, error) {
	b, err := f.builder.Open(f.startBlock)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < hop; i++ {
		if b.HasNext() {
			b, err = f.builder.Open(b.NextIndex())
			if err != nil {
				return nil, err
			}
			continue
		}
		if !allocate {
			return nil, io.EOF
		}
		next, err := f.builder.Allocate()
		if err != nil {
			return nil, err
		}
		if err := b.SetNextIndex(next.Index()); err != nil {
			return nil, err
		}
		b = next
	}
	return b, nil
}

// Read implements io.Reader over the block chain, stopping at the file's
// logical size regardless of how much allocated-but-unreachable payload
// might physically follow it.
func (f *File) Read(buf []byte) (int, error) {
	if !f.disposition.readable() {
		return 0, NewNotReadableError("")
	}
	if f.offset >= f.size {
		return 0, io.EOF
	}

	payload := f.builder.PayloadSize()
	total := 0
	for total < len(buf) && f.offset < f.size {
		hop := uint64(f.offset) / uint64(payload)
		offInBlock := uint32(uint64(f.offset) % uint64(payload))

		b, err := f.blockAt(hop, false)
		if err != nil {
			break
		}
		avail := int64(b.BytesWritten()) - int64(offInBlock)
		if avail <= 0 {
			break
		}
		n := int64(len(buf) - total)
		if n > avail {
			n = avail
		}
		if remaining := f.size - f.offset; n > remaining {
			n = remaining
		}

		chunk := make([]byte, n)
		if err := b.ReadPayload(chunk, offInBlock); err != nil {
			return total, err
		}
		copy(buf[total:total+int(n)], chunk)
		total += int(n)
		f.offset += n
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Write implements io.Writer over the block chain, allocating and linking
// new blocks as the logical offset advances past the chain's current tail.
// Since Seek rejects any offset past the current size, every write starts
// at or before the existing tail — there is no way to open a sparse hole
// through this API.
func (f *File) Write(buf []byte) (int, error) {
	if !f.disposition.writable() {
		return 0, NewNotWritableError("")
	}
	if f.disposition.Write == Append {
		f.offset = f.size
	}

	payload := f.builder.PayloadSize()
	total := 0
	for total < len(buf) {
		hop := uint64(f.offset) / uint64(payload)
		offInBlock := uint32(uint64(f.offset) % uint64(payload))

		b, err := f.blockAt(hop, true)
		if err != nil {
			return total, err
		}

		space := payload - offInBlock
		n := len(buf) - total
		if uint32(n) > space {
			n = int(space)
		}
		if err := b.WritePayload(buf[total:total+n], offInBlock); err != nil {
			return total, err
		}
		if newBytes := offInBlock + uint32(n); newBytes > b.BytesWritten() {
			if err := b.SetBytesWritten(newBytes); err != nil {
				return total, err
			}
		}

		total += n
		f.offset += int64(n)
		if f.offset > f.size {
			f.size = f.offset
		}
	}
	return total, nil
}

// Seek repositions the read/write offset. A negative result is rejected,
// and so is a result past the file's current size — a file only grows
// through Write, never by seeking beyond its end.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		next = f.size + offset
	default:
		return 0, ErrInvalidDisposition
	}
	if next < 0 {
		return 0, ErrNegativeOffset
	}
	if next > f.size {
		return 0, ErrSeekPastEnd
	}
	f.offset = next
	return next, nil
}

// Truncate resizes the file to newSize. Growing pads with a zero-filled
// hole. Shrinking only moves the chain's reported tail — the blocks beyond
// the new tail stay bitmap-allocated and linked to nothing; nothing ever
// reclaims them short of deleting the whole file (spec's truncate leaves
// orphans by design, not as an oversight).
func (f *File) Truncate(newSize int64) error {
	if newSize < 0 {
		return ErrNegativeOffset
	}
	if newSize == f.size {
		return nil
	}
	if newSize > f.size {
		savedOffset := f.offset
		f.offset = f.size
		_, err := f.Write(make([]byte, newSize-f.size))
		f.offset = savedOffset
		return err
	}

	payload := f.builder.PayloadSize()
	var hop uint64
	var bytesInBlock uint32
	if newSize > 0 {
		hop = uint64(newSize-1) / uint64(payload)
		bytesInBlock = uint32((newSize-1)%int64(payload)) + 1
	}

	b, err := f.blockAt(hop, false)
	if err != nil {
		return err
	}
	if err := b.SetBytesWritten(bytesInBlock); err != nil {
		return err
	}
	if err := b.ClearNext(); err != nil {
		return err
	}

	f.size = newSize
	if f.offset > f.size {
		f.offset = f.size
	}
	return nil
}

// Unlink frees every block reachable from this file's chain. Blocks
// orphaned by an earlier Truncate are, by that same design decision, not
// reachable any more and are not freed here either.
func (f *File) Unlink() error {
	visited := make(map[uint64]bool)
	idx := f.startBlock
	for {
		if visited[idx] {
			return NewCorruptImageError("", "block chain does not terminate")
		}
		visited[idx] = true

		b, err := f.builder.Open(idx)
		if err != nil {
			return err
		}
		hasNext, next := b.HasNext(), b.NextIndex()
		if err := f.builder.Recycle(idx); err != nil {
			return err
		}
		if !hasNext {
			return nil
		}
		idx = next
	}
}
