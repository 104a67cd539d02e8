package knoxcrypt

import (
	"io"
	"os"
)

// cipherRegionStart is the byte offset at which encryption begins: the IV
// and rounds byte are stored in the clear ahead of it (spec.md §6), since
// they are needed to derive the key before anything past them can be read.
const cipherRegionStart = ivSize + roundsSize

// ImageStream is the single seekable, encrypted byte channel every other
// component reads and writes through: FileBlock, VolumeBitmap and the
// superblock all address it by absolute image offset. It owns the host
// file handle directly — there is no abstract base filesystem underneath
// it, just one os.File.
type ImageStream struct {
	f    *os.File
	bt   *ByteTransformer
	path string
}

// CreateImageStream creates (or truncates) the host file at path, sizes it
// to size bytes, and wraps it with bt.
func CreateImageStream(path string, size int64, bt *ByteTransformer) (*ImageStream, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, NewIOError("create", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, NewIOError("truncate", path, err)
	}
	return &ImageStream{f: f, bt: bt, path: path}, nil
}

// OpenImageStream opens an existing host file at path and wraps it with bt.
func OpenImageStream(path string, bt *ByteTransformer) (*ImageStream, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, NewIOError("open", path, err)
	}
	return &ImageStream{f: f, bt: bt, path: path}, nil
}

// Size returns the current size of the underlying host file.
func (s *ImageStream) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, NewIOError("stat", s.path, err)
	}
	return info.Size(), nil
}

// Truncate resizes the underlying host file.
func (s *ImageStream) Truncate(size int64) error {
	if err := s.f.Truncate(size); err != nil {
		return NewIOError("truncate", s.path, err)
	}
	return nil
}

// ReadPlain reads len(buf) raw bytes at absolute image offset off, with no
// decryption. Used only for the IV and rounds byte, which precede the
// cipher region.
func (s *ImageStream) ReadPlain(buf []byte, off int64) error {
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return NewIOError("read", s.path, err)
	}
	return nil
}

// WritePlain writes buf as raw bytes at absolute image offset off, with no
// encryption.
func (s *ImageStream) WritePlain(buf []byte, off int64) error {
	if _, err := s.f.WriteAt(buf, off); err != nil {
		return NewIOError("write", s.path, err)
	}
	return nil
}

// ReadAt reads len(buf) ciphertext bytes at absolute image offset off and
// decrypts them in place. off must be >= cipherRegionStart.
func (s *ImageStream) ReadAt(buf []byte, off int64) error {
	if off < cipherRegionStart {
		return NewIOError("read", s.path, io.ErrUnexpectedEOF)
	}
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return NewIOError("read", s.path, err)
	}
	s.bt.Transform(buf, off-cipherRegionStart)
	return nil
}

// WriteAt encrypts a copy of buf and writes it at absolute image offset
// off. buf itself is never mutated. off must be >= cipherRegionStart.
func (s *ImageStream) WriteAt(buf []byte, off int64) error {
	if off < cipherRegionStart {
		return NewIOError("write", s.path, io.ErrUnexpectedEOF)
	}
	cipher := make([]byte, len(buf))
	copy(cipher, buf)
	s.bt.Transform(cipher, off-cipherRegionStart)
	if _, err := s.f.WriteAt(cipher, off); err != nil {
		return NewIOError("write", s.path, err)
	}
	return nil
}

// Sync flushes the host file to stable storage.
func (s *ImageStream) Sync() error {
	if err := s.f.Sync(); err != nil {
		return NewIOError("sync", s.path, err)
	}
	return nil
}

// Close closes the underlying host file handle.
func (s *ImageStream) Close() error {
	if err := s.f.Close(); err != nil {
		return NewIOError("close", s.path, err)
	}
	return nil
}
