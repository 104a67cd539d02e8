package knoxcrypt

import (
	"bytes"
	"testing"
)

const testBlockSize = 512

func newTestImage(t *testing.T, blocks uint64) *ImageStream {
	t.Helper()
	return newTestStreamSized(t, ImageSize(blocks, testBlockSize))
}

func newTestStreamSized(t *testing.T, size int64) *ImageStream {
	t.Helper()
	bt, err := NewByteTransformer([]byte("pw"), 1, 16, 0, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := t.TempDir() + "/image.knox"
	s, err := CreateImageStream(path, size, bt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileBlockNewAndLoad(t *testing.T) {
	img := newTestImage(t, 10)
	rw := OpenDisposition{Access: ReadWrite}

	b, err := NewFileBlock(img, 10, testBlockSize, 0, rw)
	if err != nil {
		t.Fatal(err)
	}
	if b.HasNext() {
		t.Fatal("freshly created block should have no next")
	}
	if b.BytesWritten() != 0 {
		t.Fatal("freshly created block should report zero bytes written")
	}

	loaded, err := LoadFileBlock(img, 10, testBlockSize, 0, rw)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.HasNext() || loaded.BytesWritten() != 0 {
		t.Fatal("loaded block should match freshly created state")
	}
}

// TestFileBlockTerminatesWithSelfReference pins invariant 3: a freshly
// created block (and one explicitly cleared) terminates its chain by
// setting nextIndex to its own index, not a reserved sentinel value.
func TestFileBlockTerminatesWithSelfReference(t *testing.T) {
	img := newTestImage(t, 10)
	rw := OpenDisposition{Access: ReadWrite}

	b, err := NewFileBlock(img, 10, testBlockSize, 4, rw)
	if err != nil {
		t.Fatal(err)
	}
	if b.NextIndex() != b.Index() {
		t.Fatalf("fresh block nextIndex = %d, want own index %d", b.NextIndex(), b.Index())
	}

	if err := b.SetNextIndex(9); err != nil {
		t.Fatal(err)
	}
	if err := b.ClearNext(); err != nil {
		t.Fatal(err)
	}
	if b.NextIndex() != b.Index() {
		t.Fatalf("cleared block nextIndex = %d, want own index %d", b.NextIndex(), b.Index())
	}

	loaded, err := LoadFileBlock(img, 10, testBlockSize, 4, rw)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NextIndex() != 4 || loaded.HasNext() {
		t.Fatalf("loaded terminal block nextIndex = %d, hasNext = %v, want 4/false", loaded.NextIndex(), loaded.HasNext())
	}
}

func TestFileBlockSetSizeAndNextPersist(t *testing.T) {
	img := newTestImage(t, 10)
	rw := OpenDisposition{Access: ReadWrite}

	b, err := NewFileBlock(img, 10, testBlockSize, 2, rw)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetBytesWritten(100); err != nil {
		t.Fatal(err)
	}
	if err := b.SetNextIndex(7); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFileBlock(img, 10, testBlockSize, 2, rw)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.BytesWritten() != 100 {
		t.Fatalf("bytesWritten = %d, want 100", loaded.BytesWritten())
	}
	if !loaded.HasNext() || loaded.NextIndex() != 7 {
		t.Fatalf("nextIndex = %d, hasNext = %v, want 7/true", loaded.NextIndex(), loaded.HasNext())
	}
}

func TestFileBlockClearNext(t *testing.T) {
	img := newTestImage(t, 10)
	rw := OpenDisposition{Access: ReadWrite}

	b, _ := NewFileBlock(img, 10, testBlockSize, 0, rw)
	_ = b.SetNextIndex(3)
	if !b.HasNext() {
		t.Fatal("expected HasNext after SetNextIndex")
	}
	if err := b.ClearNext(); err != nil {
		t.Fatal(err)
	}
	if b.HasNext() {
		t.Fatal("expected no next after ClearNext")
	}
}

func TestFileBlockReadWritePayload(t *testing.T) {
	img := newTestImage(t, 10)
	rw := OpenDisposition{Access: ReadWrite}

	b, _ := NewFileBlock(img, 10, testBlockSize, 0, rw)
	data := []byte("payload bytes")
	if err := b.WritePayload(data, 5); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if err := b.ReadPayload(got, 5); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestFileBlockWriteDisposition(t *testing.T) {
	img := newTestImage(t, 10)
	ro := OpenDisposition{Access: ReadOnly}

	b, err := NewFileBlock(img, 10, testBlockSize, 0, OpenDisposition{Access: ReadWrite})
	if err != nil {
		t.Fatal(err)
	}
	b.disposition = ro
	if err := b.WritePayload([]byte("x"), 0); !IsNotWritable(err) {
		t.Fatalf("expected NotWritableError, got %v", err)
	}
}

func TestFileBlockPayloadOverflow(t *testing.T) {
	img := newTestImage(t, 10)
	rw := OpenDisposition{Access: ReadWrite}
	b, _ := NewFileBlock(img, 10, testBlockSize, 0, rw)

	tooBig := make([]byte, b.PayloadSize()+1)
	if err := b.WritePayload(tooBig, 0); err == nil {
		t.Fatal("expected overflow error writing past payload end")
	}
}
