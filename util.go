package knoxcrypt

import (
	"crypto/rand"
	"encoding/binary"
)

// randomUint64 returns a cryptographically random 64-bit value, used as a
// fresh image's IV at creation time.
func randomUint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// beUint64 reads a big-endian uint64 from a buffer that may be shorter than
// 8 bytes (e.g. a freshly created, zero-length header), treating any
// missing bytes as zero.
func beUint64(buf []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:], buf)
	return binary.BigEndian.Uint64(tmp[:])
}

func putBeUint64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }
