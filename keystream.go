package knoxcrypt

import "encoding/binary"

// xteaDelta is the XTEA key-schedule constant (2^32/golden ratio).
const xteaDelta = 0x9E3779B9

// encipher runs the XTEA Feistel rounds over v in place. This is the
// textbook reference algorithm; knoxcrypt only ever uses it in CTR mode, so
// decipher (the inverse transform) is never needed — the keystream itself
// is the plaintext-side XOR mask, not the ciphertext.
func encipher(rounds uint8, v *[2]uint32, key *[4]uint32) {
	v0, v1 := v[0], v[1]
	var sum uint32
	for i := uint8(0); i < rounds; i++ {
		v0 += (((v1 << 4) ^ (v1 >> 5)) + v1) ^ (sum + key[sum&3])
		sum += xteaDelta
		v1 += (((v0 << 4) ^ (v0 >> 5)) + v0) ^ (sum + key[(sum>>11)&3])
	}
	v[0], v[1] = v0, v1
}

// fillKeystream writes len(out) keystream bytes covering the half-open
// stream range [streamOffset, streamOffset+len(out)) into out. The CTR
// counter for stream byte position p is iv + p/8; each counter value is
// enciphered once to produce 8 keystream bytes, so a streamOffset that
// isn't 8-aligned only needs the tail of its first block.
func fillKeystream(rounds uint8, key [4]uint32, iv uint64, streamOffset uint64, out []byte) {
	n := len(out)
	pos := 0
	counter := iv + streamOffset/8
	blockOff := int(streamOffset % 8)

	var block [8]byte
	for pos < n {
		v := [2]uint32{uint32(counter >> 32), uint32(counter)}
		encipher(rounds, &v, &key)
		binary.BigEndian.PutUint32(block[0:4], v[0])
		binary.BigEndian.PutUint32(block[4:8], v[1])

		avail := 8 - blockOff
		take := avail
		if n-pos < take {
			take = n - pos
		}
		copy(out[pos:pos+take], block[blockOff:blockOff+take])
		pos += take
		blockOff = 0
		counter++
	}
}

// ByteTransformer turns the XTEA-CTR keystream into a reusable XOR mask for
// an open image: a small prefix of the keystream is precomputed at mount
// time (events BigCipherBuildBegin/CipherBuildUpdate/BigCipherBuildEnd mark
// its progress) so that the common case — touching the low offsets of a
// freshly opened image — never re-derives keystream bytes on the fly.
type ByteTransformer struct {
	key    [4]uint32
	rounds uint8
	iv     uint64
	buffer []byte
}

// NewByteTransformer derives the cipher key via provider (falling back to
// ScryptKeyProvider when provider is nil), then precomputes bufferSize
// bytes of keystream. A bufferSize of zero or less disables precomputation;
// every Transform call then generates its keystream on the fly.
func NewByteTransformer(password []byte, iv uint64, rounds uint8, bufferSize int, provider KeyProvider, events chan Event) (*ByteTransformer, error) {
	if provider == nil {
		provider = NewScryptKeyProvider()
	}
	if rounds == 0 {
		rounds = DefaultRounds
	}

	emit(events, Event{Kind: KeyGenBegin})
	derived, err := provider.DeriveKey(password, iv)
	if err != nil {
		emit(events, Event{Kind: KeyGenEnd})
		return nil, err
	}
	words, err := keyWords(derived)
	if err != nil {
		emit(events, Event{Kind: KeyGenEnd})
		return nil, err
	}
	emit(events, Event{Kind: KeyGenEnd})

	bt := &ByteTransformer{key: words, rounds: rounds, iv: iv}
	if bufferSize > 0 {
		bt.buffer = make([]byte, bufferSize)
		buildKeystreamBuffer(rounds, words, iv, bt.buffer, events)
	}
	return bt, nil
}

// Transform XORs the XTEA-CTR keystream for [streamOffset, streamOffset+len(buf))
// into buf in place. The operation is its own inverse — encrypting and
// decrypting call this identically — which is invariant 6 of the keystream
// design: two Transform calls over the same range cancel out.
func (bt *ByteTransformer) Transform(buf []byte, streamOffset int64) {
	if len(buf) == 0 {
		return
	}
	off := uint64(streamOffset)
	end := off + uint64(len(buf))

	if bt.buffer != nil && end <= uint64(len(bt.buffer)) {
		mask := bt.buffer[off:end]
		for i := range buf {
			buf[i] ^= mask[i]
		}
		return
	}

	mask := make([]byte, len(buf))
	fillKeystream(bt.rounds, bt.key, bt.iv, off, mask)
	for i := range buf {
		buf[i] ^= mask[i]
	}
}
