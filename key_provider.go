package knoxcrypt

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. N is deliberately expensive (2^20) since key
// derivation happens once per mount, not per block.
const (
	scryptN         = 1 << 20
	scryptR         = 8
	scryptP         = 1
	derivedKeyBytes = 16
)

// ScryptKeyProvider is the default KeyProvider: it derives the 16-byte
// cipher key from the mount password and the image's IV via scrypt, using
// the IV itself as the salt. Since the IV is regenerated on every image
// creation, the salt is never reused across images even though the
// password might be.
type ScryptKeyProvider struct{}

// NewScryptKeyProvider returns the default KeyProvider.
func NewScryptKeyProvider() *ScryptKeyProvider { return &ScryptKeyProvider{} }

// DeriveKey implements KeyProvider.
func (p *ScryptKeyProvider) DeriveKey(password []byte, iv uint64) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("password cannot be empty")
	}
	salt := make([]byte, 8)
	binary.BigEndian.PutUint64(salt, iv)

	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, derivedKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return key, nil
}

// keyWords splits a 16-byte scrypt output into the four big-endian 32-bit
// words the XTEA keystream consumes as its key schedule.
func keyWords(key []byte) ([4]uint32, error) {
	var words [4]uint32
	if len(key) != derivedKeyBytes {
		return words, fmt.Errorf("derived key must be %d bytes, got %d", derivedKeyBytes, len(key))
	}
	for i := 0; i < 4; i++ {
		words[i] = binary.BigEndian.Uint32(key[i*4 : i*4+4])
	}
	return words, nil
}
