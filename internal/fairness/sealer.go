package fairness

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealPlain   byte = 0x00
	sealXChaCha byte = 0x01
)

var ErrSealedSeed = errors.New("sealed seed cannot be opened")

// Sealer protects server seeds at rest. Blobs carry a one-byte version prefix
// so a key rotation or a missing key is detected instead of misread.
type Sealer struct {
	key []byte
}

// NewSealer accepts a hex-encoded 32-byte key. An empty key stores seeds in
// the clear and is meant for local development only.
func NewSealer(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		return &Sealer{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("seed seal key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("seed seal key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &Sealer{key: key}, nil
}

// Enabled reports whether seeds are encrypted
func (s *Sealer) Enabled() bool { return len(s.key) > 0 }

// Seal returns the at-rest form of seed. additional binds the blob to its round.
func (s *Sealer) Seal(seed, additional []byte) ([]byte, error) {
	if !s.Enabled() {
		return append([]byte{sealPlain}, seed...), nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(seed)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := aead.Seal(nonce, nonce, seed, additional)
	return append([]byte{sealXChaCha}, out...), nil
}

// Open recovers the seed. Any mismatch fails closed with ErrSealedSeed.
func (s *Sealer) Open(blob, additional []byte) ([]byte, error) {
	if len(blob) < 1 {
		return nil, ErrSealedSeed
	}
	switch blob[0] {
	case sealPlain:
		seed := blob[1:]
		if len(seed) != SeedSize {
			return nil, ErrSealedSeed
		}
		return append([]byte(nil), seed...), nil
	case sealXChaCha:
		if !s.Enabled() {
			return nil, ErrSealedSeed
		}
		aead, err := chacha20poly1305.NewX(s.key)
		if err != nil {
			return nil, err
		}
		body := blob[1:]
		if len(body) < aead.NonceSize() {
			return nil, ErrSealedSeed
		}
		seed, err := aead.Open(nil, body[:aead.NonceSize()], body[aead.NonceSize():], additional)
		if err != nil || len(seed) != SeedSize {
			return nil, ErrSealedSeed
		}
		return seed, nil
	default:
		return nil, ErrSealedSeed
	}
}
