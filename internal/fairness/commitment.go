// Package fairness implements the commit-reveal scheme and the keyed digest
// primitives every game derives its outcome from.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
)

// SeedSize is the length of a server seed in bytes
const SeedSize = 32

var ErrSeedReused = errors.New("server seed collision")

// Commitment is a fresh server seed and its public hash
type Commitment struct {
	Seed []byte
	Hash string
}

// Committer creates commitments and refuses to hand out a hash it has seen recently.
// The database enforces global uniqueness of hashes; this guard catches a broken
// entropy source before any stake moves.
type Committer struct {
	rand io.Reader

	mu     sync.Mutex
	recent map[string]struct{}
	order  []string
	limit  int
}

// NewCommitter returns a committer reading from crypto/rand
func NewCommitter(limit int) *Committer {
	return newCommitter(rand.Reader, limit)
}

func newCommitter(r io.Reader, limit int) *Committer {
	if limit <= 0 {
		limit = 4096
	}
	return &Committer{
		rand:   r,
		recent: make(map[string]struct{}, limit),
		limit:  limit,
	}
}

// Create generates a 32-byte seed and its SHA-256 commitment
func (c *Committer) Create() (Commitment, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(c.rand, seed); err != nil {
		return Commitment{}, err
	}
	hash := HashSeed(seed)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.recent[hash]; dup {
		return Commitment{}, ErrSeedReused
	}
	c.recent[hash] = struct{}{}
	c.order = append(c.order, hash)
	if len(c.order) > c.limit {
		delete(c.recent, c.order[0])
		c.order = c.order[1:]
	}

	return Commitment{Seed: seed, Hash: hash}, nil
}

// HashSeed returns the hex SHA-256 of the raw seed bytes
func HashSeed(seed []byte) string {
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment checks a revealed seed against its published hash
func VerifyCommitment(seed []byte, hash string) bool {
	want, err := hex.DecodeString(hash)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	got := sha256.Sum256(seed)
	return hmac.Equal(got[:], want)
}

// DecodeSeed parses a hex-encoded server seed
func DecodeSeed(s string) ([]byte, error) {
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(seed) != SeedSize {
		return nil, errors.New("server seed must be 32 bytes")
	}
	return seed, nil
}
