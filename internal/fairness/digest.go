package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"strings"
)

// Digest returns HMAC-SHA256(key, parts joined by ":")
func Digest(key []byte, parts ...string) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strings.Join(parts, ":")))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Word returns the i-th big-endian uint32 of a digest (0..7)
func Word(d [32]byte, i int) uint32 {
	return binary.BigEndian.Uint32(d[i*4 : i*4+4])
}

// Stream yields uint32 words from the blocks
// HMAC-SHA256(server_seed, "client_seed:nonce:counter"), counter = 0, 1, ...
type Stream struct {
	key        []byte
	clientSeed string
	nonce      uint64

	counter uint64
	block   [32]byte
	word    int
}

func NewStream(key []byte, clientSeed string, nonce uint64) *Stream {
	s := &Stream{key: key, clientSeed: clientSeed, nonce: nonce}
	s.block = s.Block(0)
	return s
}

// Block returns the digest for a given counter without moving the stream
func (s *Stream) Block(counter uint64) [32]byte {
	return Digest(s.key, s.clientSeed, strconv.FormatUint(s.nonce, 10), strconv.FormatUint(counter, 10))
}

// Uint32 returns the next word, advancing to the next block after 8 words
func (s *Stream) Uint32() uint32 {
	if s.word == 8 {
		s.counter++
		s.block = s.Block(s.counter)
		s.word = 0
	}
	v := Word(s.block, s.word)
	s.word++
	return v
}

// Intn returns the next word reduced modulo n
func (s *Stream) Intn(n int) int {
	return int(s.Uint32() % uint32(n))
}
