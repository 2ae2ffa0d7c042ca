package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"fairwager/internal/domain"
)

// RoundStore persists rounds. InsertRound never overwrites an existing nonce,
// SaveRound upserts. Server seeds are sealed on write and opened on read; a
// seed that cannot be opened comes back as nil and the round must fail closed.
type RoundStore interface {
	InsertRound(ctx context.Context, r *domain.Round) (inserted bool, err error)
	SaveRound(ctx context.Context, r *domain.Round) error
	GetRound(ctx context.Context, nonce uint64) (*domain.Round, error)
	ListUnfinished(ctx context.Context) ([]*domain.Round, error)
	History(ctx context.Context, player, cursor string, limit int) (*domain.HistoryPage, error)
	MaxNonce(ctx context.Context) (uint64, error)
}

// SeedSealer is implemented by fairness.Sealer
type SeedSealer interface {
	Seal(seed, additional []byte) ([]byte, error)
	Open(blob, additional []byte) ([]byte, error)
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// sealContext binds a sealed seed to its round
func sealContext(r *domain.Round) []byte {
	return []byte(strconv.FormatUint(r.Nonce, 10) + ":" + r.ServerSeedHash)
}

func sealSeed(s SeedSealer, r *domain.Round) ([]byte, error) {
	if len(r.ServerSeed) == 0 {
		return nil, nil
	}
	return s.Seal(r.ServerSeed, sealContext(r))
}

// openSeed returns nil when the blob is missing or cannot be opened
func openSeed(s SeedSealer, r *domain.Round, blob []byte) []byte {
	if len(blob) == 0 {
		return nil
	}
	seed, err := s.Open(blob, sealContext(r))
	if err != nil {
		return nil
	}
	return seed
}

// historyCursor is the position after the last returned round
type historyCursor struct {
	ResolvedAt time.Time `json:"t"`
	Nonce      uint64    `json:"n"`
}

func encodeCursor(r *domain.Round) string {
	if r.ResolvedAt == nil {
		return ""
	}
	b, _ := json.Marshal(historyCursor{ResolvedAt: r.ResolvedAt.UTC(), Nonce: r.Nonce})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (*historyCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.Validationf("invalid cursor")
	}
	var c historyCursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ResolvedAt.IsZero() {
		return nil, domain.Validationf("invalid cursor")
	}
	return &c, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// after reports whether a sorts strictly after the cursor in (resolved_at DESC, nonce DESC) order
func (c *historyCursor) after(r *domain.Round) bool {
	if c == nil {
		return true
	}
	t := r.ResolvedAt.UTC()
	if t.Equal(c.ResolvedAt) {
		return r.Nonce < c.Nonce
	}
	return t.Before(c.ResolvedAt)
}

func toInt64(name string, v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%s %d out of range", name, v)
	}
	return int64(v), nil
}
