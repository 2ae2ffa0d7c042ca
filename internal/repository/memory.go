package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"fairwager/internal/domain"
)

// MemoryRoundStore is a RoundStore kept in process memory. Seeds pass through
// the sealer exactly like in Postgres so a key mismatch behaves the same way.
type MemoryRoundStore struct {
	sealer SeedSealer
	rows   *memoryRows
}

type memoryRows struct {
	mu     sync.RWMutex
	rounds map[uint64]memoryRow
}

type memoryRow struct {
	round  *domain.Round
	sealed []byte
}

func NewMemoryRoundStore(sealer SeedSealer) *MemoryRoundStore {
	return &MemoryRoundStore{sealer: sealer, rows: &memoryRows{rounds: make(map[uint64]memoryRow)}}
}

// Reopen returns a view of the same rows read through another sealer,
// like a restarted process configured with a different key
func (s *MemoryRoundStore) Reopen(sealer SeedSealer) *MemoryRoundStore {
	return &MemoryRoundStore{sealer: sealer, rows: s.rows}
}

func (s *MemoryRoundStore) row(r *domain.Round) (memoryRow, error) {
	sealed, err := sealSeed(s.sealer, r)
	if err != nil {
		return memoryRow{}, err
	}
	c := r.Clone()
	c.ServerSeed = nil
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	return memoryRow{round: c, sealed: sealed}, nil
}

func (s *MemoryRoundStore) InsertRound(ctx context.Context, r *domain.Round) (bool, error) {
	row, err := s.row(r)
	if err != nil {
		return false, err
	}
	s.rows.mu.Lock()
	defer s.rows.mu.Unlock()
	if _, ok := s.rows.rounds[r.Nonce]; ok {
		return false, nil
	}
	s.rows.rounds[r.Nonce] = row
	return true, nil
}

func (s *MemoryRoundStore) SaveRound(ctx context.Context, r *domain.Round) error {
	row, err := s.row(r)
	if err != nil {
		return err
	}
	s.rows.mu.Lock()
	defer s.rows.mu.Unlock()
	if prev, ok := s.rows.rounds[r.Nonce]; ok {
		if prev.round.Version >= r.Version {
			return nil
		}
		// commitment columns are immutable
		row.sealed = prev.sealed
		row.round.ServerSeedHash = prev.round.ServerSeedHash
		row.round.ClientSeed = prev.round.ClientSeed
	}
	s.rows.rounds[r.Nonce] = row
	return nil
}

func (s *MemoryRoundStore) load(row memoryRow) *domain.Round {
	r := row.round.Clone()
	r.ServerSeed = openSeed(s.sealer, r, row.sealed)
	return r
}

func (s *MemoryRoundStore) GetRound(ctx context.Context, nonce uint64) (*domain.Round, error) {
	s.rows.mu.RLock()
	defer s.rows.mu.RUnlock()
	row, ok := s.rows.rounds[nonce]
	if !ok {
		return nil, domain.ErrRoundNotFound
	}
	return s.load(row), nil
}

func (s *MemoryRoundStore) ListUnfinished(ctx context.Context) ([]*domain.Round, error) {
	s.rows.mu.RLock()
	defer s.rows.mu.RUnlock()
	var out []*domain.Round
	for _, row := range s.rows.rounds {
		if !row.round.Status.Final() {
			out = append(out, s.load(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out, nil
}

func (s *MemoryRoundStore) History(ctx context.Context, player, cursor string, limit int) (*domain.HistoryPage, error) {
	c, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	s.rows.mu.RLock()
	var matched []*domain.Round
	for _, row := range s.rows.rounds {
		r := row.round
		if r.Player != player || r.Status != domain.StatusResolved || r.ResolvedAt == nil {
			continue
		}
		if c.after(r) {
			matched = append(matched, s.load(row))
		}
	}
	s.rows.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		ti, tj := matched[i].ResolvedAt.UTC(), matched[j].ResolvedAt.UTC()
		if ti.Equal(tj) {
			return matched[i].Nonce > matched[j].Nonce
		}
		return ti.After(tj)
	})
	if len(matched) > limit+1 {
		matched = matched[:limit+1]
	}
	return page(matched, limit), nil
}

func (s *MemoryRoundStore) MaxNonce(ctx context.Context) (uint64, error) {
	s.rows.mu.RLock()
	defer s.rows.mu.RUnlock()
	var highest uint64
	for n := range s.rows.rounds {
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

type ledgerKey struct {
	nonce uint64
	kind  domain.LedgerKind
}

// MemoryLedger implements the promotional ledger and player directory in memory
type MemoryLedger struct {
	mu       sync.Mutex
	players  map[string]*domain.Player
	entries  map[ledgerKey]domain.LedgerEntry
	sequence int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		players: make(map[string]*domain.Player),
		entries: make(map[ledgerKey]domain.LedgerEntry),
	}
}

// Grant switches a player to promotional play and credits amount
func (l *MemoryLedger) Grant(ctx context.Context, player string, amount uint64) (*domain.Player, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.players[player]
	if !ok {
		p = &domain.Player{PublicKey: player, CreatedAt: time.Now()}
		l.players[player] = p
	}
	p.Promotional = true
	p.PromoBalance += amount
	cp := *p
	return &cp, nil
}

func (l *MemoryLedger) IsPromotional(ctx context.Context, player string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.players[player]
	return ok && p.Promotional, nil
}

func (l *MemoryLedger) Balance(player string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.players[player]; ok {
		return p.PromoBalance
	}
	return 0
}

func (l *MemoryLedger) Apply(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.players[entry.Player]
	if !ok {
		return domain.LedgerEntry{}, false, domain.NewError(domain.CodeNotFound, "player not found")
	}
	key := ledgerKey{entry.Nonce, entry.Kind}
	if stored, ok := l.entries[key]; ok {
		return stored, false, nil
	}
	next := int64(p.PromoBalance) + entry.Delta
	if next < 0 {
		return domain.LedgerEntry{}, false, domain.ErrInsufficientFunds
	}
	p.PromoBalance = uint64(next)
	l.sequence++
	entry.ID = l.sequence
	entry.BalanceAfter = p.PromoBalance
	entry.CreatedAt = time.Now()
	l.entries[key] = entry
	return entry, true, nil
}
