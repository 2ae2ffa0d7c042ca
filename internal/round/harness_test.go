package round

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fairwager/internal/custody"
	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/game"
	"fairwager/internal/repository"

	"github.com/stretchr/testify/require"
)

const sealKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeEscrow stands in for the on-chain backend
type fakeEscrow struct {
	mu         sync.Mutex
	locks      int
	releases   int
	lockErr    error
	releaseErr error
	released   map[uint64]uint64
}

func (f *fakeEscrow) Mode() domain.Mode { return domain.ModeRealEscrow }

func (f *fakeEscrow) Lock(ctx context.Context, req custody.LockRequest) (*domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks++
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	return &domain.Receipt{Backend: domain.ModeRealEscrow, Reference: "lock-sig", Amount: req.Stake, Confirmed: true}, nil
}

func (f *fakeEscrow) Release(ctx context.Context, req custody.ReleaseRequest) (*domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	if f.releaseErr != nil {
		return nil, f.releaseErr
	}
	if f.released == nil {
		f.released = make(map[uint64]uint64)
	}
	f.released[req.Nonce] += req.Amount
	return &domain.Receipt{Backend: domain.ModeRealEscrow, Reference: "release-sig", Amount: req.Amount, Confirmed: true}, nil
}

func (f *fakeEscrow) counts() (locks, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks, f.releases
}

// flakyStore fails SaveRound a number of times for rounds entering one status
type flakyStore struct {
	*repository.MemoryRoundStore
	mu     sync.Mutex
	status domain.RoundStatus
	fails  int
}

func (s *flakyStore) SaveRound(ctx context.Context, r *domain.Round) error {
	s.mu.Lock()
	if r.Status == s.status && s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return errors.New("db down")
	}
	s.mu.Unlock()
	return s.MemoryRoundStore.SaveRound(ctx, r)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Publish(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) types(nonce uint64) []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EventType
	for _, e := range s.events {
		if e.Nonce == nonce {
			out = append(out, e.Type)
		}
	}
	return out
}

type harness struct {
	m      *Manager
	store  *repository.MemoryRoundStore
	ledger *repository.MemoryLedger
	escrow *fakeEscrow
	sink   *recordingSink
	clock  *fakeClock
	games  *game.Registry
}

func testConfig() Config {
	return Config{
		MinStake:    1,
		MaxStake:    1_000_000,
		RoundTTL:    time.Minute,
		IdleTimeout: 30 * time.Second,
		RTPBps: map[domain.GameKind]uint32{
			domain.GameDice:   9900,
			domain.GameMines:  9900,
			domain.GameSlots:  9600,
			domain.GamePlinko: 9900,
			domain.GameCrash:  9900,
		},
		CoinflipFeeBps: 300,
		Mirror:         MirrorOff,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sealer, err := fairness.NewSealer(sealKey)
	require.NoError(t, err)
	store := repository.NewMemoryRoundStore(sealer)
	return newHarnessWithStore(t, store, repository.NewMemoryLedger(), &fakeEscrow{})
}

func newHarnessWithStore(t *testing.T, store *repository.MemoryRoundStore, ledger *repository.MemoryLedger, escrow *fakeEscrow) *harness {
	t.Helper()
	return newHarnessOver(t, store, store, ledger, escrow)
}

// newHarnessOver lets the manager write through backing while the test reads store
func newHarnessOver(t *testing.T, backing repository.RoundStore, store *repository.MemoryRoundStore, ledger *repository.MemoryLedger, escrow *fakeEscrow) *harness {
	t.Helper()
	h := &harness{
		store:  store,
		ledger: ledger,
		escrow: escrow,
		sink:   &recordingSink{},
		clock:  &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		games:  game.NewRegistry(nil),
	}
	h.m = NewManager(testConfig(), Deps{
		Store:   backing,
		Games:   h.games,
		Custody: custody.NewSelector(ledger, custody.NewPromotionalLedger(ledger), escrow),
		Commits: fairness.NewCommitter(128),
		Events:  h.sink,
		Now:     h.clock.Now,
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) grant(t *testing.T, player string, amount uint64) {
	t.Helper()
	_, err := h.ledger.Grant(context.Background(), player, amount)
	require.NoError(t, err)
}

// seed reads the committed server seed back from the store
func (h *harness) seed(t *testing.T, nonce uint64) *domain.Round {
	t.Helper()
	r, err := h.store.GetRound(context.Background(), nonce)
	require.NoError(t, err)
	require.Len(t, r.ServerSeed, fairness.SeedSize)
	return r
}

func dice(player string, stake uint64) PlaceRequest {
	return PlaceRequest{
		Player:     player,
		Game:       domain.GameDice,
		Stake:      stake,
		ClientSeed: "abc",
		Params:     domain.GameParams{Threshold: 50, Direction: "under"},
	}
}
