package round

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/game"
	"fairwager/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDicePlaceAndResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.grant(t, "bob", 1000)

	r, err := h.m.Place(ctx, dice("bob", 100))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLocked, r.Status)
	assert.Equal(t, domain.ModePromotionalLedger, r.Mode)
	assert.Nil(t, r.ServerSeed, "seed must not leave the engine before resolution")
	assert.Equal(t, uint64(900), h.ledger.Balance("bob"))

	stored := h.seed(t, r.Nonce)
	roll := game.Roll(stored.ServerSeed, "abc", r.Nonce)

	resolved, err := h.m.Resolve(ctx, "bob", r.Nonce)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Outcome)
	assert.Equal(t, roll, resolved.Outcome.Roll)
	assert.Equal(t, roll < 50, resolved.Outcome.Win)

	var want uint64
	if roll < 50 {
		want = 100 * 9900 / (100 * 49)
	}
	assert.Equal(t, want, resolved.Payout)
	assert.Equal(t, 900+want, h.ledger.Balance("bob"))

	assert.Equal(t, []domain.EventType{
		domain.EventCommitted,
		domain.EventLocked,
		domain.EventResolved,
		domain.EventRevealSeed,
	}, h.sink.types(r.Nonce))

	rev, err := h.m.Reveal(ctx, r.Nonce)
	require.NoError(t, err)
	seed, err := fairness.DecodeSeed(rev.ServerSeed)
	require.NoError(t, err)
	assert.Equal(t, r.ServerSeedHash, fairness.HashSeed(seed))

	v, err := h.m.Verify(ctx, r.Nonce)
	require.NoError(t, err)
	assert.True(t, v.Match)
}

func TestResolveTwiceReleasesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.m.Place(ctx, dice("alice", 100))
	require.NoError(t, err)
	assert.Equal(t, domain.ModeRealEscrow, r.Mode)

	first, err := h.m.Resolve(ctx, "alice", r.Nonce)
	require.NoError(t, err)
	second, err := h.m.Resolve(ctx, "alice", r.Nonce)
	require.NoError(t, err)

	assert.Equal(t, first.Payout, second.Payout)
	assert.Equal(t, first.Outcome, second.Outcome)
	_, releases := h.escrow.counts()
	assert.Equal(t, 1, releases)
}

func TestConcurrentResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.m.Place(ctx, dice("alice", 100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	payouts := make([]uint64, 10)
	errs := make([]error, 10)
	for i := range payouts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.m.Resolve(ctx, "alice", r.Nonce)
			errs[i] = err
			if err == nil {
				payouts[i] = res.Payout
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, payouts[0], payouts[i])
	}
	_, releases := h.escrow.counts()
	assert.Equal(t, 1, releases)
	assert.Equal(t, payouts[0], h.escrow.released[r.Nonce])
}

func TestLockIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.m.Create(ctx, dice("alice", 100))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, r.Status)

	_, err = h.m.Lock(ctx, "alice", r.Nonce)
	require.NoError(t, err)
	again, err := h.m.Lock(ctx, "alice", r.Nonce)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLocked, again.Status)

	locks, _ := h.escrow.counts()
	assert.Equal(t, 1, locks)
}

func TestResolveBeforeLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.m.Create(ctx, dice("alice", 100))
	require.NoError(t, err)

	_, err = h.m.Resolve(ctx, "alice", r.Nonce)
	require.ErrorIs(t, err, domain.ErrNotLocked)
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestInsufficientPromoBalanceKeepsRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.grant(t, "bob", 50)

	r, err := h.m.Place(ctx, dice("bob", 100))
	require.Error(t, err)
	assert.Equal(t, domain.CodeInsufficientFunds, domain.CodeOf(err))
	require.NotNil(t, r)

	got, err := h.m.Get(ctx, "bob", r.Nonce)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, got.Status)
	assert.Equal(t, uint64(50), h.ledger.Balance("bob"))
	assert.Contains(t, h.sink.types(r.Nonce), domain.EventWarning)

	// topping up lets the same round lock
	h.grant(t, "bob", 100)
	locked, err := h.m.Lock(ctx, "bob", r.Nonce)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLocked, locked.Status)
	assert.Equal(t, uint64(50), h.ledger.Balance("bob"))
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  PlaceRequest
	}{
		{"unknown game", PlaceRequest{Player: "alice", Game: "roulette", Stake: 10}},
		{"zero stake", PlaceRequest{Player: "alice", Game: domain.GameDice, Stake: 0, Params: domain.GameParams{Threshold: 50, Direction: "under"}}},
		{"stake above max", PlaceRequest{Player: "alice", Game: domain.GameDice, Stake: 2_000_000, Params: domain.GameParams{Threshold: 50, Direction: "under"}}},
		{"bad threshold", PlaceRequest{Player: "alice", Game: domain.GameDice, Stake: 10, Params: domain.GameParams{Threshold: 100, Direction: "under"}}},
		{"separator in client seed", PlaceRequest{Player: "alice", Game: domain.GameDice, Stake: 10, ClientSeed: "a:b", Params: domain.GameParams{Threshold: 50, Direction: "under"}}},
		{"no player", PlaceRequest{Game: domain.GameDice, Stake: 10, Params: domain.GameParams{Threshold: 50, Direction: "under"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.m.Create(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
		})
	}
}

func TestEmptyClientSeedIsGenerated(t *testing.T) {
	h := newHarness(t)
	req := dice("alice", 10)
	req.ClientSeed = ""

	r, err := h.m.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, r.ClientSeed, 32)
}

func TestWrongPlayer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.m.Place(ctx, dice("alice", 100))
	require.NoError(t, err)

	_, err = h.m.Resolve(ctx, "mallory", r.Nonce)
	require.ErrorIs(t, err, domain.ErrNotPlayer)
	_, err = h.m.Get(ctx, "mallory", r.Nonce)
	require.ErrorIs(t, err, domain.ErrNotPlayer)
}

func TestRevealBeforeResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.m.Place(ctx, dice("alice", 100))
	require.NoError(t, err)

	_, err = h.m.Reveal(ctx, r.Nonce)
	require.ErrorIs(t, err, domain.ErrRevealNotAllowed)
}

func TestUnknownRound(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.Resolve(context.Background(), "alice", 404)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestMinesHitBomb(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := PlaceRequest{Player: "alice", Game: domain.GameMines, Stake: 1000, ClientSeed: "abc", Params: domain.GameParams{Mines: 3}}
	r, err := h.m.Place(ctx, req)
	require.NoError(t, err)

	stored := h.seed(t, r.Nonce)
	bombs, err := game.Bombs(stored.ServerSeed, "alice", "abc", r.Nonce, 3)
	require.NoError(t, err)

	res, err := h.m.Step(ctx, "alice", r.Nonce, game.Action{Type: game.ActionOpenCell, Cell: bombs[0]})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, res.Status)
	require.NotNil(t, res.Outcome.HitBomb)
	assert.Equal(t, bombs[0], *res.Outcome.HitBomb)
	assert.Zero(t, res.Payout)
	assert.Zero(t, h.escrow.released[r.Nonce])

	_, err = h.m.Step(ctx, "alice", r.Nonce, game.Action{Type: game.ActionOpenCell, Cell: (bombs[0] + 1) % game.MinesCells})
	require.ErrorIs(t, err, domain.ErrRoundClosed)
}

func TestMinesCashOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := PlaceRequest{Player: "alice", Game: domain.GameMines, Stake: 1000, ClientSeed: "abc", Params: domain.GameParams{Mines: 3}}
	r, err := h.m.Place(ctx, req)
	require.NoError(t, err)

	_, err = h.m.Resolve(ctx, "alice", r.Nonce)
	require.Error(t, err, "nothing opened yet")
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))

	stored := h.seed(t, r.Nonce)
	bombs, err := game.Bombs(stored.ServerSeed, "alice", "abc", r.Nonce, 3)
	require.NoError(t, err)
	var safe []int
	for c := 0; c < game.MinesCells && len(safe) < 2; c++ {
		if !slices.Contains(bombs, c) {
			safe = append(safe, c)
		}
	}

	for i, c := range safe {
		res, err := h.m.Step(ctx, "alice", r.Nonce, game.Action{Type: game.ActionOpenCell, Cell: c})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInPlay, res.Status)
		assert.Len(t, res.Progress.Opened, i+1)
	}

	res, err := h.m.Resolve(ctx, "alice", r.Nonce)
	require.NoError(t, err)
	assert.True(t, res.Outcome.Win)
	// floor(1000 * 9900 * 25 * 24 / (10000 * 22 * 21))
	assert.Equal(t, uint64(1285), res.Payout)
	assert.Equal(t, uint64(1285), h.escrow.released[r.Nonce])

	v, err := h.m.Verify(ctx, r.Nonce)
	require.NoError(t, err)
	assert.True(t, v.Match)
}

func TestPlinkoDropsResolveOnLastBall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := PlaceRequest{Player: "alice", Game: domain.GamePlinko, Stake: 1000, ClientSeed: "abc",
		Params: domain.GameParams{Rows: 8, Difficulty: "low", Balls: 2}}
	r, err := h.m.Place(ctx, req)
	require.NoError(t, err)

	res, err := h.m.Step(ctx, "alice", r.Nonce, game.Action{Type: game.ActionDrop})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInPlay, res.Status)
	assert.Len(t, res.Progress.Drops, 1)

	res, err = h.m.Step(ctx, "alice", r.Nonce, game.Action{Type: game.ActionDrop})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, res.Status)
	assert.Equal(t, res.Progress.Drops, res.Outcome.Bins)

	v, err := h.m.Verify(ctx, r.Nonce)
	require.NoError(t, err)
	assert.True(t, v.Match)
}

func TestSingleShotGamesVerify(t *testing.T) {
	tests := []struct {
		name string
		req  PlaceRequest
	}{
		{"dice over", PlaceRequest{Game: domain.GameDice, Params: domain.GameParams{Threshold: 30, Direction: "over"}}},
		{"slots", PlaceRequest{Game: domain.GameSlots}},
		{"crash", PlaceRequest{Game: domain.GameCrash, Params: domain.GameParams{TargetBps: 20000}}},
		{"plinko without drops", PlaceRequest{Game: domain.GamePlinko, Params: domain.GameParams{Rows: 12, Difficulty: "high", Balls: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			req := tt.req
			req.Player, req.Stake, req.ClientSeed = "alice", 500, "seed"

			r, err := h.m.Place(ctx, req)
			require.NoError(t, err)
			res, err := h.m.Resolve(ctx, "alice", r.Nonce)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusResolved, res.Status)

			v, err := h.m.Verify(ctx, r.Nonce)
			require.NoError(t, err)
			assert.True(t, v.Match)
			assert.Equal(t, res.Payout, h.escrow.released[r.Nonce])
		})
	}
}

func TestConfirmationFailureFailsRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := dice("alice", 1000)
	req.Params.Threshold = 99
	r, err := h.m.Place(ctx, req)
	require.NoError(t, err)

	h.escrow.mu.Lock()
	h.escrow.releaseErr = domain.NewError(domain.CodeConfirmationFailed, "not confirmed")
	h.escrow.mu.Unlock()

	_, err = h.m.Resolve(ctx, "alice", r.Nonce)
	assert.Equal(t, domain.CodeConfirmationFailed, domain.CodeOf(err))

	got, err := h.m.Get(ctx, "alice", r.Nonce)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)
	assert.Contains(t, h.sink.types(r.Nonce), domain.EventFailed)

	// nothing was paid, so a failed round never reports a payout
	stored, err := h.store.GetRound(ctx, r.Nonce)
	require.NoError(t, err)
	assert.Zero(t, got.Payout)
	assert.Zero(t, stored.Payout)
	require.NotNil(t, stored.Outcome)
	if stored.Outcome.Win {
		assert.Positive(t, stored.PendingPayout)
	}
}

func TestResolveRetriesOnlyTheTransitionAfterConfirmedRelease(t *testing.T) {
	sealer, err := fairness.NewSealer(sealKey)
	require.NoError(t, err)
	mem := repository.NewMemoryRoundStore(sealer)
	store := &flakyStore{MemoryRoundStore: mem, status: domain.StatusResolved, fails: 3}
	h := newHarnessOver(t, store, mem, repository.NewMemoryLedger(), &fakeEscrow{})
	ctx := context.Background()

	req := dice("alice", 1000)
	req.Params.Threshold = 99
	r, err := h.m.Place(ctx, req)
	require.NoError(t, err)

	_, err = h.m.Resolve(ctx, "alice", r.Nonce)
	assert.Equal(t, domain.CodeInternal, domain.CodeOf(err))

	pending, err := h.m.Get(ctx, "alice", r.Nonce)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLocked, pending.Status)
	assert.Zero(t, pending.Payout)

	res, err := h.m.Resolve(ctx, "alice", r.Nonce)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, res.Status)
	assert.Equal(t, res.PendingPayout, res.Payout)

	_, releases := h.escrow.counts()
	assert.Equal(t, 1, releases)
	assert.Equal(t, res.Payout, h.escrow.released[r.Nonce])
}

func TestExpiryAfterFailedPersistRefundsOnce(t *testing.T) {
	sealer, err := fairness.NewSealer(sealKey)
	require.NoError(t, err)
	mem := repository.NewMemoryRoundStore(sealer)
	store := &flakyStore{MemoryRoundStore: mem, status: domain.StatusExpired, fails: 3}
	h := newHarnessOver(t, store, mem, repository.NewMemoryLedger(), &fakeEscrow{})
	ctx := context.Background()

	r, err := h.m.Place(ctx, dice("alice", 100))
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	h.m.Sweep(ctx, h.clock.Now())
	// a resolve in between must not pay on top of the refund
	_, err = h.m.Resolve(ctx, "alice", r.Nonce)
	require.ErrorIs(t, err, domain.ErrRoundExpired)

	got, err := mem.GetRound(ctx, r.Nonce)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Equal(t, uint64(100), got.Refund)
	_, releases := h.escrow.counts()
	assert.Equal(t, 1, releases)
	assert.Equal(t, uint64(100), h.escrow.released[r.Nonce])
}

func TestHistoryListsResolvedRounds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := h.m.Place(ctx, dice("alice", 10))
		require.NoError(t, err)
		_, err = h.m.Resolve(ctx, "alice", r.Nonce)
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	page, err := h.m.History(ctx, "alice", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Rounds, 2)
	assert.NotEmpty(t, page.NextCursor)
	assert.Greater(t, page.Rounds[0].Nonce, page.Rounds[1].Nonce)

	rest, err := h.m.History(ctx, "alice", page.NextCursor, 2)
	require.NoError(t, err)
	assert.Len(t, rest.Rounds, 1)
	assert.Empty(t, rest.NextCursor)
}

func TestActiveListsOpenRounds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	open, err := h.m.Place(ctx, dice("alice", 10))
	require.NoError(t, err)
	done, err := h.m.Place(ctx, dice("alice", 10))
	require.NoError(t, err)
	_, err = h.m.Resolve(ctx, "alice", done.Nonce)
	require.NoError(t, err)

	other, err := h.m.Place(ctx, dice("bob", 10))
	require.NoError(t, err)

	active := h.m.Active(ctx, "alice")
	require.Len(t, active, 1)
	assert.Equal(t, open.Nonce, active[0].Nonce)
	assert.Nil(t, active[0].ServerSeed)

	// only the player's own actors are asked
	owned := h.m.arena.ownedBy("bob")
	require.Len(t, owned, 1)
	assert.Equal(t, "bob", owned[0].player)
	bobs := h.m.Active(ctx, "bob")
	require.Len(t, bobs, 1)
	assert.Equal(t, other.Nonce, bobs[0].Nonce)
}
