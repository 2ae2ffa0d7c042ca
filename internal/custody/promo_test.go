package custody_test

import (
	"context"
	"testing"

	"fairwager/internal/custody"
	"fairwager/internal/domain"
	"fairwager/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromotionalLockAndRelease(t *testing.T) {
	ctx := context.Background()
	ledger := repository.NewMemoryLedger()
	_, err := ledger.Grant(ctx, "alice", 1000)
	require.NoError(t, err)
	promo := custody.NewPromotionalLedger(ledger)

	lock, err := promo.Lock(ctx, custody.LockRequest{Nonce: 1, Player: "alice", Stake: 400})
	require.NoError(t, err)
	assert.True(t, lock.Confirmed)
	require.NotNil(t, lock.BalanceAfter)
	assert.Equal(t, uint64(600), *lock.BalanceAfter)

	// a retried lock does not debit twice
	again, err := promo.Lock(ctx, custody.LockRequest{Nonce: 1, Player: "alice", Stake: 400})
	require.NoError(t, err)
	assert.Equal(t, lock.Reference, again.Reference)
	assert.Equal(t, uint64(600), ledger.Balance("alice"))

	release, err := promo.Release(ctx, custody.ReleaseRequest{Nonce: 1, Player: "alice", Stake: 400, Amount: 792, Kind: custody.ReleaseSettle})
	require.NoError(t, err)
	assert.Equal(t, uint64(1392), *release.BalanceAfter)

	_, err = promo.Release(ctx, custody.ReleaseRequest{Nonce: 1, Player: "alice", Stake: 400, Amount: 792, Kind: custody.ReleaseSettle})
	require.NoError(t, err)
	assert.Equal(t, uint64(1392), ledger.Balance("alice"), "release is exactly-once")
}

func TestPromotionalInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	ledger := repository.NewMemoryLedger()
	_, err := ledger.Grant(ctx, "alice", 100)
	require.NoError(t, err)
	promo := custody.NewPromotionalLedger(ledger)

	_, err = promo.Lock(ctx, custody.LockRequest{Nonce: 7, Player: "alice", Stake: 101})
	require.Error(t, err)
	assert.Equal(t, domain.CodeInsufficientFunds, domain.CodeOf(err))
	assert.Equal(t, uint64(100), ledger.Balance("alice"))
}

func TestPromotionalRefund(t *testing.T) {
	ctx := context.Background()
	ledger := repository.NewMemoryLedger()
	_, err := ledger.Grant(ctx, "alice", 100)
	require.NoError(t, err)
	promo := custody.NewPromotionalLedger(ledger)

	_, err = promo.Lock(ctx, custody.LockRequest{Nonce: 3, Player: "alice", Stake: 100})
	require.NoError(t, err)
	_, err = promo.Release(ctx, custody.ReleaseRequest{Nonce: 3, Player: "alice", Stake: 100, Amount: 100, Kind: custody.ReleaseRefund})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), ledger.Balance("alice"))
}

func TestSelectorPicksModeByPlayer(t *testing.T) {
	ctx := context.Background()
	ledger := repository.NewMemoryLedger()
	_, err := ledger.Grant(ctx, "promo", 10)
	require.NoError(t, err)

	s := custody.NewSelector(ledger, custody.NewPromotionalLedger(ledger))
	mode, err := s.ModeFor(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, domain.ModePromotionalLedger, mode)

	_, err = s.ModeFor(ctx, "real")
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err), "no escrow backend configured")

	_, err = s.For(domain.ModeRealEscrow)
	assert.Error(t, err)
}
