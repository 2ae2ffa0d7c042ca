package custody

import (
	"context"
	"math"
	"strconv"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/metrics"
)

// Ledger is the durable store behind promotional play.
// Apply records an entry exactly once per (nonce, kind): a replay returns the
// stored entry with applied=false and changes nothing. A debit larger than the
// balance fails with a CodeInsufficientFunds error.
type Ledger interface {
	Apply(ctx context.Context, entry domain.LedgerEntry) (stored domain.LedgerEntry, applied bool, err error)
}

// PromotionalLedger settles rounds entirely inside the database
type PromotionalLedger struct {
	ledger Ledger
}

func NewPromotionalLedger(l Ledger) *PromotionalLedger {
	return &PromotionalLedger{ledger: l}
}

func (p *PromotionalLedger) Mode() domain.Mode { return domain.ModePromotionalLedger }

func (p *PromotionalLedger) Lock(ctx context.Context, req LockRequest) (*domain.Receipt, error) {
	if req.Stake == 0 || req.Stake > math.MaxInt64 {
		return nil, domain.Validationf("stake out of range")
	}
	entry, _, err := p.ledger.Apply(ctx, domain.LedgerEntry{
		Nonce:  req.Nonce,
		Kind:   domain.LedgerLock,
		Player: req.Player,
		Delta:  -int64(req.Stake),
	})
	metrics.Custody(string(p.Mode()), "lock", err)
	if err != nil {
		return nil, err
	}
	return p.receipt(entry, req.Stake), nil
}

func (p *PromotionalLedger) Release(ctx context.Context, req ReleaseRequest) (*domain.Receipt, error) {
	if req.Amount > math.MaxInt64 {
		return nil, domain.Validationf("amount out of range")
	}
	kind := domain.LedgerRelease
	if req.Kind == ReleaseRefund {
		kind = domain.LedgerRefund
	}
	entry, _, err := p.ledger.Apply(ctx, domain.LedgerEntry{
		Nonce:  req.Nonce,
		Kind:   kind,
		Player: req.Player,
		Delta:  int64(req.Amount),
	})
	metrics.Custody(string(p.Mode()), "release", err)
	if err != nil {
		return nil, err
	}
	return p.receipt(entry, req.Amount), nil
}

func (p *PromotionalLedger) receipt(entry domain.LedgerEntry, amount uint64) *domain.Receipt {
	balance := entry.BalanceAfter
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &domain.Receipt{
		Backend:      p.Mode(),
		Reference:    "ledger:" + strconv.FormatInt(entry.ID, 10),
		Amount:       amount,
		BalanceAfter: &balance,
		Confirmed:    true,
		CreatedAt:    created,
	}
}
