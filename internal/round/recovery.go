package round

import (
	"context"

	"fairwager/internal/domain"
	"fairwager/internal/logger"
)

// RecoveryReport summarises a restart
type RecoveryReport struct {
	Resumed int
	Settled int
	Failed  int
}

// Recover reloads unfinished rounds after a restart. A round whose seed is
// missing or does not match its commitment fails closed as unrecoverable;
// a recorded outcome is settled with its stored payout and never derived again.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport

	highest, err := m.store.MaxNonce(ctx)
	if err != nil {
		return rep, err
	}
	for {
		cur := m.nonce.Load()
		if cur >= highest || m.nonce.CompareAndSwap(cur, highest) {
			break
		}
	}

	rounds, err := m.store.ListUnfinished(ctx)
	if err != nil {
		return rep, err
	}
	for _, r := range rounds {
		if err := checkSeed(r); err != nil {
			m.failClosed(ctx, r)
			rep.Failed++
			continue
		}
		a := m.arena.spawn(m, r)
		rep.Resumed++
		if !r.SettlementPending() {
			continue
		}
		if _, err := a.do(ctx, (*actor).settle); err != nil {
			logger.ForRound(r.Nonce, string(r.Kind)).Error("pending settlement not completed", "error", err)
			if domain.CodeOf(err) == domain.CodeConfirmationFailed || domain.CodeOf(err) == domain.CodeCustodyRejected {
				rep.Failed++
			}
			continue
		}
		rep.Settled++
	}
	logger.Info("rounds recovered", "resumed", rep.Resumed, "settled", rep.Settled, "failed", rep.Failed)
	return rep, nil
}
