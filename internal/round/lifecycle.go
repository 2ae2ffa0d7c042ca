package round

import (
	"context"
	"time"

	"fairwager/internal/custody"
	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/game"
	"fairwager/internal/metrics"
	"fairwager/internal/settlement"

	"github.com/sethvargo/go-retry"
)

const reasonUnrecoverable = "unrecoverable"

// closedError explains why a final round refuses an operation
func closedError(r *domain.Round) error {
	switch {
	case r.Status == domain.StatusExpired:
		return domain.ErrRoundExpired
	case r.Status == domain.StatusFailed && r.FailureReason == reasonUnrecoverable:
		return domain.ErrSeedUnavailable
	default:
		return domain.ErrRoundClosed
	}
}

func checkSeed(r *domain.Round) error {
	if len(r.ServerSeed) != fairness.SeedSize || !fairness.VerifyCommitment(r.ServerSeed, r.ServerSeedHash) {
		return domain.ErrSeedUnavailable
	}
	return nil
}

func (a *actor) input() game.Input {
	r := a.round
	return game.Input{
		ServerSeed: r.ServerSeed,
		ClientSeed: r.ClientSeed,
		Nonce:      r.Nonce,
		Player:     r.Player,
		Params:     r.Params,
		RTPBps:     r.RTPBps,
		FeeBps:     r.FeeBps,
		Progress:   r.Progress,
	}
}

func (a *actor) lock(ctx context.Context) (*domain.Round, error) {
	r := a.round
	switch r.Status {
	case domain.StatusCreated:
	case domain.StatusLocked, domain.StatusInPlay, domain.StatusResolved:
		return r.Clone(), nil
	default:
		return nil, closedError(r)
	}
	if a.m.now().After(r.ExpiresAt) {
		if _, err := a.expire(ctx); err != nil {
			return nil, err
		}
		return nil, domain.ErrRoundExpired
	}

	backend, err := a.m.custody.For(r.Mode)
	if err != nil {
		return nil, err
	}
	receipt, err := backend.Lock(ctx, custody.LockRequest{Nonce: r.Nonce, Player: r.Player, Stake: r.Stake})
	if err != nil {
		return nil, a.custodyFailed(ctx, "lock", err)
	}

	now := a.m.now()
	r.LockReceipt = receipt
	r.LockedAt = &now
	if err := a.transition(ctx, domain.StatusLocked); err != nil {
		return nil, err
	}
	a.lastActive = now
	a.m.emit(r, domain.EventLocked, domain.LockedPayload{
		Nonce:          r.Nonce,
		ServerSeedHash: r.ServerSeedHash,
		Mode:           r.Mode,
		Receipt:        receipt,
	})
	a.log.Info("stake locked", "mode", r.Mode, "reference", receipt.Reference)

	if r.Kind == domain.GameCoinflip && r.Params.MatchNonce != 0 {
		return a.joinMatch(ctx)
	}
	return r.Clone(), nil
}

// custodyFailed keeps the round for recoverable errors and fails it when
// custody may have moved funds without confirmation
func (a *actor) custodyFailed(ctx context.Context, op string, err error) error {
	r := a.round
	switch domain.CodeOf(err) {
	case domain.CodeInsufficientFunds:
		a.m.emit(r, domain.EventWarning, domain.ErrorPayload{Code: domain.CodeInsufficientFunds, Message: domain.MessageOf(err)})
		a.m.auditCustodyWarning(ctx, r, op, err)
		a.log.Warn("custody warning", "op", op, "error", err)
		return err
	case domain.CodeConfirmationFailed, domain.CodeCustodyRejected:
		a.log.Error("custody failed", "op", op, "error", err)
		if ferr := a.fail(ctx, op+": "+domain.MessageOf(err)); ferr != nil {
			return ferr
		}
		return err
	default:
		a.log.Error("custody error", "op", op, "error", err)
		return err
	}
}

func (a *actor) step(ctx context.Context, act game.Action) (*domain.Round, error) {
	r := a.round
	switch r.Status {
	case domain.StatusCreated:
		return nil, domain.ErrNotLocked
	case domain.StatusLocked, domain.StatusInPlay:
	default:
		return nil, closedError(r)
	}
	if r.SettlementPending() {
		return nil, domain.ErrRoundClosed
	}
	if r.RefundConfirmed() {
		return nil, a.finishExpiry(ctx)
	}
	stepper, ok := a.m.games.MustFor(r.Kind).(game.Stepper)
	if !ok {
		return nil, domain.Validationf("%s has no in-play actions", r.Kind)
	}
	res, err := stepper.Step(a.input(), act)
	if err != nil {
		return nil, err
	}

	r.Progress = res.Progress
	a.lastActive = a.m.now()
	if r.Status == domain.StatusLocked {
		if err := a.transition(ctx, domain.StatusInPlay); err != nil {
			return nil, err
		}
	} else {
		r.Version++
		r.UpdatedAt = a.lastActive
		a.m.mirror.push(r.Clone())
	}
	a.m.emit(r, domain.EventProgress, domain.ProgressPayload{
		Nonce:         r.Nonce,
		Progress:      r.Progress,
		MultiplierBps: res.MultiplierBps,
	})

	if res.Done {
		return a.resolve(ctx)
	}
	return r.Clone(), nil
}

func (a *actor) resolve(ctx context.Context) (*domain.Round, error) {
	r := a.round
	switch r.Status {
	case domain.StatusResolved:
		return r.Clone(), nil
	case domain.StatusCreated:
		return nil, domain.ErrNotLocked
	case domain.StatusLocked, domain.StatusInPlay:
	default:
		return nil, closedError(r)
	}
	if r.SettlementPending() {
		return a.settle(ctx)
	}
	if r.RefundConfirmed() {
		return nil, a.finishExpiry(ctx)
	}
	if r.Kind == domain.GameCoinflip {
		return nil, domain.ErrAwaitingOpponent
	}

	g := a.m.games.MustFor(r.Kind)
	if stepper, ok := g.(game.Stepper); ok {
		if err := stepper.CanCashOut(r.Params, r.Progress); err != nil {
			return nil, err
		}
	}
	o, err := g.Derive(a.input())
	if err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "derive outcome", err)
	}
	payout, err := g.Payout(r.Stake, o, r.Params, r.RTPBps, r.FeeBps)
	if err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "compute payout", err)
	}
	if err := settlement.CheckBounds(payout, r.Stake, g.MaxMultiplierBps(r.Params, r.RTPBps)); err != nil {
		a.log.Error("payout out of bounds", "payout", payout, "error", err)
		return nil, domain.WrapError(domain.CodeInternal, "payout out of bounds", err)
	}
	return a.recordOutcome(ctx, o, payout)
}

// recordOutcome makes the outcome durable before any funds move, then settles
func (a *actor) recordOutcome(ctx context.Context, o *domain.Outcome, payout uint64) (*domain.Round, error) {
	r := a.round
	r.Outcome = o
	r.PendingPayout = payout
	r.Version++
	r.UpdatedAt = a.m.now()
	if err := a.m.persist(ctx, r); err != nil {
		r.Outcome = nil
		r.PendingPayout = 0
		r.Version--
		return nil, err
	}
	return a.settle(ctx)
}

// settle releases the recorded payout. It never derives again, and once
// custody has confirmed the release only the Resolved transition is retried.
func (a *actor) settle(ctx context.Context) (*domain.Round, error) {
	r := a.round
	receipt := r.ReleaseReceipt
	if r.ReleaseConfirmed() {
		a.log.Warn("release already confirmed, completing resolution", "reference", receipt.Reference)
	} else {
		var err error
		receipt, err = a.release(ctx, custody.ReleaseSettle, r.PendingPayout)
		if err != nil {
			return nil, a.custodyFailed(ctx, "release", err)
		}
		r.ReleaseReceipt = receipt
	}

	now := a.m.now()
	r.ResolvedAt = &now
	r.Payout = r.PendingPayout
	if err := a.transition(ctx, domain.StatusResolved); err != nil {
		r.ResolvedAt = nil
		r.Payout = 0
		return nil, err
	}
	if r.Stake > 0 {
		metrics.Payouts.WithLabelValues(string(r.Kind)).Observe(float64(r.Payout) / float64(r.Stake))
	}
	a.m.emit(r, domain.EventResolved, domain.ResolvedPayload{
		Nonce:   r.Nonce,
		Outcome: r.Outcome,
		Payout:  r.Payout,
		Receipt: receipt,
	})
	if rev, err := a.m.reveal(ctx, r); err == nil {
		a.m.emit(r, domain.EventRevealSeed, rev)
	} else {
		a.log.Warn("seed reveal deferred", "error", err)
	}
	a.log.Info("round resolved", "payout", r.Payout, "win", r.Outcome.Win)
	return r.Clone(), nil
}

// release calls custody, resuming a submission recorded by an earlier attempt
func (a *actor) release(ctx context.Context, kind custody.ReleaseKind, amount uint64) (*domain.Receipt, error) {
	r := a.round
	backend, err := a.m.custody.For(r.Mode)
	if err != nil {
		return nil, err
	}
	req := custody.ReleaseRequest{
		Nonce:  r.Nonce,
		Player: r.Player,
		Stake:  r.Stake,
		Amount: amount,
		Kind:   kind,
		OnSubmitted: func(reference string) {
			r.ReleaseReceipt = &domain.Receipt{Backend: r.Mode, Reference: reference, Amount: amount, CreatedAt: a.m.now()}
			r.Version++
			if err := a.m.persist(ctx, r); err != nil {
				a.log.Error("persist submitted release", "reference", reference, "error", err)
			}
		},
	}
	if r.ReleaseReceipt != nil && !r.ReleaseReceipt.Confirmed {
		req.Submitted = r.ReleaseReceipt.Reference
	}
	return backend.Release(ctx, req)
}

// expire closes a round nobody finished in time, refunding a locked stake
func (a *actor) expire(ctx context.Context) (*domain.Round, error) {
	r := a.round
	if r.Status == domain.StatusLocked && !r.RefundConfirmed() {
		if err := a.refund(ctx); err != nil {
			return nil, a.custodyFailed(ctx, "refund", err)
		}
	}
	if err := a.transition(ctx, domain.StatusExpired); err != nil {
		return nil, err
	}
	a.m.emit(r, domain.EventExpired, domain.ClosedPayload{Nonce: r.Nonce, Status: r.Status, Refund: r.Refund})
	a.log.Info("round expired", "refund", r.Refund)
	return r.Clone(), nil
}

// finishExpiry completes an expiry whose refund went through but whose
// transition did not persist
func (a *actor) finishExpiry(ctx context.Context) error {
	if _, err := a.expire(ctx); err != nil {
		return err
	}
	return domain.ErrRoundExpired
}

// refund pays the locked stake back. The receipt stays on the round even if a
// later transition fails, so a retry never refunds twice.
func (a *actor) refund(ctx context.Context) error {
	r := a.round
	receipt, err := a.release(ctx, custody.ReleaseRefund, r.Stake)
	if err != nil {
		return err
	}
	r.ReleaseReceipt = receipt
	r.Refund = r.Stake
	return nil
}

func (a *actor) fail(ctx context.Context, reason string) error {
	r := a.round
	r.FailureReason = reason
	if err := a.transition(ctx, domain.StatusFailed); err != nil {
		return err
	}
	a.m.emit(r, domain.EventFailed, domain.ClosedPayload{Nonce: r.Nonce, Status: r.Status, Reason: reason})
	return nil
}

// tick is delivered by the sweeper
func (a *actor) tick(ctx context.Context, now time.Time) (*domain.Round, error) {
	r := a.round
	switch {
	case r.Status.Final():
		return r.Clone(), nil
	case r.SettlementPending():
		return a.settle(ctx)
	case (r.Status == domain.StatusCreated || r.Status == domain.StatusLocked) && now.After(r.ExpiresAt):
		return a.expire(ctx)
	case r.Status == domain.StatusInPlay && now.Sub(a.lastActive) >= a.m.cfg.IdleTimeout:
		a.log.Info("idle round auto-resolved", "idle", now.Sub(a.lastActive))
		return a.resolve(ctx)
	}
	return r.Clone(), nil
}

// transition moves the round to status and persists it. On a failed write the
// in-memory state is rolled back so memory never runs ahead of the store.
func (a *actor) transition(ctx context.Context, to domain.RoundStatus) error {
	r := a.round
	if !r.Status.CanTransition(to) {
		return domain.NewError(domain.CodeInvalidState, "cannot move from "+string(r.Status)+" to "+string(to))
	}
	prev, prevUpdated := r.Status, r.UpdatedAt
	r.Status = to
	r.Version++
	r.UpdatedAt = a.m.now()
	if err := a.m.persist(ctx, r); err != nil {
		r.Status, r.UpdatedAt = prev, prevUpdated
		r.Version--
		return err
	}
	a.m.recordTransition(ctx, r)
	return nil
}

// persist writes r synchronously with a short bounded retry
func (m *Manager) persist(ctx context.Context, r *domain.Round) error {
	snapshot := r.Clone()
	b := retry.WithMaxRetries(2, retry.NewExponential(50*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := m.store.SaveRound(ctx, snapshot); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return domain.WrapError(domain.CodeInternal, "persist round", err)
	}
	m.mirror.pushSession(snapshot)
	return nil
}

// failClosed marks a round whose seed cannot be trusted as Failed. A stake
// locked for a round that never recorded an outcome is refunded first.
func (m *Manager) failClosed(ctx context.Context, r *domain.Round) {
	a := detached(m, r)
	a.log.Error("server seed unavailable, failing round closed", "status", r.Status)
	if (r.Status == domain.StatusLocked || r.Status == domain.StatusInPlay) && r.Outcome == nil && !r.RefundConfirmed() {
		if err := a.refund(ctx); err != nil {
			a.log.Error("refund of unrecoverable round failed, stake needs manual release", "stake", r.Stake, "error", err)
		} else {
			a.log.Info("stake refunded", "refund", r.Refund)
		}
	}
	if err := a.fail(ctx, reasonUnrecoverable); err != nil {
		a.log.Error("could not persist unrecoverable round", "error", err)
	}
}
