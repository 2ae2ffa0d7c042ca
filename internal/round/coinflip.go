package round

import (
	"context"
	"encoding/hex"

	"fairwager/internal/domain"
	"fairwager/internal/game"
	"fairwager/internal/settlement"
)

var errMatchUnavailable = domain.NewError(domain.CodeInvalidState, "match is no longer available")

// prepareJoin checks the round a coinflip joiner wants to match and fixes the
// joiner's face to the opposite side
func (m *Manager) prepareJoin(ctx context.Context, req *PlaceRequest) error {
	creator, err := m.snapshot(ctx, req.Params.MatchNonce)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeNotFound {
			return domain.Validationf("match %d not found", req.Params.MatchNonce)
		}
		return err
	}
	switch {
	case creator.Kind != domain.GameCoinflip:
		return domain.Validationf("round %d is not a coinflip", creator.Nonce)
	case creator.Params.MatchNonce != 0 || creator.MatchedWith != 0 || creator.Status != domain.StatusLocked:
		return errMatchUnavailable
	case creator.Player == req.Player:
		return domain.Validationf("cannot join your own match")
	case creator.Stake != req.Stake:
		return domain.Validationf("stake must equal the creator's stake of %d", creator.Stake)
	}
	want := game.OppositeFace(creator.Params.Face)
	if req.Params.Face == "" {
		req.Params.Face = want
	}
	if req.Params.Face != want {
		return domain.Validationf("face must be %q to join this match", want)
	}
	return nil
}

// matchResult is what the creator's actor hands back to the joiner's
type matchResult struct {
	outcome *domain.Outcome
	payout  uint64
}

// joinMatch runs on the joiner's actor right after its stake is locked
func (a *actor) joinMatch(ctx context.Context) (*domain.Round, error) {
	joiner := a.round.Clone()
	var res matchResult
	_, err := a.m.call(ctx, joiner.Params.MatchNonce, "", func(ca *actor, ctx context.Context) (*domain.Round, error) {
		var err error
		res, err = ca.settleMatch(ctx, joiner)
		return nil, err
	})
	if err != nil {
		a.log.Warn("match could not settle, refunding joiner", "match", joiner.Params.MatchNonce, "error", err)
		if _, rerr := a.expire(ctx); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}
	return a.recordOutcome(ctx, res.outcome, res.payout)
}

// settleMatch runs on the creator's actor. The flip is derived once from the
// creator's commitment and both rounds receive their side of it.
func (a *actor) settleMatch(ctx context.Context, joiner *domain.Round) (matchResult, error) {
	r := a.round
	if r.Status != domain.StatusLocked || r.MatchedWith != 0 || r.Outcome != nil {
		return matchResult{}, errMatchUnavailable
	}
	if a.m.now().After(r.ExpiresAt) {
		return matchResult{}, errMatchUnavailable
	}
	g := a.m.games.MustFor(domain.GameCoinflip)

	in := a.input()
	in.OpponentSeed = joiner.ClientSeed
	creatorOutcome, err := g.Derive(in)
	if err != nil {
		return matchResult{}, domain.WrapError(domain.CodeInternal, "derive outcome", err)
	}
	in.Params = joiner.Params
	in.FeeBps = joiner.FeeBps
	joinerOutcome, err := g.Derive(in)
	if err != nil {
		return matchResult{}, domain.WrapError(domain.CodeInternal, "derive outcome", err)
	}
	winner := joiner.Nonce
	if creatorOutcome.Win {
		winner = r.Nonce
	}
	creatorOutcome.Winner = winner
	joinerOutcome.Winner = winner

	creatorPayout, err := g.Payout(r.Stake, creatorOutcome, r.Params, r.RTPBps, r.FeeBps)
	if err != nil {
		return matchResult{}, domain.WrapError(domain.CodeInternal, "compute payout", err)
	}
	joinerPayout, err := g.Payout(joiner.Stake, joinerOutcome, joiner.Params, joiner.RTPBps, joiner.FeeBps)
	if err != nil {
		return matchResult{}, domain.WrapError(domain.CodeInternal, "compute payout", err)
	}
	for _, p := range []struct{ payout, stake uint64 }{{creatorPayout, r.Stake}, {joinerPayout, joiner.Stake}} {
		if err := settlement.CheckBounds(p.payout, p.stake, g.MaxMultiplierBps(r.Params, 0)); err != nil {
			return matchResult{}, domain.WrapError(domain.CodeInternal, "payout out of bounds", err)
		}
	}

	r.MatchedWith = joiner.Nonce
	r.OpponentSeed = joiner.ClientSeed
	if _, err := a.recordOutcome(ctx, creatorOutcome, creatorPayout); err != nil {
		if r.Outcome == nil {
			// the match never became durable
			r.MatchedWith, r.OpponentSeed = 0, ""
			return matchResult{}, err
		}
		// the flip is recorded; the creator's release is retried on its own
		a.log.Error("creator settlement incomplete", "error", err)
	}
	return matchResult{outcome: joinerOutcome, payout: joinerPayout}, nil
}

// matchReveal discloses the commitment that decided a coinflip
func (m *Manager) matchReveal(ctx context.Context, r *domain.Round) (*domain.MatchReveal, error) {
	if r.MatchedWith != 0 {
		return &domain.MatchReveal{
			Nonce:          r.Nonce,
			ServerSeed:     hex.EncodeToString(r.ServerSeed),
			ServerSeedHash: r.ServerSeedHash,
			CreatorSeed:    r.ClientSeed,
			JoinerSeed:     r.OpponentSeed,
		}, nil
	}
	if r.Params.MatchNonce == 0 {
		return nil, domain.ErrAwaitingOpponent
	}
	creator, err := m.snapshot(ctx, r.Params.MatchNonce)
	if err != nil {
		return nil, err
	}
	if creator.Status != domain.StatusResolved || creator.MatchedWith != r.Nonce {
		return nil, domain.ErrRevealNotAllowed
	}
	if err := checkSeed(creator); err != nil {
		return nil, err
	}
	return &domain.MatchReveal{
		Nonce:          creator.Nonce,
		ServerSeed:     hex.EncodeToString(creator.ServerSeed),
		ServerSeedHash: creator.ServerSeedHash,
		CreatorSeed:    creator.ClientSeed,
		JoinerSeed:     r.ClientSeed,
	}, nil
}
