package game

import (
	"bytes"
	"encoding/json"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
)

// Recompute derives the outcome of a revealed round from public data only
func (r *Registry) Recompute(rev *domain.Reveal, player string, progress domain.Progress, rtpBps, feeBps uint32) (*domain.Outcome, error) {
	g, err := r.For(rev.Game)
	if err != nil {
		return nil, err
	}
	in := Input{
		ClientSeed: rev.ClientSeed,
		Nonce:      rev.Nonce,
		Player:     player,
		Params:     rev.Params,
		RTPBps:     rtpBps,
		FeeBps:     feeBps,
		Progress:   progress,
	}
	seedHex, hash := rev.ServerSeed, rev.ServerSeedHash
	if rev.Game == domain.GameCoinflip {
		if rev.Match == nil {
			return nil, domain.Validationf("coinflip reveal carries no match")
		}
		seedHex, hash = rev.Match.ServerSeed, rev.Match.ServerSeedHash
		in.Nonce = rev.Match.Nonce
		in.ClientSeed = rev.Match.CreatorSeed
		in.OpponentSeed = rev.Match.JoinerSeed
	}
	seed, err := fairness.DecodeSeed(seedHex)
	if err != nil {
		return nil, domain.Validationf("server seed: %v", err)
	}
	if !fairness.VerifyCommitment(seed, hash) {
		return nil, domain.NewError(domain.CodeValidation, "server seed does not match its commitment")
	}
	in.ServerSeed = seed
	return g.Derive(in)
}

// Verify recomputes a resolved round and reports whether it matches the record
func (r *Registry) Verify(rev *domain.Reveal, round *domain.Round) (bool, *domain.Outcome, error) {
	if round.Outcome == nil {
		return false, nil, domain.ErrRevealNotAllowed
	}
	progress := round.Progress
	if round.Kind == domain.GameMines {
		progress = domain.Progress{Opened: round.Outcome.Opened}
	}
	o, err := r.Recompute(rev, round.Player, progress, round.RTPBps, round.FeeBps)
	if err != nil {
		return false, nil, err
	}
	// the winner nonce is assigned when the match settles, not derived
	o.Winner = round.Outcome.Winner

	got, err := json.Marshal(o)
	if err != nil {
		return false, nil, err
	}
	want, err := json.Marshal(round.Outcome)
	if err != nil {
		return false, nil, err
	}
	return bytes.Equal(got, want), o, nil
}
