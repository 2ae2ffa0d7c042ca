package fairness

import (
	"encoding/hex"

	"fairwager/internal/domain"
)

// Reveal discloses the seed of a resolved round after re-checking its commitment
func Reveal(r *domain.Round, formula string) (*domain.Reveal, error) {
	if r.Status != domain.StatusResolved {
		return nil, domain.ErrRevealNotAllowed
	}
	if len(r.ServerSeed) != SeedSize {
		return nil, domain.ErrSeedUnavailable
	}
	if !VerifyCommitment(r.ServerSeed, r.ServerSeedHash) {
		return nil, domain.NewError(domain.CodeUnrecoverable, "server seed does not match its commitment")
	}
	return &domain.Reveal{
		Nonce:          r.Nonce,
		Game:           r.Kind,
		ServerSeed:     hex.EncodeToString(r.ServerSeed),
		ServerSeedHash: r.ServerSeedHash,
		ClientSeed:     r.ClientSeed,
		Params:         r.Params,
		Formula:        formula,
	}, nil
}
