package game

import (
	"fmt"
	"strconv"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/settlement"
)

const (
	FaceHeads = "heads"
	FaceTails = "tails"
)

// Coinflip is a two-player match. The creator's round commits the seed; the
// joiner's client seed is mixed in when the match settles.
type Coinflip struct{}

func (Coinflip) Kind() domain.GameKind              { return domain.GameCoinflip }
func (Coinflip) Convention() settlement.Convention { return settlement.HouseRake }

func (Coinflip) Validate(p domain.GameParams) error {
	if p.Face != FaceHeads && p.Face != FaceTails {
		return domain.Validationf("face must be %q or %q", FaceHeads, FaceTails)
	}
	return nil
}

// OppositeFace returns the other side of the coin
func OppositeFace(face string) string {
	if face == FaceHeads {
		return FaceTails
	}
	return FaceHeads
}

// Flip returns the face selected by the lowest bit of
// HMAC_SHA256(server_seed, clientSeedA:clientSeedB:nonce)
func Flip(seed []byte, clientSeedA, clientSeedB string, nonce uint64) string {
	d := fairness.Digest(seed, clientSeedA, clientSeedB, strconv.FormatUint(nonce, 10))
	if d[31]&1 == 0 {
		return FaceHeads
	}
	return FaceTails
}

// Derive expects in.ClientSeed to be the creator's seed, in.OpponentSeed the
// joiner's and in.Nonce the creator's nonce. Win is judged for in.Params.Face.
func (c Coinflip) Derive(in Input) (*domain.Outcome, error) {
	if err := c.Validate(in.Params); err != nil {
		return nil, err
	}
	face := Flip(in.ServerSeed, in.ClientSeed, in.OpponentSeed, in.Nonce)
	o := &domain.Outcome{Face: face, Win: face == in.Params.Face}
	if o.Win {
		o.MultiplierBps = 2 * (settlement.BpsDenominator - uint64(in.FeeBps))
	}
	return o, nil
}

// Payout pays the pot of both stakes minus the rake to the winner
func (Coinflip) Payout(stake uint64, o *domain.Outcome, _ domain.GameParams, _, feeBps uint32) (uint64, error) {
	if !o.Win {
		return 0, nil
	}
	if stake > ^uint64(0)/2 {
		return 0, settlement.ErrOverflow
	}
	net, _, err := settlement.Rake(2*stake, feeBps)
	return net, err
}

func (Coinflip) MaxMultiplierBps(domain.GameParams, uint32) uint64 {
	return 2 * settlement.BpsDenominator
}

func (Coinflip) Formula(_ domain.GameParams, _, feeBps uint32) string {
	return fmt.Sprintf(
		"digest = HMAC_SHA256(creator_server_seed, creator_client_seed:joiner_client_seed:creator_nonce); "+
			"face = heads if digest[31] & 1 == 0 else tails; winner takes 2 * stake - floor(2 * stake * %d / 10000) (rake %s%%)",
		feeBps, settlement.FormatPercent(uint64(feeBps)))
}
