package game

import (
	"fmt"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/settlement"
)

const (
	DiceFaces        = 100
	DiceMinThreshold = 2
	DiceMaxThreshold = 99

	DirectionUnder = "under"
	DirectionOver  = "over"
)

// Dice rolls 1..100; the player wins below (under) or above (over) a threshold
type Dice struct{}

func (Dice) Kind() domain.GameKind              { return domain.GameDice }
func (Dice) Convention() settlement.Convention { return settlement.NetMultiplier }

func (Dice) Validate(p domain.GameParams) error {
	if p.Direction != DirectionUnder && p.Direction != DirectionOver {
		return domain.Validationf("direction must be %q or %q", DirectionUnder, DirectionOver)
	}
	if p.Threshold < DiceMinThreshold || p.Threshold > DiceMaxThreshold {
		return domain.Validationf("threshold must be between %d and %d", DiceMinThreshold, DiceMaxThreshold)
	}
	return nil
}

// winningOutcomes is how many of the 100 faces win
func winningOutcomes(p domain.GameParams) uint64 {
	if p.Direction == DirectionUnder {
		return uint64(p.Threshold - 1)
	}
	return uint64(DiceFaces - p.Threshold)
}

// Roll maps word 0 of block 0 to 1..100
func Roll(seed []byte, clientSeed string, nonce uint64) int {
	s := fairness.NewStream(seed, clientSeed, nonce)
	return int(s.Uint32()%DiceFaces) + 1
}

func (d Dice) Derive(in Input) (*domain.Outcome, error) {
	if err := d.Validate(in.Params); err != nil {
		return nil, err
	}
	roll := Roll(in.ServerSeed, in.ClientSeed, in.Nonce)
	win := roll < in.Params.Threshold
	if in.Params.Direction == DirectionOver {
		win = roll > in.Params.Threshold
	}
	o := &domain.Outcome{Roll: roll, Win: win}
	if win {
		o.MultiplierBps = d.multiplierBps(in.Params, in.RTPBps)
	}
	return o, nil
}

// multiplierBps is the displayed multiplier, rounded down
func (Dice) multiplierBps(p domain.GameParams, rtpBps uint32) uint64 {
	return uint64(rtpBps) * DiceFaces / winningOutcomes(p)
}

// Payout is stake * rtp_bps / (100 * winning_outcomes) for a win
func (Dice) Payout(stake uint64, o *domain.Outcome, p domain.GameParams, rtpBps, _ uint32) (uint64, error) {
	if !o.Win {
		return 0, nil
	}
	return settlement.MulDiv(stake, uint64(rtpBps), DiceFaces*winningOutcomes(p))
}

func (d Dice) MaxMultiplierBps(p domain.GameParams, rtpBps uint32) uint64 {
	return d.multiplierBps(p, rtpBps) + 1
}

func (d Dice) Formula(p domain.GameParams, rtpBps, _ uint32) string {
	cmp := "<"
	if p.Direction == DirectionOver {
		cmp = ">"
	}
	return fmt.Sprintf(
		"digest = HMAC_SHA256(server_seed, client_seed:nonce:0); roll = uint32_be(digest[0:4]) mod 100 + 1; "+
			"win if roll %s %d; payout = floor(stake * %d / (100 * %d)) (x%s)",
		cmp, p.Threshold, rtpBps, winningOutcomes(p), settlement.FormatMultiplier(d.multiplierBps(p, rtpBps)))
}
