package game

import (
	"errors"
	"fmt"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/settlement"
)

const (
	CrashMinTargetBps = 10_100
	CrashMaxTargetBps = 10_000_000 // 1000x
	// crash points are capped so the curve fits in uint64
	CrashCapBps = 100_000_000

	crashBits = 52
)

// Crash samples a crash point; the player's auto cash-out target wins when the
// point reaches it. P(crash >= t) = rtp / t for t >= 1x.
type Crash struct{}

func (Crash) Kind() domain.GameKind              { return domain.GameCrash }
func (Crash) Convention() settlement.Convention { return settlement.NetMultiplier }

func (Crash) Validate(p domain.GameParams) error {
	if p.TargetBps < CrashMinTargetBps || p.TargetBps > CrashMaxTargetBps {
		return domain.Validationf("target must be between %s and %s",
			settlement.FormatMultiplier(CrashMinTargetBps), settlement.FormatMultiplier(CrashMaxTargetBps))
	}
	return nil
}

// CrashPointBps is max(10000, floor(rtp * 2^52 / (2^52 - h))) with
// h = uint64_be(digest[0:7]) >> 4 of block 0, capped at CrashCapBps
func CrashPointBps(seed []byte, clientSeed string, nonce uint64, rtpBps uint32) uint64 {
	st := fairness.NewStream(seed, clientSeed, nonce)
	d := st.Block(0)
	var h uint64
	for _, b := range d[:7] {
		h = h<<8 | uint64(b)
	}
	h >>= 4

	point, err := settlement.MulDiv(uint64(rtpBps), 1<<crashBits, (1<<crashBits)-h)
	if err != nil || point > CrashCapBps {
		return CrashCapBps
	}
	return max(point, settlement.BpsDenominator)
}

func (c Crash) Derive(in Input) (*domain.Outcome, error) {
	if err := c.Validate(in.Params); err != nil {
		return nil, err
	}
	point := CrashPointBps(in.ServerSeed, in.ClientSeed, in.Nonce, in.RTPBps)
	o := &domain.Outcome{CrashBps: point, Win: point >= in.Params.TargetBps}
	if o.Win {
		o.MultiplierBps = in.Params.TargetBps
	}
	return o, nil
}

func (Crash) Payout(stake uint64, o *domain.Outcome, p domain.GameParams, _, _ uint32) (uint64, error) {
	if !o.Win {
		return 0, nil
	}
	if o.CrashBps < p.TargetBps {
		return 0, errors.New("crash: win below target")
	}
	return settlement.ApplyBps(stake, p.TargetBps)
}

func (Crash) MaxMultiplierBps(p domain.GameParams, _ uint32) uint64 {
	return p.TargetBps
}

func (Crash) Formula(p domain.GameParams, rtpBps, _ uint32) string {
	return fmt.Sprintf(
		"h = uint56_be(HMAC_SHA256(server_seed, client_seed:nonce:0)[0:7]) >> 4; "+
			"crash_bps = max(10000, min(%d, floor(%d * 2^52 / (2^52 - h)))); win if crash_bps >= %d; payout = floor(stake * %d / 10000) (x%s)",
		CrashCapBps, rtpBps, p.TargetBps, p.TargetBps, settlement.FormatMultiplier(p.TargetBps))
}
