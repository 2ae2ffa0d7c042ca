package game

import (
	"fmt"
	"strconv"
	"strings"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/settlement"
)

const (
	PlinkoMinRows  = 8
	PlinkoMaxRows  = 16
	PlinkoMaxBalls = 10

	DifficultyLow    = "low"
	DifficultyMedium = "medium"
	DifficultyHigh   = "high"
)

// Plinko drops balls through a board of pegs; each row sends the ball left or
// right with probability 1/2, so the landing bin follows Binomial(rows, 1/2).
type Plinko struct{}

func (Plinko) Kind() domain.GameKind              { return domain.GamePlinko }
func (Plinko) Convention() settlement.Convention { return settlement.NetMultiplier }

func (Plinko) Validate(p domain.GameParams) error {
	if p.Rows < PlinkoMinRows || p.Rows > PlinkoMaxRows {
		return domain.Validationf("rows must be between %d and %d", PlinkoMinRows, PlinkoMaxRows)
	}
	switch p.Difficulty {
	case DifficultyLow, DifficultyMedium, DifficultyHigh:
	default:
		return domain.Validationf("difficulty must be low, medium or high")
	}
	if p.Balls < 1 || p.Balls > PlinkoMaxBalls {
		return domain.Validationf("balls must be between 1 and %d", PlinkoMaxBalls)
	}
	return nil
}

// shapeWeight grows with the distance d = |2k - rows| from the centre bin
func shapeWeight(difficulty string, d uint64) uint64 {
	switch difficulty {
	case DifficultyLow:
		return 4 + d*d
	case DifficultyMedium:
		return 1 + d*d*d
	default:
		return 1 + d*d*d*d
	}
}

func distance(rows, k int) uint64 {
	d := 2*k - rows
	if d < 0 {
		d = -d
	}
	return uint64(d)
}

func binomial(n, k int) uint64 {
	if k < 0 || k > n {
		return 0
	}
	c := uint64(1)
	for i := 1; i <= k; i++ {
		c = c * uint64(n-k+i) / uint64(i)
	}
	return c
}

// BinMultipliersBps scales the shape weights s_k so that
// m_k = floor(rtp * 2^rows * s_k / Σ_j C(rows, j) * s_j).
// The expected return Σ C(rows,k) * m_k / 2^rows is therefore at most rtp.
func BinMultipliersBps(rows int, difficulty string, rtpBps uint32) ([]uint64, error) {
	var norm uint64
	for k := 0; k <= rows; k++ {
		norm += binomial(rows, k) * shapeWeight(difficulty, distance(rows, k))
	}
	out := make([]uint64, rows+1)
	for k := range out {
		m, err := settlement.MulDivProduct(uint64(rtpBps), []uint64{1 << rows, shapeWeight(difficulty, distance(rows, k))}, []uint64{norm})
		if err != nil {
			return nil, err
		}
		out[k] = m
	}
	return out, nil
}

// ExpectedReturnBps is Σ C(rows,k) * m_k / 2^rows, rounded down
func ExpectedReturnBps(rows int, multipliers []uint64) uint64 {
	var sum uint64
	for k, m := range multipliers {
		sum += binomial(rows, k) * m
	}
	return sum >> rows
}

// Bin returns the landing bin of one ball: the number of rows r for which
// HMAC_SHA256(server_seed, client_seed:nonce:ball)[r] is odd
func Bin(seed []byte, clientSeed string, nonce uint64, ball, rows int) int {
	d := fairness.Digest(seed, clientSeed, strconv.FormatUint(nonce, 10), strconv.Itoa(ball))
	bin := 0
	for r := 0; r < rows; r++ {
		if d[r]&1 == 1 {
			bin++
		}
	}
	return bin
}

func (pl Plinko) Derive(in Input) (*domain.Outcome, error) {
	if err := pl.Validate(in.Params); err != nil {
		return nil, err
	}
	mults, err := BinMultipliersBps(in.Params.Rows, in.Params.Difficulty, in.RTPBps)
	if err != nil {
		return nil, err
	}
	bins := make([]int, in.Params.Balls)
	var total uint64
	for b := range bins {
		bins[b] = Bin(in.ServerSeed, in.ClientSeed, in.Nonce, b, in.Params.Rows)
		total += mults[bins[b]]
	}
	avg := total / uint64(in.Params.Balls)
	return &domain.Outcome{
		Bins:          bins,
		MultiplierBps: avg,
		Win:           avg >= settlement.BpsDenominator,
	}, nil
}

// Step drops the next ball
func (pl Plinko) Step(in Input, a Action) (StepResult, error) {
	if a.Type != ActionDrop {
		return StepResult{}, domain.Validationf("plinko does not support %q", a.Type)
	}
	ball := len(in.Progress.Drops)
	if ball >= in.Params.Balls {
		return StepResult{}, domain.NewError(domain.CodeInvalidState, "all balls already dropped")
	}
	mults, err := BinMultipliersBps(in.Params.Rows, in.Params.Difficulty, in.RTPBps)
	if err != nil {
		return StepResult{}, err
	}
	drops := append(append([]int(nil), in.Progress.Drops...), Bin(in.ServerSeed, in.ClientSeed, in.Nonce, ball, in.Params.Rows))
	var total uint64
	for _, bin := range drops {
		total += mults[bin]
	}
	return StepResult{
		Progress:      domain.Progress{Drops: drops},
		MultiplierBps: total / uint64(len(drops)),
		Done:          len(drops) == in.Params.Balls,
	}, nil
}

// CanCashOut always allows resolving; balls not yet dropped are dropped at resolution
func (Plinko) CanCashOut(domain.GameParams, domain.Progress) error { return nil }

// Payout splits the stake evenly across balls: floor(stake * Σ m_bin / (balls * 10000))
func (Plinko) Payout(stake uint64, o *domain.Outcome, p domain.GameParams, rtpBps, _ uint32) (uint64, error) {
	mults, err := BinMultipliersBps(p.Rows, p.Difficulty, rtpBps)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, bin := range o.Bins {
		if bin < 0 || bin >= len(mults) {
			return 0, fmt.Errorf("plinko: bin %d out of range", bin)
		}
		total += mults[bin]
	}
	return settlement.MulDiv(stake, total, uint64(p.Balls)*settlement.BpsDenominator)
}

func (Plinko) MaxMultiplierBps(p domain.GameParams, rtpBps uint32) uint64 {
	mults, err := BinMultipliersBps(p.Rows, p.Difficulty, rtpBps)
	if err != nil {
		return 0
	}
	// the edge bins carry the largest weight
	return mults[0]
}

func (Plinko) Formula(p domain.GameParams, rtpBps, _ uint32) string {
	mults, err := BinMultipliersBps(p.Rows, p.Difficulty, rtpBps)
	if err != nil {
		return ""
	}
	shown := make([]string, len(mults))
	for i, m := range mults {
		shown[i] = settlement.FormatMultiplier(m)
	}
	return fmt.Sprintf(
		"for ball b: digest = HMAC_SHA256(server_seed, client_seed:nonce:b); bin = count of r < %d with digest[r] odd; "+
			"bin multipliers [%s]; payout = floor(stake * sum(multiplier_bps) / (%d * 10000))",
		p.Rows, strings.Join(shown, " "), p.Balls)
}
