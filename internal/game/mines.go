package game

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/settlement"
)

const (
	MinesCells    = 25 // 5x5
	MinesMinMines = 1
	MinesMaxMines = 24

	// every counter yields a fresh digest; this only guards against a broken hash
	minesMaxDraws = 1 << 16
)

// Mines hides bombs on a 5x5 board. The first opened cell may be a bomb.
type Mines struct{}

func (Mines) Kind() domain.GameKind              { return domain.GameMines }
func (Mines) Convention() settlement.Convention { return settlement.NetMultiplier }

func (Mines) Validate(p domain.GameParams) error {
	if p.Mines < MinesMinMines || p.Mines > MinesMaxMines {
		return domain.Validationf("mines must be between %d and %d", MinesMinMines, MinesMaxMines)
	}
	return nil
}

// Bombs draws bomb cells without replacement:
// cell = uint32_be(HMAC_SHA256(server_seed, player:nonce:client_seed:counter)[0:4]) mod 25,
// counter = 0, 1, ..., skipping cells already drawn.
func Bombs(seed []byte, player, clientSeed string, nonce uint64, count int) ([]int, error) {
	n := strconv.FormatUint(nonce, 10)
	bombs := make([]int, 0, count)
	taken := make(map[int]bool, count)
	for counter := 0; len(bombs) < count; counter++ {
		if counter >= minesMaxDraws {
			return nil, errors.New("mines: bomb derivation did not converge")
		}
		d := fairness.Digest(seed, player, n, clientSeed, strconv.Itoa(counter))
		cell := int(fairness.Word(d, 0) % MinesCells)
		if taken[cell] {
			continue
		}
		taken[cell] = true
		bombs = append(bombs, cell)
	}
	return bombs, nil
}

// MultiplierBps returns rtp * Π_{i<k} (N-i)/(N-M-i) in basis points, rounded down
func (Mines) MultiplierBps(mines, opened int, rtpBps uint32) (uint64, error) {
	nums, dens := minesRatio(mines, opened)
	return settlement.MulDivProduct(uint64(rtpBps), nums, dens)
}

func minesRatio(mines, opened int) (nums, dens []uint64) {
	nums = make([]uint64, 0, opened)
	dens = make([]uint64, 0, opened)
	for i := 0; i < opened; i++ {
		nums = append(nums, uint64(MinesCells-i))
		dens = append(dens, uint64(MinesCells-mines-i))
	}
	return nums, dens
}

func (m Mines) Derive(in Input) (*domain.Outcome, error) {
	if err := m.Validate(in.Params); err != nil {
		return nil, err
	}
	bombs, err := Bombs(in.ServerSeed, in.Player, in.ClientSeed, in.Nonce, in.Params.Mines)
	if err != nil {
		return nil, err
	}
	o := &domain.Outcome{Bombs: bombs, Opened: slices.Clone(in.Progress.Opened)}
	for _, cell := range in.Progress.Opened {
		if slices.Contains(bombs, cell) {
			hit := cell
			o.HitBomb = &hit
			return o, nil
		}
	}
	if len(in.Progress.Opened) == 0 {
		return o, nil
	}
	mult, err := m.MultiplierBps(in.Params.Mines, len(in.Progress.Opened), in.RTPBps)
	if err != nil {
		return nil, err
	}
	o.Win = true
	o.MultiplierBps = mult
	return o, nil
}

// Step opens one cell. Hitting a bomb or clearing every safe cell ends the round.
func (m Mines) Step(in Input, a Action) (StepResult, error) {
	if a.Type != ActionOpenCell {
		return StepResult{}, domain.Validationf("mines does not support %q", a.Type)
	}
	if a.Cell < 0 || a.Cell >= MinesCells {
		return StepResult{}, domain.Validationf("cell must be between 0 and %d", MinesCells-1)
	}
	if slices.Contains(in.Progress.Opened, a.Cell) {
		return StepResult{}, domain.Validationf("cell %d is already open", a.Cell)
	}
	bombs, err := Bombs(in.ServerSeed, in.Player, in.ClientSeed, in.Nonce, in.Params.Mines)
	if err != nil {
		return StepResult{}, err
	}

	progress := domain.Progress{Opened: append(slices.Clone(in.Progress.Opened), a.Cell)}
	if slices.Contains(bombs, a.Cell) {
		return StepResult{Progress: progress, Done: true}, nil
	}
	mult, err := m.MultiplierBps(in.Params.Mines, len(progress.Opened), in.RTPBps)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Progress:      progress,
		MultiplierBps: mult,
		Done:          len(progress.Opened) == MinesCells-in.Params.Mines,
	}, nil
}

func (Mines) CanCashOut(_ domain.GameParams, progress domain.Progress) error {
	if len(progress.Opened) == 0 {
		return domain.NewError(domain.CodeInvalidState, "open at least one cell before cashing out")
	}
	return nil
}

// Payout is floor(stake * rtp * Π(N-i) / (10000 * Π(N-M-i))) over the opened safe cells
func (Mines) Payout(stake uint64, o *domain.Outcome, p domain.GameParams, rtpBps, _ uint32) (uint64, error) {
	if !o.Win || o.HitBomb != nil {
		return 0, nil
	}
	nums, dens := minesRatio(p.Mines, len(o.Opened))
	return settlement.MulDivProduct(stake, append([]uint64{uint64(rtpBps)}, nums...), append([]uint64{settlement.BpsDenominator}, dens...))
}

func (m Mines) MaxMultiplierBps(p domain.GameParams, rtpBps uint32) uint64 {
	mult, err := m.MultiplierBps(p.Mines, MinesCells-p.Mines, rtpBps)
	if err != nil {
		return 0
	}
	return mult + 1
}

func (Mines) Formula(p domain.GameParams, rtpBps, _ uint32) string {
	return fmt.Sprintf(
		"bomb_i = uint32_be(HMAC_SHA256(server_seed, player:nonce:client_seed:counter)[0:4]) mod 25 for counter = 0,1,... "+
			"skipping repeats until %d bombs; after k safe cells payout = floor(stake * %d * prod_{i<k}(25-i) / (10000 * prod_{i<k}(%d-i)))",
		p.Mines, rtpBps, MinesCells-p.Mines)
}
