package game

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/settlement"

	"github.com/BurntSushi/toml"
)

const (
	// SlotsWeightTotal is 1 in parts per million
	SlotsWeightTotal = 1_000_000
	SlotsReels       = 3
	SlotsRows        = 3

	TierNearMiss = "near_miss"
	TierLose     = "lose"
)

// SlotTier is one prize tier. Weight is its probability in parts per million.
type SlotTier struct {
	Name          string `toml:"name" json:"name"`
	Symbol        string `toml:"symbol" json:"symbol,omitempty"`
	Weight        uint64 `toml:"weight" json:"weight"`
	MultiplierBps uint64 `toml:"multiplier_bps" json:"multiplier_bps"`
}

// SlotsTable is the admin-configured paytable
type SlotsTable struct {
	Symbols []string   `toml:"symbols" json:"symbols"`
	Tiers   []SlotTier `toml:"tier" json:"tiers"`
}

// DefaultSlotsTable pays 96% in expectation
func DefaultSlotsTable() *SlotsTable {
	return &SlotsTable{
		Symbols: []string{"seven", "bar", "bell", "cherry", "lemon", "plum"},
		Tiers: []SlotTier{
			{Name: "jackpot", Symbol: "seven", Weight: 1_000, MultiplierBps: 5_000_000},
			{Name: "bars", Symbol: "bar", Weight: 10_000, MultiplierBps: 200_000},
			{Name: "bells", Symbol: "bell", Weight: 40_000, MultiplierBps: 50_000},
			{Name: "cherries", Symbol: "cherry", Weight: 80_000, MultiplierBps: 7_500},
			{Name: TierNearMiss, Symbol: "seven", Weight: 200_000},
			{Name: TierLose, Weight: 669_000},
		},
	}
}

// LoadSlotsTable reads a TOML paytable and validates it
func LoadSlotsTable(path string) (*SlotsTable, error) {
	var t SlotsTable
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("slots table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the table is a probability distribution with a near-miss tier
func (t *SlotsTable) Validate() error {
	if len(t.Symbols) < 3 {
		return errors.New("slots table: need at least 3 symbols")
	}
	var total uint64
	var nearMiss, lose bool
	for _, tier := range t.Tiers {
		total += tier.Weight
		switch tier.Name {
		case TierNearMiss:
			nearMiss = true
			if tier.MultiplierBps != 0 {
				return errors.New("slots table: near miss must not pay")
			}
		case TierLose:
			lose = true
			if tier.MultiplierBps != 0 {
				return errors.New("slots table: lose tier must not pay")
			}
			continue
		}
		if !slices.Contains(t.Symbols, tier.Symbol) {
			return fmt.Errorf("slots table: tier %q uses unknown symbol %q", tier.Name, tier.Symbol)
		}
	}
	if total != SlotsWeightTotal {
		return fmt.Errorf("slots table: weights sum to %d, want %d", total, SlotsWeightTotal)
	}
	if !nearMiss || !lose {
		return errors.New("slots table: near_miss and lose tiers are required")
	}
	return nil
}

// ExpectedRTPBps is Σ weight * multiplier / 1e6, rounded down
func (t *SlotsTable) ExpectedRTPBps() uint64 {
	var sum uint64
	for _, tier := range t.Tiers {
		sum += tier.Weight * tier.MultiplierBps
	}
	return sum / SlotsWeightTotal
}

// SlotsRTPToleranceBps is how far below its target a paytable may return
const SlotsRTPToleranceBps = 50

// CheckRTP verifies the table does not return more than the configured target
// and that the target is reachable within the given tolerance
func (t *SlotsTable) CheckRTP(targetBps uint32, toleranceBps uint64) error {
	expected := t.ExpectedRTPBps()
	if expected > uint64(targetBps) {
		return fmt.Errorf("slots table: expected return %d bps exceeds target %d bps", expected, targetBps)
	}
	if uint64(targetBps)-expected > toleranceBps {
		return fmt.Errorf("slots table: expected return %d bps is below target %d bps", expected, targetBps)
	}
	return nil
}

// MaxMultiplierBps is the best tier's multiplier
func (t *SlotsTable) MaxMultiplierBps() uint64 {
	var best uint64
	for _, tier := range t.Tiers {
		best = max(best, tier.MultiplierBps)
	}
	return best
}

func (t *SlotsTable) pick(r uint64) SlotTier {
	var acc uint64
	for _, tier := range t.Tiers {
		acc += tier.Weight
		if r < acc {
			return tier
		}
	}
	return t.Tiers[len(t.Tiers)-1]
}

// Slots picks a tier from the paytable, then draws a grid consistent with it
type Slots struct {
	Table *SlotsTable
}

func (Slots) Kind() domain.GameKind              { return domain.GameSlots }
func (Slots) Convention() settlement.Convention { return settlement.NetMultiplier }

func (Slots) Validate(domain.GameParams) error { return nil }

func (s Slots) Derive(in Input) (*domain.Outcome, error) {
	st := fairness.NewStream(in.ServerSeed, in.ClientSeed, in.Nonce)
	tier := s.Table.pick(uint64(st.Uint32() % SlotsWeightTotal))

	grid := make([][]string, SlotsRows)
	for row := range grid {
		grid[row] = make([]string, SlotsReels)
		for reel := range grid[row] {
			grid[row][reel] = s.Table.Symbols[st.Intn(len(s.Table.Symbols))]
		}
	}
	grid[1] = s.payline(st, tier)

	return &domain.Outcome{
		Win:           tier.MultiplierBps > 0,
		MultiplierBps: tier.MultiplierBps,
		Tier:          tier.Name,
		Grid:          grid,
	}, nil
}

// payline draws the middle row: three of a kind for a prize, two plus a
// different third for a near miss, and a first pair that differs otherwise
func (s Slots) payline(st *fairness.Stream, tier SlotTier) []string {
	symbols := s.Table.Symbols
	switch {
	case tier.MultiplierBps > 0:
		return []string{tier.Symbol, tier.Symbol, tier.Symbol}
	case tier.Name == TierNearMiss:
		return []string{tier.Symbol, tier.Symbol, otherSymbol(st, symbols, tier.Symbol)}
	default:
		first := symbols[st.Intn(len(symbols))]
		return []string{first, otherSymbol(st, symbols, first), symbols[st.Intn(len(symbols))]}
	}
}

// otherSymbol draws uniformly among the symbols except skip
func otherSymbol(st *fairness.Stream, symbols []string, skip string) string {
	skipAt := slices.Index(symbols, skip)
	i := st.Intn(len(symbols) - 1)
	if skipAt >= 0 && i >= skipAt {
		i++
	}
	return symbols[i]
}

// Payout settles the multiplier recorded with the outcome, so a paytable
// reloaded between derivation and settlement cannot change the round
func (s Slots) Payout(stake uint64, o *domain.Outcome, _ domain.GameParams, _, _ uint32) (uint64, error) {
	if o.MultiplierBps == 0 {
		return 0, nil
	}
	return settlement.ApplyBps(stake, o.MultiplierBps)
}

func (s Slots) MaxMultiplierBps(domain.GameParams, uint32) uint64 {
	return s.Table.MaxMultiplierBps()
}

func (s Slots) Formula(domain.GameParams, uint32, uint32) string {
	var b strings.Builder
	b.WriteString("words w_0, w_1, ... = uint32_be chunks of HMAC_SHA256(server_seed, client_seed:nonce:counter); ")
	b.WriteString("tier = first tier whose cumulative weight exceeds w_0 mod 1000000 [")
	for i, tier := range s.Table.Tiers {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %d ppm x%s", tier.Name, tier.Weight, settlement.FormatMultiplier(tier.MultiplierBps))
	}
	fmt.Fprintf(&b, "]; grid cells = symbols[w_i mod %d] row by row, then the middle row is redrawn to match the tier; ", len(s.Table.Symbols))
	b.WriteString("payout = floor(stake * multiplier_bps / 10000)")
	return b.String()
}
