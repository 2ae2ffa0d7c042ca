// Package settlement holds the integer payout arithmetic shared by every game.
// Amounts are in the smallest currency unit, rates in basis points, and every
// product is formed at 256 bits with the division performed last.
package settlement

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BpsDenominator is 100% in basis points
const BpsDenominator = 10_000

var (
	ErrOverflow    = errors.New("settlement: result overflows uint64")
	ErrDivByZero   = errors.New("settlement: zero denominator")
	ErrOutOfBounds = errors.New("settlement: payout exceeds the game maximum")
)

// Convention says how the house fee reaches a game's payout
type Convention string

const (
	// NetMultiplier folds the fee into the RTP; fee_bps is informational
	NetMultiplier Convention = "net_multiplier"
	// HouseRake takes fee_bps of the pot and pays the rest
	HouseRake Convention = "house_rake"
)

// MulDiv returns floor(a*b/c)
func MulDiv(a, b, c uint64) (uint64, error) {
	return MulDivProduct(a, []uint64{b}, []uint64{c})
}

// MulDivProduct returns floor(x * Π nums / Π dens)
func MulDivProduct(x uint64, nums, dens []uint64) (uint64, error) {
	num := uint256.NewInt(x)
	for _, n := range nums {
		var overflow bool
		num, overflow = new(uint256.Int).MulOverflow(num, uint256.NewInt(n))
		if overflow {
			return 0, ErrOverflow
		}
	}
	den := uint256.NewInt(1)
	for _, d := range dens {
		var overflow bool
		den, overflow = new(uint256.Int).MulOverflow(den, uint256.NewInt(d))
		if overflow {
			return 0, ErrOverflow
		}
	}
	if den.IsZero() {
		return 0, ErrDivByZero
	}
	q := new(uint256.Int).Div(num, den)
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// ApplyBps returns floor(amount * bps / 10000)
func ApplyBps(amount, bps uint64) (uint64, error) {
	return MulDiv(amount, bps, BpsDenominator)
}

// Rake splits a pot into the winner's share and the house fee
func Rake(pot uint64, feeBps uint32) (net, fee uint64, err error) {
	if feeBps > BpsDenominator {
		return 0, 0, fmt.Errorf("settlement: fee %d bps above 100%%", feeBps)
	}
	fee, err = ApplyBps(pot, uint64(feeBps))
	if err != nil {
		return 0, 0, err
	}
	return pot - fee, fee, nil
}

// CheckBounds enforces 0 <= payout <= stake * maxMultiplierBps / 10000
func CheckBounds(payout, stake, maxMultiplierBps uint64) error {
	limit, err := ApplyBps(stake, maxMultiplierBps)
	if err != nil {
		// the cap itself does not fit, any uint64 payout is below it
		if errors.Is(err, ErrOverflow) {
			return nil
		}
		return err
	}
	if payout > limit {
		return fmt.Errorf("%w: payout %d, limit %d", ErrOutOfBounds, payout, limit)
	}
	return nil
}

// FormatMultiplier renders basis points as a human multiplier, 19800 -> "1.98"
func FormatMultiplier(bps uint64) string {
	return decimal.NewFromBigInt(uint256.NewInt(bps).ToBig(), -4).String()
}

// FormatPercent renders basis points as a percentage, 9900 -> "99"
func FormatPercent(bps uint64) string {
	return decimal.NewFromBigInt(uint256.NewInt(bps).ToBig(), -2).String()
}
