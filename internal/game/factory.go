package game

import (
	"fmt"

	"fairwager/internal/domain"
)

// Registry is the single dispatch table from game kind to its rules
type Registry struct {
	dice     *Dice
	coinflip *Coinflip
	mines    *Mines
	slots    *Slots
	plinko   *Plinko
	crash    *Crash
}

// NewRegistry builds the table. A nil slots table uses DefaultSlotsTable.
func NewRegistry(slots *SlotsTable) *Registry {
	if slots == nil {
		slots = DefaultSlotsTable()
	}
	return &Registry{
		dice:     &Dice{},
		coinflip: &Coinflip{},
		mines:    &Mines{},
		slots:    &Slots{Table: slots},
		plinko:   &Plinko{},
		crash:    &Crash{},
	}
}

// CheckSlotsRTP fails when the paytable in use cannot deliver the configured
// slots return within SlotsRTPToleranceBps
func (r *Registry) CheckSlotsRTP(targetBps uint32) error {
	return r.slots.Table.CheckRTP(targetBps, SlotsRTPToleranceBps)
}

func (r *Registry) For(kind domain.GameKind) (Game, error) {
	switch kind {
	case domain.GameDice:
		return r.dice, nil
	case domain.GameCoinflip:
		return r.coinflip, nil
	case domain.GameMines:
		return r.mines, nil
	case domain.GameSlots:
		return r.slots, nil
	case domain.GamePlinko:
		return r.plinko, nil
	case domain.GameCrash:
		return r.crash, nil
	default:
		return nil, domain.Validationf("unknown game: %s", kind)
	}
}

// MustFor panics on an unknown kind; for kinds already validated
func (r *Registry) MustFor(kind domain.GameKind) Game {
	g, err := r.For(kind)
	if err != nil {
		panic(fmt.Sprintf("game registry: %v", err))
	}
	return g
}
