// Package game holds the outcome derivation and payout rules of every game.
// Derivations are pure functions of (server seed, client seed, nonce, params);
// the exact moduli are part of each game's Formula so a player can replay them.
package game

import (
	"fairwager/internal/domain"
	"fairwager/internal/settlement"
)

// Input is everything a derivation may read
type Input struct {
	ServerSeed []byte
	ClientSeed string
	Nonce      uint64
	Player     string
	Params     domain.GameParams
	RTPBps     uint32
	FeeBps     uint32
	Progress   domain.Progress

	// coinflip: the joining player's client seed
	OpponentSeed string
}

type Game interface {
	Kind() domain.GameKind
	Convention() settlement.Convention

	// Validate rejects params the game cannot be played with
	Validate(p domain.GameParams) error

	// Derive computes the final outcome. For multi-step games it accounts for
	// the progress made so far.
	Derive(in Input) (*domain.Outcome, error)

	// Payout is exact integer settlement of a derived outcome
	Payout(stake uint64, o *domain.Outcome, p domain.GameParams, rtpBps, feeBps uint32) (uint64, error)

	// MaxMultiplierBps bounds any payout: payout <= stake * max / 10000
	MaxMultiplierBps(p domain.GameParams, rtpBps uint32) uint64

	Formula(p domain.GameParams, rtpBps, feeBps uint32) string
}

// ActionType - ход внутри раунда
type ActionType string

const (
	ActionOpenCell ActionType = "open_cell"
	ActionDrop     ActionType = "drop"
)

type Action struct {
	Type ActionType `json:"type"`
	Cell int        `json:"cell,omitempty"`
}

// StepResult is the effect of one in-play action
type StepResult struct {
	Progress      domain.Progress
	MultiplierBps uint64
	// Done means the round must resolve now (bomb hit, board cleared, last ball)
	Done bool
}

// Stepper is implemented by games that are played move by move while InPlay
type Stepper interface {
	Game
	Step(in Input, a Action) (StepResult, error)
	// CanCashOut reports whether resolve is allowed with the current progress
	CanCashOut(p domain.GameParams, progress domain.Progress) error
}
