// Package custody moves stake in and out of a round. Two backends share one
// interface: on-chain escrow for real stake and a durable promotional ledger.
package custody

import (
	"context"
	"fmt"

	"fairwager/internal/domain"
)

// LockRequest asks a backend to take a round's stake
type LockRequest struct {
	Nonce  uint64
	Player string
	Stake  uint64
}

// ReleaseKind distinguishes a settlement from a refund of an abandoned round
type ReleaseKind string

const (
	ReleaseSettle ReleaseKind = "settle"
	ReleaseRefund ReleaseKind = "refund"
)

// ReleaseRequest asks a backend to pay Amount for a round and close its hold
type ReleaseRequest struct {
	Nonce  uint64
	Player string
	Stake  uint64
	Amount uint64
	Kind   ReleaseKind
	// Submitted is the reference of an earlier attempt that may already be in flight
	Submitted string
	// OnSubmitted, when set, is called with the reference before confirmation starts
	OnSubmitted func(reference string)
}

type Custodian interface {
	Mode() domain.Mode
	Lock(ctx context.Context, req LockRequest) (*domain.Receipt, error)
	Release(ctx context.Context, req ReleaseRequest) (*domain.Receipt, error)
}

// PlayerDirectory answers whether a player currently plays with promotional funds
type PlayerDirectory interface {
	IsPromotional(ctx context.Context, player string) (bool, error)
}

// Selector picks the backend once, before lock
type Selector struct {
	players  PlayerDirectory
	backends map[domain.Mode]Custodian
}

func NewSelector(players PlayerDirectory, backends ...Custodian) *Selector {
	s := &Selector{players: players, backends: make(map[domain.Mode]Custodian, len(backends))}
	for _, b := range backends {
		if b != nil {
			s.backends[b.Mode()] = b
		}
	}
	return s
}

// ModeFor returns the custody mode for a new round of player
func (s *Selector) ModeFor(ctx context.Context, player string) (domain.Mode, error) {
	promo, err := s.players.IsPromotional(ctx, player)
	if err != nil {
		return "", err
	}
	mode := domain.ModeRealEscrow
	if promo {
		mode = domain.ModePromotionalLedger
	}
	if _, ok := s.backends[mode]; !ok {
		return "", domain.NewError(domain.CodeValidation, fmt.Sprintf("custody backend %s is not available", mode))
	}
	return mode, nil
}

// For returns the backend of an existing round
func (s *Selector) For(mode domain.Mode) (Custodian, error) {
	b, ok := s.backends[mode]
	if !ok {
		return nil, domain.NewError(domain.CodeInternal, fmt.Sprintf("custody backend %s is not configured", mode))
	}
	return b, nil
}

func insufficientFunds(detail string) error {
	return domain.WrapError(domain.CodeInsufficientFunds, "insufficient funds", fmt.Errorf("%s", detail))
}
