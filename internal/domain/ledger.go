package domain

import "time"

// LedgerKind - тип записи промо-баланса
type LedgerKind string

const (
	LedgerLock    LedgerKind = "lock"
	LedgerRelease LedgerKind = "release"
	LedgerRefund  LedgerKind = "refund"
)

// LedgerEntry is one exactly-once change of a promotional balance.
// (Nonce, Kind) is unique.
type LedgerEntry struct {
	ID           int64      `db:"id" json:"id"`
	Nonce        uint64     `db:"nonce" json:"nonce"`
	Kind         LedgerKind `db:"kind" json:"kind"`
	Player       string     `db:"player" json:"player"`
	Delta        int64      `db:"delta" json:"delta"`
	BalanceAfter uint64     `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Player is the custody-relevant view of an account
type Player struct {
	PublicKey    string    `db:"public_key" json:"public_key"`
	Promotional  bool      `db:"promotional" json:"promotional"`
	PromoBalance uint64    `db:"promo_balance" json:"promo_balance"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
