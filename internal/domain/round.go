package domain

import "time"

// GameKind - вид игры
type GameKind string

const (
	GameDice     GameKind = "dice"
	GameCoinflip GameKind = "coinflip"
	GameMines    GameKind = "mines"
	GameSlots    GameKind = "slots"
	GamePlinko   GameKind = "plinko"
	GameCrash    GameKind = "crash"
)

// AllGames lists every supported game kind
var AllGames = []GameKind{GameDice, GameCoinflip, GameMines, GameSlots, GamePlinko, GameCrash}

// Valid reports whether k is a known game kind
func (k GameKind) Valid() bool {
	for _, g := range AllGames {
		if g == k {
			return true
		}
	}
	return false
}

// Mode - откуда берется ставка
type Mode string

const (
	ModeRealEscrow        Mode = "real_escrow"
	ModePromotionalLedger Mode = "promotional_ledger"
)

// RoundStatus - состояние раунда
type RoundStatus string

const (
	StatusCreated  RoundStatus = "created"
	StatusLocked   RoundStatus = "locked"
	StatusInPlay   RoundStatus = "in_play"
	StatusResolved RoundStatus = "resolved"
	StatusExpired  RoundStatus = "expired"
	StatusFailed   RoundStatus = "failed"
)

// Final reports whether no further transition is possible
func (s RoundStatus) Final() bool {
	return s == StatusResolved || s == StatusExpired || s == StatusFailed
}

var transitions = map[RoundStatus][]RoundStatus{
	StatusCreated: {StatusLocked, StatusExpired, StatusFailed},
	StatusLocked:  {StatusInPlay, StatusResolved, StatusExpired, StatusFailed},
	StatusInPlay:  {StatusResolved, StatusFailed},
}

// CanTransition reports whether the lifecycle allows moving from s to next
func (s RoundStatus) CanTransition(next RoundStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// GameParams carries the player's choices for every game kind.
// Only the fields relevant to Round.Kind are set.
type GameParams struct {
	// dice
	Threshold int    `json:"threshold,omitempty"`
	Direction string `json:"direction,omitempty"` // under | over

	// coinflip
	Face       string `json:"face,omitempty"` // heads | tails
	MatchNonce uint64 `json:"match_nonce,omitempty"`

	// mines
	Mines int `json:"mines,omitempty"`

	// plinko
	Rows       int    `json:"rows,omitempty"`
	Difficulty string `json:"difficulty,omitempty"` // low | medium | high
	Balls      int    `json:"balls,omitempty"`

	// crash
	TargetBps uint64 `json:"target_bps,omitempty"`
}

// Progress is the round-local state accumulated while InPlay
type Progress struct {
	Opened []int `json:"opened,omitempty"` // mines: cells opened in order, a bomb can only be last
	Drops  []int `json:"drops,omitempty"`  // plinko: bin of each dropped ball
}

// Outcome is the derived result of a round
type Outcome struct {
	Win           bool       `json:"win"`
	MultiplierBps uint64     `json:"multiplier_bps"`
	Roll          int        `json:"roll,omitempty"`
	Face          string     `json:"face,omitempty"`
	Winner        uint64     `json:"winner,omitempty"` // coinflip: nonce of the winning round
	Bombs         []int      `json:"bombs,omitempty"`
	Opened        []int      `json:"opened,omitempty"`
	HitBomb       *int       `json:"hit_bomb,omitempty"`
	Tier          string     `json:"tier,omitempty"`
	Grid          [][]string `json:"grid,omitempty"`
	Bins          []int      `json:"bins,omitempty"`
	CrashBps      uint64     `json:"crash_bps,omitempty"`
}

// Receipt is the custody backend's proof that stake moved
type Receipt struct {
	Backend      Mode      `json:"backend"`
	Reference    string    `json:"reference"` // tx signature or ledger entry id
	Amount       uint64    `json:"amount"`
	BalanceAfter *uint64   `json:"balance_after,omitempty"`
	Confirmed    bool      `json:"confirmed"`
	CreatedAt    time.Time `json:"created_at"`
}

// Round - одна ставка
type Round struct {
	Nonce          uint64      `db:"nonce" json:"nonce"`
	Player         string      `db:"player" json:"player"`
	Kind           GameKind    `db:"game_kind" json:"game_kind"`
	Mode           Mode        `db:"mode" json:"mode"`
	Stake          uint64      `db:"stake" json:"stake"`
	ServerSeed     []byte      `db:"-" json:"-"`
	ServerSeedHash string      `db:"server_seed_hash" json:"server_seed_hash"`
	ClientSeed     string      `db:"client_seed" json:"client_seed"`
	Params         GameParams  `db:"params" json:"params"`
	Status         RoundStatus `db:"status" json:"status"`
	Progress       Progress    `db:"progress" json:"progress"`
	Outcome        *Outcome    `db:"outcome" json:"outcome,omitempty"`
	Payout         uint64      `db:"payout" json:"payout"` // set only when the round resolves
	PendingPayout  uint64      `db:"pending_payout" json:"pending_payout,omitempty"`
	Refund         uint64      `db:"refund" json:"refund,omitempty"`
	FeeBps         uint32      `db:"fee_bps" json:"fee_bps"`
	RTPBps         uint32      `db:"rtp_bps" json:"rtp_bps"`
	LockReceipt    *Receipt    `db:"lock_receipt" json:"lock_receipt,omitempty"`
	ReleaseReceipt *Receipt    `db:"release_receipt" json:"release_receipt,omitempty"`
	FailureReason  string      `db:"failure_reason" json:"failure_reason,omitempty"`

	// coinflip creators record the joining round and its client seed when the match settles
	MatchedWith  uint64 `db:"matched_with" json:"matched_with,omitempty"`
	OpponentSeed string `db:"opponent_seed" json:"opponent_seed,omitempty"`

	// Version increases on every mutation; stores never replace a newer version with an older one
	Version uint64 `db:"version" json:"version"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LockedAt   *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// ReleaseConfirmed reports whether custody already confirmed the settlement release
func (r *Round) ReleaseConfirmed() bool {
	return r.ReleaseReceipt != nil && r.ReleaseReceipt.Confirmed && r.Refund == 0
}

// RefundConfirmed reports whether a locked stake was already paid back
func (r *Round) RefundConfirmed() bool {
	return r.ReleaseReceipt != nil && r.ReleaseReceipt.Confirmed && r.Refund > 0
}

// SettlementPending reports whether an outcome was recorded but custody release has not completed
func (r *Round) SettlementPending() bool {
	return r.Outcome != nil && !r.Status.Final()
}

// Clone returns a deep copy safe to hand outside the owning actor
func (r *Round) Clone() *Round {
	c := *r
	c.ServerSeed = append([]byte(nil), r.ServerSeed...)
	if r.LockedAt != nil {
		t := *r.LockedAt
		c.LockedAt = &t
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	c.Progress.Opened = append([]int(nil), r.Progress.Opened...)
	c.Progress.Drops = append([]int(nil), r.Progress.Drops...)
	if r.Outcome != nil {
		o := *r.Outcome
		o.Bombs = append([]int(nil), r.Outcome.Bombs...)
		o.Opened = append([]int(nil), r.Outcome.Opened...)
		o.Bins = append([]int(nil), r.Outcome.Bins...)
		if r.Outcome.Grid != nil {
			o.Grid = make([][]string, len(r.Outcome.Grid))
			for i, row := range r.Outcome.Grid {
				o.Grid[i] = append([]string(nil), row...)
			}
		}
		c.Outcome = &o
	}
	if r.LockReceipt != nil {
		lr := *r.LockReceipt
		c.LockReceipt = &lr
	}
	if r.ReleaseReceipt != nil {
		rr := *r.ReleaseReceipt
		c.ReleaseReceipt = &rr
	}
	return &c
}

// HistoryPage - страница истории
type HistoryPage struct {
	Rounds     []*Round `json:"rounds"`
	NextCursor string   `json:"next_cursor,omitempty"`
}
