package domain

import "time"

// EventType - тип исходящего события
type EventType string

const (
	EventCommitted  EventType = "committed"
	EventLocked     EventType = "locked"
	EventProgress   EventType = "progress"
	EventResolved   EventType = "resolved"
	EventRevealSeed EventType = "reveal_seed"
	EventExpired    EventType = "expired"
	EventFailed     EventType = "failed"
	EventWarning    EventType = "warning"
	EventError      EventType = "error"
)

// Event is emitted to the owning player after a round transition
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Nonce   uint64    `json:"nonce"`
	Player  string    `json:"-"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

type CommittedPayload struct {
	Nonce          uint64    `json:"nonce"`
	Game           GameKind  `json:"game"`
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type LockedPayload struct {
	Nonce          uint64   `json:"nonce"`
	ServerSeedHash string   `json:"server_seed_hash"`
	Mode           Mode     `json:"mode"`
	Receipt        *Receipt `json:"receipt"`
}

type ProgressPayload struct {
	Nonce         uint64   `json:"nonce"`
	Progress      Progress `json:"progress"`
	MultiplierBps uint64   `json:"multiplier_bps"`
}

type ResolvedPayload struct {
	Nonce   uint64   `json:"nonce"`
	Outcome *Outcome `json:"outcome"`
	Payout  uint64   `json:"payout"`
	Receipt *Receipt `json:"receipt"`
}

type ClosedPayload struct {
	Nonce  uint64      `json:"nonce"`
	Status RoundStatus `json:"status"`
	Refund uint64      `json:"refund,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Reveal discloses everything needed to recompute a resolved round
type Reveal struct {
	Nonce          uint64     `json:"nonce"`
	Game           GameKind   `json:"game"`
	ServerSeed     string     `json:"server_seed"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ClientSeed     string     `json:"client_seed"`
	Params         GameParams `json:"params"`
	Formula        string     `json:"formula"`
	// coinflip joiners are settled by the creator's commitment
	Match *MatchReveal `json:"match,omitempty"`
}

type MatchReveal struct {
	Nonce          uint64 `json:"nonce"`
	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	CreatorSeed    string `json:"creator_client_seed"`
	JoinerSeed     string `json:"joiner_client_seed"`
}
