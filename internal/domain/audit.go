package domain

import "time"

// AuditLog represents an audit log entry for tracking important actions
type AuditLog struct {
	ID        int64                  `db:"id" json:"id"`
	Player    string                 `db:"player" json:"player"`
	Nonce     uint64                 `db:"nonce" json:"nonce,omitempty"`
	Action    string                 `db:"action" json:"action"`
	Category  string                 `db:"category" json:"category"`
	Details   map[string]interface{} `db:"details" json:"details"`
	IP        string                 `db:"ip" json:"ip,omitempty"`
	UserAgent string                 `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// Audit action categories
const (
	AuditCategoryAuth    = "auth"
	AuditCategoryRound   = "round"
	AuditCategoryCustody = "custody"
	AuditCategoryAdmin   = "admin"
)

// Audit actions
const (
	// Auth actions
	AuditActionLogin = "login"

	// Round actions, one per lifecycle transition
	AuditActionRoundCreated  = "round_created"
	AuditActionRoundLocked   = "round_locked"
	AuditActionRoundInPlay   = "round_in_play"
	AuditActionRoundResolved = "round_resolved"
	AuditActionRoundExpired  = "round_expired"
	AuditActionRoundFailed   = "round_failed"
	AuditActionSeedRevealed  = "seed_revealed"

	// Custody actions
	AuditActionCustodyWarning = "custody_warning"

	// Admin actions
	AuditActionAdminGrantPromo = "admin_grant_promo"
)

// AuditActionFor maps a round status to its audit action
func AuditActionFor(s RoundStatus) string {
	switch s {
	case StatusCreated:
		return AuditActionRoundCreated
	case StatusLocked:
		return AuditActionRoundLocked
	case StatusInPlay:
		return AuditActionRoundInPlay
	case StatusResolved:
		return AuditActionRoundResolved
	case StatusExpired:
		return AuditActionRoundExpired
	default:
		return AuditActionRoundFailed
	}
}
