package round

import (
	"context"

	"fairwager/internal/domain"
	"fairwager/internal/metrics"

	"github.com/google/uuid"
)

// NopSink drops every event
type NopSink struct{}

func (NopSink) Publish(domain.Event) {}

func (m *Manager) emit(r *domain.Round, t domain.EventType, payload any) {
	m.events.Publish(domain.Event{
		ID:      uuid.NewString(),
		Type:    t,
		Nonce:   r.Nonce,
		Player:  r.Player,
		Payload: payload,
		At:      m.now(),
	})
}

// recordTransition counts and audits a status change that is already durable
func (m *Manager) recordTransition(ctx context.Context, r *domain.Round) {
	metrics.RoundTransitions.WithLabelValues(string(r.Kind), string(r.Mode), string(r.Status)).Inc()
	if m.audit == nil {
		return
	}
	details := map[string]interface{}{
		"game":    r.Kind,
		"mode":    r.Mode,
		"stake":   r.Stake,
		"version": r.Version,
	}
	switch r.Status {
	case domain.StatusCreated:
		details["server_seed_hash"] = r.ServerSeedHash
	case domain.StatusLocked:
		if r.LockReceipt != nil {
			details["reference"] = r.LockReceipt.Reference
		}
	case domain.StatusResolved:
		details["payout"] = r.Payout
		if r.ReleaseReceipt != nil {
			details["reference"] = r.ReleaseReceipt.Reference
		}
	case domain.StatusExpired:
		details["refund"] = r.Refund
	case domain.StatusFailed:
		details["reason"] = r.FailureReason
		if r.Refund > 0 {
			details["refund"] = r.Refund
		}
		if r.PendingPayout > 0 && !r.ReleaseConfirmed() {
			details["unpaid_payout"] = r.PendingPayout
		}
	}
	m.audit.LogRound(ctx, r, domain.AuditActionFor(r.Status), details)
}

func (m *Manager) auditCustodyWarning(ctx context.Context, r *domain.Round, op string, err error) {
	metrics.RoundWarnings.WithLabelValues(string(r.Kind), string(domain.CodeOf(err))).Inc()
	if m.audit == nil {
		return
	}
	m.audit.LogRound(ctx, r, domain.AuditActionCustodyWarning, map[string]interface{}{
		"op":    op,
		"code":  domain.CodeOf(err),
		"error": err.Error(),
	})
}
