package service

import (
	"context"

	"fairwager/internal/domain"
	"fairwager/internal/logger"
)

// AuditStore persists audit entries; *repository.AuditRepository in production
type AuditStore interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	GetByPlayer(ctx context.Context, player string, limit int) ([]*domain.AuditLog, error)
	GetByNonce(ctx context.Context, nonce uint64) ([]*domain.AuditLog, error)
}

// AuditService handles audit logging
type AuditService struct {
	repo AuditStore
}

// NewAuditService creates a new audit service
func NewAuditService(repo AuditStore) *AuditService {
	return &AuditService{repo: repo}
}

// Log creates a new audit log entry
func (s *AuditService) Log(ctx context.Context, player string, action, category string, details map[string]interface{}) {
	s.create(ctx, &domain.AuditLog{
		Player:   player,
		Action:   action,
		Category: category,
		Details:  details,
	})
}

// LogWithRequest creates an audit log with request info (IP, User-Agent)
func (s *AuditService) LogWithRequest(ctx context.Context, player string, action, category, ip, userAgent string, details map[string]interface{}) {
	s.create(ctx, &domain.AuditLog{
		Player:    player,
		Action:    action,
		Category:  category,
		Details:   details,
		IP:        ip,
		UserAgent: userAgent,
	})
}

// LogRound records a round transition or custody warning
func (s *AuditService) LogRound(ctx context.Context, r *domain.Round, action string, details map[string]interface{}) {
	category := domain.AuditCategoryRound
	if action == domain.AuditActionCustodyWarning {
		category = domain.AuditCategoryCustody
	}
	s.create(ctx, &domain.AuditLog{
		Player:   r.Player,
		Nonce:    r.Nonce,
		Action:   action,
		Category: category,
		Details:  details,
	})
}

// LogReveal records that the seed of a round was disclosed
func (s *AuditService) LogReveal(ctx context.Context, player string, nonce uint64, ip string) {
	s.create(ctx, &domain.AuditLog{
		Player:   player,
		Nonce:    nonce,
		Action:   domain.AuditActionSeedRevealed,
		Category: domain.AuditCategoryRound,
		IP:       ip,
	})
}

// LogAdminAction logs an admin action
func (s *AuditService) LogAdminAction(ctx context.Context, action string, target string, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["target"] = target

	s.Log(ctx, target, action, domain.AuditCategoryAdmin, details)
}

// LogLogin logs a wallet login
func (s *AuditService) LogLogin(ctx context.Context, player string, ip, userAgent string) {
	s.LogWithRequest(ctx, player, domain.AuditActionLogin, domain.AuditCategoryAuth, ip, userAgent, nil)
}

func (s *AuditService) create(ctx context.Context, log *domain.AuditLog) {
	if err := s.repo.Create(ctx, log); err != nil {
		logger.Error("failed to create audit log", "error", err, "action", log.Action, "player", log.Player, "nonce", log.Nonce)
	}
}

// GetPlayerAuditLogs returns audit logs for a player
func (s *AuditService) GetPlayerAuditLogs(ctx context.Context, player string, limit int) ([]*domain.AuditLog, error) {
	return s.repo.GetByPlayer(ctx, player, limit)
}

// GetRoundAuditLogs returns the audit trail of one round
func (s *AuditService) GetRoundAuditLogs(ctx context.Context, nonce uint64) ([]*domain.AuditLog, error) {
	return s.repo.GetByNonce(ctx, nonce)
}
