package repository

import (
	"context"
	"encoding/json"

	"fairwager/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	detailsJSON, err := json.Marshal(log.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_logs (player, nonce, action, category, details, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, log.Player, int64(log.Nonce), log.Action, log.Category, detailsJSON, log.IP, log.UserAgent)
	return err
}

// GetByPlayer returns audit logs for a player
func (r *AuditRepository) GetByPlayer(ctx context.Context, player string, limit int) ([]*domain.AuditLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, player, nonce, action, category, details, ip, user_agent, created_at
		FROM audit_logs
		WHERE player = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, player, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditLogs(rows)
}

// GetByNonce returns the audit trail of a round, oldest first
func (r *AuditRepository) GetByNonce(ctx context.Context, nonce uint64) ([]*domain.AuditLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, player, nonce, action, category, details, ip, user_agent, created_at
		FROM audit_logs
		WHERE nonce = $1
		ORDER BY id ASC
	`, int64(nonce))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditLogs(rows)
}

func scanAuditLogs(rows pgx.Rows) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	for rows.Next() {
		var log domain.AuditLog
		var nonce int64
		var detailsJSON []byte
		if err := rows.Scan(&log.ID, &log.Player, &nonce, &log.Action, &log.Category, &detailsJSON, &log.IP, &log.UserAgent, &log.CreatedAt); err != nil {
			return nil, err
		}
		log.Nonce = uint64(nonce)
		if err := json.Unmarshal(detailsJSON, &log.Details); err != nil {
			log.Details = make(map[string]interface{})
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}
