package service

import (
	"context"
	"time"

	"fairwager/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PromoGranter credits promotional balance; *repository.PlayerRepository in production
type PromoGranter interface {
	Grant(ctx context.Context, player string, amount uint64) (*domain.Player, error)
}

// AdminService provides house statistics and promotional grants
type AdminService struct {
	db      *pgxpool.Pool
	players PromoGranter
	audit   *AuditService
}

// NewAdminService creates a new admin service
func NewAdminService(db *pgxpool.Pool, players PromoGranter, audit *AuditService) *AdminService {
	return &AdminService{db: db, players: players, audit: audit}
}

// GameStats is the volume of one game kind
type GameStats struct {
	Game     string `json:"game"`
	Rounds   int64  `json:"rounds"`
	Staked   int64  `json:"staked"`
	PaidOut  int64  `json:"paid_out"`
	Refunded int64  `json:"refunded"`
}

// Stats represents house statistics
type Stats struct {
	TotalRounds      int64       `json:"total_rounds"`
	RoundsToday      int64       `json:"rounds_today"`
	ActivePlayers    int64       `json:"active_players_today"`
	OpenRounds       int64       `json:"open_rounds"`
	FailedRounds     int64       `json:"failed_rounds"`
	PromoPlayers     int64       `json:"promo_players"`
	PromoOutstanding int64       `json:"promo_outstanding"`
	ByGame           []GameStats `json:"by_game"`
}

// GetStats returns house statistics
func (s *AdminService) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	today := time.Now().Truncate(24 * time.Hour)

	// Total rounds
	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM rounds`).Scan(&stats.TotalRounds)

	// Rounds and players today
	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT player) FROM rounds WHERE created_at >= $1
	`, today).Scan(&stats.RoundsToday, &stats.ActivePlayers)

	// Unfinished and failed rounds
	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM rounds WHERE status IN ('created', 'locked', 'in_play')
	`).Scan(&stats.OpenRounds)
	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM rounds WHERE status = 'failed'`).Scan(&stats.FailedRounds)

	// Promotional exposure
	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(promo_balance), 0) FROM players WHERE promotional
	`).Scan(&stats.PromoPlayers, &stats.PromoOutstanding)

	rows, err := s.db.Query(ctx, `
		SELECT game_kind, COUNT(*),
		       COALESCE(SUM(stake) FILTER (WHERE status IN ('resolved', 'expired')), 0),
		       COALESCE(SUM(payout) FILTER (WHERE status = 'resolved'), 0),
		       COALESCE(SUM(refund), 0)
		FROM rounds
		GROUP BY game_kind
		ORDER BY game_kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var g GameStats
		if err := rows.Scan(&g.Game, &g.Rounds, &g.Staked, &g.PaidOut, &g.Refunded); err != nil {
			return nil, err
		}
		stats.ByGame = append(stats.ByGame, g)
	}
	return stats, rows.Err()
}

// GrantPromo switches a player to promotional play and credits amount
func (s *AdminService) GrantPromo(ctx context.Context, player string, amount uint64) (*domain.Player, error) {
	if player == "" || amount == 0 {
		return nil, domain.Validationf("player and a positive amount are required")
	}
	p, err := s.players.Grant(ctx, player, amount)
	if err != nil {
		return nil, err
	}
	s.audit.LogAdminAction(ctx, domain.AuditActionAdminGrantPromo, player, map[string]interface{}{
		"amount":        amount,
		"promo_balance": p.PromoBalance,
	})
	return p, nil
}
