package repository

import (
	"context"
	"errors"

	"fairwager/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PlayerRepository struct {
	db *pgxpool.Pool
}

func NewPlayerRepository(db *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: db}
}

func (r *PlayerRepository) Get(ctx context.Context, publicKey string) (*domain.Player, error) {
	var (
		p       domain.Player
		balance int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT public_key, promotional, promo_balance, created_at
		 FROM players
		 WHERE public_key = $1`,
		publicKey,
	).Scan(&p.PublicKey, &p.Promotional, &balance, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewError(domain.CodeNotFound, "player not found")
	}
	if err != nil {
		return nil, err
	}
	p.PromoBalance = uint64(balance)
	return &p, nil
}

// IsPromotional reports whether player plays with promotional funds.
// Unknown players play with real stake.
func (r *PlayerRepository) IsPromotional(ctx context.Context, publicKey string) (bool, error) {
	var promo bool
	err := r.db.QueryRow(ctx,
		`SELECT promotional FROM players WHERE public_key = $1`,
		publicKey,
	).Scan(&promo)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return promo, err
}

// Ensure creates the player row if it does not exist yet
func (r *PlayerRepository) Ensure(ctx context.Context, publicKey string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO players (public_key) VALUES ($1) ON CONFLICT (public_key) DO NOTHING`,
		publicKey,
	)
	return err
}

// Grant switches a player to promotional play and credits amount
func (r *PlayerRepository) Grant(ctx context.Context, publicKey string, amount uint64) (*domain.Player, error) {
	credit, err := toInt64("amount", amount)
	if err != nil {
		return nil, domain.Validationf("amount out of range")
	}
	var (
		p       domain.Player
		balance int64
	)
	err = r.db.QueryRow(ctx,
		`INSERT INTO players (public_key, promotional, promo_balance)
		 VALUES ($1, TRUE, $2)
		 ON CONFLICT (public_key) DO UPDATE
		 SET promotional = TRUE, promo_balance = players.promo_balance + EXCLUDED.promo_balance
		 RETURNING public_key, promotional, promo_balance, created_at`,
		publicKey, credit,
	).Scan(&p.PublicKey, &p.Promotional, &balance, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.PromoBalance = uint64(balance)
	return &p, nil
}
