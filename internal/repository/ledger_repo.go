package repository

import (
	"context"
	"errors"
	"fmt"

	"fairwager/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository keeps promotional balances and their entries in one transaction
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Apply records entry exactly once per (nonce, kind) and moves the player's balance by Delta.
// A replay returns the stored entry with applied=false.
func (r *LedgerRepository) Apply(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, bool, error) {
	nonce, err := toInt64("nonce", entry.Nonce)
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	defer tx.Rollback(ctx)

	// Serialises entries of one player; the unique (nonce, kind) index catches the rest
	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT promo_balance FROM players WHERE public_key = $1 FOR UPDATE`,
		entry.Player,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerEntry{}, false, domain.NewError(domain.CodeNotFound, "player not found")
	}
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}

	existing, err := getLedgerEntry(ctx, tx, nonce, entry.Kind)
	if err == nil {
		return *existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerEntry{}, false, err
	}

	next := balance + entry.Delta
	if next < 0 {
		return domain.LedgerEntry{}, false, domain.WrapError(domain.CodeInsufficientFunds, "insufficient funds",
			fmt.Errorf("promotional balance %d, need %d", balance, -entry.Delta))
	}

	if _, err := tx.Exec(ctx,
		`UPDATE players SET promo_balance = $1 WHERE public_key = $2`,
		next, entry.Player,
	); err != nil {
		return domain.LedgerEntry{}, false, err
	}

	stored := entry
	stored.BalanceAfter = uint64(next)
	if err := tx.QueryRow(ctx,
		`INSERT INTO promo_ledger (nonce, kind, player, delta, balance_after)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		nonce, string(entry.Kind), entry.Player, entry.Delta, next,
	).Scan(&stored.ID, &stored.CreatedAt); err != nil {
		return domain.LedgerEntry{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.LedgerEntry{}, false, err
	}
	return stored, true, nil
}

// Entries returns every entry recorded for a round
func (r *LedgerRepository) Entries(ctx context.Context, nonce uint64) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, nonce, kind, player, delta, balance_after, created_at
		 FROM promo_ledger
		 WHERE nonce = $1
		 ORDER BY id`,
		int64(nonce),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func getLedgerEntry(ctx context.Context, tx pgx.Tx, nonce int64, kind domain.LedgerKind) (*domain.LedgerEntry, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, nonce, kind, player, delta, balance_after, created_at
		 FROM promo_ledger
		 WHERE nonce = $1 AND kind = $2`,
		nonce, string(kind),
	)
	return scanLedgerEntry(row)
}

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		e              domain.LedgerEntry
		nonce, balance int64
		kind           string
	)
	if err := row.Scan(&e.ID, &nonce, &kind, &e.Player, &e.Delta, &balance, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Nonce = uint64(nonce)
	e.Kind = domain.LedgerKind(kind)
	e.BalanceAfter = uint64(balance)
	return &e, nil
}
