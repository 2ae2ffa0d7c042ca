package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoundRepository struct {
	db     *pgxpool.Pool
	sealer SeedSealer
}

func NewRoundRepository(db *pgxpool.Pool, sealer SeedSealer) *RoundRepository {
	return &RoundRepository{db: db, sealer: sealer}
}

const roundColumns = `nonce, player, game_kind, mode, stake, server_seed_sealed, server_seed_hash,
	client_seed, params, status, progress, outcome, payout, pending_payout, refund, fee_bps, rtp_bps,
	lock_receipt, release_receipt, failure_reason, matched_with, opponent_seed, version,
	created_at, locked_at, resolved_at, expires_at, updated_at`

// roundArgs flattens r into the column order of roundColumns
func (r *RoundRepository) roundArgs(round *domain.Round) ([]any, error) {
	sealed, err := sealSeed(r.sealer, round)
	if err != nil {
		return nil, fmt.Errorf("seal seed: %w", err)
	}
	nonce, err := toInt64("nonce", round.Nonce)
	if err != nil {
		return nil, err
	}
	stake, err := toInt64("stake", round.Stake)
	if err != nil {
		return nil, err
	}
	payout, err := toInt64("payout", round.Payout)
	if err != nil {
		return nil, err
	}
	pending, err := toInt64("pending_payout", round.PendingPayout)
	if err != nil {
		return nil, err
	}
	refund, err := toInt64("refund", round.Refund)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(round.Params)
	if err != nil {
		return nil, err
	}
	progress, err := json.Marshal(round.Progress)
	if err != nil {
		return nil, err
	}
	outcome, err := nullableJSON(round.Outcome)
	if err != nil {
		return nil, err
	}
	lockReceipt, err := nullableJSON(round.LockReceipt)
	if err != nil {
		return nil, err
	}
	releaseReceipt, err := nullableJSON(round.ReleaseReceipt)
	if err != nil {
		return nil, err
	}
	matched, err := toInt64("matched_with", round.MatchedWith)
	if err != nil {
		return nil, err
	}
	version, err := toInt64("version", round.Version)
	if err != nil {
		return nil, err
	}
	return []any{
		nonce, round.Player, string(round.Kind), string(round.Mode), stake, sealed, round.ServerSeedHash,
		round.ClientSeed, params, string(round.Status), progress, outcome, payout, pending, refund,
		int32(round.FeeBps), int32(round.RTPBps), lockReceipt, releaseReceipt, round.FailureReason,
		matched, round.OpponentSeed, version, round.CreatedAt, round.LockedAt, round.ResolvedAt, round.ExpiresAt, time.Now(),
	}, nil
}

func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

const insertRoundSQL = `INSERT INTO rounds (` + roundColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`

// InsertRound stores a new round, leaving an existing row with the same nonce untouched
func (r *RoundRepository) InsertRound(ctx context.Context, round *domain.Round) (bool, error) {
	args, err := r.roundArgs(round)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, insertRoundSQL+` ON CONFLICT (nonce) DO NOTHING`, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveRound upserts the mutable state of a round. The sealed seed and the
// commitment are written once and never replaced; a stale version is ignored.
func (r *RoundRepository) SaveRound(ctx context.Context, round *domain.Round) error {
	args, err := r.roundArgs(round)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, insertRoundSQL+`
		ON CONFLICT (nonce) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			outcome = EXCLUDED.outcome,
			payout = EXCLUDED.payout,
			pending_payout = EXCLUDED.pending_payout,
			refund = EXCLUDED.refund,
			fee_bps = EXCLUDED.fee_bps,
			rtp_bps = EXCLUDED.rtp_bps,
			lock_receipt = EXCLUDED.lock_receipt,
			release_receipt = EXCLUDED.release_receipt,
			failure_reason = EXCLUDED.failure_reason,
			matched_with = EXCLUDED.matched_with,
			opponent_seed = EXCLUDED.opponent_seed,
			version = EXCLUDED.version,
			locked_at = EXCLUDED.locked_at,
			resolved_at = EXCLUDED.resolved_at,
			updated_at = EXCLUDED.updated_at
		WHERE rounds.version < EXCLUDED.version`, args...)
	return err
}

func (r *RoundRepository) GetRound(ctx context.Context, nonce uint64) (*domain.Round, error) {
	n, err := toInt64("nonce", nonce)
	if err != nil {
		return nil, domain.ErrRoundNotFound
	}
	rows, err := r.db.Query(ctx, `SELECT `+roundColumns+` FROM rounds WHERE nonce = $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rounds, err := r.scanRounds(rows)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, domain.ErrRoundNotFound
	}
	return rounds[0], nil
}

// ListUnfinished returns every round not yet in a final status, oldest first
func (r *RoundRepository) ListUnfinished(ctx context.Context) ([]*domain.Round, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+roundColumns+`
		FROM rounds
		WHERE status NOT IN ('resolved', 'expired', 'failed')
		ORDER BY nonce ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRounds(rows)
}

// History returns resolved rounds of player, newest first, using keyset pagination
func (r *RoundRepository) History(ctx context.Context, player, cursor string, limit int) (*domain.HistoryPage, error) {
	c, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	var rows pgx.Rows
	if c == nil {
		rows, err = r.db.Query(ctx, `
			SELECT `+roundColumns+`
			FROM rounds
			WHERE player = $1 AND status = 'resolved'
			ORDER BY resolved_at DESC, nonce DESC
			LIMIT $2`, player, limit+1)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+roundColumns+`
			FROM rounds
			WHERE player = $1 AND status = 'resolved' AND (resolved_at, nonce) < ($2, $3)
			ORDER BY resolved_at DESC, nonce DESC
			LIMIT $4`, player, c.ResolvedAt, int64(c.Nonce), limit+1)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rounds, err := r.scanRounds(rows)
	if err != nil {
		return nil, err
	}
	return page(rounds, limit), nil
}

func page(rounds []*domain.Round, limit int) *domain.HistoryPage {
	p := &domain.HistoryPage{Rounds: rounds}
	if len(rounds) > limit {
		p.Rounds = rounds[:limit]
		p.NextCursor = encodeCursor(p.Rounds[limit-1])
	}
	if p.Rounds == nil {
		p.Rounds = []*domain.Round{}
	}
	return p
}

// MaxNonce returns the highest nonce ever stored, 0 for an empty table
func (r *RoundRepository) MaxNonce(ctx context.Context) (uint64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(nonce), 0) FROM rounds`).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (r *RoundRepository) scanRounds(rows pgx.Rows) ([]*domain.Round, error) {
	var out []*domain.Round
	for rows.Next() {
		var (
			round                        domain.Round
			nonce, stake, payout, refund int64
			pending                      int64
			matched, version             int64
			feeBps, rtpBps               int32
			kind, mode, status           string
			sealed                       []byte
			params, progress, outcome    []byte
			lockReceipt, releaseReceipt  []byte
		)
		if err := rows.Scan(
			&nonce, &round.Player, &kind, &mode, &stake, &sealed, &round.ServerSeedHash,
			&round.ClientSeed, &params, &status, &progress, &outcome, &payout, &pending, &refund,
			&feeBps, &rtpBps, &lockReceipt, &releaseReceipt, &round.FailureReason,
			&matched, &round.OpponentSeed, &version, &round.CreatedAt, &round.LockedAt, &round.ResolvedAt, &round.ExpiresAt, &round.UpdatedAt,
		); err != nil {
			return nil, err
		}
		round.Nonce = uint64(nonce)
		round.Kind = domain.GameKind(kind)
		round.Mode = domain.Mode(mode)
		round.Status = domain.RoundStatus(status)
		round.Stake = uint64(stake)
		round.Payout = uint64(payout)
		round.PendingPayout = uint64(pending)
		round.Refund = uint64(refund)
		round.FeeBps = uint32(feeBps)
		round.RTPBps = uint32(rtpBps)
		round.MatchedWith = uint64(matched)
		round.Version = uint64(version)

		if err := unmarshalColumns(&round, params, progress, outcome, lockReceipt, releaseReceipt); err != nil {
			return nil, fmt.Errorf("round %d: %w", round.Nonce, err)
		}
		round.ServerSeed = openSeed(r.sealer, &round, sealed)
		if round.ServerSeed == nil && len(sealed) > 0 {
			logger.ForRound(round.Nonce, kind).Warn("server seed cannot be unsealed")
		}
		out = append(out, &round)
	}
	return out, rows.Err()
}

func unmarshalColumns(round *domain.Round, params, progress, outcome, lockReceipt, releaseReceipt []byte) error {
	if len(params) > 0 {
		if err := json.Unmarshal(params, &round.Params); err != nil {
			return fmt.Errorf("params: %w", err)
		}
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &round.Progress); err != nil {
			return fmt.Errorf("progress: %w", err)
		}
	}
	if len(outcome) > 0 {
		round.Outcome = &domain.Outcome{}
		if err := json.Unmarshal(outcome, round.Outcome); err != nil {
			return fmt.Errorf("outcome: %w", err)
		}
	}
	if len(lockReceipt) > 0 {
		round.LockReceipt = &domain.Receipt{}
		if err := json.Unmarshal(lockReceipt, round.LockReceipt); err != nil {
			return fmt.Errorf("lock receipt: %w", err)
		}
	}
	if len(releaseReceipt) > 0 {
		round.ReleaseReceipt = &domain.Receipt{}
		if err := json.Unmarshal(releaseReceipt, round.ReleaseReceipt); err != nil {
			return fmt.Errorf("release receipt: %w", err)
		}
	}
	return nil
}
