package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/store"
)

type txn struct {
	q querier
}

var _ store.Tx = (*txn)(nil)

func (t *txn) InsertMarket(ctx context.Context, m *domain.Market) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO markets (
			address, market_id, question, authority, end_time, status,
			pool_yes, pool_no, total_volume, participant_count, winning_outcome,
			escrow_address, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.Address[:], m.MarketID, m.Question, m.Authority, m.EndTime, string(m.Status),
		m.PoolYes, m.PoolNo, m.TotalVolume, m.ParticipantCount, nullableOutcome(m.WinningOutcome),
		m.EscrowAddress[:], m.CreatedAt, nullableTime(m.ResolvedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrMarketAlreadyExists.WithMessage(fmt.Sprintf("market %q already exists", m.MarketID))
	}
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.MarketID, err)
	}
	return nil
}

func (t *txn) InsertEscrow(ctx context.Context, e *domain.Escrow) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO escrows (address, market_address, market_id, balance, total_credited, total_debited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Address[:], e.MarketAddress[:], e.MarketID, e.Balance, e.TotalCredited, e.TotalDebited, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert escrow %s: %w", e.Address, err)
	}
	return nil
}

func (t *txn) GetMarketForUpdate(ctx context.Context, addr address.Address) (*domain.Market, error) {
	return getMarket(ctx, t.q, addr, true)
}

func (t *txn) GetMarket(ctx context.Context, addr address.Address) (*domain.Market, error) {
	return getMarket(ctx, t.q, addr, false)
}

func (t *txn) UpdateMarket(ctx context.Context, m *domain.Market) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE markets SET
			status = $2, pool_yes = $3, pool_no = $4, total_volume = $5,
			participant_count = $6, winning_outcome = $7, resolved_at = $8
		WHERE address = $1`,
		m.Address[:], string(m.Status), m.PoolYes, m.PoolNo, m.TotalVolume,
		m.ParticipantCount, nullableOutcome(m.WinningOutcome), nullableTime(m.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

func (t *txn) CreditEscrow(ctx context.Context, escrow address.Address, amount int64) (*domain.Escrow, error) {
	e, err := scanEscrow(t.q.QueryRow(ctx, `
		UPDATE escrows
		SET balance = balance + $2, total_credited = total_credited + $2
		WHERE address = $1
		RETURNING `+escrowColumns,
		escrow[:], amount,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: credit escrow %s: %w", escrow, err)
	}
	return e, nil
}

func (t *txn) DebitEscrow(ctx context.Context, escrow address.Address, amount int64) (*domain.Escrow, error) {
	e, err := scanEscrow(t.q.QueryRow(ctx, `
		UPDATE escrows
		SET balance = balance - $2, total_debited = total_debited + $2
		WHERE address = $1 AND balance >= $2
		RETURNING `+escrowColumns,
		escrow[:], amount,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := getEscrow(ctx, t.q, escrow); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrInsufficientEscrow
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: debit escrow %s: %w", escrow, err)
	}
	return e, nil
}

func (t *txn) NextPositionSeq(ctx context.Context, market address.Address, owner string) (uint64, error) {
	var next int64
	err := t.q.QueryRow(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM positions WHERE market_address = $1 AND owner = $2",
		market[:], owner,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("postgres: next position seq: %w", err)
	}
	return uint64(next), nil
}

func (t *txn) InsertPosition(ctx context.Context, p *domain.Position) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO positions (
			address, owner, market_address, market_id, seq, outcome, stake_amount,
			odds_at_stake_bps, potential_payout, claimed, payout_amount, created_at, claimed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.Address[:], p.Owner, p.MarketAddress[:], p.MarketID, int64(p.Seq), string(p.Outcome), p.StakeAmount,
		p.OddsAtStakeBps, p.PotentialPayout, p.Claimed, p.PayoutAmount, p.CreatedAt, nullableTime(p.ClaimedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrPositionExists
	}
	if err != nil {
		return fmt.Errorf("postgres: insert position %s: %w", p.Address, err)
	}
	return nil
}

func (t *txn) GetPositionForUpdate(ctx context.Context, addr address.Address) (*domain.Position, error) {
	return getPosition(ctx, t.q, addr, true)
}

func (t *txn) MarkPositionClaimed(ctx context.Context, addr address.Address, payout int64, claimedAt time.Time) error {
	tag, err := t.q.Exec(ctx,
		"UPDATE positions SET claimed = TRUE, payout_amount = $2, claimed_at = $3 WHERE address = $1 AND claimed = FALSE",
		addr[:], payout, claimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark position claimed %s: %w", addr, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

func (t *txn) InsertTransfer(ctx context.Context, tr *domain.Transfer) ([]domain.LedgerEntry, error) {
	err := t.q.QueryRow(ctx, `
		INSERT INTO transfers (kind, market_address, position_address, from_account, to_account, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(tr.Kind), tr.MarketAddress[:], tr.PositionAddress[:], tr.FromAccount, tr.ToAccount, tr.Amount, tr.CreatedAt,
	).Scan(&tr.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert transfer: %w", err)
	}

	// Debit and credit legs in one statement.
	rows, err := t.q.Query(ctx, `
		INSERT INTO ledger_entries (transfer_id, account, delta, created_at)
		VALUES ($1, $2, $3, $6), ($1, $4, $5, $6)
		RETURNING `+entryColumns,
		tr.ID, tr.FromAccount, -tr.Amount, tr.ToAccount, tr.Amount, tr.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 2)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: insert ledger entries: %w", err)
	}
	return entries, nil
}

func (t *txn) GetIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var (
		rec    domain.IdempotencyRecord
		status *int
		body   []byte
	)
	err := t.q.QueryRow(ctx,
		"SELECT key, request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&rec.Key, &rec.RequestHash, &rec.Status, &status, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: idempotency query: %w", err)
	}
	if status != nil {
		rec.ResponseStatus = *status
	}
	rec.ResponseBody = json.RawMessage(body)
	return &rec, nil
}

func (t *txn) ReserveIdempotency(ctx context.Context, key, requestHash string) error {
	_, err := t.q.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)",
		key, requestHash, domain.IdempotencyInProgress,
	)
	if isUniqueViolation(err) {
		return domain.ErrIdempotencyConflict
	}
	if err != nil {
		return fmt.Errorf("postgres: key reservation: %w", err)
	}
	return nil
}

func (t *txn) CompleteIdempotency(ctx context.Context, key string, status int, body []byte) error {
	_, err := t.q.Exec(ctx,
		"UPDATE idempotency_keys SET status = $2, response_status = $3, response_body = $4 WHERE key = $1",
		key, domain.IdempotencyCompleted, status, body,
	)
	if err != nil {
		return fmt.Errorf("postgres: idempotency update: %w", err)
	}
	return nil
}
