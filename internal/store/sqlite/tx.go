package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/store"
)

// txn runs on the store's only connection, so there is no SELECT ... FOR UPDATE:
// holding the transaction is already exclusive.
type txn struct {
	q querier
}

var _ store.Tx = (*txn)(nil)

func (t *txn) InsertMarket(ctx context.Context, m *domain.Market) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO markets (
			address, market_id, question, authority, end_time, status,
			pool_yes, pool_no, total_volume, participant_count, winning_outcome,
			escrow_address, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Address[:], m.MarketID, m.Question, m.Authority, m.EndTime, string(m.Status),
		m.PoolYes, m.PoolNo, m.TotalVolume, m.ParticipantCount, nullableOutcome(m.WinningOutcome),
		m.EscrowAddress[:], toNanos(m.CreatedAt), nullableNanos(m.ResolvedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrMarketAlreadyExists.WithMessage(fmt.Sprintf("market %q already exists", m.MarketID))
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert market %s: %w", m.MarketID, err)
	}
	return nil
}

func (t *txn) InsertEscrow(ctx context.Context, e *domain.Escrow) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO escrows (address, market_address, market_id, balance, total_credited, total_debited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Address[:], e.MarketAddress[:], e.MarketID, e.Balance, e.TotalCredited, e.TotalDebited, toNanos(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert escrow %s: %w", e.Address, err)
	}
	return nil
}

func (t *txn) GetMarketForUpdate(ctx context.Context, addr address.Address) (*domain.Market, error) {
	return getMarket(ctx, t.q, addr)
}

func (t *txn) GetMarket(ctx context.Context, addr address.Address) (*domain.Market, error) {
	return getMarket(ctx, t.q, addr)
}

func (t *txn) UpdateMarket(ctx context.Context, m *domain.Market) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE markets SET
			status = ?, pool_yes = ?, pool_no = ?, total_volume = ?,
			participant_count = ?, winning_outcome = ?, resolved_at = ?
		WHERE address = ?`,
		string(m.Status), m.PoolYes, m.PoolNo, m.TotalVolume,
		m.ParticipantCount, nullableOutcome(m.WinningOutcome), nullableNanos(m.ResolvedAt),
		m.Address[:],
	)
	if err != nil {
		return fmt.Errorf("sqlite: update market %s: %w", m.MarketID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

func (t *txn) CreditEscrow(ctx context.Context, escrow address.Address, amount int64) (*domain.Escrow, error) {
	e, err := scanEscrow(t.q.QueryRowContext(ctx, `
		UPDATE escrows
		SET balance = balance + ?, total_credited = total_credited + ?
		WHERE address = ?
		RETURNING `+escrowColumns,
		amount, amount, escrow[:],
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: credit escrow %s: %w", escrow, err)
	}
	return e, nil
}

func (t *txn) DebitEscrow(ctx context.Context, escrow address.Address, amount int64) (*domain.Escrow, error) {
	e, err := scanEscrow(t.q.QueryRowContext(ctx, `
		UPDATE escrows
		SET balance = balance - ?, total_debited = total_debited + ?
		WHERE address = ? AND balance >= ?
		RETURNING `+escrowColumns,
		amount, amount, escrow[:], amount,
	))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := getEscrow(ctx, t.q, escrow); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrInsufficientEscrow
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: debit escrow %s: %w", escrow, err)
	}
	return e, nil
}

func (t *txn) NextPositionSeq(ctx context.Context, market address.Address, owner string) (uint64, error) {
	var next int64
	err := t.q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM positions WHERE market_address = ? AND owner = ?",
		market[:], owner,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("sqlite: next position seq: %w", err)
	}
	return uint64(next), nil
}

func (t *txn) InsertPosition(ctx context.Context, p *domain.Position) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO positions (
			address, owner, market_address, market_id, seq, outcome, stake_amount,
			odds_at_stake_bps, potential_payout, claimed, payout_amount, created_at, claimed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Address[:], p.Owner, p.MarketAddress[:], p.MarketID, int64(p.Seq), string(p.Outcome), p.StakeAmount,
		p.OddsAtStakeBps, p.PotentialPayout, p.Claimed, p.PayoutAmount, toNanos(p.CreatedAt), nullableNanos(p.ClaimedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrPositionExists
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert position %s: %w", p.Address, err)
	}
	return nil
}

func (t *txn) GetPositionForUpdate(ctx context.Context, addr address.Address) (*domain.Position, error) {
	return getPosition(ctx, t.q, addr)
}

func (t *txn) MarkPositionClaimed(ctx context.Context, addr address.Address, payout int64, claimedAt time.Time) error {
	res, err := t.q.ExecContext(ctx,
		"UPDATE positions SET claimed = 1, payout_amount = ?, claimed_at = ? WHERE address = ? AND claimed = 0",
		payout, toNanos(claimedAt), addr[:],
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark position claimed %s: %w", addr, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: mark position claimed %s: %w", addr, err)
	}
	if n == 0 {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

func (t *txn) InsertTransfer(ctx context.Context, tr *domain.Transfer) ([]domain.LedgerEntry, error) {
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO transfers (kind, market_address, position_address, from_account, to_account, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		string(tr.Kind), tr.MarketAddress[:], tr.PositionAddress[:], tr.FromAccount, tr.ToAccount, tr.Amount, toNanos(tr.CreatedAt),
	).Scan(&tr.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert transfer: %w", err)
	}

	rows, err := t.q.QueryContext(ctx, `
		INSERT INTO ledger_entries (transfer_id, account, delta, created_at)
		VALUES (?, ?, ?, ?), (?, ?, ?, ?)
		RETURNING `+entryColumns,
		tr.ID, tr.FromAccount, -tr.Amount, toNanos(tr.CreatedAt),
		tr.ID, tr.ToAccount, tr.Amount, toNanos(tr.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert ledger entries: %w", err)
	}
	return collectEntries(rows)
}

func (t *txn) GetIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var (
		rec    domain.IdempotencyRecord
		status sql.NullInt64
		body   []byte
	)
	err := t.q.QueryRowContext(ctx,
		"SELECT key, request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = ?",
		key,
	).Scan(&rec.Key, &rec.RequestHash, &rec.Status, &status, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: idempotency query: %w", err)
	}
	rec.ResponseStatus = int(status.Int64)
	rec.ResponseBody = json.RawMessage(body)
	return &rec, nil
}

func (t *txn) ReserveIdempotency(ctx context.Context, key, requestHash string) error {
	_, err := t.q.ExecContext(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES (?, ?, ?)",
		key, requestHash, domain.IdempotencyInProgress,
	)
	if isUniqueViolation(err) {
		return domain.ErrIdempotencyConflict
	}
	if err != nil {
		return fmt.Errorf("sqlite: key reservation: %w", err)
	}
	return nil
}

func (t *txn) CompleteIdempotency(ctx context.Context, key string, status int, body []byte) error {
	_, err := t.q.ExecContext(ctx,
		"UPDATE idempotency_keys SET status = ?, response_status = ?, response_body = ? WHERE key = ?",
		domain.IdempotencyCompleted, status, body, key,
	)
	if err != nil {
		return fmt.Errorf("sqlite: idempotency update: %w", err)
	}
	return nil
}
