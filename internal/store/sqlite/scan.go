package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const marketColumns = `address, market_id, question, authority, end_time, status,
	pool_yes, pool_no, total_volume, participant_count, winning_outcome,
	escrow_address, created_at, resolved_at`

const escrowColumns = `address, market_address, market_id, balance, total_credited, total_debited, created_at`

const positionColumns = `address, owner, market_address, market_id, seq, outcome, stake_amount,
	odds_at_stake_bps, potential_payout, claimed, payout_amount, created_at, claimed_at`

const entryColumns = `id, transfer_id, account, delta, created_at`

// Times are stored as unix nanoseconds.
func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullableOutcome(o *domain.Outcome) sql.NullString {
	if o == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*o), Valid: true}
}

func scanMarket(row scanner) (*domain.Market, error) {
	var (
		m              domain.Market
		addr, escrow   []byte
		status         string
		winningOutcome sql.NullString
		createdAt      int64
		resolvedAt     sql.NullInt64
	)
	err := row.Scan(
		&addr, &m.MarketID, &m.Question, &m.Authority, &m.EndTime, &status,
		&m.PoolYes, &m.PoolNo, &m.TotalVolume, &m.ParticipantCount, &winningOutcome,
		&escrow, &createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.Address, err = address.FromBytes(addr); err != nil {
		return nil, err
	}
	if m.EscrowAddress, err = address.FromBytes(escrow); err != nil {
		return nil, err
	}
	m.Status = domain.MarketStatus(status)
	if winningOutcome.Valid {
		o := domain.Outcome(winningOutcome.String)
		m.WinningOutcome = &o
	}
	m.CreatedAt = fromNanos(createdAt)
	m.ResolvedAt = timePtr(resolvedAt)
	return &m, nil
}

func scanEscrow(row scanner) (*domain.Escrow, error) {
	var (
		e            domain.Escrow
		addr, market []byte
		createdAt    int64
	)
	err := row.Scan(&addr, &market, &e.MarketID, &e.Balance, &e.TotalCredited, &e.TotalDebited, &createdAt)
	if err != nil {
		return nil, err
	}
	if e.Address, err = address.FromBytes(addr); err != nil {
		return nil, err
	}
	if e.MarketAddress, err = address.FromBytes(market); err != nil {
		return nil, err
	}
	e.CreatedAt = fromNanos(createdAt)
	return &e, nil
}

func scanPosition(row scanner) (*domain.Position, error) {
	var (
		p            domain.Position
		addr, market []byte
		seq          int64
		outcome      string
		createdAt    int64
		claimedAt    sql.NullInt64
	)
	err := row.Scan(
		&addr, &p.Owner, &market, &p.MarketID, &seq, &outcome, &p.StakeAmount,
		&p.OddsAtStakeBps, &p.PotentialPayout, &p.Claimed, &p.PayoutAmount, &createdAt, &claimedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Address, err = address.FromBytes(addr); err != nil {
		return nil, err
	}
	if p.MarketAddress, err = address.FromBytes(market); err != nil {
		return nil, err
	}
	p.Seq = uint64(seq)
	p.Outcome = domain.Outcome(outcome)
	p.CreatedAt = fromNanos(createdAt)
	p.ClaimedAt = timePtr(claimedAt)
	return &p, nil
}

func scanEntry(row scanner) (domain.LedgerEntry, error) {
	var (
		e         domain.LedgerEntry
		createdAt int64
	)
	if err := row.Scan(&e.ID, &e.TransferID, &e.Account, &e.Delta, &createdAt); err != nil {
		return e, err
	}
	e.CreatedAt = fromNanos(createdAt)
	return e, nil
}

func collectPositions(rows *sql.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate positions: %w", err)
	}
	return out, nil
}

func collectEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()
	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate entries: %w", err)
	}
	return out, nil
}

func getMarket(ctx context.Context, q querier, addr address.Address) (*domain.Market, error) {
	m, err := scanMarket(q.QueryRowContext(ctx, "SELECT "+marketColumns+" FROM markets WHERE address = ?", addr[:]))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get market %s: %w", addr, err)
	}
	return m, nil
}

func getEscrow(ctx context.Context, q querier, addr address.Address) (*domain.Escrow, error) {
	e, err := scanEscrow(q.QueryRowContext(ctx, "SELECT "+escrowColumns+" FROM escrows WHERE address = ?", addr[:]))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get escrow %s: %w", addr, err)
	}
	return e, nil
}

func getPosition(ctx context.Context, q querier, addr address.Address) (*domain.Position, error) {
	p, err := scanPosition(q.QueryRowContext(ctx, "SELECT "+positionColumns+" FROM positions WHERE address = ?", addr[:]))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get position %s: %w", addr, err)
	}
	return p, nil
}
