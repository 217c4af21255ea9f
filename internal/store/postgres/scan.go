package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so reads are shared
// between the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
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

func scanMarket(row scanner) (*domain.Market, error) {
	var (
		m              domain.Market
		addr, escrow   []byte
		status         string
		winningOutcome *string
	)
	err := row.Scan(
		&addr, &m.MarketID, &m.Question, &m.Authority, &m.EndTime, &status,
		&m.PoolYes, &m.PoolNo, &m.TotalVolume, &m.ParticipantCount, &winningOutcome,
		&escrow, &m.CreatedAt, &m.ResolvedAt,
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
	if winningOutcome != nil {
		o := domain.Outcome(*winningOutcome)
		m.WinningOutcome = &o
	}
	return &m, nil
}

func scanEscrow(row scanner) (*domain.Escrow, error) {
	var (
		e            domain.Escrow
		addr, market []byte
	)
	err := row.Scan(&addr, &market, &e.MarketID, &e.Balance, &e.TotalCredited, &e.TotalDebited, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if e.Address, err = address.FromBytes(addr); err != nil {
		return nil, err
	}
	if e.MarketAddress, err = address.FromBytes(market); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanPosition(row scanner) (*domain.Position, error) {
	var (
		p            domain.Position
		addr, market []byte
		seq          int64
		outcome      string
	)
	err := row.Scan(
		&addr, &p.Owner, &market, &p.MarketID, &seq, &outcome, &p.StakeAmount,
		&p.OddsAtStakeBps, &p.PotentialPayout, &p.Claimed, &p.PayoutAmount, &p.CreatedAt, &p.ClaimedAt,
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
	return &p, nil
}

func scanEntry(row scanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.TransferID, &e.Account, &e.Delta, &e.CreatedAt)
	return e, err
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return out, nil
}

func getMarket(ctx context.Context, q querier, addr address.Address, forUpdate bool) (*domain.Market, error) {
	query := "SELECT " + marketColumns + " FROM markets WHERE address = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	m, err := scanMarket(q.QueryRow(ctx, query, addr[:]))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get market %s: %w", addr, err)
	}
	return m, nil
}

func getEscrow(ctx context.Context, q querier, addr address.Address) (*domain.Escrow, error) {
	e, err := scanEscrow(q.QueryRow(ctx, "SELECT "+escrowColumns+" FROM escrows WHERE address = $1", addr[:]))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get escrow %s: %w", addr, err)
	}
	return e, nil
}

func getPosition(ctx context.Context, q querier, addr address.Address, forUpdate bool) (*domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE address = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	p, err := scanPosition(q.QueryRow(ctx, query, addr[:]))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get position %s: %w", addr, err)
	}
	return p, nil
}

// nullableTime keeps zero times out of TIMESTAMPTZ columns.
func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func nullableOutcome(o *domain.Outcome) any {
	if o == nil {
		return nil
	}
	return string(*o)
}
