package postgres

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
)

func (s *Store) GetMarket(ctx context.Context, addr address.Address) (*domain.Market, error) {
	return getMarket(ctx, s.pool, addr, false)
}

func (s *Store) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	opts := f.ListOpts.Normalize()
	query := "SELECT " + marketColumns + " FROM markets"
	args := []any{}
	if f.Status != "" {
		query += " WHERE status = $1"
		args = append(args, string(f.Status))
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, market_id LIMIT %d OFFSET %d", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate markets: %w", err)
	}
	return out, nil
}

func (s *Store) GetEscrow(ctx context.Context, addr address.Address) (*domain.Escrow, error) {
	return getEscrow(ctx, s.pool, addr)
}

func (s *Store) GetPosition(ctx context.Context, addr address.Address) (*domain.Position, error) {
	return getPosition(ctx, s.pool, addr, false)
}

func (s *Store) ListPositionsByMarket(ctx context.Context, market address.Address, opts domain.ListOpts) ([]domain.Position, error) {
	opts = opts.Normalize()
	rows, err := s.pool.Query(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE market_address = $1 ORDER BY created_at, owner, seq LIMIT $2 OFFSET $3",
		market[:], opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %s: %w", market, err)
	}
	return collectPositions(rows)
}

func (s *Store) ListPositionsByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	opts = opts.Normalize()
	rows, err := s.pool.Query(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE owner = $1 ORDER BY created_at DESC, seq DESC LIMIT $2 OFFSET $3",
		owner, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for owner %s: %w", owner, err)
	}
	return collectPositions(rows)
}

// ListEntries returns the newest entries first.
func (s *Store) ListEntries(ctx context.Context, account string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	opts = opts.Normalize()
	rows, err := s.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE account = $1 ORDER BY id DESC LIMIT $2 OFFSET $3",
		account, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries for %s: %w", account, err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate entries: %w", err)
	}
	return out, nil
}

func (s *Store) SumClaimedPayouts(ctx context.Context, market address.Address) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(payout_amount), 0)::BIGINT FROM positions WHERE market_address = $1 AND claimed",
		market[:],
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum claimed payouts %s: %w", market, err)
	}
	return sum, nil
}

func (s *Store) SumEntries(ctx context.Context, account string) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(delta), 0)::BIGINT FROM ledger_entries WHERE account = $1",
		account,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum entries %s: %w", account, err)
	}
	return sum, nil
}
