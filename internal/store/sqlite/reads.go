package sqlite

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
)

func (s *Store) GetMarket(ctx context.Context, addr address.Address) (*domain.Market, error) {
	return getMarket(ctx, s.db, addr)
}

func (s *Store) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	opts := f.ListOpts.Normalize()
	query := "SELECT " + marketColumns + " FROM markets"
	args := []any{}
	if f.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY created_at DESC, market_id LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate markets: %w", err)
	}
	return out, nil
}

func (s *Store) GetEscrow(ctx context.Context, addr address.Address) (*domain.Escrow, error) {
	return getEscrow(ctx, s.db, addr)
}

func (s *Store) GetPosition(ctx context.Context, addr address.Address) (*domain.Position, error) {
	return getPosition(ctx, s.db, addr)
}

func (s *Store) ListPositionsByMarket(ctx context.Context, market address.Address, opts domain.ListOpts) ([]domain.Position, error) {
	opts = opts.Normalize()
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE market_address = ? ORDER BY created_at, owner, seq LIMIT ? OFFSET ?",
		market[:], opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions for market %s: %w", market, err)
	}
	return collectPositions(rows)
}

func (s *Store) ListPositionsByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	opts = opts.Normalize()
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE owner = ? ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?",
		owner, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions for owner %s: %w", owner, err)
	}
	return collectPositions(rows)
}

func (s *Store) ListEntries(ctx context.Context, account string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	opts = opts.Normalize()
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE account = ? ORDER BY id DESC LIMIT ? OFFSET ?",
		account, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entries for %s: %w", account, err)
	}
	return collectEntries(rows)
}

func (s *Store) SumClaimedPayouts(ctx context.Context, market address.Address) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(payout_amount), 0) FROM positions WHERE market_address = ? AND claimed = 1",
		market[:],
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sqlite: sum claimed payouts %s: %w", market, err)
	}
	return sum, nil
}

func (s *Store) SumEntries(ctx context.Context, account string) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account = ?",
		account,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sqlite: sum entries %s: %w", account, err)
	}
	return sum, nil
}
