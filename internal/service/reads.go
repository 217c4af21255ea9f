package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/ledger"
)

// GetMarket reads through the snapshot cache. Cache failures degrade to a
// store read.
func (e *Engine) GetMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	if err := e.limits.ValidateMarketID(marketID); err != nil {
		return nil, err
	}
	cached, err := e.cache.GetMarket(ctx, marketID)
	if err != nil {
		e.log.Warn("market cache read failed", zap.String("market_id", marketID), zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	m, err := e.ledger.GetMarket(ctx, address.Market(marketID))
	if err != nil {
		return nil, err
	}
	if err := e.cache.SetMarket(ctx, m); err != nil {
		e.log.Warn("market cache fill failed", zap.String("market_id", marketID), zap.Error(err))
	}
	return m, nil
}

func (e *Engine) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.ErrInvalidFilter.WithMessage(fmt.Sprintf("unknown market status %q", f.Status))
	}
	return e.ledger.ListMarkets(ctx, f)
}

// GetEscrow returns the escrow of marketID at its derived address.
func (e *Engine) GetEscrow(ctx context.Context, marketID string) (*domain.Escrow, error) {
	if err := e.limits.ValidateMarketID(marketID); err != nil {
		return nil, err
	}
	return e.ledger.GetEscrow(ctx, address.Escrow(address.Market(marketID)))
}

func (e *Engine) GetPosition(ctx context.Context, addr address.Address) (*domain.Position, error) {
	return e.ledger.GetPosition(ctx, addr)
}

func (e *Engine) ListPositionsByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Position, error) {
	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return e.ledger.ListPositionsByMarket(ctx, m.Address, opts)
}

func (e *Engine) ListPositionsByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	if owner == "" {
		return nil, domain.ErrInvalidOwner
	}
	return e.ledger.ListPositionsByOwner(ctx, owner, opts)
}

func (e *Engine) ListEntries(ctx context.Context, account string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	return e.ledger.ListEntries(ctx, account, opts)
}

// AuditEscrow recomputes what the escrow of marketID must hold and compares
// it with the stored balance and the ledger entries booked against it. Reads
// are not taken in one transaction, so a market with operations in flight may
// report a transient mismatch; a quiescent market must always be consistent.
func (e *Engine) AuditEscrow(ctx context.Context, marketID string) (*domain.EscrowAudit, error) {
	in, err := e.auditInput(ctx, marketID)
	if err != nil {
		return nil, err
	}
	a := ledger.AuditEscrow(*in)
	if !a.Consistent {
		e.log.Error("escrow audit failed",
			zap.String("market_id", marketID),
			zap.String("escrow_address", a.EscrowAddress.Hex()),
			zap.Strings("problems", a.Problems))
	}
	return &a, nil
}

func (e *Engine) auditInput(ctx context.Context, marketID string) (*ledger.AuditInput, error) {
	if err := e.limits.ValidateMarketID(marketID); err != nil {
		return nil, err
	}
	m, err := e.ledger.GetMarket(ctx, address.Market(marketID))
	if err != nil {
		return nil, err
	}
	escrow, err := e.ledger.GetEscrow(ctx, m.EscrowAddress)
	if err != nil {
		return nil, err
	}
	claimed, err := e.ledger.SumClaimedPayouts(ctx, m.Address)
	if err != nil {
		return nil, err
	}
	entrySum, err := e.ledger.SumEntries(ctx, domain.EscrowAccount(escrow.Address))
	if err != nil {
		return nil, err
	}
	positions, err := e.allPositions(ctx, m.Address)
	if err != nil {
		return nil, err
	}
	return &ledger.AuditInput{
		Market:         m,
		Escrow:         escrow,
		ClaimedPayouts: claimed,
		EntrySum:       entrySum,
		Positions:      positions,
	}, nil
}

func (e *Engine) allPositions(ctx context.Context, market address.Address) ([]domain.Position, error) {
	var out []domain.Position
	opts := domain.ListOpts{Limit: domain.MaxListLimit}
	for {
		page, err := e.ledger.ListPositionsByMarket(ctx, market, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < opts.Limit {
			return out, nil
		}
		opts.Offset += len(page)
	}
}

func (e *Engine) allEntries(ctx context.Context, account string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	opts := domain.ListOpts{Limit: domain.MaxListLimit}
	for {
		page, err := e.ledger.ListEntries(ctx, account, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < opts.Limit {
			return out, nil
		}
		opts.Offset += len(page)
	}
}

// ArchiveMarket exports a resolved market with its positions, escrow entries
// and a fresh audit. Only the market authority may trigger it.
func (e *Engine) ArchiveMarket(ctx context.Context, marketID, caller string) (string, error) {
	if e.archiver == nil {
		return "", ErrArchiveDisabled
	}
	in, err := e.auditInput(ctx, marketID)
	if err != nil {
		return "", err
	}
	if caller != in.Market.Authority {
		return "", domain.ErrUnauthorized
	}
	if in.Market.Status != domain.MarketResolved {
		return "", domain.ErrMarketNotResolved
	}
	entries, err := e.allEntries(ctx, domain.EscrowAccount(in.Escrow.Address))
	if err != nil {
		return "", err
	}

	key, err := e.archiver.ArchiveMarket(ctx, domain.MarketArchive{
		Market:    *in.Market,
		Escrow:    *in.Escrow,
		Positions: in.Positions,
		Entries:   entries,
		Audit:     ledger.AuditEscrow(*in),
	})
	if err != nil {
		return "", fmt.Errorf("service: archive market %s: %w", marketID, err)
	}
	e.log.Info("market archived", zap.String("market_id", marketID), zap.String("key", key))
	return key, nil
}
