package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/ledger"
	"github.com/punchamoorthee/parimutuel/internal/store"
)

// CreateMarket allocates an active market and its empty escrow at their
// derived addresses. The caller named in p.Authority becomes the only
// identity allowed to resolve it.
func (e *Engine) CreateMarket(ctx context.Context, p domain.CreateMarketParams) (*domain.CreateMarketReceipt, error) {
	res, err := e.commit(ctx, domain.OpCreateMarket, func(tx store.Tx) (*result, error) {
		return e.createMarket(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return res.receipt.CreateMarket, nil
}

func (e *Engine) createMarket(ctx context.Context, tx store.Tx, p domain.CreateMarketParams) (*result, error) {
	now := e.clock()
	m, escrow, err := ledger.NewMarket(p, now, e.limits)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertMarket(ctx, m); err != nil {
		return nil, err
	}
	if err := tx.InsertEscrow(ctx, escrow); err != nil {
		return nil, err
	}

	e.log.Info("market created",
		zap.String("market_id", m.MarketID),
		zap.String("market_address", m.Address.Hex()),
		zap.String("authority", m.Authority),
		zap.Int64("end_time", m.EndTime))

	return &result{
		receipt: domain.Receipt{
			Op:           domain.OpCreateMarket,
			CreateMarket: &domain.CreateMarketReceipt{Market: *m, Escrow: *escrow},
		},
		events: []domain.Event{newEvent(domain.EventMarketCreated, m, now)},
		market: m,
	}, nil
}

// Resolve freezes the market's pools and records the winning outcome. It is
// terminal: a resolved market can never be resolved again.
func (e *Engine) Resolve(ctx context.Context, p domain.ResolveParams) (*domain.ResolveReceipt, error) {
	res, err := e.commit(ctx, domain.OpResolve, func(tx store.Tx) (*result, error) {
		return e.resolve(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return res.receipt.Resolve, nil
}

func (e *Engine) resolve(ctx context.Context, tx store.Tx, p domain.ResolveParams) (*result, error) {
	if err := e.limits.ValidateMarketID(p.MarketID); err != nil {
		return nil, err
	}
	m, err := tx.GetMarketForUpdate(ctx, address.Market(p.MarketID))
	if err != nil {
		return nil, err
	}
	now := e.clock()
	if err := ledger.Resolve(m, p.Authority, p.WinningOutcome, now); err != nil {
		return nil, err
	}
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.log.Info("market resolved",
		zap.String("market_id", m.MarketID),
		zap.String("market_address", m.Address.Hex()),
		zap.String("winning_outcome", string(p.WinningOutcome)),
		zap.Int64("pool_yes", m.PoolYes),
		zap.Int64("pool_no", m.PoolNo))

	ev := newEvent(domain.EventMarketResolved, m, now)
	ev.Outcome = p.WinningOutcome
	return &result{
		receipt: domain.Receipt{Op: domain.OpResolve, Resolve: &domain.ResolveReceipt{Market: *m}},
		events:  []domain.Event{ev},
		market:  m,
	}, nil
}
