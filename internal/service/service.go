// Package service is the settlement engine: the four atomic operations
// (CreateMarket, Stake, Resolve, Claim), their structured dispatch and the
// read side used by the transport.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/ledger"
	"github.com/punchamoorthee/parimutuel/internal/store"
)

// ErrArchiveDisabled is returned by ArchiveMarket when no archiver is wired.
var ErrArchiveDisabled = errors.New("service: archive not configured")

// Engine coordinates the Market Ledger, Escrow Vault and Position Ledger
// through one store transaction per operation.
type Engine struct {
	ledger   store.Ledger
	cache    domain.MarketCache
	events   domain.EventSink
	archiver domain.Archiver
	limits   ledger.Limits
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

// WithCache sets the market snapshot cache refreshed after each commit.
func WithCache(c domain.MarketCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithEventSink sets where committed events are published.
func WithEventSink(s domain.EventSink) Option {
	return func(e *Engine) { e.events = s }
}

func WithArchiver(a domain.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

func WithLimits(l ledger.Limits) Option {
	return func(e *Engine) { e.limits = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(l store.Ledger, opts ...Option) *Engine {
	e := &Engine{
		ledger: l,
		cache:  nopCache{},
		events: nopSink{},
		limits: ledger.DefaultLimits(),
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ping checks the backing store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.ledger.Ping(ctx)
}

// clock returns the operation timestamp, truncated to what every backend
// can store losslessly.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// result is what an operation hands back from inside its transaction.
type result struct {
	receipt domain.Receipt
	events  []domain.Event
	market  *domain.Market // refreshed in the cache when set
}

// commit runs op in one transaction and, once committed, refreshes the cache
// and publishes events. A nil result means nothing was written (a replay).
func (e *Engine) commit(ctx context.Context, op domain.Op, fn func(tx store.Tx) (*result, error)) (*result, error) {
	start := time.Now()
	var res *result
	err := e.ledger.InTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = fn(tx)
		return err
	})
	e.observe(op, start, err)
	if err != nil {
		e.logRejection(op, err)
		return nil, err
	}
	if res != nil {
		e.afterCommit(ctx, res)
	}
	return res, nil
}

func (e *Engine) afterCommit(ctx context.Context, res *result) {
	switch {
	case res.receipt.Stake != nil:
		stakedUnits.Add(float64(res.receipt.Stake.Transfer.Amount))
	case res.receipt.Claim != nil:
		paidOutUnits.Add(float64(res.receipt.Claim.Payout))
	}
	if res.market != nil {
		if err := e.cache.SetMarket(ctx, res.market); err != nil {
			e.log.Warn("market cache refresh failed", zap.String("market_id", res.market.MarketID), zap.Error(err))
			// Drop the old snapshot so reads fall through to the store.
			if err := e.cache.Invalidate(ctx, res.market.MarketID); err != nil {
				e.log.Error("market cache invalidate failed", zap.String("market_id", res.market.MarketID), zap.Error(err))
			}
		}
	}
	for _, ev := range res.events {
		if err := e.events.Publish(ctx, ev); err != nil {
			e.log.Error("event publish failed",
				zap.String("event_type", string(ev.Type)),
				zap.String("market_id", ev.MarketID),
				zap.Error(err))
		}
	}
}

func (e *Engine) logRejection(op domain.Op, err error) {
	if de, ok := domain.AsError(err); ok {
		e.log.Debug("operation rejected",
			zap.String("op", string(op)),
			zap.String("kind", string(de.Kind)),
			zap.String("code", de.Code))
		return
	}
	e.log.Error("operation failed", zap.String("op", string(op)), zap.Error(err))
}

func newEvent(t domain.EventType, m *domain.Market, at time.Time) domain.Event {
	return domain.Event{
		ID:            uuid.NewString(),
		Type:          t,
		MarketID:      m.MarketID,
		MarketAddress: m.Address,
		PoolYes:       m.PoolYes,
		PoolNo:        m.PoolNo,
		Status:        m.Status,
		OccurredAt:    at,
	}
}

type nopSink struct{}

func (nopSink) Publish(context.Context, domain.Event) error { return nil }

type nopCache struct{}

func (nopCache) GetMarket(context.Context, string) (*domain.Market, error) {
	return nil, nil
}

func (nopCache) SetMarket(context.Context, *domain.Market) error {
	return nil
}

func (nopCache) Invalidate(context.Context, string) error {
	return nil
}
