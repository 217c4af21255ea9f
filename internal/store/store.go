// Package store defines the persistence contract of the settlement engine.
// Backends live in the postgres and sqlite subpackages.
package store

import (
	"context"
	"time"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
)

// Tx is one atomic unit of work. Everything written through a Tx commits or
// rolls back together.
//
// Implementations must return the domain sentinels named below so the engine
// can surface typed errors without knowing the backend.
type Tx interface {
	// InsertMarket returns domain.ErrMarketAlreadyExists when the address is taken.
	InsertMarket(ctx context.Context, m *domain.Market) error
	InsertEscrow(ctx context.Context, e *domain.Escrow) error

	// GetMarketForUpdate locks the market row until the Tx ends. It serializes
	// every Stake and Resolve on the same market.
	GetMarketForUpdate(ctx context.Context, addr address.Address) (*domain.Market, error)
	// GetMarket reads without locking.
	GetMarket(ctx context.Context, addr address.Address) (*domain.Market, error)
	UpdateMarket(ctx context.Context, m *domain.Market) error

	// CreditEscrow and DebitEscrow are single atomic increments, never
	// read-then-write. DebitEscrow returns domain.ErrInsufficientEscrow
	// rather than letting the balance go negative.
	CreditEscrow(ctx context.Context, escrow address.Address, amount int64) (*domain.Escrow, error)
	DebitEscrow(ctx context.Context, escrow address.Address, amount int64) (*domain.Escrow, error)

	// NextPositionSeq returns 1 + the highest seq owner holds on market.
	NextPositionSeq(ctx context.Context, market address.Address, owner string) (uint64, error)
	// InsertPosition returns domain.ErrPositionExists on an address collision.
	InsertPosition(ctx context.Context, p *domain.Position) error
	GetPositionForUpdate(ctx context.Context, addr address.Address) (*domain.Position, error)
	// MarkPositionClaimed only flips an unclaimed position and returns
	// domain.ErrAlreadyClaimed otherwise.
	MarkPositionClaimed(ctx context.Context, addr address.Address, payout int64, claimedAt time.Time) error

	// InsertTransfer stores t, assigns its ID and writes its two ledger legs.
	InsertTransfer(ctx context.Context, t *domain.Transfer) ([]domain.LedgerEntry, error)

	// GetIdempotency returns nil, nil when the key is unknown.
	GetIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// ReserveIdempotency returns domain.ErrIdempotencyConflict when another
	// request holds the key.
	ReserveIdempotency(ctx context.Context, key, requestHash string) error
	CompleteIdempotency(ctx context.Context, key string, status int, body []byte) error
}

// Reader serves the read side. Reads never lock.
type Reader interface {
	GetMarket(ctx context.Context, addr address.Address) (*domain.Market, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error)
	GetEscrow(ctx context.Context, addr address.Address) (*domain.Escrow, error)
	GetPosition(ctx context.Context, addr address.Address) (*domain.Position, error)
	ListPositionsByMarket(ctx context.Context, market address.Address, opts domain.ListOpts) ([]domain.Position, error)
	ListPositionsByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error)
	ListEntries(ctx context.Context, account string, opts domain.ListOpts) ([]domain.LedgerEntry, error)
	// SumClaimedPayouts totals payout_amount over the claimed positions of a market.
	SumClaimedPayouts(ctx context.Context, market address.Address) (int64, error)
	// SumEntries totals every ledger delta booked to account.
	SumEntries(ctx context.Context, account string) (int64, error)
}

// Ledger is a complete backend.
type Ledger interface {
	Reader
	// InTx runs fn in a transaction. A nil return commits; anything else
	// rolls back and is returned unchanged. fn must only use the Tx it is
	// handed; backends may hold a single connection for its duration.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
