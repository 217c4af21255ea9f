package domain

import (
	"context"
	"time"

	"github.com/punchamoorthee/parimutuel/internal/address"
)

type EventType string

const (
	EventMarketCreated  EventType = "market_created"
	EventStakePlaced    EventType = "stake_placed"
	EventMarketResolved EventType = "market_resolved"
	EventPayoutClaimed  EventType = "payout_claimed"
)

// Event is published after a committed operation so read caches can refresh
// without polling every market.
type Event struct {
	ID              string           `json:"id"`
	Type            EventType        `json:"type"`
	MarketID        string           `json:"market_id"`
	MarketAddress   address.Address  `json:"market_address"`
	PositionAddress *address.Address `json:"position_address,omitempty"`
	Owner           string           `json:"owner,omitempty"`
	Outcome         Outcome          `json:"outcome,omitempty"`
	Amount          int64            `json:"amount,omitempty"`
	PoolYes         int64            `json:"pool_yes"`
	PoolNo          int64            `json:"pool_no"`
	Status          MarketStatus     `json:"status"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// EventSink receives committed events. Publish errors never undo the
// operation that produced the event.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// MarketCache is a read-through snapshot store for markets.
type MarketCache interface {
	GetMarket(ctx context.Context, marketID string) (*Market, error)
	SetMarket(ctx context.Context, m *Market) error
	Invalidate(ctx context.Context, marketID string) error
}

// Archiver exports a settled market for audit.
type Archiver interface {
	ArchiveMarket(ctx context.Context, bundle MarketArchive) (string, error)
}

// MarketArchive is everything needed to re-audit a resolved market offline.
type MarketArchive struct {
	Market    Market        `json:"market"`
	Escrow    Escrow        `json:"escrow"`
	Positions []Position    `json:"positions"`
	Entries   []LedgerEntry `json:"entries"`
	Audit     EscrowAudit   `json:"audit"`
}
