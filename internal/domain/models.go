package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/punchamoorthee/parimutuel/internal/address"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// ParseOutcome accepts "yes"/"no" in any case.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeYes, OutcomeNo:
		return o, nil
	}
	return "", ErrInvalidOutcome.WithMessage("outcome must be yes or no, got " + s)
}

func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// MarketStatus moves from active to resolved exactly once.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketResolved MarketStatus = "resolved"
)

func (s MarketStatus) Valid() bool {
	return s == MarketActive || s == MarketResolved
}

// Market is the per-question ledger record. Pools only grow while active and
// are frozen once resolved.
type Market struct {
	Address          address.Address `json:"address"`
	MarketID         string          `json:"market_id"`
	Question         string          `json:"question"`
	Authority        string          `json:"authority"`
	EndTime          int64           `json:"end_time"`
	Status           MarketStatus    `json:"status"`
	PoolYes          int64           `json:"pool_yes"`
	PoolNo           int64           `json:"pool_no"`
	TotalVolume      int64           `json:"total_volume"`
	ParticipantCount int64           `json:"participant_count"`
	WinningOutcome   *Outcome        `json:"winning_outcome,omitempty"`
	EscrowAddress    address.Address `json:"escrow_address"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// Pool returns the pool backing outcome o.
func (m *Market) Pool(o Outcome) int64 {
	if o == OutcomeYes {
		return m.PoolYes
	}
	return m.PoolNo
}

// Escrow holds the staked value of exactly one market.
type Escrow struct {
	Address       address.Address `json:"address"`
	MarketAddress address.Address `json:"market_address"`
	MarketID      string          `json:"market_id"`
	Balance       int64           `json:"balance"`
	TotalCredited int64           `json:"total_credited"`
	TotalDebited  int64           `json:"total_debited"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Position records a single stake. It is never merged with other stakes of
// the same owner.
type Position struct {
	Address         address.Address `json:"address"`
	Owner           string          `json:"owner"`
	MarketAddress   address.Address `json:"market_address"`
	MarketID        string          `json:"market_id"`
	Seq             uint64          `json:"seq"`
	Outcome         Outcome         `json:"outcome"`
	StakeAmount     int64           `json:"stake_amount"`
	OddsAtStakeBps  int64           `json:"odds_at_stake_bps"`
	PotentialPayout int64           `json:"potential_payout"`
	Claimed         bool            `json:"claimed"`
	PayoutAmount    int64           `json:"payout_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
}

// TransferKind tags why value moved.
type TransferKind string

const (
	TransferStake  TransferKind = "stake"
	TransferPayout TransferKind = "payout"
)

// Transfer is the movement of value between an owner and a market escrow.
type Transfer struct {
	ID              int64           `json:"id"`
	Kind            TransferKind    `json:"kind"`
	MarketAddress   address.Address `json:"market_address"`
	PositionAddress address.Address `json:"position_address"`
	FromAccount     string          `json:"from_account"`
	ToAccount       string          `json:"to_account"`
	Amount          int64           `json:"amount"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LedgerEntry represents one leg of a double-entry transfer.
// The sum of Deltas for a given TransferID must always equal 0.
type LedgerEntry struct {
	ID         int64     `json:"id"`
	TransferID int64     `json:"transfer_id"`
	Account    string    `json:"account"`
	Delta      int64     `json:"delta"`
	CreatedAt  time.Time `json:"created_at"`
}

// OwnerAccount names the ledger account of a staker.
func OwnerAccount(owner string) string {
	return "owner:" + owner
}

// EscrowAccount names the ledger account of an escrow.
func EscrowAccount(escrow address.Address) string {
	return "escrow:" + escrow.Hex()
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string          `json:"key"`
	RequestHash    string          `json:"request_hash"`
	Status         string          `json:"status"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
	ResponseStatus int             `json:"response_status,omitempty"`
}

const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// EscrowAudit compares an escrow against what the market and its positions
// say it should hold.
type EscrowAudit struct {
	MarketID        string          `json:"market_id"`
	MarketAddress   address.Address `json:"market_address"`
	EscrowAddress   address.Address `json:"escrow_address"`
	DerivedEscrow   address.Address `json:"derived_escrow"`
	Balance         int64           `json:"balance"`
	PoolTotal       int64           `json:"pool_total"`
	ClaimedPayouts  int64           `json:"claimed_payouts"`
	ExpectedBalance int64           `json:"expected_balance"`
	EntrySum        int64           `json:"entry_sum"`
	OutstandingOwed int64           `json:"outstanding_owed"`
	Consistent      bool            `json:"consistent"`
	Problems        []string        `json:"problems,omitempty"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListOpts pages a read.
type ListOpts struct {
	Limit  int
	Offset int
}

// Normalize clamps the paging window into the supported range.
func (o ListOpts) Normalize() ListOpts {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// MarketFilter narrows ListMarkets. An empty Status lists every market.
type MarketFilter struct {
	Status MarketStatus
	ListOpts
}
