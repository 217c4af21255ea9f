// Package ledger holds the Market Ledger, Escrow Vault and Position Ledger
// rules as pure functions over domain records. Persistence and locking live
// in the engine; nothing here touches a store.
package ledger

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/settlement"
)

// Limits bounds user-supplied fields and toggles clock enforcement.
type Limits struct {
	MaxMarketIDLen int
	MaxQuestionLen int
	MaxOwnerLen    int
	EnforceEndTime bool
}

func DefaultLimits() Limits {
	return Limits{
		MaxMarketIDLen: 50,
		MaxQuestionLen: 200,
		MaxOwnerLen:    128,
		EnforceEndTime: true,
	}
}

// ValidateMarketID accepts 1..max bytes of lowercase letters, digits, '-' and '_'.
func (l Limits) ValidateMarketID(id string) error {
	if id == "" || len(id) > l.MaxMarketIDLen {
		return domain.ErrInvalidMarketID.WithMessage(fmt.Sprintf("market id must be 1..%d bytes", l.MaxMarketIDLen))
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return domain.ErrInvalidMarketID.WithMessage(fmt.Sprintf("market id contains invalid character %q", c))
		}
	}
	return nil
}

func (l Limits) validateIdentity(id string) error {
	if id == "" || len(id) > l.MaxOwnerLen || !utf8.ValidString(id) {
		return domain.ErrInvalidOwner.WithMessage(fmt.Sprintf("identity must be 1..%d bytes of text", l.MaxOwnerLen))
	}
	return nil
}

// NewMarket validates CreateMarket inputs and builds the market and its
// paired escrow, both at their derived addresses.
func NewMarket(p domain.CreateMarketParams, now time.Time, l Limits) (*domain.Market, *domain.Escrow, error) {
	if err := l.ValidateMarketID(p.MarketID); err != nil {
		return nil, nil, err
	}
	if p.Question == "" || len(p.Question) > l.MaxQuestionLen || !utf8.ValidString(p.Question) {
		return nil, nil, domain.ErrInvalidQuestion.WithMessage(fmt.Sprintf("question must be 1..%d bytes of text", l.MaxQuestionLen))
	}
	if err := l.validateIdentity(p.Authority); err != nil {
		return nil, nil, err
	}
	if p.EndTime <= now.Unix() {
		return nil, nil, domain.ErrInvalidEndTime
	}

	marketAddr := address.Market(p.MarketID)
	escrowAddr := address.Escrow(marketAddr)
	m := &domain.Market{
		Address:       marketAddr,
		MarketID:      p.MarketID,
		Question:      p.Question,
		Authority:     p.Authority,
		EndTime:       p.EndTime,
		Status:        domain.MarketActive,
		EscrowAddress: escrowAddr,
		CreatedAt:     now,
	}
	e := &domain.Escrow{
		Address:       escrowAddr,
		MarketAddress: marketAddr,
		MarketID:      p.MarketID,
		CreatedAt:     now,
	}
	return m, e, nil
}

// ValidateStake checks the request itself, independent of market state.
func ValidateStake(p domain.StakeParams, l Limits) error {
	if err := l.ValidateMarketID(p.MarketID); err != nil {
		return err
	}
	if err := l.validateIdentity(p.Owner); err != nil {
		return err
	}
	if !p.Outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if p.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// CheckStakeable reports whether m accepts stakes at now.
func CheckStakeable(m *domain.Market, now time.Time, l Limits) error {
	if m.Status != domain.MarketActive {
		return domain.ErrMarketClosed
	}
	if l.EnforceEndTime && now.Unix() >= m.EndTime {
		return domain.ErrMarketExpired
	}
	return nil
}

// ApplyStake adds amount to the chosen pool of m and returns the quote given
// to the staker. m is left untouched on error.
func ApplyStake(m *domain.Market, o domain.Outcome, amount int64, newParticipant bool) (settlement.Quote, error) {
	q, err := settlement.QuoteStake(settlement.Pools{Yes: m.PoolYes, No: m.PoolNo}, o, amount)
	if err != nil {
		return settlement.Quote{}, err
	}
	volume, err := settlement.CheckedAdd(m.TotalVolume, amount)
	if err != nil {
		return settlement.Quote{}, err
	}
	m.PoolYes, m.PoolNo = q.After.Yes, q.After.No
	m.TotalVolume = volume
	if newParticipant {
		m.ParticipantCount++
	}
	return q, nil
}

// NewPosition builds the position record for the seq-th stake of owner on m.
func NewPosition(m *domain.Market, p domain.StakeParams, seq uint64, q settlement.Quote, now time.Time) *domain.Position {
	return &domain.Position{
		Address:         address.Position(p.Owner, m.Address, seq),
		Owner:           p.Owner,
		MarketAddress:   m.Address,
		MarketID:        m.MarketID,
		Seq:             seq,
		Outcome:         p.Outcome,
		StakeAmount:     p.Amount,
		OddsAtStakeBps:  q.OddsAtStakeBps,
		PotentialPayout: q.PotentialPayout,
		CreatedAt:       now,
	}
}

// Resolve moves m to resolved exactly once. Only the market's authority may
// call it.
func Resolve(m *domain.Market, authority string, winner domain.Outcome, now time.Time) error {
	if !winner.Valid() {
		return domain.ErrInvalidOutcome
	}
	if authority != m.Authority {
		return domain.ErrUnauthorized
	}
	if m.Status == domain.MarketResolved || m.WinningOutcome != nil {
		return domain.ErrAlreadyResolved
	}
	w := winner
	resolvedAt := now
	m.Status = domain.MarketResolved
	m.WinningOutcome = &w
	m.ResolvedAt = &resolvedAt
	return nil
}

// ClaimPayout checks that caller may claim pos on m and returns the payout.
// Checks run in order: ownership, claim-once, resolution, outcome.
func ClaimPayout(m *domain.Market, pos *domain.Position, caller string) (int64, error) {
	if caller == "" || caller != pos.Owner {
		return 0, domain.ErrUnauthorized
	}
	if pos.Claimed {
		return 0, domain.ErrAlreadyClaimed
	}
	if m.Status != domain.MarketResolved || m.WinningOutcome == nil {
		return 0, domain.ErrMarketNotResolved
	}
	if pos.Outcome != *m.WinningOutcome {
		return 0, domain.ErrLosingPosition
	}
	total, err := settlement.CheckedAdd(m.PoolYes, m.PoolNo)
	if err != nil {
		return 0, err
	}
	return settlement.Payout(total, pos.StakeAmount, m.Pool(*m.WinningOutcome))
}

// MarkClaimed flips pos to claimed with its fixed payout.
func MarkClaimed(pos *domain.Position, payout int64, now time.Time) {
	claimedAt := now
	pos.Claimed = true
	pos.PayoutAmount = payout
	pos.ClaimedAt = &claimedAt
}
