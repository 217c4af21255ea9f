package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
)

var now = time.Unix(1_700_000_000, 0).UTC()

func newMarket(t *testing.T) *domain.Market {
	t.Helper()
	m, _, err := NewMarket(domain.CreateMarketParams{
		MarketID:  "m1",
		Question:  "Will X happen?",
		EndTime:   now.Unix() + 1000,
		Authority: "oracle",
	}, now, DefaultLimits())
	require.NoError(t, err)
	return m
}

func TestNewMarket(t *testing.T) {
	m, e, err := NewMarket(domain.CreateMarketParams{
		MarketID:  "m1",
		Question:  "Will X happen?",
		EndTime:   now.Unix() + 1000,
		Authority: "oracle",
	}, now, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, address.Market("m1"), m.Address)
	assert.Equal(t, address.Escrow(m.Address), m.EscrowAddress)
	assert.Equal(t, m.EscrowAddress, e.Address)
	assert.Equal(t, domain.MarketActive, m.Status)
	assert.Zero(t, m.PoolYes)
	assert.Zero(t, m.PoolNo)
	assert.Nil(t, m.WinningOutcome)
	assert.Zero(t, e.Balance)
}

func TestNewMarket_Rejects(t *testing.T) {
	valid := domain.CreateMarketParams{MarketID: "m1", Question: "q?", EndTime: now.Unix() + 10, Authority: "oracle"}

	tests := []struct {
		name   string
		mutate func(p *domain.CreateMarketParams)
		want   error
	}{
		{"empty id", func(p *domain.CreateMarketParams) { p.MarketID = "" }, domain.ErrInvalidMarketID},
		{"long id", func(p *domain.CreateMarketParams) { p.MarketID = strings.Repeat("a", 51) }, domain.ErrInvalidMarketID},
		{"uppercase id", func(p *domain.CreateMarketParams) { p.MarketID = "M1" }, domain.ErrInvalidMarketID},
		{"empty question", func(p *domain.CreateMarketParams) { p.Question = "" }, domain.ErrInvalidQuestion},
		{"long question", func(p *domain.CreateMarketParams) { p.Question = strings.Repeat("q", 201) }, domain.ErrInvalidQuestion},
		{"no authority", func(p *domain.CreateMarketParams) { p.Authority = "" }, domain.ErrInvalidOwner},
		{"end time now", func(p *domain.CreateMarketParams) { p.EndTime = now.Unix() }, domain.ErrInvalidEndTime},
		{"end time past", func(p *domain.CreateMarketParams) { p.EndTime = now.Unix() - 1 }, domain.ErrInvalidEndTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, _, err := NewMarket(p, now, DefaultLimits())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateStake(t *testing.T) {
	l := DefaultLimits()
	require.NoError(t, ValidateStake(domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: domain.OutcomeYes, Amount: 1}, l))
	require.ErrorIs(t, ValidateStake(domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: domain.OutcomeYes, Amount: 0}, l), domain.ErrInvalidAmount)
	require.ErrorIs(t, ValidateStake(domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: domain.OutcomeYes, Amount: -5}, l), domain.ErrInvalidAmount)
	require.ErrorIs(t, ValidateStake(domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: "maybe", Amount: 1}, l), domain.ErrInvalidOutcome)
	require.ErrorIs(t, ValidateStake(domain.StakeParams{MarketID: "m1", Outcome: domain.OutcomeYes, Amount: 1}, l), domain.ErrInvalidOwner)
}

func TestCheckStakeable(t *testing.T) {
	m := newMarket(t)
	l := DefaultLimits()

	require.NoError(t, CheckStakeable(m, now, l))
	require.ErrorIs(t, CheckStakeable(m, time.Unix(m.EndTime, 0), l), domain.ErrMarketExpired)

	l.EnforceEndTime = false
	require.NoError(t, CheckStakeable(m, time.Unix(m.EndTime+1, 0), l))

	m.Status = domain.MarketResolved
	require.ErrorIs(t, CheckStakeable(m, now, l), domain.ErrMarketClosed)
}

func TestApplyStake(t *testing.T) {
	m := newMarket(t)

	q, err := ApplyStake(m, domain.OutcomeYes, 100, true)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), q.OddsAtStakeBps)
	assert.Equal(t, int64(100), m.PoolYes)

	q, err = ApplyStake(m, domain.OutcomeNo, 50, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.OddsAtStakeBps)
	assert.Equal(t, int64(150), q.PotentialPayout)

	_, err = ApplyStake(m, domain.OutcomeYes, 25, false)
	require.NoError(t, err)

	assert.Equal(t, int64(125), m.PoolYes)
	assert.Equal(t, int64(50), m.PoolNo)
	assert.Equal(t, int64(175), m.TotalVolume)
	assert.Equal(t, int64(2), m.ParticipantCount)
}

func TestApplyStake_OverflowLeavesMarketUntouched(t *testing.T) {
	m := newMarket(t)
	m.PoolYes = 1<<63 - 1
	m.TotalVolume = m.PoolYes

	_, err := ApplyStake(m, domain.OutcomeYes, 1, true)
	require.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, int64(1<<63-1), m.PoolYes)
	assert.Zero(t, m.ParticipantCount)
}

func TestNewPosition_AddressUsesSequence(t *testing.T) {
	m := newMarket(t)
	p := domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: domain.OutcomeYes, Amount: 10}

	first := NewPosition(m, p, 1, settlementQuote(), now)
	second := NewPosition(m, p, 2, settlementQuote(), now)

	assert.Equal(t, address.Position("alice", m.Address, 1), first.Address)
	assert.NotEqual(t, first.Address, second.Address)
	assert.False(t, first.Claimed)
	assert.Zero(t, first.PayoutAmount)
}

func TestResolve(t *testing.T) {
	m := newMarket(t)

	require.ErrorIs(t, Resolve(m, "mallory", domain.OutcomeYes, now), domain.ErrUnauthorized)
	require.ErrorIs(t, Resolve(m, "oracle", "maybe", now), domain.ErrInvalidOutcome)
	assert.Equal(t, domain.MarketActive, m.Status)

	require.NoError(t, Resolve(m, "oracle", domain.OutcomeYes, now))
	assert.Equal(t, domain.MarketResolved, m.Status)
	require.NotNil(t, m.WinningOutcome)
	assert.Equal(t, domain.OutcomeYes, *m.WinningOutcome)

	require.ErrorIs(t, Resolve(m, "oracle", domain.OutcomeNo, now), domain.ErrAlreadyResolved)
	assert.Equal(t, domain.OutcomeYes, *m.WinningOutcome, "winning outcome is never overwritten")
}

func TestClaimPayout(t *testing.T) {
	m := newMarket(t)
	_, err := ApplyStake(m, domain.OutcomeYes, 100, true)
	require.NoError(t, err)
	_, err = ApplyStake(m, domain.OutcomeNo, 50, true)
	require.NoError(t, err)

	alice := &domain.Position{Owner: "alice", Outcome: domain.OutcomeYes, StakeAmount: 100}
	bob := &domain.Position{Owner: "bob", Outcome: domain.OutcomeNo, StakeAmount: 50}

	_, err = ClaimPayout(m, alice, "alice")
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)

	require.NoError(t, Resolve(m, "oracle", domain.OutcomeYes, now))

	_, err = ClaimPayout(m, alice, "bob")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	payout, err := ClaimPayout(m, alice, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(150), payout)

	_, err = ClaimPayout(m, bob, "bob")
	require.ErrorIs(t, err, domain.ErrLosingPosition)

	MarkClaimed(alice, payout, now)
	assert.True(t, alice.Claimed)
	assert.Equal(t, int64(150), alice.PayoutAmount)
	_, err = ClaimPayout(m, alice, "alice")
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}
