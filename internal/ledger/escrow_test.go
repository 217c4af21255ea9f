package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/settlement"
)

func settlementQuote() settlement.Quote {
	return settlement.Quote{OddsAtStakeBps: settlement.EvenOddsBps}
}

func resolvedFixture(t *testing.T) (*domain.Market, *domain.Escrow, []domain.Position) {
	t.Helper()
	m := newMarket(t)
	_, err := ApplyStake(m, domain.OutcomeYes, 100, true)
	require.NoError(t, err)
	_, err = ApplyStake(m, domain.OutcomeNo, 50, true)
	require.NoError(t, err)
	require.NoError(t, Resolve(m, "oracle", domain.OutcomeYes, now))

	e := &domain.Escrow{
		Address:       m.EscrowAddress,
		MarketAddress: m.Address,
		MarketID:      m.MarketID,
		Balance:       150,
		TotalCredited: 150,
	}
	positions := []domain.Position{
		{Address: address.Position("alice", m.Address, 1), Owner: "alice", Outcome: domain.OutcomeYes, StakeAmount: 100},
		{Address: address.Position("bob", m.Address, 1), Owner: "bob", Outcome: domain.OutcomeNo, StakeAmount: 50},
	}
	return m, e, positions
}

func TestExpectedEscrowBalance(t *testing.T) {
	m, _, _ := resolvedFixture(t)

	got, err := ExpectedEscrowBalance(m, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got)

	got, err = ExpectedEscrowBalance(m, 150)
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = ExpectedEscrowBalance(m, 151)
	require.ErrorIs(t, err, domain.ErrOverflow)
}

func TestAuditEscrow_Consistent(t *testing.T) {
	m, e, positions := resolvedFixture(t)

	a := AuditEscrow(AuditInput{Market: m, Escrow: e, EntrySum: 150, Positions: positions})
	assert.True(t, a.Consistent, a.Problems)
	assert.Equal(t, int64(150), a.ExpectedBalance)
	assert.Equal(t, int64(150), a.OutstandingOwed)
	assert.Equal(t, e.Address, a.DerivedEscrow)
}

func TestAuditEscrow_AfterClaim(t *testing.T) {
	m, e, positions := resolvedFixture(t)
	MarkClaimed(&positions[0], 150, now)
	e.Balance, e.TotalDebited = 0, 150

	a := AuditEscrow(AuditInput{Market: m, Escrow: e, ClaimedPayouts: 150, Positions: positions})
	assert.True(t, a.Consistent, a.Problems)
	assert.Zero(t, a.OutstandingOwed)
}

func TestAuditEscrow_DetectsDrift(t *testing.T) {
	m, e, positions := resolvedFixture(t)
	e.Balance = 140
	e.Address = address.Escrow(address.Market("other"))

	a := AuditEscrow(AuditInput{Market: m, Escrow: e, EntrySum: 150, Positions: positions})
	assert.False(t, a.Consistent)
	assert.GreaterOrEqual(t, len(a.Problems), 4)
}

func TestAuditEscrow_RecomputesWinningPayouts(t *testing.T) {
	m := newMarket(t)
	for i := 0; i < 3; i++ {
		_, err := ApplyStake(m, domain.OutcomeYes, 1, true)
		require.NoError(t, err)
	}
	_, err := ApplyStake(m, domain.OutcomeNo, 1, true)
	require.NoError(t, err)
	require.NoError(t, Resolve(m, "oracle", domain.OutcomeYes, now))

	e := &domain.Escrow{Address: m.EscrowAddress, MarketAddress: m.Address, Balance: 3, TotalCredited: 4, TotalDebited: 1}
	positions := []domain.Position{
		{Address: address.Position("a", m.Address, 1), Owner: "a", Outcome: domain.OutcomeYes, StakeAmount: 1, Claimed: true, PayoutAmount: 1},
		{Address: address.Position("b", m.Address, 1), Owner: "b", Outcome: domain.OutcomeYes, StakeAmount: 1},
		{Address: address.Position("c", m.Address, 1), Owner: "c", Outcome: domain.OutcomeYes, StakeAmount: 1},
		{Address: address.Position("d", m.Address, 1), Owner: "d", Outcome: domain.OutcomeNo, StakeAmount: 1},
	}

	// floor(4*1/3) = 1 each: two unclaimed winners are owed 2 and one unit of
	// rounding dust stays in escrow.
	a := AuditEscrow(AuditInput{Market: m, Escrow: e, ClaimedPayouts: 1, EntrySum: 3, Positions: positions})
	assert.True(t, a.Consistent, a.Problems)
	assert.Equal(t, int64(2), a.OutstandingOwed)

	positions[0].PayoutAmount = 2
	a = AuditEscrow(AuditInput{Market: m, Escrow: e, ClaimedPayouts: 1, EntrySum: 3, Positions: positions})
	assert.False(t, a.Consistent)
	assert.Contains(t, a.Problems[0], "was paid 2, formula gives 1")
}
