// Package storetest is a conformance suite every store.Ledger backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/store"
)

// Factory returns an empty ledger. It is called once per subtest.
type Factory func(t *testing.T) store.Ledger

// Run exercises the full store.Ledger contract.
func Run(t *testing.T, newLedger Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, l store.Ledger)
	}{
		{"MarketRoundTrip", testMarketRoundTrip},
		{"DuplicateMarket", testDuplicateMarket},
		{"RollbackOnError", testRollbackOnError},
		{"EscrowCreditDebit", testEscrowCreditDebit},
		{"PositionSequence", testPositionSequence},
		{"ClaimOnce", testClaimOnce},
		{"TransferEntries", testTransferEntries},
		{"Idempotency", testIdempotency},
		{"ListMarkets", testListMarkets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newLedger(t))
		})
	}
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func fixtureMarket(id string) (*domain.Market, *domain.Escrow) {
	addr := address.Market(id)
	escrow := address.Escrow(addr)
	m := &domain.Market{
		Address:       addr,
		MarketID:      id,
		Question:      "Will " + id + " happen?",
		Authority:     "oracle",
		EndTime:       epoch.Unix() + 3600,
		Status:        domain.MarketActive,
		EscrowAddress: escrow,
		CreatedAt:     epoch,
	}
	e := &domain.Escrow{Address: escrow, MarketAddress: addr, MarketID: id, CreatedAt: epoch}
	return m, e
}

func createMarket(t *testing.T, l store.Ledger, id string) (*domain.Market, *domain.Escrow) {
	t.Helper()
	m, e := fixtureMarket(id)
	require.NoError(t, l.InTx(context.Background(), func(tx store.Tx) error {
		if err := tx.InsertMarket(context.Background(), m); err != nil {
			return err
		}
		return tx.InsertEscrow(context.Background(), e)
	}))
	return m, e
}

func fixturePosition(m *domain.Market, owner string, seq uint64, outcome domain.Outcome, amount int64) *domain.Position {
	return &domain.Position{
		Address:        address.Position(owner, m.Address, seq),
		Owner:          owner,
		MarketAddress:  m.Address,
		MarketID:       m.MarketID,
		Seq:            seq,
		Outcome:        outcome,
		StakeAmount:    amount,
		OddsAtStakeBps: 5000,
		CreatedAt:      epoch,
	}
}

func testMarketRoundTrip(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	m, e := createMarket(t, l, "m1")

	got, err := l.GetMarket(ctx, m.Address)
	require.NoError(t, err)
	assert.Equal(t, m.MarketID, got.MarketID)
	assert.Equal(t, m.Question, got.Question)
	assert.Equal(t, m.EscrowAddress, got.EscrowAddress)
	assert.Equal(t, domain.MarketActive, got.Status)
	assert.Nil(t, got.WinningOutcome)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))

	gotEscrow, err := l.GetEscrow(ctx, e.Address)
	require.NoError(t, err)
	assert.Equal(t, m.Address, gotEscrow.MarketAddress)
	assert.Zero(t, gotEscrow.Balance)

	yes := domain.OutcomeYes
	resolvedAt := epoch.Add(time.Minute)
	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.GetMarketForUpdate(ctx, m.Address)
		if err != nil {
			return err
		}
		locked.PoolYes, locked.PoolNo, locked.TotalVolume, locked.ParticipantCount = 10, 5, 15, 2
		locked.Status, locked.WinningOutcome, locked.ResolvedAt = domain.MarketResolved, &yes, &resolvedAt
		return tx.UpdateMarket(ctx, locked)
	}))

	got, err = l.GetMarket(ctx, m.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, got.Status)
	require.NotNil(t, got.WinningOutcome)
	assert.Equal(t, domain.OutcomeYes, *got.WinningOutcome)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolvedAt.Equal(*got.ResolvedAt))
	assert.Equal(t, int64(15), got.TotalVolume)

	_, err = l.GetMarket(ctx, address.Market("missing"))
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
	_, err = l.GetEscrow(ctx, address.Escrow(address.Market("missing")))
	require.ErrorIs(t, err, domain.ErrEscrowNotFound)
	_, err = l.GetPosition(ctx, address.Market("missing"))
	require.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func testDuplicateMarket(t *testing.T, l store.Ledger) {
	createMarket(t, l, "m1")
	m, _ := fixtureMarket("m1")
	err := l.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertMarket(context.Background(), m)
	})
	require.ErrorIs(t, err, domain.ErrMarketAlreadyExists)
}

func testRollbackOnError(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	m, e := fixtureMarket("m1")
	boom := errors.New("boom")

	err := l.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.InsertEscrow(ctx, e); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = l.GetMarket(ctx, m.Address)
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func testEscrowCreditDebit(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	_, e := createMarket(t, l, "m1")

	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.CreditEscrow(ctx, e.Address, 100)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(100), got.Balance)
		got, err = tx.DebitEscrow(ctx, e.Address, 40)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(60), got.Balance)
		assert.Equal(t, int64(100), got.TotalCredited)
		assert.Equal(t, int64(40), got.TotalDebited)
		return nil
	}))

	err := l.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.DebitEscrow(ctx, e.Address, 61)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientEscrow)

	err = l.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.DebitEscrow(ctx, address.Escrow(address.Market("missing")), 1)
		return err
	})
	require.ErrorIs(t, err, domain.ErrEscrowNotFound)

	got, err := l.GetEscrow(ctx, e.Address)
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.Balance)
}

func testPositionSequence(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	m, _ := createMarket(t, l, "m1")

	for want := uint64(1); want <= 3; want++ {
		require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
			seq, err := tx.NextPositionSeq(ctx, m.Address, "alice")
			if err != nil {
				return err
			}
			assert.Equal(t, want, seq)
			return tx.InsertPosition(ctx, fixturePosition(m, "alice", seq, domain.OutcomeYes, 10))
		}))
	}

	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
		seq, err := tx.NextPositionSeq(ctx, m.Address, "bob")
		assert.Equal(t, uint64(1), seq)
		return err
	}))

	err := l.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertPosition(ctx, fixturePosition(m, "alice", 2, domain.OutcomeNo, 5))
	})
	require.ErrorIs(t, err, domain.ErrPositionExists)

	byMarket, err := l.ListPositionsByMarket(ctx, m.Address, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byMarket, 3)

	byOwner, err := l.ListPositionsByOwner(ctx, "alice", domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	got, err := l.GetPosition(ctx, address.Position("alice", m.Address, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, domain.OutcomeYes, got.Outcome)
	assert.False(t, got.Claimed)
	assert.Nil(t, got.ClaimedAt)
}

func testClaimOnce(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	m, _ := createMarket(t, l, "m1")
	p := fixturePosition(m, "alice", 1, domain.OutcomeYes, 10)
	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error { return tx.InsertPosition(ctx, p) }))

	claimedAt := epoch.Add(time.Hour)
	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetPositionForUpdate(ctx, p.Address); err != nil {
			return err
		}
		return tx.MarkPositionClaimed(ctx, p.Address, 25, claimedAt)
	}))

	err := l.InTx(ctx, func(tx store.Tx) error {
		return tx.MarkPositionClaimed(ctx, p.Address, 99, claimedAt)
	})
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	got, err := l.GetPosition(ctx, p.Address)
	require.NoError(t, err)
	assert.True(t, got.Claimed)
	assert.Equal(t, int64(25), got.PayoutAmount)
	require.NotNil(t, got.ClaimedAt)
	assert.True(t, claimedAt.Equal(*got.ClaimedAt))

	sum, err := l.SumClaimedPayouts(ctx, m.Address)
	require.NoError(t, err)
	assert.Equal(t, int64(25), sum)
}

func testTransferEntries(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	m, e := createMarket(t, l, "m1")
	p := fixturePosition(m, "alice", 1, domain.OutcomeYes, 10)

	var entries []domain.LedgerEntry
	tr := &domain.Transfer{
		Kind:            domain.TransferStake,
		MarketAddress:   m.Address,
		PositionAddress: p.Address,
		FromAccount:     domain.OwnerAccount("alice"),
		ToAccount:       domain.EscrowAccount(e.Address),
		Amount:          10,
		CreatedAt:       epoch,
	}
	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPosition(ctx, p); err != nil {
			return err
		}
		var err error
		entries, err = tx.InsertTransfer(ctx, tr)
		return err
	}))

	require.NotZero(t, tr.ID)
	require.Len(t, entries, 2)
	var sum int64
	for _, en := range entries {
		assert.Equal(t, tr.ID, en.TransferID)
		sum += en.Delta
	}
	assert.Zero(t, sum, "legs of one transfer net to zero")

	escrowSum, err := l.SumEntries(ctx, domain.EscrowAccount(e.Address))
	require.NoError(t, err)
	assert.Equal(t, int64(10), escrowSum)

	ownerEntries, err := l.ListEntries(ctx, domain.OwnerAccount("alice"), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, ownerEntries, 1)
	assert.Equal(t, int64(-10), ownerEntries[0].Delta)
}

func testIdempotency(t *testing.T, l store.Ledger) {
	ctx := context.Background()

	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.GetIdempotency(ctx, "k1")
		if err != nil {
			return err
		}
		assert.Nil(t, rec)
		if err := tx.ReserveIdempotency(ctx, "k1", "hash-1"); err != nil {
			return err
		}
		return tx.CompleteIdempotency(ctx, "k1", 201, []byte(`{"ok":true}`))
	}))

	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.GetIdempotency(ctx, "k1")
		if err != nil {
			return err
		}
		require.NotNil(t, rec)
		assert.Equal(t, "hash-1", rec.RequestHash)
		assert.Equal(t, domain.IdempotencyCompleted, rec.Status)
		assert.Equal(t, 201, rec.ResponseStatus)
		assert.JSONEq(t, `{"ok":true}`, string(rec.ResponseBody))
		return nil
	}))

	err := l.InTx(ctx, func(tx store.Tx) error {
		return tx.ReserveIdempotency(ctx, "k1", "hash-2")
	})
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func testListMarkets(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	createMarket(t, l, "m1")
	m2, _ := createMarket(t, l, "m2")
	createMarket(t, l, "m3")

	yes := domain.OutcomeYes
	require.NoError(t, l.InTx(ctx, func(tx store.Tx) error {
		m, err := tx.GetMarketForUpdate(ctx, m2.Address)
		if err != nil {
			return err
		}
		m.Status, m.WinningOutcome = domain.MarketResolved, &yes
		return tx.UpdateMarket(ctx, m)
	}))

	all, err := l.ListMarkets(ctx, domain.MarketFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	resolved, err := l.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "m2", resolved[0].MarketID)

	page, err := l.ListMarkets(ctx, domain.MarketFilter{ListOpts: domain.ListOpts{Limit: 2, Offset: 2}})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
