// Package servicetest races engine operations against a real store.Ledger.
// Each backend runs it from its own tests so the locking it relies on (row
// locks, conditional escrow updates, unique constraints) is exercised under
// contention, not only through a single serialised connection.
package servicetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/service"
	"github.com/punchamoorthee/parimutuel/internal/store/storetest"
)

// RunConcurrency runs every race scenario on a fresh ledger from newLedger.
func RunConcurrency(t *testing.T, newLedger storetest.Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, e *service.Engine)
	}{
		{"Stakes", testConcurrentStakes},
		{"StakesRacingResolve", testStakesRacingResolve},
		{"Claims", testConcurrentClaims},
		{"Resolve", testConcurrentResolve},
		{"CreateMarket", testConcurrentCreateMarket},
		{"IdempotentStake", testConcurrentIdempotentStake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := service.New(newLedger(t), service.WithLogger(zaptest.NewLogger(t)))
			tt.fn(t, e)
		})
	}
}

func createMarket(t *testing.T, e *service.Engine, id string) {
	t.Helper()
	_, err := e.CreateMarket(context.Background(), domain.CreateMarketParams{
		MarketID:  id,
		Question:  "Will X happen?",
		EndTime:   time.Now().Add(time.Hour).Unix(),
		Authority: "oracle",
	})
	require.NoError(t, err)
}

func requireConsistent(t *testing.T, e *service.Engine, id string) *domain.EscrowAudit {
	t.Helper()
	a, err := e.AuditEscrow(context.Background(), id)
	require.NoError(t, err)
	require.True(t, a.Consistent, "audit problems: %v", a.Problems)
	return a
}

func side(i int) domain.Outcome {
	if i%2 == 1 {
		return domain.OutcomeNo
	}
	return domain.OutcomeYes
}

func testConcurrentStakes(t *testing.T, e *service.Engine) {
	ctx := context.Background()
	createMarket(t, e, "m1")

	const workers = 40
	var g errgroup.Group
	positions := make([]address.Address, workers)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			r, err := e.Stake(ctx, domain.StakeParams{
				MarketID: "m1",
				Owner:    fmt.Sprintf("user-%d", i%4),
				Outcome:  side(i),
				Amount:   int64(i + 1),
			})
			if err != nil {
				return err
			}
			positions[i] = r.Position.Address
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := map[address.Address]bool{}
	for _, p := range positions {
		assert.False(t, seen[p], "duplicate position %s", p)
		seen[p] = true
	}

	m, err := e.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*(workers+1)/2), m.TotalVolume)
	assert.Equal(t, m.TotalVolume, m.PoolYes+m.PoolNo)
	assert.Equal(t, int64(4), m.ParticipantCount)

	escrow, err := e.GetEscrow(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.TotalVolume, escrow.Balance)
	requireConsistent(t, e, "m1")
}

// Every stake either lands before the resolution and is counted, or is
// turned away as closed. None is lost or counted after the pools froze.
func testStakesRacingResolve(t *testing.T, e *service.Engine) {
	ctx := context.Background()
	createMarket(t, e, "m1")

	var accepted atomic.Int64
	var g errgroup.Group
	for i := 0; i < 30; i++ {
		i := i
		g.Go(func() error {
			_, err := e.Stake(ctx, domain.StakeParams{MarketID: "m1", Owner: fmt.Sprintf("u%d", i), Outcome: side(i), Amount: 10})
			switch {
			case err == nil:
				accepted.Add(10)
			case errors.Is(err, domain.ErrMarketClosed):
			default:
				return err
			}
			return nil
		})
		if i == 15 {
			g.Go(func() error {
				_, err := e.Resolve(ctx, domain.ResolveParams{MarketID: "m1", Authority: "oracle", WinningOutcome: domain.OutcomeYes})
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	m, err := e.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, m.Status)
	assert.Equal(t, accepted.Load(), m.PoolYes+m.PoolNo)
	requireConsistent(t, e, "m1")
}

func testConcurrentClaims(t *testing.T, e *service.Engine) {
	ctx := context.Background()
	createMarket(t, e, "m1")

	var winners []domain.Position
	for i := 0; i < 10; i++ {
		r, err := e.Stake(ctx, domain.StakeParams{MarketID: "m1", Owner: fmt.Sprintf("w%d", i), Outcome: domain.OutcomeYes, Amount: int64(10 + i)})
		require.NoError(t, err)
		winners = append(winners, r.Position)
		_, err = e.Stake(ctx, domain.StakeParams{MarketID: "m1", Owner: fmt.Sprintf("l%d", i), Outcome: domain.OutcomeNo, Amount: int64(3*i + 1)})
		require.NoError(t, err)
	}
	_, err := e.Resolve(ctx, domain.ResolveParams{MarketID: "m1", Authority: "oracle", WinningOutcome: domain.OutcomeYes})
	require.NoError(t, err)

	// Each winner races three claims against itself while the others drain
	// the same escrow row.
	var ok, already atomic.Int64
	var g errgroup.Group
	for _, w := range winners {
		w := w
		for r := 0; r < 3; r++ {
			g.Go(func() error {
				_, err := e.Claim(ctx, domain.ClaimParams{Position: w.Address, Caller: w.Owner})
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, domain.ErrAlreadyClaimed):
					already.Add(1)
				default:
					return err
				}
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(len(winners)), ok.Load())
	assert.Equal(t, int64(2*len(winners)), already.Load())

	a := requireConsistent(t, e, "m1")
	assert.LessOrEqual(t, a.ClaimedPayouts, a.PoolTotal)
	assert.Zero(t, a.OutstandingOwed)
}

func testConcurrentResolve(t *testing.T, e *service.Engine) {
	ctx := context.Background()
	createMarket(t, e, "m1")

	var won atomic.Int64
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			_, err := e.Resolve(ctx, domain.ResolveParams{MarketID: "m1", Authority: "oracle", WinningOutcome: side(i)})
			if errors.Is(err, domain.ErrAlreadyResolved) {
				return nil
			}
			if err == nil {
				won.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), won.Load(), "exactly one resolve commits")
}

func testConcurrentCreateMarket(t *testing.T, e *service.Engine) {
	ctx := context.Background()

	var created, exists atomic.Int64
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			_, err := e.CreateMarket(ctx, domain.CreateMarketParams{
				MarketID:  "m1",
				Question:  fmt.Sprintf("Question %d?", i),
				EndTime:   time.Now().Add(time.Hour).Unix(),
				Authority: "oracle",
			})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, domain.ErrMarketAlreadyExists):
				exists.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(7), exists.Load())

	escrow, err := e.GetEscrow(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, escrow.Balance)
}

// Retries of one request that arrive together apply the stake once. The
// losers either replay the stored response or see the key still in flight.
func testConcurrentIdempotentStake(t *testing.T, e *service.Engine) {
	ctx := context.Background()
	createMarket(t, e, "m1")
	ins := domain.StakeInstruction(domain.StakeArgs{MarketID: "m1", Outcome: domain.OutcomeYes, Amount: 25})

	var fresh, replayed, inFlight atomic.Int64
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			r, rec, err := e.ExecuteIdempotent(ctx, "alice", ins, "alice/retry-1", "hash")
			switch {
			case errors.Is(err, domain.ErrIdempotencyConflict):
				inFlight.Add(1)
			case err != nil:
				return err
			case rec != nil:
				replayed.Add(1)
			case r != nil:
				fresh.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), fresh.Load())
	assert.Equal(t, int64(9), replayed.Load()+inFlight.Load())

	m, err := e.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), m.PoolYes)
	assert.Equal(t, int64(1), m.ParticipantCount)
	requireConsistent(t, e, "m1")
}
