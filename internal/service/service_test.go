package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/store/sqlite"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	engine *Engine
	store  *sqlite.Store
	clock  *testClock
	sink   *recordingSink
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	s, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{store: s, clock: &testClock{now: t0}, sink: &recordingSink{}}
	base := []Option{
		WithClock(h.clock.Now),
		WithEventSink(h.sink),
		WithLogger(zaptest.NewLogger(t)),
	}
	h.engine = New(s, append(base, opts...)...)
	return h
}

func (h *harness) createMarket(t *testing.T, id string) *domain.Market {
	t.Helper()
	r, err := h.engine.CreateMarket(context.Background(), domain.CreateMarketParams{
		MarketID:  id,
		Question:  "Will X happen?",
		EndTime:   h.clock.Now().Unix() + 1000,
		Authority: "oracle",
	})
	require.NoError(t, err)
	return &r.Market
}

func (h *harness) stake(t *testing.T, id, owner string, o domain.Outcome, amount int64) *domain.Position {
	t.Helper()
	r, err := h.engine.Stake(context.Background(), domain.StakeParams{MarketID: id, Owner: owner, Outcome: o, Amount: amount})
	require.NoError(t, err)
	return &r.Position
}

func (h *harness) resolve(t *testing.T, id string, o domain.Outcome) {
	t.Helper()
	_, err := h.engine.Resolve(context.Background(), domain.ResolveParams{MarketID: id, Authority: "oracle", WinningOutcome: o})
	require.NoError(t, err)
}

func (h *harness) requireConsistent(t *testing.T, id string) *domain.EscrowAudit {
	t.Helper()
	a, err := h.engine.AuditEscrow(context.Background(), id)
	require.NoError(t, err)
	require.True(t, a.Consistent, "audit problems: %v", a.Problems)
	return a
}

// The end-to-end walk through create, stake, resolve and claim.
func TestEngine_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// 1. create
	m := h.createMarket(t, "m1")
	assert.Equal(t, domain.MarketActive, m.Status)
	assert.Zero(t, m.PoolYes)
	assert.Zero(t, m.PoolNo)
	assert.Equal(t, address.Market("m1"), m.Address)

	// 2. stakes
	alice := h.stake(t, "m1", "alice", domain.OutcomeYes, 100)
	bob := h.stake(t, "m1", "bob", domain.OutcomeNo, 50)
	assert.Equal(t, int64(100), alice.StakeAmount)
	assert.Equal(t, int64(50), bob.StakeAmount)

	m, err := h.engine.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), m.PoolYes)
	assert.Equal(t, int64(50), m.PoolNo)
	assert.Equal(t, int64(150), m.TotalVolume)
	assert.Equal(t, int64(2), m.ParticipantCount)

	// 3. resolve, then staking is closed
	h.resolve(t, "m1", domain.OutcomeYes)
	_, err = h.engine.Stake(ctx, domain.StakeParams{MarketID: "m1", Owner: "carol", Outcome: domain.OutcomeYes, Amount: 10})
	require.ErrorIs(t, err, domain.ErrMarketClosed)
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	// 4. alice claims the whole pool
	claim, err := h.engine.Claim(ctx, domain.ClaimParams{Position: alice.Address, Caller: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(150), claim.Payout)
	assert.True(t, claim.Position.Claimed)
	assert.Equal(t, int64(150), claim.Position.PayoutAmount)
	assert.Zero(t, claim.Escrow.Balance)

	// 5. bob lost
	_, err = h.engine.Claim(ctx, domain.ClaimParams{Position: bob.Address, Caller: "bob"})
	require.ErrorIs(t, err, domain.ErrLosingPosition)
	bobAfter, err := h.engine.GetPosition(ctx, bob.Address)
	require.NoError(t, err)
	assert.False(t, bobAfter.Claimed)
	assert.Zero(t, bobAfter.PayoutAmount)

	// 6. no second claim
	_, err = h.engine.Claim(ctx, domain.ClaimParams{Position: alice.Address, Caller: "alice"})
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	a := h.requireConsistent(t, "m1")
	assert.Equal(t, int64(150), a.ClaimedPayouts)
	assert.Zero(t, a.Balance)

	assert.Equal(t, []domain.EventType{
		domain.EventMarketCreated,
		domain.EventStakePlaced,
		domain.EventStakePlaced,
		domain.EventMarketResolved,
		domain.EventPayoutClaimed,
	}, h.sink.Types())
}

func TestEngine_CreateMarketErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")

	_, err := h.engine.CreateMarket(ctx, domain.CreateMarketParams{MarketID: "m1", Question: "again?", EndTime: t0.Unix() + 10, Authority: "oracle"})
	require.ErrorIs(t, err, domain.ErrMarketAlreadyExists)

	_, err = h.engine.CreateMarket(ctx, domain.CreateMarketParams{MarketID: "m2", Question: "late?", EndTime: t0.Unix(), Authority: "oracle"})
	require.ErrorIs(t, err, domain.ErrInvalidEndTime)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	_, err = h.engine.GetMarket(ctx, "m2")
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestEngine_StakeErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")

	tests := []struct {
		name string
		p    domain.StakeParams
		want error
	}{
		{"zero amount", domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: domain.OutcomeYes, Amount: 0}, domain.ErrInvalidAmount},
		{"negative amount", domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: domain.OutcomeYes, Amount: -1}, domain.ErrInvalidAmount},
		{"bad outcome", domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: "maybe", Amount: 1}, domain.ErrInvalidOutcome},
		{"unknown market", domain.StakeParams{MarketID: "nope", Owner: "alice", Outcome: domain.OutcomeYes, Amount: 1}, domain.ErrMarketNotFound},
		{"no owner", domain.StakeParams{MarketID: "m1", Outcome: domain.OutcomeYes, Amount: 1}, domain.ErrInvalidOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Stake(ctx, tt.p)
			require.ErrorIs(t, err, tt.want)
		})
	}

	m, err := h.engine.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, m.TotalVolume, "rejected stakes leave no trace")
	h.requireConsistent(t, "m1")
}

func TestEngine_StakeAfterEndTime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")

	h.clock.Advance(1000 * time.Second)
	_, err := h.engine.Stake(ctx, domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: domain.OutcomeYes, Amount: 1})
	require.ErrorIs(t, err, domain.ErrMarketExpired)

	// Resolution is an explicit call and still works after the end time.
	h.resolve(t, "m1", domain.OutcomeNo)
}

func TestEngine_ResolveRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")

	_, err := h.engine.Resolve(ctx, domain.ResolveParams{MarketID: "m1", Authority: "mallory", WinningOutcome: domain.OutcomeYes})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.NotContains(t, err.Error(), address.Market("m1").Hex(), "refusals do not leak addresses")

	_, err = h.engine.Resolve(ctx, domain.ResolveParams{MarketID: "ghost", Authority: "oracle", WinningOutcome: domain.OutcomeYes})
	require.ErrorIs(t, err, domain.ErrMarketNotFound)

	h.resolve(t, "m1", domain.OutcomeNo)

	_, err = h.engine.Resolve(ctx, domain.ResolveParams{MarketID: "m1", Authority: "oracle", WinningOutcome: domain.OutcomeYes})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	m, err := h.engine.GetMarket(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, m.WinningOutcome)
	assert.Equal(t, domain.OutcomeNo, *m.WinningOutcome)
	require.NotNil(t, m.ResolvedAt)
}

func TestEngine_ClaimRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")
	alice := h.stake(t, "m1", "alice", domain.OutcomeYes, 100)

	_, err := h.engine.Claim(ctx, domain.ClaimParams{Position: alice.Address, Caller: "alice"})
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)

	h.resolve(t, "m1", domain.OutcomeYes)

	_, err = h.engine.Claim(ctx, domain.ClaimParams{Position: alice.Address, Caller: "bob"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.engine.Claim(ctx, domain.ClaimParams{Position: address.Position("alice", alice.MarketAddress, 99), Caller: "alice"})
	require.ErrorIs(t, err, domain.ErrPositionNotFound)

	r, err := h.engine.Claim(ctx, domain.ClaimParams{Position: alice.Address, Caller: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), r.Payout, "no losing pool pays back the stake")
	require.Len(t, r.Entries, 2)
	assert.Equal(t, domain.TransferPayout, r.Transfer.Kind)
	assert.Equal(t, domain.OwnerAccount("alice"), r.Transfer.ToAccount)
}

func TestEngine_PayoutsAcrossManyWinners(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")

	winners := []*domain.Position{
		h.stake(t, "m1", "a", domain.OutcomeYes, 7),
		h.stake(t, "m1", "b", domain.OutcomeYes, 11),
		h.stake(t, "m1", "c", domain.OutcomeYes, 13),
	}
	h.stake(t, "m1", "d", domain.OutcomeNo, 17)
	h.stake(t, "m1", "e", domain.OutcomeNo, 19)
	h.resolve(t, "m1", domain.OutcomeYes)

	// total 67, winning pool 31
	want := []int64{67 * 7 / 31, 67 * 11 / 31, 67 * 13 / 31}
	var paid int64
	for i, w := range winners {
		r, err := h.engine.Claim(ctx, domain.ClaimParams{Position: w.Address, Caller: w.Owner})
		require.NoError(t, err)
		assert.Equal(t, want[i], r.Payout)
		paid += r.Payout
		h.requireConsistent(t, "m1")
	}
	assert.LessOrEqual(t, paid, int64(67))

	escrow, err := h.engine.GetEscrow(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 67-paid, escrow.Balance, "rounding dust stays in escrow")
}

func TestEngine_RepeatedStakesNeverMerge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")

	// Same owner, same market, same instant.
	seen := map[address.Address]bool{}
	for i := 0; i < 5; i++ {
		p := h.stake(t, "m1", "alice", domain.OutcomeYes, 10)
		assert.Equal(t, uint64(i+1), p.Seq)
		assert.False(t, seen[p.Address], "address reused")
		seen[p.Address] = true
	}

	positions, err := h.engine.ListPositionsByOwner(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, positions, 5)

	m, err := h.engine.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), m.PoolYes)
	assert.Equal(t, int64(1), m.ParticipantCount)
}

func TestEngine_StakeQuote(t *testing.T) {
	h := newHarness(t)
	h.createMarket(t, "m1")

	first := h.stake(t, "m1", "alice", domain.OutcomeYes, 300)
	assert.Equal(t, int64(5000), first.OddsAtStakeBps)
	assert.Equal(t, int64(300), first.PotentialPayout)

	second := h.stake(t, "m1", "bob", domain.OutcomeNo, 100)
	assert.Equal(t, int64(0), second.OddsAtStakeBps)
	assert.Equal(t, int64(400), second.PotentialPayout)

	third := h.stake(t, "m1", "carol", domain.OutcomeYes, 100)
	assert.Equal(t, int64(7500), third.OddsAtStakeBps)
	assert.Equal(t, int64(500*100/400), third.PotentialPayout)
}

func TestEngine_OverflowRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")
	h.stake(t, "m1", "whale", domain.OutcomeYes, 1<<63-1)

	_, err := h.engine.Stake(ctx, domain.StakeParams{MarketID: "m1", Owner: "alice", Outcome: domain.OutcomeNo, Amount: 1})
	require.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, domain.KindArithmetic, domain.KindOf(err))

	m, err := h.engine.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, m.PoolNo)
	h.requireConsistent(t, "m1")
}

func TestEngine_EventFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("stream down")

	h.createMarket(t, "m1")
	h.stake(t, "m1", "alice", domain.OutcomeYes, 10)
	assert.Len(t, h.sink.Types(), 2)
}

func TestEngine_LedgerEntries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")
	h.stake(t, "m1", "alice", domain.OutcomeYes, 100)
	h.stake(t, "m1", "bob", domain.OutcomeNo, 50)

	escrow, err := h.engine.GetEscrow(ctx, "m1")
	require.NoError(t, err)
	entries, err := h.engine.ListEntries(ctx, domain.EscrowAccount(escrow.Address), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(50), entries[0].Delta, "newest first")

	aliceEntries, err := h.engine.ListEntries(ctx, domain.OwnerAccount("alice"), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, aliceEntries, 1)
	assert.Equal(t, int64(-100), aliceEntries[0].Delta)
}

func TestEngine_ListMarkets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createMarket(t, "m1")
	h.createMarket(t, "m2")
	h.resolve(t, "m2", domain.OutcomeYes)

	active, err := h.engine.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "m1", active[0].MarketID)

	_, err = h.engine.ListMarkets(ctx, domain.MarketFilter{Status: "bogus"})
	require.ErrorIs(t, err, domain.ErrInvalidFilter)

	_, err = h.engine.ListPositionsByMarket(ctx, "ghost", domain.ListOpts{})
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}
