package settlement

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/parimutuel/internal/domain"
)

func TestPayout(t *testing.T) {
	tests := []struct {
		name                      string
		total, stake, winningPool int64
		want                      int64
	}{
		{"sole winner takes everything", 150, 100, 100, 150},
		{"proportional share", 300, 50, 200, 75},
		{"floors the remainder", 100, 1, 3, 33},
		{"no losing pool returns principal", 100, 40, 100, 40},
		// total*stake is far beyond int64 but the quotient fits.
		{"wide intermediate", math.MaxInt64, math.MaxInt64 / 2, math.MaxInt64, math.MaxInt64 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Payout(tt.total, tt.stake, tt.winningPool)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayout_Errors(t *testing.T) {
	_, err := Payout(100, 10, 0)
	require.ErrorIs(t, err, domain.ErrEmptyWinningPool)

	_, err = Payout(math.MaxInt64, math.MaxInt64, 1)
	require.ErrorIs(t, err, domain.ErrOverflow)

	_, err = Payout(-1, 10, 10)
	require.ErrorIs(t, err, domain.ErrOverflow)
}

func TestOddsBps(t *testing.T) {
	odds, err := OddsBps(0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(EvenOddsBps), odds)

	odds, err = OddsBps(25, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), odds)

	odds, err = OddsBps(0, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), odds)
}

func TestCheckedArithmetic(t *testing.T) {
	sum, err := CheckedAdd(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum)

	_, err = CheckedAdd(math.MaxInt64, 1)
	require.ErrorIs(t, err, domain.ErrOverflow)

	diff, err := CheckedSub(5, 5)
	require.NoError(t, err)
	assert.Zero(t, diff)

	_, err = CheckedSub(4, 5)
	require.ErrorIs(t, err, domain.ErrOverflow)
}

func TestQuoteStake(t *testing.T) {
	q, err := QuoteStake(Pools{}, domain.OutcomeYes, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(EvenOddsBps), q.OddsAtStakeBps)
	assert.Equal(t, int64(100), q.PotentialPayout)
	assert.Equal(t, Pools{Yes: 100}, q.After)

	q, err = QuoteStake(Pools{Yes: 100}, domain.OutcomeNo, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.OddsAtStakeBps)
	assert.Equal(t, int64(150), q.PotentialPayout)
	assert.Equal(t, Pools{Yes: 100, No: 50}, q.After)

	_, err = QuoteStake(Pools{Yes: math.MaxInt64}, domain.OutcomeNo, 1)
	require.ErrorIs(t, err, domain.ErrOverflow)
}

func TestDistribute_NeverOverAllocates(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var frozen Pools
		var winners []int64
		for i := 0; i < 1+rng.Intn(20); i++ {
			amount := 1 + rng.Int63n(1_000_000)
			if rng.Intn(2) == 0 {
				frozen.Yes += amount
				winners = append(winners, amount)
			} else {
				frozen.No += amount
			}
		}
		if len(winners) == 0 {
			continue
		}

		payouts, err := Distribute(frozen, domain.OutcomeYes, winners)
		require.NoError(t, err)

		total, err := frozen.Total()
		require.NoError(t, err)
		var sum int64
		for i, p := range payouts {
			assert.GreaterOrEqual(t, p, winners[i], "a winner never gets less than the stake")
			sum += p
		}
		require.LessOrEqual(t, sum, total)
		// Floor loses strictly less than one unit per winner.
		require.Greater(t, sum, total-int64(len(winners)))
	}
}
