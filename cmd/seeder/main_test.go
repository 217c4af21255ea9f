package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/service"
	"github.com/punchamoorthee/parimutuel/internal/store/sqlite"
)

func newEngine(t *testing.T) *service.Engine {
	t.Helper()
	st, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return service.New(st, service.WithLogger(zaptest.NewLogger(t)))
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[markets]]
id = "rain"
question = "Rain on Friday?"
ends_in = "48h"
authority = "met-office"

  [[markets.stakes]]
  owner = "alice"
  outcome = "yes"
  amount = 100
`), 0o600))

	sf, err := loadSeed(path)
	require.NoError(t, err)
	require.Len(t, sf.Markets, 1)
	assert.Equal(t, 48*time.Hour, sf.Markets[0].EndsIn.Duration)
	require.Len(t, sf.Markets[0].Stakes, 1)
	assert.Equal(t, int64(100), sf.Markets[0].Stakes[0].Amount)

	_, err = loadSeed(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	def, err := loadSeed("")
	require.NoError(t, err)
	assert.Len(t, def.Markets, 3)
}

func TestSeed_IsRerunnable(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	sf := defaultSeed()
	sf.Markets[0].Stakes = []seedStake{
		{Owner: "alice", Outcome: "yes", Amount: 10},
		{Owner: "bob", Outcome: "no", Amount: 30},
	}
	log := zaptest.NewLogger(t)

	created, staked, err := seed(ctx, e, sf, time.Now(), log)
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	assert.Equal(t, 2, staked)

	created, staked, err = seed(ctx, e, sf, time.Now(), log)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, staked)

	m, err := e.GetMarket(ctx, "bench-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), m.TotalVolume)
	assert.Equal(t, int64(2), m.ParticipantCount)
}

func TestSeed_RejectsBadStake(t *testing.T) {
	sf := seedFile{Markets: []seedMarket{{
		ID: "m1", Question: "Q?", Authority: "oracle",
		Stakes: []seedStake{{Owner: "alice", Outcome: "maybe", Amount: 5}},
	}}}
	sf.Markets[0].EndsIn.Duration = time.Hour

	_, _, err := seed(context.Background(), newEngine(t), sf, time.Now(), zaptest.NewLogger(t))
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)
}
