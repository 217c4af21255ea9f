package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/punchamoorthee/parimutuel/internal/service/servicetest"
	"github.com/punchamoorthee/parimutuel/internal/store"
	"github.com/punchamoorthee/parimutuel/internal/store/storetest"
)

// testDSN returns LEDGER_TEST_PG_DSN when set, otherwise boots a Postgres 16
// container. The test is skipped when neither is available.
func testDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("LEDGER_TEST_PG_DSN"); dsn != "" {
		return dsn
	}
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgC, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := New(ctx, Config{DSN: testDSN(t), MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.RunMigrations(ctx))
	return s
}

func truncate(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.pool.Exec(context.Background(),
		"TRUNCATE ledger_entries, transfers, positions, escrows, markets, idempotency_keys RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}

func TestStore_Conformance(t *testing.T) {
	s := newTestStore(t)
	storetest.Run(t, func(t *testing.T) store.Ledger {
		truncate(t, s)
		return s
	})
}

// The engine's races run here against real row locks and a pooled
// connection, unlike SQLite where every transaction is already serial.
func TestStore_EngineConcurrency(t *testing.T) {
	s := newTestStore(t)
	servicetest.RunConcurrency(t, func(t *testing.T) store.Ledger {
		truncate(t, s)
		return s
	})
}

func TestStore_RunMigrationsTwice(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RunMigrations(context.Background()))

	var applied int
	require.NoError(t, s.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	require.Equal(t, 1, applied)
}
