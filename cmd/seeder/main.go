// Command seeder creates markets, and optionally opening stakes, through the
// engine so every row it writes passes the same checks as live traffic.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/punchamoorthee/parimutuel/internal/app"
	"github.com/punchamoorthee/parimutuel/internal/config"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/logging"
	"github.com/punchamoorthee/parimutuel/internal/service"
)

type seedStake struct {
	Owner   string `toml:"owner"`
	Outcome string `toml:"outcome"`
	Amount  int64  `toml:"amount"`
}

type seedMarket struct {
	ID        string          `toml:"id"`
	Question  string          `toml:"question"`
	EndsIn    config.Duration `toml:"ends_in"`
	Authority string          `toml:"authority"`
	Stakes    []seedStake     `toml:"stakes"`
}

type seedFile struct {
	Markets []seedMarket `toml:"markets"`
}

// Used when no -seed file is given; the benchmark stakes into these.
func defaultSeed() seedFile {
	week := config.Duration{Duration: 7 * 24 * time.Hour}
	return seedFile{Markets: []seedMarket{
		{ID: "bench-1", Question: "Will the benchmark finish under a minute?", EndsIn: week, Authority: "oracle"},
		{ID: "bench-2", Question: "Will p99 latency stay below 50ms?", EndsIn: week, Authority: "oracle"},
		{ID: "bench-3", Question: "Will any claim be paid twice?", EndsIn: week, Authority: "oracle"},
	}}
}

func loadSeed(path string) (seedFile, error) {
	if path == "" {
		return defaultSeed(), nil
	}
	var sf seedFile
	if _, err := toml.DecodeFile(path, &sf); err != nil {
		return seedFile{}, fmt.Errorf("seed: decode %s: %w", path, err)
	}
	return sf, nil
}

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	seedPath := flag.String("seed", "", "TOML file of markets to create (default: three benchmark markets)")
	flag.Parse()

	if err := run(*configPath, *seedPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, seedPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sf, err := loadSeed(seedPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := app.Wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Info("--- Seeding Ledger ---", zap.Int("markets", len(sf.Markets)))
	created, stakes, err := seed(ctx, deps.Engine, sf, time.Now(), log)
	if err != nil {
		return err
	}
	log.Info("seeding complete", zap.Int("markets_created", created), zap.Int("stakes_placed", stakes))
	return nil
}

// seed is safe to rerun: markets that already exist are skipped along with
// their stakes.
func seed(ctx context.Context, e *service.Engine, sf seedFile, now time.Time, log *zap.Logger) (int, int, error) {
	var created, staked int
	for _, m := range sf.Markets {
		_, err := e.CreateMarket(ctx, domain.CreateMarketParams{
			MarketID:  m.ID,
			Question:  m.Question,
			EndTime:   now.Add(m.EndsIn.Duration).Unix(),
			Authority: m.Authority,
		})
		if errors.Is(err, domain.ErrMarketAlreadyExists) {
			log.Info("market exists, skipping", zap.String("market_id", m.ID))
			continue
		}
		if err != nil {
			return created, staked, fmt.Errorf("seed: market %s: %w", m.ID, err)
		}
		created++

		for _, s := range m.Stakes {
			_, err := e.Stake(ctx, domain.StakeParams{
				MarketID: m.ID,
				Owner:    s.Owner,
				Outcome:  domain.Outcome(s.Outcome),
				Amount:   s.Amount,
			})
			if err != nil {
				return created, staked, fmt.Errorf("seed: stake %s on %s: %w", s.Owner, m.ID, err)
			}
			staked++
		}
	}
	return created, staked, nil
}
