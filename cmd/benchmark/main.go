// Command benchmark drives concurrent stakes against a running api server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/parimutuel/internal/api"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/logging"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	secret      string
	marketList  string
	owners      int
	replayRate  float64
)

// Metrics
var (
	totalRequests uint64
	created       uint64 // 201
	replayed      uint64 // served from the idempotency store
	conflicts     uint64 // 409
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&secret, "secret", os.Getenv("LEDGER_JWT_SECRET"), "HS256 secret shared with the server")
	flag.StringVar(&marketList, "markets", "bench-1,bench-2,bench-3", "Comma separated market ids (see cmd/seeder)")
	flag.IntVar(&owners, "owners", 100, "Distinct staking identities")
	flag.Float64Var(&replayRate, "replay", 0.05, "Fraction of requests that resend the previous idempotency key")
}

type target struct {
	market  string
	owner   int
	outcome string
}

func main() {
	flag.Parse()
	log, err := logging.New("info", "development")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	markets := strings.Split(marketList, ",")
	tokens, err := issueTokens(api.NewAuthenticator(secret), owners, duration+time.Minute)
	if err != nil {
		log.Fatal("issue tokens", zap.Error(err))
	}

	log.Info("starting benchmark",
		zap.String("workload", workload),
		zap.Int("workers", concurrency),
		zap.Duration("duration", duration),
		zap.Strings("markets", markets))

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		seed := start.UnixNano() + int64(i)
		g.Go(func() error {
			worker(ctx, rand.New(rand.NewSource(seed)), markets, tokens)
			return nil
		})
	}
	_ = g.Wait()

	if err := printResults(time.Since(start)); err != nil {
		log.Fatal("write results", zap.Error(err))
	}
}

func issueTokens(auth *api.Authenticator, n int, ttl time.Duration) ([]string, error) {
	tokens := make([]string, n)
	for i := range tokens {
		tok, err := auth.Issue(fmt.Sprintf("bench-user-%d", i), ttl)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func worker(ctx context.Context, rng *rand.Rand, markets, tokens []string) {
	client := &http.Client{Timeout: 5 * time.Second}
	var lastKey, lastURL, lastToken string
	var lastBody []byte

	for ctx.Err() == nil {
		var key, url, token string
		var body []byte

		if lastKey != "" && rng.Float64() < replayRate {
			key, url, token, body = lastKey, lastURL, lastToken, lastBody
		} else {
			t := pick(rng, markets, len(tokens))
			body, _ = json.Marshal(api.StakeRequest{Outcome: domain.Outcome(t.outcome), Amount: int64(rng.Intn(500) + 1)})
			url = targetURL + "/api/v1/markets/" + t.market + "/stakes"
			token = tokens[t.owner]
			key = fmt.Sprintf("bench-%s-%d-%d", t.market, t.owner, time.Now().UnixNano())
			lastKey, lastURL, lastToken, lastBody = key, url, token, body
		}

		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddUint64(&failOther, 1)
			}
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.Header.Get("Idempotent-Replayed") == "true":
			atomic.AddUint64(&replayed, 1)
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&created, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&conflicts, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pick chooses a market, owner and side. Hotspot sends 90% of traffic to the
// first market so every stake queues on one market row lock.
func pick(rng *rand.Rand, markets []string, owners int) target {
	t := target{
		market:  markets[rng.Intn(len(markets))],
		owner:   rng.Intn(owners),
		outcome: "yes",
	}
	if workload == "hotspot" && rng.Float32() < 0.90 {
		t.market = markets[0]
	}
	if rng.Intn(2) == 1 {
		t.outcome = "no"
	}
	return t
}

func printResults(d time.Duration) error {
	total := atomic.LoadUint64(&totalRequests)
	c201 := atomic.LoadUint64(&created)
	rep := atomic.LoadUint64(&replayed)
	c409 := atomic.LoadUint64(&conflicts)
	fErr := atomic.LoadUint64(&failOther)

	var conflictRate float64
	if total > 0 {
		conflictRate = float64(c409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    float64(total) / d.Seconds(),
		"success_created":   c201,
		"success_replay":    rep,
		"aborts_conflict":   c409,
		"conflict_rate_pct": conflictRate,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	// Also save to file
	file, err := os.Create(fmt.Sprintf("results_%s.json", workload))
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
