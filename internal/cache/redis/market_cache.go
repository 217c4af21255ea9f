package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/punchamoorthee/parimutuel/internal/domain"
)

// DefaultMarketTTL bounds how long a snapshot may be served without a refresh.
const DefaultMarketTTL = 5 * time.Minute

// setIfNewerLua writes a snapshot unless the cached one is further along.
// Markets only move forward: pools grow while active, then freeze on
// resolution. Post-commit refreshes can arrive out of order, so an older
// snapshot must never overwrite a newer one.
//
// KEYS[1] market key; ARGV: data, resolved (0|1), total volume, ttl ms.
const setIfNewerLua = `
local cur = redis.call('HMGET', KEYS[1], 'resolved', 'volume')
if cur[1] then
    local curResolved = tonumber(cur[1])
    local newResolved = tonumber(ARGV[2])
    if curResolved > newResolved then
        return 0
    end
    if curResolved == newResolved and tonumber(cur[2]) > tonumber(ARGV[3]) then
        return 0
    end
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'resolved', ARGV[2], 'volume', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`

// MarketCache implements domain.MarketCache with one Redis hash per market.
//
// Key schema:
//
//	market:{market_id}  - hash: data (JSON), resolved, volume
type MarketCache struct {
	rdb   *redis.Client
	ttl   time.Duration
	setSc *redis.Script
}

// NewMarketCache creates a MarketCache; ttl <= 0 means DefaultMarketTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{
		rdb:   c.Underlying(),
		ttl:   ttl,
		setSc: redis.NewScript(setIfNewerLua),
	}
}

func marketKey(id string) string { return "market:" + id }

// GetMarket returns nil, nil on a miss.
func (mc *MarketCache) GetMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(marketID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get market %s: %w", marketID, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("redis: unmarshal market %s: %w", marketID, err)
	}
	return &m, nil
}

func (mc *MarketCache) SetMarket(ctx context.Context, m *domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.MarketID, err)
	}
	resolved := "0"
	if m.Status == domain.MarketResolved {
		resolved = "1"
	}
	err = mc.setSc.Run(ctx, mc.rdb, []string{marketKey(m.MarketID)},
		data, resolved, strconv.FormatInt(m.TotalVolume, 10), mc.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.MarketID, err)
	}
	return nil
}

func (mc *MarketCache) Invalidate(ctx context.Context, marketID string) error {
	if err := mc.rdb.Del(ctx, marketKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", marketID, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
