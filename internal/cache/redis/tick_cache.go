package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// TickCache implements domain.TickCache using Redis hashes. Each
// instrument's latest tick is stored at key "tick:{code}" with one field per
// tick attribute and a Unix nanosecond timestamp.
type TickCache struct {
	rdb *redis.Client
}

// NewTickCache creates a TickCache backed by the given Client.
func NewTickCache(c *Client) *TickCache {
	return &TickCache{rdb: c.Underlying()}
}

func tickKey(code string) string {
	return "tick:" + code
}

// SetTick stores the latest tick for an instrument.
func (tc *TickCache) SetTick(ctx context.Context, tick domain.PriceTick) error {
	fields := map[string]interface{}{
		"price":  strconv.FormatInt(tick.Price, 10),
		"open":   strconv.FormatInt(tick.Open, 10),
		"high":   strconv.FormatInt(tick.High, 10),
		"low":    strconv.FormatInt(tick.Low, 10),
		"volume": strconv.FormatInt(tick.Volume, 10),
		"ts":     strconv.FormatInt(tick.Time.UnixNano(), 10),
	}
	if err := tc.rdb.HSet(ctx, tickKey(tick.Code), fields).Err(); err != nil {
		return fmt.Errorf("redis: set tick %s: %w", tick.Code, err)
	}
	return nil
}

// GetTick retrieves the latest tick for an instrument. It returns
// domain.ErrNotFound when no tick has been stored.
func (tc *TickCache) GetTick(ctx context.Context, code string) (domain.PriceTick, error) {
	vals, err := tc.rdb.HGetAll(ctx, tickKey(code)).Result()
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: get tick %s: %w", code, err)
	}
	if len(vals) == 0 {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	tick, ok := tickFromFields(code, vals)
	if !ok {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	return tick, nil
}

// GetTicks retrieves the latest ticks for multiple instruments using a
// pipeline. Instruments with no stored tick are silently omitted.
func (tc *TickCache) GetTicks(ctx context.Context, codes []string) (map[string]domain.PriceTick, error) {
	if len(codes) == 0 {
		return map[string]domain.PriceTick{}, nil
	}

	pipe := tc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(codes))
	for _, code := range codes {
		cmds[code] = pipe.HGetAll(ctx, tickKey(code))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get ticks pipeline: %w", err)
	}

	result := make(map[string]domain.PriceTick, len(codes))
	for code, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		if tick, ok := tickFromFields(code, vals); ok {
			result[code] = tick
		}
	}
	return result, nil
}

func tickFromFields(code string, vals map[string]string) (domain.PriceTick, bool) {
	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil || price <= 0 {
		return domain.PriceTick{}, false
	}
	tick := domain.PriceTick{Code: code, Price: price}
	tick.Open, _ = strconv.ParseInt(vals["open"], 10, 64)
	tick.High, _ = strconv.ParseInt(vals["high"], 10, 64)
	tick.Low, _ = strconv.ParseInt(vals["low"], 10, 64)
	tick.Volume, _ = strconv.ParseInt(vals["volume"], 10, 64)
	if tsNano, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		tick.Time = time.Unix(0, tsNano)
	}
	return tick, true
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)
