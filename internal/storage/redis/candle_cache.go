package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

// upsertScript replaces the member scored at ARGV[1] unless it carries a higher revision,
// then trims members older than ARGV[4] and refreshes the key TTL.
var upsertScript = goredis.NewScript(`
local existing = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1])
for _, member in ipairs(existing) do
	local c = cjson.decode(member)
	if tonumber(c.revision) > tonumber(ARGV[3]) then
		return 0
	end
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// cachedCandle is the sorted-set member. Token and resolution live in the key.
type cachedCandle struct {
	Bucket   int64   `json:"bucket"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Trades   uint32  `json:"trades"`
	Revision uint64  `json:"revision"`
	Final    bool    `json:"final"`
}

// CandleCache implements storage.CandleStore over one sorted set per series,
// scored by bucket start in unix seconds and trimmed to a retention window.
type CandleCache struct {
	client *Client
	window time.Duration
	now    func() time.Time
}

// NewCandleCache creates a new CandleCache. window <= 0 uses storage.DefaultCacheWindow.
func NewCandleCache(client *Client, window time.Duration) *CandleCache {
	if window <= 0 {
		window = storage.DefaultCacheWindow
	}
	return &CandleCache{client: client, window: window, now: time.Now}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleCache)(nil)

func seriesKey(token string, res domain.Resolution) string {
	return "candles:" + token + ":" + res.Label()
}

// Upsert stores the candle unless the cached bucket has a higher revision.
func (c *CandleCache) Upsert(ctx context.Context, candle *domain.Candle) (err error) {
	if candle == nil || candle.Token == "" || !candle.Resolution.Valid() {
		return storage.ErrInvalidInput
	}
	defer observe("upsert_candle", time.Now(), &err)

	member, err := json.Marshal(cachedCandle{
		Bucket:   candle.Bucket.Unix(),
		Open:     candle.Open,
		High:     candle.High,
		Low:      candle.Low,
		Close:    candle.Close,
		Volume:   candle.Volume,
		Trades:   candle.Trades,
		Revision: candle.Revision,
		Final:    candle.Final,
	})
	if err != nil {
		return fmt.Errorf("encode candle: %w", err)
	}

	cutoff := c.now().Add(-c.window).Unix()
	err = upsertScript.Run(ctx, c.client, []string{seriesKey(candle.Token, candle.Resolution)},
		candle.Bucket.Unix(), string(member), candle.Revision, cutoff, c.window.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("upsert cached candle: %w", err)
	}
	return nil
}

// GetRange retrieves cached candles with bucket in [from, to], ordered by bucket ASC.
func (c *CandleCache) GetRange(ctx context.Context, token string, res domain.Resolution, from, to time.Time) (_ []*domain.Candle, err error) {
	defer observe("get_candle_range", time.Now(), &err)

	members, err := c.client.ZRangeByScore(ctx, seriesKey(token, res), &goredis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range cached candles: %w", err)
	}
	return decodeMembers(token, res, members)
}

// GetLatest retrieves the newest cached bucket. Returns ErrNotFound if empty.
func (c *CandleCache) GetLatest(ctx context.Context, token string, res domain.Resolution) (_ *domain.Candle, err error) {
	defer observe("get_latest_candle", time.Now(), &err)

	members, err := c.client.ZRevRange(ctx, seriesKey(token, res), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("latest cached candle: %w", err)
	}
	candles, err := decodeMembers(token, res, members)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, storage.ErrNotFound
	}
	return candles[0], nil
}

func decodeMembers(token string, res domain.Resolution, members []string) ([]*domain.Candle, error) {
	result := make([]*domain.Candle, 0, len(members))
	for _, m := range members {
		var cc cachedCandle
		if err := json.Unmarshal([]byte(m), &cc); err != nil {
			return nil, fmt.Errorf("decode cached candle: %w", err)
		}
		result = append(result, &domain.Candle{
			Token:      token,
			Resolution: res,
			Bucket:     time.Unix(cc.Bucket, 0).UTC(),
			Open:       cc.Open,
			High:       cc.High,
			Low:        cc.Low,
			Close:      cc.Close,
			Volume:     cc.Volume,
			Trades:     cc.Trades,
			Revision:   cc.Revision,
			Final:      cc.Final,
		})
	}
	return result, nil
}
