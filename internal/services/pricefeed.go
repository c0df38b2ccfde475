package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// HTTPPriceFeed pulls spot prices from the market-data collaborator.
type HTTPPriceFeed struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPriceFeed(baseURL string) *HTTPPriceFeed {
	return &HTTPPriceFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPPriceFeed) GetRate(ctx context.Context, asset string) (decimal.Decimal, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/prices/%s", f.baseURL, asset), nil)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("price feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, time.Time{}, fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	var result struct {
		Price string    `json:"price"`
		AsOf  time.Time `json:"asOf"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, time.Time{}, err
	}

	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("price feed returned bad price %q: %w", result.Price, err)
	}
	return price, result.AsOf, nil
}

// CachedPriceFeed wraps an upstream feed with a Redis cache: fresh quotes
// are served from a TTL key, and every successful fetch also updates a
// non-expiring last-known key. When the upstream is down the last-known
// value is used (and logged); with neither, callers get ErrRateUnavailable
// and fail closed.
type CachedPriceFeed struct {
	upstream PriceFeed
	redis    *redis.Client
	ttl      time.Duration
}

func NewCachedPriceFeed(upstream PriceFeed, redisClient *redis.Client, ttl time.Duration) *CachedPriceFeed {
	return &CachedPriceFeed{upstream: upstream, redis: redisClient, ttl: ttl}
}

type cachedRate struct {
	Price string    `json:"price"`
	AsOf  time.Time `json:"asOf"`
}

func (f *CachedPriceFeed) GetRate(ctx context.Context, asset string) (decimal.Decimal, time.Time, error) {
	if f.redis != nil {
		if rate, asOf, ok := f.lookup(ctx, "rate:"+asset); ok {
			return rate, asOf, nil
		}
	}

	price, asOf, err := f.upstream.GetRate(ctx, asset)
	if err == nil {
		f.store(ctx, asset, price, asOf)
		return price, asOf, nil
	}

	log.Printf("[PRICEFEED] upstream failed for %s, trying last-known rate: %v", asset, err)
	if f.redis != nil {
		if rate, asOf, ok := f.lookup(ctx, "rate:"+asset+":last"); ok {
			log.Printf("[PRICEFEED] using last-known %s rate from %s", asset, asOf.Format(time.RFC3339))
			return rate, asOf, nil
		}
	}
	return decimal.Zero, time.Time{}, fmt.Errorf("%s: %w", asset, ErrRateUnavailable)
}

func (f *CachedPriceFeed) lookup(ctx context.Context, key string) (decimal.Decimal, time.Time, bool) {
	data, err := f.redis.Get(ctx, key).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, false
	}
	var cached cachedRate
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return decimal.Zero, time.Time{}, false
	}
	price, err := decimal.NewFromString(cached.Price)
	if err != nil {
		return decimal.Zero, time.Time{}, false
	}
	return price, cached.AsOf, true
}

func (f *CachedPriceFeed) store(ctx context.Context, asset string, price decimal.Decimal, asOf time.Time) {
	if f.redis == nil {
		return
	}
	data, err := json.Marshal(cachedRate{Price: price.String(), AsOf: asOf})
	if err != nil {
		return
	}
	if err := f.redis.Set(ctx, "rate:"+asset, data, f.ttl).Err(); err != nil {
		log.Printf("[PRICEFEED] cache write failed for %s: %v", asset, err)
	}
	if err := f.redis.Set(ctx, "rate:"+asset+":last", data, 0).Err(); err != nil {
		log.Printf("[PRICEFEED] last-known write failed for %s: %v", asset, err)
	}
}
