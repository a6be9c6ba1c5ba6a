// Package aggregator composes upstream adapters and the staleness-aware cache
// into the market views served to display surfaces.
//
// Every view returns a View: data plus a staleness flag and an optional
// human-readable error. A stale payload is a successful result. A Go error is
// returned only when the upstream failed and nothing was ever cached for the key.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/coinpulse/internal/cache"
	"github.com/rewired-gh/coinpulse/internal/logger"
	"github.com/rewired-gh/coinpulse/internal/models"
	"github.com/rewired-gh/coinpulse/internal/upstream"
)

// Cache key kinds.
const (
	KindPrice     = "price"
	KindTrending  = "trending"
	KindVolume    = "volume"
	KindDominance = "dominance"
	KindNews      = "news"
)

// ErrUnavailable is returned when a view has no data at all to serve.
var ErrUnavailable = errors.New("view unavailable")

// View is the caller-facing result of a read.
type View[T any] struct {
	Data      T         `json:"data"`
	IsStale   bool      `json:"isStale"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Sources groups the adapters an Aggregator reads from. Nil sources disable their views.
type Sources struct {
	Price     upstream.PriceSource
	Trending  upstream.TrendingSource
	Volume    upstream.VolumeSource
	Dominance upstream.DominanceSource
	News      upstream.NewsSource
}

// Config holds per-view TTLs and shaping limits.
type Config struct {
	PriceTTL      time.Duration
	TrendingTTL   time.Duration
	VolumeTTL     time.Duration
	DominanceTTL  time.Duration
	NewsTTL       time.Duration
	TrendingLimit int
	DominanceTop  int
}

// Aggregator serves market views. It is safe for concurrent use; its only
// shared state is the cache.
type Aggregator struct {
	cache   *cache.Cache
	sources Sources
	cfg     Config
}

// New creates an Aggregator
func New(c *cache.Cache, sources Sources, cfg Config) *Aggregator {
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = 30 * time.Second
	}
	if cfg.TrendingTTL <= 0 {
		cfg.TrendingTTL = 5 * time.Minute
	}
	if cfg.VolumeTTL <= 0 {
		cfg.VolumeTTL = 2 * time.Minute
	}
	if cfg.DominanceTTL <= 0 {
		cfg.DominanceTTL = 5 * time.Minute
	}
	if cfg.NewsTTL <= 0 {
		cfg.NewsTTL = 15 * time.Minute
	}
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = 7
	}
	if cfg.DominanceTop <= 0 {
		cfg.DominanceTop = 5
	}
	return &Aggregator{cache: c, sources: sources, cfg: cfg}
}

// Price returns the latest snapshot for symbol.
func (a *Aggregator) Price(ctx context.Context, symbol string) (View[models.MarketSnapshot], error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if a.sources.Price == nil {
		return View[models.MarketSnapshot]{}, fmt.Errorf("%w: no price source", ErrUnavailable)
	}
	if symbol == "" {
		return View[models.MarketSnapshot]{}, fmt.Errorf("%w: empty symbol", ErrUnavailable)
	}
	return read(ctx, a.cache, cache.Key(KindPrice, symbol), a.cfg.PriceTTL, func(ctx context.Context) (models.MarketSnapshot, error) {
		return a.sources.Price.FetchPrice(ctx, symbol)
	})
}

// Trending returns the upstream trending list capped to the configured limit,
// in the upstream's own order.
func (a *Aggregator) Trending(ctx context.Context) (View[[]models.TrendingCoin], error) {
	if a.sources.Trending == nil {
		return View[[]models.TrendingCoin]{}, fmt.Errorf("%w: no trending source", ErrUnavailable)
	}
	v, err := read(ctx, a.cache, cache.Key(KindTrending), a.cfg.TrendingTTL, a.sources.Trending.FetchTrending)
	if err != nil {
		return v, err
	}
	n := len(v.Data)
	if n > a.cfg.TrendingLimit {
		n = a.cfg.TrendingLimit
	}
	// Callers get their own slice; the cached one is shared.
	v.Data = append([]models.TrendingCoin(nil), v.Data[:n]...)
	return v, nil
}

// Volume returns per-exchange volume for asset with shares derived from the
// set being returned. Raw volumes are cached; shares are not.
func (a *Aggregator) Volume(ctx context.Context, asset string) (View[[]models.VolumePair], error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if a.sources.Volume == nil {
		return View[[]models.VolumePair]{}, fmt.Errorf("%w: no volume source", ErrUnavailable)
	}
	if asset == "" {
		return View[[]models.VolumePair]{}, fmt.Errorf("%w: empty asset", ErrUnavailable)
	}
	v, err := read(ctx, a.cache, cache.Key(KindVolume, asset), a.cfg.VolumeTTL, func(ctx context.Context) ([]models.VolumePair, error) {
		return a.sources.Volume.FetchVolume(ctx, asset)
	})
	if err != nil {
		return v, err
	}
	v.Data = VolumeShares(v.Data)
	return v, nil
}

// Dominance returns the largest assets by market-cap share plus an Others residual.
func (a *Aggregator) Dominance(ctx context.Context) (View[[]models.DominanceEntry], error) {
	if a.sources.Dominance == nil {
		return View[[]models.DominanceEntry]{}, fmt.Errorf("%w: no dominance source", ErrUnavailable)
	}
	v, err := read(ctx, a.cache, cache.Key(KindDominance), a.cfg.DominanceTTL, a.sources.Dominance.FetchDominance)
	if err != nil {
		return v, err
	}
	v.Data = DominanceBreakdown(v.Data, a.cfg.DominanceTop)
	return v, nil
}

// News returns items for a category filter, de-duplicated by id, newest first.
func (a *Aggregator) News(ctx context.Context, categories []string) (View[[]models.NewsItem], error) {
	if a.sources.News == nil {
		return View[[]models.NewsItem]{}, fmt.Errorf("%w: no news source", ErrUnavailable)
	}
	cats := NormalizeCategories(categories)
	return read(ctx, a.cache, cache.Key(KindNews, cats...), a.cfg.NewsTTL, func(ctx context.Context) ([]models.NewsItem, error) {
		items, err := a.sources.News.FetchNews(ctx, cats)
		if err != nil {
			return nil, err
		}
		return MergeNews(items), nil
	})
}

// NewsFeed merges several category filters into one list de-duplicated by id.
// The result is stale if any part was stale; it fails only if every part failed.
func (a *Aggregator) NewsFeed(ctx context.Context, categorySets ...[]string) (View[[]models.NewsItem], error) {
	if len(categorySets) == 0 {
		categorySets = [][]string{nil}
	}

	var parts [][]models.NewsItem
	var out View[[]models.NewsItem]
	var messages []string
	var firstErr error

	for _, cats := range categorySets {
		v, err := a.News(ctx, cats)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			out.IsStale = true
			messages = append(messages, err.Error())
			continue
		}
		parts = append(parts, v.Data)
		if v.IsStale {
			out.IsStale = true
		}
		if v.Error != "" {
			messages = append(messages, v.Error)
		}
		if out.FetchedAt.IsZero() || v.FetchedAt.Before(out.FetchedAt) {
			out.FetchedAt = v.FetchedAt
		}
	}

	if len(parts) == 0 {
		return View[[]models.NewsItem]{}, firstErr
	}
	out.Data = MergeNews(parts...)
	out.Error = strings.Join(messages, "; ")
	return out, nil
}

// read runs a cached lookup and converts the outcome into a View.
func read[T any](ctx context.Context, c *cache.Cache, key string, ttl time.Duration, fn cache.RefreshFunc[T]) (View[T], error) {
	e, err := cache.GetOrRefresh(ctx, c, key, ttl, fn)
	if err != nil {
		logger.Warn("View %s unavailable: %v", key, err)
		return View[T]{}, &unavailableError{key: key, cause: err}
	}
	v := View[T]{Data: e.Value, IsStale: e.Stale, FetchedAt: e.FetchedAt}
	if e.Stale {
		logger.Debug("Serving stale %s (fetched %s): %v", key, e.FetchedAt.Format(time.RFC3339), e.Err)
		v.Error = describe(e.Err)
	}
	return v, nil
}

// unavailableError matches both ErrUnavailable and the refresh failure behind
// it, while its text only carries the display form of that failure.
type unavailableError struct {
	key   string
	cause error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrUnavailable, e.key, describe(e.cause))
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.cause}
}

// describe renders an upstream failure for display without leaking provider detail.
func describe(err error) string {
	if err == nil {
		return ""
	}
	if kind, ok := upstream.KindOf(err); ok {
		switch kind {
		case upstream.RateLimited:
			return "data provider is rate limiting requests"
		case upstream.Timeout:
			return "data provider timed out"
		case upstream.InvalidResponse:
			return "data provider returned an unusable response"
		default:
			return "data provider is unavailable"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "refresh still in progress"
	}
	return "data provider is unavailable"
}

// NormalizeCategories lower-cases, trims, de-duplicates and sorts a category set
// so that equal sets share one cache key.
func NormalizeCategories(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
