package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/coinpulse/internal/advisor"
	"github.com/rewired-gh/coinpulse/internal/aggregator"
	"github.com/rewired-gh/coinpulse/internal/cache"
	"github.com/rewired-gh/coinpulse/internal/models"
	"github.com/rewired-gh/coinpulse/internal/scheduler"
	"github.com/rewired-gh/coinpulse/internal/social"
	"github.com/rewired-gh/coinpulse/internal/storage"
	"github.com/rewired-gh/coinpulse/internal/upstream"
)

type fakeMarket struct {
	mu       sync.Mutex
	failWith error
}

func (f *fakeMarket) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWith
}

func (f *fakeMarket) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *fakeMarket) FetchPrice(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	if err := f.fail(); err != nil {
		return models.MarketSnapshot{}, err
	}
	return models.MarketSnapshot{Symbol: symbol, Price: 64000, CapturedAt: time.Now()}, nil
}

func (f *fakeMarket) FetchTrending(ctx context.Context) ([]models.TrendingCoin, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []models.TrendingCoin{{ID: "pepe", Symbol: "PEPE"}, {ID: "bitcoin", Symbol: "BTC"}}, nil
}

func (f *fakeMarket) FetchVolume(ctx context.Context, asset string) ([]models.VolumePair, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []models.VolumePair{{ExchangeName: "Binance", Volume: 75}, {ExchangeName: "Kraken", Volume: 25}}, nil
}

func (f *fakeMarket) FetchDominance(ctx context.Context) ([]models.DominanceEntry, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []models.DominanceEntry{{AssetName: "BTC", SharePercent: 55}, {AssetName: "ETH", SharePercent: 15}}, nil
}

func (f *fakeMarket) FetchNews(ctx context.Context, categories []string) ([]models.NewsItem, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []models.NewsItem{{ID: "n1", Title: "ETF news", URL: "https://example.com/n1", PublishedAt: time.Now()}}, nil
}

type fakeAdvisor struct{}

func (fakeAdvisor) Advise(ctx context.Context, s models.MarketSnapshot, headlines []models.NewsItem) (*advisor.Advice, error) {
	return &advisor.Advice{Symbol: s.Symbol, Text: "steady"}, nil
}

type fakeSurfaces struct{}

func (fakeSurfaces) States() []scheduler.Status {
	return []scheduler.Status{{Name: "btc-price", Running: true}}
}

type testEnv struct {
	handler http.Handler
	market  *fakeMarket
	clock   *time.Time
	mu      *sync.Mutex
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c := cache.New(time.Hour, cache.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))

	market := &fakeMarket{}
	agg := aggregator.New(c, aggregator.Sources{
		Price: market, Trending: market, Volume: market, Dominance: market, News: market,
	}, aggregator.Config{TrendingLimit: 1})

	srv := New(Config{Mode: gin.TestMode}, Deps{
		Market:   agg,
		Social:   social.New(store),
		Advisor:  fakeAdvisor{},
		Surfaces: fakeSurfaces{},
		Store:    store,
	})
	return &testEnv{handler: srv.Handler(), market: market, clock: &now, mu: &mu}
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	*e.clock = e.clock.Add(d)
}

func (e *testEnv) do(t *testing.T, method, path, viewer string, body any) (*httptest.ResponseRecorder, envelopeResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if viewer != "" {
		req.Header.Set(ViewerHeader, viewer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelopeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

type envelopeResponse struct {
	Data    json.RawMessage `json:"data"`
	IsStale bool            `json:"isStale"`
	Error   string          `json:"error"`
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("failed to decode %s: %v", raw, err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMarketViews(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/market/price/btc", "", nil)
	if rec.Code != http.StatusOK || body.IsStale {
		t.Fatalf("price: status %d, body %+v", rec.Code, body)
	}
	if snap := decode[models.MarketSnapshot](t, body.Data); snap.Symbol != "BTC" || snap.Price != 64000 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/market/trending", "", nil)
	if coins := decode[[]models.TrendingCoin](t, body.Data); len(coins) != 1 || coins[0].ID != "pepe" {
		t.Errorf("expected trending capped to upstream first entry, got %+v", coins)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/market/volume/btc", "", nil)
	if pairs := decode[[]models.VolumePair](t, body.Data); len(pairs) != 2 || pairs[0].SharePercent != 75 {
		t.Errorf("unexpected volume: %+v", pairs)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/market/dominance", "", nil)
	entries := decode[[]models.DominanceEntry](t, body.Data)
	if last := entries[len(entries)-1]; last.AssetName != models.OthersAsset || last.SharePercent != 30 {
		t.Errorf("expected Others residual of 30, got %+v", last)
	}

	rec, body = env.do(t, http.MethodGet, "/api/v1/news?categories=btc,ETF", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("news: status %d", rec.Code)
	}
	if items := decode[[]models.NewsItem](t, body.Data); len(items) != 1 {
		t.Errorf("unexpected news: %+v", items)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/news/feed?set=btc&set=regulation", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("news feed: status %d", rec.Code)
	}
}

func TestMarketStaleAndUnavailable(t *testing.T) {
	env := newTestEnv(t)

	// Nothing cached yet and the provider is down: 503.
	env.market.setFail(&upstream.Error{Source: "fake", Kind: upstream.Unavailable})
	rec, body := env.do(t, http.MethodGet, "/api/v1/market/price/eth", "", nil)
	if rec.Code != http.StatusServiceUnavailable || body.Error == "" {
		t.Fatalf("expected 503 with error, got %d %+v", rec.Code, body)
	}

	// Cache a value, expire it, then fail: served stale with a message.
	env.market.setFail(nil)
	if rec, _ := env.do(t, http.MethodGet, "/api/v1/market/price/eth", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env.advance(time.Minute)
	env.market.setFail(&upstream.Error{Source: "fake", Kind: upstream.RateLimited, Status: 429})

	rec, body = env.do(t, http.MethodGet, "/api/v1/market/price/eth", "", nil)
	if rec.Code != http.StatusOK || !body.IsStale || body.Error == "" {
		t.Errorf("expected stale 200 with error message, got %d %+v", rec.Code, body)
	}
}

func TestMarketRateLimitedColdCache(t *testing.T) {
	env := newTestEnv(t)

	env.market.setFail(&upstream.Error{Source: "fake", Kind: upstream.RateLimited, Status: 429})
	rec, body := env.do(t, http.MethodGet, "/api/v1/market/price/eth", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %+v", rec.Code, body)
	}
	if !strings.Contains(body.Error, "rate limiting") {
		t.Errorf("expected a rate limit message, got %q", body.Error)
	}
	if strings.Contains(body.Error, "http 429") {
		t.Errorf("message should not carry provider detail: %q", body.Error)
	}
}

func TestIdeaLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/v1/users", "", gin.H{"name": "alice"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d %s", rec.Code, rec.Body.String())
	}
	alice := decode[models.User](t, body.Data)
	_, body = env.do(t, http.MethodPost, "/api/v1/users", "", gin.H{"name": "bob"})
	bob := decode[models.User](t, body.Data)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/ideas", "", gin.H{"title": "Long BTC"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without viewer, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/api/v1/ideas", alice.ID, gin.H{"body": "no title"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without title, got %d", rec.Code)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/ideas", alice.ID, gin.H{"title": "Long BTC", "tags": []string{"BTC", "macro"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create idea: status %d %s", rec.Code, rec.Body.String())
	}
	idea := decode[models.TradingIdea](t, body.Data)

	rec, body = env.do(t, http.MethodPost, "/api/v1/ideas/"+idea.ID+"/like", bob.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("like: status %d", rec.Code)
	}
	if res := decode[social.LikeResult](t, body.Data); !res.Liked || res.LikeCount != 1 {
		t.Errorf("unexpected like result: %+v", res)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/ideas/"+idea.ID, bob.ID, nil)
	if got := decode[models.TradingIdea](t, body.Data); !got.LikedByViewer || got.LikeCount != 1 {
		t.Errorf("expected bob's like visible, got %+v", got)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/ideas/trending?limit=5&tag=btc", bob.ID, nil)
	page := decode[social.Page[models.TradingIdea]](t, body.Data)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != idea.ID {
		t.Errorf("unexpected trending page: %+v", page)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/ideas/trending?offset=-1", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative offset, got %d", rec.Code)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/tags/popular", "", nil)
	if tags := decode[[]models.Tag](t, body.Data); len(tags) != 2 {
		t.Errorf("expected 2 popular tags, got %+v", tags)
	}
	_, body = env.do(t, http.MethodGet, "/api/v1/users/top", "", nil)
	if users := decode[[]models.User](t, body.Data); len(users) != 1 || users[0].ID != alice.ID {
		t.Errorf("unexpected top contributors: %+v", users)
	}

	rec, _ = env.do(t, http.MethodPut, "/api/v1/ideas/"+idea.ID+"/tags", bob.ID, gin.H{"tags": []string{"x"}})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 retagging someone else's idea, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPut, "/api/v1/ideas/"+idea.ID+"/tags", alice.ID, gin.H{"tags": []string{"eth"}})
	if rec.Code != http.StatusOK {
		t.Errorf("retag: status %d", rec.Code)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/ideas/"+idea.ID+"/like/toggle", bob.ID, nil)
	if res := decode[social.LikeResult](t, body.Data); rec.Code != http.StatusOK || res.Liked || res.LikeCount != 0 {
		t.Errorf("unexpected toggle: %d %+v", rec.Code, res)
	}
	rec, _ = env.do(t, http.MethodDelete, "/api/v1/ideas/"+idea.ID+"/like", bob.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("unlike: status %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/ideas/"+idea.ID, alice.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete: status %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodGet, "/api/v1/ideas/"+idea.ID, alice.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestLinkWallet(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, http.MethodPost, "/api/v1/users", "", gin.H{"name": "alice"})
	alice := decode[models.User](t, body.Data)

	rec, _ := env.do(t, http.MethodPut, "/api/v1/users/"+alice.ID+"/wallet", "someone-else", gin.H{"address": "0x1"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPut, "/api/v1/users/"+alice.ID+"/wallet", alice.ID, gin.H{"address": "0x1"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPut, "/api/v1/users/"+alice.ID+"/wallet", alice.ID, gin.H{"address": "0x2"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a second address, got %d", rec.Code)
	}
}

func TestAdviceAndSurfaces(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/advice/btc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("advice: status %d %s", rec.Code, rec.Body.String())
	}
	if a := decode[advisor.Advice](t, body.Data); a.Symbol != "BTC" || a.Text != "steady" {
		t.Errorf("unexpected advice: %+v", a)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/surfaces", "", nil)
	if states := decode[[]scheduler.Status](t, body.Data); len(states) != 1 || states[0].Name != "btc-price" {
		t.Errorf("unexpected surfaces: %+v", states)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{storage.ErrConstraintViolation, http.StatusConflict},
		{storage.ErrForbidden, http.StatusForbidden},
		{storage.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{aggregator.ErrUnavailable, http.StatusServiceUnavailable},
		{&upstream.Error{Source: "x", Kind: upstream.RateLimited}, http.StatusTooManyRequests},
		{&upstream.Error{Source: "x", Kind: upstream.Timeout}, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: price:BTC: %w", aggregator.ErrUnavailable, &upstream.Error{Source: "x", Kind: upstream.RateLimited}), http.StatusTooManyRequests},
		{fmt.Errorf("%w: price:BTC: %w", aggregator.ErrUnavailable, &upstream.Error{Source: "x", Kind: upstream.Unavailable}), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
