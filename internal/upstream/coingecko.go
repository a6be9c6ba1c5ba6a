package upstream

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/coinpulse/internal/models"
)

const coinGeckoSource = "coingecko"

// DefaultCoinIDs maps common ticker symbols to CoinGecko coin ids.
var DefaultCoinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"USDT": "tether",
	"USDC": "usd-coin",
}

// CoinGecko adapts the CoinGecko public API to the price, trending, volume and
// dominance capability shapes.
type CoinGecko struct {
	client  *Client
	baseURL string
	apiKey  string
	coinIDs map[string]string
	now     func() time.Time
}

// NewCoinGecko creates a CoinGecko adapter. coinIDs extends DefaultCoinIDs.
func NewCoinGecko(client *Client, baseURL, apiKey string, coinIDs map[string]string) *CoinGecko {
	ids := make(map[string]string, len(DefaultCoinIDs)+len(coinIDs))
	for k, v := range DefaultCoinIDs {
		ids[k] = v
	}
	for k, v := range coinIDs {
		ids[strings.ToUpper(k)] = v
	}
	return &CoinGecko{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		coinIDs: ids,
		now:     time.Now,
	}
}

func (g *CoinGecko) headers() map[string]string {
	if g.apiKey == "" {
		return nil
	}
	return map[string]string{"x-cg-demo-api-key": g.apiKey}
}

// coinID resolves a symbol to a CoinGecko id; unknown symbols are tried as ids.
func (g *CoinGecko) coinID(symbol string) string {
	if id, ok := g.coinIDs[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// FetchPrice implements PriceSource.
func (g *CoinGecko) FetchPrice(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.MarketSnapshot{}, invalid(coinGeckoSource, "empty symbol")
	}
	id := g.coinID(symbol)

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	q.Set("include_24hr_vol", "true")
	u := fmt.Sprintf("%s/simple/price?%s", g.baseURL, q.Encode())

	var resp map[string]struct {
		USD       *flexFloat `json:"usd"`
		Change24h flexFloat  `json:"usd_24h_change"`
		Vol24h    flexFloat  `json:"usd_24h_vol"`
	}
	if err := g.client.getJSON(ctx, coinGeckoSource, u, g.headers(), &resp); err != nil {
		return models.MarketSnapshot{}, err
	}

	quote, ok := resp[id]
	if !ok || quote.USD == nil {
		return models.MarketSnapshot{}, invalid(coinGeckoSource, "no price for %s (%s)", symbol, id)
	}

	snap := models.MarketSnapshot{
		Symbol:     symbol,
		Price:      float64(*quote.USD),
		Change24h:  float64(quote.Change24h),
		Volume24h:  float64(quote.Vol24h),
		CapturedAt: g.now().UTC(),
	}
	if err := snap.Validate(); err != nil {
		return models.MarketSnapshot{}, invalid(coinGeckoSource, "invalid snapshot for %s: %w", symbol, err)
	}
	return snap, nil
}

type coinGeckoTrending struct {
	Coins []struct {
		Item struct {
			ID            string    `json:"id"`
			Name          string    `json:"name"`
			Symbol        string    `json:"symbol"`
			MarketCapRank int       `json:"market_cap_rank"`
			Thumb         string    `json:"thumb"`
			Score         int       `json:"score"`
			Data          struct {
				Price                    flexFloat            `json:"price"`
				PriceChangePercentage24h map[string]flexFloat `json:"price_change_percentage_24h"`
			} `json:"data"`
		} `json:"item"`
	} `json:"coins"`
}

// FetchTrending implements TrendingSource. Entries keep upstream order.
func (g *CoinGecko) FetchTrending(ctx context.Context) ([]models.TrendingCoin, error) {
	u := g.baseURL + "/search/trending"

	var resp coinGeckoTrending
	if err := g.client.getJSON(ctx, coinGeckoSource, u, g.headers(), &resp); err != nil {
		return nil, err
	}

	coins := make([]models.TrendingCoin, 0, len(resp.Coins))
	for _, c := range resp.Coins {
		coin := models.TrendingCoin{
			ID:            c.Item.ID,
			Symbol:        strings.ToUpper(c.Item.Symbol),
			Name:          c.Item.Name,
			MarketCapRank: c.Item.MarketCapRank,
			Score:         c.Item.Score,
			Price:         float64(c.Item.Data.Price),
			Change24h:     float64(c.Item.Data.PriceChangePercentage24h["usd"]),
			Thumb:         c.Item.Thumb,
		}
		if err := coin.Validate(); err != nil {
			continue
		}
		coins = append(coins, coin)
	}
	if len(coins) == 0 && len(resp.Coins) > 0 {
		return nil, invalid(coinGeckoSource, "trending payload had no usable coins")
	}
	return coins, nil
}

// FetchVolume implements VolumeSource. Ticker volumes are summed per exchange in USD.
func (g *CoinGecko) FetchVolume(ctx context.Context, asset string) ([]models.VolumePair, error) {
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return nil, invalid(coinGeckoSource, "empty asset")
	}
	u := fmt.Sprintf("%s/coins/%s/tickers?depth=false&order=volume_desc", g.baseURL, url.PathEscape(g.coinID(asset)))

	var resp struct {
		Tickers []struct {
			Market struct {
				Name string `json:"name"`
			} `json:"market"`
			ConvertedVolume map[string]flexFloat `json:"converted_volume"`
		} `json:"tickers"`
	}
	if err := g.client.getJSON(ctx, coinGeckoSource, u, g.headers(), &resp); err != nil {
		return nil, err
	}

	byExchange := make(map[string]float64)
	for _, t := range resp.Tickers {
		v := float64(t.ConvertedVolume["usd"])
		if t.Market.Name == "" || v <= 0 {
			continue
		}
		byExchange[t.Market.Name] += v
	}

	pairs := make([]models.VolumePair, 0, len(byExchange))
	for name, v := range byExchange {
		pairs = append(pairs, models.VolumePair{ExchangeName: name, Volume: v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Volume != pairs[j].Volume {
			return pairs[i].Volume > pairs[j].Volume
		}
		return pairs[i].ExchangeName < pairs[j].ExchangeName
	})
	return pairs, nil
}

// FetchDominance implements DominanceSource.
func (g *CoinGecko) FetchDominance(ctx context.Context) ([]models.DominanceEntry, error) {
	u := g.baseURL + "/global"

	var resp struct {
		Data struct {
			MarketCapPercentage map[string]flexFloat `json:"market_cap_percentage"`
		} `json:"data"`
	}
	if err := g.client.getJSON(ctx, coinGeckoSource, u, g.headers(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Data.MarketCapPercentage) == 0 {
		return nil, invalid(coinGeckoSource, "global payload had no market cap percentages")
	}

	entries := make([]models.DominanceEntry, 0, len(resp.Data.MarketCapPercentage))
	for asset, share := range resp.Data.MarketCapPercentage {
		if share < 0 {
			share = 0
		}
		entries = append(entries, models.DominanceEntry{
			AssetName:    strings.ToUpper(asset),
			SharePercent: float64(share),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].SharePercent != entries[j].SharePercent {
			return entries[i].SharePercent > entries[j].SharePercent
		}
		return entries[i].AssetName < entries[j].AssetName
	})
	return entries, nil
}
