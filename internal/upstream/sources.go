package upstream

import (
	"context"

	"github.com/rewired-gh/coinpulse/internal/models"
)

// PriceSource returns the current price reading for a symbol.
type PriceSource interface {
	FetchPrice(ctx context.Context, symbol string) (models.MarketSnapshot, error)
}

// TrendingSource returns the provider's ranked trending list, best first.
type TrendingSource interface {
	FetchTrending(ctx context.Context) ([]models.TrendingCoin, error)
}

// VolumeSource returns raw per-exchange volume for a base asset. SharePercent is
// left unset; shares are derived by the caller from the set it actually holds.
type VolumeSource interface {
	FetchVolume(ctx context.Context, asset string) ([]models.VolumePair, error)
}

// DominanceSource returns per-asset market capitalisation shares, largest first.
type DominanceSource interface {
	FetchDominance(ctx context.Context) ([]models.DominanceEntry, error)
}

// NewsSource returns news items matching any of the given categories.
// An empty category list means no filter.
type NewsSource interface {
	FetchNews(ctx context.Context, categories []string) ([]models.NewsItem, error)
}
