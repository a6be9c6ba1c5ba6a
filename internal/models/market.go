// Package models defines the core domain entities for coinpulse.
//
// Market-side entities (MarketSnapshot, TrendingCoin, DominanceEntry, VolumePair,
// NewsItem) are produced by upstream adapters and owned by the aggregator's cache;
// they are immutable once captured and superseded, never mutated.
// Social entities (TradingIdea, Tag, User) are owned by the persistent store and
// carry denormalized counters that the store keeps in sync with their relations.
package models

import (
	"errors"
	"math"
	"time"
)

// MarketSnapshot is a point-in-time price reading for one symbol.
type MarketSnapshot struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Change24h  float64   `json:"change_24h"` // signed, percent units
	Volume24h  float64   `json:"volume_24h"` // USD
	CapturedAt time.Time `json:"captured_at"`
}

// Validate checks that all snapshot fields are valid
func (s *MarketSnapshot) Validate() error {
	if s.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if s.Price < 0 || math.IsNaN(s.Price) {
		return errors.New("price must not be negative")
	}
	if s.Volume24h < 0 {
		return errors.New("volume 24h must not be negative")
	}
	if s.CapturedAt.IsZero() {
		return errors.New("captured at must be set")
	}
	return nil
}

// TrendingCoin is one entry of an upstream trending list. The list order is the
// upstream's own ranking and is passed through unchanged.
type TrendingCoin struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	MarketCapRank int     `json:"market_cap_rank"`
	Score         int     `json:"score"`
	Price         float64 `json:"price"`
	Change24h     float64 `json:"change_24h"`
	Thumb         string  `json:"thumb,omitempty"`
}

// Validate checks that the coin has an identity.
func (c *TrendingCoin) Validate() error {
	if c.ID == "" {
		return errors.New("coin ID must not be empty")
	}
	if c.Symbol == "" {
		return errors.New("coin symbol must not be empty")
	}
	return nil
}

// OthersAsset is the residual bucket name in a dominance breakdown.
const OthersAsset = "Others"

// DominanceEntry is one asset's share of total market capitalisation.
type DominanceEntry struct {
	AssetName    string  `json:"asset_name"`
	SharePercent float64 `json:"share_percent"`
	ColorTag     string  `json:"color_tag"`
}

// Validate checks that the share is non-negative.
func (d *DominanceEntry) Validate() error {
	if d.AssetName == "" {
		return errors.New("asset name must not be empty")
	}
	if d.SharePercent < 0 || math.IsNaN(d.SharePercent) {
		return errors.New("share percent must not be negative")
	}
	return nil
}

// VolumePair is one exchange's traded volume for a base asset.
// SharePercent is Volume over the total of the set it was computed in.
type VolumePair struct {
	ExchangeName string  `json:"exchange_name"`
	Volume       float64 `json:"volume"`
	SharePercent float64 `json:"share_percent"`
}

// Validate checks that all volume fields are valid
func (v *VolumePair) Validate() error {
	if v.ExchangeName == "" {
		return errors.New("exchange name must not be empty")
	}
	if v.Volume < 0 || math.IsNaN(v.Volume) {
		return errors.New("volume must not be negative")
	}
	if v.SharePercent < 0 || v.SharePercent > 100.0+1e-9 {
		return errors.New("share percent must be between 0 and 100")
	}
	return nil
}
