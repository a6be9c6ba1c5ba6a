package aggregator

import (
	"sort"

	"github.com/rewired-gh/coinpulse/internal/models"
)

// dominancePalette assigns colour tags by position; Others is always grey.
var dominancePalette = []string{"orange", "indigo", "green", "gold", "teal", "purple", "pink", "cyan"}

const othersColor = "grey"

// VolumeShares returns a copy of pairs with SharePercent set to each pair's
// volume over the total of the set. Negative volumes count as zero. When the
// total is zero every share is zero.
func VolumeShares(pairs []models.VolumePair) []models.VolumePair {
	out := make([]models.VolumePair, len(pairs))
	copy(out, pairs)

	var total float64
	for i := range out {
		if out[i].Volume < 0 {
			out[i].Volume = 0
		}
		total += out[i].Volume
	}
	for i := range out {
		if total > 0 {
			out[i].SharePercent = out[i].Volume * 100 / total
		} else {
			out[i].SharePercent = 0
		}
	}
	return out
}

// DominanceBreakdown keeps the top n entries by share, adds an Others residual
// for the remainder (never negative) and assigns colour tags.
func DominanceBreakdown(entries []models.DominanceEntry, n int) []models.DominanceEntry {
	sorted := make([]models.DominanceEntry, 0, len(entries))
	for _, e := range entries {
		if e.AssetName == models.OthersAsset {
			continue
		}
		if e.SharePercent < 0 {
			e.SharePercent = 0
		}
		sorted = append(sorted, e)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SharePercent != sorted[j].SharePercent {
			return sorted[i].SharePercent > sorted[j].SharePercent
		}
		return sorted[i].AssetName < sorted[j].AssetName
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}

	var sum float64
	for i := range sorted {
		sorted[i].ColorTag = dominancePalette[i%len(dominancePalette)]
		sum += sorted[i].SharePercent
	}

	residual := 100 - sum
	if residual < 0 {
		residual = 0
	}
	return append(sorted, models.DominanceEntry{
		AssetName:    models.OthersAsset,
		SharePercent: residual,
		ColorTag:     othersColor,
	})
}

// MergeNews concatenates item lists, keeping the first occurrence of each id,
// ordered newest first. Items with equal publish times keep merge order.
func MergeNews(lists ...[]models.NewsItem) []models.NewsItem {
	seen := make(map[string]bool)
	out := make([]models.NewsItem, 0)
	for _, list := range lists {
		for _, item := range list {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out
}
