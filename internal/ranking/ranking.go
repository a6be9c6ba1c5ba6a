// Package ranking provides pure, deterministic ranking of trading ideas, tags
// and contributors.
//
// Every ordering is total: explicit sort keys first, then an explicit
// tie-break, and finally input position, so repeated runs over unchanged input
// always produce the same order and pages never overlap or skip.
package ranking

import (
	"sort"

	"github.com/rewired-gh/coinpulse/internal/models"
)

// Default list sizes.
const (
	PopularTagsLimit     = 10
	TopContributorsLimit = 5
)

// ideaBefore orders by like count descending, then creation time descending.
func ideaBefore(a, b models.TradingIdea) bool {
	if a.LikeCount != b.LikeCount {
		return a.LikeCount > b.LikeCount
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func tagBefore(a, b models.Tag) bool {
	if a.UsageCount != b.UsageCount {
		return a.UsageCount > b.UsageCount
	}
	return a.ID < b.ID
}

func userBefore(a, b models.User) bool {
	if a.IdeasCount != b.IdeasCount {
		return a.IdeasCount > b.IdeasCount
	}
	return a.ID < b.ID
}

// TrendingIdeas returns ideas ordered by like count descending, newer first on
// equal counts. The sort is stable: ideas equal on both keys keep input order.
// The input slice is not modified.
func TrendingIdeas(ideas []models.TradingIdea) []models.TradingIdea {
	out := make([]models.TradingIdea, len(ideas))
	copy(out, ideas)
	sort.SliceStable(out, func(i, j int) bool {
		return ideaBefore(out[i], out[j])
	})
	return out
}

// TopTrendingIdeas returns the first k ideas of TrendingIdeas without sorting
// the whole collection.
func TopTrendingIdeas(ideas []models.TradingIdea, k int) []models.TradingIdea {
	return selectTop(ideas, k, ideaBefore)
}

// PopularTags returns up to PopularTagsLimit tags with a positive usage count,
// most used first, ties broken by id ascending.
func PopularTags(tags []models.Tag) []models.Tag {
	used := make([]models.Tag, 0, len(tags))
	for _, t := range tags {
		if t.UsageCount > 0 {
			used = append(used, t)
		}
	}
	return selectTop(used, PopularTagsLimit, tagBefore)
}

// TopContributors returns up to TopContributorsLimit users with at least one
// idea, most prolific first, ties broken by id ascending.
func TopContributors(users []models.User) []models.User {
	active := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.IdeasCount > 0 {
			active = append(active, u)
		}
	}
	return selectTop(active, TopContributorsLimit, userBefore)
}

// Page returns items[offset:offset+limit], clamped to the slice bounds.
// A non-positive limit returns everything from offset.
func Page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}
