package models

import (
	"errors"
	"time"
)

// NewsItem is an ingested news article. Items are immutable after ingestion
// and identified by ID across sources and category filters.
type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	Source      string    `json:"source"`
	Categories  []string  `json:"categories"`
	PublishedAt time.Time `json:"published_at"`
}

// Validate checks that all news fields are valid
func (n *NewsItem) Validate() error {
	if n.ID == "" {
		return errors.New("news ID must not be empty")
	}
	if n.Title == "" {
		return errors.New("news title must not be empty")
	}
	if n.URL == "" {
		return errors.New("news URL must not be empty")
	}
	if n.PublishedAt.IsZero() {
		return errors.New("published at must be set")
	}
	return nil
}
