package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/rewired-gh/coinpulse/internal/logger"
	"github.com/rewired-gh/coinpulse/internal/models"
)

const (
	cryptoCompareSource = "cryptocompare"
	feedSource          = "rss"
)

// CryptoCompareNews adapts the CryptoCompare news API to NewsSource.
type CryptoCompareNews struct {
	client  *Client
	baseURL string
	apiKey  string
}

// NewCryptoCompareNews creates a CryptoCompare news adapter
func NewCryptoCompareNews(client *Client, baseURL, apiKey string) *CryptoCompareNews {
	return &CryptoCompareNews{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type cryptoCompareArticle struct {
	ID          flexString `json:"id"`
	PublishedOn int64      `json:"published_on"`
	ImageURL    string     `json:"imageurl"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Body        string     `json:"body"`
	Categories  string     `json:"categories"` // pipe separated, e.g. "BTC|Market"
	Source      string     `json:"source"`
	SourceInfo  struct {
		Name string `json:"name"`
	} `json:"source_info"`
}

// FetchNews implements NewsSource.
func (n *CryptoCompareNews) FetchNews(ctx context.Context, categories []string) ([]models.NewsItem, error) {
	q := url.Values{}
	q.Set("lang", "EN")
	if len(categories) > 0 {
		upper := make([]string, len(categories))
		for i, c := range categories {
			upper[i] = strings.ToUpper(c)
		}
		q.Set("categories", strings.Join(upper, ","))
	}
	u := fmt.Sprintf("%s/data/v2/news/?%s", n.baseURL, q.Encode())

	var headers map[string]string
	if n.apiKey != "" {
		headers = map[string]string{"authorization": "Apikey " + n.apiKey}
	}

	var resp struct {
		Response string                 `json:"Response"`
		Message  string                 `json:"Message"`
		Data     []cryptoCompareArticle `json:"Data"`
	}
	if err := n.client.getJSON(ctx, cryptoCompareSource, u, headers, &resp); err != nil {
		return nil, err
	}

	// CryptoCompare reports quota and parameter errors with HTTP 200.
	if strings.EqualFold(resp.Response, "Error") {
		if strings.Contains(strings.ToLower(resp.Message), "rate limit") {
			return nil, &Error{Source: cryptoCompareSource, Kind: RateLimited, Err: fmt.Errorf("%s", resp.Message)}
		}
		return nil, invalid(cryptoCompareSource, "api error: %s", resp.Message)
	}

	items := make([]models.NewsItem, 0, len(resp.Data))
	for _, a := range resp.Data {
		source := a.SourceInfo.Name
		if source == "" {
			source = a.Source
		}
		item := models.NewsItem{
			ID:          string(a.ID),
			Title:       strings.TrimSpace(a.Title),
			Body:        a.Body,
			URL:         a.URL,
			ImageURL:    a.ImageURL,
			Source:      source,
			Categories:  splitCategories(a.Categories, "|"),
			PublishedAt: time.Unix(a.PublishedOn, 0).UTC(),
		}
		if a.PublishedOn == 0 {
			item.PublishedAt = time.Time{}
		}
		if err := item.Validate(); err != nil {
			logger.Debug("Skipping news item %q from %s: %v", item.ID, cryptoCompareSource, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// FeedNews adapts a fixed list of RSS/Atom feeds to NewsSource.
type FeedNews struct {
	client *Client
	feeds  []string
}

// NewFeedNews creates a feed-backed news adapter
func NewFeedNews(client *Client, feeds []string) *FeedNews {
	return &FeedNews{client: client, feeds: feeds}
}

// FetchNews implements NewsSource. Feeds that fail are skipped; the call fails
// only when every feed fails.
func (f *FeedNews) FetchNews(ctx context.Context, categories []string) ([]models.NewsItem, error) {
	if len(f.feeds) == 0 {
		return nil, invalid(feedSource, "no feeds configured")
	}

	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[strings.ToLower(strings.TrimSpace(c))] = true
	}

	parser := gofeed.NewParser()
	var items []models.NewsItem
	var firstErr error
	succeeded := 0

	for _, feedURL := range f.feeds {
		body, err := f.client.get(ctx, feedSource, feedURL, map[string]string{
			"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
		})
		if err != nil {
			logger.Warn("Failed to fetch feed %s: %v", feedURL, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		feed, err := parser.Parse(bytes.NewReader(body))
		if err != nil {
			logger.Warn("Failed to parse feed %s: %v", feedURL, err)
			if firstErr == nil {
				firstErr = invalid(feedSource, "failed to parse %s: %w", feedURL, err)
			}
			continue
		}
		succeeded++

		for _, it := range feed.Items {
			item, ok := feedItem(feed.Title, it)
			if !ok {
				continue
			}
			if len(want) > 0 && !matchesAny(item.Categories, want) {
				continue
			}
			items = append(items, item)
		}
	}

	if succeeded == 0 {
		return nil, firstErr
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	return items, nil
}

func feedItem(feedTitle string, it *gofeed.Item) (models.NewsItem, bool) {
	id := it.GUID
	if id == "" {
		id = it.Link
	}

	var published time.Time
	switch {
	case it.PublishedParsed != nil:
		published = it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		published = it.UpdatedParsed.UTC()
	}

	var image string
	if it.Image != nil {
		image = it.Image.URL
	}

	body := it.Description
	if body == "" {
		body = it.Content
	}

	item := models.NewsItem{
		ID:          id,
		Title:       strings.TrimSpace(it.Title),
		Body:        body,
		URL:         it.Link,
		ImageURL:    image,
		Source:      feedTitle,
		Categories:  it.Categories,
		PublishedAt: published,
	}
	if err := item.Validate(); err != nil {
		return models.NewsItem{}, false
	}
	return item, true
}

func splitCategories(s, sep string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func matchesAny(categories []string, want map[string]bool) bool {
	for _, c := range categories {
		if want[strings.ToLower(strings.TrimSpace(c))] {
			return true
		}
	}
	return false
}
