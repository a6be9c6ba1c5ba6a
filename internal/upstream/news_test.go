package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCryptoCompareNews_FetchNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/v2/news/" {
			t.Errorf("Expected path /data/v2/news/, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("categories"); got != "BTC,REGULATION" {
			t.Errorf("Expected categories=BTC,REGULATION, got %s", got)
		}
		_, _ = w.Write([]byte(`{"Type":100,"Message":"News list successfully returned","Data":[
			{"id":"101","published_on":1700000000,"imageurl":"https://img/1.png","title":" ETF news ","url":"https://news/1","body":"b","categories":"BTC|Regulation","source_info":{"name":"CoinDesk"},"source":"coindesk"},
			{"id":102,"published_on":1700000100,"title":"Second","url":"https://news/2","categories":"","source":"decrypt"},
			{"id":"103","published_on":1700000200,"title":"","url":"https://news/3"}
		]}`))
	}))
	defer srv.Close()

	n := NewCryptoCompareNews(testClient(1), srv.URL, "")
	items, err := n.FetchNews(context.Background(), []string{"btc", "regulation"})
	if err != nil {
		t.Fatalf("FetchNews failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 valid items, got %d", len(items))
	}
	first := items[0]
	if first.ID != "101" || first.Title != "ETF news" || first.Source != "CoinDesk" {
		t.Errorf("Unexpected first item: %+v", first)
	}
	if len(first.Categories) != 2 || first.Categories[1] != "Regulation" {
		t.Errorf("Expected split categories, got %v", first.Categories)
	}
	if items[1].ID != "102" || items[1].Source != "decrypt" {
		t.Errorf("Expected numeric id and fallback source, got %+v", items[1])
	}
	if items[1].PublishedAt.Unix() != 1700000100 {
		t.Errorf("Expected unix publish time, got %v", items[1].PublishedAt)
	}
}

func TestCryptoCompareNews_RateLimitBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"Error","Message":"You are over your rate limit please upgrade your account!","Data":[]}`))
	}))
	defer srv.Close()

	n := NewCryptoCompareNews(testClient(1), srv.URL, "")
	_, err := n.FetchNews(context.Background(), nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected rate limited, got %v", err)
	}
}

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Chain Wire</title>
  <item>
    <title>Older BTC story</title>
    <link>https://wire/1</link>
    <guid>wire-1</guid>
    <category>BTC</category>
    <pubDate>Mon, 13 Nov 2023 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Newer ETH story</title>
    <link>https://wire/2</link>
    <category>ETH</category>
    <pubDate>Tue, 14 Nov 2023 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Undated</title>
    <link>https://wire/3</link>
  </item>
</channel>
</rss>`

func TestFeedNews_FetchNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	f := NewFeedNews(testClient(1), []string{srv.URL})
	items, err := f.FetchNews(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchNews failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 dated items, got %d", len(items))
	}
	if items[0].URL != "https://wire/2" {
		t.Errorf("Expected newest first, got %s", items[0].URL)
	}
	if items[0].ID != "https://wire/2" {
		t.Errorf("Expected link as fallback id, got %s", items[0].ID)
	}
	if items[1].ID != "wire-1" || items[1].Source != "Chain Wire" {
		t.Errorf("Unexpected item: %+v", items[1])
	}

	filtered, err := f.FetchNews(context.Background(), []string{"btc"})
	if err != nil {
		t.Fatalf("FetchNews with filter failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "wire-1" {
		t.Errorf("Expected only the BTC item, got %+v", filtered)
	}
}

func TestFeedNews_AllFeedsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFeedNews(testClient(1), []string{srv.URL, srv.URL + "/other"})
	_, err := f.FetchNews(context.Background(), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected unavailable, got %v", err)
	}
}
