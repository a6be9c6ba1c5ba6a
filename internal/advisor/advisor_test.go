package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/rewired-gh/coinpulse/internal/models"
	"github.com/rewired-gh/coinpulse/internal/upstream"
)

type fakeGenerator struct {
	reply string
	err   error
	block bool
	input []*schema.Message
}

func (f *fakeGenerator) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{Role: schema.Assistant, Content: f.reply}, nil
}

func snapshot() models.MarketSnapshot {
	return models.MarketSnapshot{Symbol: "BTC", Price: 64000, Change24h: 2.5, Volume24h: 3e10, CapturedAt: time.Now()}
}

func TestAdvise(t *testing.T) {
	gen := &fakeGenerator{reply: "  BTC is grinding higher on ETF inflows.  "}
	a := New(gen, Config{Model: "gpt-test", MaxHeadlines: 1})

	headlines := []models.NewsItem{
		{ID: "1", Title: "ETF inflows hit record", PublishedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", Title: "Second headline", PublishedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	advice, err := a.Advise(context.Background(), snapshot(), headlines)
	if err != nil {
		t.Fatalf("Advise failed: %v", err)
	}
	if advice.Text != "BTC is grinding higher on ETF inflows." || advice.Model != "gpt-test" || advice.Symbol != "BTC" {
		t.Errorf("unexpected advice: %+v", advice)
	}

	if len(gen.input) != 2 || gen.input[0].Role != schema.System {
		t.Fatalf("unexpected messages: %+v", gen.input)
	}
	prompt := gen.input[1].Content
	if !strings.Contains(prompt, "ETF inflows hit record") || strings.Contains(prompt, "Second headline") {
		t.Errorf("expected only the first headline in prompt, got:\n%s", prompt)
	}
}

func TestAdviseErrors(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
		want error
	}{
		{"empty completion", &fakeGenerator{reply: "  "}, upstream.ErrInvalidResponse},
		{"rate limited", &fakeGenerator{err: errors.New("error, status code: 429, message: Rate limit reached")}, upstream.ErrRateLimited},
		{"transport", &fakeGenerator{err: errors.New("connection reset by peer")}, upstream.ErrUnavailable},
		{"timeout", &fakeGenerator{block: true}, upstream.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.gen, Config{Timeout: 20 * time.Millisecond})
			_, err := a.Advise(context.Background(), snapshot(), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAdviseRejectsInvalidSnapshot(t *testing.T) {
	a := New(&fakeGenerator{reply: "x"}, Config{})
	if _, err := a.Advise(context.Background(), models.MarketSnapshot{}, nil); err == nil {
		t.Error("expected error for invalid snapshot")
	}
}
