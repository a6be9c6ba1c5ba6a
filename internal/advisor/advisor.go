// Package advisor produces short advisory text for a market snapshot by
// calling an OpenAI-compatible chat model. The call is treated like any other
// upstream: bounded by a timeout, throttled by a rate limiter, and failing
// with upstream error kinds.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/coinpulse/internal/logger"
	"github.com/rewired-gh/coinpulse/internal/models"
	"github.com/rewired-gh/coinpulse/internal/upstream"
)

const source = "advisor"

// Generator is the chat model call the advisor depends on.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Config holds advisor settings.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
	MaxHeadlines      int
	MaxTokens         int
	Temperature       float32
}

// Advice is one piece of generated advisory text.
type Advice struct {
	Symbol      string    `json:"symbol"`
	Text        string    `json:"text"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Advisor generates advisory text.
type Advisor struct {
	gen     Generator
	cfg     Config
	limiter *rate.Limiter
}

// NewOpenAI builds an Advisor backed by an OpenAI-compatible chat model.
func NewOpenAI(ctx context.Context, cfg Config) (*Advisor, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return New(chatModel, cfg), nil
}

// New builds an Advisor over gen.
func New(gen Generator, cfg Config) *Advisor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxHeadlines <= 0 {
		cfg.MaxHeadlines = 5
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	return &Advisor{gen: gen, cfg: cfg, limiter: rate.NewLimiter(limit, 1)}
}

// Advise returns advisory text for snapshot, given recent headlines.
func (a *Advisor) Advise(ctx context.Context, snapshot models.MarketSnapshot, headlines []models.NewsItem) (*Advice, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &upstream.Error{Source: source, Kind: upstream.Timeout, Err: err}
	}

	var opts []model.Option
	if a.cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(a.cfg.MaxTokens))
	}
	if a.cfg.Temperature > 0 {
		opts = append(opts, model.WithTemperature(a.cfg.Temperature))
	}

	start := time.Now()
	resp, err := a.gen.Generate(ctx, buildMessages(snapshot, headlines, a.cfg.MaxHeadlines), opts...)
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, &upstream.Error{Source: source, Kind: upstream.InvalidResponse, Err: errors.New("empty completion")}
	}
	logger.Debug("Generated advice for %s in %v", snapshot.Symbol, time.Since(start))

	return &Advice{
		Symbol:      snapshot.Symbol,
		Text:        strings.TrimSpace(resp.Content),
		Model:       a.cfg.Model,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func buildMessages(snapshot models.MarketSnapshot, headlines []models.NewsItem, maxHeadlines int) []*schema.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Asset: %s\nPrice: %.6g USD\n24h change: %.2f%%\n24h volume: %.0f USD\n",
		snapshot.Symbol, snapshot.Price, snapshot.Change24h, snapshot.Volume24h)
	if len(headlines) > 0 {
		sb.WriteString("\nRecent headlines:\n")
		for i, h := range headlines {
			if i == maxHeadlines {
				break
			}
			fmt.Fprintf(&sb, "- %s (%s)\n", h.Title, h.PublishedAt.UTC().Format(time.DateOnly))
		}
	}

	return []*schema.Message{
		{Role: schema.System, Content: "You write a two-sentence market note. No financial advice disclaimers, no lists."},
		{Role: schema.User, Content: sb.String()},
	}
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &upstream.Error{Source: source, Kind: upstream.Timeout, Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return &upstream.Error{Source: source, Kind: upstream.RateLimited, Err: err}
	}
	return upstream.Wrap(source, err)
}
