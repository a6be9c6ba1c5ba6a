// Package social serves trading ideas, tags and contributors: reads are ranked
// either in the store or in memory, and mutations go straight to the store so
// every caller reads its own writes.
package social

import (
	"context"
	"fmt"

	"github.com/rewired-gh/coinpulse/internal/logger"
	"github.com/rewired-gh/coinpulse/internal/models"
	"github.com/rewired-gh/coinpulse/internal/ranking"
	"github.com/rewired-gh/coinpulse/internal/storage"
)

// Store is the subset of the persistent store the service needs.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	SetWalletAddress(ctx context.Context, userID, address string) (*models.User, error)

	CreateIdea(ctx context.Context, authorID, title, body string, tagNames []string) (*models.TradingIdea, error)
	DeleteIdea(ctx context.Context, ideaID, requesterID string) error
	RetagIdea(ctx context.Context, ideaID, requesterID string, tagNames []string) (*models.TradingIdea, error)
	GetIdea(ctx context.Context, ideaID, viewerID string) (*models.TradingIdea, error)
	ListIdeas(ctx context.Context, opts storage.ListOptions) ([]models.TradingIdea, error)
	CountIdeas(ctx context.Context, opts storage.ListOptions) (int, error)

	LikeIdea(ctx context.Context, ideaID, userID string) (int, error)
	UnlikeIdea(ctx context.Context, ideaID, userID string) (int, error)
	ToggleLike(ctx context.Context, ideaID, userID string) (bool, int, error)

	ListTags(ctx context.Context, minUsage int) ([]models.Tag, error)
	ListUsers(ctx context.Context, minIdeas int) ([]models.User, error)
}

// Page is one page of a ranked list.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// LikeResult is the outcome of a like mutation.
type LikeResult struct {
	IdeaID    string `json:"idea_id"`
	Liked     bool   `json:"liked"`
	LikeCount int    `json:"like_count"`
}

// Default and maximum page sizes.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service implements the social read and write paths.
type Service struct {
	store Store
}

// New creates a Service over store.
func New(store Store) *Service {
	return &Service{store: store}
}

// TrendingIdeas returns a page of ideas in trending order, ranked by the store.
func (s *Service) TrendingIdeas(ctx context.Context, viewerID string, offset, limit int) (Page[models.TradingIdea], error) {
	offset, limit = clampPage(offset, limit)
	total, err := s.store.CountIdeas(ctx, storage.ListOptions{})
	if err != nil {
		return Page[models.TradingIdea]{}, fmt.Errorf("failed to count ideas: %w", err)
	}
	ideas, err := s.store.ListIdeas(ctx, storage.ListOptions{
		ViewerID: viewerID,
		OrderBy:  storage.OrderLikes,
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		return Page[models.TradingIdea]{}, fmt.Errorf("failed to list trending ideas: %w", err)
	}
	return Page[models.TradingIdea]{Items: ideas, Total: total, Offset: offset, Limit: limit}, nil
}

// TrendingIdeasByTag returns a page of the ideas carrying tag in trending
// order, ranked in memory.
func (s *Service) TrendingIdeasByTag(ctx context.Context, viewerID, tag string, offset, limit int) (Page[models.TradingIdea], error) {
	offset, limit = clampPage(offset, limit)
	ideas, err := s.store.ListIdeas(ctx, storage.ListOptions{ViewerID: viewerID, Tag: tag})
	if err != nil {
		return Page[models.TradingIdea]{}, fmt.Errorf("failed to list ideas for tag %q: %w", tag, err)
	}
	ranked := ranking.TrendingIdeas(ideas)
	return Page[models.TradingIdea]{
		Items:  ranking.Page(ranked, offset, limit),
		Total:  len(ranked),
		Offset: offset,
		Limit:  limit,
	}, nil
}

// PopularTags returns the most used tags.
func (s *Service) PopularTags(ctx context.Context) ([]models.Tag, error) {
	tags, err := s.store.ListTags(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return ranking.PopularTags(tags), nil
}

// TopContributors returns the users with the most ideas.
func (s *Service) TopContributors(ctx context.Context) ([]models.User, error) {
	users, err := s.store.ListUsers(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ranking.TopContributors(users), nil
}

// GetIdea returns one idea as seen by viewerID.
func (s *Service) GetIdea(ctx context.Context, ideaID, viewerID string) (*models.TradingIdea, error) {
	return s.store.GetIdea(ctx, ideaID, viewerID)
}

// RegisterUser creates a user.
func (s *Service) RegisterUser(ctx context.Context, name, image string) (*models.User, error) {
	u := &models.User{Name: name, Image: image}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	logger.Info("Registered user %s", u.ID)
	return u, nil
}

// LinkWallet attaches a wallet address to a user once.
func (s *Service) LinkWallet(ctx context.Context, userID, address string) (*models.User, error) {
	return s.store.SetWalletAddress(ctx, userID, address)
}

// CreateIdea publishes an idea authored by authorID.
func (s *Service) CreateIdea(ctx context.Context, authorID, title, body string, tags []string) (*models.TradingIdea, error) {
	idea, err := s.store.CreateIdea(ctx, authorID, title, body, tags)
	if err != nil {
		return nil, err
	}
	logger.Debug("User %s created idea %s with %d tags", authorID, idea.ID, len(idea.Tags))
	return idea, nil
}

// DeleteIdea removes an idea. Only its author may delete it.
func (s *Service) DeleteIdea(ctx context.Context, ideaID, requesterID string) error {
	if err := s.store.DeleteIdea(ctx, ideaID, requesterID); err != nil {
		return err
	}
	logger.Debug("User %s deleted idea %s", requesterID, ideaID)
	return nil
}

// RetagIdea replaces an idea's tags. Only its author may retag it.
func (s *Service) RetagIdea(ctx context.Context, ideaID, requesterID string, tags []string) (*models.TradingIdea, error) {
	return s.store.RetagIdea(ctx, ideaID, requesterID, tags)
}

// Like records viewerID's like of ideaID.
func (s *Service) Like(ctx context.Context, ideaID, viewerID string) (LikeResult, error) {
	n, err := s.store.LikeIdea(ctx, ideaID, viewerID)
	if err != nil {
		return LikeResult{}, err
	}
	return LikeResult{IdeaID: ideaID, Liked: true, LikeCount: n}, nil
}

// Unlike removes viewerID's like of ideaID.
func (s *Service) Unlike(ctx context.Context, ideaID, viewerID string) (LikeResult, error) {
	n, err := s.store.UnlikeIdea(ctx, ideaID, viewerID)
	if err != nil {
		return LikeResult{}, err
	}
	return LikeResult{IdeaID: ideaID, Liked: false, LikeCount: n}, nil
}

// ToggleLike flips viewerID's like of ideaID.
func (s *Service) ToggleLike(ctx context.Context, ideaID, viewerID string) (LikeResult, error) {
	liked, n, err := s.store.ToggleLike(ctx, ideaID, viewerID)
	if err != nil {
		return LikeResult{}, err
	}
	return LikeResult{IdeaID: ideaID, Liked: liked, LikeCount: n}, nil
}

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return offset, limit
}
