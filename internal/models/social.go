package models

import (
	"errors"
	"strings"
	"time"
)

// Field limits for user-generated content.
const (
	MaxIdeaTitleLength = 200
	MaxIdeaBodyLength  = 10000
	MaxTagNameLength   = 32
	MaxTagsPerIdea     = 5
)

// TradingIdea is a user-authored trading idea.
//
// LikeCount is denormalized and always equals the size of the idea's liked-by
// relation. LikedByViewer is derived per request for the requesting viewer and
// is never stored.
type TradingIdea struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
	LikeCount     int       `json:"like_count"`
	Tags          []Tag     `json:"tags"`
	LikedByViewer bool      `json:"liked_by_viewer"`
}

// Validate checks that all idea fields are valid
func (i *TradingIdea) Validate() error {
	if i.AuthorID == "" {
		return errors.New("author ID must not be empty")
	}
	if strings.TrimSpace(i.Title) == "" {
		return errors.New("idea title must not be empty")
	}
	if len(i.Title) > MaxIdeaTitleLength {
		return errors.New("idea title is too long")
	}
	if len(i.Body) > MaxIdeaBodyLength {
		return errors.New("idea body is too long")
	}
	if i.LikeCount < 0 {
		return errors.New("like count must not be negative")
	}
	if len(i.Tags) > MaxTagsPerIdea {
		return errors.New("too many tags")
	}
	return nil
}

// Tag labels ideas. UsageCount is denormalized: the number of ideas referencing it.
type Tag struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	UsageCount int    `json:"usage_count"`
}

// NormalizeTagName trims and lower-cases a tag name.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeTagNames normalizes names, dropping empties and duplicates while
// keeping first-seen order.
func NormalizeTagNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizeTagName(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ValidateTagName checks a normalized tag name.
func ValidateTagName(name string) error {
	if name == "" {
		return errors.New("tag name must not be empty")
	}
	if len(name) > MaxTagNameLength {
		return errors.New("tag name is too long")
	}
	if strings.ContainsAny(name, " \t\n,") {
		return errors.New("tag name must not contain whitespace or commas")
	}
	return nil
}

// User is a contributor. IdeasCount is denormalized: the number of authored ideas.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Image         string `json:"image,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	IdeasCount    int    `json:"ideas_count"`
}

// Validate checks that all user fields are valid
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("user name must not be empty")
	}
	if u.IdeasCount < 0 {
		return errors.New("ideas count must not be negative")
	}
	return nil
}
