package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/coinpulse/internal/social"
)

type createIdeaRequest struct {
	Title string   `json:"title" binding:"required,max=200"`
	Body  string   `json:"body" binding:"max=10000"`
	Tags  []string `json:"tags" binding:"max=5"`
}

type retagRequest struct {
	Tags []string `json:"tags" binding:"max=5"`
}

type registerUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Image string `json:"image"`
}

type walletRequest struct {
	Address string `json:"address" binding:"required"`
}

func (s *Server) trendingIdeas(c *gin.Context) {
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	viewer := viewerID(c)
	if tag := c.Query("tag"); tag != "" {
		page, err := s.deps.Social.TrendingIdeasByTag(ctx, viewer, tag, offset, limit)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, page)
		return
	}
	page, err := s.deps.Social.TrendingIdeas(ctx, viewer, offset, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

func (s *Server) getIdea(c *gin.Context) {
	idea, err := s.deps.Social.GetIdea(c.Request.Context(), c.Param("id"), viewerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, idea)
}

func (s *Server) createIdea(c *gin.Context) {
	viewer, valid := requireViewer(c)
	if !valid {
		return
	}
	var req createIdeaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	idea, err := s.deps.Social.CreateIdea(c.Request.Context(), viewer, req.Title, req.Body, req.Tags)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, idea)
}

func (s *Server) deleteIdea(c *gin.Context) {
	viewer, valid := requireViewer(c)
	if !valid {
		return
	}
	if err := s.deps.Social.DeleteIdea(c.Request.Context(), c.Param("id"), viewer); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": c.Param("id"), "deleted": true})
}

func (s *Server) retagIdea(c *gin.Context) {
	viewer, valid := requireViewer(c)
	if !valid {
		return
	}
	var req retagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	idea, err := s.deps.Social.RetagIdea(c.Request.Context(), c.Param("id"), viewer, req.Tags)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, idea)
}

func (s *Server) like(c *gin.Context) {
	s.likeMutation(c, s.deps.Social.Like)
}

func (s *Server) unlike(c *gin.Context) {
	s.likeMutation(c, s.deps.Social.Unlike)
}

func (s *Server) toggleLike(c *gin.Context) {
	s.likeMutation(c, s.deps.Social.ToggleLike)
}

func (s *Server) likeMutation(c *gin.Context, mutate func(ctx context.Context, ideaID, viewerID string) (social.LikeResult, error)) {
	viewer, valid := requireViewer(c)
	if !valid {
		return
	}
	res, err := mutate(c.Request.Context(), c.Param("id"), viewer)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

func (s *Server) popularTags(c *gin.Context) {
	tags, err := s.deps.Social.PopularTags(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, tags)
}

func (s *Server) topContributors(c *gin.Context) {
	users, err := s.deps.Social.TopContributors(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, users)
}

func (s *Server) registerUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := s.deps.Social.RegisterUser(c.Request.Context(), req.Name, req.Image)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, user)
}

func (s *Server) linkWallet(c *gin.Context) {
	viewer, valid := requireViewer(c)
	if !valid {
		return
	}
	if viewer != c.Param("id") {
		c.AbortWithStatusJSON(http.StatusForbidden, Envelope{Error: "viewers may only link their own wallet"})
		return
	}
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := s.deps.Social.LinkWallet(c.Request.Context(), viewer, req.Address)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, user)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", key, raw)
	}
	return n, nil
}
