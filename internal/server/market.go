package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/coinpulse/internal/logger"
	"github.com/rewired-gh/coinpulse/internal/models"
)

func (s *Server) price(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		badRequest(c, "symbol is required")
		return
	}
	v, err := s.deps.Market.Price(c.Request.Context(), symbol)
	view(c, v, err)
}

func (s *Server) trending(c *gin.Context) {
	v, err := s.deps.Market.Trending(c.Request.Context())
	view(c, v, err)
}

func (s *Server) volume(c *gin.Context) {
	asset := strings.TrimSpace(c.Param("asset"))
	if asset == "" {
		badRequest(c, "asset is required")
		return
	}
	v, err := s.deps.Market.Volume(c.Request.Context(), asset)
	view(c, v, err)
}

func (s *Server) dominance(c *gin.Context) {
	v, err := s.deps.Market.Dominance(c.Request.Context())
	view(c, v, err)
}

// news serves one category filter: ?categories=btc,regulation
func (s *Server) news(c *gin.Context) {
	v, err := s.deps.Market.News(c.Request.Context(), splitList(c.QueryArray("categories")))
	view(c, v, err)
}

// newsFeed merges several filters, one per set parameter: ?set=btc,eth&set=regulation
func (s *Server) newsFeed(c *gin.Context) {
	sets := c.QueryArray("set")
	categorySets := make([][]string, 0, len(sets))
	for _, set := range sets {
		categorySets = append(categorySets, splitList([]string{set}))
	}
	v, err := s.deps.Market.NewsFeed(c.Request.Context(), categorySets...)
	view(c, v, err)
}

func (s *Server) advice(c *gin.Context) {
	if s.deps.Advisor == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, Envelope{Error: "advisor is disabled"})
		return
	}
	ctx := c.Request.Context()

	price, err := s.deps.Market.Price(ctx, c.Param("symbol"))
	if err != nil {
		fail(c, err)
		return
	}

	// Headlines are optional context; advice is still produced without them.
	var headlines []models.NewsItem
	if news, err := s.deps.Market.News(ctx, []string{price.Data.Symbol}); err != nil {
		logger.Debug("No headlines for %s advice: %v", price.Data.Symbol, err)
	} else {
		headlines = news.Data
	}

	advice, err := s.deps.Advisor.Advise(ctx, price.Data, headlines)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Envelope{Data: advice, IsStale: price.IsStale, Error: price.Error})
}
