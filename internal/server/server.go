// Package server exposes market views, trading ideas and display surface
// state over HTTP.
//
// Every response body is an envelope {data, isStale, error}. Market reads may
// be stale: they carry the last good value together with a message describing
// why it could not be refreshed. Social reads are never cached.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/coinpulse/internal/advisor"
	"github.com/rewired-gh/coinpulse/internal/aggregator"
	"github.com/rewired-gh/coinpulse/internal/logger"
	"github.com/rewired-gh/coinpulse/internal/models"
	"github.com/rewired-gh/coinpulse/internal/scheduler"
	"github.com/rewired-gh/coinpulse/internal/social"
)

// ViewerHeader carries the opaque id of the requesting viewer.
const ViewerHeader = "X-Viewer-ID"

// Market is the aggregated market read path.
type Market interface {
	Price(ctx context.Context, symbol string) (aggregator.View[models.MarketSnapshot], error)
	Trending(ctx context.Context) (aggregator.View[[]models.TrendingCoin], error)
	Volume(ctx context.Context, asset string) (aggregator.View[[]models.VolumePair], error)
	Dominance(ctx context.Context) (aggregator.View[[]models.DominanceEntry], error)
	News(ctx context.Context, categories []string) (aggregator.View[[]models.NewsItem], error)
	NewsFeed(ctx context.Context, categorySets ...[]string) (aggregator.View[[]models.NewsItem], error)
}

// Advisor generates advisory text for a snapshot.
type Advisor interface {
	Advise(ctx context.Context, snapshot models.MarketSnapshot, headlines []models.NewsItem) (*advisor.Advice, error)
}

// Surfaces reports display surface state.
type Surfaces interface {
	States() []scheduler.Status
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API. Advisor and Surfaces may be nil.
type Deps struct {
	Market   Market
	Social   *social.Service
	Advisor  Advisor
	Surfaces Surfaces
	Store    Pinger
}

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	cfg        Config
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
}

// New creates a server with all routes registered.
func New(cfg Config, deps Deps) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	s := &Server{cfg: cfg, deps: deps, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.health)

	api := s.router.Group("/api/v1")
	{
		market := api.Group("/market")
		market.GET("/price/:symbol", s.price)
		market.GET("/trending", s.trending)
		market.GET("/volume/:asset", s.volume)
		market.GET("/dominance", s.dominance)

		api.GET("/news", s.news)
		api.GET("/news/feed", s.newsFeed)

		api.GET("/ideas/trending", s.trendingIdeas)
		api.GET("/ideas/:id", s.getIdea)
		api.POST("/ideas", s.createIdea)
		api.DELETE("/ideas/:id", s.deleteIdea)
		api.PUT("/ideas/:id/tags", s.retagIdea)
		api.POST("/ideas/:id/like", s.like)
		api.DELETE("/ideas/:id/like", s.unlike)
		api.POST("/ideas/:id/like/toggle", s.toggleLike)

		api.GET("/tags/popular", s.popularTags)
		api.GET("/users/top", s.topContributors)
		api.POST("/users", s.registerUser)
		api.PUT("/users/:id/wallet", s.linkWallet)

		api.GET("/advice/:symbol", s.advice)
		api.GET("/surfaces", s.surfaces)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	logger.Info("HTTP server listening on %s", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) surfaces(c *gin.Context) {
	if s.deps.Surfaces == nil {
		ok(c, http.StatusOK, []scheduler.Status{})
		return
	}
	ok(c, http.StatusOK, s.deps.Surfaces.States())
}

// requestLogger logs one line per request through the application logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		switch {
		case status >= 500:
			logger.Error("%s %s %d %v %s", c.Request.Method, c.Request.URL.Path, status, latency, c.Errors.String())
		case status >= 400:
			logger.Warn("%s %s %d %v", c.Request.Method, c.Request.URL.Path, status, latency)
		default:
			logger.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, status, latency)
		}
	}
}
