package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/coinpulse/internal/aggregator"
	"github.com/rewired-gh/coinpulse/internal/storage"
	"github.com/rewired-gh/coinpulse/internal/upstream"
)

// Envelope wraps every API response.
type Envelope struct {
	Data    any    `json:"data"`
	IsStale bool   `json:"isStale"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Data: data})
}

func view[T any](c *gin.Context, v aggregator.View[T], err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Envelope{Data: v.Data, IsStale: v.IsStale, Error: v.Error})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Envelope{Error: msg})
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, Envelope{Error: msg})
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, storage.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, upstream.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, aggregator.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	if _, isUpstream := upstream.KindOf(err); isUpstream {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func viewerID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(ViewerHeader))
}

// requireViewer returns the viewer id, or aborts with 400 when absent.
func requireViewer(c *gin.Context) (string, bool) {
	id := viewerID(c)
	if id == "" {
		badRequest(c, "missing "+ViewerHeader+" header")
		return "", false
	}
	return id, true
}

// splitList parses comma-separated query values, accepting repeated keys.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
