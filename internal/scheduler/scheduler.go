// Package scheduler drives display surfaces: each surface polls one data
// source on its own timer, keeps the last good data on screen through
// failures, and backs off exponentially while its source keeps failing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/coinpulse/internal/logger"
)

// Update is the result of one successful poll.
type Update[T any] struct {
	Data    T
	Stale   bool
	Message string
}

// FetchFunc performs one poll. It must honor ctx cancellation.
type FetchFunc[T any] func(ctx context.Context) (Update[T], error)

// Notifier is told when a surface starts failing and when it recovers.
type Notifier interface {
	SurfaceFailed(name string, err error) error
	SurfaceRecovered(name string, failures int) error
}

// Config controls polling cadence.
type Config struct {
	Interval   time.Duration
	MaxBackoff time.Duration
	// Timeout bounds a single poll. Zero means no bound beyond Stop.
	Timeout time.Duration
}

// State is what a surface currently displays.
type State[T any] struct {
	Data    T
	HasData bool
	Stale   bool
	Message string

	// Failing is set while the most recent poll failed.
	Failing             bool
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastAttempt         time.Time
	NextPoll            time.Time
	Running             bool
}

// Surface polls a single source and holds its displayed state.
type Surface[T any] struct {
	name     string
	fetch    FetchFunc[T]
	cfg      Config
	notifier Notifier

	mu     sync.Mutex
	state  State[T]
	gen    uint64
	cancel context.CancelFunc
}

// NewSurface creates a stopped surface. notifier may be nil.
func NewSurface[T any](name string, cfg Config, fetch FetchFunc[T], notifier Notifier) (*Surface[T], error) {
	if name == "" {
		return nil, errors.New("surface name must not be empty")
	}
	if fetch == nil {
		return nil, fmt.Errorf("surface %s: fetch function is required", name)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("surface %s: interval must be positive", name)
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	return &Surface[T]{name: name, fetch: fetch, cfg: cfg, notifier: notifier}, nil
}

// Name returns the surface name.
func (s *Surface[T]) Name() string {
	return s.name
}

// Start begins polling, with the first poll issued immediately. Starting a
// running surface does nothing.
func (s *Surface[T]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.gen++
	s.cancel = cancel
	s.state.Running = true
	go s.loop(ctx, s.gen)
	logger.Debug("Surface %s started (interval: %v, max_backoff: %v)", s.name, s.cfg.Interval, s.cfg.MaxBackoff)
}

// Stop cancels any in-flight poll and stops the timer. Results of polls
// already in flight are discarded. Stopping a stopped surface does nothing.
func (s *Surface[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.gen++
	s.state.Running = false
	s.state.NextPoll = time.Time{}
	logger.Debug("Surface %s stopped", s.name)
}

// State returns a copy of the displayed state.
func (s *Surface[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the displayed state in type-erased form.
func (s *Surface[T]) Status() Status {
	st := s.State()
	status := Status{
		Name:                s.name,
		IsStale:             st.Stale,
		Message:             st.Message,
		Failing:             st.Failing,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastSuccess:         st.LastSuccess,
		LastAttempt:         st.LastAttempt,
		NextPoll:            st.NextPoll,
		Running:             st.Running,
	}
	if st.HasData {
		status.Data = st.Data
	}
	return status
}

func (s *Surface[T]) loop(ctx context.Context, gen uint64) {
	for {
		delay, ok := s.poll(ctx, gen)
		if !ok {
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// poll runs one fetch and applies its result. It reports false when the
// surface was stopped while the fetch was in flight.
func (s *Surface[T]) poll(ctx context.Context, gen uint64) (time.Duration, bool) {
	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	update, err := s.fetch(callCtx)

	s.mu.Lock()
	if s.gen != gen || ctx.Err() != nil {
		s.mu.Unlock()
		logger.Debug("Surface %s discarded a result that arrived after stop", s.name)
		return 0, false
	}

	s.state.LastAttempt = started
	var delay time.Duration
	var failedFirst bool
	var recoveredAfter int
	if err != nil {
		s.state.Failing = true
		s.state.Message = err.Error()
		s.state.ConsecutiveFailures++
		failedFirst = s.state.ConsecutiveFailures == 1
		delay = Backoff(s.cfg.Interval, s.cfg.MaxBackoff, s.state.ConsecutiveFailures)
	} else {
		recoveredAfter = s.state.ConsecutiveFailures
		s.state.Data = update.Data
		s.state.HasData = true
		s.state.Stale = update.Stale
		s.state.Message = update.Message
		s.state.Failing = false
		s.state.ConsecutiveFailures = 0
		s.state.LastSuccess = time.Now()
		delay = s.cfg.Interval
	}
	s.state.NextPoll = time.Now().Add(delay)
	failures := s.state.ConsecutiveFailures
	s.mu.Unlock()

	if err != nil {
		logger.Warn("Surface %s poll failed (%d consecutive, next in %v): %v", s.name, failures, delay, err)
		if failedFirst && s.notifier != nil {
			if sendErr := s.notifier.SurfaceFailed(s.name, err); sendErr != nil {
				logger.Warn("Failed to send failure notification for surface %s: %v", s.name, sendErr)
			}
		}
	} else if recoveredAfter > 0 {
		logger.Info("Surface %s recovered after %d failures", s.name, recoveredAfter)
		if s.notifier != nil {
			if sendErr := s.notifier.SurfaceRecovered(s.name, recoveredAfter); sendErr != nil {
				logger.Warn("Failed to send recovery notification for surface %s: %v", s.name, sendErr)
			}
		}
	}
	return delay, true
}

// Backoff returns interval × 2^failures, capped at maxBackoff.
func Backoff(interval, maxBackoff time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return interval
	}
	d := interval
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff || d <= 0 {
			return maxBackoff
		}
	}
	return d
}
