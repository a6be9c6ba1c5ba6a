package main

import (
	"context"
	"fmt"

	"github.com/rewired-gh/coinpulse/internal/aggregator"
	"github.com/rewired-gh/coinpulse/internal/config"
	"github.com/rewired-gh/coinpulse/internal/models"
	"github.com/rewired-gh/coinpulse/internal/scheduler"
	"github.com/rewired-gh/coinpulse/internal/social"
)

// buildSurface turns a configured surface into a scheduler runner reading
// from the aggregator for market kinds and from the social service for
// ranking kinds.
func buildSurface(cfg *config.Config, sc config.SurfaceConfig, agg *aggregator.Aggregator, svc *social.Service, notifier scheduler.Notifier) (scheduler.Runner, error) {
	sched := scheduler.Config{
		Interval:   cfg.SurfaceInterval(sc),
		MaxBackoff: cfg.Scheduler.MaxBackoff,
		Timeout:    cfg.Scheduler.Timeout,
	}

	switch sc.Kind {
	case config.SurfacePrice:
		return viewSurface(sc.Name, sched, notifier, func(ctx context.Context) (aggregator.View[models.MarketSnapshot], error) {
			return agg.Price(ctx, sc.Param)
		})
	case config.SurfaceTrending:
		return viewSurface(sc.Name, sched, notifier, agg.Trending)
	case config.SurfaceVolume:
		return viewSurface(sc.Name, sched, notifier, func(ctx context.Context) (aggregator.View[[]models.VolumePair], error) {
			return agg.Volume(ctx, sc.Param)
		})
	case config.SurfaceDominance:
		return viewSurface(sc.Name, sched, notifier, agg.Dominance)
	case config.SurfaceNews:
		return viewSurface(sc.Name, sched, notifier, func(ctx context.Context) (aggregator.View[[]models.NewsItem], error) {
			return agg.News(ctx, sc.Categories)
		})
	case config.SurfacePopularTags:
		return rankingSurface(sc.Name, sched, notifier, svc.PopularTags)
	case config.SurfaceTopContributors:
		return rankingSurface(sc.Name, sched, notifier, svc.TopContributors)
	case config.SurfaceTrendingIdeas:
		return rankingSurface(sc.Name, sched, notifier, func(ctx context.Context) (social.Page[models.TradingIdea], error) {
			if sc.Param != "" {
				return svc.TrendingIdeasByTag(ctx, "", sc.Param, 0, social.DefaultPageSize)
			}
			return svc.TrendingIdeas(ctx, "", 0, social.DefaultPageSize)
		})
	default:
		return nil, fmt.Errorf("unknown surface kind %q", sc.Kind)
	}
}

// viewSurface polls an aggregator view. A stale view is a successful poll:
// the surface shows the data together with the view's message.
func viewSurface[T any](name string, cfg scheduler.Config, notifier scheduler.Notifier, read func(ctx context.Context) (aggregator.View[T], error)) (scheduler.Runner, error) {
	return newRunner(name, cfg, notifier, func(ctx context.Context) (scheduler.Update[T], error) {
		v, err := read(ctx)
		if err != nil {
			return scheduler.Update[T]{}, err
		}
		return scheduler.Update[T]{Data: v.Data, Stale: v.IsStale, Message: v.Error}, nil
	})
}

// rankingSurface polls a social ranking. Social reads go straight to the
// store, so a successful poll is never stale.
func rankingSurface[T any](name string, cfg scheduler.Config, notifier scheduler.Notifier, read func(ctx context.Context) (T, error)) (scheduler.Runner, error) {
	return newRunner(name, cfg, notifier, func(ctx context.Context) (scheduler.Update[T], error) {
		data, err := read(ctx)
		if err != nil {
			return scheduler.Update[T]{}, err
		}
		return scheduler.Update[T]{Data: data}, nil
	})
}

func newRunner[T any](name string, cfg scheduler.Config, notifier scheduler.Notifier, fetch scheduler.FetchFunc[T]) (scheduler.Runner, error) {
	s, err := scheduler.NewSurface(name, cfg, fetch, notifier)
	if err != nil {
		return nil, err
	}
	return s, nil
}
