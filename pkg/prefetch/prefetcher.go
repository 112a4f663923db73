package prefetch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	"github.com/m1k1o/go-hlsproxy/pkg/coalesce"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
)

type Config struct {
	Concurrency int64 // global bound of active prefetch fetches
	LiveCount   int   // how many leading segments of a live playlist to warm, negative disables
	VodCount    int   // how many leading segments of a VOD playlist to warm, negative disables

	LiveTTL time.Duration
	VodTTL  time.Duration

	// optional: called once per attempted url with its outcome
	OnResult func(outcome Outcome)
}

func (c Config) withDefaultValues() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.LiveCount == 0 {
		c.LiveCount = 3
	} else if c.LiveCount < 0 {
		c.LiveCount = 0
	}
	if c.VodCount == 0 {
		c.VodCount = 5
	} else if c.VodCount < 0 {
		c.VodCount = 0
	}
	if c.LiveTTL == 0 {
		c.LiveTTL = 5 * time.Second
	}
	if c.VodTTL == 0 {
		c.VodTTL = 30 * time.Second
	}
	return c
}

type Outcome string

const (
	OutcomeCached   Outcome = "cached"
	OutcomeInFlight Outcome = "in-flight"
	OutcomeDropped  Outcome = "dropped"
	OutcomeFetched  Outcome = "fetched"
	OutcomeFailed   Outcome = "failed"
)

type PrefetcherCtx struct {
	logger  zerolog.Logger
	config  Config
	store   cache.Store
	group   *coalesce.GroupCtx
	fetcher origin.Fetcher
	slots   *semaphore.Weighted
}

func New(store cache.Store, group *coalesce.GroupCtx, fetcher origin.Fetcher, config *Config) *PrefetcherCtx {
	cfg := config.withDefaultValues()

	return &PrefetcherCtx{
		logger:  log.With().Str("module", "prefetch").Str("submodule", "prefetcher").Logger(),
		config:  cfg,
		store:   store,
		group:   group,
		fetcher: fetcher,
		slots:   semaphore.NewWeighted(cfg.Concurrency),
	}
}

// Warm starts background fetches for the leading urls of a playlist and
// returns immediately. Urls that do not get a free slot are dropped.
func (p *PrefetcherCtx) Warm(urls []string, live bool) {
	count, ttl := p.config.VodCount, p.config.VodTTL
	if live {
		count, ttl = p.config.LiveCount, p.config.LiveTTL
	}

	if len(urls) > count {
		urls = urls[:count]
	}

	for _, u := range urls {
		key := cache.Key(u)
		logger := p.logger.With().Str("url", key).Bool("live", live).Logger()

		if p.store.Contains(key) {
			p.report(OutcomeCached)
			continue
		}

		if p.group.InFlight(key) {
			p.report(OutcomeInFlight)
			continue
		}

		if !p.slots.TryAcquire(1) {
			logger.Debug().Msg("prefetch dropped, concurrency limit reached")
			p.report(OutcomeDropped)
			continue
		}

		var (
			res *origin.Response
			err error
		)

		done, ok := p.group.TryDo(key, ttl, func(ctx context.Context) (*origin.Response, error) {
			res, err = p.fetcher.Fetch(ctx, key, nil)
			return res, err
		})
		if !ok {
			p.slots.Release(1)
			p.report(OutcomeInFlight)
			continue
		}

		go func() {
			<-done
			p.slots.Release(1)

			if err != nil || res == nil {
				logger.Warn().Err(err).Msg("prefetch failed")
				p.report(OutcomeFailed)
				return
			}

			if !res.OK() {
				logger.Warn().Int("status", res.StatusCode).Msg("prefetch returned unexpected status")
				p.report(OutcomeFailed)
				return
			}

			logger.Debug().Int("size", len(res.Body)).Msg("prefetch cached")
			p.report(OutcomeFetched)
		}()
	}
}

func (p *PrefetcherCtx) report(outcome Outcome) {
	if p.config.OnResult != nil {
		p.config.OnResult(outcome)
	}
}
