package hlsproxy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	"github.com/m1k1o/go-hlsproxy/pkg/coalesce"
	"github.com/m1k1o/go-hlsproxy/pkg/hlsproxy"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
	"github.com/m1k1o/go-hlsproxy/pkg/prefetch"
	"github.com/m1k1o/go-hlsproxy/pkg/stats"
)

// ModuleCtx owns one cache store and one in-flight registry per resource
// class for the whole process.
type ModuleCtx struct {
	logger zerolog.Logger
	config Config

	segments     *cache.StoreCtx
	keys         *cache.StoreCtx
	segmentGroup *coalesce.GroupCtx
	keyGroup     *coalesce.GroupCtx

	fetcher    *origin.FetcherCtx
	prefetcher *prefetch.PrefetcherCtx
	stats      *stats.StatsCtx
	manager    hlsproxy.Manager
}

func New(config *Config) *ModuleCtx {
	cfg := config.withDefaultValues()

	m := &ModuleCtx{
		logger: log.With().Str("module", "hlsproxy").Logger(),
		config: cfg,
	}

	onEvict := func(name, key, reason string) {
		m.stats.Eviction(name, key, reason)
	}

	segmentsConfig := cfg.Segments
	segmentsConfig.OnEvict = onEvict
	m.segments = cache.New(&segmentsConfig)

	keysConfig := cfg.Keys
	keysConfig.OnEvict = onEvict
	m.keys = cache.New(&keysConfig)

	m.segmentGroup = coalesce.New(m.segments, &coalesce.Config{
		Name:        segmentsConfig.Name,
		WaitTimeout: cfg.WaitTimeout,
	})
	m.keyGroup = coalesce.New(m.keys, &coalesce.Config{
		Name:        keysConfig.Name,
		WaitTimeout: cfg.WaitTimeout,
	})

	statsConfig := cfg.Stats
	statsConfig.SegmentCache = m.segments
	statsConfig.KeyCache = m.keys
	statsConfig.SegmentInFlight = m.segmentGroup
	statsConfig.KeyInFlight = m.keyGroup
	m.stats = stats.New(&statsConfig)

	m.fetcher = origin.New(&cfg.Fetch)

	prefetchConfig := cfg.Prefetch
	prefetchConfig.OnResult = func(outcome prefetch.Outcome) {
		m.stats.Prefetch(string(outcome))
	}
	m.prefetcher = prefetch.New(m.segments, m.segmentGroup, m.fetcher, &prefetchConfig)

	m.manager = hlsproxy.New(m.fetcher,
		hlsproxy.Resource{Store: m.segments, Group: m.segmentGroup},
		hlsproxy.Resource{Store: m.keys, Group: m.keyGroup},
		m.prefetcher,
		&cfg.Config,
	)

	return m
}

func (m *ModuleCtx) Start() {
	m.segments.Start()
	m.keys.Start()

	m.logger.Info().
		Uint64("ts-capacity", m.config.Segments.Capacity).
		Uint64("key-capacity", m.config.Keys.Capacity).
		Dur("wait-timeout", m.config.WaitTimeout).
		Msg("hls proxy started")
}

func (m *ModuleCtx) Shutdown() {
	m.manager.Shutdown()
	m.segments.Shutdown()
	m.keys.Shutdown()
}

func (m *ModuleCtx) Route(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(m.stats.Middleware)

		r.Get("/", m.manager.ServePlaylist)
		r.Get("/ts", m.manager.ServeSegment)
		r.Get("/key", m.manager.ServeKey)
		r.Delete("/cache", m.manager.ClearCache)
		r.Get("/stats", m.stats.ServeStats)
	})

	r.Method(http.MethodGet, "/metrics", m.stats.MetricsHandler())
}
