package stats

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type cacheCounts struct {
	lookups int64
	hits    int64
}

func (c cacheCounts) rate() string {
	if c.lookups == 0 {
		return "0%"
	}
	return strconv.FormatInt((c.hits*100+c.lookups/2)/c.lookups, 10) + "%"
}

type StatsCtx struct {
	logger zerolog.Logger
	config Config

	mu       sync.Mutex
	requests map[Kind]int64
	times    ResponseTimes
	cache    map[Kind]*cacheCounts
	last     []Request

	registry  *prometheus.Registry
	reqTotal  *prometheus.CounterVec
	reqTime   *prometheus.HistogramVec
	prefetch  *prometheus.CounterVec
	evictions *prometheus.CounterVec
}

func New(config *Config) *StatsCtx {
	cfg := config.withDefaultValues()
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	s := &StatsCtx{
		logger:   log.With().Str("module", "stats").Logger(),
		config:   cfg,
		requests: map[Kind]int64{},
		cache: map[Kind]*cacheCounts{
			KindSegment: {},
			KindKey:     {},
		},
		last:     make([]Request, 0, cfg.History),
		registry: registry,

		reqTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Total number of proxied requests",
		}, []string{"kind", "cache_status", "code"}),

		reqTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		prefetch: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "prefetch_total",
			Help:      "Prefetch attempts by outcome",
		}, []string{"outcome"}),

		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed by store and reason",
		}, []string{"store", "reason"}),
	}

	gauge := func(name, help string, sizer Sizer) {
		if sizer == nil {
			return
		}
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(sizer.Len()) })
	}

	gauge("segment_cache_entries", "Entries in the segment cache", cfg.SegmentCache)
	gauge("key_cache_entries", "Entries in the key cache", cfg.KeyCache)
	gauge("segment_fetches_in_flight", "Segment origin fetches in flight", cfg.SegmentInFlight)
	gauge("key_fetches_in_flight", "Key origin fetches in flight", cfg.KeyInFlight)

	return s
}

// Middleware records every request once its response has been written.
func (s *StatsCtx) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		target := r.URL.Query().Get("target")
		if target == "" {
			target = "N/A"
		}

		s.Observe(Request{
			Time:        start,
			Method:      r.Method,
			IP:          r.RemoteAddr,
			Path:        r.URL.RequestURI(),
			Target:      target,
			Status:      status,
			CacheStatus: ww.Header().Get(CacheStatusHeader),
		}, Classify(r), time.Since(start))
	})
}

func (s *StatsCtx) Observe(req Request, kind Kind, elapsed time.Duration) {
	req.Duration = elapsed.Milliseconds()

	s.mu.Lock()
	s.requests[kind]++

	switch kind {
	case KindSegment:
		s.times.TS.add(elapsed)
	case KindKey:
		s.times.Key.add(elapsed)
	case KindPlaylist:
		s.times.M3U8.add(elapsed)
	}

	if counts, ok := s.cache[kind]; ok && req.CacheStatus != "" {
		counts.lookups++
		if req.CacheStatus == CacheHit {
			counts.hits++
		}
	}

	// newest first
	if len(s.last) < s.config.History {
		s.last = append(s.last, Request{})
	}
	copy(s.last[1:], s.last)
	s.last[0] = req
	s.mu.Unlock()

	s.reqTotal.WithLabelValues(string(kind), req.CacheStatus, strconv.Itoa(req.Status)).Inc()
	s.reqTime.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// Prefetch counts one prefetch attempt by its outcome.
func (s *StatsCtx) Prefetch(outcome string) {
	s.prefetch.WithLabelValues(outcome).Inc()
}

// Eviction matches the cache store eviction callback.
func (s *StatsCtx) Eviction(store, key, reason string) {
	s.logger.Debug().Str("store", store).Str("key", key).Str("reason", reason).Msg("cache entry evicted")
	s.evictions.WithLabelValues(store, reason).Inc()
}

func (s *StatsCtx) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		TotalRequests: s.requests[KindPlaylist] + s.requests[KindSegment] + s.requests[KindKey] + s.requests[KindOther],
		M3U8Requests:  s.requests[KindPlaylist],
		TSRequests:    s.requests[KindSegment],
		KeyRequests:   s.requests[KindKey],
		OtherRequests: s.requests[KindOther],
		LastRequests:  append([]Request{}, s.last...),
		ResponseTimes: s.times,
		CacheHitRate: HitRates{
			TS:  s.cache[KindSegment].rate(),
			Key: s.cache[KindKey].rate(),
		},
	}
	s.mu.Unlock()

	snap.CacheSize = size(s.config.SegmentCache)
	snap.KeyCacheSize = size(s.config.KeyCache)
	snap.FetchingCount = size(s.config.SegmentInFlight)
	snap.KeyFetchingCount = size(s.config.KeyInFlight)
	return snap
}

func (s *StatsCtx) ServeStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write stats")
	}
}

func (s *StatsCtx) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func size(sizer Sizer) int {
	if sizer == nil {
		return 0
	}
	return sizer.Len()
}
