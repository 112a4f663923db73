package cache

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type StoreCtx struct {
	logger zerolog.Logger
	config Config
	cache  *ttlcache.Cache[string, *Entry]

	running   bool
	runningMu sync.Mutex
}

func New(config *Config) *StoreCtx {
	cfg := config.withDefaultValues()

	store := &StoreCtx{
		logger: log.With().Str("module", "cache").Str("submodule", cfg.Name).Logger(),
		config: cfg,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *Entry](cfg.DefaultTTL),
			ttlcache.WithCapacity[string, *Entry](cfg.Capacity),
			// reading an entry must never prolong its life
			ttlcache.WithDisableTouchOnHit[string, *Entry](),
		),
	}

	store.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Entry]) {
		reasonStr := evictionReason(reason)
		store.logger.Debug().Str("key", item.Key()).Str("reason", reasonStr).Msg("cache entry evicted")

		if store.config.OnEvict != nil {
			store.config.OnEvict(store.config.Name, item.Key(), reasonStr)
		}
	})

	return store
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func (s *StoreCtx) Name() string {
	return s.config.Name
}

// Start runs the expired entries cleanup in background.
func (s *StoreCtx) Start() {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return
	}

	s.running = true
	go s.cache.Start()

	s.logger.Debug().Msg("cleanup started")
}

func (s *StoreCtx) Shutdown() {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.cache.Stop()

	s.logger.Debug().Msg("cleanup stopped")
}

func (s *StoreCtx) Get(key string) (*Entry, bool) {
	item := s.cache.Get(key)
	if item == nil {
		s.logger.Debug().Str("key", key).Msg("cache miss")
		return nil, false
	}

	entry := item.Value()
	if entry.Expired(time.Now()) {
		s.logger.Debug().Str("key", key).Msg("cache expired")
		return nil, false
	}

	s.logger.Debug().Str("key", key).Msg("cache hit")
	return entry, true
}

func (s *StoreCtx) Put(key string, body []byte, header http.Header, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	entry := &Entry{
		Body:       body,
		Header:     header.Clone(),
		InsertedAt: time.Now(),
		TTL:        ttl,
	}

	s.cache.Set(key, entry, ttl)
	s.logger.Debug().Str("key", key).Int("size", len(body)).Dur("ttl", ttl).Msg("cache stored")
}

// Contains reports whether key has a non-expired entry. As any read, it
// refreshes the entry recency.
func (s *StoreCtx) Contains(key string) bool {
	item := s.cache.Get(key)
	return item != nil && !item.Value().Expired(time.Now())
}

// Clear removes all entries and returns how many there were.
func (s *StoreCtx) Clear() int {
	count := s.cache.Len()
	s.cache.DeleteAll()

	s.logger.Info().Int("cleared", count).Msg("cache cleared")
	return count
}

func (s *StoreCtx) Len() int {
	return s.cache.Len()
}
