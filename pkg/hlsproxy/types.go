package hlsproxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	"github.com/m1k1o/go-hlsproxy/pkg/coalesce"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
)

var (
	ErrMissingParameter = errors.New("missing parameter")
	ErrInvalidTarget    = errors.New("invalid target")
)

type Config struct {
	SegmentTTL time.Duration // how long should be segment kept in memory
	KeyTTL     time.Duration // how long should be VOD key kept in memory
	KeyLiveTTL time.Duration // how long should be live key kept in memory
}

func (c Config) withDefaultValues() Config {
	if c.SegmentTTL == 0 {
		c.SegmentTTL = 30 * time.Second
	}
	if c.KeyTTL == 0 {
		c.KeyTTL = 10 * time.Minute
	}
	if c.KeyLiveTTL == 0 {
		c.KeyLiveTTL = 30 * time.Second
	}
	return c
}

// Upstream fetches origin resources and shapes requests sent to origins.
type Upstream interface {
	origin.Fetcher
	Headers(target string, overrides http.Header) http.Header
	Transport() http.RoundTripper
}

type Coordinator interface {
	Do(ctx context.Context, key string, ttl time.Duration, fetch coalesce.FetchFunc) (*origin.Response, coalesce.Role, error)
}

// Resource groups the cache store and the in-flight registry of one
// resource class.
type Resource struct {
	Store cache.Store
	Group Coordinator
}

type Warmer interface {
	Warm(urls []string, live bool)
}

type Manager interface {
	Shutdown()

	ServePlaylist(w http.ResponseWriter, r *http.Request)
	ServeSegment(w http.ResponseWriter, r *http.Request)
	ServeKey(w http.ResponseWriter, r *http.Request)
	ClearCache(w http.ResponseWriter, r *http.Request)
}
