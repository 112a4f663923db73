package hlsproxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-hlsproxy/internal/utils"
	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	"github.com/m1k1o/go-hlsproxy/pkg/coalesce"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
	"github.com/m1k1o/go-hlsproxy/pkg/stats"
)

// upstream headers that are not copied to the client
var skipHeaders = map[string]struct{}{
	"Content-Encoding":  {},
	"Transfer-Encoding": {},
	"Content-Length":    {},
}

type ManagerCtx struct {
	logger zerolog.Logger
	config Config

	upstream   Upstream
	segments   Resource
	keys       Resource
	prefetcher Warmer

	proxy *httputil.ReverseProxy
}

func New(upstream Upstream, segments, keys Resource, prefetcher Warmer, config *Config) *ManagerCtx {
	m := &ManagerCtx{
		logger:     log.With().Str("module", "hlsproxy").Str("submodule", "manager").Logger(),
		config:     config.withDefaultValues(),
		upstream:   upstream,
		segments:   segments,
		keys:       keys,
		prefetcher: prefetcher,
	}

	m.proxy = &httputil.ReverseProxy{
		Rewrite:        m.rewriteProxyRequest,
		Transport:      upstream.Transport(),
		ModifyResponse: m.modifyProxyResponse,
		ErrorHandler:   m.proxyError,
		ErrorLog:       utils.StdLogger(m.logger),
	}

	return m
}

func (m *ManagerCtx) Shutdown() {
	if t, ok := m.upstream.Transport().(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	m.logger.Debug().Msg("shutdown")
}

func (m *ManagerCtx) ServeSegment(w http.ResponseWriter, r *http.Request) {
	m.serveResource(w, r, m.segments, m.config.SegmentTTL)
}

func (m *ManagerCtx) ServeKey(w http.ResponseWriter, r *http.Request) {
	ttl := m.config.KeyTTL
	if r.URL.Query().Get("live") == "true" {
		ttl = m.config.KeyLiveTTL
	}

	m.serveResource(w, r, m.keys, ttl)
}

func (m *ManagerCtx) serveResource(w http.ResponseWriter, r *http.Request, res Resource, ttl time.Duration) {
	key, err := targetKey(r)
	if err != nil {
		m.httpError(w, err)
		return
	}

	logger := m.logger.With().Str("store", res.Store.Name()).Str("url", key).Logger()

	if entry, ok := res.Store.Get(key); ok {
		logger.Debug().Int("size", len(entry.Body)).Msg("cache hit")
		m.writeResource(w, stats.CacheHit, entry.Header, entry.Body)
		return
	}

	resp, role, err := res.Group.Do(r.Context(), key, ttl, func(ctx context.Context) (*origin.Response, error) {
		return m.upstream.Fetch(ctx, key, nil)
	})

	status := stats.CacheMiss
	switch role {
	case coalesce.RoleWaiter:
		status = stats.CacheWaiting
	case coalesce.RoleCache:
		status = stats.CacheHit
	}
	w.Header().Set(stats.CacheStatusHeader, status)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug().Str("role", role.String()).Msg("client gone")
			return
		}

		logger.Warn().Err(err).Str("role", role.String()).Msg("unable to serve resource")
		m.httpError(w, err)
		return
	}

	if !resp.OK() {
		logger.Warn().Int("code", resp.StatusCode).Str("role", role.String()).Msg("invalid HTTP response")
		m.httpError(w, fmt.Errorf("%w: status %d", origin.ErrUpstream, resp.StatusCode))
		return
	}

	m.writeResource(w, status, resp.Header, resp.Body)
}

func (m *ManagerCtx) writeResource(w http.ResponseWriter, status string, header http.Header, body []byte) {
	for key, values := range header {
		if _, ok := skipHeaders[http.CanonicalHeaderKey(key)]; ok {
			continue
		}
		w.Header()[key] = values
	}

	w.Header().Set(stats.CacheStatusHeader, status)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(body); err != nil {
		m.logger.Debug().Err(err).Msg("unable to write response")
	}
}

func (m *ManagerCtx) httpError(w http.ResponseWriter, err error) {
	code, msg := errorResponse(err)
	http.Error(w, msg, code)
}

func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingParameter):
		return http.StatusBadRequest, "Missing target parameter"
	case errors.Is(err, ErrInvalidTarget):
		return http.StatusBadRequest, "Invalid target parameter"
	case errors.Is(err, coalesce.ErrWaitTimeout):
		return http.StatusGatewayTimeout, "Upstream response timeout"
	default:
		return http.StatusBadGateway, "Upstream error: " + err.Error()
	}
}

// targetKey validates the target query parameter and returns its cache key.
func targetKey(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("target")
	if raw == "" {
		return "", fmt.Errorf("%w: target", ErrMissingParameter)
	}

	key := cache.Key(raw)
	if _, err := parseTarget(key); err != nil {
		return "", err
	}

	return key, nil
}

func parseTarget(target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http url", ErrInvalidTarget, target)
	}

	return u, nil
}
