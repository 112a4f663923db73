package hlsproxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/m1k1o/go-hlsproxy/pkg/origin"
	"github.com/m1k1o/go-hlsproxy/pkg/playlist"
)

// ServePlaylist rewrites .m3u8 targets so that segments, keys and variants
// come back through this proxy. Other targets are proxied as they are.
func (m *ManagerCtx) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	target := r.URL.Query().Get("target")
	if target == "" {
		m.httpError(w, fmt.Errorf("%w: target", ErrMissingParameter))
		return
	}

	u, err := parseTarget(target)
	if err != nil {
		m.httpError(w, err)
		return
	}

	if !strings.HasSuffix(u.Path, ".m3u8") {
		m.proxy.ServeHTTP(w, r)
		return
	}

	logger := m.logger.With().Str("url", target).Logger()

	resp, err := m.upstream.Fetch(r.Context(), target, nil)
	if err != nil {
		logger.Err(err).Msg("unable to get playlist")
		m.httpError(w, err)
		return
	}

	if !resp.OK() {
		logger.Warn().Int("code", resp.StatusCode).Msg("invalid HTTP response")
		m.httpError(w, fmt.Errorf("%w: status %d", origin.ErrUpstream, resp.StatusCode))
		return
	}

	base, err := playlist.BaseURL(target)
	if err != nil {
		m.httpError(w, fmt.Errorf("%w: %w", ErrInvalidTarget, err))
		return
	}

	result, err := playlist.Rewrite(string(resp.Body), base)
	if err != nil {
		m.httpError(w, fmt.Errorf("%w: %w", ErrInvalidTarget, err))
		return
	}

	m.prefetcher.Warm(result.Segments, result.Live)

	elapsed := time.Since(start)
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("X-Processing-Time", fmt.Sprintf("%dms", elapsed.Milliseconds()))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(result.Text)); err != nil {
		logger.Debug().Err(err).Msg("unable to write response")
	}

	logger.Info().
		Int("size", len(resp.Body)).
		Int("segments", len(result.Segments)).
		Bool("live", result.Live).
		Dur("elapsed", elapsed).
		Msg("playlist processed")
}

func (m *ManagerCtx) rewriteProxyRequest(pr *httputil.ProxyRequest) {
	// target was validated by ServePlaylist
	target := pr.In.URL.Query().Get("target")
	u, err := parseTarget(target)
	if err != nil {
		return
	}

	pr.Out.URL = u
	pr.Out.Host = u.Host
	pr.Out.RequestURI = ""

	for key, values := range m.upstream.Headers(target, nil) {
		pr.Out.Header[key] = values
	}
}

func (m *ManagerCtx) modifyProxyResponse(resp *http.Response) error {
	resp.Header.Set("Access-Control-Allow-Origin", "*")
	return nil
}

func (m *ManagerCtx) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	m.logger.Warn().Err(err).Str("url", r.URL.Query().Get("target")).Msg("passthrough failed")
	m.httpError(w, fmt.Errorf("%w: %w", origin.ErrUpstream, err))
}
