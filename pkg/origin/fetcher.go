package origin

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

type FetcherCtx struct {
	logger zerolog.Logger
	config Config
	client *http.Client

	breakers   map[string]*gobreaker.CircuitBreaker[*Response]
	breakersMu sync.Mutex
}

func New(config *Config) *FetcherCtx {
	cfg := config.withDefaultValues()

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			// upstream is always contacted directly
			Proxy: nil,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
			},
		}
	}

	return &FetcherCtx{
		logger: log.With().Str("module", "origin").Str("submodule", "fetcher").Logger(),
		config: cfg,
		client: &http.Client{
			Transport: transport,
		},
		breakers: map[string]*gobreaker.CircuitBreaker[*Response]{},
	}
}

// Transport is shared with other components talking to origins.
func (f *FetcherCtx) Transport() http.RoundTripper {
	return f.client.Transport
}

// Headers returns upstream request headers for target, overrides win.
func (f *FetcherCtx) Headers(target string, overrides http.Header) http.Header {
	return MergeHeaders(f.config.Headers(target), overrides)
}

// Fetch downloads target completely. Transport failures are retried with
// exponential backoff; any HTTP status is a valid result.
func (f *FetcherCtx) Fetch(ctx context.Context, target string, header http.Header) (*Response, error) {
	reqHeader := f.Headers(target, header)
	logger := f.logger.With().Str("url", target).Logger()

	var (
		res     *Response
		attempt int
	)

	operation := func() error {
		attempt++

		var err error
		res, err = f.attempt(ctx, target, reqHeader)
		return err
	}

	notify := func(err error, delay time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("attempts", f.config.MaxAttempts).
			Dur("delay", delay).
			Msg("upstream fetch failed, retrying")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			newExponentialJitter(f.config.BaseDelay, f.config.MaxJitter),
			uint64(f.config.MaxAttempts-1),
		),
		ctx,
	)

	start := time.Now()
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		logger.Err(err).Int("attempts", attempt).Msg("upstream fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	logger.Debug().
		Int("status", res.StatusCode).
		Int("size", len(res.Body)).
		Dur("duration", time.Since(start)).
		Msg("upstream fetch done")

	return res, nil
}

func (f *FetcherCtx) attempt(ctx context.Context, target string, header http.Header) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header = header.Clone()

	cb := f.breaker(req.URL.Host)
	if cb == nil {
		return f.do(req)
	}

	res, err := cb.Execute(func() (*Response, error) {
		return f.do(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, backoff.Permanent(err)
	}
	return res, err
}

func (f *FetcherCtx) do(req *http.Request) (*Response, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (f *FetcherCtx) breaker(host string) *gobreaker.CircuitBreaker[*Response] {
	if f.config.BreakerThreshold == 0 {
		return nil
	}

	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()

	cb, ok := f.breakers[host]
	if ok {
		return cb
	}

	threshold := f.config.BreakerThreshold
	cb = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:    host,
		Timeout: f.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn().
				Str("host", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("origin circuit breaker state changed")
		},
	})

	f.breakers[host] = cb
	return cb
}
