package origin

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrUpstream is returned when an origin could not be reached after all attempts.
var ErrUpstream = errors.New("upstream error")

type Config struct {
	Timeout     time.Duration // single attempt timeout, including body read
	MaxAttempts int           // total attempts, first one included
	BaseDelay   time.Duration // delay before the second attempt, doubled afterwards
	MaxJitter   time.Duration // uniform random delay added to every backoff

	InsecureSkipVerify bool

	// consecutive transport failures per origin host that open its circuit
	// breaker, zero disables breakers
	BreakerThreshold uint32
	BreakerTimeout   time.Duration // how long an open breaker rejects requests

	Transport http.RoundTripper // optional: replaces the default transport
	Headers   HeaderFunc        // optional: defaults to BrowserHeaders
}

func (c Config) withDefaultValues() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 300 * time.Millisecond
	}
	if c.MaxJitter == 0 {
		c.MaxJitter = 100 * time.Millisecond
	}
	if c.BreakerTimeout == 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.Headers == nil {
		c.Headers = BrowserHeaders
	}
	return c
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HeaderFunc builds the upstream request headers for a target URL.
type HeaderFunc func(target string) http.Header

type Fetcher interface {
	Fetch(ctx context.Context, target string, header http.Header) (*Response, error)
}
