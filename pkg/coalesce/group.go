package coalesce

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
)

type waiter struct {
	ch chan struct{}
}

// call is a single in-flight origin fetch shared by every caller of its key.
type call struct {
	done    chan struct{}
	waiters []*waiter

	res *origin.Response
	err error
}

type GroupCtx struct {
	logger zerolog.Logger
	config Config
	store  Store

	calls   map[string]*call
	callsMu sync.Mutex
}

func New(store Store, config *Config) *GroupCtx {
	cfg := config.withDefaultValues()

	return &GroupCtx{
		logger: log.With().Str("module", "coalesce").Str("submodule", cfg.Name).Logger(),
		config: cfg,
		store:  store,
		calls:  map[string]*call{},
	}
}

// Do resolves key through at most one concurrent fetch. The first caller
// starts the fetch and waits for it; later callers wait at most WaitTimeout.
// Successful responses are stored with ttl before any caller is released, so
// a caller arriving after the fetch finished is answered from the store.
func (g *GroupCtx) Do(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (*origin.Response, Role, error) {
	g.callsMu.Lock()
	if entry, ok := g.store.Get(key); ok {
		g.callsMu.Unlock()
		return cachedResponse(entry), RoleCache, nil
	}

	if c, ok := g.calls[key]; ok {
		w := &waiter{ch: make(chan struct{})}
		c.waiters = append(c.waiters, w)
		g.callsMu.Unlock()

		res, err := g.wait(ctx, key, c, w)
		return res, RoleWaiter, err
	}

	c := g.start(key, ttl, fetch)
	g.callsMu.Unlock()

	select {
	case <-c.done:
		return c.res, RoleFetcher, c.err
	case <-ctx.Done():
		// the fetch goes on for the sake of later requests
		return nil, RoleFetcher, ctx.Err()
	}
}

// TryDo starts a fetch for key unless one is already in flight or the key is
// cached. The returned channel is closed once the fetch completed.
func (g *GroupCtx) TryDo(key string, ttl time.Duration, fetch FetchFunc) (<-chan struct{}, bool) {
	g.callsMu.Lock()
	defer g.callsMu.Unlock()

	if _, ok := g.calls[key]; ok {
		return nil, false
	}

	if g.store.Contains(key) {
		return nil, false
	}

	c := g.start(key, ttl, fetch)
	return c.done, true
}

func (g *GroupCtx) InFlight(key string) bool {
	g.callsMu.Lock()
	defer g.callsMu.Unlock()

	_, ok := g.calls[key]
	return ok
}

// Waiters returns how many callers are waiting for the in-flight fetch of key.
func (g *GroupCtx) Waiters(key string) int {
	g.callsMu.Lock()
	defer g.callsMu.Unlock()

	c, ok := g.calls[key]
	if !ok {
		return 0
	}
	return len(c.waiters)
}

// Len returns number of in-flight fetches.
func (g *GroupCtx) Len() int {
	g.callsMu.Lock()
	defer g.callsMu.Unlock()

	return len(g.calls)
}

func cachedResponse(entry *cache.Entry) *origin.Response {
	return &origin.Response{
		StatusCode: http.StatusOK,
		Header:     entry.Header,
		Body:       entry.Body,
	}
}

// start must be called with callsMu held.
func (g *GroupCtx) start(key string, ttl time.Duration, fetch FetchFunc) *call {
	c := &call{
		done: make(chan struct{}),
	}
	g.calls[key] = c

	go g.run(key, ttl, fetch, c)
	return c
}

func (g *GroupCtx) run(key string, ttl time.Duration, fetch FetchFunc, c *call) {
	logger := g.logger.With().Str("key", key).Logger()

	// not bound to any request, waiters may leave but the result stays useful
	c.res, c.err = fetch(context.Background())
	if c.err == nil && c.res == nil {
		c.err = origin.ErrUpstream
	}

	if c.err == nil && c.res.OK() {
		g.store.Put(key, c.res.Body, c.res.Header, ttl)
	}

	g.callsMu.Lock()
	delete(g.calls, key)
	waiters := c.waiters
	c.waiters = nil
	g.callsMu.Unlock()

	close(c.done)

	// notify in registration order
	for _, w := range waiters {
		close(w.ch)
	}

	if c.err != nil {
		logger.Warn().Err(c.err).Int("waiters", len(waiters)).Msg("fetch failed")
		return
	}

	logger.Debug().Int("status", c.res.StatusCode).Int("waiters", len(waiters)).Msg("fetch completed")
}

func (g *GroupCtx) wait(ctx context.Context, key string, c *call, w *waiter) (*origin.Response, error) {
	timeout := time.NewTimer(g.config.WaitTimeout)
	defer timeout.Stop()

	select {
	case <-w.ch:
		return c.res, c.err
	case <-timeout.C:
		g.removeWaiter(c, w)
		g.logger.Warn().Str("key", key).Dur("timeout", g.config.WaitTimeout).Msg("timeout waiting for pending request")
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		g.removeWaiter(c, w)
		return nil, ctx.Err()
	}
}

func (g *GroupCtx) removeWaiter(c *call, w *waiter) {
	g.callsMu.Lock()
	defer g.callsMu.Unlock()

	for i, item := range c.waiters {
		if item == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}
