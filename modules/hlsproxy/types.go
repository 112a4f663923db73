package hlsproxy

import (
	"time"

	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	"github.com/m1k1o/go-hlsproxy/pkg/hlsproxy"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
	"github.com/m1k1o/go-hlsproxy/pkg/prefetch"
	"github.com/m1k1o/go-hlsproxy/pkg/stats"
)

type Config struct {
	hlsproxy.Config

	Segments cache.Config
	Keys     cache.Config
	Fetch    origin.Config
	Prefetch prefetch.Config
	Stats    stats.Config

	WaitTimeout time.Duration // coalesced waiter budget, same for both stores
}

func (c Config) withDefaultValues() Config {
	if c.Segments.Name == "" {
		c.Segments.Name = "ts"
	}
	if c.Segments.Capacity == 0 {
		c.Segments.Capacity = 100
	}
	if c.Segments.DefaultTTL == 0 {
		c.Segments.DefaultTTL = 30 * time.Second
	}
	if c.Keys.Name == "" {
		c.Keys.Name = "key"
	}
	if c.Keys.Capacity == 0 {
		c.Keys.Capacity = 50
	}
	if c.Keys.DefaultTTL == 0 {
		c.Keys.DefaultTTL = 10 * time.Minute
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 5 * time.Second
	}
	return c
}
