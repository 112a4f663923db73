package coalesce

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
)

// ErrWaitTimeout is returned to a waiter whose budget elapsed before the
// shared fetch completed. The fetch itself keeps running.
var ErrWaitTimeout = errors.New("timeout waiting for pending request")

type Role int

const (
	// RoleFetcher started the origin fetch.
	RoleFetcher Role = iota
	// RoleWaiter joined a fetch that was already in flight.
	RoleWaiter
	// RoleCache found the key stored by a fetch that just completed.
	RoleCache
)

func (r Role) String() string {
	switch r {
	case RoleWaiter:
		return "waiter"
	case RoleCache:
		return "cache"
	default:
		return "fetcher"
	}
}

type FetchFunc func(ctx context.Context) (*origin.Response, error)

// Store receives successful results before anyone is notified. It is
// consulted again while registering a fetch.
type Store interface {
	Get(key string) (*cache.Entry, bool)
	Contains(key string) bool
	Put(key string, body []byte, header http.Header, ttl time.Duration)
}

type Config struct {
	Name        string
	WaitTimeout time.Duration // per waiter
}

func (c Config) withDefaultValues() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 5 * time.Second
	}
	return c
}
