package cache

import (
	"net/http"
	"net/url"
	"time"
)

type Config struct {
	Name       string        // store scope, e.g. "ts" or "key"
	Capacity   uint64        // maximum number of entries kept in memory
	DefaultTTL time.Duration // used when Put is called with zero ttl

	// optional: called for every entry leaving the store
	OnEvict func(name string, key string, reason string)
}

func (c Config) withDefaultValues() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Capacity == 0 {
		c.Capacity = 100
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 30 * time.Second
	}
	return c
}

// Entry is a complete upstream resource. It must not be modified once stored.
type Entry struct {
	Body       []byte
	Header     http.Header
	InsertedAt time.Time
	TTL        time.Duration
}

func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// Key canonicalizes a resource URL into the key used by every cache lookup and
// insert. Malformed escapes leave the target untouched.
func Key(target string) string {
	key, err := url.PathUnescape(target)
	if err != nil {
		return target
	}
	return key
}

type Store interface {
	Name() string
	Get(key string) (*Entry, bool)
	Put(key string, body []byte, header http.Header, ttl time.Duration)
	Contains(key string) bool
	Clear() int
	Len() int
}
