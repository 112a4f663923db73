package stats

import (
	"net/http"
	"strings"
	"time"
)

type Kind string

const (
	KindPlaylist Kind = "m3u8"
	KindSegment  Kind = "ts"
	KindKey      Kind = "key"
	KindOther    Kind = "other"
)

// Classify maps a request to the resource class it addresses.
func Classify(r *http.Request) Kind {
	switch {
	case strings.HasPrefix(r.URL.Path, "/ts"):
		return KindSegment
	case strings.HasPrefix(r.URL.Path, "/key"):
		return KindKey
	case strings.Contains(r.URL.RequestURI(), ".m3u8"):
		return KindPlaylist
	default:
		return KindOther
	}
}

const CacheStatusHeader = "X-Cache-Status"

const (
	CacheHit     = "HIT"
	CacheMiss    = "MISS"
	CacheWaiting = "WAITING"
)

// Sizer reports the current number of entries of a cache store or an
// in-flight registry.
type Sizer interface {
	Len() int
}

type Config struct {
	Namespace string

	// how many recent requests are kept for /stats
	History int

	SegmentCache    Sizer
	KeyCache        Sizer
	SegmentInFlight Sizer
	KeyInFlight     Sizer
}

func (c Config) withDefaultValues() Config {
	if c.Namespace == "" {
		c.Namespace = "hlsproxy"
	}
	if c.History == 0 {
		c.History = 10
	}
	return c
}

type Request struct {
	Time        time.Time `json:"time"`
	Method      string    `json:"method"`
	IP          string    `json:"ip"`
	Path        string    `json:"path"`
	Target      string    `json:"target"`
	Status      int       `json:"status"`
	CacheStatus string    `json:"cacheStatus,omitempty"`
	Duration    int64     `json:"duration"` // ms
}

type Rollup struct {
	Count int64 `json:"count"`
	Total int64 `json:"total"` // ms
	Avg   int64 `json:"avg"`   // ms
}

func (r *Rollup) add(d time.Duration) {
	r.Count++
	r.Total += d.Milliseconds()
	r.Avg = (r.Total + r.Count/2) / r.Count
}

type ResponseTimes struct {
	TS   Rollup `json:"ts"`
	Key  Rollup `json:"key"`
	M3U8 Rollup `json:"m3u8"`
}

type HitRates struct {
	TS  string `json:"ts"`
	Key string `json:"key"`
}

type Snapshot struct {
	TotalRequests int64         `json:"totalRequests"`
	M3U8Requests  int64         `json:"m3u8Requests"`
	TSRequests    int64         `json:"tsRequests"`
	KeyRequests   int64         `json:"keyRequests"`
	OtherRequests int64         `json:"otherRequests"`
	LastRequests  []Request     `json:"lastRequests"`
	ResponseTimes ResponseTimes `json:"responseTimes"`

	CacheSize        int `json:"cacheSize"`
	KeyCacheSize     int `json:"keyCacheSize"`
	FetchingCount    int `json:"fetchingCount"`
	KeyFetchingCount int `json:"keyFetchingCount"`

	CacheHitRate HitRates `json:"cacheHitRate"`
}
