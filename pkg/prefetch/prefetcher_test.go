package prefetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	"github.com/m1k1o/go-hlsproxy/pkg/coalesce"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
)

type fakeFetcher struct {
	release chan struct{}
	status  int

	mu     sync.Mutex
	urls   []string
	active int32
	peak   int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		release: make(chan struct{}),
		status:  http.StatusOK,
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, target string, header http.Header) (*origin.Response, error) {
	f.mu.Lock()
	f.urls = append(f.urls, target)
	f.mu.Unlock()

	active := atomic.AddInt32(&f.active, 1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if active <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, active) {
			break
		}
	}
	defer atomic.AddInt32(&f.active, -1)

	<-f.release
	return &origin.Response{StatusCode: f.status, Header: http.Header{}, Body: []byte(target)}, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type outcomes struct {
	mu     sync.Mutex
	counts map[Outcome]int
}

func (o *outcomes) add(outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[Outcome]int{}
	}
	o.counts[outcome]++
}

func (o *outcomes) get(outcome Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[outcome]
}

func segmentURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://cdn.example/path/seg%d.ts", i)
	}
	return urls
}

func setup(cfg *Config) (*PrefetcherCtx, *cache.StoreCtx, *coalesce.GroupCtx, *fakeFetcher, *outcomes) {
	store := cache.New(&cache.Config{Name: "ts"})
	group := coalesce.New(store, &coalesce.Config{Name: "ts"})
	fetcher := newFakeFetcher()
	results := &outcomes{}
	cfg.OnResult = results.add
	return New(store, group, fetcher, cfg), store, group, fetcher, results
}

func TestWarmCount(t *testing.T) {
	tests := []struct {
		name string
		live bool
		want int
	}{
		{name: "live takes three", live: true, want: 3},
		{name: "vod takes five", live: false, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefetcher, store, _, fetcher, results := setup(&Config{Concurrency: 10})

			prefetcher.Warm(segmentURLs(10), tt.live)
			close(fetcher.release)

			require.Eventually(t, func() bool {
				return results.get(OutcomeFetched) == tt.want
			}, time.Second, time.Millisecond)

			assert.ElementsMatch(t, segmentURLs(10)[:tt.want], fetcher.fetched())
			for _, u := range segmentURLs(10)[:tt.want] {
				assert.True(t, store.Contains(u))
			}
			assert.False(t, store.Contains(segmentURLs(10)[tt.want]))
		})
	}
}

func TestWarmTTLByLiveness(t *testing.T) {
	prefetcher, store, _, fetcher, results := setup(&Config{
		LiveTTL: 7 * time.Second,
		VodTTL:  70 * time.Second,
	})
	close(fetcher.release)

	prefetcher.Warm([]string{"https://cdn.example/live.ts"}, true)
	prefetcher.Warm([]string{"https://cdn.example/vod.ts"}, false)

	require.Eventually(t, func() bool { return results.get(OutcomeFetched) == 2 }, time.Second, time.Millisecond)

	entry, ok := store.Get("https://cdn.example/live.ts")
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, entry.TTL)

	entry, ok = store.Get("https://cdn.example/vod.ts")
	require.True(t, ok)
	assert.Equal(t, 70*time.Second, entry.TTL)
}

func TestWarmConcurrencyBound(t *testing.T) {
	prefetcher, _, _, fetcher, results := setup(&Config{Concurrency: 5, VodCount: 10})

	prefetcher.Warm(segmentURLs(10), false)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fetcher.active) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, 5, results.get(OutcomeDropped), "urls over the bound are dropped, not queued")

	close(fetcher.release)
	require.Eventually(t, func() bool { return results.get(OutcomeFetched) == 5 }, time.Second, time.Millisecond)

	assert.Equal(t, int32(5), atomic.LoadInt32(&fetcher.peak))
	assert.Len(t, fetcher.fetched(), 5)
}

func TestWarmBoundIsGlobal(t *testing.T) {
	prefetcher, _, _, fetcher, results := setup(&Config{Concurrency: 5})

	// two playlists share the same five slots
	prefetcher.Warm(segmentURLs(3), true)
	prefetcher.Warm([]string{
		"https://cdn.example/other/a.ts",
		"https://cdn.example/other/b.ts",
		"https://cdn.example/other/c.ts",
	}, true)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fetcher.active) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, results.get(OutcomeDropped))

	close(fetcher.release)
	require.Eventually(t, func() bool { return results.get(OutcomeFetched) == 5 }, time.Second, time.Millisecond)

	// slots are released after completion
	prefetcher.Warm([]string{"https://cdn.example/other/c.ts"}, true)
	require.Eventually(t, func() bool { return results.get(OutcomeFetched) == 6 }, time.Second, time.Millisecond)
}

func TestWarmSkipsCachedAndInFlight(t *testing.T) {
	prefetcher, store, group, fetcher, results := setup(&Config{})

	urls := segmentURLs(3)
	store.Put(urls[0], []byte("cached"), nil, time.Minute)

	release := make(chan struct{})
	done, ok := group.TryDo(urls[1], time.Minute, func(ctx context.Context) (*origin.Response, error) {
		<-release
		return &origin.Response{StatusCode: http.StatusOK, Body: []byte("pending")}, nil
	})
	require.True(t, ok)

	prefetcher.Warm(urls, true)
	close(fetcher.release)
	close(release)
	<-done

	require.Eventually(t, func() bool { return results.get(OutcomeFetched) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, results.get(OutcomeCached))
	assert.Equal(t, 1, results.get(OutcomeInFlight))
	assert.Equal(t, []string{urls[2]}, fetcher.fetched())
}

func TestWarmDecodesKeys(t *testing.T) {
	prefetcher, store, _, fetcher, results := setup(&Config{})
	close(fetcher.release)

	prefetcher.Warm([]string{"https://cdn.example/a%20b.ts"}, true)
	require.Eventually(t, func() bool { return results.get(OutcomeFetched) == 1 }, time.Second, time.Millisecond)

	assert.True(t, store.Contains("https://cdn.example/a b.ts"))
}

func TestWarmFailureIsSwallowed(t *testing.T) {
	prefetcher, store, _, fetcher, results := setup(&Config{})
	fetcher.status = http.StatusNotFound
	close(fetcher.release)

	prefetcher.Warm(segmentURLs(1), false)
	require.Eventually(t, func() bool { return results.get(OutcomeFailed) == 1 }, time.Second, time.Millisecond)

	assert.False(t, store.Contains(segmentURLs(1)[0]))
}

func TestWarmDisabled(t *testing.T) {
	prefetcher, store, _, fetcher, results := setup(&Config{LiveCount: -1, VodCount: 2})
	close(fetcher.release)

	prefetcher.Warm(segmentURLs(4), true)
	assert.Empty(t, fetcher.fetched())
	assert.Zero(t, store.Len())

	prefetcher.Warm(segmentURLs(4), false)
	require.Eventually(t, func() bool {
		return results.get(OutcomeFetched) == 2
	}, time.Second, time.Millisecond)
}
