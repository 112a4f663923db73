package origin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

var errConnReset = errors.New("connection reset by peer")

// flakyTransport fails the first n requests with a transport error.
func flakyTransport(n int32, calls *int32) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(calls, 1) <= n {
			return nil, errConnReset
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"video/MP2T"}},
			Body:       io.NopCloser(strings.NewReader("segment")),
			Request:    req,
		}, nil
	})
}

func testConfig(transport http.RoundTripper) *Config {
	return &Config{
		Timeout:     time.Second,
		BaseDelay:   time.Millisecond,
		MaxJitter:   time.Millisecond,
		MaxAttempts: 3,
		Transport:   transport,
	}
}

func TestFetchRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		wantErr   bool
		wantCalls int32
	}{
		{
			name:      "first attempt succeeds",
			failures:  0,
			wantCalls: 1,
		},
		{
			name:      "fails twice then succeeds",
			failures:  2,
			wantCalls: 3,
		},
		{
			name:      "fails three times",
			failures:  3,
			wantErr:   true,
			wantCalls: 3,
		},
		{
			name:      "no fourth attempt",
			failures:  10,
			wantErr:   true,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			fetcher := New(testConfig(flakyTransport(tt.failures, &calls)))

			res, err := fetcher.Fetch(context.Background(), "http://origin.test/seg0.ts", nil)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUpstream)
				assert.ErrorIs(t, err, errConnReset)
				assert.Nil(t, res)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, []byte("segment"), res.Body)
			assert.Equal(t, "video/MP2T", res.Header.Get("Content-Type"))
		})
	}
}

func TestFetchNegativeAttemptsUsesDefault(t *testing.T) {
	var calls int32
	cfg := testConfig(flakyTransport(10, &calls))
	cfg.MaxAttempts = -1

	_, err := New(cfg).Fetch(context.Background(), "http://origin.test/seg0.ts", nil)
	require.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchStatusIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := New(testConfig(nil))

	res, err := fetcher.Fetch(context.Background(), server.URL+"/seg0.ts", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.False(t, res.OK())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchAttemptTimeout(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	cfg := testConfig(nil)
	cfg.Timeout = 30 * time.Millisecond
	fetcher := New(cfg)

	_, err := fetcher.Fetch(context.Background(), server.URL+"/slow.ts", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchInvalidURLIsPermanent(t *testing.T) {
	var calls int32
	fetcher := New(testConfig(flakyTransport(0, &calls)))

	_, err := fetcher.Fetch(context.Background(), "http://origin.test/%zz", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestFetchHeaders(t *testing.T) {
	var got http.Header
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	})

	cfg := testConfig(transport)
	cfg.Headers = func(target string) http.Header {
		return http.Header{
			"User-Agent": []string{"base-agent"},
			"Referer":    []string{target},
		}
	}
	fetcher := New(cfg)

	_, err := fetcher.Fetch(context.Background(), "http://origin.test/key.bin", http.Header{
		"user-agent": []string{"override-agent"},
	})
	require.NoError(t, err)
	assert.Equal(t, "override-agent", got.Get("User-Agent"))
	assert.Equal(t, "http://origin.test/key.bin", got.Get("Referer"))
}

func TestFetchCircuitBreaker(t *testing.T) {
	var calls int32
	cfg := testConfig(flakyTransport(100, &calls))
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Minute
	fetcher := New(cfg)

	// opens after two consecutive failures, third attempt is rejected
	_, err := fetcher.Fetch(context.Background(), "http://origin.test/a.ts", nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// other paths on the same host are rejected without a request
	_, err = fetcher.Fetch(context.Background(), "http://origin.test/b.ts", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// other hosts are unaffected
	_, err = fetcher.Fetch(context.Background(), "http://other.test/a.ts", nil)
	require.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestExponentialJitter(t *testing.T) {
	b := newExponentialJitter(300*time.Millisecond, 100*time.Millisecond)
	b.random = func() float64 { return 0.5 }

	assert.Equal(t, 350*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 650*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 1250*time.Millisecond, b.NextBackOff())

	b.Reset()
	b.random = func() float64 { return 0 }
	assert.Equal(t, 300*time.Millisecond, b.NextBackOff())
}

func TestJitterBounds(t *testing.T) {
	b := newExponentialJitter(300*time.Millisecond, 100*time.Millisecond)
	for i := 0; i < 100; i++ {
		b.Reset()
		delay := b.NextBackOff()
		assert.GreaterOrEqual(t, delay, 300*time.Millisecond)
		assert.Less(t, delay, 400*time.Millisecond)
	}
}

func TestMergeHeaders(t *testing.T) {
	base := http.Header{}
	base.Set("User-Agent", "a")
	base.Set("Accept", "*/*")

	merged := MergeHeaders(base, http.Header{"user-agent": []string{"b"}})
	assert.Equal(t, "b", merged.Get("User-Agent"))
	assert.Equal(t, "*/*", merged.Get("Accept"))
	assert.Equal(t, "a", base.Get("User-Agent"), "base must not be modified")

	assert.NotNil(t, MergeHeaders(nil, nil))
}

func TestBrowserHeaders(t *testing.T) {
	header := BrowserHeaders("https://cdn.example:8443/path/seg0.ts")
	assert.Equal(t, "https://cdn.example:8443", header.Get("Origin"))
	assert.Equal(t, "https://cdn.example:8443/path/seg0.ts", header.Get("Referer"))
	assert.Contains(t, userAgents, header.Get("User-Agent"))

	header = BrowserHeaders("::not a url")
	assert.NotEmpty(t, header.Get("User-Agent"))
	assert.Empty(t, header.Get("Referer"))
}
