package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func newTestServer(config *Config) *ServerManagerCtx {
	s := New(config)
	s.Mount(func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("pong"))
		})
	})
	return s
}

func TestNotFound(t *testing.T) {
	s := newTestServer(&Config{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, "404", rec.Body.String())
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name string
		cors bool
		want string
	}{
		{name: "enabled", cors: true, want: "*"},
		{name: "disabled", cors: false, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&Config{CORS: tt.cors})

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", "https://player.example")

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(&Config{
		RateLimit: RateLimit{Requests: 2, Window: time.Minute},
	})

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "192.0.2.10:1234"

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestPProf(t *testing.T) {
	tests := []struct {
		name  string
		pprof bool
		want  int
	}{
		{name: "enabled", pprof: true, want: http.StatusOK},
		{name: "disabled", pprof: false, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&Config{PProf: tt.pprof})

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, pprofPath+"/cmdline", nil))

			assert.Equal(t, tt.want, rec.Code)
			if tt.pprof {
				assert.NotEqual(t, "404", rec.Body.String())
			} else {
				assert.Equal(t, "404", rec.Body.String())
			}
		})
	}
}
