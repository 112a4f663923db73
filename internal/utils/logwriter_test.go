package utils

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWriter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		level string
		msg   string
	}{
		{name: "server error", input: "http: Accept error: too many open files\n", level: "warn", msg: "http: Accept error: too many open files"},
		{name: "tls noise", input: "http: TLS handshake error from 192.0.2.1:5000: EOF\n", level: "debug", msg: "http: TLS handshake error from 192.0.2.1:5000: EOF"},
		{name: "client gone", input: "httputil: ReverseProxy read error during body copy: read tcp: connection reset by peer", level: "debug", msg: "httputil: ReverseProxy read error during body copy: read tcp: connection reset by peer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Level(zerolog.TraceLevel)

			n, err := LogWriter(logger).Write([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, len(tt.input), n)

			var entry map[string]string
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.msg, entry["message"])
		})
	}
}

func TestLogWriterSkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	StdLogger(logger).Print("   ")
	assert.Zero(t, buf.Len())
}
