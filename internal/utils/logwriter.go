package utils

import (
	"log"
	"strings"

	"github.com/rs/zerolog"
)

// messages caused by clients going away, not worth a warning
var clientNoise = []string{
	"http: TLS handshake error",
	"broken pipe",
	"connection reset by peer",
	"context canceled",
}

// LogWriterCtx lets standard library loggers write into zerolog.
type LogWriterCtx struct {
	logger zerolog.Logger
}

func LogWriter(l zerolog.Logger) *LogWriterCtx {
	return &LogWriterCtx{
		logger: l,
	}
}

func (l *LogWriterCtx) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	level := zerolog.WarnLevel
	for _, noise := range clientNoise {
		if strings.Contains(msg, noise) {
			level = zerolog.DebugLevel
			break
		}
	}

	l.logger.WithLevel(level).Msg(msg)
	return len(p), nil
}

// StdLogger is meant for http.Server.ErrorLog and httputil.ReverseProxy.ErrorLog.
func StdLogger(l zerolog.Logger) *log.Logger {
	return log.New(LogWriter(l), "", 0)
}
