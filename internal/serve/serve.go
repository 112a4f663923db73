package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-hlsproxy/internal/config"
	"github.com/m1k1o/go-hlsproxy/internal/server"
	"github.com/m1k1o/go-hlsproxy/modules"
	"github.com/m1k1o/go-hlsproxy/modules/hlsproxy"
	"github.com/m1k1o/go-hlsproxy/pkg/cache"
	hlsProxyPkg "github.com/m1k1o/go-hlsproxy/pkg/hlsproxy"
	"github.com/m1k1o/go-hlsproxy/pkg/origin"
	"github.com/m1k1o/go-hlsproxy/pkg/prefetch"
)

type Config struct {
	Server *server.Config
	Proxy  *config.Proxy
}

func (c *Config) Configs() []config.Config {
	return []config.Config{c.Server, c.Proxy}
}

func NewCommand() *Main {
	return &Main{
		Config: &Config{
			Server: &server.Config{},
			Proxy:  &config.Proxy{},
		},
	}
}

type Main struct {
	Config *Config

	logger   zerolog.Logger
	server   *server.ServerManagerCtx
	hlsProxy modules.Module
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

// ProxyConfig maps command line configuration to the proxy module.
func (main *Main) ProxyConfig() *hlsproxy.Config {
	p := main.Config.Proxy

	return &hlsproxy.Config{
		Config: hlsProxyPkg.Config{
			SegmentTTL: p.SegmentTTL,
			KeyTTL:     p.KeyTTL,
			KeyLiveTTL: p.KeyLiveTTL,
		},
		Segments: cache.Config{
			Name:       "ts",
			Capacity:   uint64(p.SegmentCapacity),
			DefaultTTL: p.SegmentTTL,
		},
		Keys: cache.Config{
			Name:       "key",
			Capacity:   uint64(p.KeyCapacity),
			DefaultTTL: p.KeyTTL,
		},
		Fetch: origin.Config{
			Timeout:            p.FetchTimeout,
			MaxAttempts:        p.FetchAttempts,
			BaseDelay:          p.FetchBackoff,
			MaxJitter:          p.FetchJitter,
			InsecureSkipVerify: p.FetchInsecure,
			BreakerThreshold:   uint32(p.FetchBreakerThreshold),
			BreakerTimeout:     p.FetchBreakerTimeout,
		},
		Prefetch: prefetch.Config{
			Concurrency: int64(p.PrefetchConcurrency),
			LiveCount:   prefetchCount(p.PrefetchLive),
			VodCount:    prefetchCount(p.PrefetchVod),
			LiveTTL:     p.PrefetchLiveTTL,
			VodTTL:      p.PrefetchVodTTL,
		},
		WaitTimeout: p.WaitTimeout,
	}
}

// prefetchCount maps a zero flag value to a disabled prefetcher.
func prefetchCount(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func (main *Main) start() {
	main.server = server.New(main.Config.Server)

	main.hlsProxy = hlsproxy.New(main.ProxyConfig())
	main.hlsProxy.Start()
	main.server.Mount(main.hlsProxy.Route)
	main.logger.Info().Msg("hlsProxy registered")

	main.server.Start()
}

func (main *Main) shutdown() {
	err := main.server.Shutdown()
	main.logger.Err(err).Msg("http manager shutdown")

	if main.hlsProxy != nil {
		main.hlsProxy.Shutdown()
		main.logger.Info().Msg("hlsProxy shutdown")
	}
}

func (main *Main) Run(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.shutdown()
	main.logger.Info().Msg("shutdown complete")
}
