package config

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

type Proxy struct {
	SegmentCapacity int
	SegmentTTL      time.Duration
	KeyCapacity     int
	KeyTTL          time.Duration
	KeyLiveTTL      time.Duration

	FetchTimeout          time.Duration
	FetchAttempts         int
	FetchBackoff          time.Duration
	FetchJitter           time.Duration
	FetchInsecure         bool
	FetchBreakerThreshold int
	FetchBreakerTimeout   time.Duration

	WaitTimeout time.Duration

	PrefetchConcurrency int
	PrefetchLive        int
	PrefetchVod         int
	PrefetchLiveTTL     time.Duration
	PrefetchVodTTL      time.Duration
}

func (Proxy) Init(cmd *cobra.Command) error {
	//
	// cache
	//

	cmd.PersistentFlags().Int("cache.ts.capacity", 100, "maximum number of segments kept in memory")
	if err := viper.BindPFlag("cache.ts.capacity", cmd.PersistentFlags().Lookup("cache.ts.capacity")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("cache.ts.ttl", 30*time.Second, "how long is a requested segment kept in memory")
	if err := viper.BindPFlag("cache.ts.ttl", cmd.PersistentFlags().Lookup("cache.ts.ttl")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("cache.ts.live-ttl", 5*time.Second, "how long is a prefetched live segment kept in memory")
	if err := viper.BindPFlag("cache.ts.live-ttl", cmd.PersistentFlags().Lookup("cache.ts.live-ttl")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("cache.ts.vod-ttl", 30*time.Second, "how long is a prefetched VOD segment kept in memory")
	if err := viper.BindPFlag("cache.ts.vod-ttl", cmd.PersistentFlags().Lookup("cache.ts.vod-ttl")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("cache.key.capacity", 50, "maximum number of keys kept in memory")
	if err := viper.BindPFlag("cache.key.capacity", cmd.PersistentFlags().Lookup("cache.key.capacity")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("cache.key.ttl", 10*time.Minute, "how long is a VOD key kept in memory")
	if err := viper.BindPFlag("cache.key.ttl", cmd.PersistentFlags().Lookup("cache.key.ttl")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("cache.key.live-ttl", 30*time.Second, "how long is a live key kept in memory")
	if err := viper.BindPFlag("cache.key.live-ttl", cmd.PersistentFlags().Lookup("cache.key.live-ttl")); err != nil {
		return err
	}

	//
	// fetch
	//

	cmd.PersistentFlags().Duration("fetch.timeout", 10*time.Second, "timeout of a single origin request")
	if err := viper.BindPFlag("fetch.timeout", cmd.PersistentFlags().Lookup("fetch.timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("fetch.attempts", 3, "origin request attempts, first one included")
	if err := viper.BindPFlag("fetch.attempts", cmd.PersistentFlags().Lookup("fetch.attempts")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("fetch.backoff", 300*time.Millisecond, "delay before the first retry, doubled on every next one")
	if err := viper.BindPFlag("fetch.backoff", cmd.PersistentFlags().Lookup("fetch.backoff")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("fetch.jitter", 100*time.Millisecond, "maximum random delay added to every retry")
	if err := viper.BindPFlag("fetch.jitter", cmd.PersistentFlags().Lookup("fetch.jitter")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("fetch.insecure", true, "skip TLS certificate verification of origins")
	if err := viper.BindPFlag("fetch.insecure", cmd.PersistentFlags().Lookup("fetch.insecure")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("fetch.breaker-threshold", 0, "consecutive failures that open the circuit breaker of an origin host, 0 disables it")
	if err := viper.BindPFlag("fetch.breaker-threshold", cmd.PersistentFlags().Lookup("fetch.breaker-threshold")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("fetch.breaker-timeout", 30*time.Second, "how long an open circuit breaker rejects requests")
	if err := viper.BindPFlag("fetch.breaker-timeout", cmd.PersistentFlags().Lookup("fetch.breaker-timeout")); err != nil {
		return err
	}

	//
	// coalesce
	//

	cmd.PersistentFlags().Duration("coalesce.wait-timeout", 5*time.Second, "how long a request waits for a pending origin request of the same url")
	if err := viper.BindPFlag("coalesce.wait-timeout", cmd.PersistentFlags().Lookup("coalesce.wait-timeout")); err != nil {
		return err
	}

	//
	// prefetch
	//

	cmd.PersistentFlags().Int("prefetch.concurrency", 5, "maximum of concurrent prefetch requests")
	if err := viper.BindPFlag("prefetch.concurrency", cmd.PersistentFlags().Lookup("prefetch.concurrency")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("prefetch.live", 3, "segments prefetched from a live playlist, 0 disables live prefetch")
	if err := viper.BindPFlag("prefetch.live", cmd.PersistentFlags().Lookup("prefetch.live")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("prefetch.vod", 5, "segments prefetched from a VOD playlist, 0 disables VOD prefetch")
	if err := viper.BindPFlag("prefetch.vod", cmd.PersistentFlags().Lookup("prefetch.vod")); err != nil {
		return err
	}

	return nil
}

func (p *Proxy) Set() {
	p.SegmentCapacity = positiveInt("cache.ts.capacity")
	p.SegmentTTL = positiveDuration("cache.ts.ttl")
	p.KeyCapacity = positiveInt("cache.key.capacity")
	p.KeyTTL = positiveDuration("cache.key.ttl")
	p.KeyLiveTTL = positiveDuration("cache.key.live-ttl")

	p.FetchTimeout = positiveDuration("fetch.timeout")
	p.FetchAttempts = positiveInt("fetch.attempts")
	p.FetchBackoff = positiveDuration("fetch.backoff")
	p.FetchJitter = positiveDuration("fetch.jitter")
	p.FetchInsecure = viper.GetBool("fetch.insecure")
	p.FetchBreakerThreshold = positiveInt("fetch.breaker-threshold")
	p.FetchBreakerTimeout = positiveDuration("fetch.breaker-timeout")

	p.WaitTimeout = positiveDuration("coalesce.wait-timeout")

	p.PrefetchConcurrency = positiveInt("prefetch.concurrency")
	p.PrefetchLive = positiveInt("prefetch.live")
	p.PrefetchVod = positiveInt("prefetch.vod")
	p.PrefetchLiveTTL = positiveDuration("cache.ts.live-ttl")
	p.PrefetchVodTTL = positiveDuration("cache.ts.vod-ttl")
}

// negative values fall back to 0, which selects the default where 0 is not meaningful
func positiveInt(key string) int {
	value := viper.GetInt(key)
	if value < 0 {
		log.Warn().Str("key", key).Int("value", value).Msg("negative value ignored")
		return 0
	}
	return value
}

func positiveDuration(key string) time.Duration {
	value := viper.GetDuration(key)
	if value < 0 {
		log.Warn().Str("key", key).Dur("value", value).Msg("negative value ignored")
		return 0
	}
	return value
}
