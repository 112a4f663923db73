package server

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type Config struct {
	Bind      string    `mapstructure:"bind"`
	SSLCert   string    `mapstructure:"cert"`
	SSLKey    string    `mapstructure:"key"`
	Proxy     bool      `mapstructure:"proxy"`
	PProf     bool      `mapstructure:"pprof"`
	CORS      bool      `mapstructure:"cors"`
	RateLimit RateLimit `mapstructure:"ratelimit"`
}

func (Config) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("bind", "127.0.0.1:9000", "address/port/socket to serve http")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cert", "", "path to the SSL cert")
	if err := viper.BindPFlag("cert", cmd.PersistentFlags().Lookup("cert")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("key", "", "path to the SSL key")
	if err := viper.BindPFlag("key", cmd.PersistentFlags().Lookup("key")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("cors", true, "allow cross origin requests from any origin")
	if err := viper.BindPFlag("cors", cmd.PersistentFlags().Lookup("cors")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("ratelimit.requests", 0, "requests allowed per client ip in one window, 0 disables rate limiting")
	if err := viper.BindPFlag("ratelimit.requests", cmd.PersistentFlags().Lookup("ratelimit.requests")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("ratelimit.window", time.Minute, "rate limiting window")
	if err := viper.BindPFlag("ratelimit.window", cmd.PersistentFlags().Lookup("ratelimit.window")); err != nil {
		return err
	}

	return nil
}

func (c *Config) Set() {
	if err := viper.Unmarshal(c); err != nil {
		log.Panic().Err(err).Msg("unable to unmarshal config structure")
	}
}
