package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Default configuration path
const defCfgPath = "/etc/hlsproxy/"

// ENV prefix for configuration
const envPrefix = "HLSPROXY"

// settings read once when the proxy starts
var restartSections = []string{"bind", "cert", "key", "proxy", "pprof", "cors", "ratelimit", "cache", "fetch", "coalesce", "prefetch"}

var rootCmd = &cobra.Command{
	Use:     "hlsproxy",
	Short:   "HLS proxy server CLI.",
	Long:    `Caching HLS reverse proxy with request coalescing and segment prefetching.`,
	Version: "1.0.0",
}

func init() {
	var cfgFile string
	var logConfig logConfig

	cobra.OnInitialize(func() {
		initConfiguration(cfgFile, defCfgPath, envPrefix)
		logConfig.Set()
		initLogging(logConfig)

		file := viper.ConfigFileUsed()
		if file == "" {
			log.Warn().Msg("preflight complete without config file")
			return
		}

		watchConfiguration()
		log.Info().Str("config", file).Msg("preflight complete with config file")
	})

	// config file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (yaml, json or toml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	// log configuration
	_ = logConfig.Init(rootCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

//
// Configuration initialization
//

func initConfiguration(cfgFile string, defCfgPath string, envPrefix string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")

		if runtime.GOOS == "linux" && defCfgPath != "" {
			viper.AddConfigPath(defCfgPath)
		}

		viper.AddConfigPath(".")
	}

	if envPrefix != "" {
		// HLSPROXY_CACHE_TS_CAPACITY sets cache.ts.capacity
		viper.SetEnvPrefix(envPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()
	}

	err := viper.ReadInConfig()
	if err != nil && cfgFile != "" {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
}

// watchConfiguration applies the log level on every config file change and
// reports proxy settings that only take effect after a restart.
func watchConfiguration() {
	loaded := restartSettings()

	viper.OnConfigChange(func(e fsnotify.Event) {
		logger := log.With().Str("op", e.Op.String()).Logger()

		applyLogLevel(viper.GetString("log.level"))

		current := restartSettings()
		for _, key := range changedKeys(loaded, current) {
			logger.Warn().
				Str("key", key).
				Interface("value", current[key]).
				Msg("setting changed, restart to apply")
		}

		logger.Info().Msg("config file reloaded")
	})

	viper.WatchConfig()
}

func restartSettings() map[string]any {
	settings := map[string]any{}
	for _, key := range viper.AllKeys() {
		section, _, _ := strings.Cut(key, ".")
		for _, s := range restartSections {
			if section == s {
				settings[key] = viper.Get(key)
				break
			}
		}
	}
	return settings
}

// changedKeys lists keys added, removed or modified between two snapshots.
func changedKeys(before, after map[string]any) []string {
	var keys []string
	for key, value := range after {
		if old, ok := before[key]; !ok || fmt.Sprint(old) != fmt.Sprint(value) {
			keys = append(keys, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys
}
