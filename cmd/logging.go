package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logConfig struct {
	Level   string
	Console bool

	// rotated by lumberjack, and on SIGHUP
	File       string
	MaxAge     int // days
	MaxSize    int // megabytes
	MaxBackups int
}

func (logConfig) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("log.level", "info", "log level: trace, debug, info, warn or error; debug shows every cache hit and miss")
	if err := viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log.level")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("log.console", true, "human readable logs on stderr")
	if err := viper.BindPFlag("log.console", cmd.PersistentFlags().Lookup("log.console")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("log.file", "", "also write JSON logs to this file")
	if err := viper.BindPFlag("log.file", cmd.PersistentFlags().Lookup("log.file")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxage", 7, "days to keep rotated log files")
	if err := viper.BindPFlag("log.maxage", cmd.PersistentFlags().Lookup("log.maxage")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxsize", 50, "size in MB at which the log file is rotated")
	if err := viper.BindPFlag("log.maxsize", cmd.PersistentFlags().Lookup("log.maxsize")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxbackups", 3, "rotated log files to keep")
	if err := viper.BindPFlag("log.maxbackups", cmd.PersistentFlags().Lookup("log.maxbackups")); err != nil {
		return err
	}

	return nil
}

func (c *logConfig) Set() {
	c.Level = viper.GetString("log.level")
	c.Console = viper.GetBool("log.console")
	c.File = viper.GetString("log.file")
	c.MaxAge = viper.GetInt("log.maxage")
	c.MaxSize = viper.GetInt("log.maxsize")
	c.MaxBackups = viper.GetInt("log.maxbackups")
}

// writers builds the log outputs. Without console and file the proxy logs
// nothing at all.
func (c *logConfig) writers() []io.Writer {
	var writers []io.Writer

	if c.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out: os.Stderr,
		})
	}

	if c.File != "" {
		logger := &lumberjack.Logger{
			Filename:   c.File,
			MaxAge:     c.MaxAge,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
		}

		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)

		go func() {
			for range sighup {
				if err := logger.Rotate(); err != nil {
					log.Warn().Err(err).Msg("unable to rotate log file")
				}
			}
		}()

		writers = append(writers, logger)
	}

	return writers
}

func initLogging(config logConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(io.MultiWriter(config.writers()...))

	applyLogLevel(config.Level)

	log.Info().
		Str("level", zerolog.GlobalLevel().String()).
		Bool("console", config.Console).
		Str("file", config.File).
		Msg("logging configured")
}

// applyLogLevel sets the global level, falling back to info for empty or
// unknown values.
func applyLogLevel(value string) zerolog.Level {
	level, err := zerolog.ParseLevel(value)
	if err != nil || level == zerolog.NoLevel {
		if value != "" {
			log.Warn().Str("log-level", value).Msg("unknown log level, using info")
		}
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	return level
}
