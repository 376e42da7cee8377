package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/logging"
	"github.com/ivlev/animatic/internal/source"
	"github.com/ivlev/animatic/internal/system"
)

type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string

	once    sync.Once
	config  *config.Config
	logger  *slog.Logger
	loadErr error
}

func newCommandContext(configFlag, logLevelFlag, logFormatFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
	}
}

// ensure loads configuration and builds the logger once per process.
func (c *commandContext) ensure() (*config.Config, *slog.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.loadErr = err
			return
		}
		if v := strings.TrimSpace(*c.logLevelFlag); v != "" {
			cfg.Log.Level = v
		}
		if v := strings.TrimSpace(*c.logFormatFlag); v != "" {
			cfg.Log.Format = v
		}
		logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			c.loadErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.logger, c.loadErr
}

func (c *commandContext) fetcher() source.Fetcher {
	return source.NewFetcher(c.config.Preload.Timeout())
}

func newRootCommand() *cobra.Command {
	var configFlag, logLevelFlag, logFormatFlag string
	ctx := newCommandContext(&configFlag, &logLevelFlag, &logFormatFlag)

	rootCmd := &cobra.Command{
		Use:           "animatic",
		Short:         "Render storyboards into animatic videos with a mixed soundtrack",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			system.InitResourceLimits(logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: console or json")

	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newMuxCommand(ctx))
	rootCmd.AddCommand(newInspectCommand(ctx))
	rootCmd.AddCommand(newStoryboardCommand(ctx))
	rootCmd.AddCommand(newCodecsCommand(ctx))

	return rootCmd
}
