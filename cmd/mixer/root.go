package main

import (
	"github.com/spf13/cobra"

	"voiceover-mixer/internal/config"
	xlog "voiceover-mixer/internal/log"
)

// commandContext lazily loads configuration shared by all subcommands.
type commandContext struct {
	configPath *string
	logLevel   *string
	cfg        *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.LoadConfig(*c.configPath)
	if err != nil {
		return nil, err
	}
	if *c.logLevel != "" {
		cfg.LogLevel = *c.logLevel
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "mixer"})
	c.cfg = cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string

	ctx := &commandContext{configPath: &configFlag, logLevel: &logLevelFlag}

	rootCmd := &cobra.Command{
		Use:           "mixer",
		Short:         "Mix voice-over tracks and captions into videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMixCommand(ctx))

	return rootCmd
}
