package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/kanatalink/kanatalink/internal/app"
)

// commandContext carries the persistent flags shared by every subcommand.
type commandContext struct {
	rootDir  string
	logLevel string
}

func (c *commandContext) paths() (app.Paths, error) {
	if root := strings.TrimSpace(c.rootDir); root != "" {
		return app.PathsIn(root)
	}

	return app.ResolvePaths()
}

func (c *commandContext) overrides() app.Overrides {
	return app.Overrides{
		RootDir:  strings.TrimSpace(c.rootDir),
		LogLevel: strings.TrimSpace(c.logLevel),
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           app.Name,
		Short:         "Forward kanata TCP messages to the desktop",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.rootDir, "dir", "", "Directory for config, journal and logs (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newPingCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
