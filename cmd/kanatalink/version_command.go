package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kanatalink/kanatalink/internal/app"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			line := fmt.Sprintf("%s %s", app.Name, app.BuildVersionWithDate())
			if !app.IsReleaseBuild() {
				line += " (development build)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)

			return nil
		},
	}
}
