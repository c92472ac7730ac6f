package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/echo-music/echo-server/cmd/cache"
	"github.com/echo-music/echo-server/cmd/conflicts"
	"github.com/echo-music/echo-server/cmd/enrich"
	"github.com/echo-music/echo-server/cmd/resolve"
	"github.com/echo-music/echo-server/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "echo-server",
		Short: "Echo music server CLI",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	subcommands := []*cobra.Command{
		enrich.Command(settings),
		resolve.Command(settings),
		conflicts.Command(settings),
		cache.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Parse the command line flags so they take precedence over the
		// configuration file before any subcommand runs.
		return cmd.Flags().Parse(args)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
