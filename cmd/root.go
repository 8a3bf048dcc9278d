// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noormdev/noorm/cmd/flags"
)

// Version is the noorm version
var Version = "development"

func init() {
	viper.SetEnvPrefix("NOORM")
	viper.AutomaticEnv()

	flags.RegisterGlobal(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "noorm",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	// register subcommands
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(changeCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(exploreCmd())
	rootCmd.AddCommand(teardownCmd())

	return rootCmd.Execute()
}
