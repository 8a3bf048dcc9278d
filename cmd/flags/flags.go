// SPDX-License-Identifier: Apache-2.0

// Package flags centralizes noorm's persistent CLI flags and their bound
// environment variables (§6: --json, --headless/-H, --config, NOORM_*, CI).
package flags

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// JSON reports whether output should be machine-readable JSON.
func JSON() bool { return viper.GetBool("JSON") }

// Headless reports whether interactive prompts and spinners are disabled:
// explicitly via --headless/-H, because CI is set, or because stdout isn't
// attached to a terminal at all (piped output, a cron job, a CCR session)
// (§6).
func Headless() bool {
	return viper.GetBool("HEADLESS") || os.Getenv("CI") != "" || !isatty.IsTerminal(os.Stdout.Fd())
}

// ConfigName returns the --config/-c override, if any; empty means "use the
// active config".
func ConfigName() string { return viper.GetString("CONFIG") }

// Yes reports whether protected destructive actions should proceed without
// a confirmation phrase (NOORM_YES=1, §6).
func Yes() bool { return viper.GetBool("YES") }

// Debug reports whether verbose diagnostic logging is enabled.
func Debug() bool { return viper.GetBool("DEBUG") }

// LogLevel returns the configured log level, defaulting to "info".
func LogLevel() string {
	if l := viper.GetString("LOG_LEVEL"); l != "" {
		return l
	}
	return "info"
}

// RegisterGlobal installs noorm's persistent flags on cmd and binds each to
// its viper key, so NOORM_-prefixed env vars apply automatically.
func RegisterGlobal(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("json", false, "Emit machine-readable JSON output")
	cmd.PersistentFlags().BoolP("headless", "H", false, "Disable interactive prompts and spinners")
	cmd.PersistentFlags().StringP("config", "c", "", "Named config to operate against (default: the active config)")
	cmd.PersistentFlags().Bool("yes", false, "Force-confirm protected destructive actions")
	cmd.PersistentFlags().Bool("debug", false, "Enable verbose diagnostic logging")
	cmd.PersistentFlags().String("log-level", "", "Override the configured log level")

	viper.BindPFlag("JSON", cmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("HEADLESS", cmd.PersistentFlags().Lookup("headless"))
	viper.BindPFlag("CONFIG", cmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("YES", cmd.PersistentFlags().Lookup("yes"))
	viper.BindPFlag("DEBUG", cmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("LOG_LEVEL", cmd.PersistentFlags().Lookup("log-level"))
}
