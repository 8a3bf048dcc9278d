// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/noormdev/noorm/cmd/flags"
	"github.com/noormdev/noorm/pkg/build"
	"github.com/noormdev/noorm/pkg/eventbus"
	"github.com/noormdev/noorm/pkg/settings"
)

const settingsPath = ".noorm/settings.yml"

func runCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Run the schema builder against the active config",
	}
	c.AddCommand(runBuildCmd())
	c.AddCommand(runFileCmd())
	c.AddCommand(runDirCmd())
	return c
}

func runBuildCmd() *cobra.Command {
	var force, continueOnError bool
	c := &cobra.Command{
		Use:   "build",
		Short: "Run every schema file under sql/, filtered by the rule evaluator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			cfgView := settings.ConfigView{
				Name:      app.Config.Name,
				Stage:     app.Config.Stage,
				IsTest:    app.Config.IsTest,
				Protected: app.Config.Protected,
			}

			runner := &build.Runner{Conn: app.Conn, Engine: app.Template, TmplCtx: app.templateContext(), Events: app.Events, SQLRoot: app.SQLRoot}

			done := trackBuildProgress(app.Events, "Building schema")
			result, err := runner.RunBuild(cmd.Context(), app.SQLRoot, app.Settings, cfgView, build.Options{Force: force, ContinueOnError: continueOnError})
			done()
			if !flags.JSON() {
				fmt.Printf("Build %s (%d files)\n", result.Status, len(result.Records))
			}

			if flags.JSON() {
				return printJSON(result)
			}
			return err
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Re-run every file regardless of checksum")
	c.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep running later files after one fails")
	return c
}

func runFileCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "file <path>",
		Short: "Run a single schema file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			runner := &build.Runner{Conn: app.Conn, Engine: app.Template, TmplCtx: app.templateContext(), Events: app.Events, SQLRoot: app.SQLRoot}
			rec, err := runner.RunFile(cmd.Context(), args[0], build.Options{Force: force})
			if flags.JSON() {
				return printJSON(rec)
			}
			fmt.Printf("%s: %s\n", rec.FilePath, rec.Status)
			return err
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Re-run the file regardless of checksum")
	return c
}

func runDirCmd() *cobra.Command {
	var force, continueOnError bool
	c := &cobra.Command{
		Use:   "dir <path>",
		Short: "Run every schema file under a directory, in path order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			runner := &build.Runner{Conn: app.Conn, Engine: app.Template, TmplCtx: app.templateContext(), Events: app.Events, SQLRoot: app.SQLRoot}

			done := trackBuildProgress(app.Events, "Running "+args[0])
			result, err := runner.RunDir(cmd.Context(), args[0], build.Options{Force: force, ContinueOnError: continueOnError})
			done()
			if flags.JSON() {
				return printJSON(result)
			}
			fmt.Printf("%s (%d files)\n", result.Status, len(result.Records))
			return err
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Re-run every file regardless of checksum")
	c.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep running later files after one fails")
	return c
}

// trackBuildProgress subscribes a terminal progress bar to a runner's
// per-file completion events, one tick per file, total unknown up front
// since the rule-filtered file count isn't known until the walk finishes.
// The returned func unsubscribes and closes out the bar; it is a no-op in
// headless mode.
func trackBuildProgress(events *eventbus.Bus, label string) func() {
	if flags.Headless() || events == nil {
		return func() {}
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	unsubscribe := events.Subscribe("build:file:complete", func(eventbus.Event) {
		_ = bar.Add(1)
	})

	return func() {
		unsubscribe()
		_ = bar.Finish()
	}
}
