// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/noormdev/noorm/cmd/flags"
	"github.com/noormdev/noorm/pkg/change"
)

func changeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "change",
		Short: "Discover, run, and revert versioned change directories",
	}
	c.AddCommand(changeListCmd())
	c.AddCommand(changeRunCmd())
	c.AddCommand(changeRevertCmd())
	c.AddCommand(changeNextCmd())
	c.AddCommand(changeFFCmd())
	c.AddCommand(changeRewindCmd())
	c.AddCommand(changeHistoryCmd())
	c.AddCommand(changeCreateCmd())
	return c
}

func changeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every discovered change with its derived status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.changeEngine().List(cmd.Context())
			if err != nil {
				return err
			}
			if flags.JSON() {
				return printJSON(entries)
			}
			for _, e := range entries {
				name := e.Change.Name
				if e.Orphaned {
					fmt.Printf("%s\t%s\t(orphaned)\n", name, e.Status)
					continue
				}
				fmt.Printf("%s\t%s\tneedsRun=%v\t%s\n", name, e.Status, e.NeedsRun, e.Reason)
			}
			return nil
		},
	}
}

func changeRunCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "run <name>",
		Short: "Apply a change's forward files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			sp := startSpinner(fmt.Sprintf("Running %s...", args[0]))
			err = app.changeEngine().Run(cmd.Context(), args[0], change.Options{Force: force})
			finishSpinner(sp, err, fmt.Sprintf("%s applied", args[0]))
			return err
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Re-run even if the combined checksum is unchanged")
	return c
}

func changeRevertCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "revert <name>",
		Short: "Revert a change's revert files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			sp := startSpinner(fmt.Sprintf("Reverting %s...", args[0]))
			err = app.changeEngine().Revert(cmd.Context(), args[0], change.Options{Force: force})
			finishSpinner(sp, err, fmt.Sprintf("%s reverted", args[0]))
			return err
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Re-revert even if the combined checksum is unchanged")
	return c
}

func changeNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Apply the single lexicographically-first pending change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			name, err := app.changeEngine().Next(cmd.Context(), change.Options{})
			if flags.JSON() {
				return printJSON(map[string]string{"ran": name})
			}
			if err == nil {
				fmt.Printf("ran %s\n", name)
			}
			return err
		},
	}
}

func changeFFCmd() *cobra.Command {
	var force, continueOnError bool
	c := &cobra.Command{
		Use:   "ff",
		Short: "Apply every pending change in canonical order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ran, err := app.changeEngine().FF(cmd.Context(), change.Options{Force: force, ContinueOnError: continueOnError})
			if flags.JSON() {
				return printJSON(map[string]any{"ran": ran})
			}
			for _, name := range ran {
				fmt.Printf("ran %s\n", name)
			}
			return err
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Re-run even if the combined checksum is unchanged")
	c.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep applying later changes after one fails")
	return c
}

func changeRewindCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "rewind <count|name>",
		Short: "Revert the most recently applied changes, by count or back through a named change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			target := change.RewindTarget{Name: args[0]}
			if n, convErr := strconv.Atoi(args[0]); convErr == nil {
				target = change.RewindTarget{Count: n}
			}

			reverted, err := app.changeEngine().Rewind(cmd.Context(), target, change.Options{})
			if flags.JSON() {
				return printJSON(map[string]any{"reverted": reverted})
			}
			for _, name := range reverted {
				fmt.Printf("reverted %s\n", name)
			}
			return err
		},
	}
	return c
}

func changeHistoryCmd() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "history",
		Short: "List recorded change/revert operations, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.changeEngine().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if flags.JSON() {
				return printJSON(entries)
			}
			for _, e := range entries {
				orphanMark := ""
				if e.Orphaned {
					orphanMark = " (orphaned)"
				}
				fmt.Printf("%s\t%s\t%s\t%s%s\n", e.Row.ExecutedAt.Format(time.RFC3339), e.Row.Name, e.Row.Direction, e.Row.Status, orphanMark)
			}
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 0, "Cap the number of entries returned")
	return c
}

func changeCreateCmd() *cobra.Command {
	var date string
	c := &cobra.Command{
		Use:   "create <slug>",
		Short: "Scaffold a new change directory under changes/",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if date == "" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			dirName := fmt.Sprintf("%s-%s", date, args[0])
			dir := filepath.Join(app.ChangesDir, dirName)
			for _, sub := range []string{"change", "revert"} {
				if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
					return fmt.Errorf("scaffold %s/%s: %w", dirName, sub, err)
				}
			}
			fmt.Printf("created %s\n", dir)
			return nil
		},
	}
	c.Flags().StringVar(&date, "date", "", "Override the folder's date prefix (default: today, UTC)")
	return c
}

func startSpinner(text string) *pterm.SpinnerPrinter {
	if flags.Headless() {
		return nil
	}
	sp, _ := pterm.DefaultSpinner.WithText(text).Start()
	return sp
}

func finishSpinner(sp *pterm.SpinnerPrinter, err error, successText string) {
	if sp == nil {
		return
	}
	if err != nil {
		sp.Fail(err.Error())
		return
	}
	sp.Success(successText)
}
