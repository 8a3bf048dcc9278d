// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noormdev/noorm/cmd/flags"
	"github.com/noormdev/noorm/pkg/lock"
)

func lockCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and manage the cooperative database lock",
	}
	c.AddCommand(lockStatusCmd())
	c.AddCommand(lockAcquireCmd())
	c.AddCommand(lockReleaseCmd())
	c.AddCommand(lockForceCmd())
	return c
}

type lockStatusView struct {
	State      lock.State `json:"state"`
	ConfigName string     `json:"configName"`
	LockedBy   string     `json:"lockedBy,omitempty"`
}

func lockStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the lock state for the active config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			state, row, err := app.Lock.Status(cmd.Context(), app.Config.Name, app.Identity)
			if err != nil {
				return err
			}
			view := lockStatusView{State: state, ConfigName: app.Config.Name}
			if row != nil {
				view.LockedBy = row.LockedBy
			}
			if flags.JSON() {
				return printJSON(view)
			}
			fmt.Printf("%s: %s\n", view.ConfigName, view.State)
			return nil
		},
	}
}

func lockAcquireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "acquire",
		Short: "Acquire the lock for the active config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Lock.Acquire(cmd.Context(), app.Config.Name, app.Identity, lock.AcquireOptions{}); err != nil {
				return err
			}
			fmt.Printf("lock acquired for %q\n", app.Config.Name)
			return nil
		},
	}
}

func lockReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Release the lock held by this identity on the active config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Lock.Release(cmd.Context(), app.Config.Name, app.Identity); err != nil {
				return err
			}
			fmt.Printf("lock released for %q\n", app.Config.Name)
			return nil
		},
	}
}

func lockForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force",
		Short: "Force-release the lock regardless of holder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Lock.ForceRelease(cmd.Context(), app.Config.Name); err != nil {
				return err
			}
			fmt.Printf("lock force-released for %q\n", app.Config.Name)
			return nil
		},
	}
}
