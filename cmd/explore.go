// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noormdev/noorm/cmd/flags"
)

func exploreCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "explore",
		Short: "Inspect the active config's database schema",
	}
	c.AddCommand(exploreTablesCmd())
	return c
}

func exploreTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the active config's user tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			tables, err := app.exploreManager().Tables(cmd.Context())
			if err != nil {
				return err
			}
			if flags.JSON() {
				return printJSON(tables)
			}
			for _, t := range tables {
				fmt.Println(t)
			}
			return nil
		},
	}
}
