// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noormdev/noorm/cmd/flags"
)

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Manage named database configs",
	}
	c.AddCommand(configUseCmd())
	c.AddCommand(configListCmd())
	return c
}

func configUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the active config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStateStore()
			if err != nil {
				return err
			}
			if err := store.SetActiveConfig(args[0]); err != nil {
				return err
			}
			if flags.JSON() {
				return printJSON(map[string]string{"activeConfig": args[0]})
			}
			fmt.Printf("active config set to %q\n", args[0])
			return nil
		},
	}
}

type configListing struct {
	Name      string `json:"name"`
	Dialect   string `json:"dialect"`
	Stage     string `json:"stage,omitempty"`
	Protected bool   `json:"protected,omitempty"`
	Active    bool   `json:"active"`
}

func configListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured databases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStateStore()
			if err != nil {
				return err
			}
			active, _ := store.ActiveConfigName()
			data := store.Data()

			listings := make([]configListing, 0, len(data.Configs))
			for name, cfg := range data.Configs {
				listings = append(listings, configListing{
					Name:      name,
					Dialect:   cfg.Dialect,
					Stage:     cfg.Stage,
					Protected: cfg.Protected,
					Active:    name == active,
				})
			}

			if flags.JSON() {
				return printJSON(listings)
			}
			for _, l := range listings {
				marker := "  "
				if l.Active {
					marker = "* "
				}
				fmt.Printf("%s%s\t%s\t%s\n", marker, l.Name, l.Dialect, l.Stage)
			}
			return nil
		},
	}
}
