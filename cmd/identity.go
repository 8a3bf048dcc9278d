// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/noormdev/noorm/cmd/flags"
	"github.com/noormdev/noorm/pkg/identity"
)

func identityCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "identity",
		Short: "Inspect the local cryptographic identity",
	}
	c.AddCommand(identityShowCmd())
	return c
}

func identityShowCmd() *cobra.Command {
	var knownUsers bool
	c := &cobra.Command{
		Use:   "show",
		Short: "Print the provisioned identity, generating a keypair on first run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := identity.DefaultHome()
			if err != nil {
				return err
			}

			var ci *identity.CryptoIdentity
			if home.Exists() {
				ci, _, err = home.Load()
				if err != nil {
					return err
				}
			} else {
				resolved := identity.Resolve(identity.ResolveOptions{})
				machine, _ := os.Hostname()
				ci, _, err = home.Provision(resolved.Name, resolved.Email, machine)
				if err != nil {
					return err
				}
			}

			if !knownUsers {
				if flags.JSON() {
					return printJSON(ci)
				}
				fmt.Printf("%s <%s>\n", ci.Name, ci.Email)
				fmt.Printf("identity hash: %s\n", ci.IdentityHash)
				fmt.Printf("machine: %s\n", ci.Machine)
				return nil
			}

			store, err := openStateStore()
			if err != nil {
				return err
			}
			roster := store.Data().KnownUsers
			names := make([]string, 0, len(roster))
			for hash := range roster {
				names = append(names, hash)
			}
			sort.Strings(names)

			if flags.JSON() {
				ordered := make([]identity.KnownUser, 0, len(names))
				for _, hash := range names {
					ordered = append(ordered, roster[hash])
				}
				return printJSON(ordered)
			}
			for _, hash := range names {
				u := roster[hash]
				fmt.Printf("%s <%s> (%s) last seen %s\n", u.Name, u.Email, u.Machine, u.LastSeen.Format("2006-01-02"))
			}
			return nil
		},
	}
	c.Flags().BoolVar(&knownUsers, "known-users", false, "List every collaborator identity synced from connected databases")
	return c
}
