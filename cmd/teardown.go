// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noormdev/noorm/cmd/flags"
	"github.com/noormdev/noorm/internal/noormerr"
)

func teardownCmd() *cobra.Command {
	var confirm string
	c := &cobra.Command{
		Use:   "teardown",
		Short: "Drop every user table in the active config's database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Config.Protected {
				return app.exploreManager().Teardown(cmd.Context(), true)
			}
			if !flags.Yes() && confirm != noormerr.ConfirmPhrase(app.Config.Name) {
				return fmt.Errorf("noorm: teardown of %q requires --confirm=%s or --yes", app.Config.Name, noormerr.ConfirmPhrase(app.Config.Name))
			}

			sp := startSpinner(fmt.Sprintf("Tearing down %s...", app.Config.Name))
			err = app.exploreManager().Teardown(cmd.Context(), false)
			finishSpinner(sp, err, fmt.Sprintf("%s torn down", app.Config.Name))
			return err
		},
	}
	c.Flags().StringVar(&confirm, "confirm", "", "Confirmation phrase, yes-<config>, required unless --yes/NOORM_YES is set")
	return c
}
