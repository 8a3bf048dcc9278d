// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noormdev/noorm/cmd/flags"
	"github.com/noormdev/noorm/pkg/version"
)

type versionInfo struct {
	CLI            string `json:"cli"`
	InternalSchema int    `json:"internalSchemaVersion"`
	Config         string `json:"config,omitempty"`
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the noorm CLI version and the active config's internal schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{CLI: Version, InternalSchema: version.SchemaLayerVersion}

			app, err := openApp(cmd.Context())
			if err == nil {
				defer app.Close()
				if current, cerr := version.CurrentSchemaVersion(cmd.Context(), app.Conn); cerr == nil {
					info.InternalSchema = current
				}
				info.Config = app.Config.Name
			}

			if flags.JSON() {
				return printJSON(info)
			}
			fmt.Printf("noorm %s (internal schema v%d)\n", info.CLI, info.InternalSchema)
			if info.Config != "" {
				fmt.Printf("config: %s\n", info.Config)
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
