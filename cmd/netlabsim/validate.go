// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a topology file without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadTopology(validateTopologyFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"valid: %d hosts, %d switches, %d routers, %d links, %d pings\n",
			len(cfg.Hosts), len(cfg.Switches), len(cfg.Routers),
			len(cfg.Links), len(cfg.Pings))
		return nil
	},
}

var validateTopologyFile string

func init() {
	validateCmd.Flags().StringVarP(&validateTopologyFile, "topology", "t", "",
		"topology file to validate (required)")
	validateCmd.MarkFlagRequired("topology")
}
