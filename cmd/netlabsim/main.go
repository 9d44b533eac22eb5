// SPDX-License-Identifier: GPL-3.0-or-later

// Command netlabsim loads a YAML topology, brings the simulated
// internetwork up, runs the declared pings, and prints the
// resulting routing tables and NAT statistics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// verbose enables structured logging on the standard error.
var verbose bool

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netlabsim",
	Short: "netlabsim - deterministic internetwork simulator",
	Long: `Netlabsim simulates small routed internetworks deterministically.

A YAML topology declares hosts, switches, routers with their
interfaces, static routes, access lists, NAT rules, and OSPF
processes, plus the cables joining them and the pings to run
once the network is up. Time is simulated, so runs are exactly
reproducible.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"emit structured logs on stderr")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "netlabsim: %v\n", err)
		os.Exit(1)
	}
}
