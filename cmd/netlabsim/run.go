// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"sort"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/netlab/netsim/host"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a topology: bring it up, ping, print state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTopology(cmd.OutOrStdout(), runTopologyFile)
	},
}

var runTopologyFile string

func init() {
	runCmd.Flags().StringVarP(&runTopologyFile, "topology", "t", "",
		"topology file to run (required)")
	runCmd.MarkFlagRequired("topology")
}

// newLogger returns the logger for the run, nil unless verbose.
func newLogger() *slog.Logger {
	if !verbose {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// runTopology builds the lab, runs the declared pings, and
// prints routing tables, NAT state, and the trace size.
func runTopology(w io.Writer, path string) error {
	cfg, err := loadTopology(path)
	if err != nil {
		return err
	}
	lb, err := buildLab(cfg, newLogger())
	if err != nil {
		return err
	}
	defer lb.scenario.Close()

	for _, pc := range cfg.Pings {
		runPing(w, lb, pc)
	}
	printRouters(w, lb, cfg)

	fmt.Fprintf(w, "\ncaptured %d frames\n", len(lb.scenario.Trace()))
	return nil
}

// runPing runs one declared ping and prints the outcome.
func runPing(w io.Writer, lb *lab, pc pingConfig) {
	src := lb.hosts[pc.From]
	dst := netip.MustParseAddr(pc.To)
	ttl := pc.TTL
	if ttl == 0 {
		ttl = host.DefaultTTL
	}
	res, err := src.Ping(dst, ttl)
	if err != nil {
		fmt.Fprintf(w, "PING %s -> %s: %s (%v)\n",
			pc.From, pc.To, errclass.New(err), err)
		return
	}
	fmt.Fprintf(w, "PING %s -> %s: reply from %s, ttl %d\n",
		pc.From, pc.To, res.From, res.TTL)
}

// printRouters prints each router's routing table, ACL hit
// counters, NAT statistics, and OSPF neighbors.
func printRouters(w io.Writer, lb *lab, cfg *topologyConfig) {
	for _, rc := range cfg.Routers {
		r := lb.routers[rc.Name]

		fmt.Fprintf(w, "\n%s routing table:\n", rc.Name)
		routes := r.RoutingTable().Routes()
		sort.Slice(routes, func(i, j int) bool {
			return routes[i].Prefix.String() < routes[j].Prefix.String()
		})
		for _, route := range routes {
			fmt.Fprintf(w, "  %s\n", route)
		}

		for _, list := range rc.ACLs {
			id := fmt.Sprintf("%d", list.Number)
			if got, ok := r.ACL().GetACL(id); ok {
				fmt.Fprintf(w, "%s access list %s:\n", rc.Name, id)
				for _, entry := range got.Entries {
					fmt.Fprintf(w, "  %s (%d matches)\n", entry, entry.Hits)
				}
			}
		}

		if rc.NAT != nil {
			stats := r.NAT().GetStatistics()
			fmt.Fprintf(w, "%s nat: %d active, %d hits, %d misses, %d expired\n",
				rc.Name, stats.Active, stats.Hits, stats.Misses, stats.Expired)
			for _, tr := range r.NAT().Translations() {
				fmt.Fprintf(w, "  %s -> %s\n", tr.InsideLocal, tr.InsideGlobal)
			}
		}

		if eng, ok := lb.ospf[rc.Name]; ok {
			fmt.Fprintf(w, "%s ospf events:\n", rc.Name)
			for _, ev := range eng.Events() {
				fmt.Fprintf(w, "  %s\n", ev)
			}
		}
	}
}
