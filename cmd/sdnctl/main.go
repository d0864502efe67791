// sdnctl: intent-based SDN controller.
//
// Operators describe segments, overlays and policies in an intent file; sdnctl
// validates it, compiles it into bridges, overlay devices, nft rules and an
// ordered command plan, applies the plan and watches the host for drift.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	executable := filepath.Base(os.Args[0])
	opts := &globalOpts{}

	cmd := &cobra.Command{
		Use:   executable,
		Short: "Intent-based SDN controller",
		Args:  cobra.NoArgs,
		// Errors are printed below.
		SilenceErrors: true,
		Version:       version,
	}
	opts.bind(cmd.PersistentFlags())

	cmd.AddCommand(
		newStatus(opts),
		newHealth(opts),
		newTopology(opts),
		newValidate(opts),
		newDryRun(opts),
		newApply(opts),
		newDemo(opts),
		newServe(opts),
	)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
