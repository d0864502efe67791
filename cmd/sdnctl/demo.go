package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/glennswest/microsdn/pkg/network"
	"github.com/glennswest/microsdn/pkg/network/topology"
)

func newDemo(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the three-tier demo intent without touching the host",
		Long: `Demo validates, dry-runs and applies the built-in three-tier intent
with a recording executor and no persisted state, then prints each step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			// Never execute or persist in the demo.
			cfg.Execute = false
			cfg.StatePath = ""
			cfg.ArchiveDir = ""

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.flush()
			cmd.SilenceUsage = true

			return runDemo(cmd, rt)
		},
	}
}

func runDemo(cmd *cobra.Command, rt *runtime) error {
	out := cmd.OutOrStdout()
	intent := topology.Demo()
	ctrl := rt.ctrl

	step := func(title string, v interface{}) error {
		fmt.Fprintf(out, "── %s ──\n", title)
		return printJSON(out, v)
	}

	if err := step("topology (before apply)", ctrl.Topology()); err != nil {
		return err
	}

	v := ctrl.ValidateIntent(intent)
	if err := step("validate", v); err != nil {
		return err
	}
	if !v.Valid {
		return fmt.Errorf("demo intent invalid: %v", v.Errors)
	}

	if err := step("dry-run", ctrl.DryRun(intent)); err != nil {
		return err
	}

	res, err := ctrl.ApplyIntent(cmd.Context(), intent, false)
	if perr := step("apply", res); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}

	again, err := ctrl.ApplyIntent(cmd.Context(), intent, false)
	if err != nil {
		return err
	}
	if err := step("apply (unchanged)", again); err != nil {
		return err
	}

	if err := step("topology (after apply)", ctrl.Topology()); err != nil {
		return err
	}
	if err := step("status", ctrl.Status()); err != nil {
		return err
	}

	printRecorded(out, rt.recorder.Commands())
	return nil
}

func printRecorded(w io.Writer, cmds []network.Command) {
	fmt.Fprintf(w, "── recorded commands (%d) ──\n", len(cmds))
	for _, c := range cmds {
		fmt.Fprintln(w, c.String())
	}
}
