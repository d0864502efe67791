package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/glennswest/microsdn/pkg/archive"
	"github.com/glennswest/microsdn/pkg/network"
	"github.com/glennswest/microsdn/pkg/network/topology"
)

// withRuntime loads config, builds the runtime and runs fn with it.
func withRuntime(opts *globalOpts, cmd *cobra.Command, fn func(*runtime) error) error {
	cfg, err := opts.loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.flush()

	// Arguments are well-formed from here on.
	cmd.SilenceUsage = true
	return fn(rt)
}

func newStatus(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last applied intent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, cmd, func(rt *runtime) error {
				return printJSON(cmd.OutOrStdout(), rt.ctrl.Status())
			})
		},
	}
}

func newTopology(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Show the applied topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, cmd, func(rt *runtime) error {
				return printJSON(cmd.OutOrStdout(), rt.ctrl.Topology())
			})
		},
	}
}

func newHealth(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Compare the applied topology with live host state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, cmd, func(rt *runtime) error {
				report := rt.ctrl.CheckHealth(cmd.Context())
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Healthy {
					return errors.New("drift detected")
				}
				return nil
			})
		},
	}
}

func newValidate(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <intent-file>",
		Short: "Validate an intent file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := topology.Load(args[0])
			if err != nil {
				return err
			}
			return withRuntime(opts, cmd, func(rt *runtime) error {
				res := rt.ctrl.ValidateIntent(intent)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Valid {
					return fmt.Errorf("intent invalid: %d problem(s)", len(res.Errors))
				}
				return nil
			})
		},
	}
}

func newDryRun(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run <intent-file>",
		Short: "Compile an intent and print the plan without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := topology.Load(args[0])
			if err != nil {
				return err
			}
			return withRuntime(opts, cmd, func(rt *runtime) error {
				res := rt.ctrl.DryRun(intent)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return errors.New("intent invalid")
				}
				return nil
			})
		},
	}
}

func newApply(opts *globalOpts) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "apply <intent-file>",
		Short: "Apply an intent",
		Long: `Apply validates and compiles the intent, then runs the command plan.
If the intent content is unchanged since the last apply, nothing runs unless
--force is given. Without --execute (or execute: true in the config) commands
are only recorded and logged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := topology.Load(args[0])
			if err != nil {
				return err
			}
			return withRuntime(opts, cmd, func(rt *runtime) error {
				res, err := rt.ctrl.ApplyIntent(cmd.Context(), intent, force)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-run the plan even if the intent is unchanged")
	return cmd
}

func newServe(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and watch for drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, cmd, func(rt *runtime) error {
				ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()
				return serve(ctx, rt)
			})
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	mux := http.NewServeMux()
	rt.ctrl.RegisterRoutes(mux, rt.registry)

	srv := &http.Server{
		Addr:              rt.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.log.Infow("API listening", "addr", rt.cfg.ListenAddr, "execute", rt.cfg.Execute)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rt.ctrl.RunWatch(gctx, network.WatchOpts{Interval: rt.cfg.WatchInterval})
		return nil
	})
	if rt.archive != nil {
		gc := archive.NewGC(rt.archive, archive.GCOpts{
			Interval:  rt.cfg.ArchiveGC.Interval,
			KeepLastN: rt.cfg.ArchiveGC.KeepLastN,
			DryRun:    rt.cfg.ArchiveGC.DryRun,
		}, func() string { return rt.ctrl.Status().IntentHash }, rt.log)
		g.Go(func() error {
			gc.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
