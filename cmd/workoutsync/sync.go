// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gorillax/workoutsync/syncer"
)

// reportView is the printable form of a syncer.Report
type reportView struct {
	Skipped      string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Pushed       int    `json:"pushed" yaml:"pushed"`
	Acknowledged int    `json:"acknowledged" yaml:"acknowledged"`
	Failed       int    `json:"failed" yaml:"failed"`
	Pulled       int    `json:"pulled" yaml:"pulled"`
	Applied      int    `json:"applied" yaml:"applied"`
	Pending      int    `json:"pending" yaml:"pending"`
	Checkpoint   int64  `json:"checkpoint" yaml:"checkpoint"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newReportView(rep syncer.Report) reportView {
	v := reportView{
		Skipped:      string(rep.Skipped),
		Pushed:       rep.Pushed,
		Acknowledged: rep.Acknowledged,
		Failed:       rep.Failed,
		Pulled:       rep.Pulled,
		Applied:      rep.Applied,
		Pending:      rep.Pending,
		Checkpoint:   rep.Checkpoint,
	}
	if rep.Err != nil {
		v.Error = rep.Err.Error()
	}
	return v
}

// NewSyncCommand runs a single sync pass
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes and pull remote changes once",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			a.refreshConnectivity(ctx)
			rep := a.orch.Drain(ctx)
			view := newReportView(rep)
			if err := a.render(view, func(w io.Writer) error {
				if rep.Skipped != syncer.SkipNone {
					fmt.Fprintf(w, "Sync skipped (%s), %d change(s) pending\n", rep.Skipped, rep.Pending)
					return nil
				}
				fmt.Fprintf(w, "Pushed %d, acknowledged %d, failed %d\n", rep.Pushed, rep.Acknowledged, rep.Failed)
				fmt.Fprintf(w, "Pulled %d, applied %d\n", rep.Pulled, rep.Applied)
				fmt.Fprintf(w, "Pending %d, checkpoint %s\n", rep.Pending, formatMillis(rep.Checkpoint))
				return nil
			}); err != nil {
				return err
			}
			if rep.Err != nil {
				return fmt.Errorf("sync pass failed: %w", rep.Err)
			}
			return nil
		}),
	}
}

// NewRunCommand keeps syncing in the background until interrupted
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync continuously, following connectivity changes",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			g, ctx := errgroup.WithContext(cmd.Context())

			cancelWatch := a.orch.OnPendingChange(func(pending int) {
				a.logger.Info("Pending changes", "count", pending)
			})
			defer cancelWatch()

			switch {
			case a.probe != nil:
				g.Go(func() error { return a.probe.Run(ctx) })
			case a.flag != nil:
				g.Go(func() error { return a.flag.Run(ctx) })
			}
			g.Go(func() error { return a.orch.Run(ctx) })

			a.logger.Info("Sync loop started",
				"server", a.cfg.Server.BaseURL,
				"connectivity", a.cfg.Connectivity.Mode,
				"store", a.store.Kind())
			if err := g.Wait(); err != nil {
				return err
			}
			a.logger.Info("Sync loop stopped")
			return nil
		}),
	}
}
