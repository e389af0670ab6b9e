package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/event"
	"github.com/bamsammich/strata/internal/selector"
	"github.com/bamsammich/strata/internal/snapshot"
	"github.com/bamsammich/strata/internal/stats"
	"github.com/bamsammich/strata/internal/tree"
	"github.com/bamsammich/strata/internal/ui"
)

// withRepo opens the repository, runs fn with a presenter consuming its
// events, and prints the summary.
func (o *options) withRepo(
	cmd *cobra.Command,
	summary bool,
	fn func(ctx context.Context, repo *snapshot.Repository) error,
) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := o.repoOptions()
	if err != nil {
		return err
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)
	opts.Events = events
	opts.Stats = collector

	repo, err := snapshot.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer repo.Close()

	isTTY, width := false, 0
	if f, ok := cmd.ErrOrStderr().(*os.File); ok {
		isTTY, width = ui.IsTTY(f), ui.TermWidth(f)
	}
	presenter := ui.NewPresenter(ui.Config{
		Writer:     cmd.OutOrStdout(),
		ErrWriter:  cmd.ErrOrStderr(),
		Stats:      collector,
		IsTTY:      isTTY,
		Width:      width,
		Quiet:      o.quiet,
		Verbose:    o.verbose,
		NoProgress: o.noProgress,
	})

	var (
		presenterErr error
		wg           sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		presenterErr = presenter.Run(o.teeEvents(events))
	}()

	err = fn(ctx, repo)
	if ctx.Err() != nil {
		if n := tree.CleanupTemp(); n > 0 {
			o.logger.Info("removed temp files of interrupted writes", "count", n)
		}
	}
	close(events)
	wg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "presenter: %v\n", presenterErr)
	}

	if err == nil && summary && o.verbose {
		if s := presenter.Summary(); s != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), s)
		}
	}
	return err
}

func newSnapshotCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"take"},
		Short:   "Record the current state of the tree",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withRepo(cmd, true, func(ctx context.Context, repo *snapshot.Repository) error {
				_, err := repo.Take(ctx)
				return err
			})
		},
	}
}

func newRestoreCmd(o *options) *cobra.Command {
	var (
		date      string
		direction string
		prune     bool
	)
	cmd := &cobra.Command{
		Use:   "restore [ID|last]",
		Short: "Restore the tree to a recorded snapshot",
		Long: "Restore the tree to the snapshot with the given ID, to the newest\n" +
			"snapshot (no argument or \"last\"), or to the snapshot matching --date.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("prune") && o.cfg.Defaults.Prune != nil {
				prune = *o.cfg.Defaults.Prune
			}
			ropts := snapshot.RestoreOptions{Prune: prune}

			var target string
			if len(args) == 1 {
				target = args[0]
			}
			if date != "" && target != "" {
				return fmt.Errorf("%w: give either a snapshot ID or --date, not both", domain.ErrConfiguration)
			}
			dir, err := selector.ParseDirection(direction)
			if err != nil {
				return err
			}

			return o.withRepo(cmd, true, func(ctx context.Context, repo *snapshot.Repository) error {
				var (
					id  domain.SnapshotID
					err error
				)
				switch {
				case date != "":
					t, perr := parseDate(date)
					if perr != nil {
						return perr
					}
					id, _, err = repo.RestoreToDate(ctx, t, dir, ropts)
				case target == "" || target == "last" || target == "latest":
					id, _, err = repo.RestoreLatest(ctx, ropts)
				default:
					id, err = domain.ParseSnapshotID(target)
					if err != nil {
						return err
					}
					_, err = repo.Restore(ctx, id, ropts)
				}
				if err != nil {
					return err
				}
				if !o.quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "restore the snapshot matching this time (YYYYmmdd_HHMMSS)")
	cmd.Flags().StringVar(&direction, "direction", "exact",
		"how --date selects a snapshot: exact, before, after or closest")
	cmd.Flags().BoolVar(&prune, "prune", false, "remove files that are not part of the snapshot")
	return cmd
}

func newListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "history"},
		Short:   "List recorded snapshots",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withRepo(cmd, false, func(ctx context.Context, repo *snapshot.Repository) error {
				entries, err := repo.History(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if o.quiet {
					for _, e := range entries {
						fmt.Fprintln(out, e.ID)
					}
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tPREV\tCOMPRESSION\tCHANGED\tDELETED\tSIZE")
				for _, e := range entries {
					prev := e.PrevID.String()
					if prev == "" {
						prev = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
						e.ID, prev, e.Tier, e.Replaced, e.Deleted, ui.FormatBytes(e.Bytes))
				}
				return tw.Flush()
			})
		},
	}
}

func newShowCmd(o *options) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show the changes recorded by a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseSnapshotID(args[0])
			if err != nil {
				return err
			}
			return o.withRepo(cmd, false, func(ctx context.Context, repo *snapshot.Repository) error {
				out := cmd.OutOrStdout()
				if full {
					res, err := repo.State(ctx, id)
					if err != nil {
						return err
					}
					for _, p := range res.State.Paths() {
						fmt.Fprintf(out, "%s  %s\n", p, ui.FormatBytes(int64(len(res.State[p]))))
					}
					return nil
				}

				rec, d, err := repo.Changes(ctx, id)
				if err != nil {
					return err
				}
				prev := rec.Prev().String()
				if prev == "" {
					prev = "none"
				}
				fmt.Fprintf(out, "snapshot %s  prev %s  compression %s\n", rec.ID, prev, rec.Compression)
				for _, p := range d.Paths() {
					c := d[p]
					if c.Deleted {
						fmt.Fprintf(out, "- %s\n", p)
						continue
					}
					fmt.Fprintf(out, "+ %s  %s\n", p, ui.FormatBytes(int64(len(c.Content))))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "list every file in the reconstructed tree instead of the changes")
	return cmd
}

func newVerifyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every snapshot decodes and resolves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var report snapshot.VerifyReport
			err := o.withRepo(cmd, false, func(ctx context.Context, repo *snapshot.Repository) error {
				var err error
				report, err = repo.Verify(ctx)
				return err
			})
			if err != nil {
				return err
			}
			if !o.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "verified %d snapshots, %d problems\n", report.Checked, len(report.Problems))
			}
			if !report.OK() {
				return &exitError{code: 2}
			}
			return nil
		},
	}
}
