package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/luno/jettison/errors"
	"github.com/luno/reflex/rpatterns"
	"github.com/spf13/cobra"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/sqlstore"
)

func newRunsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect saga runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <run-id>",
		Short: "Print the status report of a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getRun(cmd.Context(), root, args[0], cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print run status changes as they are committed (mysql with events only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchRuns(cmd.Context(), root, cmd.OutOrStdout())
		},
	})

	return cmd
}

func getRun(ctx context.Context, opts *rootOptions, runID string, out io.Writer) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	o := profilesync.New(d.runs, d.queue, orchestratorOptions(cfg, d)...)
	report, err := o.GetStatus(ctx, runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func watchRuns(ctx context.Context, opts *rootOptions, out io.Writer) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	store, ok := d.runs.(*sqlstore.RunStore)
	if !ok {
		return errors.Wrap(profilesync.ErrConfiguration, "watch requires the mysql store")
	}

	err = store.Consume(ctx, "profilesync-cli-watch", rpatterns.MemCursorStore(),
		func(ctx context.Context, runID string, status profilesync.Status) error {
			_, err := fmt.Fprintf(out, "%s\t%s\n", runID, status)
			return err
		},
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
