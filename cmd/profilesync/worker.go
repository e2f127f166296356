package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dipanshu-verma/profilesync"
)

func newWorkerCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Execute activities without serving HTTP or scheduling runs",
		Long: `Execute persist and sync activities from the task queue.

The worker claims and reports invocations directly against the run store, so it
needs a shared store and queue (mysql, sqlite or redis with a redis or kafka
queue). Waking runs and the recovery sweep stay with the serve command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), root)
		},
	}
}

func runWorker(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	// The orchestrator is only used as the Coordinator here so its background processes are not started.
	o := profilesync.New(d.runs, d.queue, orchestratorOptions(cfg, d)...)

	w, err := newWorker(cfg, d, o)
	if err != nil {
		return err
	}

	w.Run(ctx)
	<-ctx.Done()
	w.Stop()

	return nil
}
