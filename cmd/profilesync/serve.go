package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/httpsync"
	"github.com/Dipanshu-verma/profilesync/adapters/intake"
	"github.com/Dipanshu-verma/profilesync/config"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	*rootOptions
	withWorker bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP intake, the orchestrator and a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.withWorker, "worker", true, "execute activities in this process")

	return cmd
}

func serve(ctx context.Context, opts *serveOptions) error {
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

	o := profilesync.New(d.runs, d.queue, orchestratorOptions(cfg, d)...)

	// Runs left mid-flight by a previous process are picked up before new requests are accepted. Runs that fail
	// here are logged and retried by the recovery sweep.
	err = o.ResumeAll(ctx)
	if errors.Is(err, context.Canceled) {
		return err
	} else if err != nil {
		d.logger.Error(ctx, errors.Wrap(err, "resume runs on startup"))
	}

	o.Run(ctx)
	defer o.Stop()

	if opts.withWorker {
		w, err := newWorker(cfg, d, o)
		if err != nil {
			return err
		}

		w.Run(ctx)
		defer w.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           intake.NewHandler(d.profiles, o),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return errors.Wrap(err, "listen", j.MKV{"addr": cfg.ListenAddr})
	})
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func newWorker(cfg config.Config, d *deps, coord profilesync.Coordinator) (*profilesync.Worker, error) {
	sc, err := httpsync.New(cfg.Sync)
	if err != nil {
		return nil, err
	}

	return profilesync.NewProfileWorker(d.queue, coord, d.profiles, sc, workerOptions(cfg, d)...), nil
}
