package main

import (
	"context"
	"time"

	"github.com/kacperjurak/cxtfit/pkg/server"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the wait for running requests on shutdown.
const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve simulations and fits over HTTP",
		Long: `serve starts the HTTP service:

  POST /simulate     synchronous simulation
  POST /fit          queue a fit, the result is posted to --server.webhook
  GET  /fit/{id}     state and result of a queued fit
  POST /fit/batch    queue a batch of fits
  GET  /health       health check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	srv, err := server.New(server.Options{Config: a.cfg, Log: a.log})
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		// the listener failed, release the workers
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return err
	case <-ctx.Done():
		a.log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
