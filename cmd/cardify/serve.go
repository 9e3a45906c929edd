package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/cardify/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local API and sync in the background",
	Args:  cobra.NoArgs,
	RunE:  withApp(runServe),
}

func runServe(cmd *cobra.Command, a *app, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	syncDone := make(chan struct{})
	if a.rec != nil {
		go func() {
			defer close(syncDone)
			a.rec.Run(ctx)
		}()
	} else {
		close(syncDone)
		a.logger.Warn("no remote configured, sync disabled")
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           web.NewServer(a.svc, web.WithLogger(a.logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("serving", "addr", a.cfg.Server.Addr, "db", a.cfg.Database.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	a.logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown failed", "error", err)
	}
	cancel()
	<-syncDone
	return serveErr
}
