package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shardvault/internal/auth"
	"shardvault/internal/config"
	"shardvault/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	listen        string
	probeInterval time.Duration

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "serve the object API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return serve(ctx, a)
			})
		},
	}
)

// commandOptions turns command specific flags into config options.
func commandOptions(cmd *cobra.Command) []config.ConfigOption {
	var opts []config.ConfigOption
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		opts = append(opts, config.WithListen(listen))
	}
	if f := cmd.Flags().Lookup("probe-interval"); f != nil && f.Changed {
		opts = append(opts, config.WithProbeInterval(probeInterval))
	}
	return opts
}

// bucketEnsurer is implemented by providers that need a bucket created
// before first use.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

func serve(ctx context.Context, a *app) error {
	for _, status := range a.registry.Statuses() {
		p, _ := a.registry.Get(status.ID)
		if b, ok := p.(bucketEnsurer); ok {
			if err := b.EnsureBucket(ctx); err != nil {
				slog.Warn("Failed to prepare provider bucket", "provider", status.ID, "error", err)
			}
		}
	}

	srv := server.New(a.pipe,
		server.WithAuthEngine(auth.FromCredentials(a.cfg.AccessKeyID, a.cfg.SecretAccessKey)),
		server.WithRegistry(a.registry),
		server.WithMetrics(a.metrics),
	)

	httpServer := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		if a.cfg.ProbeInterval <= 0 {
			slog.Debug("Skipping provider probes because the interval is zero")
			return nil
		}
		if err := a.registry.Probe(ctx); err != nil {
			slog.Warn("Initial provider probe failed", "error", err)
		}
		return a.registry.RunProber(ctx, a.cfg.ProbeInterval)
	})

	eg.Go(func() error {
		slog.Info("Starting shardvault HTTP server",
			"listen", a.cfg.Listen,
			"backend", a.cfg.Backend,
			"redundancy", a.pipe.Redundancy(),
			"providers", len(a.registry.Statuses()),
		)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}
