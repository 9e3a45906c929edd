package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conorfennell/cardify/internal/config"
	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/logging"
	"github.com/conorfennell/cardify/internal/remote"
	"github.com/conorfennell/cardify/internal/service"
	"github.com/conorfennell/cardify/internal/srs"
	"github.com/conorfennell/cardify/internal/storage"
	"github.com/conorfennell/cardify/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:           "cardify",
	Short:         "Offline-first flashcards with spaced repetition",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd, syncCmd, dueCmd, statsCmd, reviewCmd, sessionCmd, historyCmd, importCmd, loginCmd, deadCmd, retryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app is everything a command needs, built from the loaded configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *storage.Store
	rec    *sync.Reconciler // nil when no remote is configured
	svc    *service.Service
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cmd.Context(), cfg.Database.Path, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store}

	params := &srs.Params{
		FirstInterval:  cfg.SRS.FirstInterval,
		SecondInterval: cfg.SRS.SecondInterval,
		RelearnDelay:   cfg.SRS.RelearnDelay,
	}
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithParams(params),
		service.WithOwner(cfg.Remote.OwnerScope),
		service.WithReviewLimit(cfg.Review.Limit),
		service.WithShuffle(cfg.Review.Shuffle),
	}

	if cfg.Remote.BaseURL != "" {
		client := remote.NewClient(cfg.Remote.BaseURL, remote.CredentialFunc(store.AuthToken),
			remote.WithTimeout(cfg.Remote.Timeout),
			remote.WithLogger(logger),
		)
		a.rec = sync.New(store, client, sync.Config{
			Interval:         cfg.Sync.Interval,
			MaxRetries:       cfg.Sync.MaxRetries,
			AttemptsPerCycle: cfg.Sync.AttemptsPerCycle,
			Parallelism:      cfg.Sync.Parallelism,
			BackoffBase:      cfg.Sync.BackoffBase,
			BackoffMax:       cfg.Sync.BackoffMax,
			OwnerScope:       cfg.Remote.OwnerScope,
		}, sync.WithLogger(logger))
		a.rec.OnDeadLetter(func(e domain.SyncQueueEntry, cause error) {
			logger.Warn("change needs attention", "table", e.EntityTable, "entity", e.EntityID, "operation", e.Operation, "error", cause)
		})
		opts = append(opts, service.WithSync(a.rec))
	}

	a.svc = service.New(store, opts...)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp adapts a command body that needs an app.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}
