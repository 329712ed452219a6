// Package cmd defines the CLI commands for the ipotracker executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/config"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/logging"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/server"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/worker"
)

// App is what the subcommands drive. Tests substitute a fake.
type App interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (worker.Report, error)
	Close() error
}

type appKeyType struct{}

var appKey appKeyType

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRootCmd creates the root command. Config and the application are built in
// PersistentPreRunE so every subcommand shares them.
func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		logger  *zap.Logger
	)
	cmd := &cobra.Command{
		Use:   "ipotracker",
		Short: "Tracks IPO listings from public report pages.",
		Long: `ipotracker fetches IPO report pages, extracts listing data from embedded
page state or HTML tables, and keeps a deduplicated listing store current. Each
cycle ends with a plain-text snapshot of the store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML, JSON, or TOML)")
	cmd.AddCommand(newRunCmd(), newOnceCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp runs fn against the built application and closes it afterwards,
// whether or not fn succeeds.
func withApp(cmd *cobra.Command, fn func(App) error) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := appInstance.Close(); cerr != nil {
			zap.L().Warn("close application failed", zap.Error(cerr))
		}
	}()
	return fn(appInstance)
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
