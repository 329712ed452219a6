// Package server builds the application's dependency graph from configuration
// and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/api"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/clock/system"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/config"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/extract"
	autofetcher "github.com/JakeFAU/realtime-ipo-tracker/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/realtime-ipo-tracker/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/realtime-ipo-tracker/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/headless/detector"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/id/uuid"
	memorypublisher "github.com/JakeFAU/realtime-ipo-tracker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-ipo-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/scheduler"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/seed"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/snapshot"
	gcsstorage "github.com/JakeFAU/realtime-ipo-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-ipo-tracker/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-ipo-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-ipo-tracker/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/realtime-ipo-tracker/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/upsert"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/worker"
)

// memoryEventLimit caps change events retained when no Pub/Sub project is set.
const memoryEventLimit = 1024

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     tracker.ListingStore
	engine    *upsert.Engine
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	closers   []namedCloser
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// Build creates the application's dependencies. On error, anything already
// opened is closed before returning.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	built := false
	defer func() {
		if !built {
			app.closeAll()
		}
	}()

	logger.Info("building application",
		zap.Int("sources", len(cfg.Sources)),
		zap.String("database_backend", cfg.Database.Backend),
		zap.String("fetcher_mode", cfg.Fetcher.Mode),
		zap.Int("server_port", cfg.Server.Port))

	clock := system.New()

	store, err := app.setupStore(ctx)
	if err != nil {
		return nil, err
	}
	app.store = store
	fetcher, err := app.setupFetcher()
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	exporter, err := app.setupSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	app.engine = upsert.New(app.store, clock, logger)
	w := worker.New(
		fetcher,
		extract.Default(logger),
		app.engine,
		publisher,
		clock,
		clock,
		uuid.New(),
		worker.Config{
			PaceMin: cfg.Scheduler.PaceMin,
			PaceMax: cfg.Scheduler.PaceMax,
			Topic:   cfg.PubSub.Topic,
		},
		logger,
	)
	app.scheduler = scheduler.New(
		scheduler.Config{
			Sources:      cfg.Sources,
			Years:        cfg.Scheduler.Years,
			RestInterval: cfg.Scheduler.RestInterval,
			Backoff:      cfg.Scheduler.Backoff,
		},
		w,
		exporter,
		clock,
		clock,
		logger,
	)
	app.apiServer = api.NewServer(app.scheduler, logger)
	built = true
	return app, nil
}

func (a *App) setupStore(ctx context.Context) (tracker.ListingStore, error) {
	db := a.cfg.Database
	switch db.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewListingStore(ctx, pgstore.Config{
			DSN:             db.DSN,
			Table:           db.Table,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		a.track("postgres store", store)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		a.logger.Info("using postgres listing store", zap.String("table", db.Table))
		return store, nil
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, db.DSN, db.Table)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.track("sqlite store", store)
		a.logger.Info("using sqlite listing store", zap.String("dsn", db.DSN), zap.String("table", db.Table))
		return store, nil
	default:
		a.logger.Warn("using in-memory listing store; data is lost on exit")
		store := memorystorage.NewListingStore()
		a.track("memory store", store)
		return store, nil
	}
}

func (a *App) setupFetcher() (tracker.Fetcher, error) {
	fc := a.cfg.Fetcher
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent: fc.UserAgent,
		Timeout:   fc.RequestTimeout,
	})
	switch fc.Mode {
	case config.FetcherStatic:
		a.logger.Info("using static colly fetcher", zap.Duration("timeout", fc.RequestTimeout))
		return static, nil
	case config.FetcherAuto:
		headless, err := a.setupHeadless()
		if err != nil {
			return nil, err
		}
		a.logger.Info("using auto fetcher", zap.Int("promotion_threshold", fc.PromotionThreshold))
		return autofetcher.New(static, headless, detector.NewHeuristic(fc.PromotionThreshold), a.logger), nil
	default:
		return a.setupHeadless()
	}
}

func (a *App) setupHeadless() (tracker.Fetcher, error) {
	fc := a.cfg.Fetcher
	f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		UserAgent:         fc.UserAgent,
		NavigationTimeout: fc.NavigationTimeout,
		HydrationWait:     fc.HydrationWait,
		ExecPath:          fc.ExecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.track("headless fetcher", f)
	a.logger.Info("using headless fetcher",
		zap.Duration("navigation_timeout", fc.NavigationTimeout),
		zap.Duration("hydration_wait", fc.HydrationWait))
	return f, nil
}

func (a *App) setupPublisher(ctx context.Context) (tracker.Publisher, error) {
	ps := a.cfg.PubSub
	if ps.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, keeping change events in memory")
		return memorypublisher.New(memoryEventLimit), nil
	}
	p, err := gcppublisher.New(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.track("pubsub publisher", p)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.Topic))
	return p, nil
}

func (a *App) setupSnapshot(ctx context.Context) (*snapshot.Exporter, error) {
	sc := a.cfg.Snapshot
	local, err := localstorage.New(localstorage.Config{BaseDir: filepath.Dir(sc.Path)})
	if err != nil {
		return nil, fmt.Errorf("snapshot directory init failed: %w", err)
	}
	primary := snapshot.Target{Name: "local", Store: local, Path: filepath.Base(sc.Path)}

	var mirrors []snapshot.Target
	if sc.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: sc.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.track("gcs client", blobs)
		mirrors = append(mirrors, snapshot.Target{Name: "gcs", Store: blobs, Path: sc.GCSObject})
		a.logger.Info("mirroring snapshot to GCS",
			zap.String("bucket", sc.GCSBucket),
			zap.String("object", sc.GCSObject))
	}
	return snapshot.New(a.store, primary, a.logger, mirrors...), nil
}

func (a *App) track(name string, c io.Closer) {
	a.closers = append(a.closers, namedCloser{name: name, closer: c})
}

// importSeeds loads configured seed files. A failed import is logged and does
// not stop the service.
func (a *App) importSeeds(ctx context.Context) {
	if len(a.cfg.Seed.Files) == 0 {
		return
	}
	imp := seed.NewImporter(a.engine, a.logger)
	if _, err := imp.ImportFiles(ctx, a.cfg.Seed.Files); err != nil {
		a.logger.Error("seed import failed", zap.Error(err))
	}
}

// Run imports seeds, then runs the scheduler and the ops server until ctx is
// canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	a.importSeeds(ctx)

	var srv *http.Server
	if a.cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server error", zap.Error(err))
				stop()
			}
		}()
	}

	err := a.scheduler.Run(ctx)
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Error("ops server shutdown error", zap.Error(serr))
		}
	}
	return err
}

// RunOnce imports seeds, runs a single cycle, and rewrites the snapshot.
func (a *App) RunOnce(ctx context.Context) (worker.Report, error) {
	a.importSeeds(ctx)
	report, err := a.scheduler.RunOnce(ctx)
	if err != nil {
		return report, fmt.Errorf("run once: %w", err)
	}
	return report, nil
}

// Close releases every opened dependency in reverse order.
func (a *App) Close() error {
	a.closeAll()
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.closer.Close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
