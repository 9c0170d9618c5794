// Package app wires a scenario run to its stores, report sinks and status
// endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/id"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/timeouts"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/engine"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/scenario"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage/postgres"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage/sqlite"
)

// HealthService is the gRPC health service name reported while a run is in
// progress.
const HealthService = "episim.run"

const defaultDBPath = "data/episim.db"

// RuntimeConfig controls one simulation run.
type RuntimeConfig struct {
	ScenarioPath string
	// RunID names the run; empty generates a new id.
	RunID string
	// Seed overrides the scenario seed when non-zero.
	Seed int64
	// Days overrides the scenario length when positive.
	Days int
	// Resume continues from the run's last checkpoint when one exists.
	Resume          bool
	CheckpointEvery int
	DBPath          string
	PostgresURL     string
	// ReportPath receives the tab separated daily report when set.
	ReportPath string
	// HealthPort serves gRPC health while running; zero disables it.
	HealthPort int
	// HTTPAddr serves the status API while running; empty disables it.
	HTTPAddr string
	Locale   string
	// Summary receives the final summary; nil prints nothing.
	Summary io.Writer
	Logger  *log.Logger
}

// runSeed resolves the seed of a run from the flag, then the scenario, then
// an earlier attempt of the same run. A run with none of them gets a fresh
// seed, recorded with the run so it can be replayed.
func runSeed(ctx context.Context, cfg RuntimeConfig, sc *scenario.Scenario, runs storage.RunStore) (int64, error) {
	if cfg.Seed != 0 {
		return cfg.Seed, nil
	}
	if sc.Seed != 0 {
		return sc.Seed, nil
	}
	if existing, err := runs.GetRun(ctx, cfg.RunID); err == nil && existing.Seed != 0 {
		return existing.Seed, nil
	}
	return random.NewSeed()
}

// Run executes a scenario to its last day or until ctx is canceled. On
// cancellation the engine checkpoints before returning ctx.Err().
func Run(ctx context.Context, cfg RuntimeConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if strings.TrimSpace(cfg.ScenarioPath) == "" {
		return fmt.Errorf("scenario path is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = id.NewRunID()
	} else {
		runID, err := id.NormalizeRunID(cfg.RunID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidConfig, "run id", err)
		}
		cfg.RunID = runID
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}

	sc, err := scenario.Load(cfg.ScenarioPath)
	if err != nil {
		return err
	}
	if cfg.Days > 0 {
		sc.Days = cfg.Days
	}

	if cfg.DBPath != ":memory:" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create storage dir: %w", err)
			}
		}
	}
	// Setup is not interrupted by cancellation; a canceled run still records
	// its status and checkpoint.
	setupCtx := context.WithoutCancel(ctx)
	store, err := sqlite.Open(setupCtx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Printf("close sqlite store: %v", closeErr)
		}
	}()

	seed, err := runSeed(setupCtx, cfg, sc, store)
	if err != nil {
		return err
	}
	components, err := sc.Build(seed, logger)
	if err != nil {
		return err
	}

	sinks := report.Fanout{store}
	runStores := []storage.RunStore{store}
	if cfg.PostgresURL != "" {
		pg, err := postgres.Connect(setupCtx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		sinks = append(sinks, pg)
		runStores = append(runStores, pg)
	}
	if cfg.ReportPath != "" {
		f, err := os.Create(cfg.ReportPath)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				logger.Printf("close report file: %v", closeErr)
			}
		}()
		sinks = append(sinks, report.NewTSVWriter(f))
	}

	run := storage.RunRecord{ID: cfg.RunID, Scenario: sc.Name, Seed: components.Seed, Days: sc.Days, Status: storage.RunRunning}
	if existing, err := store.GetRun(setupCtx, cfg.RunID); err == nil {
		run.CreatedAt = existing.CreatedAt
	}
	putRun := func(ctx context.Context, run storage.RunRecord) {
		for _, rs := range runStores {
			if err := rs.PutRun(ctx, run); err != nil {
				logger.Printf("record run %s: %v", run.ID, err)
			}
		}
	}
	putRun(setupCtx, run)

	stopHealth, err := serveHealth(cfg.HealthPort, logger)
	if err != nil {
		return err
	}
	defer stopHealth()
	stopHTTP, err := serveStatus(cfg.HTTPAddr, NewStatusServer(store, store), logger)
	if err != nil {
		return err
	}
	defer stopHTTP()

	dispatcher := report.NewDispatcher(sinks, logger)
	eng, err := engine.New(components.EngineConfig(cfg.RunID, cfg.CheckpointEvery, logger), components.Deps(dispatcher, store))
	if err != nil {
		return err
	}
	if cfg.Resume {
		resumed, err := eng.Resume(setupCtx)
		if err != nil {
			return err
		}
		if resumed {
			logger.Printf("run %s resumed at day %d", cfg.RunID, eng.Day())
		}
	}

	logger.Printf("run %s: scenario %s, seed %d, %d persons, %d days", cfg.RunID, sc.Name, components.Seed, components.Registry.Len(), sc.Days)
	runErr := eng.Run(ctx, components.Mobility, sc.Days)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.ReportDrain)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Printf("drain reports: %v", err)
	}
	if n := dispatcher.Failed(); n > 0 {
		logger.Printf("run %s: %d report deliveries failed", cfg.RunID, n)
	}

	switch {
	case runErr == nil:
		run.Status = storage.RunCompleted
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		run.Status = storage.RunCanceled
	default:
		run.Status = storage.RunFailed
		run.Error = runErr.Error()
	}
	putRun(drainCtx, run)
	if runErr != nil {
		return runErr
	}

	if cfg.Summary != nil {
		snaps, err := store.ListSnapshots(drainCtx, cfg.RunID)
		if err != nil {
			return fmt.Errorf("read final report: %w", err)
		}
		if len(snaps) > 0 {
			return WriteSummary(cfg.Summary, cfg.Locale, cfg.RunID, snaps[len(snaps)-1])
		}
	}
	return nil
}

// serveHealth reports SERVING on port until the returned stop is called.
func serveHealth(port int, logger *log.Logger) (func(), error) {
	if port <= 0 {
		return func() {}, nil
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on health port %d: %w", port, err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	logger.Printf("health server listening at %v", listener.Addr())
	return func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}, nil
}

// serveStatus serves the status API on addr until the returned stop is called.
func serveStatus(addr string, status *StatusServer, logger *log.Logger) (func(), error) {
	if strings.TrimSpace(addr) == "" {
		return func() {}, nil
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on status addr %s: %w", addr, err)
	}
	server := &http.Server{Handler: status.Routes(), ReadHeaderTimeout: timeouts.ReadHeader}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	logger.Printf("status server listening at %v", listener.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Printf("shutdown status server: %v", err)
		}
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("status server: %v", err)
		}
	}, nil
}
