package app

import (
	"context"
	"time"

	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"

	"github.com/coursetrack/survival/internal/config"
	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/provider"
	"github.com/coursetrack/survival/internal/server"
	"github.com/coursetrack/survival/internal/store"
	"github.com/coursetrack/survival/internal/survival"
)

const pollInterval = time.Second

// App is the main service that wires all components of the analysis engine
type App struct {
	source       provider.Source
	store        *store.Store
	orchestrator *survival.Orchestrator
	aggregator   *survival.Aggregator
	apiServer    *server.Server

	cfg config.Config
	log logze.Logger
}

// New creates the survival analysis service
func New(ctx contem.Context, cfg config.Config) (*App, error) {
	service := &App{
		cfg: cfg,
		log: logze.With("component", "app"),
	}

	if err := service.init(ctx, cfg); err != nil {
		return nil, errm.Wrap(err, "failed to initialize service")
	}

	return service, nil
}

// StartServer starts the HTTP API and blocks until it stops
func (a *App) StartServer(ctx context.Context) error {
	if err := a.apiServer.Start(ctx); err != nil {
		return errm.Wrap(err, "failed to start API server")
	}
	return nil
}

// RunAnalysis starts a run for the project and returns its identity;
// processing continues in the background
func (a *App) RunAnalysis(ctx context.Context, projectID, userID string) (*model.AnalysisRun, error) {
	run, err := a.orchestrator.StartRun(ctx, projectID, userID)
	if err != nil {
		return nil, errm.Wrap(err, "failed to start analysis run")
	}
	return run, nil
}

// WaitForRun polls the run until it reaches a terminal status
func (a *App) WaitForRun(ctx context.Context, runID int64) (*model.AnalysisRun, error) {
	for {
		run, err := a.store.GetRun(ctx, runID)
		if err != nil {
			return nil, errm.Wrap(err, "failed to poll run")
		}
		if run.Status.IsTerminal() {
			return run, nil
		}

		a.log.Debug("analysis in progress",
			"run_id", runID, "processed", run.ProcessedPRs, "total", run.TotalPRs)

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, errm.Wrap(ctx.Err(), "wait cancelled")
		}
	}
}

// Summarize computes the by-author or by-sprint aggregate view of a run
func (a *App) Summarize(ctx context.Context, runID int64, groupBy survival.GroupBy) (*survival.Summary, error) {
	return a.aggregator.Summarize(ctx, runID, groupBy, survival.SummaryFilter{})
}

func (a *App) init(ctx contem.Context, cfg config.Config) (err error) {
	if err := cfg.Validate(); err != nil {
		return errm.Wrap(err, "invalid config")
	}

	// Create VCS source for diffs and blame
	a.source, err = provider.NewSource(cfg.Provider)
	if err != nil {
		return errm.Wrap(err, "failed to create VCS source")
	}

	// Create the result store; it also serves the task→PR projection
	a.store, err = store.New(cfg.Store)
	if err != nil {
		return errm.Wrap(err, "failed to create store")
	}
	ctx.Add(func(context.Context) error { return a.store.Close() })

	// Create the analysis engine
	a.orchestrator, err = survival.NewOrchestrator(cfg.Analysis, a.source, a.source, a.store, a.store)
	if err != nil {
		return errm.Wrap(err, "failed to create orchestrator")
	}
	ctx.Add(func(context.Context) error { return a.orchestrator.Close() })

	a.aggregator = survival.NewAggregator(a.store)

	// Create the API server
	a.apiServer, err = server.New(cfg.Server, a.orchestrator, a.aggregator, a.store)
	if err != nil {
		return errm.Wrap(err, "failed to create API server")
	}
	ctx.Add(a.apiServer.Stop)

	return nil
}
