package survival

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/model/interfaces"
	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
	"github.com/panjf2000/ants/v2"
)

// Orchestrator drives a whole analysis run: enumerates eligible PRs, fans
// work out to a bounded pool, tracks progress and finalizes the run
type Orchestrator struct {
	diff     interfaces.DiffSource
	projects interfaces.ProjectSource
	store    interfaces.AnalysisStore
	analyzer *FileAnalyzer
	pool     *ants.Pool

	cfg Config
	log logze.Logger
}

// prTotals is what one processed PR contributes to the run counters
type prTotals struct {
	files     int
	surviving int
	deleted   int
}

// NewOrchestrator creates the run coordinator
func NewOrchestrator(cfg Config, diff interfaces.DiffSource, blame interfaces.BlameSource, projects interfaces.ProjectSource, store interfaces.AnalysisStore) (*Orchestrator, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, errm.Wrap(err, "failed to prepare and validate config")
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, errm.Wrap(err, "failed to create ants pool")
	}

	return &Orchestrator{
		diff:     diff,
		projects: projects,
		store:    store,
		analyzer: NewFileAnalyzer(cfg, blame),
		pool:     pool,
		cfg:      cfg,
		log:      logze.With("component", "orchestrator"),
	}, nil
}

// Close releases the worker pool
func (o *Orchestrator) Close() error {
	o.pool.Release()
	return nil
}

// StartRun creates a new IN_PROGRESS run for the project and returns it
// immediately; processing continues asynchronously. Fails with
// model.ErrAnalysisAlreadyRunning when the project has an active run.
func (o *Orchestrator) StartRun(ctx context.Context, projectID, userID string) (*model.AnalysisRun, error) {
	prs, err := o.projects.ListEligiblePullRequests(ctx, projectID)
	if err != nil {
		return nil, errm.Wrap(err, "failed to enumerate pull requests")
	}

	// PRs without a linked repository cannot be analyzed; dropping them at
	// enumeration time keeps processed_prs able to reach total_prs
	eligible := make([]model.PullRequestContext, 0, len(prs))
	for _, pr := range prs {
		if pr.Repo == "" {
			o.log.Warn("skipping pull request without repository", "project_id", projectID, "pr", pr.Number)
			continue
		}
		eligible = append(eligible, pr)
	}

	run := &model.AnalysisRun{
		ProjectID: projectID,
		UserID:    userID,
		Status:    model.RunStatusInProgress,
		TotalPRs:  len(eligible),
		StartedAt: time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, errm.Wrap(err, "failed to create analysis run")
	}

	o.log.Info("analysis run started",
		"run_id", run.ID, "project_id", projectID, "total_prs", run.TotalPRs)

	go o.processRun(context.WithoutCancel(ctx), *run, eligible)

	return run, nil
}

// processRun fans PRs out to the pool, waits for completion and finalizes
// the run. A fatal error from any worker abandons the remaining PRs.
func (o *Orchestrator) processRun(ctx context.Context, run model.AnalysisRun, prs []model.PullRequestContext) {
	log := o.log.WithFields("run_id", run.ID, "project_id", run.ProjectID)
	timer := abstract.StartTimer()

	var (
		wg       sync.WaitGroup
		aborted  atomic.Bool
		abortErr error
		abortSet sync.Once
	)

	abort := func(err error) {
		abortSet.Do(func() {
			abortErr = err
			aborted.Store(true)
		})
	}

	for _, pr := range prs {
		wg.Add(1)
		submitErr := o.pool.Submit(func() {
			defer wg.Done()

			if aborted.Load() {
				return // run already failed, abandon the rest
			}

			totals, err := o.processPullRequest(ctx, run, pr, log)
			if err != nil {
				log.Err(err, "fatal error, aborting run", "pr", pr.Number)
				abort(err)
				return
			}

			if err := o.store.FinishPullRequest(ctx, run.ID, totals.files, totals.surviving, totals.deleted); err != nil {
				log.Err(err, "failed to record pull request completion", "pr", pr.Number)
				abort(err)
			}
		})
		if submitErr != nil {
			wg.Done()
			abort(errm.Wrap(submitErr, "failed to submit pull request job"))
		}
	}

	wg.Wait()

	status, errorMessage := model.RunStatusDone, ""
	if aborted.Load() {
		status, errorMessage = model.RunStatusFailed, abortErr.Error()
	}

	if err := o.store.FinalizeRun(ctx, run.ID, status, errorMessage); err != nil {
		log.Err(err, "failed to finalize run")
		return
	}

	log.Info("analysis run finished",
		"status", status, "total_prs", run.TotalPRs, "elapsed", timer.ElapsedTime())
}

// processPullRequest analyzes every file of one PR and persists the results.
// Transient failures past the retry budget degrade to a zero-file PR; only
// fatal errors are returned.
func (o *Orchestrator) processPullRequest(ctx context.Context, run model.AnalysisRun, pr model.PullRequestContext, log logze.Logger) (prTotals, error) {
	var totals prTotals

	var patch *model.PullRequestPatch
	err := withRetry(ctx, o.cfg, log, "get_patch", func(ctx context.Context) error {
		var err error
		patch, err = o.diff.GetPatch(ctx, pr.Repo, pr.Number)
		return err
	})
	if err != nil {
		if model.IsFatal(err) {
			return totals, err
		}
		// Partial credit: the PR counts as processed with no analyzable files
		log.Warn("pull request left unanalyzed", "pr", pr.Number, "error", err)
		return totals, nil
	}

	for _, file := range patch.Files {
		fileResult, lines, err := o.analyzer.Analyze(ctx, pr, patch, file)
		if err != nil {
			return totals, errm.Wrap(err, "failed to analyze file")
		}

		fileResult.RunID = run.ID
		if err := o.store.SaveFileResult(ctx, fileResult, lines); err != nil {
			return totals, errm.Wrap(err, "failed to save file result")
		}

		totals.files++
		totals.surviving += fileResult.SurvivingLines
		totals.deleted += fileResult.DeletedLines
	}

	log.Debug("pull request analyzed",
		"pr", pr.Number, "files", totals.files,
		"surviving", totals.surviving, "deleted", totals.deleted)

	return totals, nil
}
