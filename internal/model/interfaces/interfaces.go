package interfaces

import (
	"context"

	"github.com/coursetrack/survival/internal/model"
)

// DiffSource fetches pull request patches from a VCS provider (GitHub, GitLab, etc.)
type DiffSource interface {
	// GetPatch returns the parsed patch of a merged pull request together
	// with its merge commit SHA. Fails with model.ErrDiffUnavailable.
	GetPatch(ctx context.Context, repo string, prNumber int) (*model.PullRequestPatch, error)
}

// BlameSource resolves current file content and per-line attribution at HEAD
type BlameSource interface {
	// GetCurrentFile returns the current file content split into lines.
	// Fails with model.ErrFileUnavailable.
	GetCurrentFile(ctx context.Context, repo, filePath string) ([]string, error)

	// GetFileBlame returns per-line blame for the whole file at HEAD,
	// ordered by line number. Fails with model.ErrBlameUnavailable.
	GetFileBlame(ctx context.Context, repo, filePath string) ([]model.BlameLine, error)
}

// ProjectSource enumerates pull requests eligible for analysis: every PR
// reachable through DONE-status tasks of the project, as flat projections
type ProjectSource interface {
	ListEligiblePullRequests(ctx context.Context, projectID string) ([]model.PullRequestContext, error)
}

// AnalysisStore persists the run / file / line result hierarchy
type AnalysisStore interface {
	// CreateRun inserts a new IN_PROGRESS run with total_prs already set.
	// It must be a conditional insert: fails with
	// model.ErrAnalysisAlreadyRunning when the project already has an
	// IN_PROGRESS run, atomically across service instances.
	CreateRun(ctx context.Context, run *model.AnalysisRun) error

	// FinishPullRequest atomically increments processed_prs and rolls the
	// per-PR totals into the run record
	FinishPullRequest(ctx context.Context, runID int64, files, surviving, deleted int) error

	// FinalizeRun transitions the run to DONE or FAILED and stamps completed_at.
	// The transition happens at most once; later calls are no-ops.
	FinalizeRun(ctx context.Context, runID int64, status model.RunStatus, errorMessage string) error

	// SaveFileResult persists one file record with its lines in one transaction
	SaveFileResult(ctx context.Context, file *model.AnalysisFile, lines []model.AnalysisLine) error

	GetRun(ctx context.Context, runID int64) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, projectID string) ([]model.AnalysisRun, error)
	ListFiles(ctx context.Context, runID int64) ([]model.AnalysisFile, error)
	ListLines(ctx context.Context, fileID int64) ([]model.AnalysisLine, error)

	HasActiveRun(ctx context.Context, projectID string) (bool, error)
}
