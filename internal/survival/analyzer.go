package survival

import (
	"context"

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/model/interfaces"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
)

// FileAnalyzer computes the survival result for one file touched by one PR
type FileAnalyzer struct {
	blame    interfaces.BlameSource
	resolver *Resolver

	cfg Config
	log logze.Logger
}

// NewFileAnalyzer creates a file analyzer on top of a blame source
func NewFileAnalyzer(cfg Config, blame interfaces.BlameSource) *FileAnalyzer {
	return &FileAnalyzer{
		blame:    blame,
		resolver: NewResolver(cfg.MatchOptions()),
		cfg:      cfg,
		log:      logze.With("component", "file_analyzer"),
	}
}

// Analyze resolves line provenance for one file and counts the outcome.
// A file that cannot be read is recorded unanalyzed with zero counts rather
// than failing the PR; only fatal provider errors propagate.
func (a *FileAnalyzer) Analyze(ctx context.Context, pr model.PullRequestContext, patch *model.PullRequestPatch, file model.FilePatch) (*model.AnalysisFile, []model.AnalysisLine, error) {
	result := &model.AnalysisFile{
		PRNumber:  pr.Number,
		PRURL:     pr.URL,
		TaskID:    pr.TaskID,
		SprintID:  pr.SprintID,
		AuthorID:  pr.AuthorID,
		FilePath:  file.FilePath,
		Status:    file.Status,
		Additions: file.Additions,
		Deletions: file.Deletions,
	}

	current, blame, err := a.fetchHead(ctx, pr.Repo, file)
	switch {
	case err == nil:
	case errm.Is(err, model.ErrFileNotFound):
		// The file is gone from HEAD: every contributed line is deleted
		current, blame = nil, nil
	case model.IsFatal(err):
		return nil, nil, err
	default:
		a.log.Warn("file left unanalyzed", "file", file.FilePath, "pr", pr.Number, "error", err)
		result.Note = err.Error()
		return result, nil, nil
	}

	lines := a.resolver.Resolve(file, patch.CommitSet(), current, blame)
	for _, line := range lines {
		switch line.Status {
		case model.LineSurviving:
			result.SurvivingLines++
		case model.LineDeleted:
			result.DeletedLines++
		case model.LineCurrent:
			result.CurrentLines++
		}
	}
	result.Analyzed = true

	return result, lines, nil
}

// fetchHead reads current file content and blame with the retry policy.
// Deleted files surface as ErrFileNotFound from the content call.
func (a *FileAnalyzer) fetchHead(ctx context.Context, repo string, file model.FilePatch) ([]string, []model.BlameLine, error) {
	var current []string
	err := withRetry(ctx, a.cfg, a.log, "get_current_file", func(ctx context.Context) error {
		var err error
		current, err = a.blame.GetCurrentFile(ctx, repo, file.FilePath)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var blame []model.BlameLine
	err = withRetry(ctx, a.cfg, a.log, "get_file_blame", func(ctx context.Context) error {
		var err error
		blame, err = a.blame.GetFileBlame(ctx, repo, file.FilePath)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return current, blame, nil
}
