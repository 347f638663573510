package gitlab

import (
	"context"
	"net/http"
	"strings"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/provider/patchutil"
)

const (
	defaultBaseURL = "https://gitlab.com"

	perPage = 100
)

// Provider implements DiffSource and BlameSource for GitLab. Unlike GitHub,
// the GitLab REST API has a native blame endpoint, so no GraphQL is needed.
// Origin-MR attribution for CURRENT lines is not available here and those
// lines stay unattributed.
type Provider struct {
	client *gitlab.Client
	config model.ProviderConfig
	logger logze.Logger
}

// New creates a new GitLab provider
func New(config model.ProviderConfig) (*Provider, error) {
	if config.Token == "" {
		return nil, errm.New("GitLab token is required")
	}
	logger := logze.With("provider", "gitlab")

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client, err := gitlab.NewClient(config.Token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return nil, errm.Wrap(err, "failed to create GitLab client")
	}

	return &Provider{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// GetPatch returns the parsed patch of a merged merge request
func (p *Provider) GetPatch(ctx context.Context, repo string, prNumber int) (*model.PullRequestPatch, error) {
	mr, resp, err := p.client.MergeRequests.GetMergeRequest(repo, prNumber, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, p.classify(err, resp, model.ErrDiffUnavailable)
	}

	patch := &model.PullRequestPatch{
		Number: prNumber,
		// Squash merges record the squash commit instead of a merge commit
		MergeCommitSHA: firstNonEmpty(mr.MergeCommitSHA, mr.SquashCommitSHA, mr.SHA),
	}

	commits, err := p.listCommits(ctx, repo, prNumber)
	if err != nil {
		return nil, err
	}
	patch.CommitSHAs = commits

	diffs, err := p.listDiffs(ctx, repo, prNumber)
	if err != nil {
		return nil, err
	}

	for _, d := range diffs {
		added, removed, err := patchutil.ParsePatch(d.Diff)
		if err != nil {
			return nil, errm.Wrap(err, "failed to parse file diff")
		}

		patch.Files = append(patch.Files, model.FilePatch{
			FilePath:     d.NewPath,
			OldPath:      d.OldPath,
			Status:       fileStatus(d),
			Additions:    len(added),
			Deletions:    removed,
			AddedLines:   added,
			RemovedLines: removed,
		})
	}

	return patch, nil
}

// GetCurrentFile returns the current file content at HEAD split into lines
func (p *Provider) GetCurrentFile(ctx context.Context, repo, filePath string) ([]string, error) {
	raw, resp, err := p.client.RepositoryFiles.GetRawFile(repo, filePath, &gitlab.GetRawFileOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, model.ErrFileNotFound
		}
		return nil, p.classify(err, resp, model.ErrFileUnavailable)
	}

	return splitLines(string(raw)), nil
}

// GetFileBlame resolves per-line blame at HEAD through the blame endpoint
func (p *Provider) GetFileBlame(ctx context.Context, repo, filePath string) ([]model.BlameLine, error) {
	ranges, resp, err := p.client.RepositoryFiles.GetFileBlame(repo, filePath, &gitlab.GetFileBlameOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, p.classify(err, resp, model.ErrBlameUnavailable)
	}

	var lines []model.BlameLine
	lineNumber := 1
	for _, r := range ranges {
		for _, content := range r.Lines {
			blame := model.BlameLine{
				LineNumber: lineNumber,
				Content:    content,
			}
			if r.Commit.ID != "" {
				blame.CommitSHA = r.Commit.ID
				blame.AuthorFullName = r.Commit.AuthorName
			}
			lines = append(lines, blame)
			lineNumber++
		}
	}

	return lines, nil
}

func (p *Provider) listCommits(ctx context.Context, repo string, prNumber int) ([]string, error) {
	var shas []string
	opts := &gitlab.GetMergeRequestCommitsOptions{PerPage: perPage, Page: 1}

	for {
		commits, resp, err := p.client.MergeRequests.GetMergeRequestCommits(repo, prNumber, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, p.classify(err, resp, model.ErrDiffUnavailable)
		}
		for _, commit := range commits {
			shas = append(shas, commit.ID)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return shas, nil
}

func (p *Provider) listDiffs(ctx context.Context, repo string, prNumber int) ([]*gitlab.MergeRequestDiff, error) {
	var diffs []*gitlab.MergeRequestDiff
	opts := &gitlab.ListMergeRequestDiffsOptions{ListOptions: gitlab.ListOptions{PerPage: perPage, Page: 1}}

	for {
		page, resp, err := p.client.MergeRequests.ListMergeRequestDiffs(repo, prNumber, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, p.classify(err, resp, model.ErrDiffUnavailable)
		}
		diffs = append(diffs, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return diffs, nil
}

// classify maps a GitLab API failure onto the engine error taxonomy
func (p *Provider) classify(err error, resp *gitlab.Response, fallback error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errm.Wrap(model.ErrAuthenticationFailure, err.Error())
		case http.StatusTooManyRequests:
			return errm.Wrap(model.ErrRateLimited, err.Error())
		}
	}
	return errm.Wrap(fallback, err.Error())
}

func fileStatus(d *gitlab.MergeRequestDiff) model.FileStatus {
	switch {
	case d.NewFile:
		return model.FileAdded
	case d.DeletedFile:
		return model.FileDeleted
	case d.RenamedFile:
		return model.FileRenamed
	default:
		return model.FileModified
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
