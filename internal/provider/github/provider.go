package github

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/maxbolgarin/cliex"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
	"golang.org/x/oauth2"

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/provider/patchutil"
)

const (
	defaultBaseURL    = "https://github.com"
	defaultGraphQLURL = "https://api.github.com/graphql"

	perPage = 100
)

// Provider implements DiffSource and BlameSource for GitHub. Patches and
// file content go through the REST API, blame through GraphQL (the REST API
// has no blame endpoint).
type Provider struct {
	client  *github.Client
	graphql *cliex.HTTP
	config  model.ProviderConfig
	logger  logze.Logger
}

// New creates a new GitHub provider
func New(config model.ProviderConfig) (*Provider, error) {
	if config.Token == "" {
		return nil, errm.New("GitHub token is required")
	}
	log := logze.With("provider", "github")

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: config.Token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	client := github.NewClient(tc)

	graphqlURL := defaultGraphQLURL
	if config.BaseURL != "" && config.BaseURL != defaultBaseURL {
		var err error
		client, err = github.NewClient(tc).WithEnterpriseURLs(config.BaseURL, config.BaseURL)
		if err != nil {
			return nil, errm.Wrap(err, "failed to create GitHub Enterprise client")
		}
		graphqlURL = strings.TrimSuffix(config.BaseURL, "/") + "/api/graphql"
	}

	graphql, err := cliex.New(cliex.WithBaseURL(graphqlURL), cliex.WithLogger(log))
	if err != nil {
		return nil, errm.Wrap(err, "failed to create GraphQL client")
	}
	graphql.C().SetAuthToken(config.Token)

	return &Provider{
		client:  client,
		graphql: graphql,
		config:  config,
		logger:  log,
	}, nil
}

// GetPatch returns the parsed patch of a merged pull request
func (p *Provider) GetPatch(ctx context.Context, repo string, prNumber int) (*model.PullRequestPatch, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	pr, resp, err := p.client.PullRequests.Get(ctx, owner, name, prNumber)
	if err != nil {
		return nil, p.classify(err, resp, model.ErrDiffUnavailable)
	}

	patch := &model.PullRequestPatch{
		Number:         prNumber,
		MergeCommitSHA: pr.GetMergeCommitSHA(),
	}

	commits, err := p.listCommits(ctx, owner, name, prNumber)
	if err != nil {
		return nil, err
	}
	patch.CommitSHAs = commits

	files, err := p.listFiles(ctx, owner, name, prNumber)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		added, removed, err := patchutil.ParsePatch(file.GetPatch())
		if err != nil {
			return nil, errm.Wrap(err, "failed to parse file patch")
		}

		patch.Files = append(patch.Files, model.FilePatch{
			FilePath:     file.GetFilename(),
			OldPath:      file.GetPreviousFilename(),
			Status:       fileStatus(file.GetStatus()),
			Additions:    file.GetAdditions(),
			Deletions:    file.GetDeletions(),
			AddedLines:   added,
			RemovedLines: removed,
		})
	}

	return patch, nil
}

// GetCurrentFile returns the current file content at HEAD split into lines
func (p *Provider) GetCurrentFile(ctx context.Context, repo, filePath string) ([]string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	fileContent, _, resp, err := p.client.Repositories.GetContents(ctx, owner, name, filePath, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, model.ErrFileNotFound
		}
		return nil, p.classify(err, resp, model.ErrFileUnavailable)
	}
	if fileContent == nil {
		return nil, errm.Wrap(model.ErrFileUnavailable, "path is not a regular file: "+filePath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, errm.Wrap(model.ErrFileUnavailable, "failed to decode content: "+err.Error())
	}

	return splitLines(content), nil
}

// GetFileBlame resolves per-line blame at HEAD through the GraphQL API
func (p *Provider) GetFileBlame(ctx context.Context, repo, filePath string) ([]model.BlameLine, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	req := graphqlRequest{
		Query: blameQuery,
		Variables: map[string]any{
			"owner": owner,
			"name":  name,
			"path":  filePath,
		},
	}

	var resp blameResponse
	if _, err := p.graphql.Post(ctx, "", req, &resp); err != nil {
		return nil, errm.Wrap(model.ErrBlameUnavailable, "graphql request failed: "+err.Error())
	}
	if len(resp.Errors) > 0 {
		return nil, errm.Wrap(model.ErrBlameUnavailable, "graphql error: "+resp.Errors[0].Message)
	}

	ranges := resp.Data.Repository.DefaultBranchRef.Target.Blame.Ranges
	if ranges == nil {
		return nil, errm.Wrap(model.ErrBlameUnavailable, "no blame ranges for "+filePath)
	}

	var lines []model.BlameLine
	for _, r := range ranges {
		for line := r.StartingLine; line <= r.EndingLine; line++ {
			blame := model.BlameLine{
				LineNumber:     line,
				CommitSHA:      r.Commit.OID,
				CommitURL:      r.Commit.URL,
				AuthorFullName: r.Commit.Author.Name,
				AuthorUsername: r.Commit.Author.User.Login,
			}
			if nodes := r.Commit.AssociatedPullRequests.Nodes; len(nodes) > 0 {
				blame.OriginPRNumber = nodes[0].Number
				blame.OriginPRURL = nodes[0].URL
			}
			lines = append(lines, blame)
		}
	}

	return lines, nil
}

func (p *Provider) listCommits(ctx context.Context, owner, name string, prNumber int) ([]string, error) {
	var shas []string
	opts := &github.ListOptions{PerPage: perPage}

	for {
		commits, resp, err := p.client.PullRequests.ListCommits(ctx, owner, name, prNumber, opts)
		if err != nil {
			return nil, p.classify(err, resp, model.ErrDiffUnavailable)
		}
		for _, commit := range commits {
			shas = append(shas, commit.GetSHA())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return shas, nil
}

func (p *Provider) listFiles(ctx context.Context, owner, name string, prNumber int) ([]*github.CommitFile, error) {
	var files []*github.CommitFile
	opts := &github.ListOptions{PerPage: perPage}

	for {
		page, resp, err := p.client.PullRequests.ListFiles(ctx, owner, name, prNumber, opts)
		if err != nil {
			return nil, p.classify(err, resp, model.ErrDiffUnavailable)
		}
		files = append(files, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return files, nil
}

// classify maps a GitHub API failure onto the engine error taxonomy
func (p *Provider) classify(err error, resp *github.Response, fallback error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return errm.Wrap(model.ErrRateLimited, err.Error())
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errm.Wrap(model.ErrAuthenticationFailure, err.Error())
		}
	}

	return errm.Wrap(fallback, err.Error())
}

func fileStatus(status string) model.FileStatus {
	switch status {
	case "added":
		return model.FileAdded
	case "removed":
		return model.FileDeleted
	case "renamed":
		return model.FileRenamed
	default:
		return model.FileModified
	}
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", errm.Errorf("invalid repository format, expected owner/name: %s", repo)
	}
	return owner, name, nil
}

func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
