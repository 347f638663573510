package survival

import (
	"context"
	"sync"
	"time"

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/model/interfaces"
)

// testConfig keeps retries fast so transient-failure tests finish quickly
func testConfig() Config {
	return Config{
		Workers:          2,
		MaxAttempts:      3,
		RetryBackoff:     time.Millisecond,
		RateLimitBackoff: time.Millisecond,
		CallTimeout:      time.Second,
	}
}

// fakeDiff serves canned patches and can fail a number of times first
type fakeDiff struct {
	mu       sync.Mutex
	patches  map[int]*model.PullRequestPatch
	failures map[int]int // PR number -> remaining failures
	failWith error
}

func newFakeDiff() *fakeDiff {
	return &fakeDiff{
		patches:  make(map[int]*model.PullRequestPatch),
		failures: make(map[int]int),
	}
}

func (f *fakeDiff) GetPatch(_ context.Context, _ string, prNumber int) (*model.PullRequestPatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures[prNumber] > 0 {
		f.failures[prNumber]--
		return nil, f.failWith
	}

	patch, ok := f.patches[prNumber]
	if !ok {
		return nil, model.ErrDiffUnavailable
	}
	return patch, nil
}

// fakeBlame serves canned file content and blame, with optional errors
type fakeBlame struct {
	mu        sync.Mutex
	files     map[string][]string
	blames    map[string][]model.BlameLine
	fileErr   map[string]error
	failFirst map[string]int // path -> transient failures before success
}

func newFakeBlame() *fakeBlame {
	return &fakeBlame{
		files:     make(map[string][]string),
		blames:    make(map[string][]model.BlameLine),
		fileErr:   make(map[string]error),
		failFirst: make(map[string]int),
	}
}

func (f *fakeBlame) GetCurrentFile(_ context.Context, _, filePath string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFirst[filePath] > 0 {
		f.failFirst[filePath]--
		return nil, model.ErrFileUnavailable
	}
	if err := f.fileErr[filePath]; err != nil {
		return nil, err
	}
	lines, ok := f.files[filePath]
	if !ok {
		return nil, model.ErrFileNotFound
	}
	return lines, nil
}

func (f *fakeBlame) GetFileBlame(_ context.Context, _, filePath string) ([]model.BlameLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blame, ok := f.blames[filePath]
	if !ok {
		return nil, model.ErrBlameUnavailable
	}
	return blame, nil
}

// fakeProjects serves a fixed PR enumeration
type fakeProjects struct {
	prs []model.PullRequestContext
	err error
}

func (f *fakeProjects) ListEligiblePullRequests(_ context.Context, _ string) ([]model.PullRequestContext, error) {
	return f.prs, f.err
}

// fakeStore is an in-memory AnalysisStore with the same conditional-insert
// and atomic-increment semantics as the SQLite implementation
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]*model.AnalysisRun
	files  []model.AnalysisFile
	lines  map[int64][]model.AnalysisLine
}

var _ interfaces.AnalysisStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:  make(map[int64]*model.AnalysisRun),
		lines: make(map[int64][]model.AnalysisLine),
	}
}

func (s *fakeStore) CreateRun(_ context.Context, run *model.AnalysisRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.runs {
		if existing.ProjectID == run.ProjectID && existing.Status == model.RunStatusInProgress {
			return model.ErrAnalysisAlreadyRunning
		}
	}

	s.nextID++
	run.ID = s.nextID
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *fakeStore) FinishPullRequest(_ context.Context, runID int64, files, surviving, deleted int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.runs[runID]
	run.ProcessedPRs++
	run.TotalFiles += files
	run.TotalSurvivingLines += surviving
	run.TotalDeletedLines += deleted
	return nil
}

func (s *fakeStore) FinalizeRun(_ context.Context, runID int64, status model.RunStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.runs[runID]
	if run.Status != model.RunStatusInProgress {
		return nil
	}
	run.Status = status
	run.ErrorMessage = errorMessage
	now := time.Now()
	run.CompletedAt = &now
	return nil
}

func (s *fakeStore) SaveFileResult(_ context.Context, file *model.AnalysisFile, lines []model.AnalysisLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	file.ID = s.nextID
	s.files = append(s.files, *file)
	s.lines[file.ID] = append([]model.AnalysisLine(nil), lines...)
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, runID int64) (*model.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, model.ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *fakeStore) ListRuns(_ context.Context, projectID string) ([]model.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []model.AnalysisRun
	for _, run := range s.runs {
		if run.ProjectID == projectID {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

func (s *fakeStore) ListFiles(_ context.Context, runID int64) ([]model.AnalysisFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var files []model.AnalysisFile
	for _, file := range s.files {
		if file.RunID == runID {
			files = append(files, file)
		}
	}
	return files, nil
}

func (s *fakeStore) ListLines(_ context.Context, fileID int64) ([]model.AnalysisLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[fileID], nil
}

func (s *fakeStore) HasActiveRun(_ context.Context, projectID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ProjectID == projectID && run.Status == model.RunStatusInProgress {
			return true, nil
		}
	}
	return false, nil
}
