package survival

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursetrack/survival/internal/model"
)

// waitForTerminal polls the fake store until the run settles
func waitForTerminal(t *testing.T, store *fakeStore, runID int64) *model.AnalysisRun {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.GetRun(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("run did not reach a terminal status")
	return nil
}

// twoPRFixture registers two PRs, each touching one fully surviving file
func twoPRFixture(diff *fakeDiff, blame *fakeBlame) []model.PullRequestContext {
	prs := []model.PullRequestContext{
		{Number: 1, Repo: "acme/widgets", TaskID: "TASK-1", SprintID: "sprint-1", AuthorID: "alice"},
		{Number: 2, Repo: "acme/widgets", TaskID: "TASK-2", SprintID: "sprint-1", AuthorID: "bob"},
	}

	for i, pr := range prs {
		path := []string{"a.go", "b.go"}[i]
		content := []string{"line one", "line two"}

		diff.patches[pr.Number] = &model.PullRequestPatch{
			Number:         pr.Number,
			MergeCommitSHA: prSHA,
			CommitSHAs:     []string{prSHA},
			Files: []model.FilePatch{{
				FilePath:  path,
				Status:    model.FileAdded,
				Additions: 2,
				AddedLines: []model.AddedLine{
					{Content: content[0], LineNumber: 1},
					{Content: content[1], LineNumber: 2},
				},
			}},
		}
		blame.files[path] = content
		blame.blames[path] = blameFor(content, map[int]string{1: prSHA, 2: prSHA})
	}

	return prs
}

func newTestOrchestrator(t *testing.T, diff *fakeDiff, blame *fakeBlame, projects *fakeProjects, store *fakeStore) *Orchestrator {
	t.Helper()

	orch, err := NewOrchestrator(testConfig(), diff, blame, projects, store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })
	return orch
}

func TestStartRunCompletes(t *testing.T) {
	diff := newFakeDiff()
	blame := newFakeBlame()
	store := newFakeStore()
	projects := &fakeProjects{prs: twoPRFixture(diff, blame)}

	orch := newTestOrchestrator(t, diff, blame, projects, store)

	run, err := orch.StartRun(context.Background(), "proj-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusInProgress, run.Status)
	assert.Equal(t, 2, run.TotalPRs)

	final := waitForTerminal(t, store, run.ID)
	assert.Equal(t, model.RunStatusDone, final.Status)
	assert.Equal(t, final.TotalPRs, final.ProcessedPRs)
	assert.Equal(t, 2, final.TotalFiles)
	assert.Equal(t, 4, final.TotalSurvivingLines)
	assert.Equal(t, 0, final.TotalDeletedLines)
	assert.InDelta(t, 100.0, final.SurvivalRate(), 0.001)
	assert.NotNil(t, final.CompletedAt)

	files, err := store.ListFiles(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestStartRunRejectsSecondActive(t *testing.T) {
	diff := newFakeDiff()
	blame := newFakeBlame()
	store := newFakeStore()
	projects := &fakeProjects{prs: twoPRFixture(diff, blame)}

	require.NoError(t, store.CreateRun(context.Background(), &model.AnalysisRun{
		ProjectID: "proj-1",
		Status:    model.RunStatusInProgress,
	}))

	orch := newTestOrchestrator(t, diff, blame, projects, store)

	_, err := orch.StartRun(context.Background(), "proj-1", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAnalysisAlreadyRunning)

	// A different project is unaffected
	run, err := orch.StartRun(context.Background(), "proj-2", "alice")
	require.NoError(t, err)
	waitForTerminal(t, store, run.ID)
}

func TestStartRunSkipsPullRequestWithoutRepo(t *testing.T) {
	diff := newFakeDiff()
	blame := newFakeBlame()
	store := newFakeStore()

	prs := twoPRFixture(diff, blame)
	prs = append(prs, model.PullRequestContext{Number: 3, TaskID: "TASK-3"}) // no repo linked
	projects := &fakeProjects{prs: prs}

	orch := newTestOrchestrator(t, diff, blame, projects, store)

	run, err := orch.StartRun(context.Background(), "proj-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, run.TotalPRs)

	final := waitForTerminal(t, store, run.ID)
	assert.Equal(t, model.RunStatusDone, final.Status)
	assert.Equal(t, 2, final.ProcessedPRs)
	assert.InDelta(t, 100.0, final.ProgressPercent(), 0.001)
}

func TestRunRecoversFromTransientOutage(t *testing.T) {
	diff := newFakeDiff()
	blame := newFakeBlame()
	store := newFakeStore()
	projects := &fakeProjects{prs: twoPRFixture(diff, blame)}

	// First PR fails twice before the diff becomes available again
	diff.failures[1] = 2
	diff.failWith = model.ErrDiffUnavailable

	orch := newTestOrchestrator(t, diff, blame, projects, store)

	run, err := orch.StartRun(context.Background(), "proj-1", "alice")
	require.NoError(t, err)

	final := waitForTerminal(t, store, run.ID)
	assert.Equal(t, model.RunStatusDone, final.Status)
	assert.Equal(t, 2, final.TotalFiles)
	assert.Equal(t, 4, final.TotalSurvivingLines)
}

func TestRunGivesPartialCreditOnExhaustedRetries(t *testing.T) {
	diff := newFakeDiff()
	blame := newFakeBlame()
	store := newFakeStore()
	projects := &fakeProjects{prs: twoPRFixture(diff, blame)}

	// First PR never yields a diff within the retry budget
	diff.failures[1] = 100
	diff.failWith = model.ErrDiffUnavailable

	orch := newTestOrchestrator(t, diff, blame, projects, store)

	run, err := orch.StartRun(context.Background(), "proj-1", "alice")
	require.NoError(t, err)

	final := waitForTerminal(t, store, run.ID)
	assert.Equal(t, model.RunStatusDone, final.Status)
	assert.Equal(t, 2, final.ProcessedPRs) // the broken PR still counts as processed
	assert.Equal(t, 1, final.TotalFiles)   // but contributed no files
	assert.Equal(t, 2, final.TotalSurvivingLines)
}

func TestRunFailsOnAuthenticationError(t *testing.T) {
	diff := newFakeDiff()
	blame := newFakeBlame()
	store := newFakeStore()
	projects := &fakeProjects{prs: twoPRFixture(diff, blame)}

	diff.failures[1] = 1
	diff.failWith = model.ErrAuthenticationFailure

	orch := newTestOrchestrator(t, diff, blame, projects, store)

	run, err := orch.StartRun(context.Background(), "proj-1", "alice")
	require.NoError(t, err)

	final := waitForTerminal(t, store, run.ID)
	assert.Equal(t, model.RunStatusFailed, final.Status)
	assert.NotEmpty(t, final.ErrorMessage)

	// A failed run releases the active slot for the project
	active, err := store.HasActiveRun(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRunWithNoEligiblePullRequests(t *testing.T) {
	diff := newFakeDiff()
	blame := newFakeBlame()
	store := newFakeStore()
	projects := &fakeProjects{}

	orch := newTestOrchestrator(t, diff, blame, projects, store)

	run, err := orch.StartRun(context.Background(), "proj-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, run.TotalPRs)

	final := waitForTerminal(t, store, run.ID)
	assert.Equal(t, model.RunStatusDone, final.Status)
	assert.InDelta(t, 100.0, final.ProgressPercent(), 0.001)
}
