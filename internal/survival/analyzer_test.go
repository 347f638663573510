package survival

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursetrack/survival/internal/model"
)

func testPR() model.PullRequestContext {
	return model.PullRequestContext{
		Number:   7,
		URL:      "https://example.com/pr/7",
		Repo:     "acme/widgets",
		TaskID:   "TASK-1",
		SprintID: "sprint-1",
		AuthorID: "alice",
	}
}

func testPatch(files ...model.FilePatch) *model.PullRequestPatch {
	return &model.PullRequestPatch{
		Number:         7,
		MergeCommitSHA: prSHA,
		CommitSHAs:     []string{prSHA},
		Files:          files,
	}
}

func TestAnalyzeCountsByStatus(t *testing.T) {
	blame := newFakeBlame()
	blame.files["a.go"] = []string{"one()", "two()", "later()"}
	blame.blames["a.go"] = blameFor(blame.files["a.go"], map[int]string{1: prSHA, 2: prSHA, 3: otherSHA})

	analyzer := NewFileAnalyzer(testConfig(), blame)

	file := patchWithAdded(
		model.AddedLine{Content: "one()", LineNumber: 1},
		model.AddedLine{Content: "two()", LineNumber: 2},
		model.AddedLine{Content: "gone()", LineNumber: 3},
	)

	result, lines, err := analyzer.Analyze(context.Background(), testPR(), testPatch(file), file)
	require.NoError(t, err)

	assert.True(t, result.Analyzed)
	assert.Equal(t, 2, result.SurvivingLines)
	assert.Equal(t, 1, result.DeletedLines)
	assert.Equal(t, 1, result.CurrentLines)
	assert.Equal(t, len(lines), result.SurvivingLines+result.DeletedLines+result.CurrentLines)

	// Every added line ends up either surviving or deleted
	counts := countByStatus(lines)
	assert.Equal(t, len(file.AddedLines), counts[model.LineSurviving]+counts[model.LineDeleted])

	// PR context is flattened onto the file record
	assert.Equal(t, 7, result.PRNumber)
	assert.Equal(t, "TASK-1", result.TaskID)
	assert.Equal(t, "sprint-1", result.SprintID)
	assert.Equal(t, "alice", result.AuthorID)
}

func TestAnalyzeFileGoneFromHead(t *testing.T) {
	blame := newFakeBlame() // no content registered -> ErrFileNotFound
	analyzer := NewFileAnalyzer(testConfig(), blame)

	file := patchWithAdded(
		model.AddedLine{Content: "a", LineNumber: 1},
		model.AddedLine{Content: "b", LineNumber: 2},
	)

	result, lines, err := analyzer.Analyze(context.Background(), testPR(), testPatch(file), file)
	require.NoError(t, err)

	assert.True(t, result.Analyzed)
	assert.Equal(t, 0, result.SurvivingLines)
	assert.Equal(t, 2, result.DeletedLines)
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, model.LineDeleted, line.Status)
	}
}

func TestAnalyzeUnreadableFile(t *testing.T) {
	blame := newFakeBlame()
	blame.fileErr["a.go"] = model.ErrFileUnavailable

	cfg := testConfig()
	cfg.MaxAttempts = 2 // keep the exhausted-retries path fast
	analyzer := NewFileAnalyzer(cfg, blame)

	file := patchWithAdded(model.AddedLine{Content: "a", LineNumber: 1})

	result, lines, err := analyzer.Analyze(context.Background(), testPR(), testPatch(file), file)
	require.NoError(t, err)

	assert.False(t, result.Analyzed)
	assert.NotEmpty(t, result.Note)
	assert.Zero(t, result.SurvivingLines)
	assert.Zero(t, result.DeletedLines)
	assert.Nil(t, lines)
}

func TestAnalyzeFatalErrorPropagates(t *testing.T) {
	blame := newFakeBlame()
	blame.fileErr["a.go"] = model.ErrAuthenticationFailure

	analyzer := NewFileAnalyzer(testConfig(), blame)

	file := patchWithAdded(model.AddedLine{Content: "a", LineNumber: 1})

	_, _, err := analyzer.Analyze(context.Background(), testPR(), testPatch(file), file)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAuthenticationFailure)
}

func TestAnalyzeTransientThenSuccess(t *testing.T) {
	blame := newFakeBlame()
	blame.files["a.go"] = []string{"keep"}
	blame.blames["a.go"] = blameFor(blame.files["a.go"], map[int]string{1: prSHA})
	blame.failFirst["a.go"] = 2 // recovers within the retry budget

	analyzer := NewFileAnalyzer(testConfig(), blame)

	file := patchWithAdded(model.AddedLine{Content: "keep", LineNumber: 1})

	result, _, err := analyzer.Analyze(context.Background(), testPR(), testPatch(file), file)
	require.NoError(t, err)
	assert.True(t, result.Analyzed)
	assert.Equal(t, 1, result.SurvivingLines)
}
