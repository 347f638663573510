package model

import (
	"time"
)

// ProviderConfig represents VCS provider connection settings
type ProviderConfig struct {
	BaseURL string
	Token   string
}

// RunStatus is the lifecycle state of an analysis run
type RunStatus string

const (
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusDone       RunStatus = "DONE"
	RunStatusFailed     RunStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusFailed
}

// LineStatus classifies a single displayed line of an analyzed file
type LineStatus string

const (
	// LineSurviving is a line introduced by the PR that is still present byte-for-byte
	LineSurviving LineStatus = "SURVIVING"
	// LineCurrent is a line present in the file that did not originate from the PR
	LineCurrent LineStatus = "CURRENT"
	// LineDeleted is a line introduced by the PR that has since been modified or removed
	LineDeleted LineStatus = "DELETED"
)

// FileStatus is the per-file change type as reported by the diff
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileDeleted  FileStatus = "deleted"
	FileRenamed  FileStatus = "renamed"
)

// AnalysisRun represents one execution of survival analysis over a project
type AnalysisRun struct {
	ID        int64
	ProjectID string
	UserID    string
	Status    RunStatus

	TotalPRs     int
	ProcessedPRs int

	TotalFiles          int
	TotalSurvivingLines int
	TotalDeletedLines   int

	ErrorMessage string

	StartedAt   time.Time
	CompletedAt *time.Time
}

// ProgressPercent returns run progress in [0, 100]
func (r AnalysisRun) ProgressPercent() float64 {
	if r.TotalPRs == 0 {
		return 100
	}
	return float64(r.ProcessedPRs) * 100 / float64(r.TotalPRs)
}

// SurvivalRate returns the run-level survival rate, 100 on an empty denominator
func (r AnalysisRun) SurvivalRate() float64 {
	return SurvivalRate(r.TotalSurvivingLines, r.TotalDeletedLines)
}

// AnalysisFile is the result for one file touched by one PR within one run
type AnalysisFile struct {
	ID       int64
	RunID    int64
	PRNumber int
	PRURL    string

	// Flat projections of the task graph, resolved at enumeration time
	TaskID   string
	SprintID string
	AuthorID string

	FilePath string
	Status   FileStatus

	Additions int
	Deletions int

	SurvivingLines int
	DeletedLines   int
	CurrentLines   int

	// Analyzed is false when the file could not be read (binary, moved,
	// provider outage past the retry budget); counts are zero then
	Analyzed bool
	Note     string
}

// SurvivalRate returns the file survival rate, 100 on an empty denominator
func (f AnalysisFile) SurvivalRate() float64 {
	return SurvivalRate(f.SurvivingLines, f.DeletedLines)
}

// AnalysisLine is one displayed line within an analyzed file
type AnalysisLine struct {
	ID     int64
	FileID int64

	// LineNumber is the position in the current file, nil for DELETED lines
	LineNumber *int
	// OriginalLineNumber is the position in the merge commit, nil for
	// lines that were not part of the analyzed PR
	OriginalLineNumber *int

	Content string
	Status  LineStatus

	CommitSHA      string
	CommitURL      string
	AuthorFullName string
	AuthorUsername string

	// Origin PR attribution for CURRENT lines, when blame can resolve it
	OriginPRNumber int
	OriginPRURL    string

	// DisplayOrder is dense and 0-based within one file
	DisplayOrder int
}

// PullRequestContext is the flat per-PR projection the orchestrator works with.
// It is resolved once at enumeration time so workers never touch entity graphs.
type PullRequestContext struct {
	Number    int
	URL       string
	Repo      string
	TaskID    string
	SprintID  string
	AuthorID  string
	MergedSHA string
}

// AddedLine is one line a PR introduced, keyed by its post-merge position
type AddedLine struct {
	Content    string
	LineNumber int
}

// FilePatch is the parsed per-file part of a PR patch
type FilePatch struct {
	FilePath    string
	OldPath     string
	Status      FileStatus
	Additions   int
	Deletions   int
	AddedLines  []AddedLine
	RemovedLines int
}

// PullRequestPatch is the parsed patch of one PR plus its merge metadata
type PullRequestPatch struct {
	Number         int
	MergeCommitSHA string
	// CommitSHAs are all commits of the PR plus the merge commit itself,
	// so blame can be matched for both merge and squash strategies
	CommitSHAs []string
	Files      []FilePatch
}

// CommitSet returns the PR commit SHAs as a lookup set
func (p *PullRequestPatch) CommitSet() map[string]bool {
	set := make(map[string]bool, len(p.CommitSHAs)+1)
	for _, sha := range p.CommitSHAs {
		set[sha] = true
	}
	if p.MergeCommitSHA != "" {
		set[p.MergeCommitSHA] = true
	}
	return set
}

// BlameLine is per-line attribution in the current HEAD of a file
type BlameLine struct {
	LineNumber     int
	Content        string
	CommitSHA      string
	CommitURL      string
	AuthorFullName string
	AuthorUsername string
	OriginPRNumber int
	OriginPRURL    string
}

// SurvivalRate computes surviving*100/(surviving+deleted), 100 on zero denominator
func SurvivalRate(surviving, deleted int) float64 {
	total := surviving + deleted
	if total == 0 {
		return 100
	}
	return float64(surviving) * 100 / float64(total)
}
