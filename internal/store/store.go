// Package store persists the run / file / line result hierarchy in SQLite
// and serves the task→PR projection the orchestrator enumerates from.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/model/interfaces"
)

const (
	runsTable  = "survival_runs"
	filesTable = "survival_files"
	linesTable = "survival_lines"

	// taskPRsTable is the flat projection of PR↔task↔sprint links the
	// surrounding application maintains; the engine only reads it
	taskPRsTable = "task_pull_requests"

	defaultPath = "survival.db"
)

// Config represents store configuration
type Config struct {
	// Path is the SQLite database file, ":memory:" for tests
	Path string `yaml:"path" env:"STORE_PATH"`
}

func (cfg *Config) PrepareAndValidate() error {
	cfg.Path = lang.Check(cfg.Path, defaultPath)
	return nil
}

// Store implements interfaces.AnalysisStore and interfaces.ProjectSource
type Store struct {
	db  *sql.DB
	log logze.Logger
}

var (
	_ interfaces.AnalysisStore = (*Store)(nil)
	_ interfaces.ProjectSource = (*Store)(nil)
)

// New opens the database and creates the result tables
func New(cfg Config) (*Store, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, errm.Wrap(err, "failed to prepare and validate config")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errm.Wrap(err, "failed to open sqlite database")
	}
	// Single connection avoids "database is locked" under concurrent workers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errm.Wrap(err, "failed to connect to sqlite database")
	}

	s := &Store{
		db:  db,
		log: logze.With("component", "store"),
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, errm.Wrap(err, "failed to create tables")
	}

	return s, nil
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + runsTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_prs INTEGER NOT NULL DEFAULT 0,
			processed_prs INTEGER NOT NULL DEFAULT 0,
			total_files INTEGER NOT NULL DEFAULT 0,
			total_surviving_lines INTEGER NOT NULL DEFAULT 0,
			total_deleted_lines INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			completed_at TEXT
		);`,
		// One IN_PROGRESS run per project, enforced by the database so the
		// check-then-insert is correct across service instances
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_active
			ON ` + runsTable + ` (project_id) WHERE status = 'IN_PROGRESS';`,
		`CREATE TABLE IF NOT EXISTS ` + filesTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL,
			pr_number INTEGER NOT NULL,
			pr_url TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			sprint_id TEXT NOT NULL DEFAULT '',
			author_id TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL,
			status TEXT NOT NULL,
			additions INTEGER NOT NULL DEFAULT 0,
			deletions INTEGER NOT NULL DEFAULT 0,
			surviving_lines INTEGER NOT NULL DEFAULT 0,
			deleted_lines INTEGER NOT NULL DEFAULT 0,
			current_lines INTEGER NOT NULL DEFAULT 0,
			analyzed INTEGER NOT NULL DEFAULT 0,
			note TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_files_run ON ` + filesTable + ` (run_id);`,
		`CREATE TABLE IF NOT EXISTS ` + linesTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER NOT NULL,
			line_number INTEGER,
			original_line_number INTEGER,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			commit_sha TEXT NOT NULL DEFAULT '',
			commit_url TEXT NOT NULL DEFAULT '',
			author_full_name TEXT NOT NULL DEFAULT '',
			author_username TEXT NOT NULL DEFAULT '',
			origin_pr_number INTEGER NOT NULL DEFAULT 0,
			origin_pr_url TEXT NOT NULL DEFAULT '',
			display_order INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lines_file ON ` + linesTable + ` (file_id);`,
		`CREATE TABLE IF NOT EXISTS ` + taskPRsTable + ` (
			project_id TEXT NOT NULL,
			pr_number INTEGER NOT NULL,
			pr_url TEXT NOT NULL DEFAULT '',
			repo TEXT NOT NULL DEFAULT '',
			merged_sha TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			sprint_id TEXT NOT NULL DEFAULT '',
			author_id TEXT NOT NULL DEFAULT '',
			task_status TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (project_id, pr_number)
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return errm.Wrap(err, "failed to execute schema statement")
		}
	}
	return nil
}

// CreateRun inserts a new IN_PROGRESS run. The partial unique index turns a
// concurrent second insert into ErrAnalysisAlreadyRunning.
func (s *Store) CreateRun(ctx context.Context, run *model.AnalysisRun) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO `+runsTable+` (project_id, user_id, status, total_prs, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ProjectID, run.UserID, string(run.Status), run.TotalPRs, formatTime(run.StartedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrAnalysisAlreadyRunning
		}
		return errm.Wrap(err, "failed to insert run")
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return errm.Wrap(err, "failed to get run id")
	}
	return nil
}

// FinishPullRequest atomically increments processed_prs and rolls the PR's
// totals into the run record
func (s *Store) FinishPullRequest(ctx context.Context, runID int64, files, surviving, deleted int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+runsTable+` SET
			processed_prs = processed_prs + 1,
			total_files = total_files + ?,
			total_surviving_lines = total_surviving_lines + ?,
			total_deleted_lines = total_deleted_lines + ?
		 WHERE id = ?`,
		files, surviving, deleted, runID)
	if err != nil {
		return errm.Wrap(err, "failed to update run progress")
	}
	return nil
}

// FinalizeRun moves the run to a terminal status at most once
func (s *Store) FinalizeRun(ctx context.Context, runID int64, status model.RunStatus, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+runsTable+` SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = 'IN_PROGRESS'`,
		string(status), errorMessage, formatTime(time.Now().UTC()), runID)
	if err != nil {
		return errm.Wrap(err, "failed to finalize run")
	}
	return nil
}

// SaveFileResult persists one file record with its lines in one transaction
func (s *Store) SaveFileResult(ctx context.Context, file *model.AnalysisFile, lines []model.AnalysisLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errm.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO `+filesTable+` (run_id, pr_number, pr_url, task_id, sprint_id, author_id,
			file_path, status, additions, deletions,
			surviving_lines, deleted_lines, current_lines, analyzed, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.RunID, file.PRNumber, file.PRURL, file.TaskID, file.SprintID, file.AuthorID,
		file.FilePath, string(file.Status), file.Additions, file.Deletions,
		file.SurvivingLines, file.DeletedLines, file.CurrentLines, boolToInt(file.Analyzed), file.Note)
	if err != nil {
		return errm.Wrap(err, "failed to insert file")
	}

	file.ID, err = result.LastInsertId()
	if err != nil {
		return errm.Wrap(err, "failed to get file id")
	}

	for _, line := range lines {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+linesTable+` (file_id, line_number, original_line_number, content, status,
				commit_sha, commit_url, author_full_name, author_username,
				origin_pr_number, origin_pr_url, display_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			file.ID, line.LineNumber, line.OriginalLineNumber, line.Content, string(line.Status),
			line.CommitSHA, line.CommitURL, line.AuthorFullName, line.AuthorUsername,
			line.OriginPRNumber, line.OriginPRURL, line.DisplayOrder)
		if err != nil {
			return errm.Wrap(err, "failed to insert line")
		}
	}

	if err := tx.Commit(); err != nil {
		return errm.Wrap(err, "failed to commit file result")
	}
	return nil
}

// GetRun returns one run by ID, model.ErrRunNotFound when missing
func (s *Store) GetRun(ctx context.Context, runID int64) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, user_id, status, total_prs, processed_prs,
			total_files, total_surviving_lines, total_deleted_lines,
			error_message, started_at, completed_at
		 FROM `+runsTable+` WHERE id = ?`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errm.Is(err, sql.ErrNoRows) {
			return nil, model.ErrRunNotFound
		}
		return nil, errm.Wrap(err, "failed to get run")
	}
	return run, nil
}

// ListRuns returns the project's run history, newest first
func (s *Store) ListRuns(ctx context.Context, projectID string) ([]model.AnalysisRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, status, total_prs, processed_prs,
			total_files, total_surviving_lines, total_deleted_lines,
			error_message, started_at, completed_at
		 FROM `+runsTable+` WHERE project_id = ? ORDER BY id DESC`, projectID)
	if err != nil {
		return nil, errm.Wrap(err, "failed to query runs")
	}
	defer func() { _ = rows.Close() }()

	var runs []model.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errm.Wrap(err, "failed to scan run")
		}
		runs = append(runs, *run)
	}
	return runs, errm.Wrap(rows.Err(), "failed to iterate runs")
}

// HasActiveRun reports whether the project has an IN_PROGRESS run
func (s *Store) HasActiveRun(ctx context.Context, projectID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+runsTable+` WHERE project_id = ? AND status = 'IN_PROGRESS'`,
		projectID).Scan(&count)
	if err != nil {
		return false, errm.Wrap(err, "failed to count active runs")
	}
	return count > 0, nil
}

// ListFiles returns all file records of one run ordered by PR and path
func (s *Store) ListFiles(ctx context.Context, runID int64) ([]model.AnalysisFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, pr_number, pr_url, task_id, sprint_id, author_id,
			file_path, status, additions, deletions,
			surviving_lines, deleted_lines, current_lines, analyzed, note
		 FROM `+filesTable+` WHERE run_id = ? ORDER BY pr_number, file_path`, runID)
	if err != nil {
		return nil, errm.Wrap(err, "failed to query files")
	}
	defer func() { _ = rows.Close() }()

	var files []model.AnalysisFile
	for rows.Next() {
		var f model.AnalysisFile
		var status string
		var analyzed int
		if err := rows.Scan(&f.ID, &f.RunID, &f.PRNumber, &f.PRURL, &f.TaskID, &f.SprintID, &f.AuthorID,
			&f.FilePath, &status, &f.Additions, &f.Deletions,
			&f.SurvivingLines, &f.DeletedLines, &f.CurrentLines, &analyzed, &f.Note); err != nil {
			return nil, errm.Wrap(err, "failed to scan file")
		}
		f.Status = model.FileStatus(status)
		f.Analyzed = analyzed != 0
		files = append(files, f)
	}
	return files, errm.Wrap(rows.Err(), "failed to iterate files")
}

// ListLines returns one file's lines in display order
func (s *Store) ListLines(ctx context.Context, fileID int64) ([]model.AnalysisLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_id, line_number, original_line_number, content, status,
			commit_sha, commit_url, author_full_name, author_username,
			origin_pr_number, origin_pr_url, display_order
		 FROM `+linesTable+` WHERE file_id = ? ORDER BY display_order`, fileID)
	if err != nil {
		return nil, errm.Wrap(err, "failed to query lines")
	}
	defer func() { _ = rows.Close() }()

	var lines []model.AnalysisLine
	for rows.Next() {
		var l model.AnalysisLine
		var status string
		if err := rows.Scan(&l.ID, &l.FileID, &l.LineNumber, &l.OriginalLineNumber, &l.Content, &status,
			&l.CommitSHA, &l.CommitURL, &l.AuthorFullName, &l.AuthorUsername,
			&l.OriginPRNumber, &l.OriginPRURL, &l.DisplayOrder); err != nil {
			return nil, errm.Wrap(err, "failed to scan line")
		}
		l.Status = model.LineStatus(status)
		lines = append(lines, l)
	}
	return lines, errm.Wrap(rows.Err(), "failed to iterate lines")
}

// ListEligiblePullRequests returns the flat projections of every PR linked
// through a DONE task of the project
func (s *Store) ListEligiblePullRequests(ctx context.Context, projectID string) ([]model.PullRequestContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pr_number, pr_url, repo, merged_sha, task_id, sprint_id, author_id
		 FROM `+taskPRsTable+` WHERE project_id = ? AND task_status = 'DONE'
		 ORDER BY pr_number`, projectID)
	if err != nil {
		return nil, errm.Wrap(err, "failed to query eligible pull requests")
	}
	defer func() { _ = rows.Close() }()

	var prs []model.PullRequestContext
	for rows.Next() {
		var pr model.PullRequestContext
		if err := rows.Scan(&pr.Number, &pr.URL, &pr.Repo, &pr.MergedSHA,
			&pr.TaskID, &pr.SprintID, &pr.AuthorID); err != nil {
			return nil, errm.Wrap(err, "failed to scan pull request")
		}
		prs = append(prs, pr)
	}
	return prs, errm.Wrap(rows.Err(), "failed to iterate pull requests")
}

// AddTaskPullRequest upserts one task↔PR link; test and backfill helper
func (s *Store) AddTaskPullRequest(ctx context.Context, projectID string, pr model.PullRequestContext, taskStatus string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+taskPRsTable+`
			(project_id, pr_number, pr_url, repo, merged_sha, task_id, sprint_id, author_id, task_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, pr.Number, pr.URL, pr.Repo, pr.MergedSHA, pr.TaskID, pr.SprintID, pr.AuthorID, taskStatus)
	return errm.Wrap(err, "failed to upsert task pull request")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	var status, startedAt string
	var completedAt *string

	if err := row.Scan(&run.ID, &run.ProjectID, &run.UserID, &status,
		&run.TotalPRs, &run.ProcessedPRs,
		&run.TotalFiles, &run.TotalSurvivingLines, &run.TotalDeletedLines,
		&run.ErrorMessage, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	run.Status = model.RunStatus(status)

	var err error
	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, errm.Wrap(err, "failed to parse started_at")
	}
	if completedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *completedAt)
		if err != nil {
			return nil, errm.Wrap(err, "failed to parse completed_at")
		}
		run.CompletedAt = &t
	}
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
