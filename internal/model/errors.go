package model

import "github.com/maxbolgarin/errm"

// Error taxonomy of the analysis engine. Providers and the store map their
// raw failures onto these sentinels so the orchestrator can classify them
// with errm.Is without knowing provider details.
var (
	// ErrAnalysisAlreadyRunning is returned when a project already has an
	// IN_PROGRESS run; the caller must wait or inspect the existing run
	ErrAnalysisAlreadyRunning = errm.New("analysis is already running for this project")

	// ErrDiffUnavailable means the PR patch could not be fetched (transient)
	ErrDiffUnavailable = errm.New("pull request diff is unavailable")

	// ErrFileUnavailable means the current file content could not be read
	// (binary, too large, provider outage)
	ErrFileUnavailable = errm.New("file is unavailable")

	// ErrFileNotFound means the file does not exist at HEAD anymore; the
	// PR's contributed lines are all counted as deleted
	ErrFileNotFound = errm.New("file does not exist at HEAD")

	// ErrBlameUnavailable means blame could not be resolved for a file
	ErrBlameUnavailable = errm.New("blame is unavailable")

	// ErrRateLimited is transient and retried with a longer backoff
	ErrRateLimited = errm.New("rate limited by provider")

	// ErrAuthenticationFailure is fatal for the whole run, never retried
	ErrAuthenticationFailure = errm.New("authentication failed")

	// ErrRunNotFound is returned by the store for an unknown run ID
	ErrRunNotFound = errm.New("analysis run not found")
)

// IsTransient reports whether an error is worth retrying
func IsTransient(err error) bool {
	return errm.Is(err, ErrDiffUnavailable) ||
		errm.Is(err, ErrFileUnavailable) ||
		errm.Is(err, ErrBlameUnavailable) ||
		errm.Is(err, ErrRateLimited)
}

// IsFatal reports whether an error must abort the whole run
func IsFatal(err error) bool {
	return errm.Is(err, ErrAuthenticationFailure)
}
