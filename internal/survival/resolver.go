package survival

import (
	"sort"
	"strings"

	"github.com/coursetrack/survival/internal/model"
)

// MatchOptions controls the heuristic that matches PR-added lines against
// current file lines. Exact rules are configurable on purpose: content
// equality plus commit lineage is the default, but deployments differ in
// how strict they want whitespace handling to be.
type MatchOptions struct {
	// TrimWhitespace compares lines with surrounding whitespace stripped
	// instead of byte-for-byte
	TrimWhitespace bool

	// RequireCommitMatch additionally requires the blame commit of a
	// candidate line to belong to the PR's commit set. Disabling it keeps
	// pure content matching, which overcounts survival when later work
	// reintroduces identical lines.
	RequireCommitMatch bool
}

// DefaultMatchOptions is the content+commit heuristic
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{RequireCommitMatch: true}
}

// Resolver classifies every line of the current file plus every deleted PR
// line into SURVIVING / CURRENT / DELETED and computes the display order
// interleaving current and deleted lines
type Resolver struct {
	opts MatchOptions
}

// NewResolver creates a resolver with the given matching options
func NewResolver(opts MatchOptions) *Resolver {
	return &Resolver{opts: opts}
}

// contributedEntry is one line the PR added, keyed by content and tracked
// until a current line consumes it
type contributedEntry struct {
	content      string
	originalLine int
	consumed     bool
}

// Resolve runs the provenance algorithm for one file of one PR.
//
// Every line currently in the file whose blame commit belongs to the PR and
// whose content matches an unconsumed contributed line is SURVIVING; other
// current lines are CURRENT. Contributed lines never consumed are DELETED.
// Duplicate content is disambiguated by nearest original line number.
func (r *Resolver) Resolve(file model.FilePatch, prCommits map[string]bool, current []string, blame []model.BlameLine) []model.AnalysisLine {
	contributed := make([]*contributedEntry, 0, len(file.AddedLines))
	byContent := make(map[string][]*contributedEntry, len(file.AddedLines))

	for _, added := range file.AddedLines {
		entry := &contributedEntry{
			content:      added.Content,
			originalLine: added.LineNumber,
		}
		contributed = append(contributed, entry)
		key := r.contentKey(added.Content)
		byContent[key] = append(byContent[key], entry)
	}

	blameByLine := make(map[int]model.BlameLine, len(blame))
	for _, b := range blame {
		blameByLine[b.LineNumber] = b
	}

	resolved := make([]model.AnalysisLine, 0, len(current))

	for i, content := range current {
		lineNumber := i + 1
		b := blameByLine[lineNumber]

		line := model.AnalysisLine{
			LineNumber:     intPtr(lineNumber),
			Content:        content,
			CommitSHA:      b.CommitSHA,
			CommitURL:      b.CommitURL,
			AuthorFullName: b.AuthorFullName,
			AuthorUsername: b.AuthorUsername,
		}

		if entry := r.match(content, lineNumber, b, prCommits, byContent); entry != nil {
			entry.consumed = true
			line.Status = model.LineSurviving
			line.OriginalLineNumber = intPtr(entry.originalLine)
		} else {
			line.Status = model.LineCurrent
			line.OriginPRNumber = b.OriginPRNumber
			line.OriginPRURL = b.OriginPRURL
		}

		resolved = append(resolved, line)
	}

	deleted := make([]model.AnalysisLine, 0)
	for _, entry := range contributed {
		if entry.consumed {
			continue
		}
		deleted = append(deleted, model.AnalysisLine{
			OriginalLineNumber: intPtr(entry.originalLine),
			Content:            entry.content,
			Status:             model.LineDeleted,
		})
	}
	sort.SliceStable(deleted, func(i, j int) bool {
		return *deleted[i].OriginalLineNumber < *deleted[j].OriginalLineNumber
	})

	return interleave(resolved, deleted)
}

// match finds the best unconsumed contributed entry for a current line,
// or nil when the line did not come from the PR
func (r *Resolver) match(content string, lineNumber int, b model.BlameLine, prCommits map[string]bool, byContent map[string][]*contributedEntry) *contributedEntry {
	if r.opts.RequireCommitMatch && !prCommits[b.CommitSHA] {
		return nil
	}

	candidates := byContent[r.contentKey(content)]

	// Nearest original line wins so duplicate identical lines do not
	// collapse onto one entry
	var best *contributedEntry
	bestDistance := 0
	for _, entry := range candidates {
		if entry.consumed {
			continue
		}
		distance := abs(entry.originalLine - lineNumber)
		if best == nil || distance < bestDistance {
			best = entry
			bestDistance = distance
		}
	}
	return best
}

func (r *Resolver) contentKey(content string) string {
	if r.opts.TrimWhitespace {
		return strings.TrimSpace(content)
	}
	return content
}

// interleave merges deleted lines into the current-file order by original
// position, so a deleted line appears right after the surviving lines that
// preceded it in the merge commit, then assigns a dense display order
func interleave(resolved, deleted []model.AnalysisLine) []model.AnalysisLine {
	out := make([]model.AnalysisLine, 0, len(resolved)+len(deleted))
	di := 0

	for _, line := range resolved {
		if line.Status == model.LineSurviving {
			for di < len(deleted) && *deleted[di].OriginalLineNumber < *line.OriginalLineNumber {
				out = append(out, deleted[di])
				di++
			}
		}
		out = append(out, line)
	}
	out = append(out, deleted[di:]...)

	for i := range out {
		out[i].DisplayOrder = i
	}
	return out
}

func intPtr(v int) *int {
	return &v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
