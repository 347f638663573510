// Package patchutil extracts line-level facts from unified diff fragments
// as returned by the GitHub and GitLab APIs.
package patchutil

import (
	"strings"

	"github.com/maxbolgarin/errm"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/coursetrack/survival/internal/model"
)

// ParsePatch extracts the added lines (with their post-merge line numbers)
// and the removed-line count from one file's unified diff fragment
func ParsePatch(patch string) ([]model.AddedLine, int, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, 0, nil
	}

	hunks, err := diff.ParseHunks([]byte(patch))
	if err != nil {
		return nil, 0, errm.Wrap(err, "failed to parse hunks")
	}

	var added []model.AddedLine
	var removed int

	for _, hunk := range hunks {
		newLine := int(hunk.NewStartLine)

		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if line == "" {
				continue
			}
			switch line[0] {
			case '+':
				added = append(added, model.AddedLine{
					Content:    line[1:],
					LineNumber: newLine,
				})
				newLine++
			case '-':
				removed++
			case '\\':
				// "\ No newline at end of file" marker
			default:
				newLine++
			}
		}
	}

	return added, removed, nil
}
