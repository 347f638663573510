package survival

import (
	"context"
	"sort"

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/model/interfaces"
	"github.com/maxbolgarin/errm"
)

// GroupBy selects the grouping dimension of a summary
type GroupBy string

const (
	GroupByAuthor GroupBy = "author"
	GroupBySprint GroupBy = "sprint"
)

// SummaryFilter narrows the file set before grouping
type SummaryFilter struct {
	SprintID string
	AuthorID string
}

// SummaryRow is one aggregated group of files
type SummaryRow struct {
	Key            string  `json:"key"`
	SurvivingLines int     `json:"survivingLines"`
	DeletedLines   int     `json:"deletedLines"`
	FileCount      int     `json:"fileCount"`
	SurvivalRate   float64 `json:"survivalRate"`
}

// Summary is the aggregate view over one run's persisted files
type Summary struct {
	Rows   []SummaryRow `json:"rows"`
	Totals SummaryRow   `json:"totals"`
}

// Aggregator computes author/sprint summaries from persisted file records.
// Results are recomputed per query: a run's files are append-only and never
// mutated, so there is nothing to invalidate.
type Aggregator struct {
	store interfaces.AnalysisStore
}

// NewAggregator creates a read-side aggregator over the store
func NewAggregator(store interfaces.AnalysisStore) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize groups one run's files by author or sprint, optionally filtered.
// Grand totals always sum the unfiltered file set.
func (a *Aggregator) Summarize(ctx context.Context, runID int64, groupBy GroupBy, filter SummaryFilter) (*Summary, error) {
	files, err := a.store.ListFiles(ctx, runID)
	if err != nil {
		return nil, errm.Wrap(err, "failed to list run files")
	}

	summary := &Summary{Totals: SummaryRow{Key: "total"}}
	groups := make(map[string]*SummaryRow)

	for _, file := range files {
		accumulate(&summary.Totals, file)

		if filter.SprintID != "" && file.SprintID != filter.SprintID {
			continue
		}
		if filter.AuthorID != "" && file.AuthorID != filter.AuthorID {
			continue
		}

		key, err := groupKey(groupBy, file)
		if err != nil {
			return nil, err
		}
		row, ok := groups[key]
		if !ok {
			row = &SummaryRow{Key: key}
			groups[key] = row
		}
		accumulate(row, file)
	}

	summary.Totals.SurvivalRate = model.SurvivalRate(summary.Totals.SurvivingLines, summary.Totals.DeletedLines)

	summary.Rows = make([]SummaryRow, 0, len(groups))
	for _, row := range groups {
		row.SurvivalRate = model.SurvivalRate(row.SurvivingLines, row.DeletedLines)
		summary.Rows = append(summary.Rows, *row)
	}
	sort.Slice(summary.Rows, func(i, j int) bool {
		return summary.Rows[i].Key < summary.Rows[j].Key
	})

	return summary, nil
}

func groupKey(groupBy GroupBy, file model.AnalysisFile) (string, error) {
	switch groupBy {
	case GroupByAuthor:
		return file.AuthorID, nil
	case GroupBySprint:
		return file.SprintID, nil
	default:
		return "", errm.Errorf("unsupported group by: %s", groupBy)
	}
}

func accumulate(row *SummaryRow, file model.AnalysisFile) {
	row.SurvivingLines += file.SurvivingLines
	row.DeletedLines += file.DeletedLines
	row.FileCount++
}
