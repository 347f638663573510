package server

import (
	"github.com/coursetrack/survival/internal/model"
)

// runView is the poll-able run status/progress shape
type runView struct {
	ID                  int64   `json:"id"`
	ProjectID           string  `json:"projectId"`
	Status              string  `json:"status"`
	TotalPRs            int     `json:"totalPrs"`
	ProcessedPRs        int     `json:"processedPrs"`
	ProgressPercent     float64 `json:"progressPercent"`
	TotalFiles          int     `json:"totalFiles"`
	TotalSurvivingLines int     `json:"totalSurvivingLines"`
	TotalDeletedLines   int     `json:"totalDeletedLines"`
	SurvivalRate        float64 `json:"survivalRate"`
	ErrorMessage        string  `json:"errorMessage,omitempty"`
	StartedAt           string  `json:"startedAt"`
	CompletedAt         string  `json:"completedAt,omitempty"`
}

// fileView is the per-file result shape
type fileView struct {
	ID             int64   `json:"id"`
	PRNumber       int     `json:"prNumber"`
	PRURL          string  `json:"prUrl,omitempty"`
	TaskID         string  `json:"taskId,omitempty"`
	SprintID       string  `json:"sprintId,omitempty"`
	AuthorID       string  `json:"authorId,omitempty"`
	FilePath       string  `json:"filePath"`
	Status         string  `json:"status"`
	Additions      int     `json:"additions"`
	Deletions      int     `json:"deletions"`
	SurvivingLines int     `json:"survivingLines"`
	DeletedLines   int     `json:"deletedLines"`
	CurrentLines   int     `json:"currentLines"`
	SurvivalRate   float64 `json:"survivalRate"`
	Analyzed       bool    `json:"analyzed"`
	Note           string  `json:"note,omitempty"`
}

// lineView is one displayed line of the interleaved rendering order
type lineView struct {
	LineNumber         *int   `json:"lineNumber"`
	OriginalLineNumber *int   `json:"originalLineNumber"`
	Content            string `json:"content"`
	Status             string `json:"status"`
	CommitSHA          string `json:"commitSha,omitempty"`
	CommitURL          string `json:"commitUrl,omitempty"`
	AuthorFullName     string `json:"authorFullName,omitempty"`
	AuthorUsername     string `json:"authorUsername,omitempty"`
	OriginPRNumber     int    `json:"originPrNumber,omitempty"`
	OriginPRURL        string `json:"originPrUrl,omitempty"`
	DisplayOrder       int    `json:"displayOrder"`
}

func toRunView(run model.AnalysisRun) runView {
	view := runView{
		ID:                  run.ID,
		ProjectID:           run.ProjectID,
		Status:              string(run.Status),
		TotalPRs:            run.TotalPRs,
		ProcessedPRs:        run.ProcessedPRs,
		ProgressPercent:     run.ProgressPercent(),
		TotalFiles:          run.TotalFiles,
		TotalSurvivingLines: run.TotalSurvivingLines,
		TotalDeletedLines:   run.TotalDeletedLines,
		SurvivalRate:        run.SurvivalRate(),
		ErrorMessage:        run.ErrorMessage,
		StartedAt:           run.StartedAt.Format(timeFormat),
	}
	if run.CompletedAt != nil {
		view.CompletedAt = run.CompletedAt.Format(timeFormat)
	}
	return view
}

func toFileView(file model.AnalysisFile) fileView {
	return fileView{
		ID:             file.ID,
		PRNumber:       file.PRNumber,
		PRURL:          file.PRURL,
		TaskID:         file.TaskID,
		SprintID:       file.SprintID,
		AuthorID:       file.AuthorID,
		FilePath:       file.FilePath,
		Status:         string(file.Status),
		Additions:      file.Additions,
		Deletions:      file.Deletions,
		SurvivingLines: file.SurvivingLines,
		DeletedLines:   file.DeletedLines,
		CurrentLines:   file.CurrentLines,
		SurvivalRate:   file.SurvivalRate(),
		Analyzed:       file.Analyzed,
		Note:           file.Note,
	}
}

func toLineView(line model.AnalysisLine) lineView {
	return lineView{
		LineNumber:         line.LineNumber,
		OriginalLineNumber: line.OriginalLineNumber,
		Content:            line.Content,
		Status:             string(line.Status),
		CommitSHA:          line.CommitSHA,
		CommitURL:          line.CommitURL,
		AuthorFullName:     line.AuthorFullName,
		AuthorUsername:     line.AuthorUsername,
		OriginPRNumber:     line.OriginPRNumber,
		OriginPRURL:        line.OriginPRURL,
		DisplayOrder:       line.DisplayOrder,
	}
}
