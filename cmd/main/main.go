package main

import (
	"github.com/alecthomas/kingpin/v2"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/erro"
	"github.com/maxbolgarin/logze/v2"

	"github.com/coursetrack/survival/internal/app"
	"github.com/coursetrack/survival/internal/config"
	"github.com/coursetrack/survival/internal/survival"
)

var (
	Version, Branch, Commit, BuildDate string
)

var (
	configPath = kingpin.Flag("config", "path to config file").Short('c').String()
	projectID  = kingpin.Flag("project", "run analysis for this project and exit").Short('p').String()
	userID     = kingpin.Flag("user", "user starting the analysis").Short('u').Default("cli").String()
	groupBy    = kingpin.Flag("group-by", "summary grouping: author or sprint").Default("author").String()
)

func main() {
	kingpin.Parse()

	var err error
	ctx := contem.New(contem.WithLogger(logze.DefaultPtr()), contem.Exit(&err))
	defer ctx.Shutdown()

	err = run(ctx)
	if err != nil {
		logze.DefaultPtr().Error("cannot run", "error", err)
	}
}

func run(ctx contem.Context) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return erro.Wrap(err, "load config")
	}
	logze.Init(logze.C().WithConsole().WithLevel(logze.LevelDebug))

	service, err := app.New(ctx, cfg)
	if err != nil {
		return erro.Wrap(err, "new service")
	}

	// One-shot mode: run the analysis for one project and print the summary
	if *projectID != "" {
		return runOnce(ctx, service)
	}

	if err := service.StartServer(ctx); err != nil {
		return erro.Wrap(err, "start server")
	}

	return nil
}

func runOnce(ctx contem.Context, service *app.App) error {
	run, err := service.RunAnalysis(ctx, *projectID, *userID)
	if err != nil {
		return erro.Wrap(err, "start analysis")
	}

	run, err = service.WaitForRun(ctx, run.ID)
	if err != nil {
		return erro.Wrap(err, "wait for analysis")
	}

	log := logze.With("run_id", run.ID)
	log.Info("analysis finished",
		"status", run.Status,
		"total_prs", run.TotalPRs,
		"total_files", run.TotalFiles,
		"surviving_lines", run.TotalSurvivingLines,
		"deleted_lines", run.TotalDeletedLines,
		"survival_rate", run.SurvivalRate(),
	)

	summary, err := service.Summarize(ctx, run.ID, survival.GroupBy(*groupBy))
	if err != nil {
		return erro.Wrap(err, "summarize")
	}
	for _, row := range summary.Rows {
		log.Info("summary row",
			"key", row.Key,
			"files", row.FileCount,
			"surviving", row.SurvivingLines,
			"deleted", row.DeletedLines,
			"rate", row.SurvivalRate,
		)
	}

	return nil
}
