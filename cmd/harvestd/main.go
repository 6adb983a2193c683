package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"coursesync-backend/lib/chrono"
	"coursesync-backend/lib/telemetry"
	"coursesync-backend/lib/util/serviceutil"
	"coursesync-backend/services/harvest"
)

func main() {
	configPath := flag.String("config", "harvest.json5", "Path to the harvest config.")
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	once := flag.Bool("once", false, "Run the job once and exit instead of following the schedule.")
	flag.Parse()

	telemetry.InitSlog(*verbose)
	ctx := serviceutil.SignalContext()

	config, err := harvest.ReadConfig(*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	tel, err := telemetry.SetupFromEnv(ctx, "harvestd")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := tel.Shutdown(shutdownCtx)
		if err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	if *verbose {
		telemetry.InstrumentPerfStats(ctx)
	}

	job, cleanup, err := harvest.Setup(config)
	if err != nil {
		serviceutil.Fatal("setup harvest job", err)
	}
	defer cleanup()

	run := func() {
		reports, err := job.Run(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "harvest failed", "err", err)
		}
		slog.InfoContext(ctx, "harvest finished", "partitions", len(reports))
	}

	if *once {
		run()
		return
	}

	cron := chrono.NewCron()
	err = cron.Add(config.Schedule, run)
	if err != nil {
		serviceutil.Fatal("schedule harvest", err)
	}
	slog.Info("waiting for the next scheduled harvest", "schedule", config.Schedule, "partitions", len(config.Partitions))
	cron.Run(ctx)
}
