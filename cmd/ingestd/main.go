package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"coursesync-backend/lib/configutil"
	configlibsql "coursesync-backend/lib/configutil/libsql"
	"coursesync-backend/lib/telemetry"
	"coursesync-backend/lib/util/serviceutil"
	"coursesync-backend/services/ingest"
	"coursesync-backend/services/ingest/db"
)

type Config struct {
	Port        int                 `json:"port"`
	AccessToken string              `json:"access_token"`
	Database    configlibsql.Struct `json:"database"`
}

func main() {
	configPath := flag.String("config", "ingest.json5", "Path to the ingest config.")
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	telemetry.InitSlog(*verbose)
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config](*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	config, err = configutil.WithDefaults(config, Config{
		Port:     8111,
		Database: configlibsql.Struct{File: "<dev_state>/ingest.db"},
	})
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	tel, err := telemetry.SetupFromEnv(ctx, "ingestd")
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
	telemetry.InstrumentPerfStats(ctx)

	slog.Info("opening database...")
	database, err := config.Database.OpenDBWithSchema(db.Schema)
	if err != nil {
		serviceutil.Fatal("open database", err)
	}
	defer database.Close()

	if config.AccessToken == "" {
		slog.Warn("no access token configured, the ingest endpoint accepts anyone")
	}

	slog.Info("listening...", "port", config.Port)
	err = serviceutil.StartHttpServer(ctx, config.Port, ingest.NewMux(ingest.NewStore(database), config.AccessToken))
	if err != nil {
		serviceutil.Fatal("serve http", err)
	}
}
