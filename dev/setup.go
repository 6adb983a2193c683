package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	devenv "coursesync-backend/dev/env"
	baselinedb "coursesync-backend/lib/baseline/db"
	ingestdb "coursesync-backend/services/ingest/db"
)

func createDb(filename, schema string) error {
	dbPath, err := devenv.ResolvePath(filepath.Join("<dev_state>", filename))
	if err != nil {
		return err
	}

	_, err = os.Stat(dbPath)
	if err == nil {
		fmt.Println("database already created at", dbPath)
		return nil
	}

	fmt.Println("creating database at", dbPath)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(schema)
	return err
}

func CreateEmptyServiceDBs() error {
	err := createDb("ingest.db", ingestdb.Schema)
	if err != nil {
		return err
	}
	err = createDb("baselines.db", baselinedb.Schema)
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join("dev", ".state", "baselines"), 0777)
}

func PrintConfigLocations() {
	slog.Info("databases live in dev/.state, point harvest.json5 and ingest.json5 at them with paths like '<dev_state>/ingest.db'.")
}
