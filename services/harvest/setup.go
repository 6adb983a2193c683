package harvest

import (
	"database/sql"

	devenv "coursesync-backend/dev/env"
	"coursesync-backend/lib/baseline"
	baselinedb "coursesync-backend/lib/baseline/db"
	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/scrapers/curriculum"
	"coursesync-backend/lib/timezone"
)

// Setup builds a job and everything it depends on from the config. The
// returned cleanup closes the baseline database if one was opened.
func Setup(config Config) (*Job, func(), error) {
	cleanup := func() {}

	err := timezone.SetLocation(config.Timezone)
	if err != nil {
		return nil, cleanup, err
	}

	repo, db, err := OpenBaselines(config.BaselineStore)
	if err != nil {
		return nil, cleanup, err
	}
	if db != nil {
		cleanup = func() { db.Close() }
	}

	sources := Sources{}
	if config.Source.BaseUrl != "" {
		client, err := curriculum.NewClient(curriculum.ClientOptions{
			BaseUrl:        config.Source.BaseUrl,
			UserAgent:      config.Source.UserAgent,
			TimeoutSeconds: config.Source.TimeoutSeconds,
		})
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		source := NewCurriculumSource(client)
		sources.Curriculum = &source
	}

	var mirror Mirror
	if config.Mirror.Dir != "" {
		csv, err := NewCSVMirror(config.Mirror.Dir)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		mirror = csv
	}

	notifiers := Notifiers{LogNotifier{}}
	if config.Smtp != nil {
		notifiers = append(notifiers, NewEmailNotifier(*config.Smtp))
	}

	transmitter := delivery.NewTransmitter(config.Delivery, config.Retry.Policy())
	tracker := baseline.NewTracker(repo, baseline.NewDetector(config.Baseline), timezone.Now)

	job := NewJob(config, transmitter, tracker, Options{
		Source:   sources,
		Mirror:   mirror,
		Notifier: notifiers,
	})
	return job, cleanup, nil
}

// OpenBaselines opens the configured baseline repository, the database is
// nil unless the baselines live in one.
func OpenBaselines(config BaselineStoreConfig) (baseline.Repository, *sql.DB, error) {
	if config.Database != nil {
		db, err := config.Database.OpenDBWithSchema(baselinedb.Schema)
		if err != nil {
			return nil, nil, err
		}
		return baseline.NewSQLRepository(db), db, nil
	}
	dir, err := devenv.ResolvePath(config.Dir)
	if err != nil {
		return nil, nil, err
	}
	repo, err := baseline.NewFileRepository(dir)
	if err != nil {
		return nil, nil, err
	}
	return repo, nil, nil
}
