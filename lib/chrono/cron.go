package chrono

import (
	"context"
	"fmt"
	"log/slog"

	"coursesync-backend/lib/timezone"

	"github.com/robfig/cron/v3"
)

// Cron runs callbacks on cron specs in the configured timezone.
type Cron struct {
	cron *cron.Cron
}

func NewCron() Cron {
	cronner := cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithLocation(timezone.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	return Cron{cron: cronner}
}

// Add registers a callback, it returns an error for an invalid spec.
func (c Cron) Add(spec string, callback func()) error {
	_, err := c.cron.AddFunc(spec, callback)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Run blocks until ctx is done, then waits for running callbacks.
func (c Cron) Run(ctx context.Context) {
	c.cron.Start()
	<-ctx.Done()
	<-c.cron.Stop().Done()
}

// ValidateSpec reports whether spec is a valid standard cron spec.
func ValidateSpec(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

type cronLogger struct{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug(fmt.Sprintf("cron: %s", msg), keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error(fmt.Sprintf("cron: %s", msg), append([]any{"err", err}, keysAndValues...)...)
}
