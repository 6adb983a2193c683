package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"coursesync-backend/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrBaselineMissing aborts a strict run before anything is sent.
	ErrBaselineMissing = errors.New("baseline required but missing")
	// ErrRegression fails a strict run after a regression was detected.
	ErrRegression = errors.New("regression detected")
)

var tracer = telemetry.Tracer("coursesync.lib.baseline")

// Tracker compares runs against the stored baselines and records new ones.
// Reads and writes of one partition are expected to be serial.
type Tracker struct {
	repo     Repository
	detector Detector
	now      func() time.Time

	regressions metric.Int64Counter
}

func NewTracker(repo Repository, detector Detector, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	regressions, err := telemetry.Meter("coursesync.lib.baseline").Int64Counter(
		"baseline.findings",
		metric.WithDescription("regressions and guard findings"),
	)
	if err != nil {
		slog.Warn("failed to create findings counter", "err", err)
	}
	return &Tracker{
		repo:        repo,
		detector:    detector,
		now:         now,
		regressions: regressions,
	}
}

func (t *Tracker) Detector() Detector {
	return t.detector
}

// Preflight checks that every partition has a baseline when one is
// required. In strict mode a missing baseline is an error, otherwise the
// run bootstraps it. It returns the partitions without a baseline.
func (t *Tracker) Preflight(ctx context.Context, partitions []string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Preflight")
	defer span.End()

	var missing []string
	for _, p := range partitions {
		_, err := t.repo.Get(ctx, p)
		if errors.Is(err, ErrNotFound) {
			missing = append(missing, p)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	if len(missing) == 0 || !t.detector.requireBaseline {
		return missing, nil
	}
	if t.detector.strict {
		return missing, fmt.Errorf("%w: %s", ErrBaselineMissing, strings.Join(missing, ", "))
	}
	slog.WarnContext(ctx, "baselines missing, this run will bootstrap them", "partitions", missing)
	return missing, nil
}

// Compare loads the partition's baseline and compares the current run to it.
func (t *Tracker) Compare(ctx context.Context, current Snapshot) (Comparison, error) {
	ctx, span := tracer.Start(ctx, "Compare")
	defer span.End()

	var previous *Snapshot
	stored, err := t.repo.Get(ctx, current.PartitionID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return Comparison{}, err
	default:
		previous = &stored
	}

	c := t.detector.Compare(previous, current)
	t.report(ctx, c)
	return c, nil
}

// Record overwrites the partition's baseline with the current run,
// whether or not it regressed.
func (t *Tracker) Record(ctx context.Context, current Snapshot) error {
	if current.Timestamp.IsZero() {
		current.Timestamp = t.now()
	}
	err := t.repo.Put(ctx, current)
	if err != nil {
		return fmt.Errorf("record baseline of %s: %w", current.PartitionID, err)
	}
	return nil
}

// Verdict turns a comparison into the job outcome: only strict mode fails
// on a regression or a critical finding.
func (t *Tracker) Verdict(c Comparison) error {
	if !t.detector.strict {
		return nil
	}
	if c.IsRegression {
		return fmt.Errorf("%w: %s", ErrRegression, c.Message)
	}
	for _, f := range c.Findings {
		if f.Severity == Critical {
			return fmt.Errorf("%w: %s", ErrRegression, f.Message)
		}
	}
	return nil
}

func (t *Tracker) report(ctx context.Context, c Comparison) {
	if c.IsRegression {
		slog.WarnContext(ctx, "regression detected", "partition", c.PartitionID, "message", c.Message)
		t.count(ctx, c.PartitionID, "regression", Critical)
	} else {
		slog.InfoContext(ctx, "baseline comparison", "partition", c.PartitionID, "message", c.Message)
	}
	for _, f := range c.Findings {
		slog.WarnContext(
			ctx, "baseline guard",
			"partition", c.PartitionID,
			"kind", string(f.Kind),
			"severity", f.Severity.String(),
			"message", f.Message,
		)
		t.count(ctx, c.PartitionID, string(f.Kind), f.Severity)
	}
}

func (t *Tracker) count(ctx context.Context, partition, kind string, severity Severity) {
	if t.regressions == nil {
		return
	}
	t.regressions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("partition", partition),
		attribute.String("kind", kind),
		attribute.String("severity", severity.String()),
	))
}
