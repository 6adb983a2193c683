package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"coursesync-backend/lib/baseline"
	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/identity"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/telemetry"
	"coursesync-backend/lib/timezone"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("coursesync.services.harvest")

// Report is the outcome of one partition in one run.
type Report struct {
	PartitionID string
	DataType    records.DataType

	Documents int
	// Rejections holds the reason of every document the identity guard
	// dropped.
	Rejections []string

	Normalize  records.Report
	Comparison baseline.Comparison
	Delivery   delivery.Result
	Err        error
}

func (r Report) NeedsAttention() bool {
	return r.Err != nil ||
		len(r.Rejections) > 0 ||
		r.Comparison.IsRegression ||
		len(r.Comparison.Findings) > 0 ||
		r.Delivery.FailureCount > 0
}

// Summary is a one line human readable description of the report.
func (r Report) Summary() string {
	parts := []string{
		fmt.Sprintf("%d records", r.Normalize.Valid),
		fmt.Sprintf("%d/%d chunks delivered", r.Delivery.SuccessCount, r.Delivery.Total),
	}
	if r.Comparison.Message != "" {
		parts = append(parts, r.Comparison.Message)
	}
	for _, f := range r.Comparison.Findings {
		parts = append(parts, f.Message)
	}
	if len(r.Rejections) > 0 {
		parts = append(parts, fmt.Sprintf("%d document(s) rejected", len(r.Rejections)))
	}
	if r.Err != nil {
		parts = append(parts, "error: "+r.Err.Error())
	}
	return strings.Join(parts, "; ")
}

type Options struct {
	Source    Source
	Mirror    Mirror
	Notifier  Notifier
	Validator *identity.Validator
	// Now defaults to the configured timezone's clock.
	Now func() time.Time
}

// Job runs the harvest of every configured partition.
type Job struct {
	partitions  []PartitionConfig
	sampleSize  int
	source      Source
	mirror      Mirror
	notifier    Notifier
	validator   identity.Validator
	transmitter *delivery.Transmitter
	tracker     *baseline.Tracker
	now         func() time.Time
}

func NewJob(config Config, transmitter *delivery.Transmitter, tracker *baseline.Tracker, opts Options) *Job {
	job := &Job{
		partitions:  config.Partitions,
		sampleSize:  config.SampleSize,
		source:      opts.Source,
		mirror:      opts.Mirror,
		notifier:    opts.Notifier,
		validator:   identity.NewValidator(nil),
		transmitter: transmitter,
		tracker:     tracker,
		now:         opts.Now,
	}
	if job.source == nil {
		job.source = Sources{}
	}
	if job.mirror == nil {
		job.mirror = nopMirror{}
	}
	if job.notifier == nil {
		job.notifier = LogNotifier{}
	}
	if opts.Validator != nil {
		job.validator = *opts.Validator
	}
	if job.now == nil {
		job.now = timezone.Now
	}
	return job
}

// Transmitter exposes the job's transmitter for extra instrumentation.
func (j *Job) Transmitter() *delivery.Transmitter {
	return j.transmitter
}

// Run harvests every partition one after the other. A missing baseline in
// strict mode aborts before anything is fetched or sent, any other failure
// is confined to its partition and returned joined once all of them ran.
func (j *Job) Run(ctx context.Context) ([]Report, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	ids := make([]string, len(j.partitions))
	for i, p := range j.partitions {
		ids[i] = p.ID
	}
	_, err := j.tracker.Preflight(ctx, ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reports := make([]Report, 0, len(j.partitions))
	var errs []error
	for _, p := range j.partitions {
		report := j.runPartition(ctx, p)
		if report.Err != nil {
			errs = append(errs, fmt.Errorf("partition %s: %w", p.ID, report.Err))
		}
		reports = append(reports, report)
	}

	err = j.notifier.Notify(ctx, reports)
	if err != nil {
		slog.WarnContext(ctx, "failed to send notification", "err", err)
	}

	err = errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return reports, err
}

func (j *Job) runPartition(ctx context.Context, partition PartitionConfig) Report {
	ctx, span := tracer.Start(ctx, "runPartition", trace.WithAttributes(
		attribute.String("partition", partition.ID),
		attribute.String("data_type", string(partition.DataType)),
	))
	defer span.End()

	report := Report{PartitionID: partition.ID, DataType: partition.DataType}
	fail := func(err error) Report {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		report.Err = err
		return report
	}

	fields, err := records.FieldsFor(partition.DataType)
	if err != nil {
		return fail(err)
	}

	docs, err := j.source.Fetch(ctx, partition)
	if err != nil {
		// without data there is nothing to compare or record, the baseline
		// is left for the next run that does fetch something
		return fail(fmt.Errorf("fetch: %w", err))
	}
	report.Documents = len(docs)

	var raw []records.Record
	for _, doc := range docs {
		rows := doc.Records
		if doc.Program != nil {
			rows, _, err = j.validator.Guard(ctx, *doc.Program, doc.Title, rows)
			if err != nil {
				report.Rejections = append(report.Rejections, err.Error())
				continue
			}
		}
		raw = append(raw, rows...)
	}

	normalizer := records.NewNormalizer(fields)
	normalizer.SampleSize = j.sampleSize
	valid, normalized := normalizer.Normalize(raw)
	report.Normalize = normalized
	if normalized.Excluded() > 0 {
		slog.InfoContext(
			ctx, "excluded records",
			"partition", partition.ID,
			"header_like", normalized.HeaderLike,
			"invalid", normalized.Invalid,
			"duplicates", normalized.Duplicates,
		)
	}

	summary := records.ComputeAggregates(valid, fields)
	snapshot := baseline.SnapshotOf(partition.ID, summary, j.now())
	snapshot.Metadata = map[string]string{
		"data_type": string(partition.DataType),
		"documents": fmt.Sprint(len(docs)),
	}

	comparison, err := j.tracker.Compare(ctx, snapshot)
	if err != nil {
		return fail(fmt.Errorf("compare: %w", err))
	}
	report.Comparison = comparison

	result, deliverErr := j.transmitter.Deliver(ctx, delivery.Request{
		PartitionID: partition.ID,
		DataType:    partition.DataType,
		Records:     valid,
		Aggregates:  summary,
	})
	report.Delivery = result
	snapshot.Metadata["run_id"] = result.RunID

	if deliverErr == nil {
		err = j.mirror.Write(ctx, partition, valid)
		if err != nil {
			slog.WarnContext(ctx, "failed to mirror partition", "partition", partition.ID, "err", err)
		}
	}

	// the baseline follows the harvest, not the delivery, so it is recorded
	// even when the run regressed or nothing got through
	recordErr := j.tracker.Record(ctx, snapshot)

	err = errors.Join(deliverErr, recordErr, j.tracker.Verdict(comparison))
	if err != nil {
		return fail(err)
	}
	return report
}
