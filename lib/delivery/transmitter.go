package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coursesync-backend/lib/chunk"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/retry"
	"coursesync-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("coursesync.lib.delivery")

const DefaultTimeoutSeconds = 60

type Config struct {
	// Endpoint is the full url of the ingestion endpoint.
	Endpoint    string `json:"endpoint"`
	AccessToken string `json:"access_token"`
	ChunkSize   int    `json:"chunk_size"`
	Concurrency int    `json:"concurrency"`
	// TimeoutSeconds bounds a single attempt.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Request is one partition's normalized run.
type Request struct {
	PartitionID string
	Source      string
	DataType    records.DataType
	Records     []records.Record
	// Aggregates must describe the whole of Records.
	Aggregates records.Summary
}

type ChunkResult struct {
	Index    int
	Size     int
	Attempts int
	// Replace is the flag the chunk was sent with, nil when the data type
	// has no replace semantics.
	Replace *bool
	Ack     Ack
	Err     error
	// Category is only meaningful when Err is set.
	Category Category
}

type Result struct {
	PartitionID  string
	RunID        string
	Records      int
	Total        int
	SuccessCount int
	FailureCount int
	Inserted     int
	Chunks       []ChunkResult
}

// Err is non-nil only when chunks were sent and none of them got through.
func (r Result) Err() error {
	if r.Total == 0 || r.SuccessCount > 0 {
		return nil
	}
	errs := []error{fmt.Errorf("partition %s: %w", r.PartitionID, ErrNothingDelivered)}
	for _, c := range r.Chunks {
		if c.Err != nil {
			errs = append(errs, fmt.Errorf("chunk %d: %w", c.Index, c.Err))
		}
	}
	return errors.Join(errs...)
}

type Transmitter struct {
	http        *resty.Client
	config      Config
	policy      retry.Policy
	coordinator *Coordinator

	chunkOutcomes metric.Int64Counter
	retries       metric.Int64Counter
}

func NewTransmitter(config Config, policy retry.Policy) *Transmitter {
	client := resty.New()
	timeout := config.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	client.SetTimeout(time.Duration(timeout) * time.Second)
	client.SetHeader("content-type", "application/json")
	if config.AccessToken != "" {
		client.SetAuthToken(config.AccessToken)
	}
	telemetry.InstrumentResty(client, "coursesync.lib.delivery/http")

	return NewTransmitterWithClient(client, config, policy)
}

// NewTransmitterWithClient uses the given client as is.
func NewTransmitterWithClient(client *resty.Client, config Config, policy retry.Policy) *Transmitter {
	if policy.Retryable == nil {
		policy.Retryable = Retryable
	}

	meter := telemetry.Meter("coursesync.lib.delivery")
	chunkOutcomes, err := meter.Int64Counter(
		"delivery.chunks",
		metric.WithDescription("delivered and failed chunks"),
	)
	if err != nil {
		slog.Warn("failed to create chunk counter", "err", err)
	}
	retries, err := meter.Int64Counter(
		"delivery.retries",
		metric.WithDescription("chunk attempts that were retried"),
	)
	if err != nil {
		slog.Warn("failed to create retry counter", "err", err)
	}

	return &Transmitter{
		http:          client,
		config:        config,
		policy:        policy,
		coordinator:   NewCoordinator(),
		chunkOutcomes: chunkOutcomes,
		retries:       retries,
	}
}

// Client exposes the underlying http client for extra instrumentation.
func (t *Transmitter) Client() *resty.Client {
	return t.http
}

// Deliver splits the partition's records into chunks and sends them through
// a bounded sliding window. Individual chunk failures are collected in the
// result, the returned error is only set if nothing got through or the
// partition is already being delivered.
func (t *Transmitter) Deliver(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "Deliver", trace.WithAttributes(
		attribute.String("partition", req.PartitionID),
		attribute.String("data_type", string(req.DataType)),
		attribute.Int("records", len(req.Records)),
	))
	defer span.End()

	batches := chunk.Split(req.Records, t.config.ChunkSize, chunk.DefaultSize)
	result := Result{
		PartitionID: req.PartitionID,
		RunID:       uuid.NewString(),
		Records:     len(req.Records),
		Total:       len(batches),
		Chunks:      make([]ChunkResult, len(batches)),
	}
	if len(batches) == 0 {
		slog.InfoContext(ctx, "nothing to deliver", "partition", req.PartitionID)
		return result, nil
	}

	var lease *Lease
	if replaceSemantics(req.DataType) {
		l, end, err := t.coordinator.Begin(req.PartitionID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return result, fmt.Errorf("partition %s: %w", req.PartitionID, err)
		}
		defer end()
		lease = l
	}

	// each index of result.Chunks is only ever written by its own prepare
	// and job
	summary := chunk.Dispatch(ctx, len(batches), t.config.Concurrency, func(ctx context.Context, index int) (chunk.Job, error) {
		payload := buildPayload(req, result.RunID, index, len(batches), batches[index])
		cr := &result.Chunks[index]
		cr.Index = index
		cr.Size = len(batches[index])

		replace := false
		if lease != nil {
			var err error
			replace, err = lease.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			payload.Metadata.ReplaceExisting = &replace
			cr.Replace = &replace
		}

		return func(ctx context.Context) error {
			outcome := t.send(ctx, payload)
			if lease != nil {
				lease.Settle(replace, outcome.Ok())
			}

			cr.Attempts = outcome.Attempts
			cr.Ack = outcome.Value
			cr.Err = outcome.Err
			if outcome.Err != nil {
				cr.Category = Classify(outcome.Err)
			}
			return outcome.Err
		}, nil
	})

	result.SuccessCount = summary.SuccessCount
	result.FailureCount = summary.FailureCount
	for _, e := range summary.Errors {
		cr := &result.Chunks[e.Index]
		if cr.Err == nil {
			cr.Index = e.Index
			cr.Err = e.Err
			cr.Category = Classify(e.Err)
		}
	}
	for _, cr := range result.Chunks {
		outcome := "delivered"
		if cr.Err != nil {
			outcome = "failed"
			slog.WarnContext(
				ctx, "chunk failed",
				"partition", req.PartitionID,
				"chunk", cr.Index,
				"attempts", cr.Attempts,
				"category", cr.Category.String(),
				"err", cr.Err,
			)
		} else {
			result.Inserted += cr.Ack.Inserted
		}
		if t.chunkOutcomes != nil {
			t.chunkOutcomes.Add(ctx, 1, metric.WithAttributes(
				attribute.String("outcome", outcome),
				attribute.String("data_type", string(req.DataType)),
			))
		}
	}

	slog.InfoContext(
		ctx, "delivery finished",
		"partition", req.PartitionID,
		"run_id", result.RunID,
		"records", result.Records,
		"chunks", result.Total,
		"delivered", result.SuccessCount,
		"failed", result.FailureCount,
	)

	err := result.Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "nothing delivered")
	}
	return result, err
}

func (t *Transmitter) send(ctx context.Context, payload Payload) retry.Outcome[Ack] {
	ctx, span := tracer.Start(ctx, "send", trace.WithAttributes(
		attribute.Int("chunk_index", payload.Metadata.ChunkIndex),
		attribute.Int("record_count", payload.Metadata.RecordCount),
	))
	defer span.End()

	policy := t.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		category := Classify(err)
		slog.WarnContext(
			ctx, "retrying chunk",
			"partition", payload.Metadata.PartitionID,
			"chunk", payload.Metadata.ChunkIndex,
			"attempt", attempt,
			"delay", delay,
			"category", category.String(),
			"err", err,
		)
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("category", category.String()),
		))
		if t.retries != nil {
			t.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category.String())))
		}
	}

	outcome := retry.Do(ctx, policy, func(ctx context.Context, _ int) (Ack, error) {
		return t.post(ctx, payload)
	})
	span.SetAttributes(attribute.Int("attempts", outcome.Attempts))
	if !outcome.Ok() {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, Classify(outcome.Err).String())
	}
	return outcome
}

const maxErrorBody = 256

func (t *Transmitter) post(ctx context.Context, payload Payload) (Ack, error) {
	res, err := t.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(t.config.Endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return Ack{}, retry.Permanent(err)
		}
		return Ack{}, err
	}
	if !res.IsSuccess() {
		body := res.String()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return Ack{}, &StatusError{StatusCode: res.StatusCode(), Body: body}
	}

	var ack Ack
	if len(res.Body()) > 0 {
		err = json.Unmarshal(res.Body(), &ack)
		if err != nil {
			slog.DebugContext(ctx, "ingestion response is not an ack", "err", err)
		}
	}
	return ack, nil
}
