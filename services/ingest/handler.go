package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/telemetry"
	"coursesync-backend/lib/util/serviceutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("coursesync.services.ingest")

// 64MiB, a 2000 row chunk is usually well under 2MiB
const maxBodySize = 64 << 20

type Handler struct {
	store Store
}

func NewHandler(store Store) Handler {
	return Handler{store: store}
}

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "Ingest")
	defer span.End()

	if r.Method != http.MethodPost {
		writeJson(w, http.StatusMethodNotAllowed, errorResponse{Error: "only POST is supported"})
		return
	}

	var payload delivery.Payload
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	err := decoder.Decode(&payload)
	if err != nil {
		span.SetStatus(codes.Error, "malformed body")
		writeJson(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	meta := payload.Metadata
	span.SetAttributes(
		attribute.String("partition", meta.PartitionID),
		attribute.String("run_id", meta.RunID),
		attribute.Int("chunk_index", meta.ChunkIndex),
		attribute.Int("records", len(payload.Records)),
	)
	if meta.RecordCount != len(payload.Records) {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: "record_count does not match records"})
		return
	}

	chunk := Chunk{
		DataType:    payload.DataType,
		PartitionID: meta.PartitionID,
		RunID:       meta.RunID,
		ChunkIndex:  meta.ChunkIndex,
		TotalChunks: meta.TotalChunks,
		Records:     payload.Records,
	}
	// only schedules carry replace semantics
	if payload.DataType == records.Schedules && meta.ReplaceExisting != nil {
		chunk.Replace = *meta.ReplaceExisting
	}
	if meta.TermAggregates != nil {
		total := meta.TermAggregates.Total
		chunk.DeclaredTotal = &total
	}

	ack, err := h.store.Ingest(ctx, chunk)
	switch {
	case errors.Is(err, ErrMalformed):
		span.SetStatus(codes.Error, err.Error())
		writeJson(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, ErrShapeMismatch):
		span.SetStatus(codes.Error, err.Error())
		writeJson(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store chunk")
		slog.ErrorContext(ctx, "failed to store chunk", "partition", meta.PartitionID, "err", err)
		writeJson(w, http.StatusInternalServerError, errorResponse{Error: "failed to store chunk"})
		return
	}

	slog.InfoContext(
		ctx, "chunk stored",
		"partition", meta.PartitionID,
		"run_id", meta.RunID,
		"chunk", meta.ChunkIndex,
		"replace", chunk.Replace,
		"inserted", ack.Inserted,
		"total", ack.Total,
	)
	writeJson(w, http.StatusOK, ack)
}

// NewMux routes the ingestion endpoint behind an optional bearer token.
func NewMux(store Store, accessToken string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/ingest", serviceutil.RequireAccessToken(accessToken, NewHandler(store)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}
