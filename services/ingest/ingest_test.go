package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/retry"
	"coursesync-backend/lib/testutil"
	"coursesync-backend/services/ingest/db"

	"github.com/stretchr/testify/require"
)

func setup(t testing.TB) (Store, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/ingest",
		DbSchema: db.Schema,
	})
	return NewStore(res.DB), cleanup
}

func schedules(partition string, n int) []records.Record {
	out := make([]records.Record, n)
	for i := range out {
		out[i] = records.Record{
			"term_code":    partition,
			"subject_code": fmt.Sprintf("CS %d", 100+i),
			"section":      "A",
			"department":   "CS",
			"instructor":   "TBA",
		}
	}
	return out
}

func TestIngestIdempotent(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	chunk := Chunk{
		DataType:    records.Schedules,
		PartitionID: "2025-1",
		Records:     schedules("2025-1", 3),
	}
	first, err := store.Ingest(ctx, chunk)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Ingest(ctx, chunk)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 3, first.Total)
	require.Equal(t, first.Total, second.Total)

	count, err := store.Count(ctx, records.Schedules, "2025-1")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 3, count)
}

func TestIngestReplace(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Ingest(ctx, Chunk{
		DataType:    records.Schedules,
		PartitionID: "2025-1",
		Records:     schedules("2025-1", 5),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Ingest(ctx, Chunk{
		DataType:    records.Schedules,
		PartitionID: "2024-2",
		Records:     schedules("2024-2", 4),
	})
	if err != nil {
		t.Fatal(err)
	}

	ack, err := store.Ingest(ctx, Chunk{
		DataType:    records.Schedules,
		PartitionID: "2025-1",
		Replace:     true,
		Records:     schedules("2025-1", 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 2, ack.Inserted)
	require.Equal(t, 2, ack.Total)

	// other partitions are untouched
	count, err := store.Count(ctx, records.Schedules, "2024-2")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 4, count)
}

func TestIngestMalformed(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Ingest(ctx, Chunk{DataType: "grades", PartitionID: "2025-1"})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = store.Ingest(ctx, Chunk{DataType: records.Schedules})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = store.Ingest(ctx, Chunk{
		DataType:    records.Schedules,
		PartitionID: "2025-1",
		Records:     []records.Record{{"term_code": "2025-1", "subject_code": "CS 1"}},
	})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestIngestShapeMismatch(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	declared := 3
	recs := schedules("2025-1", 4)
	_, err := store.Ingest(ctx, Chunk{
		DataType:      records.Schedules,
		PartitionID:   "2025-1",
		RunID:         "run-1",
		ChunkIndex:    0,
		TotalChunks:   2,
		DeclaredTotal: &declared,
		Records:       recs[:2],
	})
	if err != nil {
		t.Fatal(err)
	}

	// a resend of the same chunk is not counted twice
	_, err = store.Ingest(ctx, Chunk{
		DataType:      records.Schedules,
		PartitionID:   "2025-1",
		RunID:         "run-1",
		ChunkIndex:    0,
		TotalChunks:   2,
		DeclaredTotal: &declared,
		Records:       recs[:2],
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.Ingest(ctx, Chunk{
		DataType:    records.Schedules,
		PartitionID: "2025-1",
		RunID:       "run-1",
		ChunkIndex:  1,
		TotalChunks: 2,
		Records:     recs[2:],
	})
	require.ErrorIs(t, err, ErrShapeMismatch)

	count, err := store.Count(ctx, records.Schedules, "2025-1")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 2, count)
}

func TestHandlerRejectsMalformedBodies(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	server := httptest.NewServer(NewMux(store, "secret"))
	defer server.Close()

	testCases := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{name: "no token", token: "", body: `{}`, status: http.StatusUnauthorized},
		{name: "not json", token: "secret", body: `{"records": [`, status: http.StatusBadRequest},
		{
			name:   "count mismatch",
			token:  "secret",
			body:   `{"data_type": "schedules", "records": [], "metadata": {"partition_id": "2025-1", "record_count": 2}}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown data type",
			token:  "secret",
			body:   `{"data_type": "grades", "records": [], "metadata": {"partition_id": "2025-1"}}`,
			status: http.StatusBadRequest,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/ingest", bytes.NewBufferString(test.body))
			if err != nil {
				t.Fatal(err)
			}
			if test.token != "" {
				req.Header.Set("Authorization", "Bearer "+test.token)
			}
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			res.Body.Close()
			require.Equal(t, test.status, res.StatusCode)
		})
	}
}

func TestDeliverToReceiver(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	server := httptest.NewServer(NewMux(store, "secret"))
	defer server.Close()

	tx := delivery.NewTransmitter(delivery.Config{
		Endpoint:    server.URL + "/v1/ingest",
		AccessToken: "secret",
		ChunkSize:   2000,
		Concurrency: 2,
	}, retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond})

	recs := schedules("2025-1", 4500)
	req := delivery.Request{
		PartitionID: "2025-1",
		DataType:    records.Schedules,
		Records:     recs,
		Aggregates:  records.ComputeAggregates(recs, records.ScheduleFields),
	}

	ctx := context.Background()
	result, err := tx.Deliver(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 3, result.SuccessCount)
	require.Equal(t, 4500, result.Inserted)

	replaced, err := store.ReplacedChunks(ctx, result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, replaced)

	// a second full run ends up with the same rows
	_, err = tx.Deliver(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	count, err := store.Count(ctx, records.Schedules, "2025-1")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 4500, count)
}
