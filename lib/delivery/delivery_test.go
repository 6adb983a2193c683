package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"coursesync-backend/lib/records"
	"coursesync-backend/lib/retry"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type received struct {
	payload Payload
	raw     map[string]any
	status  int
}

// receiver is an ingestion endpoint double, respond decides the status of
// every request in arrival order.
type receiver struct {
	mu       sync.Mutex
	requests []received
	respond  func(p Payload, seen int) int
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var payload Payload
	var raw map[string]any
	if json.Unmarshal(body, &payload) != nil || json.Unmarshal(body, &raw) != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	seen := 0
	for _, prev := range r.requests {
		if prev.payload.Metadata.ChunkIndex == payload.Metadata.ChunkIndex {
			seen++
		}
	}
	status := http.StatusOK
	if r.respond != nil {
		status = r.respond(payload, seen)
	}
	r.requests = append(r.requests, received{payload: payload, raw: raw, status: status})
	r.mu.Unlock()

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusOK {
		fmt.Fprintf(w, `{"inserted": %d, "total": %d}`, len(payload.Records), len(payload.Records))
	}
}

func (r *receiver) log() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.requests...)
}

func fastPolicy(retries int) retry.Policy {
	return retry.Policy{
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}
}

func newTestTransmitter(t testing.TB, rec *receiver, chunkSize, concurrency int, policy retry.Policy) *Transmitter {
	t.Helper()
	server := httptest.NewServer(rec)
	t.Cleanup(server.Close)
	return NewTransmitterWithClient(resty.New(), Config{
		Endpoint:    server.URL,
		ChunkSize:   chunkSize,
		Concurrency: concurrency,
	}, policy)
}

func scheduleRecords(n int) []records.Record {
	out := make([]records.Record, n)
	for i := range out {
		dept := "CS"
		if i%3 == 0 {
			dept = "PE"
		}
		out[i] = records.Record{
			"term_code":    "2025-1",
			"subject_code": fmt.Sprintf("%s %d", dept, 100+i%50),
			"section":      fmt.Sprintf("S%d", i),
			"department":   dept,
		}
	}
	return out
}

func scheduleRequest(n int) Request {
	recs := scheduleRecords(n)
	return Request{
		PartitionID: "2025-1",
		DataType:    records.Schedules,
		Records:     recs,
		Aggregates:  records.ComputeAggregates(recs, records.ScheduleFields),
	}
}

func byIndex(log []received) map[int][]received {
	out := map[int][]received{}
	for _, r := range log {
		out[r.payload.Metadata.ChunkIndex] = append(out[r.payload.Metadata.ChunkIndex], r)
	}
	return out
}

func TestDeliverChunkTagging(t *testing.T) {
	rec := &receiver{}
	tx := newTestTransmitter(t, rec, 2000, 2, fastPolicy(2))

	result, err := tx.Deliver(context.Background(), scheduleRequest(4500))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 3, result.Total)
	require.Equal(t, 3, result.SuccessCount)
	require.Equal(t, 0, result.FailureCount)
	require.Equal(t, 4500, result.Inserted)
	require.NotEmpty(t, result.RunID)

	chunks := byIndex(rec.log())
	require.Len(t, chunks, 3)

	sizes := []int{2000, 2000, 500}
	for i, size := range sizes {
		require.Len(t, chunks[i], 1)
		meta := chunks[i][0].payload.Metadata
		require.Equal(t, size, len(chunks[i][0].payload.Records))
		require.Equal(t, size, meta.RecordCount)
		require.Equal(t, 3, meta.TotalChunks)
		require.Equal(t, result.RunID, meta.RunID)
		require.Equal(t, records.Schedules, chunks[i][0].payload.DataType)
		require.NotNil(t, meta.ReplaceExisting)
	}

	first := chunks[0][0].payload.Metadata
	require.True(t, *first.ReplaceExisting)
	require.False(t, first.IsChunkedUpload)
	require.NotNil(t, first.TermAggregates)
	require.Equal(t, 4500, first.TermAggregates.Total)
	require.Equal(t, 1500, first.TermAggregates.Departments["PE"].Count)

	for _, i := range []int{1, 2} {
		meta := chunks[i][0].payload.Metadata
		require.False(t, *meta.ReplaceExisting)
		require.True(t, meta.IsChunkedUpload)
		require.Nil(t, meta.TermAggregates)
		require.NotContains(t, chunks[i][0].raw["metadata"], "term_aggregates")
	}
}

func TestDeliverSingleChunkOmitsAggregates(t *testing.T) {
	rec := &receiver{}
	tx := newTestTransmitter(t, rec, 2000, 2, fastPolicy(0))

	_, err := tx.Deliver(context.Background(), scheduleRequest(10))
	if err != nil {
		t.Fatal(err)
	}
	log := rec.log()
	require.Len(t, log, 1)
	require.Nil(t, log[0].payload.Metadata.TermAggregates)
	require.False(t, log[0].payload.Metadata.IsChunkedUpload)
	require.True(t, *log[0].payload.Metadata.ReplaceExisting)
}

func TestReplaceOnceWhileFirstChunkRetries(t *testing.T) {
	rec := &receiver{
		respond: func(p Payload, seen int) int {
			if p.Metadata.ChunkIndex == 0 && seen < 2 {
				return http.StatusServiceUnavailable
			}
			return http.StatusOK
		},
	}
	tx := newTestTransmitter(t, rec, 10, 3, fastPolicy(3))

	result, err := tx.Deliver(context.Background(), scheduleRequest(50))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 5, result.SuccessCount)
	require.Equal(t, 3, result.Chunks[0].Attempts)

	log := rec.log()
	require.Len(t, log, 7)

	// nothing but chunk 0 may reach the receiver until chunk 0 succeeded
	for i := 0; i < 3; i++ {
		require.Equal(t, 0, log[i].payload.Metadata.ChunkIndex)
		require.True(t, *log[i].payload.Metadata.ReplaceExisting)
	}
	require.Equal(t, http.StatusOK, log[2].status)

	replaced := map[int]bool{}
	for _, r := range log {
		if *r.payload.Metadata.ReplaceExisting {
			replaced[r.payload.Metadata.ChunkIndex] = true
		}
	}
	require.Equal(t, map[int]bool{0: true}, replaced)
}

func TestReplaceHandedOnAfterTerminalFailure(t *testing.T) {
	rec := &receiver{
		respond: func(p Payload, seen int) int {
			if p.Metadata.ChunkIndex == 0 {
				return http.StatusBadRequest
			}
			return http.StatusOK
		},
	}
	tx := newTestTransmitter(t, rec, 10, 2, fastPolicy(3))

	result, err := tx.Deliver(context.Background(), scheduleRequest(30))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 2, result.SuccessCount)
	require.Equal(t, 1, result.FailureCount)

	failed := result.Chunks[0]
	require.Error(t, failed.Err)
	require.Equal(t, TerminalClient, failed.Category)
	require.Equal(t, 1, failed.Attempts)

	require.True(t, *result.Chunks[0].Replace)
	require.True(t, *result.Chunks[1].Replace)
	require.False(t, *result.Chunks[2].Replace)

	succeededWithReplace := 0
	for _, r := range rec.log() {
		if r.status == http.StatusOK && *r.payload.Metadata.ReplaceExisting {
			succeededWithReplace++
		}
	}
	require.Equal(t, 1, succeededWithReplace)
}

func TestDeliverNothingDelivered(t *testing.T) {
	rec := &receiver{
		respond: func(Payload, int) int { return http.StatusServiceUnavailable },
	}
	tx := newTestTransmitter(t, rec, 10, 2, fastPolicy(2))

	result, err := tx.Deliver(context.Background(), scheduleRequest(20))
	require.ErrorIs(t, err, ErrNothingDelivered)
	require.Equal(t, 0, result.SuccessCount)
	require.Equal(t, 2, result.FailureCount)
	for _, c := range result.Chunks {
		require.Equal(t, 3, c.Attempts)
		require.Equal(t, TransientServer, c.Category)
	}
	require.Len(t, rec.log(), 6)
}

func TestDeliverNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tx := NewTransmitterWithClient(resty.New(), Config{Endpoint: url}, fastPolicy(1))
	result, err := tx.Deliver(context.Background(), scheduleRequest(5))
	require.ErrorIs(t, err, ErrNothingDelivered)
	require.Equal(t, TransientNetwork, result.Chunks[0].Category)
	require.Equal(t, 2, result.Chunks[0].Attempts)
}

func TestDeliverCurriculaOmitsReplace(t *testing.T) {
	rec := &receiver{}
	tx := newTestTransmitter(t, rec, 2, 2, fastPolicy(0))

	recs := []records.Record{
		{"program_version_id": "BSCS-2025-1", "course_code": "CS 101", "year_level": 1, "semester": 1},
		{"program_version_id": "BSCS-2025-1", "course_code": "CS 102", "year_level": 1, "semester": 2},
		{"program_version_id": "BSCS-2025-1", "course_code": "CS 201", "year_level": 2, "semester": 1},
	}
	result, err := tx.Deliver(context.Background(), Request{
		PartitionID: "BSCS-2025-1",
		DataType:    records.Curricula,
		Records:     recs,
		Aggregates:  records.ComputeAggregates(recs, records.CurriculumFields),
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 2, result.SuccessCount)
	for _, r := range rec.log() {
		require.NotContains(t, r.raw["metadata"], "replace_existing")
		require.Nil(t, r.payload.Metadata.ReplaceExisting)
	}
	require.Nil(t, result.Chunks[0].Replace)
}

func TestDeliverEmpty(t *testing.T) {
	rec := &receiver{}
	tx := newTestTransmitter(t, rec, 10, 2, fastPolicy(0))

	result, err := tx.Deliver(context.Background(), Request{PartitionID: "2025-1", DataType: records.Schedules})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 0, result.Total)
	require.Empty(t, rec.log())
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		err      error
		expected Category
	}{
		{err: io.ErrUnexpectedEOF, expected: TransientNetwork},
		{err: &StatusError{StatusCode: 500}, expected: TransientServer},
		{err: &StatusError{StatusCode: 502}, expected: TransientServer},
		{err: &StatusError{StatusCode: 503}, expected: TransientServer},
		{err: fmt.Errorf("wrapped: %w", &StatusError{StatusCode: 504}), expected: TransientServer},
		{err: &StatusError{StatusCode: 501}, expected: TerminalClient},
		{err: &StatusError{StatusCode: 400}, expected: TerminalClient},
		{err: &StatusError{StatusCode: 409}, expected: TerminalClient},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, Classify(test.err), test.err.Error())
		require.Equal(t, test.expected != TerminalClient, Retryable(test.err))
	}
}
