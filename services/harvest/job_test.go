package harvest

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"coursesync-backend/lib/baseline"
	"coursesync-backend/lib/delivery"
	"coursesync-backend/lib/identity"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/retry"
	"coursesync-backend/lib/testutil"
	"coursesync-backend/services/ingest"
	ingestdb "coursesync-backend/services/ingest/db"

	"github.com/stretchr/testify/require"
)

type memorySource map[string][]Document

func (s memorySource) Fetch(_ context.Context, partition PartitionConfig) ([]Document, error) {
	docs, ok := s[partition.ID]
	if !ok {
		return nil, fmt.Errorf("no documents for %s", partition.ID)
	}
	return docs, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports [][]Report
}

func (n *recordingNotifier) Notify(_ context.Context, reports []Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, reports)
	return nil
}

type env struct {
	store    ingest.Store
	repo     baseline.FileRepository
	notifier *recordingNotifier
	config   Config
	cleanup  func()
}

func setup(t testing.TB, detector baseline.Config) env {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/harvest",
		DbSchema: ingestdb.Schema,
	})
	store := ingest.NewStore(res.DB)
	server := httptest.NewServer(ingest.NewMux(store, "secret"))

	repo, err := baseline.NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	return env{
		store:    store,
		repo:     repo,
		notifier: &recordingNotifier{},
		config: Config{
			Delivery: delivery.Config{
				Endpoint:    server.URL + "/v1/ingest",
				AccessToken: "secret",
				ChunkSize:   50,
				Concurrency: 2,
			},
			Baseline: detector,
		},
		cleanup: func() {
			server.Close()
			cleanup()
		},
	}
}

func (e env) job(partitions []PartitionConfig, source Source, mirror Mirror) *Job {
	e.config.Partitions = partitions
	transmitter := delivery.NewTransmitter(e.config.Delivery, retry.Policy{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	})
	tracker := baseline.NewTracker(e.repo, baseline.NewDetector(e.config.Baseline), nil)
	return NewJob(e.config, transmitter, tracker, Options{
		Source:   source,
		Mirror:   mirror,
		Notifier: e.notifier,
	})
}

func sections(term, dept string, n int) []records.Record {
	out := make([]records.Record, n)
	for i := range out {
		out[i] = records.Record{
			"term_code":    term,
			"subject_code": fmt.Sprintf("%s %d", dept, 100+i),
			"section":      "A",
			"department":   dept,
		}
	}
	return out
}

func TestRunDeliversAndRecordsBaseline(t *testing.T) {
	e := setup(t, baseline.Config{})
	defer e.cleanup()
	ctx := context.Background()

	rows := append(sections("2025-1", "CS", 120), sections("2025-1", "PE", 30)...)
	// a scraped header row and a duplicate
	rows = append(rows, records.Record{
		"term_code": "Term", "subject_code": "Subject", "section": "Section", "department": "Department",
	}, rows[0])

	partitions := []PartitionConfig{{ID: "2025-1", DataType: records.Schedules}}
	job := e.job(partitions, memorySource{"2025-1": {{Records: rows}}}, nil)

	reports, err := job.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, reports, 1)
	report := reports[0]
	require.Equal(t, 150, report.Normalize.Valid)
	require.Equal(t, 1, report.Normalize.HeaderLike)
	require.Equal(t, 1, report.Normalize.Duplicates)
	require.False(t, report.Comparison.HasPrevious)
	require.Equal(t, 3, report.Delivery.Total)
	require.Equal(t, 3, report.Delivery.SuccessCount)
	require.False(t, report.NeedsAttention())

	count, err := e.store.Count(ctx, records.Schedules, "2025-1")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 150, count)

	snapshot, err := e.repo.Get(ctx, "2025-1")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 150, snapshot.Total)
	require.Equal(t, map[string]int{"CS": 120, "PE": 30}, snapshot.PerDepartmentCounts)
	require.Equal(t, report.Delivery.RunID, snapshot.Metadata["run_id"])

	require.Len(t, e.notifier.reports, 1)
}

func TestRunRegressionWarnAndStrict(t *testing.T) {
	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			e := setup(t, baseline.Config{Strict: strict})
			defer e.cleanup()
			ctx := context.Background()

			partitions := []PartitionConfig{{ID: "2025-1", DataType: records.Schedules}}
			_, err := e.job(partitions, memorySource{"2025-1": {{Records: sections("2025-1", "CS", 100)}}}, nil).Run(ctx)
			if err != nil {
				t.Fatal(err)
			}

			reports, err := e.job(partitions, memorySource{"2025-1": {{Records: sections("2025-1", "CS", 60)}}}, nil).Run(ctx)
			require.Len(t, reports, 1)
			require.True(t, reports[0].Comparison.IsRegression)
			require.True(t, reports[0].NeedsAttention())
			if strict {
				require.ErrorIs(t, err, baseline.ErrRegression)
			} else {
				require.NoError(t, err)
			}

			// delivered and recorded either way
			require.Equal(t, reports[0].Delivery.Total, reports[0].Delivery.SuccessCount)
			count, err := e.store.Count(ctx, records.Schedules, "2025-1")
			if err != nil {
				t.Fatal(err)
			}
			require.Equal(t, 60, count)
			snapshot, err := e.repo.Get(ctx, "2025-1")
			if err != nil {
				t.Fatal(err)
			}
			require.Equal(t, 60, snapshot.Total)
		})
	}
}

func TestRunBaselineRequired(t *testing.T) {
	e := setup(t, baseline.Config{Strict: true, BaselineRequired: true})
	defer e.cleanup()
	ctx := context.Background()

	partitions := []PartitionConfig{{ID: "2025-1", DataType: records.Schedules}}
	reports, err := e.job(partitions, memorySource{"2025-1": {{Records: sections("2025-1", "CS", 10)}}}, nil).Run(ctx)
	require.ErrorIs(t, err, baseline.ErrBaselineMissing)
	require.Nil(t, reports)

	count, err := e.store.Count(ctx, records.Schedules, "2025-1")
	if err != nil {
		t.Fatal(err)
	}
	require.Zero(t, count)
	require.Empty(t, e.notifier.reports)
}

func TestRunIdentityGuard(t *testing.T) {
	e := setup(t, baseline.Config{})
	defer e.cleanup()
	ctx := context.Background()

	program := identity.Request{
		Identifier: "BSCS-2025-1",
		Label:      "Bachelor of Science in Computer Science",
	}
	curriculum := func(course string) records.Record {
		return records.Record{
			"program_version_id": "BSCS-2025-1",
			"course_code":        course,
			"year_level":         1,
			"semester":           1,
			"department":         "CS",
		}
	}

	docs := []Document{
		{
			Title:   "Bachelor of Science in Computer Science (2025-1)",
			Program: &program,
			Records: []records.Record{curriculum("CS 101"), curriculum("CS 102")},
		},
		{
			// a page of another program that leaked through the shared session
			Title:   "Bachelor of Science in Nursing (2024-2)",
			Program: &program,
			Records: []records.Record{curriculum("NCM 100")},
		},
	}

	partitions := []PartitionConfig{{ID: "BSCS", DataType: records.Curricula}}
	reports, err := e.job(partitions, memorySource{"BSCS": docs}, nil).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, reports, 1)
	require.Equal(t, 2, reports[0].Documents)
	require.Len(t, reports[0].Rejections, 1)
	require.Contains(t, reports[0].Rejections[0], identity.ErrIdentityMismatch.Error())
	require.Equal(t, 2, reports[0].Normalize.Valid)

	count, err := e.store.Count(ctx, records.Curricula, "BSCS")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 2, count)
}

func TestRunFailureIsConfinedToPartition(t *testing.T) {
	e := setup(t, baseline.Config{})
	defer e.cleanup()
	ctx := context.Background()

	dir := t.TempDir()
	mirror, err := NewCSVMirror(dir)
	if err != nil {
		t.Fatal(err)
	}

	partitions := []PartitionConfig{
		{ID: "missing", DataType: records.Schedules},
		{ID: "2025-2", DataType: records.Schedules},
	}
	source := memorySource{"2025-2": {{Records: sections("2025-2", "MATH", 5)}}}
	reports, err := e.job(partitions, source, mirror).Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "partition missing")
	require.Len(t, reports, 2)
	require.Error(t, reports[0].Err)
	require.NoError(t, reports[1].Err)

	// a failed fetch leaves no baseline behind
	_, err = e.repo.Get(ctx, "missing")
	require.ErrorIs(t, err, baseline.ErrNotFound)

	contents, err := os.ReadFile(filepath.Join(dir, "2025-2.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 6)
	require.Contains(t, lines[1], "MATH 100")
}
