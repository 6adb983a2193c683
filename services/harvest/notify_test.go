package harvest

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"coursesync-backend/lib/baseline"
	"coursesync-backend/lib/delivery"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func regressedReport() Report {
	return Report{
		PartitionID: "2025-1",
		Comparison: baseline.Comparison{
			PartitionID:  "2025-1",
			IsRegression: true,
			Message:      "450 -> 400 (-11.1%)",
		},
		Delivery: delivery.Result{Total: 1, SuccessCount: 1},
	}
}

func TestReportSummary(t *testing.T) {
	report := regressedReport()
	require.True(t, report.NeedsAttention())
	require.Contains(t, report.Summary(), "1/1 chunks delivered")
	require.Contains(t, report.Summary(), "450 -> 400")

	require.False(t, Report{PartitionID: "fine"}.NeedsAttention())

	report.Err = errors.New("boom")
	require.Contains(t, report.Summary(), "error: boom")
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, []Report) error {
	return errors.New("unreachable")
}

func TestNotifiersTriesAll(t *testing.T) {
	rec := &recordingNotifier{}
	err := Notifiers{failingNotifier{}, LogNotifier{}, rec}.Notify(context.Background(), []Report{regressedReport()})
	require.Error(t, err)
	require.Len(t, rec.reports, 1)
}

func TestEmailNotifier(t *testing.T) {
	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	smtp, err := testcontainers.GenericContainer(
		context.Background(),
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1026:1025", "1081:1080"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	if err != nil {
		t.Skipf("smtp container unavailable: %v", err)
	}
	defer func() {
		err := smtp.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}()

	notifier := NewEmailNotifier(SmtpConfig{
		Server:       "localhost",
		Port:         1026,
		EmailAddress: "harvest@example.com",
		Password:     "default",
		To:           []string{"registrar@example.com"},
	})

	// nothing to report, nothing sent
	err = notifier.Notify(context.Background(), []Report{{PartitionID: "fine"}})
	if err != nil {
		t.Fatal(err)
	}

	err = notifier.Notify(context.Background(), []Report{regressedReport()})
	if err != nil {
		t.Fatal(err)
	}

	res, err := resty.New().R().Get("http://127.0.0.1:1081/messages/1.plain")
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, res.String(), "2025-1")
	require.Contains(t, res.String(), "450 -> 400")
}
