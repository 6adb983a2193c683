package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, reports []Report) error
}

// LogNotifier writes a line per partition that needs attention.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, reports []Report) error {
	for _, r := range reports {
		if !r.NeedsAttention() {
			continue
		}
		slog.WarnContext(ctx, "partition needs attention", "partition", r.PartitionID, "summary", r.Summary())
	}
	return nil
}

// EmailNotifier mails a digest of the partitions that need attention. Runs
// where everything went fine send nothing.
type EmailNotifier struct {
	config SmtpConfig
}

func NewEmailNotifier(config SmtpConfig) EmailNotifier {
	return EmailNotifier{config: config}
}

func (n EmailNotifier) Notify(ctx context.Context, reports []Report) error {
	ctx, span := tracer.Start(ctx, "EmailNotifier.Notify")
	defer span.End()

	var lines []string
	for _, r := range reports {
		if r.NeedsAttention() {
			lines = append(lines, fmt.Sprintf("- %s: %s", r.PartitionID, r.Summary()))
		}
	}
	if len(lines) == 0 || len(n.config.To) == 0 {
		return nil
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Course Sync <%s>", n.config.EmailAddress)
	mail.To = n.config.To
	mail.Subject = fmt.Sprintf("Course sync: %d partition(s) need attention", len(lines))
	mail.Text = []byte(fmt.Sprintf(`The last harvest finished with problems.

%s
`, strings.Join(lines, "\n")))

	addr := fmt.Sprintf("%s:%d", n.config.Server, n.config.Port)
	err := mail.Send(addr, smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}

// Notifiers fans a report out to several notifiers, all of them are tried.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, reports []Report) error {
	var errs []error
	for _, n := range ns {
		err := n.Notify(ctx, reports)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
