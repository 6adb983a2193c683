package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"coursesync-backend/lib/htmlutil"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("coursesync.lib.identity")

// selectors are tried in order, the first one with text wins
var titleSelectors = []string{"h1", ".program-title", "title"}

// TitleFromDocument finds the heading a program page identifies itself
// with.
func TitleFromDocument(doc *goquery.Document) string {
	for _, selector := range titleSelectors {
		text := htmlutil.SelectionText(doc.Find(selector).First())
		if text != "" {
			return text
		}
	}
	return ""
}

// TitleFromHTML is TitleFromDocument over raw html.
func TitleFromHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	return TitleFromDocument(doc), nil
}

// Guard drops every row of a document that fails validation: a document
// either belongs to the requested program entirely or not at all.
func (v Validator) Guard(ctx context.Context, req Request, title string, rows []records.Record) ([]records.Record, Verdict, error) {
	_, span := tracer.Start(ctx, "Guard")
	defer span.End()

	verdict := v.Match(req, title)
	span.SetAttributes(
		attribute.String("identifier", req.Identifier),
		attribute.String("title", title),
		attribute.Bool("accepted", verdict.Accepted),
		attribute.String("rule", string(verdict.Rule)),
		attribute.Float64("overlap", verdict.Overlap),
		attribute.Float64("similarity", verdict.Similarity),
	)
	if verdict.Accepted {
		return rows, verdict, nil
	}

	slog.WarnContext(
		ctx, "discarding document",
		"identifier", req.Identifier,
		"title", title,
		"rows", len(rows),
		"reason", verdict.Reason,
		"similarity", verdict.Similarity,
	)
	span.SetStatus(codes.Error, verdict.Reason)
	return nil, verdict, fmt.Errorf("%s: %w: %s", req.Identifier, ErrIdentityMismatch, verdict.Reason)
}
