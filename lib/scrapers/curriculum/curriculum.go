package curriculum

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	"coursesync-backend/lib/htmlutil"
	"coursesync-backend/lib/identity"
	"coursesync-backend/lib/records"
	"coursesync-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("coursesync.scrapers.curriculum")

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
}

type ClientOptions struct {
	BaseUrl        string
	UserAgent      string
	TimeoutSeconds int
}

// NewClient creates a client whose cookie jar is shared by every program
// fetched through it, so a page may come back for a different program than
// the one requested. Callers must validate the identity of what they get.
func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	}
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	client.SetTimeout(time.Second * time.Duration(timeout))

	telemetry.InstrumentResty(client, "scrapers/curriculum/http")

	return &Client{
		BaseUrl: baseUrl,
		Http:    client,
	}, nil
}

// Program is one curriculum to fetch.
type Program struct {
	// Identifier doubles as the program_version_id of every row.
	Identifier string           `json:"identifier"`
	Label      string           `json:"label"`
	Department string           `json:"department"`
	Path       string           `json:"path"`
	Version    identity.Version `json:"version"`
}

func (p Program) Request() identity.Request {
	return identity.Request{
		Identifier: p.Identifier,
		Label:      p.Label,
		Version:    p.Version,
	}
}

// Page is a fetched program page, its rows are not yet validated.
type Page struct {
	Url     string
	Title   string
	Records []records.Record
}

func (c *Client) get(ctx context.Context, path string) (*goquery.Document, *resty.Response, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, nil, err
	}
	if res.IsError() {
		return nil, res, fmt.Errorf("GET %s: unexpected status %d", path, res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, res, err
	}
	return doc, res, nil
}

// ListPrograms returns the program links of an index page.
func (c *Client) ListPrograms(ctx context.Context, indexPath, selector string) ([]htmlutil.Anchor, error) {
	ctx, span := tracer.Start(ctx, "client:ListPrograms")
	defer span.End()

	doc, _, err := c.get(ctx, indexPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch program index")
		return nil, err
	}
	if selector == "" {
		selector = "a"
	}
	return htmlutil.GetAnchors(ctx, doc.Find(selector), c.BaseUrl), nil
}

// FetchProgram fetches one program page and reads its curriculum table.
func (c *Client) FetchProgram(ctx context.Context, program Program) (Page, error) {
	ctx, span := tracer.Start(ctx, "client:FetchProgram")
	defer span.End()
	span.SetAttributes(
		attribute.String("identifier", program.Identifier),
		attribute.String("path", program.Path),
	)

	doc, res, err := c.get(ctx, program.Path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch program page")
		return Page{}, err
	}

	page := Page{
		Url:     res.Request.URL,
		Title:   identity.TitleFromDocument(doc),
		Records: ParseTable(doc, program.Identifier, program.Department),
	}
	span.SetAttributes(
		attribute.String("title", page.Title),
		attribute.Int("rows", len(page.Records)),
	)
	return page, nil
}
