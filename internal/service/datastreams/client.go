package datastreams

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"StreamPull/internal/domain/models"
	drepo "StreamPull/internal/domain/repository"
	xhttp "StreamPull/pkg/http"
	applogger "StreamPull/pkg/logger"
	"StreamPull/pkg/streams"

	"golang.org/x/time/rate"
)

const (
	pathLatest = "/api/v1/reports/latest"
	pathAt     = "/api/v1/reports"
	pathBulk   = "/api/v1/reports/bulk"
	pathWS     = "/api/v1/ws"
)

// ErrEmptyReport is returned when the upstream answers 2xx without a report.
var ErrEmptyReport = errors.New("datastreams: response carries no report")

// Option configures Client.
type Option func(*Client)

// Client fetches signed reports from the Data Streams REST API. Every call
// signs a fresh request.
type Client struct {
	baseURL string
	signer  *streams.Signer
	http    *xhttp.Client
	limiter *rate.Limiter
	log     *applogger.Logger
}

var _ drepo.ReportSource = (*Client)(nil)

// New creates a REST client for baseURL.
func New(baseURL string, signer *streams.Signer, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     applogger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient()
	}
	return c
}

// WithRateLimit caps outgoing requests to rps with the given burst. rps <= 0 disables the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *xhttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

type reportEnvelope struct {
	Report *models.Report `json:"report"`
}

type bulkEnvelope struct {
	Reports []*models.Report `json:"reports"`
}

// LatestReport fetches the most recent report for feedID.
func (c *Client) LatestReport(ctx context.Context, feedID string) (*models.Report, error) {
	var env reportEnvelope
	if err := c.get(ctx, pathLatest+"?feedID="+feedID, &env); err != nil {
		return nil, fmt.Errorf("latest report %s: %w", feedID, err)
	}
	if env.Report == nil || env.Report.FullReport == "" {
		return nil, fmt.Errorf("latest report %s: %w", feedID, ErrEmptyReport)
	}
	return env.Report, nil
}

// ReportAt fetches the report for feedID valid at unixSeconds.
func (c *Client) ReportAt(ctx context.Context, feedID string, unixSeconds int64) (*models.Report, error) {
	path := pathAt + "?feedID=" + feedID + "&timestamp=" + strconv.FormatInt(unixSeconds, 10)
	var env reportEnvelope
	if err := c.get(ctx, path, &env); err != nil {
		return nil, fmt.Errorf("report %s at %d: %w", feedID, unixSeconds, err)
	}
	if env.Report == nil || env.Report.FullReport == "" {
		return nil, fmt.Errorf("report %s at %d: %w", feedID, unixSeconds, ErrEmptyReport)
	}
	return env.Report, nil
}

// BulkReports fetches reports for several feeds at one timestamp.
func (c *Client) BulkReports(ctx context.Context, feedIDs []string, unixSeconds int64) ([]*models.Report, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}
	path := pathBulk + "?feedIDs=" + strings.Join(feedIDs, ",") + "&timestamp=" + strconv.FormatInt(unixSeconds, 10)
	var env bulkEnvelope
	if err := c.get(ctx, path, &env); err != nil {
		return nil, fmt.Errorf("bulk reports at %d: %w", unixSeconds, err)
	}
	out := env.Reports[:0]
	for _, r := range env.Reports {
		if r != nil && r.FullReport != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	signed, err := c.signer.Sign(xhttp.MethodGet, path)
	if err != nil {
		return err
	}
	c.log.Debug("datastreams request",
		applogger.String("path", path),
		applogger.String("api_key", c.signer.APIKey()),
		applogger.Int64("ts", signed.TimestampMillis),
	)
	return c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.baseURL + path,
		Headers: signed.Headers(),
	}, dest)
}
