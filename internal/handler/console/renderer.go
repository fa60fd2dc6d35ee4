package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"StreamPull/internal/domain/models"
	"StreamPull/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/tidwall/pretty"
)

// ErrFeedsFailed is returned when at least one feed could not be fetched.
var ErrFeedsFailed = errors.New("failed to fetch one or more reports")

// Renderer prints a one-shot run in human readable form.
type Renderer struct {
	out     io.Writer
	errOut  io.Writer
	baseURL string
}

func NewRenderer(out, errOut io.Writer, baseURL string) *Renderer {
	return &Renderer{out: out, errOut: errOut, baseURL: baseURL}
}

// Header prints the run timestamp and the upstream base URL.
func (r *Renderer) Header(now time.Time) {
	fmt.Fprintf(r.out, "Timestamp: %s\n", now.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Fprintf(r.out, "Base URL: %s\n", r.baseURL)
}

// Render prints every result followed by the comparison, range analysis and
// raw reports. It returns ErrFeedsFailed if any feed failed, in which case
// only the per-feed sections are printed.
func (r *Renderer) Render(results []usecase.FetchResult) error {
	failed := 0
	for _, res := range results {
		fmt.Fprintf(r.out, "\nFetching %s report...\n", res.Feed.Symbol)
		fmt.Fprintf(r.out, "Feed ID: %s\n", res.Feed.FeedID)
		if res.Err != nil {
			failed++
			fmt.Fprintf(r.errOut, "Error fetching %s: %v\n", res.Feed.Symbol, res.Err)
			continue
		}
		r.report(res.Report)
	}
	if failed > 0 {
		fmt.Fprintf(r.errOut, "%d of %d feeds failed\n", failed, len(results))
		return ErrFeedsFailed
	}

	fmt.Fprintln(r.out, "\nRESULTS COMPARISON")
	fmt.Fprintln(r.out, "==================")
	for _, res := range results {
		r.summary(res.Report)
	}

	fmt.Fprintln(r.out, "\nPRICE RANGE ANALYSIS")
	for _, res := range results {
		feed := res.Report.Feed
		if !feed.HasRange() {
			fmt.Fprintf(r.out, "%s price in expected range: no range configured\n", feed.Symbol)
			continue
		}
		fmt.Fprintf(r.out, "%s price in expected range (%s): %t\n",
			feed.Symbol, rangeLabel(feed), *res.Report.RangeCheck)
	}

	for _, res := range results {
		b, err := json.Marshal(res.Report.Raw())
		if err != nil {
			return fmt.Errorf("marshal raw report: %w", err)
		}
		fmt.Fprintf(r.out, "\n%s Raw Report: %s", res.Report.Symbol, pretty.Pretty(b))
	}
	return nil
}

func (r *Renderer) report(fr *models.FeedReport) {
	d := fr.Decoded
	fmt.Fprintf(r.out, "\n%s Report:\n", fr.Symbol)
	fmt.Fprintf(r.out, "   Feed ID: %s\n", d.FeedID)
	fmt.Fprintf(r.out, "   Benchmark Price: %s\n", USD(d.Exact.BenchmarkPrice))
	fmt.Fprintf(r.out, "   Bid: %s\n", USD(d.Exact.Bid))
	fmt.Fprintf(r.out, "   Ask: %s\n", USD(d.Exact.Ask))
	fmt.Fprintf(r.out, "   Timestamp: %d\n", d.ObservationsTimestamp)
}

func (r *Renderer) summary(fr *models.FeedReport) {
	d := fr.Decoded
	fmt.Fprintf(r.out, "\n%s Summary:\n", fr.Symbol)
	fmt.Fprintf(r.out, "   Feed ID: %s\n", d.FeedID)
	fmt.Fprintf(r.out, "   Price: %s\n", USD(d.Exact.BenchmarkPrice))
	fmt.Fprintf(r.out, "   Bid: %s\n", USD(d.Exact.Bid))
	fmt.Fprintf(r.out, "   Ask: %s\n", USD(d.Exact.Ask))
	fmt.Fprintf(r.out, "   Timestamp: %d\n", d.ObservationsTimestamp)
}

// USD renders d as a dollar amount with thousands separators and at most
// three fraction digits, e.g. $67,012.345.
func USD(d decimal.Decimal) string {
	s := d.Round(3).String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := sign + "$" + b.String()
	if hasFrac {
		out += "." + frac
	}
	return out
}

// rangeLabel prints the band, open at the top when no maximum is set.
func rangeLabel(f models.Feed) string {
	if f.ExpectedMax == 0 {
		return plain(f.ExpectedMin) + "+"
	}
	return plain(f.ExpectedMin) + "-" + plain(f.ExpectedMax)
}

func plain(f float64) string {
	return decimal.NewFromFloat(f).String()
}
