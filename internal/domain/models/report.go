package models

import (
	"time"

	"StreamPull/pkg/streams"
)

// Feed is a configured Data Streams feed with its plausible price band.
type Feed struct {
	Symbol      string  `json:"symbol"`
	FeedID      string  `json:"feedId"`
	ExpectedMin float64 `json:"expectedMin,omitempty"`
	ExpectedMax float64 `json:"expectedMax,omitempty"`
}

// HasRange reports whether an expected price band is configured.
func (f Feed) HasRange() bool {
	return f.ExpectedMin > 0 || f.ExpectedMax > 0
}

// InRange reports whether price lies in [ExpectedMin, ExpectedMax].
// A zero ExpectedMax leaves the band open at the top.
func (f Feed) InRange(price float64) bool {
	if price < f.ExpectedMin {
		return false
	}
	return f.ExpectedMax == 0 || price <= f.ExpectedMax
}

// Report is the upstream report envelope as returned by the REST and
// WebSocket APIs.
type Report struct {
	FeedID                string `json:"feedID"`
	ValidFromTimestamp    uint32 `json:"validFromTimestamp"`
	ObservationsTimestamp uint32 `json:"observationsTimestamp"`
	FullReport            string `json:"fullReport"`
}

// FeedReport is a decoded report attributed to a configured feed.
type FeedReport struct {
	Symbol     string                 `json:"symbol"`
	Feed       Feed                   `json:"feed"`
	Decoded    *streams.DecodedReport `json:"decoded"`
	FetchedAt  time.Time              `json:"fetchedAt"`
	FromCache  bool                   `json:"fromCache,omitempty"`
	RangeCheck *bool                  `json:"inExpectedRange,omitempty"`
}

// NewFeedReport attaches feed metadata and the range check to a decoded report.
func NewFeedReport(feed Feed, decoded *streams.DecodedReport, fetchedAt time.Time) *FeedReport {
	fr := &FeedReport{
		Symbol:    feed.Symbol,
		Feed:      feed,
		Decoded:   decoded,
		FetchedAt: fetchedAt,
	}
	if feed.HasRange() && decoded != nil {
		in := feed.InRange(decoded.BenchmarkPrice)
		fr.RangeCheck = &in
	}
	return fr
}

// ObservedAt returns the observation time in UTC.
func (r *FeedReport) ObservedAt() time.Time {
	if r.Decoded == nil {
		return time.Time{}
	}
	return time.Unix(int64(r.Decoded.ObservationsTimestamp), 0).UTC()
}

// EffectiveTime is the observation time, or the fetch time for reports that
// carry no timestamp.
func (r *FeedReport) EffectiveTime() time.Time {
	if r.Decoded == nil || r.Decoded.ObservationsTimestamp == 0 {
		return r.FetchedAt.UTC()
	}
	return r.ObservedAt()
}

// RawSummary is the compact raw form printed after a one-shot run.
type RawSummary struct {
	FeedID     string `json:"feedID"`
	Timestamp  uint32 `json:"timestamp"`
	FullReport string `json:"fullReport"`
}

// Raw returns the decoded report's raw summary.
func (r *FeedReport) Raw() RawSummary {
	if r.Decoded == nil {
		return RawSummary{}
	}
	return RawSummary{
		FeedID:     r.Decoded.FeedID,
		Timestamp:  r.Decoded.ObservationsTimestamp,
		FullReport: r.Decoded.RawReport,
	}
}

// HistoryQuery selects stored reports.
type HistoryQuery struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}
