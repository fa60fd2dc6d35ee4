package models

import (
	"testing"
	"time"

	"StreamPull/pkg/streams"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedInRange(t *testing.T) {
	eth := Feed{Symbol: "ETH/USD", ExpectedMin: 1500, ExpectedMax: 8000}
	assert.True(t, eth.HasRange())
	assert.True(t, eth.InRange(1500))
	assert.True(t, eth.InRange(8000))
	assert.False(t, eth.InRange(1499.99))
	assert.False(t, eth.InRange(8000.01))

	open := Feed{ExpectedMin: 10}
	assert.True(t, open.InRange(1e12))
	assert.False(t, Feed{}.HasRange())
}

func TestNewFeedReport(t *testing.T) {
	feed := Feed{Symbol: "BTC/USD", FeedID: "0x01", ExpectedMin: 30000, ExpectedMax: 150000}
	decoded := &streams.DecodedReport{
		FeedID:                "0xabc",
		ObservationsTimestamp: 1718000005,
		BenchmarkPrice:        20000,
		RawReport:             "0xdead",
	}
	fr := NewFeedReport(feed, decoded, time.Unix(0, 0))

	require.NotNil(t, fr.RangeCheck)
	assert.False(t, *fr.RangeCheck)
	assert.Equal(t, "BTC/USD", fr.Symbol)
	assert.Equal(t, int64(1718000005), fr.ObservedAt().Unix())
	assert.Equal(t, RawSummary{FeedID: "0xabc", Timestamp: 1718000005, FullReport: "0xdead"}, fr.Raw())

	assert.Nil(t, NewFeedReport(Feed{Symbol: "X"}, decoded, time.Now()).RangeCheck)
}

func TestEffectiveTimeFallsBackToFetch(t *testing.T) {
	fetched := time.Unix(1718000100, 0)
	priceOnly := NewFeedReport(Feed{Symbol: "X"}, &streams.DecodedReport{BenchmarkPrice: 30}, fetched)
	assert.True(t, priceOnly.EffectiveTime().Equal(fetched))

	full := NewFeedReport(Feed{Symbol: "X"}, &streams.DecodedReport{ObservationsTimestamp: 1718000005}, fetched)
	assert.Equal(t, int64(1718000005), full.EffectiveTime().Unix())
}
