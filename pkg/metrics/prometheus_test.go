package metrics

import (
	"testing"

	"StreamPull/pkg/streams"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordMessageSent("kafka", "ETH/USD")
	r.RecordMessageSent("kafka", "ETH/USD")
	r.RecordError("fetch")
	r.RecordLastPrice("ETH/USD", 3456.78)
	r.RecordReport("ETH/USD", streams.ModeFull, 1718000005)
	r.RecordReport("ETH/USD", streams.ModeFull, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.messagesSent.WithLabelValues("kafka", "ETH/USD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("fetch")))
	assert.Equal(t, 3456.78, testutil.ToFloat64(r.lastPrice.WithLabelValues("ETH/USD")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.reportsDecoded.WithLabelValues("ETH/USD", "full")))
	assert.Equal(t, 1718000005.0, testutil.ToFloat64(r.lastObserved.WithLabelValues("ETH/USD")))
}

func TestRecordersDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
