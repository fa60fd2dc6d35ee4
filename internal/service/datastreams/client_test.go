package datastreams

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	xhttp "StreamPull/pkg/http"
	"StreamPull/pkg/streams"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "key-1234"
	testSecret = "secret"
	ethFeed    = "0x000359843a543ee2fe414dc14c7e7920ef10f4372990b79d6361cdc0dd1ba782"
	btcFeed    = "0x00037da06d56d083fe599397a4769a042d63aa73dc4ef57709d31e9971a5b439"
)

func newSigner(t *testing.T) *streams.Signer {
	t.Helper()
	s, err := streams.NewSigner(testKey, testSecret)
	require.NoError(t, err)
	return s
}

// verifyingServer checks every request's signature against the raw request URI.
func verifyingServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts, err := strconv.ParseInt(r.Header.Get(streams.HeaderTimestamp), 10, 64)
		if err != nil || r.Header.Get(streams.HeaderAuthorization) != testKey ||
			!streams.Verify(r.Method, r.RequestURI, testKey, testSecret, ts, r.Header.Get(streams.HeaderSignature)) {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}))
}

func TestLatestReport(t *testing.T) {
	srv := verifyingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathLatest, r.URL.Path)
		assert.Equal(t, ethFeed, r.URL.Query().Get("feedID"))
		_, _ = w.Write([]byte(`{"report":{"feedID":"` + ethFeed + `","validFromTimestamp":1718000000,"observationsTimestamp":1718000005,"fullReport":"0x00"}}`))
	})
	defer srv.Close()

	r, err := New(srv.URL+"/", newSigner(t)).LatestReport(context.Background(), ethFeed)
	require.NoError(t, err)
	assert.Equal(t, ethFeed, r.FeedID)
	assert.Equal(t, uint32(1718000005), r.ObservationsTimestamp)
	assert.Equal(t, "0x00", r.FullReport)
}

func TestLatestReportEmpty(t *testing.T) {
	srv := verifyingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	_, err := New(srv.URL, newSigner(t)).LatestReport(context.Background(), ethFeed)
	assert.ErrorIs(t, err, ErrEmptyReport)
}

func TestLatestReportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "feed not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, newSigner(t)).LatestReport(context.Background(), ethFeed)
	var se *xhttp.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestReportAt(t *testing.T) {
	srv := verifyingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathAt, r.URL.Path)
		assert.Equal(t, "1718000000", r.URL.Query().Get("timestamp"))
		_, _ = w.Write([]byte(`{"report":{"feedID":"` + ethFeed + `","fullReport":"0x01"}}`))
	})
	defer srv.Close()

	r, err := New(srv.URL, newSigner(t)).ReportAt(context.Background(), ethFeed, 1718000000)
	require.NoError(t, err)
	assert.Equal(t, "0x01", r.FullReport)
}

func TestBulkReports(t *testing.T) {
	srv := verifyingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathBulk, r.URL.Path)
		assert.Equal(t, ethFeed+","+btcFeed, r.URL.Query().Get("feedIDs"))
		_, _ = w.Write([]byte(`{"reports":[{"feedID":"` + ethFeed + `","fullReport":"0x01"},{"feedID":"` + btcFeed + `","fullReport":""}]}`))
	})
	defer srv.Close()

	c := New(srv.URL, newSigner(t))
	out, err := c.BulkReports(context.Background(), []string{ethFeed, btcFeed}, 1718000000)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ethFeed, out[0].FeedID)

	out, err = c.BulkReports(context.Background(), nil, 1)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestEveryCallSignsFresh(t *testing.T) {
	var calls atomic.Int64
	var last atomic.Value
	srv := verifyingServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		sig := r.Header.Get(streams.HeaderSignature)
		if prev, ok := last.Load().(string); ok {
			assert.NotEqual(t, prev, sig)
		}
		last.Store(sig)
		_, _ = w.Write([]byte(`{"report":{"fullReport":"0x00"}}`))
	})
	defer srv.Close()

	var ms atomic.Int64
	ms.Store(1718000000000)
	signer, err := streams.NewSigner(testKey, testSecret, streams.WithClock(func() time.Time {
		return time.UnixMilli(ms.Add(1))
	}))
	require.NoError(t, err)

	c := New(srv.URL, signer)
	for i := 0; i < 3; i++ {
		_, err := c.LatestReport(context.Background(), ethFeed)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), calls.Load())
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := verifyingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"report":{"fullReport":"0x00"}}`))
	})
	defer srv.Close()

	c := New(srv.URL, newSigner(t), WithRateLimit(0.001, 1))
	_, err := c.LatestReport(context.Background(), ethFeed)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.LatestReport(ctx, ethFeed)
	assert.Error(t, err)
}
