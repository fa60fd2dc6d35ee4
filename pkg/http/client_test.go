package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndParseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.Header.Get("X-Test"))
		assert.Equal(t, "1", r.URL.Query().Get("feedID"))
		_, _ = w.Write([]byte(`{"name":"eth"}`))
	}))
	defer srv.Close()

	var out struct{ Name string }
	err := NewClient(WithTimeout(time.Second)).SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		Headers:     map[string]string{"X-Test": "abc"},
		QueryParams: map[string][]string{"feedID": {"1"}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "eth", out.Name)
}

func TestSendAndParseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "bad signature", se.Body)
	assert.Contains(t, err.Error(), "401")
}

func TestSendAndParseRawTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := NewClient()
	var raw []byte
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost, URL: srv.URL, Body: map[string]string{"mode": "full"},
	}, &raw))
	assert.JSONEq(t, `{"mode":"full"}`, string(raw))

	var buf bytes.Buffer
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost, URL: srv.URL, Body: "plain",
	}, &buf))
	assert.Equal(t, "plain", buf.String())
}

func TestSendRequestHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient().SendRequest(ctx, &RequestOptions{Method: MethodGet, URL: srv.URL})
	assert.ErrorIs(t, err, context.Canceled)
}
