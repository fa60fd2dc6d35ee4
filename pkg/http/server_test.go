package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"StreamPull/pkg/streams"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
	e.GET("/gone", func(c echo.Context) error { return AppErrorResponse(c, NotFoundErrorf("no %s", "feed")) })
}

func TestServerRoutesAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(Handlers{pingHandler{}}, nil, WithMetrics(reg, reg, "/metrics"))

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200,"message":"OK","data":"pong"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gone", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "streampull_http_requests_total")
}

func TestDecodeFailure(t *testing.T) {
	_, err := streams.Decode("0x"+strings.Repeat("00", 10), streams.ModeFull)
	require.Error(t, err)

	ae := DecodeFailure(err)
	assert.Equal(t, http.StatusUnprocessableEntity, ae.Status)
	assert.Equal(t, "ERR_TRUNCATED_BUFFER", ae.Code)
	assert.Equal(t, "feedId", ae.Params["field"])
	assert.Equal(t, 10, ae.Params["length"])

	_, err = streams.Decode("nope", streams.ModeFull)
	ae = DecodeFailure(err)
	assert.Equal(t, "ERR_MALFORMED_INPUT", ae.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ae.Status)

	ae = DecodeFailure(errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, ae.Status)
}
