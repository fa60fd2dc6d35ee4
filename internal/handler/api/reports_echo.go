package api

import (
	"errors"
	"net/http"
	"time"

	"StreamPull/internal/usecase"
	xhttp "StreamPull/pkg/http"
	xlogger "StreamPull/pkg/logger"
	"StreamPull/pkg/streams"
	"StreamPull/pkg/util"

	"github.com/labstack/echo/v4"
)

// ReportsEchoHandler serves feed, report, decode and backfill endpoints.
type ReportsEchoHandler struct {
	logger   *xlogger.Logger
	fetcher  *usecase.ReportFetcher
	history  *usecase.HistoryUseCase
	backfill *usecase.BackfillUseCase
	mws      []echo.MiddlewareFunc
}

func NewReportsEchoHandler(
	logger *xlogger.Logger,
	fetcher *usecase.ReportFetcher,
	history *usecase.HistoryUseCase,
	backfill *usecase.BackfillUseCase,
	mws ...echo.MiddlewareFunc,
) *ReportsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ReportsEchoHandler{logger: logger, fetcher: fetcher, history: history, backfill: backfill, mws: mws}
}

func (h *ReportsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.mws...)
	g.GET("/feeds", h.Feeds)
	g.GET("/reports/latest", h.Latest)
	g.GET("/reports/at", h.At)
	g.GET("/reports/history", h.History)
	g.POST("/reports/decode", h.Decode)
	g.POST("/reports/backfill", h.Backfill)
	g.GET("/reports/backfill", h.BackfillStats)
}

func (h *ReportsEchoHandler) Feeds(c echo.Context) error {
	feeds := h.fetcher.Feeds()
	return xhttp.ListResponse(c, feeds, int64(len(feeds)))
}

func (h *ReportsEchoHandler) Latest(c echo.Context) error {
	req := &LatestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	mode, err := h.mode(req.Mode)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("mode", err.Error()))
	}

	feed, err := h.fetcher.Resolve(req.Symbol, req.FeedID)
	if err != nil {
		return h.resolveFailure(c, req.Symbol, err)
	}

	r, err := h.fetcher.Latest(c.Request().Context(), feed, mode)
	if err != nil {
		h.logger.Error("latest report failed", xlogger.String("symbol", feed.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, upstreamFailure(err))
	}

	cacheState := "MISS"
	if r.FromCache {
		cacheState = "HIT"
	}
	c.Response().Header().Set("X-Cache", cacheState)
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, r)
}

func (h *ReportsEchoHandler) At(c echo.Context) error {
	req := &AtRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ts, ok := util.ParseTime(req.Timestamp)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("timestamp", "timestamp must be RFC3339 or a unix timestamp"))
	}
	mode, err := h.mode(req.Mode)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("mode", err.Error()))
	}
	feed, err := h.fetcher.Resolve(req.Symbol, req.FeedID)
	if err != nil {
		return h.resolveFailure(c, req.Symbol, err)
	}

	r, err := h.fetcher.At(c.Request().Context(), feed, ts.Unix(), mode)
	if err != nil {
		h.logger.Error("report at timestamp failed",
			xlogger.String("symbol", feed.Symbol),
			xlogger.Int64("timestamp", ts.Unix()),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, upstreamFailure(err))
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *ReportsEchoHandler) History(c echo.Context) error {
	req := &HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := parseOptionalTime(req.From)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from", "from must be RFC3339 or a unix timestamp"))
	}
	to, ok := parseOptionalTime(req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("to", "to must be RFC3339 or a unix timestamp"))
	}

	res, err := h.history.GetHistory(c.Request().Context(), usecase.GetHistoryParams{
		Symbol: req.Symbol,
		From:   from,
		To:     to,
		Limit:  req.Limit,
	})
	switch {
	case errors.Is(err, usecase.ErrHistoryUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	case err != nil:
		h.logger.Error("history query failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_HISTORY", "", "history query failed", http.StatusInternalServerError).WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ReportsEchoHandler) Decode(c echo.Context) error {
	req := &DecodeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	mode, err := h.mode(req.Mode)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("mode", err.Error()))
	}

	d, err := streams.Decode(req.FullReport, mode)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.DecodeFailure(err))
	}
	return xhttp.SuccessResponse(c, d)
}

func (h *ReportsEchoHandler) Backfill(c echo.Context) error {
	req := &BackfillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := util.ParseTime(req.From)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from", "from must be RFC3339 or a unix timestamp"))
	}
	to, ok := util.ParseTime(req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("to", "to must be RFC3339 or a unix timestamp"))
	}
	step, err := time.ParseDuration(req.Step)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("step", "step must be a duration such as 1m"))
	}
	mode, err := h.mode(req.Mode)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("mode", err.Error()))
	}

	res, err := h.backfill.Schedule(c.Request().Context(), usecase.BackfillParams{
		Symbols: req.Symbols,
		From:    from,
		To:      to,
		Step:    step,
		Mode:    mode,
	})
	switch {
	case errors.Is(err, usecase.ErrBackfillUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	case errors.Is(err, usecase.ErrUnknownFeed):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbols", err.Error()))
	case errors.Is(err, streams.ErrInvalidRequest):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("", err.Error()))
	case err != nil:
		h.logger.Error("backfill schedule failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_BACKFILL", "", "backfill could not be queued", http.StatusInternalServerError).WithError(err))
	}
	h.logger.Info("backfill queued",
		xlogger.Strings("symbols", res.Symbols),
		xlogger.Int("tasks", res.Tasks),
		xlogger.String("step", res.Step))
	return xhttp.DataResponse(c, http.StatusAccepted, res)
}

func (h *ReportsEchoHandler) BackfillStats(c echo.Context) error {
	st, err := h.backfill.Stats(c.Request().Context())
	switch {
	case errors.Is(err, usecase.ErrBackfillUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	case err != nil:
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_BACKFILL", "", "queue stats unavailable", http.StatusInternalServerError).WithError(err))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *ReportsEchoHandler) resolveFailure(c echo.Context, symbol string, err error) error {
	if errors.Is(err, usecase.ErrUnknownFeed) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("feed %s is not configured", symbol))
	}
	return xhttp.AppErrorResponse(c, xhttp.BadRequestError("feed_id", err.Error()))
}

func (h *ReportsEchoHandler) mode(s string) (streams.Mode, error) {
	if s == "" {
		return h.fetcher.Mode(), nil
	}
	return streams.ParseMode(s)
}

// upstreamFailure maps fetch errors: reports that do not decode keep the
// decoder's code, everything else is a bad gateway.
func upstreamFailure(err error) *xhttp.AppError {
	if code := streams.ErrorCode(err); code != "ERR_UNKNOWN" {
		return xhttp.BadGatewayError(err).WithParam("code", code)
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return xhttp.BadGatewayError(err).WithParam("upstream_status", se.StatusCode)
	}
	return xhttp.BadGatewayError(err)
}

func parseOptionalTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	return util.ParseTime(s)
}

var _ xhttp.Handler = (*ReportsEchoHandler)(nil)
