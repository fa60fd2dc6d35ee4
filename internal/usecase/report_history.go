package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StreamPull/internal/domain/models"
	drepo "StreamPull/internal/domain/repository"
	"StreamPull/pkg/util"
)

// ErrHistoryUnavailable is returned when no storage backend is configured.
var ErrHistoryUnavailable = errors.New("history requires the clickhouse backend")

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 5000
	defaultHistorySpan  = 24 * time.Hour
)

// HistoryUseCase serves stored reports.
type HistoryUseCase struct {
	store drepo.Storage
	now   func() time.Time
}

// NewHistoryUseCase creates the use case. store may be nil.
func NewHistoryUseCase(store drepo.Storage) *HistoryUseCase {
	return &HistoryUseCase{store: store, now: time.Now}
}

type GetHistoryParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetHistoryResult struct {
	Symbol  string               `json:"symbol"`
	From    time.Time            `json:"from"`
	To      time.Time            `json:"to"`
	Count   int                  `json:"count"`
	Reports []*models.FeedReport `json:"reports"`
}

// GetHistory returns reports of a symbol, newest first. A zero To means now
// and a zero From means one day before To.
func (uc *HistoryUseCase) GetHistory(ctx context.Context, p GetHistoryParams) (*GetHistoryResult, error) {
	if uc.store == nil {
		return nil, ErrHistoryUnavailable
	}
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.To.IsZero() {
		p.To = uc.now().UTC()
	}
	if p.From.IsZero() {
		p.From = p.To.Add(-defaultHistorySpan)
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = defaultHistoryLimit
	}
	p.Limit = util.ClampInt(p.Limit, 1, maxHistoryLimit)

	reports, err := uc.store.Query(ctx, models.HistoryQuery{Symbol: p.Symbol, From: p.From, To: p.To, Limit: p.Limit})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return &GetHistoryResult{
		Symbol:  p.Symbol,
		From:    p.From,
		To:      p.To,
		Count:   len(reports),
		Reports: reports,
	}, nil
}
