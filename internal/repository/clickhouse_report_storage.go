package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StreamPull/internal/domain/models"
	"StreamPull/internal/domain/repository"
	pkgch "StreamPull/pkg/clickhouse"
	applogger "StreamPull/pkg/logger"
	"StreamPull/pkg/streams"

	"github.com/shopspring/decimal"
)

const reportColumns = "feed_id, symbol, valid_from, observed_at, benchmark_price, bid, ask, benchmark_price_exact, bid_exact, ask_exact, mode, full_report"

// rows per INSERT statement
const chunkSize = 2000

// ClickHouseStorage implements Storage for ClickHouse.
type ClickHouseStorage struct {
	db       *sql.DB
	database string
	table    string
	feeds    map[string]models.Feed
	l        *applogger.Logger
}

// NewClickHouseStorage creates ClickHouse storage. feeds lets Query attach
// the configured price band to stored reports.
func NewClickHouseStorage(db *sql.DB, database, table string, feeds []models.Feed, l *applogger.Logger) repository.Storage {
	if l == nil {
		l = applogger.Nop()
	}
	byID := make(map[string]models.Feed, len(feeds))
	for _, f := range feeds {
		byID[f.FeedID] = f
	}
	return &ClickHouseStorage{db: db, database: database, table: table, feeds: byID, l: l}
}

func (s *ClickHouseStorage) Init(ctx context.Context) error {
	for _, stmt := range pkgch.ReportsSchema(s.database, s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init reports table: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStorage) Store(ctx context.Context, r *models.FeedReport) error {
	return s.StoreBatch(ctx, []*models.FeedReport{r})
}

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, reports []*models.FeedReport) error {
	if len(reports) == 0 {
		return nil
	}
	for start := 0; start < len(reports); start += chunkSize {
		end := start + chunkSize
		if end > len(reports) {
			end = len(reports)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*12)
		for _, r := range reports[start:end] {
			if r == nil || r.Decoded == nil || r.Feed.FeedID == "" {
				continue
			}
			d := r.Decoded
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				r.Feed.FeedID,
				r.Symbol,
				time.Unix(int64(d.ValidFromTimestamp), 0).UTC(),
				r.EffectiveTime(),
				d.BenchmarkPrice,
				d.Bid,
				d.Ask,
				d.Exact.BenchmarkPrice.String(),
				d.Exact.Bid.String(),
				d.Exact.Ask.String(),
				d.Mode.String(),
				d.RawReport,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.qualified(), reportColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert reports failed",
				applogger.String("table", s.table),
				applogger.Int("rows", len(values)),
				applogger.Error(err),
			)
			return fmt.Errorf("insert reports: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStorage) Query(ctx context.Context, hq models.HistoryQuery) ([]*models.FeedReport, error) {
	start := time.Now()
	q := fmt.Sprintf(`SELECT %s FROM %s
WHERE symbol = ? AND observed_at >= ? AND observed_at <= ?
ORDER BY observed_at DESC
LIMIT ?`, reportColumns, s.qualified())
	rows, err := s.db.QueryContext(ctx, q, hq.Symbol, hq.From.UTC(), hq.To.UTC(), hq.Limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	out := make([]*models.FeedReport, 0, hq.Limit)
	for rows.Next() {
		r, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse query reports ok",
		applogger.String("symbol", hq.Symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *ClickHouseStorage) scan(rows *sql.Rows) (*models.FeedReport, error) {
	var (
		feedID, symbol, mode, full string
		validFrom, observedAt      time.Time
		price, bid, ask            float64
		priceX, bidX, askX         string
	)
	if err := rows.Scan(&feedID, &symbol, &validFrom, &observedAt, &price, &bid, &ask, &priceX, &bidX, &askX, &mode, &full); err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	m, err := streams.ParseMode(mode)
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}

	d := &streams.DecodedReport{
		FeedID:             feedID,
		ValidFromTimestamp: uint32(validFrom.Unix()),
		BenchmarkPrice:     price,
		Bid:                bid,
		Ask:                ask,
		RawReport:          full,
		Mode:               m,
	}
	if m == streams.ModeFull {
		d.ObservationsTimestamp = uint32(observedAt.Unix())
	}
	// the stored raw report is authoritative when it still decodes
	if redecoded, err := streams.Decode(full, m); err == nil {
		d = redecoded
	} else {
		d.Exact.BenchmarkPrice, _ = decimal.NewFromString(priceX)
		d.Exact.Bid, _ = decimal.NewFromString(bidX)
		d.Exact.Ask, _ = decimal.NewFromString(askX)
	}

	feed, ok := s.feeds[feedID]
	if !ok {
		feed = models.Feed{Symbol: symbol, FeedID: feedID}
	}
	r := models.NewFeedReport(feed, d, observedAt.UTC())
	r.Symbol = symbol
	return r, nil
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseStorage) Close() error {
	return nil
}

func (s *ClickHouseStorage) qualified() string {
	if s.database == "" {
		return s.table
	}
	return s.database + "." + s.table
}
