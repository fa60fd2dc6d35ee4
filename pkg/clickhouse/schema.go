package clickhouse

import "fmt"

// ReportsSchema returns the DDL for the decoded reports table. Prices are kept
// both as Float64 for aggregation and as decimal strings for exact display.
func ReportsSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    feed_id               String,
    symbol                LowCardinality(String),
    valid_from            DateTime,
    observed_at           DateTime,
    benchmark_price       Float64,
    bid                   Float64,
    ask                   Float64,
    benchmark_price_exact String,
    bid_exact             String,
    ask_exact             String,
    mode                  LowCardinality(String),
    full_report           String,
    inserted_at           DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(inserted_at)
PARTITION BY toYYYYMM(observed_at)
ORDER BY (symbol, observed_at, feed_id)`, database, table),
	}
}
