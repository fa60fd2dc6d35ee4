package api

// LatestRequest selects a feed by symbol or feed id.
type LatestRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required_without=FeedID"`
	FeedID string `query:"feed_id" json:"feed_id" validate:"omitempty,startswith=0x,hexadecimal,len=66"`
	Mode   string `query:"mode" json:"mode" validate:"omitempty,oneof=full price_only price-only"`
}

// HistoryRequest selects stored reports. From and To accept RFC3339, unix
// seconds or unix milliseconds.
type HistoryRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`
}

// DecodeRequest decodes a raw report without contacting the upstream.
type DecodeRequest struct {
	FullReport string `json:"full_report" validate:"required"`
	Mode       string `json:"mode" validate:"omitempty,oneof=full price_only price-only"`
}

// AtRequest selects the report of a feed valid at Timestamp.
type AtRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required_without=FeedID"`
	FeedID    string `query:"feed_id" json:"feed_id" validate:"omitempty,startswith=0x,hexadecimal,len=66"`
	Timestamp string `query:"timestamp" json:"timestamp" validate:"required"`
	Mode      string `query:"mode" json:"mode" validate:"omitempty,oneof=full price_only price-only"`
}

// BackfillRequest queues historical fetches. Step is a Go duration such as "5m".
type BackfillRequest struct {
	Symbols []string `json:"symbols" validate:"omitempty,dive,required"`
	From    string   `json:"from" validate:"required"`
	To      string   `json:"to" validate:"required"`
	Step    string   `json:"step" default:"1m"`
	Mode    string   `json:"mode" validate:"omitempty,oneof=full price_only price-only"`
}
