package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"StreamPull/internal/domain/models"
	domrepo "StreamPull/internal/domain/repository"
	pkgkafka "StreamPull/pkg/kafka"
)

// KafkaReportsHandler consumes published reports and writes them to storage.
type KafkaReportsHandler struct {
	topic   string
	storage domrepo.Storage
	metrics domrepo.Metrics
	now     func() time.Time
}

func NewKafkaReportsHandler(topic string, storage domrepo.Storage, metrics domrepo.Metrics) *KafkaReportsHandler {
	return &KafkaReportsHandler{topic: topic, storage: storage, metrics: metrics, now: time.Now}
}

func (h *KafkaReportsHandler) Topic() string { return h.topic }

// Handle stores one message carrying a JSON encoded FeedReport.
func (h *KafkaReportsHandler) Handle(ctx context.Context, b []byte) error {
	var r models.FeedReport
	if err := json.Unmarshal(b, &r); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("unmarshal report: %w", err)
	}
	if r.Decoded == nil || r.Feed.FeedID == "" {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("report without feed id or decoded body")
	}
	h.metrics.RecordLatency("ingest_e2e", h.now().Sub(r.EffectiveTime()).Seconds())

	start := h.now()
	err := h.storage.Store(ctx, &r)
	h.metrics.RecordLatency("ch_insert", h.now().Sub(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordMessageSent("clickhouse", r.Symbol)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaReportsHandler)(nil)
