package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/internal/metrics"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

// KafkaSink mirrors every emitted TreeStreamEvent to a Kafka topic for
// downstream analytics consumers (SPEC_FULL.md §11). It is fire-and-forget:
// a publish failure is logged and dropped, never surfaced to the
// scheduler, and it never blocks the primary SSE sink it is composed with
// via MultiSink.
type KafkaSink struct {
	writer *kafka.Writer
	log    *logger.Logger
	ctx    context.Context
}

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaSink builds a KafkaSink publishing to cfg.Topic. Writes use
// kafka.Writer's async-friendly defaults; the background context is used
// for every WriteMessages call since the sink outlives any single HTTP
// request's context (a client disconnect must not cut off an in-flight
// publish, per spec §4.5's "subsequent emissions are discarded" applying
// only to the primary transport).
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}

	return &KafkaSink{
		writer: writer,
		log:    logger.Get().With("component", "kafka_sink", "topic", cfg.Topic),
		ctx:    context.Background(),
	}
}

// Emit publishes event to the configured topic. It never blocks the
// caller on a failure; kafka.Writer.Async handles delivery in the
// background and errors surface only through its ErrorLogger hook, which
// we don't wire here since a dropped analytics mirror is not an operator
// page.
func (s *KafkaSink) Emit(event domain.TreeStreamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Warnw("failed to marshal event for kafka mirror", "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.Type),
		Value: payload,
		Time:  time.Now(),
	}

	err = s.writer.WriteMessages(s.ctx, msg)
	metrics.RecordKafkaMirror(err)
	if err != nil {
		s.log.Warnw("failed to enqueue kafka mirror message", "error", err)
	}
}

// Close flushes and closes the underlying Kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
