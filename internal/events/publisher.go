// Package events publishes reconciled transcript segments to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/metrics"
)

const (
	EventTypePartial = "meeting.transcript.partial"
	EventTypeFinal   = "meeting.transcript.final"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes transcript events to separate Kafka topics.
type Publisher struct {
	writerPartial messageWriter
	writerFinal   messageWriter
	principal     string
	topicPartial  string
	topicFinal    string
	enabled       bool
	metrics       *metrics.Metrics
	now           func() time.Time
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
	Metrics      *metrics.Metrics
}

// New creates a new Kafka event publisher with separate topics for partial and final segments.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: metrics.DefaultMetrics, now: time.Now}
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	p := &Publisher{
		principal:    cfg.Principal,
		topicPartial: cfg.TopicPartial,
		topicFinal:   cfg.TopicFinal,
		metrics:      m,
		now:          time.Now,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerPartial = p.newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.writerFinal = p.newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// newWriter builds an async writer: WriteMessages only enqueues, so a slow or
// unreachable broker never stalls the ingest workers. Delivery results are
// reported through completion.
func (p *Publisher) newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	// Hash balancer keeps a session's events on one partition, in order.
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
		Async:        true,
		Completion:   p.completion(topic),
	}
}

// completion records metrics for a delivered (or failed) batch.
func (p *Publisher) completion(topic string) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		for _, m := range msgs {
			latency := 0.0
			if !m.Time.IsZero() {
				latency = time.Since(m.Time).Seconds()
			}
			p.metrics.RecordKafkaPublish(topic, headerValue(m, "eventType"), err, latency)
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Int("messages", len(msgs)).
				Msg("Failed to deliver to Kafka")
		}
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// PublishPartial publishes an updated partial segment to the partial topic.
func (p *Publisher) PublishPartial(ctx context.Context, seg *models.TranscriptSegment) error {
	ev := models.TranscriptPartial{
		EventType: EventTypePartial,
		SessionID: seg.SessionID,
		Timestamp: p.now().UnixMilli(),
		Segment:   *seg,
	}
	return p.publish(ctx, p.writerPartial, p.topicPartial, EventTypePartial, seg.SessionID, ev)
}

// PublishFinal publishes an appended final segment and its position in the final sequence.
func (p *Publisher) PublishFinal(ctx context.Context, seg *models.TranscriptSegment, sequence int) error {
	ev := models.TranscriptFinal{
		EventType: EventTypeFinal,
		SessionID: seg.SessionID,
		Timestamp: p.now().UnixMilli(),
		Sequence:  sequence,
		Segment:   *seg,
	}
	return p.publish(ctx, p.writerFinal, p.topicFinal, EventTypeFinal, seg.SessionID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  start,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	// Success is recorded by the writer's completion callback once the
	// batch is acknowledged.
	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to enqueue Kafka message")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}
	return nil
}

// Close flushes pending async batches and closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing partial writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}
