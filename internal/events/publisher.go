// Package events publishes pipeline events and consumes storage notifications.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"transcript-pipeline-service/internal/observability/metrics"
)

// Sink receives every published event in addition to Kafka.
type Sink interface {
	Broadcast(eventType string, payload []byte)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes pipeline events to separate Kafka topics for job
// lifecycle and transcript events.
type Publisher struct {
	writerJobs        messageWriter
	writerTranscripts messageWriter
	principal         string
	topicJobs         string
	topicTranscripts  string
	enabled           bool
	sinks             []Sink
	metrics           *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicJobs        string
	TopicTranscripts string
	Principal        string
	Enabled          bool
}

// New creates a new Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:        cfg.Principal,
			topicJobs:        cfg.TopicJobs,
			topicTranscripts: cfg.TopicTranscripts,
			enabled:          false,
			metrics:          m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicJobs", cfg.TopicJobs).
		Str("topicTranscripts", cfg.TopicTranscripts).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerJobs:        newWriter(cfg.Brokers, cfg.TopicJobs, transport),
		writerTranscripts: newWriter(cfg.Brokers, cfg.TopicTranscripts, transport),
		principal:         cfg.Principal,
		topicJobs:         cfg.TopicJobs,
		topicTranscripts:  cfg.TopicTranscripts,
		enabled:           true,
		metrics:           m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// AttachSink adds a sink that sees every event. Not safe to call
// concurrently with publishing.
func (p *Publisher) AttachSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// PublishJob publishes a job lifecycle event, keyed by job identifier.
func (p *Publisher) PublishJob(ctx context.Context, jobID, eventType string, event any) error {
	return p.publish(ctx, p.writerJobs, p.topicJobs, eventType, jobID, event)
}

// PublishTranscript publishes a transcript event, keyed by job identifier.
func (p *Publisher) PublishTranscript(ctx context.Context, jobID, eventType string, event any) error {
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, eventType, jobID, event)
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
		Str("eventType", eventType).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	for _, s := range p.sinks {
		s.Broadcast(eventType, payload)
	}

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerJobs != nil {
		if e := p.writerJobs.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing jobs writer")
			err = e
		}
	}
	if p.writerTranscripts != nil {
		if e := p.writerTranscripts.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcripts writer")
			err = e
		}
	}
	return err
}
