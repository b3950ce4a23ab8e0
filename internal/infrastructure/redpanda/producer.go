// Package redpanda carries workflow events, audit entries and pickup
// notifications over Kafka-compatible brokers with franz-go.
package redpanda

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig holds configuration for the producer
type ProducerConfig struct {
	Brokers []string
	// LingerMS is the time to wait before sending a batch
	LingerMS int64
	// Compression is one of lz4, snappy, gzip, zstd or empty
	Compression string
	// RequiredAcks sets the ack level (-1 all, 1 leader)
	RequiredAcks int16
	// MaxRetries bounds per-record retries
	MaxRetries int
	// RetryBackoffMS grows linearly per attempt
	RetryBackoffMS int64
	// Idempotent enables the idempotent producer
	Idempotent bool
}

// DefaultProducerConfig favours durability over throughput
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:        []string{"localhost:9092"},
		LingerMS:       5,
		Compression:    "lz4",
		RequiredAcks:   -1,
		MaxRetries:     5,
		RetryBackoffMS: 100,
		Idempotent:     true,
	}
}

// Producer publishes records synchronously
type Producer struct {
	client *kgo.Client
	config ProducerConfig
	logger *zap.Logger
	tracer trace.Tracer

	mu           sync.RWMutex
	messagesSent int64
	bytesSent    int64
	errorCount   int64
}

// NewProducer creates a producer
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return time.Duration(cfg.RetryBackoffMS) * time.Millisecond * time.Duration(attempt+1)
		}),
	}

	switch cfg.RequiredAcks {
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
		if !cfg.Idempotent {
			opts = append(opts, kgo.DisableIdempotentWrite())
		}
	}

	switch cfg.Compression {
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
	}, nil
}

// Publish sends one record and waits for the broker ack
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.PublishBatch(ctx, []*Record{{Topic: topic, Key: key, Value: value}})
}

// Record is a message to produce
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// PublishBatch sends records and waits for all acks. Records sharing a key
// keep their relative order.
func (p *Producer) PublishBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "produce_batch",
		trace.WithAttributes(
			attribute.Int("batch_size", len(records)),
			attribute.String("topic", records[0].Topic),
		))
	defer span.End()

	kgoRecords := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		r := &kgo.Record{Topic: rec.Topic, Key: []byte(rec.Key), Value: rec.Value}
		for k, v := range rec.Headers {
			r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
		injectTraceHeaders(ctx, r)
		kgoRecords = append(kgoRecords, r)
	}

	results := p.client.ProduceSync(ctx, kgoRecords...)
	var bytes int
	for _, res := range results {
		if res.Err != nil {
			p.incrementErrorCount()
			span.RecordError(res.Err)
			p.logger.Error("failed to produce message",
				zap.String("topic", res.Record.Topic),
				zap.ByteString("key", res.Record.Key),
				zap.Error(res.Err))
			continue
		}
		bytes += len(res.Record.Value)
	}
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", records[0].Topic, err)
	}
	p.incrementMetrics(len(records), bytes)
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// ProducerStats holds producer statistics
type ProducerStats struct {
	MessagesSent int64 `json:"messages_sent"`
	BytesSent    int64 `json:"bytes_sent"`
	ErrorCount   int64 `json:"error_count"`
}

// Stats returns current producer statistics
func (p *Producer) Stats() ProducerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ProducerStats{MessagesSent: p.messagesSent, BytesSent: p.bytesSent, ErrorCount: p.errorCount}
}

func (p *Producer) incrementMetrics(n, bytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messagesSent += int64(n)
	p.bytesSent += int64(bytes)
}

func (p *Producer) incrementErrorCount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorCount++
}
