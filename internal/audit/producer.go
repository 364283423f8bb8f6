// Package audit appends accepted alerts to a Kafka topic as an append-only
// ingestion log, usable for replay after a store rebuild.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/hyperstream/internal/alert"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("audit producer is closed")

// Producer writes one JSON record per persisted alert, keyed by sensor so a
// sensor's records stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
	closed atomic.Bool
}

// NewProducer creates a Kafka-backed audit producer.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // partition by sensor
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}

	return &Producer{writer: writer}, nil
}

// Record appends the alert to the log.
func (p *Producer) Record(ctx context.Context, a *alert.Alert) error {
	if p.closed.Load() {
		return ErrClosed
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("audit: marshal alert: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.SensorID),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("audit: write message: %w", err)
	}
	return nil
}

// Close flushes and shuts down the writer. Safe to call more than once.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
