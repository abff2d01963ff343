package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	k "pat-backend/internal/kafka"
	"pat-backend/internal/metrics"
	"pat-backend/internal/storage"
	"pat-backend/internal/telemetry"
	"pat-backend/internal/worker"

	"github.com/segmentio/kafka-go"
)

var (
	ErrEncodeMessage = errors.New("error encoding message")
	ErrWriteMessage  = errors.New("error writing message")
)

const defaultQueueSize = 1024

type Config struct {
	Brokers   string
	Topic     string
	QueueSize int
}

// Publisher writes every stored record to the telemetry topic, keyed by
// device id. Publishing is best effort and never blocks ingestion.
type Publisher struct {
	writer  k.Writer
	pending chan telemetry.Record
	pool    *worker.Pool

	mu     sync.RWMutex
	closed bool
}

func New(cfg Config) *Publisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	})
	return newPublisher(writer, cfg.QueueSize)
}

func newPublisher(writer k.Writer, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	p := &Publisher{
		writer:  writer,
		pending: make(chan telemetry.Record, queueSize),
	}
	// A single writer keeps per-device order on the topic.
	p.pool = worker.NewPool("stream-publisher", 1, p)
	return p
}

func (p *Publisher) Start(ctx context.Context) {
	p.pool.Start(context.WithoutCancel(ctx))
}

// Close flushes queued records and closes the writer.
func (p *Publisher) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.pending)
	p.mu.Unlock()

	p.pool.Wait()
	slog.InfoContext(ctx, "Closing stream publisher resources...")
	if err := p.writer.Close(); err != nil {
		slog.ErrorContext(ctx, "Error closing stream writer", "error", err)
	}
}

func (p *Publisher) Publish(ctx context.Context, rec telemetry.Record) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.StreamPublishedTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	}
	select {
	case p.pending <- rec:
	default:
		slog.WarnContext(ctx, "Stream queue full, dropping record", "device_id", rec.DeviceID, "event_id", rec.EventID)
		metrics.StreamPublishedTotal.WithLabelValues(metrics.ResultSkipped).Inc()
	}
}

func (p *Publisher) ProcessMessage(ctx context.Context) error {
	rec, ok := <-p.pending
	if !ok {
		return worker.ErrStop
	}
	if err := p.write(ctx, rec); err != nil {
		metrics.StreamPublishedTotal.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	metrics.StreamPublishedTotal.WithLabelValues(metrics.ResultOK).Inc()
	slog.DebugContext(ctx, "Published telemetry event", "device_id", rec.DeviceID, "event_id", rec.EventID)
	return nil
}

func (p *Publisher) write(ctx context.Context, rec telemetry.Record) error {
	const fn = "Stream:write"
	out, err := json.Marshal(Encode(rec))
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrEncodeMessage, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rec.DeviceID), Value: out})
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrWriteMessage, err)
	}
	return nil
}

// Encode wraps rec in the self-describing record format of the telemetry topic.
func Encode(rec telemetry.Record) k.StructuredRecord {
	ev := k.TelemetryEvent{
		EventID:    rec.EventID,
		DeviceID:   rec.DeviceID,
		DeviceName: rec.DeviceName,
		DeviceType: string(rec.DeviceType),
		Timestamp:  storage.FormatTimestamp(rec.Timestamp),
	}
	switch p := rec.Payload.(type) {
	case telemetry.DoorReading:
		status := string(p.Status)
		ev.DoorStatus = &status
		ev.Battery = &p.Battery
	case telemetry.AirSample:
		ev.PM25 = &p.PM25
		ev.PM10 = &p.PM10
	}
	return k.StructuredRecord{Schema: k.TelemetrySchema, Payload: ev}
}
