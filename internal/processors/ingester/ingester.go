package ingester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	k "pat-backend/internal/kafka"
	"pat-backend/internal/service"
	"pat-backend/internal/telemetry"
	"pat-backend/internal/worker"

	"github.com/segmentio/kafka-go"
)

var (
	ErrReadMessage    = errors.New("error reading message")
	ErrParseMessage   = errors.New("error parsing message")
	ErrInvalidReading = errors.New("invalid reading")
	ErrIngest         = errors.New("error ingesting reading")
)

// Recorder is the part of the service the ingress paths write through.
type Recorder interface {
	AddDoorReading(ctx context.Context, in service.DoorInput) (telemetry.Record, error)
	AddAirSample(ctx context.Context, in service.AirInput) (telemetry.Record, error)
}

type Config struct {
	Brokers         string
	ConsumerGroupID string
	ConsumerTopic   string
	Service         Recorder
}

// Ingester consumes raw sensor readings from Kafka and stores them.
type Ingester struct {
	worker *worker.Worker
	reader k.Reader
	svc    Recorder
}

func New(cfg Config) *Ingester {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{cfg.Brokers},
		GroupID: cfg.ConsumerGroupID,
		Topic:   cfg.ConsumerTopic,
	})
	return newIngester(reader, cfg.Service)
}

func newIngester(reader k.Reader, svc Recorder) *Ingester {
	ingester := &Ingester{
		reader: reader,
		svc:    svc,
	}
	ingester.worker = worker.New(worker.Config{
		Name:      "ingester-worker",
		Processor: ingester,
	})
	return ingester
}

func (i *Ingester) Run(ctx context.Context) {
	i.worker.Run(ctx)
}

func (i *Ingester) Close(ctx context.Context) {
	slog.InfoContext(ctx, "Closing ingester resources...")
	if err := i.reader.Close(); err != nil {
		slog.ErrorContext(ctx, "Error closing ingester reader", "error", err)
	}
}

// Auto-commit active. A reading that fails validation is logged and skipped.
func (i *Ingester) ProcessMessage(ctx context.Context) error {
	const fn = "Ingester:ProcessMessage"
	m, err := i.reader.ReadMessage(ctx)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrReadMessage, err)
	}
	var reading k.SensorReading
	if err := json.Unmarshal(m.Value, &reading); err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrParseMessage, err)
	}
	if reading.DeviceName == "" {
		reading.DeviceName = string(m.Key)
	}
	rec, err := Apply(ctx, i.svc, reading, service.SourceKafka)
	if err != nil {
		return fmt.Errorf("%s:%w", fn, err)
	}
	slog.InfoContext(ctx, "Ingested reading", "device_name", reading.DeviceName, "kind", reading.Kind, "event_id", rec.EventID)
	return nil
}

// Apply validates a raw reading and hands it to svc.
func Apply(ctx context.Context, svc Recorder, reading k.SensorReading, source string) (telemetry.Record, error) {
	switch reading.Kind {
	case k.KindDoor:
		if reading.DoorStatus == "" || reading.Battery == nil {
			return telemetry.Record{}, fmt.Errorf("%w: door reading needs door_status and battery", ErrInvalidReading)
		}
		rec, err := svc.AddDoorReading(ctx, service.DoorInput{
			DeviceName: reading.DeviceName,
			Timestamp:  reading.Timestamp,
			DoorStatus: reading.DoorStatus,
			Battery:    *reading.Battery,
			Source:     source,
		})
		if err != nil {
			return telemetry.Record{}, fmt.Errorf("%w:%w", ErrIngest, err)
		}
		return rec, nil
	case k.KindAir:
		if reading.PM25 == nil || reading.PM10 == nil {
			return telemetry.Record{}, fmt.Errorf("%w: air sample needs pm25 and pm10", ErrInvalidReading)
		}
		rec, err := svc.AddAirSample(ctx, service.AirInput{
			DeviceName: reading.DeviceName,
			Timestamp:  reading.Timestamp,
			PM25:       *reading.PM25,
			PM10:       *reading.PM10,
			Source:     source,
		})
		if err != nil {
			return telemetry.Record{}, fmt.Errorf("%w:%w", ErrIngest, err)
		}
		return rec, nil
	}
	return telemetry.Record{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidReading, reading.Kind)
}
