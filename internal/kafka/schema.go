package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

const (
	KindDoor = "door"
	KindAir  = "air"
)

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Lag() int64
	Close() error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SensorReading is a raw reading as published by sensors on the ingest topic.
// Timestamp is optional; an empty value means the time of ingestion.
type SensorReading struct {
	Kind       string   `json:"kind"`
	DeviceName string   `json:"device_name"`
	Timestamp  string   `json:"timestamp,omitempty"`
	DoorStatus string   `json:"door_status,omitempty"`
	Battery    *float64 `json:"battery,omitempty"`
	PM25       *float64 `json:"pm25,omitempty"`
	PM10       *float64 `json:"pm10,omitempty"`
}

// TelemetryEvent is one stored record as published on the telemetry topic.
type TelemetryEvent struct {
	EventID    string   `json:"event_id"`
	DeviceID   string   `json:"device_id"`
	DeviceName string   `json:"device_name"`
	DeviceType string   `json:"device_type"`
	Timestamp  string   `json:"timestamp"`
	DoorStatus *string  `json:"door_status"`
	Battery    *float64 `json:"battery"`
	PM25       *float64 `json:"pm25"`
	PM10       *float64 `json:"pm10"`
}

// StructuredRecord carries its schema so a Kafka Connect sink can write it as is.
type StructuredRecord struct {
	Schema  Schema         `json:"schema"`
	Payload TelemetryEvent `json:"payload"`
}

type Schema struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Fields   []Field `json:"fields"`
	Optional bool    `json:"optional"`
}

type Field struct {
	Field    string `json:"field"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

var TelemetrySchema = Schema{
	Type:     "struct",
	Name:     "TelemetryRecord",
	Optional: false,
	Fields: []Field{
		{Field: "event_id", Type: "string"},
		{Field: "device_id", Type: "string"},
		{Field: "device_name", Type: "string"},
		{Field: "device_type", Type: "string"},
		{Field: "timestamp", Type: "string"},
		{Field: "door_status", Type: "string", Optional: true},
		{Field: "battery", Type: "double", Optional: true},
		{Field: "pm25", Type: "double", Optional: true},
		{Field: "pm10", Type: "double", Optional: true},
	},
}
