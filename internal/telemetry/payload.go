package telemetry

import (
	"fmt"
	"math"

	"pat-backend/internal/storage"
)

const (
	AttrDoorStatus = "DoorStatus"
	AttrBattery    = "Battery"
	AttrPM25       = "PM25"
	AttrPM10       = "PM10"
)

type DoorStatus string

const (
	Open   DoorStatus = "OPEN"
	Closed DoorStatus = "CLOSED"
)

func ParseDoorStatus(s string) (DoorStatus, error) {
	switch DoorStatus(s) {
	case Open, Closed:
		return DoorStatus(s), nil
	}
	return "", fmt.Errorf("%w: door status must be OPEN or CLOSED, got %q", ErrInvalidPayload, s)
}

// Payload is the typed body of a record. Only DoorReading and AirSample implement it.
type Payload interface {
	Validate() error
	// Fields returns the payload as outbound JSON fields.
	Fields() map[string]any
	put(item storage.Item)
}

type DoorReading struct {
	Status  DoorStatus
	Battery float64
}

func (d DoorReading) Validate() error {
	if _, err := ParseDoorStatus(string(d.Status)); err != nil {
		return err
	}
	if !finite(d.Battery) {
		return fmt.Errorf("%w: battery must be a number", ErrInvalidPayload)
	}
	return nil
}

func (d DoorReading) Fields() map[string]any {
	return map[string]any{"door_status": string(d.Status), "battery": d.Battery}
}

func (d DoorReading) put(item storage.Item) {
	item[AttrDoorStatus] = string(d.Status)
	item[AttrBattery] = d.Battery
}

type AirSample struct {
	PM25 float64
	PM10 float64
}

func (a AirSample) Validate() error {
	if !finite(a.PM25) || !finite(a.PM10) {
		return fmt.Errorf("%w: pm25 and pm10 must be numbers", ErrInvalidPayload)
	}
	return nil
}

func (a AirSample) Fields() map[string]any {
	return map[string]any{"pm25": a.PM25, "pm10": a.PM10}
}

func (a AirSample) put(item storage.Item) {
	item[AttrPM25] = a.PM25
	item[AttrPM10] = a.PM10
}

func payloadFrom(item storage.Item) Payload {
	if status, ok := item[AttrDoorStatus].(string); ok {
		return DoorReading{Status: DoorStatus(status), Battery: storage.Float(item, AttrBattery)}
	}
	if _, ok := item[AttrPM25]; ok {
		return AirSample{PM25: storage.Float(item, AttrPM25), PM10: storage.Float(item, AttrPM10)}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
