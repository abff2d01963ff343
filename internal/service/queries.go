package service

import (
	"context"
	"fmt"
	"log/slog"

	"pat-backend/internal/classify"
	"pat-backend/internal/registry"
	"pat-backend/internal/storage"
	"pat-backend/internal/telemetry"
)

// DoorState is one door reading as served to clients. Pointer fields are null
// on placeholder rows.
type DoorState struct {
	DeviceID   string   `json:"device_id"`
	DeviceName string   `json:"device_name"`
	EventID    *string  `json:"event_id"`
	Timestamp  *string  `json:"timestamp"`
	DoorStatus *string  `json:"door_status"`
	Battery    *float64 `json:"battery"`
}

type Reading struct {
	Value    float64 `json:"value"`
	Category string  `json:"category"`
	Message  string  `json:"message"`
	Code     int     `json:"code"`
}

// AirReport is an air sample with both pollutants classified.
type AirReport struct {
	DeviceID   string  `json:"device_id"`
	DeviceName string  `json:"device_name"`
	EventID    string  `json:"event_id"`
	Timestamp  string  `json:"timestamp"`
	PM25       Reading `json:"pm25"`
	PM10       Reading `json:"pm10"`
	Stale      bool    `json:"is_stale"`
	AgeSeconds int64   `json:"age_seconds"`
}

func doorState(rec telemetry.Record) (DoorState, error) {
	door, ok := rec.Payload.(telemetry.DoorReading)
	if !ok {
		return DoorState{}, fmt.Errorf("%w: record %s is not a door reading", ErrInvalidArgument, rec.EventID)
	}
	ts := storage.FormatTimestamp(rec.Timestamp)
	status := string(door.Status)
	battery := door.Battery
	return DoorState{
		DeviceID:   rec.DeviceID,
		DeviceName: rec.DeviceName,
		EventID:    &rec.EventID,
		Timestamp:  &ts,
		DoorStatus: &status,
		Battery:    &battery,
	}, nil
}

func reading(p classify.Pollutant, v float64) Reading {
	b := classify.Lookup(p, v)
	return Reading{Value: v, Category: b.Category, Message: b.Message, Code: b.Code}
}

func (s *Service) airReport(rec telemetry.Record) (AirReport, error) {
	air, ok := rec.Payload.(telemetry.AirSample)
	if !ok {
		return AirReport{}, fmt.Errorf("%w: record %s is not an air sample", ErrInvalidArgument, rec.EventID)
	}
	ts := storage.FormatTimestamp(rec.Timestamp)
	stale, age, err := s.staleness.Check(ts)
	if err != nil {
		return AirReport{}, err
	}
	return AirReport{
		DeviceID:   rec.DeviceID,
		DeviceName: rec.DeviceName,
		EventID:    rec.EventID,
		Timestamp:  ts,
		PM25:       reading(classify.PM25, air.PM25),
		PM10:       reading(classify.PM10, air.PM10),
		Stale:      stale,
		AgeSeconds: age,
	}, nil
}

// latest resolves name and returns its newest record, or ErrNoData.
func (s *Service) latest(ctx context.Context, fn, name string) (telemetry.Record, error) {
	device, err := s.GetDevice(ctx, name)
	if err != nil {
		return telemetry.Record{}, err
	}
	rec, err := s.telemetry.Latest(ctx, device.ID)
	if err != nil {
		return telemetry.Record{}, fmt.Errorf("%s:%w", fn, err)
	}
	if rec == nil {
		return telemetry.Record{}, fmt.Errorf("%s:%w: %s", fn, ErrNoData, name)
	}
	return *rec, nil
}

func (s *Service) history(ctx context.Context, fn, name string) ([]telemetry.Record, error) {
	device, err := s.GetDevice(ctx, name)
	if err != nil {
		return nil, err
	}
	records, err := s.telemetry.All(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", fn, err)
	}
	return records, nil
}

func (s *Service) LatestDoor(ctx context.Context, name string) (DoorState, error) {
	const fn = "Service:LatestDoor"
	rec, err := s.latest(ctx, fn, name)
	if err != nil {
		return DoorState{}, err
	}
	st, err := doorState(rec)
	if err != nil {
		return DoorState{}, fmt.Errorf("%s:%w", fn, err)
	}
	return st, nil
}

// DoorHistory returns every reading of a door, newest first.
func (s *Service) DoorHistory(ctx context.Context, name string) ([]DoorState, error) {
	const fn = "Service:DoorHistory"
	records, err := s.history(ctx, fn, name)
	if err != nil {
		return nil, err
	}
	states := make([]DoorState, 0, len(records))
	for _, rec := range records {
		st, err := doorState(rec)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", fn, err)
		}
		states = append(states, st)
	}
	return states, nil
}

// AllDoorsCurrentState returns one row per registered door. A door without
// data, or whose read fails, gets a placeholder row with null fields.
func (s *Service) AllDoorsCurrentState(ctx context.Context) ([]DoorState, error) {
	const fn = "Service:AllDoorsCurrentState"
	names, err := s.devices.ListByType(ctx, registry.DoorSensor)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", fn, err)
	}
	states := make([]DoorState, 0, len(names))
	for _, name := range names {
		placeholder := DoorState{DeviceName: name}
		device, err := s.devices.Lookup(ctx, name)
		if err != nil {
			slog.WarnContext(ctx, "Door lookup failed", "device_name", name, "error", err)
			states = append(states, placeholder)
			continue
		}
		placeholder.DeviceID = device.ID
		rec, err := s.telemetry.Latest(ctx, device.ID)
		if err != nil {
			slog.WarnContext(ctx, "Door state read failed", "device_name", name, "error", err)
			states = append(states, placeholder)
			continue
		}
		if rec == nil {
			states = append(states, placeholder)
			continue
		}
		st, err := doorState(*rec)
		if err != nil {
			slog.WarnContext(ctx, "Door state read failed", "device_name", name, "error", err)
			states = append(states, placeholder)
			continue
		}
		states = append(states, st)
	}
	return states, nil
}

func (s *Service) LatestAir(ctx context.Context, name string) (AirReport, error) {
	const fn = "Service:LatestAir"
	rec, err := s.latest(ctx, fn, name)
	if err != nil {
		return AirReport{}, err
	}
	report, err := s.airReport(rec)
	if err != nil {
		return AirReport{}, fmt.Errorf("%s:%w", fn, err)
	}
	return report, nil
}

func (s *Service) AirHistory(ctx context.Context, name string) ([]AirReport, error) {
	const fn = "Service:AirHistory"
	records, err := s.history(ctx, fn, name)
	if err != nil {
		return nil, err
	}
	reports := make([]AirReport, 0, len(records))
	for _, rec := range records {
		report, err := s.airReport(rec)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", fn, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
