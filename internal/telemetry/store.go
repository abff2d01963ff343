package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pat-backend/internal/registry"
	"pat-backend/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrKeyMismatch    = errors.New("delete key matched no stored row")
)

type Record struct {
	DeviceID   string              `json:"device_id"`
	DeviceName string              `json:"device_name"`
	DeviceType registry.DeviceType `json:"device_type"`
	EventID    string              `json:"event_id"`
	Timestamp  time.Time           `json:"timestamp"`
	Payload    Payload             `json:"-"`
	sortKey    string
}

// SortKey is the key the record was written under.
func (r Record) SortKey() string {
	return r.sortKey
}

type Config struct {
	Table storage.Table
	// Now and NewEventID are overridable for tests.
	Now        func() time.Time
	NewEventID func() (string, error)
}

type Store struct {
	table      storage.Table
	now        func() time.Time
	newEventID func() (string, error)
}

func New(cfg Config) *Store {
	s := &Store{
		table:      cfg.Table,
		now:        cfg.Now,
		newEventID: cfg.NewEventID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newEventID == nil {
		s.newEventID = newUUIDv7
	}
	return s
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Append writes one record. A zero ts means now. Identical timestamps never
// collide because every record gets its own event id.
func (s *Store) Append(ctx context.Context, device registry.Device, payload Payload, ts time.Time) (Record, error) {
	const fn = "Telemetry:Append"
	if payload == nil {
		return Record{}, fmt.Errorf("%s:%w: missing payload", fn, ErrInvalidPayload)
	}
	if err := payload.Validate(); err != nil {
		return Record{}, fmt.Errorf("%s:%w", fn, err)
	}
	if ts.IsZero() {
		ts = s.now()
	}
	ts = ts.UTC().Truncate(time.Second)

	eventID, err := s.newEventID()
	if err != nil {
		return Record{}, fmt.Errorf("%s:%w", fn, err)
	}
	rec := Record{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		DeviceType: device.Type,
		EventID:    eventID,
		Timestamp:  ts,
		Payload:    payload,
		sortKey:    storage.RecordSK(ts, eventID),
	}
	if err := s.table.Put(ctx, toItem(rec)); err != nil {
		return Record{}, fmt.Errorf("%s:%w", fn, err)
	}
	slog.DebugContext(ctx, "Appended record", "device_id", device.ID, "event_id", eventID)
	return rec, nil
}

// Latest reads the newest record of one partition, or nil when it is empty.
func (s *Store) Latest(ctx context.Context, deviceID string) (*Record, error) {
	const fn = "Telemetry:Latest"
	page, err := s.table.Query(ctx, storage.QueryInput{
		PK:         storage.DevicePK(deviceID),
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", fn, err)
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	rec, err := fromItem(page.Items[0])
	if err != nil {
		return nil, fmt.Errorf("%s:%w", fn, err)
	}
	return &rec, nil
}

// All returns every record of a device, newest first.
func (s *Store) All(ctx context.Context, deviceID string) ([]Record, error) {
	const fn = "Telemetry:All"
	items, err := storage.QueryAll(ctx, s.table, storage.DevicePK(deviceID), true)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", fn, err)
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		rec, err := fromItem(item)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", fn, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteAllFor removes every record of a device. Each row is deleted under
// the exact key read back from it; a delete that removes nothing is an error.
func (s *Store) DeleteAllFor(ctx context.Context, deviceID string) (int, error) {
	const fn = "Telemetry:DeleteAllFor"
	pk := storage.DevicePK(deviceID)
	items, err := storage.ScanAll(ctx, s.table, storage.Filter{storage.AttrDeviceID: pk})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", fn, err)
	}

	deleted := 0
	for _, item := range items {
		key, err := s.table.Schema().KeyOf(item)
		if err != nil {
			return deleted, fmt.Errorf("%s:%w", fn, err)
		}
		if key.PK != pk {
			return deleted, fmt.Errorf("%s:%w: %s/%s", fn, ErrKeyMismatch, key.PK, key.SK)
		}
		ok, err := s.table.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("%s:%w", fn, err)
		}
		if !ok {
			return deleted, fmt.Errorf("%s:%w: %s/%s", fn, ErrKeyMismatch, key.PK, key.SK)
		}
		deleted++
	}
	slog.InfoContext(ctx, "Deleted device records", "device_id", deviceID, "count", deleted)
	return deleted, nil
}

func toItem(rec Record) storage.Item {
	item := storage.Item{
		storage.AttrDeviceID:   storage.DevicePK(rec.DeviceID),
		storage.AttrRecordKey:  rec.sortKey,
		storage.AttrEventID:    rec.EventID,
		storage.AttrDeviceName: rec.DeviceName,
		storage.AttrDeviceType: string(rec.DeviceType),
		storage.AttrTimestamp:  storage.FormatTimestamp(rec.Timestamp),
	}
	rec.Payload.put(item)
	return item
}

func fromItem(item storage.Item) (Record, error) {
	ts, err := time.Parse(storage.TimestampLayout, storage.String(item, storage.AttrTimestamp))
	if err != nil {
		return Record{}, fmt.Errorf("%w: timestamp: %w", ErrInvalidPayload, err)
	}
	payload := payloadFrom(item)
	if payload == nil {
		return Record{}, fmt.Errorf("%w: row %s has no payload", ErrInvalidPayload, storage.String(item, storage.AttrRecordKey))
	}
	return Record{
		DeviceID:   storage.DeviceIDFromPK(storage.String(item, storage.AttrDeviceID)),
		DeviceName: storage.String(item, storage.AttrDeviceName),
		DeviceType: registry.DeviceType(storage.String(item, storage.AttrDeviceType)),
		EventID:    storage.String(item, storage.AttrEventID),
		Timestamp:  ts.UTC(),
		Payload:    payload,
		sortKey:    storage.String(item, storage.AttrRecordKey),
	}, nil
}
