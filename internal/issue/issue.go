package issue

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

var ErrInvalidArgument = errors.New("invalid argument")

// Unassigned is the partition of issues reported without a device.
const Unassigned = "UNASSIGNED"

const (
	AttrException = "Exception"
	AttrMessage   = "Message"
)

type Issue struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp"`
	Exception  string    `json:"exception"`
	Message    string    `json:"message"`
}

type Config struct {
	Table storage.Table
	Now   func() time.Time
}

// Store appends device error reports to the issues table.
type Store struct {
	table storage.Table
	now   func() time.Time
}

func New(cfg Config) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{table: cfg.Table, now: now}
}

// Append records an issue. A nil device files it under Unassigned; a zero ts means now.
func (s *Store) Append(ctx context.Context, device *registry.Device, ts time.Time, exception, message string) (Issue, error) {
	const fn = "Issue:Append"
	if exception == "" && message == "" {
		return Issue{}, fmt.Errorf("%s:%w: exception or message is required", fn, ErrInvalidArgument)
	}
	if ts.IsZero() {
		ts = s.now()
	}
	ts = ts.UTC().Truncate(time.Second)
	id, err := uuid.NewV7()
	if err != nil {
		return Issue{}, fmt.Errorf("%s:%w", fn, err)
	}

	is := Issue{
		DeviceID:  Unassigned,
		EventID:   id.String(),
		Timestamp: ts,
		Exception: exception,
		Message:   message,
	}
	if device != nil {
		is.DeviceID = device.ID
		is.DeviceName = device.Name
	}
	item := storage.Item{
		storage.AttrDeviceID:   storage.DevicePK(is.DeviceID),
		storage.AttrRecordKey:  storage.IssueSK(ts, is.EventID),
		storage.AttrEventID:    is.EventID,
		storage.AttrDeviceName: is.DeviceName,
		storage.AttrTimestamp:  storage.FormatTimestamp(ts),
		AttrException:          exception,
		AttrMessage:            message,
	}
	if err := s.table.Put(ctx, item); err != nil {
		return Issue{}, fmt.Errorf("%s:%w", fn, err)
	}
	slog.WarnContext(ctx, "Device issue reported", "device_id", is.DeviceID, "exception", exception, "message", message)
	return is, nil
}

// List returns the issues of a device, newest first.
func (s *Store) List(ctx context.Context, deviceID string) ([]Issue, error) {
	const fn = "Issue:List"
	items, err := storage.QueryAll(ctx, s.table, storage.DevicePK(deviceID), true)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", fn, err)
	}
	issues := make([]Issue, 0, len(items))
	for _, item := range items {
		ts, _ := time.Parse(storage.TimestampLayout, storage.String(item, storage.AttrTimestamp))
		issues = append(issues, Issue{
			DeviceID:   storage.DeviceIDFromPK(storage.String(item, storage.AttrDeviceID)),
			DeviceName: storage.String(item, storage.AttrDeviceName),
			EventID:    storage.String(item, storage.AttrEventID),
			Timestamp:  ts,
			Exception:  storage.String(item, AttrException),
			Message:    storage.String(item, AttrMessage),
		})
	}
	return issues, nil
}
