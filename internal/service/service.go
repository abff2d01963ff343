package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pat-backend/internal/classify"
	"pat-backend/internal/issue"
	"pat-backend/internal/maintenance"
	"pat-backend/internal/metrics"
	"pat-backend/internal/registry"
	"pat-backend/internal/storage"
	"pat-backend/internal/telemetry"
	"pat-backend/internal/webhook"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoData          = errors.New("no data for device")
)

// Ingestion sources, used as a metrics label.
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
	SourceMQTT  = "mqtt"
)

type Notifier interface {
	Notify(ctx context.Context, rec telemetry.Record)
	// Forget and Reset drop per-device notification state after deletions.
	Forget(ctx context.Context, deviceID string)
	Reset(ctx context.Context)
}

type Publisher interface {
	Publish(ctx context.Context, rec telemetry.Record)
}

type Tables struct {
	Devices storage.Table
	Data    storage.Table
	Issues  storage.Table
}

type Config struct {
	Tables Tables
	// Now drives record timestamps and staleness; defaults to time.Now.
	Now func() time.Time
	// Notifier and Publisher are optional.
	Notifier  Notifier
	Publisher Publisher
	// NewDeviceID overrides the registry id generator.
	NewDeviceID func() string
}

// Service orchestrates ingestion and queries for every ingress.
type Service struct {
	tables        Tables
	devices       *registry.Registry
	telemetry     *telemetry.Store
	issues        *issue.Store
	subscriptions *webhook.Subscriptions
	staleness     *classify.Staleness
	notifier      Notifier
	publisher     Publisher
}

func New(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	devices := registry.New(registry.Config{Table: cfg.Tables.Devices, NewID: cfg.NewDeviceID})
	return &Service{
		tables:    cfg.Tables,
		devices:   devices,
		telemetry: telemetry.New(telemetry.Config{Table: cfg.Tables.Data, Now: now}),
		issues:    issue.New(issue.Config{Table: cfg.Tables.Issues, Now: now}),
		subscriptions: webhook.NewSubscriptions(webhook.SubscriptionsConfig{
			Table:   cfg.Tables.Devices,
			Devices: devices,
			Now:     now,
		}),
		staleness: classify.NewStaleness(classify.Clock(now)),
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
	}
}

// Subscriptions exposes the webhook registry for the notifier.
func (s *Service) Subscriptions() *webhook.Subscriptions {
	return s.subscriptions
}

func checkName(fn, name string) error {
	if name == "" || name == registry.ReservedName {
		return fmt.Errorf("%s:%w: device_name cannot be %q", fn, ErrInvalidArgument, name)
	}
	return nil
}

func (s *Service) RegisterDevice(ctx context.Context, name string, typ registry.DeviceType) (registry.Device, error) {
	return s.devices.Register(ctx, name, typ)
}

func (s *Service) GetDevice(ctx context.Context, name string) (registry.Device, error) {
	const fn = "Service:GetDevice"
	if err := checkName(fn, name); err != nil {
		return registry.Device{}, err
	}
	return s.devices.Lookup(ctx, name)
}

func (s *Service) ListDevices(ctx context.Context, typ registry.DeviceType) ([]string, error) {
	return s.devices.ListByType(ctx, typ)
}

type DeleteResult struct {
	DeviceID       string `json:"device_id"`
	DevicesDeleted int    `json:"devices_deleted"`
	RecordsDeleted int    `json:"records_deleted"`
}

// DeleteDevice removes the registry rows of a device and then its telemetry.
func (s *Service) DeleteDevice(ctx context.Context, name string) (DeleteResult, error) {
	const fn = "Service:DeleteDevice"
	device, err := s.GetDevice(ctx, name)
	if err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{DeviceID: device.ID}
	res.DevicesDeleted, err = s.devices.Delete(ctx, device.ID)
	if err != nil {
		return res, fmt.Errorf("%s:%w", fn, err)
	}
	if s.notifier != nil {
		s.notifier.Forget(ctx, device.ID)
	}
	res.RecordsDeleted, err = s.telemetry.DeleteAllFor(ctx, device.ID)
	if err != nil {
		return res, fmt.Errorf("%s:%w", fn, err)
	}
	return res, nil
}

// ingestTarget resolves name to a device of the expected type.
func (s *Service) ingestTarget(ctx context.Context, fn, name string, want registry.DeviceType) (registry.Device, error) {
	if err := checkName(fn, name); err != nil {
		return registry.Device{}, err
	}
	device, err := s.devices.Lookup(ctx, name)
	if err != nil {
		return registry.Device{}, err
	}
	if device.Type != want {
		return registry.Device{}, fmt.Errorf("%s:%w: %s is a %s, not a %s", fn, ErrInvalidArgument, name, device.Type, want)
	}
	return device, nil
}

// parseTimestamp returns the zero time for an empty string so the store substitutes now.
func parseTimestamp(fn, ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, nil
	}
	parsed, err := classify.ParseTimestamp(ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s:%w:%w", fn, ErrInvalidArgument, err)
	}
	return parsed, nil
}

type DoorInput struct {
	DeviceName string
	Timestamp  string
	DoorStatus string
	Battery    float64
	Source     string
}

// AddDoorReading stores a door reading, then publishes and notifies without waiting.
func (s *Service) AddDoorReading(ctx context.Context, in DoorInput) (telemetry.Record, error) {
	const fn = "Service:AddDoorReading"
	rec, err := s.addDoorReading(ctx, fn, in)
	countIngest("door", in.Source, err)
	return rec, err
}

func (s *Service) addDoorReading(ctx context.Context, fn string, in DoorInput) (telemetry.Record, error) {
	status, err := telemetry.ParseDoorStatus(in.DoorStatus)
	if err != nil {
		return telemetry.Record{}, fmt.Errorf("%s:%w:%w", fn, ErrInvalidArgument, err)
	}
	ts, err := parseTimestamp(fn, in.Timestamp)
	if err != nil {
		return telemetry.Record{}, err
	}
	device, err := s.ingestTarget(ctx, fn, in.DeviceName, registry.DoorSensor)
	if err != nil {
		return telemetry.Record{}, err
	}
	rec, err := s.telemetry.Append(ctx, device, telemetry.DoorReading{Status: status, Battery: in.Battery}, ts)
	if err != nil {
		return telemetry.Record{}, wrapPayload(fn, err)
	}
	slog.InfoContext(ctx, "Door reading added", "device_name", device.Name, "event_id", rec.EventID, "door_status", status)
	s.fanOut(ctx, rec, true)
	return rec, nil
}

type AirInput struct {
	DeviceName string
	Timestamp  string
	PM25       float64
	PM10       float64
	Source     string
}

func (s *Service) AddAirSample(ctx context.Context, in AirInput) (telemetry.Record, error) {
	const fn = "Service:AddAirSample"
	rec, err := s.addAirSample(ctx, fn, in)
	countIngest("air", in.Source, err)
	return rec, err
}

func (s *Service) addAirSample(ctx context.Context, fn string, in AirInput) (telemetry.Record, error) {
	ts, err := parseTimestamp(fn, in.Timestamp)
	if err != nil {
		return telemetry.Record{}, err
	}
	device, err := s.ingestTarget(ctx, fn, in.DeviceName, registry.AirQualitySensor)
	if err != nil {
		return telemetry.Record{}, err
	}
	rec, err := s.telemetry.Append(ctx, device, telemetry.AirSample{PM25: in.PM25, PM10: in.PM10}, ts)
	if err != nil {
		return telemetry.Record{}, wrapPayload(fn, err)
	}
	slog.InfoContext(ctx, "Air sample added", "device_name", device.Name, "event_id", rec.EventID)
	s.fanOut(ctx, rec, false)
	return rec, nil
}

func wrapPayload(fn string, err error) error {
	if errors.Is(err, telemetry.ErrInvalidPayload) {
		return fmt.Errorf("%s:%w:%w", fn, ErrInvalidArgument, err)
	}
	return fmt.Errorf("%s:%w", fn, err)
}

func (s *Service) fanOut(ctx context.Context, rec telemetry.Record, notify bool) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, rec)
	}
	if notify && s.notifier != nil {
		s.notifier.Notify(ctx, rec)
	}
}

func countIngest(kind, source string, err error) {
	if source == "" {
		source = SourceHTTP
	}
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(kind, source, result).Inc()
}

type IssueInput struct {
	DeviceName string
	Timestamp  string
	Exception  string
	Message    string
}

// AddIssue files a device error report. Without a device name it is stored unassigned.
func (s *Service) AddIssue(ctx context.Context, in IssueInput) (issue.Issue, error) {
	const fn = "Service:AddIssue"
	ts, err := parseTimestamp(fn, in.Timestamp)
	if err != nil {
		return issue.Issue{}, err
	}
	var device *registry.Device
	if in.DeviceName != "" && in.DeviceName != registry.ReservedName {
		d, err := s.devices.Lookup(ctx, in.DeviceName)
		if err != nil {
			return issue.Issue{}, err
		}
		device = &d
	}
	is, err := s.issues.Append(ctx, device, ts, in.Exception, in.Message)
	if errors.Is(err, issue.ErrInvalidArgument) {
		return issue.Issue{}, fmt.Errorf("%s:%w:%w", fn, ErrInvalidArgument, err)
	}
	return is, err
}

func (s *Service) RegisterWebhook(ctx context.Context, url, deviceName string) (webhook.Webhook, error) {
	return s.subscriptions.Register(ctx, url, deviceName)
}

func (s *Service) DisableWebhook(ctx context.Context, webhookID string) (webhook.Webhook, error) {
	return s.subscriptions.Disable(ctx, webhookID)
}

type Dump struct {
	Devices []storage.Item `json:"devices"`
	Data    []storage.Item `json:"data"`
	Issues  []storage.Item `json:"issues"`
}

func (s *Service) DumpDatabase(ctx context.Context) (Dump, error) {
	var (
		d   Dump
		err error
	)
	if d.Devices, err = maintenance.ScanAll(ctx, s.tables.Devices); err != nil {
		return Dump{}, err
	}
	if d.Data, err = maintenance.ScanAll(ctx, s.tables.Data); err != nil {
		return Dump{}, err
	}
	if d.Issues, err = maintenance.ScanAll(ctx, s.tables.Issues); err != nil {
		return Dump{}, err
	}
	return d, nil
}

// DeleteAllData clears every table and reports the rows removed per table name.
func (s *Service) DeleteAllData(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, 3)
	for _, table := range []storage.Table{s.tables.Data, s.tables.Issues, s.tables.Devices} {
		n, err := maintenance.DeleteAll(ctx, table)
		counts[table.Name()] = n
		if err != nil {
			return counts, err
		}
	}
	if s.notifier != nil {
		s.notifier.Reset(ctx)
	}
	return counts, nil
}
