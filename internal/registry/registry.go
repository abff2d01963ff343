package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"pat-backend/internal/storage"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("device not found")
	ErrAlreadyExists   = errors.New("device already exists")
)

// ReservedName is the placeholder name clients send when they have no device.
const ReservedName = "default_device"

const (
	AttrManufacturer = "DeviceManufacturer"
	AttrModel        = "DeviceModel"
)

const (
	idLength   = 8
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type DeviceType string

const (
	DoorSensor       DeviceType = "DoorSensor"
	AirQualitySensor DeviceType = "AirQualitySensor"
)

func (t DeviceType) Valid() bool {
	return t == DoorSensor || t == AirQualitySensor
}

type hardware struct {
	manufacturer string
	model        string
}

var defaultHardware = map[DeviceType]hardware{
	AirQualitySensor: {manufacturer: "Fuffly Slippers? Devices", model: "WALL-E Sensor"},
}

type Device struct {
	ID           string     `json:"device_id"`
	Name         string     `json:"device_name"`
	Type         DeviceType `json:"device_type"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
}

type Config struct {
	Table storage.Table
	// NewID overrides the device id generator.
	NewID func() string
}

type Registry struct {
	table storage.Table
	newID func() string
}

func New(cfg Config) *Registry {
	newID := cfg.NewID
	if newID == nil {
		newID = GenerateID
	}
	return &Registry{
		table: cfg.Table,
		newID: newID,
	}
}

// GenerateID returns a random uppercase alphanumeric id. Collisions are not checked.
func GenerateID() string {
	b := make([]byte, idLength)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}

// Register writes a new device row. The duplicate check is a scan followed by
// a put, so two concurrent registrations of one name can both succeed.
func (r *Registry) Register(ctx context.Context, name string, typ DeviceType) (Device, error) {
	const fn = "Registry:Register"
	if name == "" || name == ReservedName {
		return Device{}, fmt.Errorf("%s:%w: device name %q", fn, ErrInvalidArgument, name)
	}
	if !typ.Valid() {
		return Device{}, fmt.Errorf("%s:%w: device type %q", fn, ErrInvalidArgument, typ)
	}

	existing, err := storage.ScanAll(ctx, r.table, storage.Filter{
		storage.AttrEntityType: storage.EntityDevice,
		storage.AttrDeviceName: name,
		storage.AttrDeviceType: string(typ),
	})
	if err != nil {
		return Device{}, fmt.Errorf("%s:%w", fn, err)
	}
	if len(existing) > 0 {
		return Device{}, fmt.Errorf("%s:%w: %s", fn, ErrAlreadyExists, name)
	}

	hw := defaultHardware[typ]
	device := Device{
		ID:           r.newID(),
		Name:         name,
		Type:         typ,
		Manufacturer: hw.manufacturer,
		Model:        hw.model,
	}
	if err := r.table.Put(ctx, toItem(device)); err != nil {
		return Device{}, fmt.Errorf("%s:%w", fn, err)
	}
	slog.InfoContext(ctx, "Registered device", "device_id", device.ID, "device_name", name, "device_type", typ)
	return device, nil
}

// Lookup finds a device by name. Several rows sharing a name is a known
// anomaly: the lowest id wins and a warning is logged.
func (r *Registry) Lookup(ctx context.Context, name string) (Device, error) {
	const fn = "Registry:Lookup"
	items, err := storage.ScanAll(ctx, r.table, storage.Filter{
		storage.AttrEntityType: storage.EntityDevice,
		storage.AttrDeviceName: name,
	})
	if err != nil {
		return Device{}, fmt.Errorf("%s:%w", fn, err)
	}
	if len(items) == 0 {
		return Device{}, fmt.Errorf("%s:%w: %s", fn, ErrNotFound, name)
	}

	devices := make([]Device, 0, len(items))
	for _, item := range items {
		devices = append(devices, fromItem(item))
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	if len(devices) > 1 {
		ids := make([]string, 0, len(devices))
		for _, d := range devices {
			ids = append(ids, d.ID)
		}
		slog.WarnContext(ctx, "Multiple devices share a name, using the first", "device_name", name, "device_ids", ids)
	}
	return devices[0], nil
}

// ListByType returns the sorted, de-duplicated names of every device of typ.
func (r *Registry) ListByType(ctx context.Context, typ DeviceType) ([]string, error) {
	const fn = "Registry:ListByType"
	items, err := storage.ScanAll(ctx, r.table, storage.Filter{
		storage.AttrEntityType: storage.EntityDevice,
		storage.AttrDeviceType: string(typ),
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", fn, err)
	}
	seen := make(map[string]struct{}, len(items))
	names := make([]string, 0, len(items))
	for _, item := range items {
		name := storage.String(item, storage.AttrDeviceName)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes every registry row under deviceID and reports how many went.
func (r *Registry) Delete(ctx context.Context, deviceID string) (int, error) {
	const fn = "Registry:Delete"
	items, err := storage.QueryAll(ctx, r.table, storage.DevicePK(deviceID), false)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", fn, err)
	}
	deleted := 0
	for _, item := range items {
		key, err := r.table.Schema().KeyOf(item)
		if err != nil {
			return deleted, fmt.Errorf("%s:%w", fn, err)
		}
		ok, err := r.table.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("%s:%w", fn, err)
		}
		if ok {
			deleted++
		}
	}
	slog.InfoContext(ctx, "Deleted device rows", "device_id", deviceID, "count", deleted)
	return deleted, nil
}

func toItem(d Device) storage.Item {
	item := storage.Item{
		storage.AttrDeviceID:   storage.DevicePK(d.ID),
		storage.AttrDeviceName: d.Name,
		storage.AttrDeviceType: string(d.Type),
		storage.AttrEntityType: storage.EntityDevice,
	}
	if d.Manufacturer != "" {
		item[AttrManufacturer] = d.Manufacturer
	}
	if d.Model != "" {
		item[AttrModel] = d.Model
	}
	return item
}

func fromItem(item storage.Item) Device {
	return Device{
		ID:           storage.DeviceIDFromPK(storage.String(item, storage.AttrDeviceID)),
		Name:         storage.String(item, storage.AttrDeviceName),
		Type:         DeviceType(storage.String(item, storage.AttrDeviceType)),
		Manufacturer: storage.String(item, AttrManufacturer),
		Model:        storage.String(item, AttrModel),
	}
}
