package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"pat-backend/internal/classify"
	"pat-backend/internal/registry"
	"pat-backend/internal/storage"
	"pat-backend/internal/telemetry"
	"pat-backend/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 19, 12, 30, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	records   []telemetry.Record
	forgotten []string
	resets    int
}

func (r *recorder) Notify(_ context.Context, rec telemetry.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) Forget(_ context.Context, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, deviceID)
}

func (r *recorder) Reset(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func (r *recorder) Publish(ctx context.Context, rec telemetry.Record) {
	r.Notify(ctx, rec)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fixture struct {
	svc       *Service
	tables    Tables
	notified  *recorder
	published *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		tables: Tables{
			Devices: storage.NewMemory("PATDevices", storage.DeviceSchema),
			Data:    storage.NewMemory("PATData", storage.DataSchema),
			Issues:  storage.NewMemory("PATIssues", storage.DataSchema),
		},
		notified:  &recorder{},
		published: &recorder{},
	}
	f.svc = New(Config{
		Tables:    f.tables,
		Now:       func() time.Time { return fixedNow },
		Notifier:  f.notified,
		Publisher: f.published,
	})
	ctx := context.Background()
	_, err := f.svc.RegisterDevice(ctx, "front_door", registry.DoorSensor)
	require.NoError(t, err)
	_, err = f.svc.RegisterDevice(ctx, "kitchen", registry.AirQualitySensor)
	require.NoError(t, err)
	return f
}

func Test_AddDoorReading(t *testing.T) {
	cases := []struct {
		name        string
		input       DoorInput
		expectedErr error
	}{
		{name: "valid", input: DoorInput{DeviceName: "front_door", Timestamp: "2024-01-19T12:00:00Z", DoorStatus: "OPEN", Battery: 88}},
		{name: "no timestamp", input: DoorInput{DeviceName: "front_door", DoorStatus: "CLOSED", Battery: 88}},
		{name: "reserved name", input: DoorInput{DeviceName: registry.ReservedName, DoorStatus: "OPEN"}, expectedErr: ErrInvalidArgument},
		{name: "bad status", input: DoorInput{DeviceName: "front_door", DoorStatus: "AJAR"}, expectedErr: ErrInvalidArgument},
		{name: "bad timestamp", input: DoorInput{DeviceName: "front_door", DoorStatus: "OPEN", Timestamp: "2024-01-19 12:00:00"}, expectedErr: classify.ErrInvalidFormat},
		{name: "unknown device", input: DoorInput{DeviceName: "garage", DoorStatus: "OPEN"}, expectedErr: registry.ErrNotFound},
		{name: "air device on door route", input: DoorInput{DeviceName: "kitchen", DoorStatus: "OPEN"}, expectedErr: ErrInvalidArgument},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rec, err := f.svc.AddDoorReading(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.expectedErr)
			if tt.expectedErr != nil {
				assert.Zero(t, f.notified.len())
				assert.Zero(t, f.published.len())
				return
			}
			assert.NotEmpty(t, rec.EventID)
			assert.Equal(t, 1, f.notified.len())
			assert.Equal(t, 1, f.published.len())
		})
	}
}

func Test_AddDoorReading_DefaultsToNow(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.AddDoorReading(context.Background(), DoorInput{DeviceName: "front_door", DoorStatus: "OPEN"})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, rec.Timestamp)
}

func Test_AddAirSample(t *testing.T) {
	cases := []struct {
		name        string
		input       AirInput
		expectedErr error
	}{
		{name: "valid", input: AirInput{DeviceName: "kitchen", PM25: 10, PM10: 40}},
		{name: "door device on air route", input: AirInput{DeviceName: "front_door", PM25: 10}, expectedErr: ErrInvalidArgument},
		{name: "unknown device", input: AirInput{DeviceName: "attic"}, expectedErr: registry.ErrNotFound},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.AddAirSample(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.expectedErr)
			// Air samples are never sent to webhooks.
			assert.Zero(t, f.notified.len())
			if tt.expectedErr == nil {
				assert.Equal(t, 1, f.published.len())
			}
		})
	}
}

func Test_LatestDoor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.LatestDoor(ctx, "front_door")
	assert.ErrorIs(t, err, ErrNoData)

	for _, in := range []DoorInput{
		{DeviceName: "front_door", Timestamp: "2024-01-19T12:00:00Z", DoorStatus: "OPEN", Battery: 90},
		{DeviceName: "front_door", Timestamp: "2024-01-19T12:05:00Z", DoorStatus: "CLOSED", Battery: 89},
	} {
		_, err := f.svc.AddDoorReading(ctx, in)
		require.NoError(t, err)
	}

	st, err := f.svc.LatestDoor(ctx, "front_door")
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", *st.DoorStatus)
	assert.Equal(t, "2024-01-19T12:05:00Z", *st.Timestamp)

	history, err := f.svc.DoorHistory(ctx, "front_door")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "OPEN", *history[1].DoorStatus)
}

func Test_AllDoorsCurrentState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.RegisterDevice(ctx, "back_door", registry.DoorSensor)
	require.NoError(t, err)
	_, err = f.svc.AddDoorReading(ctx, DoorInput{DeviceName: "front_door", DoorStatus: "OPEN", Battery: 70})
	require.NoError(t, err)

	states, err := f.svc.AllDoorsCurrentState(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)

	assert.Equal(t, "back_door", states[0].DeviceName)
	assert.NotEmpty(t, states[0].DeviceID)
	assert.Nil(t, states[0].DoorStatus)
	assert.Nil(t, states[0].Timestamp)

	assert.Equal(t, "front_door", states[1].DeviceName)
	assert.Equal(t, "OPEN", *states[1].DoorStatus)
}

func Test_LatestAir_Classifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.AddAirSample(ctx, AirInput{DeviceName: "kitchen", Timestamp: "2024-01-19T12:00:00Z", PM25: 40, PM10: 54.5})
	require.NoError(t, err)

	report, err := f.svc.LatestAir(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, "Fair", report.PM25.Category)
	assert.Equal(t, 3, report.PM25.Code)
	assert.NotEmpty(t, report.PM25.Message)
	// 54.5 falls between the literal PM10 bands.
	assert.Equal(t, "Unknown", report.PM10.Category)
	assert.True(t, report.Stale)
	assert.EqualValues(t, 1800, report.AgeSeconds)

	history, err := f.svc.AirHistory(ctx, "kitchen")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func Test_Latest_WrongDeviceType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.AddDoorReading(ctx, DoorInput{DeviceName: "front_door", DoorStatus: "OPEN"})
	require.NoError(t, err)
	_, err = f.svc.AddAirSample(ctx, AirInput{DeviceName: "kitchen", PM25: 10, PM10: 20})
	require.NoError(t, err)

	_, err = f.svc.LatestDoor(ctx, "kitchen")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.svc.DoorHistory(ctx, "kitchen")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.LatestAir(ctx, "front_door")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.svc.AirHistory(ctx, "front_door")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func Test_DeleteDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for range 3 {
		_, err := f.svc.AddDoorReading(ctx, DoorInput{DeviceName: "front_door", DoorStatus: "OPEN"})
		require.NoError(t, err)
	}

	res, err := f.svc.DeleteDevice(ctx, "front_door")
	require.NoError(t, err)
	assert.Equal(t, 1, res.DevicesDeleted)
	assert.Equal(t, 3, res.RecordsDeleted)
	assert.Equal(t, []string{res.DeviceID}, f.notified.forgotten)

	_, err = f.svc.GetDevice(ctx, "front_door")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = f.svc.DeleteDevice(ctx, registry.ReservedName)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func Test_AddIssue(t *testing.T) {
	cases := []struct {
		name        string
		input       IssueInput
		expectedID  bool
		expectedErr error
	}{
		{name: "named device", input: IssueInput{DeviceName: "kitchen", Exception: "SensorTimeout", Message: "uart"}, expectedID: true},
		{name: "no device", input: IssueInput{Exception: "BootError", Message: "config"}},
		{name: "unknown device", input: IssueInput{DeviceName: "attic", Exception: "E"}, expectedErr: registry.ErrNotFound},
		{name: "empty report", input: IssueInput{DeviceName: "kitchen"}, expectedErr: ErrInvalidArgument},
		{name: "bad timestamp", input: IssueInput{Exception: "E", Timestamp: "yesterday"}, expectedErr: ErrInvalidArgument},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			is, err := f.svc.AddIssue(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.expectedErr)
			if tt.expectedErr != nil {
				return
			}
			if tt.expectedID {
				assert.NotEqual(t, "UNASSIGNED", is.DeviceID)
			} else {
				assert.Equal(t, "UNASSIGNED", is.DeviceID)
			}
		})
	}
}

func Test_Webhooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.RegisterWebhook(ctx, "http://hooks.local/x", "garage")
	assert.ErrorIs(t, err, webhook.ErrNotFound)

	hook, err := f.svc.RegisterWebhook(ctx, "http://hooks.local/x", "front_door")
	require.NoError(t, err)
	assert.True(t, hook.Active)

	disabled, err := f.svc.DisableWebhook(ctx, hook.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Active)

	active, err := f.svc.Subscriptions().Active(ctx, "front_door")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func Test_DumpAndDeleteAllData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.AddDoorReading(ctx, DoorInput{DeviceName: "front_door", DoorStatus: "OPEN"})
	require.NoError(t, err)
	_, err = f.svc.AddIssue(ctx, IssueInput{Exception: "E"})
	require.NoError(t, err)

	dump, err := f.svc.DumpDatabase(ctx)
	require.NoError(t, err)
	assert.Len(t, dump.Devices, 2)
	assert.Len(t, dump.Data, 1)
	assert.Len(t, dump.Issues, 1)

	counts, err := f.svc.DeleteAllData(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"PATDevices": 2, "PATData": 1, "PATIssues": 1}, counts)
	assert.Equal(t, 1, f.notified.resets)

	dump, err = f.svc.DumpDatabase(ctx)
	require.NoError(t, err)
	assert.Empty(t, dump.Devices)
	assert.Empty(t, dump.Data)
}
