package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pat-backend/internal/registry"
	"pat-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	frontDoor = registry.Device{ID: "FD000001", Name: "front_door", Type: registry.DoorSensor}
	backDoor  = registry.Device{ID: "BD000001", Name: "back_door", Type: registry.DoorSensor}
	kitchen   = registry.Device{ID: "KT000001", Name: "kitchen", Type: registry.AirQualitySensor}
)

func sequentialEventIDs() func() (string, error) {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("e%04d", n.Add(1)), nil
	}
}

// scanlessTable fails the test if a Scan is issued.
type scanlessTable struct {
	storage.Table
	t *testing.T
}

func (s scanlessTable) Scan(ctx context.Context, in storage.ScanInput) (storage.Page, error) {
	s.t.Fatalf("unexpected scan of %s", s.Name())
	return storage.Page{}, nil
}

// silentDeleteTable reports every delete as having removed nothing.
type silentDeleteTable struct {
	storage.Table
}

func (silentDeleteTable) Delete(ctx context.Context, key storage.Key) (bool, error) {
	return false, nil
}

func Test_Append_DefaultsToNow(t *testing.T) {
	ctx := context.Background()
	store := New(Config{Table: storage.NewMemory("PATData", storage.DataSchema)})

	rec, err := store.Append(ctx, frontDoor, DoorReading{Status: Open, Battery: 98.5}, time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.EventID)

	latest, err := store.Latest(ctx, frontDoor.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, DoorReading{Status: Open, Battery: 98.5}, latest.Payload)
	assert.WithinDuration(t, time.Now(), latest.Timestamp, 5*time.Second)
	assert.Equal(t, "front_door", latest.DeviceName)
}

func Test_Append_Validation(t *testing.T) {
	cases := []struct {
		name        string
		payload     Payload
		expectedErr error
	}{
		{name: "open door", payload: DoorReading{Status: Open, Battery: 50}},
		{name: "closed door", payload: DoorReading{Status: Closed, Battery: 0}},
		{name: "air sample", payload: AirSample{PM25: 10.5, PM10: 20.5}},
		{name: "unknown door status", payload: DoorReading{Status: "AJAR", Battery: 50}, expectedErr: ErrInvalidPayload},
		{name: "lowercase door status", payload: DoorReading{Status: "open", Battery: 50}, expectedErr: ErrInvalidPayload},
		{name: "nan battery", payload: DoorReading{Status: Open, Battery: math.NaN()}, expectedErr: ErrInvalidPayload},
		{name: "infinite pm10", payload: AirSample{PM25: 1, PM10: math.Inf(1)}, expectedErr: ErrInvalidPayload},
		{name: "missing payload", payload: nil, expectedErr: ErrInvalidPayload},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			table := storage.NewMemory("PATData", storage.DataSchema)
			store := New(Config{Table: table})
			_, err := store.Append(context.Background(), frontDoor, tt.payload, time.Time{})
			assert.ErrorIs(t, err, tt.expectedErr)

			rows, scanErr := storage.ScanAll(context.Background(), table, nil)
			require.NoError(t, scanErr)
			if tt.expectedErr != nil {
				assert.Empty(t, rows)
			} else {
				assert.Len(t, rows, 1)
			}
		})
	}
}

func Test_Latest_MaxSortKey(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name          string
		offsets       []int
		expectedEvent string
	}{
		{name: "in order", offsets: []int{0, 60, 120}, expectedEvent: "e0003"},
		{name: "reverse order", offsets: []int{120, 60, 0}, expectedEvent: "e0001"},
		{name: "interleaved", offsets: []int{60, 180, 0, 120}, expectedEvent: "e0002"},
		{name: "same second", offsets: []int{0, 0, 0}, expectedEvent: "e0003"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			table := storage.NewMemory("PATData", storage.DataSchema)
			store := New(Config{Table: table, NewEventID: sequentialEventIDs()})
			for _, off := range tt.offsets {
				_, err := store.Append(ctx, frontDoor, DoorReading{Status: Open, Battery: 1}, base.Add(time.Duration(off)*time.Second))
				require.NoError(t, err)
			}

			latest, err := New(Config{Table: scanlessTable{Table: table, t: t}}).Latest(ctx, frontDoor.ID)
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, tt.expectedEvent, latest.EventID)
		})
	}
}

func Test_Latest_Empty(t *testing.T) {
	store := New(Config{Table: storage.NewMemory("PATData", storage.DataSchema)})
	latest, err := store.Latest(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func Test_All_NewestFirst(t *testing.T) {
	ctx := context.Background()
	table := storage.NewMemory("PATData", storage.DataSchema).WithPageSize(4)
	store := New(Config{Table: table})
	base := time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 11; i++ {
		_, err := store.Append(ctx, kitchen, AirSample{PM25: float64(i), PM10: float64(i)}, base.Add(time.Duration(i%3)*time.Minute))
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, frontDoor, DoorReading{Status: Closed, Battery: 10}, base)
	require.NoError(t, err)

	records, err := store.All(ctx, kitchen.ID)
	require.NoError(t, err)
	require.Len(t, records, 11)
	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i-1].SortKey(), records[i].SortKey())
		assert.False(t, records[i-1].Timestamp.Before(records[i].Timestamp))
	}
	assert.IsType(t, AirSample{}, records[0].Payload)

	none, err := store.All(ctx, "NOPE")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func Test_Append_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := New(Config{Table: storage.NewMemory("PATData", storage.DataSchema)})
	ts := time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, frontDoor, DoorReading{Status: Open, Battery: 1}, ts)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := store.All(ctx, frontDoor.ID)
	require.NoError(t, err)
	assert.Len(t, records, 50)
}

func Test_DeleteAllFor(t *testing.T) {
	ctx := context.Background()
	table := storage.NewMemory("PATData", storage.DataSchema).WithPageSize(3)
	store := New(Config{Table: table})
	for i := 0; i < 7; i++ {
		_, err := store.Append(ctx, frontDoor, DoorReading{Status: Open, Battery: 1}, time.Time{})
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, backDoor, DoorReading{Status: Closed, Battery: 1}, time.Time{})
	require.NoError(t, err)

	deleted, err := store.DeleteAllFor(ctx, frontDoor.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)

	remaining, err := store.All(ctx, frontDoor.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	other, err := store.All(ctx, backDoor.ID)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func Test_DeleteAllFor_SilentNoopIsAnError(t *testing.T) {
	ctx := context.Background()
	table := storage.NewMemory("PATData", storage.DataSchema)
	_, err := New(Config{Table: table}).Append(ctx, frontDoor, DoorReading{Status: Open, Battery: 1}, time.Time{})
	require.NoError(t, err)

	deleted, err := New(Config{Table: silentDeleteTable{Table: table}}).DeleteAllFor(ctx, frontDoor.ID)
	assert.True(t, errors.Is(err, ErrKeyMismatch))
	assert.Equal(t, 0, deleted)
}
