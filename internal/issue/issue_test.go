package issue

import (
	"context"
	"testing"
	"time"

	"pat-backend/internal/registry"
	"pat-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Append(t *testing.T) {
	kitchen := &registry.Device{ID: "KT000001", Name: "kitchen", Type: registry.AirQualitySensor}
	ts := time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name             string
		device           *registry.Device
		exception        string
		message          string
		expectedDeviceID string
		expectedErr      error
	}{
		{name: "device issue", device: kitchen, exception: "SensorTimeout", message: "no response from UART", expectedDeviceID: "KT000001"},
		{name: "unassigned issue", exception: "BootError", message: "config missing", expectedDeviceID: Unassigned},
		{name: "empty report", device: kitchen, expectedErr: ErrInvalidArgument},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := New(Config{Table: storage.NewMemory("PATIssues", storage.DataSchema)})

			is, err := store.Append(ctx, tt.device, ts, tt.exception, tt.message)
			assert.ErrorIs(t, err, tt.expectedErr)
			if tt.expectedErr != nil {
				return
			}
			assert.Equal(t, tt.expectedDeviceID, is.DeviceID)

			listed, err := store.List(ctx, tt.expectedDeviceID)
			require.NoError(t, err)
			require.Len(t, listed, 1)
			assert.Equal(t, is, listed[0])
		})
	}
}

func Test_List_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New(Config{Table: storage.NewMemory("PATIssues", storage.DataSchema)})
	base := time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, nil, base.Add(time.Duration(i)*time.Minute), "E", "m")
		require.NoError(t, err)
	}

	issues, err := store.List(ctx, Unassigned)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, base.Add(2*time.Minute), issues[0].Timestamp)
}
