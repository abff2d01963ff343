package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	k "pat-backend/internal/kafka"
	"pat-backend/internal/registry"
	"pat-backend/internal/telemetry"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC)

func doorRecord(deviceID string, status telemetry.DoorStatus) telemetry.Record {
	return telemetry.Record{
		DeviceID:   deviceID,
		DeviceName: "front_door",
		DeviceType: registry.DoorSensor,
		EventID:    "evt-" + deviceID,
		Timestamp:  ts,
		Payload:    telemetry.DoorReading{Status: status, Battery: 80},
	}
}

func keyed(deviceID string) any {
	return mock.MatchedBy(func(m kafka.Message) bool {
		return string(m.Key) == deviceID
	})
}

func Test_ProcessMessage(t *testing.T) {
	cases := []struct {
		name        string
		setupWriter func() k.Writer
		expectedErr error
	}{
		{
			name: "written",
			setupWriter: func() k.Writer {
				w := k.NewMockWriter(t)
				w.EXPECT().WriteMessages(mock.Anything, keyed("DEV00001")).Return(nil)
				return w
			},
		},
		{
			name: "writer failed",
			setupWriter: func() k.Writer {
				w := k.NewMockWriter(t)
				w.EXPECT().WriteMessages(mock.Anything, keyed("DEV00001")).Return(errors.New("broker down"))
				return w
			},
			expectedErr: ErrWriteMessage,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			p := newPublisher(tt.setupWriter(), 4)
			p.Publish(context.Background(), doorRecord("DEV00001", telemetry.Open))

			err := p.ProcessMessage(context.Background())
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func Test_Close_FlushesQueue(t *testing.T) {
	ctx := context.Background()
	w := k.NewMockWriter(t)
	w.EXPECT().WriteMessages(mock.Anything, keyed("A")).Return(nil).Once()
	w.EXPECT().WriteMessages(mock.Anything, keyed("B")).Return(nil).Once()
	w.EXPECT().Close().Return(nil).Once()

	p := newPublisher(w, 8)
	p.Start(ctx)
	p.Publish(ctx, doorRecord("A", telemetry.Open))
	p.Publish(ctx, doorRecord("B", telemetry.Closed))
	p.Close(ctx)

	// Publishing after close is a no-op.
	p.Publish(ctx, doorRecord("C", telemetry.Open))
}

func Test_Publish_FullQueueDrops(t *testing.T) {
	p := newPublisher(k.NewMockWriter(t), 1)
	p.Publish(context.Background(), doorRecord("A", telemetry.Open))
	p.Publish(context.Background(), doorRecord("B", telemetry.Open))
	assert.Len(t, p.pending, 1)
}

func Test_Encode(t *testing.T) {
	air := telemetry.Record{
		DeviceID:   "AIR00001",
		DeviceName: "kitchen",
		DeviceType: registry.AirQualitySensor,
		EventID:    "evt",
		Timestamp:  ts,
		Payload:    telemetry.AirSample{PM25: 12.5, PM10: 40},
	}
	out, err := json.Marshal(Encode(air))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "2024-01-19T12:00:00Z", payload["timestamp"])
	assert.Equal(t, 12.5, payload["pm25"])
	assert.Nil(t, payload["door_status"])
	assert.Equal(t, "TelemetryRecord", decoded["schema"].(map[string]any)["name"])
}
