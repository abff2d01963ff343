package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	k "pat-backend/internal/kafka"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func doorRecord(deviceID, status, ts string) kafka.Message {
	record := k.StructuredRecord{
		Schema: k.TelemetrySchema,
		Payload: k.TelemetryEvent{
			DeviceID:   deviceID,
			DeviceName: "front_door",
			DeviceType: "DoorSensor",
			Timestamp:  ts,
			DoorStatus: &status,
		},
	}
	recordBytes, _ := json.Marshal(record)
	return kafka.Message{Key: []byte(deviceID), Value: recordBytes}
}

func Test_ReadMessage(t *testing.T) {
	cases := []struct {
		name          string
		setupReader   func(kafka.Message) k.Reader
		inputDeviceID string
		outputMessage func(string) kafka.Message
		expectedError error
		expectedDone  bool
		expectedState DoorState
		expectedFound bool
	}{
		{
			name: "happy path - read timeout",
			setupReader: func(outputMessage kafka.Message) k.Reader {
				reader := k.NewMockReader(t)
				reader.EXPECT().ReadMessage(mock.Anything).Return(outputMessage, context.DeadlineExceeded)
				return reader
			},
			inputDeviceID: "FD000001",
			outputMessage: func(deviceID string) kafka.Message {
				return kafka.Message{}
			},
			expectedDone: true,
		},
		{
			name: "happy path - lag is zero",
			setupReader: func(outputMessage kafka.Message) k.Reader {
				reader := k.NewMockReader(t)
				reader.EXPECT().ReadMessage(mock.Anything).Return(outputMessage, nil)
				reader.EXPECT().Lag().Return(int64(0))
				return reader
			},
			inputDeviceID: "FD000001",
			outputMessage: func(deviceID string) kafka.Message {
				return doorRecord(deviceID, "OPEN", "2024-01-19T12:00:00Z")
			},
			expectedDone:  true,
			expectedState: DoorState{Status: "OPEN", Timestamp: "2024-01-19T12:00:00Z"},
			expectedFound: true,
		},
		{
			name: "more records pending",
			setupReader: func(outputMessage kafka.Message) k.Reader {
				reader := k.NewMockReader(t)
				reader.EXPECT().ReadMessage(mock.Anything).Return(outputMessage, nil)
				reader.EXPECT().Lag().Return(int64(4))
				return reader
			},
			inputDeviceID: "FD000001",
			outputMessage: func(deviceID string) kafka.Message {
				return doorRecord(deviceID, "CLOSED", "2024-01-19T12:00:00Z")
			},
			expectedDone:  false,
			expectedState: DoorState{Status: "CLOSED", Timestamp: "2024-01-19T12:00:00Z"},
			expectedFound: true,
		},
		{
			name: "air record is ignored",
			setupReader: func(outputMessage kafka.Message) k.Reader {
				reader := k.NewMockReader(t)
				reader.EXPECT().ReadMessage(mock.Anything).Return(outputMessage, nil)
				reader.EXPECT().Lag().Return(int64(0))
				return reader
			},
			inputDeviceID: "KT000001",
			outputMessage: func(deviceID string) kafka.Message {
				pm := 10.0
				recordBytes, _ := json.Marshal(k.StructuredRecord{
					Schema:  k.TelemetrySchema,
					Payload: k.TelemetryEvent{DeviceID: deviceID, PM25: &pm, PM10: &pm},
				})
				return kafka.Message{Key: []byte(deviceID), Value: recordBytes}
			},
			expectedDone: true,
		},
		{
			name: "json unmarshal failed",
			setupReader: func(outputMessage kafka.Message) k.Reader {
				reader := k.NewMockReader(t)
				reader.EXPECT().ReadMessage(mock.Anything).Return(outputMessage, nil)
				return reader
			},
			inputDeviceID: "FD000001",
			outputMessage: func(deviceID string) kafka.Message {
				return kafka.Message{Key: []byte(deviceID), Value: []byte("not-a-json")}
			},
			expectedError: ErrParseMessage,
		},
		{
			name: "read message failed",
			setupReader: func(outputMessage kafka.Message) k.Reader {
				reader := k.NewMockReader(t)
				reader.EXPECT().ReadMessage(mock.Anything).Return(outputMessage, errors.New("failed"))
				return reader
			},
			outputMessage: func(deviceID string) kafka.Message {
				return kafka.Message{}
			},
			expectedError: ErrReadMessage,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cache := &StateCache{
				reader: tt.setupReader(tt.outputMessage(tt.inputDeviceID)),
				store:  make(map[string]DoorState),
			}
			done, err := cache.ReadMessage(context.Background())
			assert.ErrorIs(t, err, tt.expectedError)
			assert.Equal(t, tt.expectedDone, done)

			state, found := cache.Get(tt.inputDeviceID)
			assert.Equal(t, tt.expectedFound, found)
			assert.Equal(t, tt.expectedState, state)
		})
	}
}

func Test_SetGetDeleteClear(t *testing.T) {
	c := New(Config{})
	c.Set("A", DoorState{Status: "OPEN"})
	state, ok := c.Get("A")
	assert.True(t, ok)
	assert.Equal(t, "OPEN", state.Status)
	assert.Equal(t, 1, c.Len())

	c.Delete("A")
	_, ok = c.Get("A")
	assert.False(t, ok)

	c.Set("A", DoorState{Status: "OPEN"})
	c.Set("B", DoorState{Status: "CLOSED"})
	c.Clear()
	assert.Zero(t, c.Len())

	// Hydrate without brokers is a no-op.
	c.Hydrate(context.Background())
}
