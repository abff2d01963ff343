package mqtt

import (
	"context"
	"testing"

	"pat-backend/internal/processors/ingester"
	"pat-backend/internal/service"
	"pat-backend/internal/telemetry"

	"github.com/stretchr/testify/assert"
	mock "github.com/stretchr/testify/mock"
)

func Test_Handle(t *testing.T) {
	cases := []struct {
		name         string
		topic        string
		payload      string
		setupService func() ingester.Recorder
		expectedErr  error
	}{
		{
			name:    "door reading",
			topic:   "pat/front_door/door",
			payload: `{"door_status":"CLOSED","battery":77}`,
			setupService: func() ingester.Recorder {
				s := ingester.NewMockRecorder(t)
				s.EXPECT().AddDoorReading(mock.Anything, service.DoorInput{
					DeviceName: "front_door",
					DoorStatus: "CLOSED",
					Battery:    77,
					Source:     service.SourceMQTT,
				}).Return(telemetry.Record{EventID: "evt"}, nil)
				return s
			},
		},
		{
			name:    "topic overrides payload name",
			topic:   "pat/kitchen/air",
			payload: `{"device_name":"attic","kind":"door","pm25":3,"pm10":9,"timestamp":"2024-01-19T12:00:00Z"}`,
			setupService: func() ingester.Recorder {
				s := ingester.NewMockRecorder(t)
				s.EXPECT().AddAirSample(mock.Anything, service.AirInput{
					DeviceName: "kitchen",
					Timestamp:  "2024-01-19T12:00:00Z",
					PM25:       3,
					PM10:       9,
					Source:     service.SourceMQTT,
				}).Return(telemetry.Record{EventID: "evt"}, nil)
				return s
			},
		},
		{
			name:         "foreign prefix",
			topic:        "other/front_door/door",
			payload:      `{}`,
			setupService: func() ingester.Recorder { return ingester.NewMockRecorder(t) },
			expectedErr:  ErrInvalidTopic,
		},
		{
			name:         "unknown kind",
			topic:        "pat/front_door/humidity",
			payload:      `{}`,
			setupService: func() ingester.Recorder { return ingester.NewMockRecorder(t) },
			expectedErr:  ErrInvalidTopic,
		},
		{
			name:         "nested topic",
			topic:        "pat/a/b/door",
			payload:      `{}`,
			setupService: func() ingester.Recorder { return ingester.NewMockRecorder(t) },
			expectedErr:  ErrInvalidTopic,
		},
		{
			name:         "malformed payload",
			topic:        "pat/front_door/door",
			payload:      `not json`,
			setupService: func() ingester.Recorder { return ingester.NewMockRecorder(t) },
			expectedErr:  ErrParseMessage,
		},
		{
			name:         "missing fields",
			topic:        "pat/front_door/door",
			payload:      `{"door_status":"OPEN"}`,
			setupService: func() ingester.Recorder { return ingester.NewMockRecorder(t) },
			expectedErr:  ingester.ErrInvalidReading,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			sub := New(Config{}, tt.setupService())

			err := sub.Handle(context.Background(), tt.topic, []byte(tt.payload))
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func Test_Topic(t *testing.T) {
	assert.Equal(t, "pat/+/+", New(Config{}, nil).Topic())
	assert.Equal(t, "home/sensors/+/+", New(Config{TopicPrefix: "home/sensors"}, nil).Topic())
}
