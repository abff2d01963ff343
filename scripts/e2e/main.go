package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
)

// Steps:
// 1. Register a door sensor through the API
// 2. Publish alternating door readings to the ingest topic
// 3. Wait for the ingester to store them
// 4. Check the latest state and history through the API
// 5. Read the telemetry topic and check every reading was re-published

const (
	baseURL        = "http://localhost:8080"
	brokers        = "localhost:9092"
	ingestTopic    = "pat_sensor_readings"
	telemetryTopic = "pat_telemetry"
	deviceName     = "e2e_door"
	readings       = 6
)

type reading struct {
	Kind       string  `json:"kind"`
	DeviceName string  `json:"device_name"`
	Timestamp  string  `json:"timestamp"`
	DoorStatus string  `json:"door_status"`
	Battery    float64 `json:"battery"`
}

func main() {
	ctx := context.Background()

	body, _ := json.Marshal(map[string]string{"device_name": deviceName})
	resp, err := http.Post(baseURL+"/doors/register", "application/json", bytes.NewBuffer(body))
	if err != nil {
		panic(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		fail("register returned %s", resp.Status)
	}
	deviceID := lookupID()

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{brokers},
		Topic:   ingestTopic,
	})
	defer writer.Close()

	start := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	messages := make([]kafka.Message, 0, readings)
	last := ""
	for i := range readings {
		status := "OPEN"
		if i%2 == 1 {
			status = "CLOSED"
		}
		last = status
		value, _ := json.Marshal(reading{
			Kind:       "door",
			DeviceName: deviceName,
			Timestamp:  start.Add(time.Duration(i) * time.Minute).Format("2006-01-02T15:04:05Z"),
			DoorStatus: status,
			Battery:    float64(100 - i),
		})
		messages = append(messages, kafka.Message{Key: []byte(deviceName), Value: value})
	}
	if err := writer.WriteMessages(ctx, messages...); err != nil {
		fail("failed to write messages: %v", err)
	}
	fmt.Printf("Published %d readings to %s\n", len(messages), ingestTopic)

	time.Sleep(15 * time.Second)

	var latest struct {
		LatestInfo struct {
			DoorStatus *string `json:"door_status"`
		} `json:"latest_info"`
	}
	getJSON("/doors/info/latest?device_name="+deviceName, &latest)
	if latest.LatestInfo.DoorStatus == nil || *latest.LatestInfo.DoorStatus != last {
		fail("latest door status mismatch, want %s", last)
	}

	var history struct {
		LatestInfo []json.RawMessage `json:"latest_info"`
	}
	getJSON("/doors/info/all?device_name="+deviceName, &history)
	if len(history.LatestInfo) < readings {
		fail("history has %d readings, want at least %d", len(history.LatestInfo), readings)
	}

	published := countPublished(ctx, deviceID)
	if published < readings {
		fail("telemetry topic has %d events for %s, want at least %d", published, deviceID, readings)
	}
	fmt.Println("E2E test completed")
}

func lookupID() string {
	var info struct {
		DeviceInfo struct {
			DeviceID string `json:"device_id"`
		} `json:"device_info"`
	}
	getJSON("/pat/info/device?device_name="+deviceName, &info)
	return info.DeviceInfo.DeviceID
}

func countPublished(ctx context.Context, deviceID string) int {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{brokers},
		Topic:       telemetryTopic,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	count := 0
	for {
		readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		m, err := reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			return count
		}
		if string(m.Key) == deviceID {
			count++
		}
	}
}

func getJSON(path string, v any) {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		fail("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fail("GET %s: HTTP %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		fail("GET %s: %v", path, err)
	}
}

func fail(format string, args ...any) {
	fmt.Printf("FAIL: "+format+"\n", args...)
	os.Exit(1)
}
