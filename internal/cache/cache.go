package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	k "pat-backend/internal/kafka"

	"github.com/segmentio/kafka-go"
)

var (
	ErrReadMessage  = errors.New("error reading message")
	ErrParseMessage = errors.New("error parsing message")
)

// DoorState is the last door status notified for a device.
type DoorState struct {
	Status    string
	Timestamp string
}

type Config struct {
	Brokers       string
	ConsumerTopic string
}

type Cache interface {
	Get(deviceID string) (DoorState, bool)
	Set(deviceID string, state DoorState)
	Delete(deviceID string)
	Clear()
}

type StateCache struct {
	brokers string
	mu      sync.RWMutex
	store   map[string]DoorState
	reader  k.Reader
}

// New returns an empty cache. With brokers configured it can be hydrated
// from the telemetry topic.
func New(cfg Config) *StateCache {
	cache := &StateCache{
		store:   make(map[string]DoorState),
		brokers: cfg.Brokers,
	}
	if cfg.Brokers != "" {
		cache.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       cfg.ConsumerTopic,
			StartOffset: kafka.FirstOffset,
			// No consumer group for one-time read
		})
	}
	return cache
}

func (c *StateCache) Get(deviceID string) (DoorState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, exists := c.store[deviceID]
	return state, exists
}

func (c *StateCache) Set(deviceID string, state DoorState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[deviceID] = state
}

func (c *StateCache) Delete(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, deviceID)
}

func (c *StateCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.store)
}

func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

func (c *StateCache) waitForBroker(ctx context.Context, maxWait time.Duration, interval time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		dialCtx, cancel := context.WithTimeout(ctx, interval)
		conn, err := kafka.DialContext(dialCtx, "tcp", c.brokers)
		cancel()
		if err == nil {
			conn.Close()
			slog.InfoContext(ctx, "Broker is ready", "broker", c.brokers)
			return nil
		}
		slog.InfoContext(ctx, "Broker not ready", "broker", c.brokers, "error", err)
		time.Sleep(interval)
	}
	return fmt.Errorf("broker not reachable after %s", maxWait)
}

// Hydrate replays the telemetry topic into the cache. Blocking operation.
func (c *StateCache) Hydrate(ctx context.Context) {
	if c.reader == nil {
		return
	}
	defer c.reader.Close()

	slog.InfoContext(ctx, "Pinging broker to ensure connectivity...")
	if err := c.waitForBroker(ctx, time.Second*30, time.Second*5); err != nil {
		slog.ErrorContext(ctx, "Broker failed to respond", "error", err)
		return
	}

	slog.InfoContext(ctx, "Starting cache hydration...")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Cache hydrate stopped...")
			return
		default:
			done, err := c.ReadMessage(ctx)
			if errors.Is(err, ErrParseMessage) {
				slog.ErrorContext(ctx, "Skipping unparseable record", "error", err)
				continue
			}
			if err != nil {
				slog.ErrorContext(ctx, "Cache hydration aborted", "error", err)
				return
			}
			if done {
				slog.InfoContext(ctx, "Cache hydration complete", "devices", c.Len())
				return
			}
		}
	}
}

// ReadMessage applies one record and reports whether the topic is drained.
func (c *StateCache) ReadMessage(ctx context.Context) (bool, error) {
	const fn = "Cache:ReadMessage"
	readCtx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	m, err := c.reader.ReadMessage(readCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true, nil
		}
		return false, fmt.Errorf("%s:%w:%w", fn, ErrReadMessage, err)
	}

	var record k.StructuredRecord
	if err := json.Unmarshal(m.Value, &record); err != nil {
		return false, fmt.Errorf("%s:%w:%w", fn, ErrParseMessage, err)
	}
	if record.Payload.DoorStatus != nil {
		c.Set(record.Payload.DeviceID, DoorState{
			Status:    *record.Payload.DoorStatus,
			Timestamp: record.Payload.Timestamp,
		})
	}
	return c.reader.Lag() == 0, nil
}
