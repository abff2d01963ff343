package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pat-backend/internal/cache"
	"pat-backend/internal/metrics"
	"pat-backend/internal/storage"
	"pat-backend/internal/telemetry"
	"pat-backend/internal/worker"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultTimeout   = 5 * time.Second
)

// RepeatPolicy decides whether a door event repeating the last notified status is delivered.
type RepeatPolicy string

const (
	DeliverAll      RepeatPolicy = "deliver_all"
	SuppressRepeats RepeatPolicy = "suppress_repeats"
)

func ParseRepeatPolicy(s string) (RepeatPolicy, error) {
	switch RepeatPolicy(s) {
	case "", DeliverAll:
		return DeliverAll, nil
	case SuppressRepeats:
		return SuppressRepeats, nil
	}
	return "", fmt.Errorf("%w: repeat policy %q", ErrInvalidArgument, s)
}

type SubscriptionSource interface {
	Active(ctx context.Context, deviceName string) ([]Webhook, error)
}

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type NotifierConfig struct {
	Subscriptions SubscriptionSource
	Client        Doer
	Workers       int
	QueueSize     int
	Timeout       time.Duration
	Policy        RepeatPolicy
	// Cache holds the last notified door status per device. Required by SuppressRepeats.
	Cache cache.Cache
}

type delivery struct {
	hook     Webhook
	deviceID string
	body     []byte
}

// Notifier fans records out to subscribers on a fixed worker pool. Delivery
// is at most once: no retry and no receipt. Failures never reach the caller.
type Notifier struct {
	subs    SubscriptionSource
	client  Doer
	timeout time.Duration
	policy  RepeatPolicy
	cache   cache.Cache

	events     chan telemetry.Record
	deliveries chan delivery
	resolvers  *worker.Pool
	senders    *worker.Pool

	mu     sync.Mutex
	closed bool
}

func NewNotifier(cfg NotifierConfig) *Notifier {
	n := &Notifier{
		subs:    cfg.Subscriptions,
		client:  cfg.Client,
		timeout: cfg.Timeout,
		policy:  cfg.Policy,
		cache:   cfg.Cache,
	}
	if n.client == nil {
		n.client = &http.Client{}
	}
	if n.timeout <= 0 {
		n.timeout = defaultTimeout
	}
	if n.policy == "" {
		n.policy = DeliverAll
	}
	if n.policy == SuppressRepeats && n.cache == nil {
		n.cache = cache.New(cache.Config{})
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	n.events = make(chan telemetry.Record, queueSize)
	n.deliveries = make(chan delivery, queueSize)
	n.resolvers = worker.NewPool("webhook-resolver", 1, resolver{n})
	n.senders = worker.NewPool("webhook-sender", workers, sender{n})
	return n
}

// Start launches the pools. They run detached from ctx cancellation so that
// Close can drain queued work.
func (n *Notifier) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	n.resolvers.Start(ctx)
	n.senders.Start(ctx)
}

// Close stops accepting events and waits for queued deliveries to finish.
func (n *Notifier) Close(ctx context.Context) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.events)
	n.mu.Unlock()

	n.resolvers.Wait()
	close(n.deliveries)
	n.senders.Wait()
	slog.InfoContext(ctx, "Notifier closed")
}

// Notify queues rec for fan-out and returns immediately. Calls are serialised
// so the repeat check sees door statuses in call order.
func (n *Notifier) Notify(ctx context.Context, rec telemetry.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		slog.WarnContext(ctx, "Notifier closed, dropping event", "device_id", rec.DeviceID, "event_id", rec.EventID)
		metrics.NotificationsDroppedTotal.WithLabelValues("closed").Inc()
		return
	}
	door, isDoor := rec.Payload.(telemetry.DoorReading)
	if isDoor && n.repeated(rec.DeviceID, door) {
		slog.DebugContext(ctx, "Suppressed repeated door status", "device_id", rec.DeviceID)
		metrics.NotificationsDroppedTotal.WithLabelValues("repeat").Inc()
		return
	}
	select {
	case n.events <- rec:
		// Only a queued event counts as notified.
		if isDoor && n.cache != nil {
			n.cache.Set(rec.DeviceID, cache.DoorState{
				Status:    string(door.Status),
				Timestamp: storage.FormatTimestamp(rec.Timestamp),
			})
		}
	default:
		slog.WarnContext(ctx, "Event queue full, dropping event", "device_id", rec.DeviceID, "event_id", rec.EventID)
		metrics.NotificationsDroppedTotal.WithLabelValues("event_queue").Inc()
	}
}

func (n *Notifier) repeated(deviceID string, door telemetry.DoorReading) bool {
	if n.policy != SuppressRepeats || n.cache == nil {
		return false
	}
	last, seen := n.cache.Get(deviceID)
	return seen && last.Status == string(door.Status)
}

// Forget drops the notified state of a deleted device.
func (n *Notifier) Forget(ctx context.Context, deviceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cache != nil {
		n.cache.Delete(deviceID)
		slog.DebugContext(ctx, "Cleared notified door state", "device_id", deviceID)
	}
}

// Reset drops the notified state of every device.
func (n *Notifier) Reset(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cache != nil {
		n.cache.Clear()
		slog.InfoContext(ctx, "Cleared all notified door state")
	}
}

func body(rec telemetry.Record) ([]byte, error) {
	msg := map[string]any{
		"device_name": rec.DeviceName,
		"device_id":   rec.DeviceID,
		"timestamp":   storage.FormatTimestamp(rec.Timestamp),
	}
	for k, v := range rec.Payload.Fields() {
		msg[k] = v
	}
	return json.Marshal(msg)
}

type resolver struct{ n *Notifier }

func (r resolver) ProcessMessage(ctx context.Context) error {
	const fn = "Webhook:resolve"
	rec, ok := <-r.n.events
	if !ok {
		return worker.ErrStop
	}

	resolveCtx, cancel := context.WithTimeout(ctx, r.n.timeout)
	defer cancel()
	hooks, err := r.n.subs.Active(resolveCtx, rec.DeviceName)
	if err != nil {
		metrics.NotificationsDroppedTotal.WithLabelValues("resolve").Inc()
		return fmt.Errorf("%s:%s:%w", fn, rec.DeviceName, err)
	}
	if len(hooks) == 0 {
		return nil
	}
	payload, err := body(rec)
	if err != nil {
		return fmt.Errorf("%s:%w", fn, err)
	}

	for _, hook := range hooks {
		select {
		case r.n.deliveries <- delivery{hook: hook, deviceID: rec.DeviceID, body: payload}:
		default:
			slog.WarnContext(ctx, "Delivery queue full, dropping delivery", "webhook_id", hook.ID, "device_id", rec.DeviceID)
			metrics.NotificationsDroppedTotal.WithLabelValues("delivery_queue").Inc()
		}
	}
	return nil
}

type sender struct{ n *Notifier }

func (s sender) ProcessMessage(ctx context.Context) error {
	d, ok := <-s.n.deliveries
	if !ok {
		return worker.ErrStop
	}
	start := time.Now()
	err := s.n.deliver(ctx, d)
	metrics.WebhookDeliveryDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.ErrorContext(ctx, "Webhook delivery failed", "webhook_id", d.hook.ID, "device_id", d.deviceID, "error", err)
		metrics.WebhookDeliveriesTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil
	}
	slog.InfoContext(ctx, "Webhook delivered", "webhook_id", d.hook.ID, "device_id", d.deviceID)
	metrics.WebhookDeliveriesTotal.WithLabelValues(metrics.ResultOK).Inc()
	return nil
}

func (n *Notifier) deliver(ctx context.Context, d delivery) error {
	const fn = "Webhook:deliver"
	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, d.hook.URL, bytes.NewReader(d.body))
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrDelivery, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s:%w: status %d", fn, ErrDelivery, resp.StatusCode)
	}
	return nil
}
