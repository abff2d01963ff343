package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"pat-backend/internal/registry"
	"pat-backend/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrDelivery        = errors.New("webhook delivery failed")
)

// ScopeAll is the stored scope of a subscription that covers every device.
const ScopeAll = "ALL"

const (
	AttrWebhookID  = "WebhookID"
	AttrWebhookURL = "WebhookURL"
	AttrActive     = "Active"
	AttrCreatedAt  = "CreatedAt"
)

type Webhook struct {
	ID        string    `json:"webhook_id"`
	URL       string    `json:"webhook_url"`
	Scope     string    `json:"device_name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (w Webhook) Matches(deviceName string) bool {
	return w.Active && (w.Scope == ScopeAll || w.Scope == deviceName)
}

type DeviceResolver interface {
	Lookup(ctx context.Context, name string) (registry.Device, error)
}

type SubscriptionsConfig struct {
	// Table is the device table; webhook rows share it.
	Table   storage.Table
	Devices DeviceResolver
	Now     func() time.Time
}

type Subscriptions struct {
	table   storage.Table
	devices DeviceResolver
	now     func() time.Time
}

func NewSubscriptions(cfg SubscriptionsConfig) *Subscriptions {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Subscriptions{
		table:   cfg.Table,
		devices: cfg.Devices,
		now:     now,
	}
}

// Register stores an active subscription. An empty scope covers every device;
// a named scope must be a registered device.
func (s *Subscriptions) Register(ctx context.Context, url string, scope string) (Webhook, error) {
	const fn = "Webhook:Register"
	if url == "" {
		return Webhook{}, fmt.Errorf("%s:%w: webhook_url is required", fn, ErrInvalidArgument)
	}
	if scope == "" {
		scope = ScopeAll
	}
	if scope != ScopeAll {
		if _, err := s.devices.Lookup(ctx, scope); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return Webhook{}, fmt.Errorf("%s:%w:%w", fn, ErrNotFound, err)
			}
			return Webhook{}, fmt.Errorf("%s:%w", fn, err)
		}
	}

	hook := Webhook{
		ID:        uuid.NewString(),
		URL:       url,
		Scope:     scope,
		Active:    true,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	if err := s.table.Put(ctx, toItem(hook)); err != nil {
		return Webhook{}, fmt.Errorf("%s:%w", fn, err)
	}
	slog.InfoContext(ctx, "Registered webhook", "webhook_id", hook.ID, "device_name", scope)
	return hook, nil
}

// Active returns the active subscriptions matching deviceName, oldest first.
func (s *Subscriptions) Active(ctx context.Context, deviceName string) ([]Webhook, error) {
	const fn = "Webhook:Active"
	items, err := storage.ScanAll(ctx, s.table, storage.Filter{storage.AttrEntityType: storage.EntityWebhook})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", fn, err)
	}
	hooks := make([]Webhook, 0, len(items))
	for _, item := range items {
		hook := fromItem(item)
		if hook.Matches(deviceName) {
			hooks = append(hooks, hook)
		}
	}
	sort.Slice(hooks, func(i, j int) bool {
		if !hooks[i].CreatedAt.Equal(hooks[j].CreatedAt) {
			return hooks[i].CreatedAt.Before(hooks[j].CreatedAt)
		}
		return hooks[i].ID < hooks[j].ID
	})
	return hooks, nil
}

// Disable marks a subscription inactive. The row is kept.
func (s *Subscriptions) Disable(ctx context.Context, webhookID string) (Webhook, error) {
	const fn = "Webhook:Disable"
	items, err := storage.QueryAll(ctx, s.table, storage.WebhookPK(webhookID), false)
	if err != nil {
		return Webhook{}, fmt.Errorf("%s:%w", fn, err)
	}
	if len(items) == 0 {
		return Webhook{}, fmt.Errorf("%s:%w: webhook %s", fn, ErrNotFound, webhookID)
	}
	hook := fromItem(items[0])
	hook.Active = false
	if err := s.table.Put(ctx, toItem(hook)); err != nil {
		return Webhook{}, fmt.Errorf("%s:%w", fn, err)
	}
	slog.InfoContext(ctx, "Disabled webhook", "webhook_id", webhookID)
	return hook, nil
}

func toItem(w Webhook) storage.Item {
	return storage.Item{
		storage.AttrDeviceID:   storage.WebhookPK(w.ID),
		storage.AttrDeviceName: w.Scope,
		storage.AttrEntityType: storage.EntityWebhook,
		AttrWebhookID:          w.ID,
		AttrWebhookURL:         w.URL,
		AttrActive:             w.Active,
		AttrCreatedAt:          storage.FormatTimestamp(w.CreatedAt),
	}
}

func fromItem(item storage.Item) Webhook {
	created, _ := time.Parse(storage.TimestampLayout, storage.String(item, AttrCreatedAt))
	return Webhook{
		ID:        storage.String(item, AttrWebhookID),
		URL:       storage.String(item, AttrWebhookURL),
		Scope:     storage.String(item, storage.AttrDeviceName),
		Active:    storage.Bool(item, AttrActive),
		CreatedAt: created,
	}
}
