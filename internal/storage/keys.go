package storage

import (
	"strings"
	"time"
)

// Attribute names shared by every table.
const (
	AttrDeviceID   = "DeviceID"
	AttrDeviceName = "DeviceName"
	AttrDeviceType = "DeviceType"
	AttrEntityType = "EntityType"
	AttrRecordKey  = "RecordKey"
	AttrEventID    = "EventID"
	AttrTimestamp  = "Timestamp"
)

const (
	EntityDevice  = "Device"
	EntityWebhook = "Webhook"
)

const (
	devicePrefix  = "DEVICE#"
	webhookPrefix = "WEBHOOK#"
	recordPrefix  = "RECORD#"
	issuePrefix   = "ISSUE#"
)

// TimestampLayout is the only accepted wire and storage format for observation times.
// It sorts lexicographically in time order.
const TimestampLayout = "2006-01-02T15:04:05Z"

var (
	// DeviceSchema keys the registry table. Webhook rows share it.
	DeviceSchema = Schema{PartitionAttr: AttrDeviceID, SortAttr: AttrDeviceName}
	// DataSchema keys the telemetry and issue tables.
	DataSchema = Schema{PartitionAttr: AttrDeviceID, SortAttr: AttrRecordKey}
)

func DevicePK(deviceID string) string {
	return devicePrefix + deviceID
}

func DeviceIDFromPK(pk string) string {
	return strings.TrimPrefix(pk, devicePrefix)
}

func WebhookPK(webhookID string) string {
	return webhookPrefix + webhookID
}

func WebhookIDFromPK(pk string) string {
	return strings.TrimPrefix(pk, webhookPrefix)
}

// RecordSK builds the telemetry sort key. Timestamp first so that a descending
// partition query yields newest-first; the event id breaks ties within a second.
func RecordSK(ts time.Time, eventID string) string {
	return recordPrefix + FormatTimestamp(ts) + "#" + eventID
}

func IssueSK(ts time.Time, eventID string) string {
	return issuePrefix + FormatTimestamp(ts) + "#" + eventID
}

func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}
