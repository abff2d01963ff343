package api

import (
	"pat-backend/internal/registry"
	"pat-backend/internal/service"
	"pat-backend/internal/storage"
	"pat-backend/internal/webhook"
)

// Requests. Pointer fields are required; a nil pointer is rejected with 400.

type RegisterDeviceRequest struct {
	DeviceName string `json:"device_name"`
}

type AddDoorDataRequest struct {
	DeviceName string   `json:"device_name"`
	Timestamp  string   `json:"timestamp"`
	DoorStatus string   `json:"door_status"`
	Battery    *float64 `json:"battery"`
}

type AddAirDataRequest struct {
	DeviceName string   `json:"device_name"`
	Timestamp  string   `json:"timestamp"`
	PM25       *float64 `json:"pm25"`
	PM10       *float64 `json:"pm10"`
}

type AddIssueRequest struct {
	DeviceName       string `json:"device_name"`
	Timestamp        string `json:"timestamp"`
	Exception        string `json:"exception"`
	ExceptionMessage string `json:"exception_message"`
}

type RegisterWebhookRequest struct {
	WebhookURL string `json:"webhook_url"`
	DeviceName string `json:"device_name"`
}

// Responses.

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type DeviceResponse struct {
	Message string          `json:"message"`
	Device  registry.Device `json:"device"`
}

type DeviceInfoResponse struct {
	DeviceInfo registry.Device `json:"device_info"`
}

type DeviceNamesResponse struct {
	Devices []string `json:"devices"`
}

type AddDataResponse struct {
	Message   string `json:"message"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
}

type LatestDoorResponse struct {
	LatestInfo service.DoorState `json:"latest_info"`
}

type DoorHistoryResponse struct {
	LatestInfo []service.DoorState `json:"latest_info"`
}

type DoorsCurrentStateResponse struct {
	Devices []service.DoorState `json:"devices"`
}

type LatestAirResponse struct {
	LatestInfo service.AirReport `json:"latest_info"`
}

type AirHistoryResponse struct {
	LatestInfo []service.AirReport `json:"latest_info"`
}

type WebhookResponse struct {
	Message    string `json:"message"`
	WebhookID  string `json:"webhook_id"`
	WebhookURL string `json:"webhook_url"`
	DeviceName string `json:"device_name"`
	Active     bool   `json:"active"`
}

type DeleteDeviceResponse struct {
	Message string `json:"message"`
	service.DeleteResult
}

type DeleteAllResponse struct {
	Message string         `json:"message"`
	Deleted map[string]int `json:"deleted"`
}

type DumpResponse struct {
	Devices []storage.Item `json:"devices"`
	Data    []storage.Item `json:"data"`
	Issues  []storage.Item `json:"issues"`
}

func webhookResponse(msg string, hook webhook.Webhook) WebhookResponse {
	return WebhookResponse{
		Message:    msg,
		WebhookID:  hook.ID,
		WebhookURL: hook.URL,
		DeviceName: hook.Scope,
		Active:     hook.Active,
	}
}
