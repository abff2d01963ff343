package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pat-backend/internal/classify"
	"pat-backend/internal/issue"
	"pat-backend/internal/metrics"
	"pat-backend/internal/registry"
	"pat-backend/internal/service"
	"pat-backend/internal/storage"
	"pat-backend/internal/telemetry"
	"pat-backend/internal/webhook"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type backend interface {
	RegisterDevice(ctx context.Context, name string, typ registry.DeviceType) (registry.Device, error)
	GetDevice(ctx context.Context, name string) (registry.Device, error)
	ListDevices(ctx context.Context, typ registry.DeviceType) ([]string, error)
	DeleteDevice(ctx context.Context, name string) (service.DeleteResult, error)
	AddDoorReading(ctx context.Context, in service.DoorInput) (telemetry.Record, error)
	AddAirSample(ctx context.Context, in service.AirInput) (telemetry.Record, error)
	AddIssue(ctx context.Context, in service.IssueInput) (issue.Issue, error)
	LatestDoor(ctx context.Context, name string) (service.DoorState, error)
	DoorHistory(ctx context.Context, name string) ([]service.DoorState, error)
	AllDoorsCurrentState(ctx context.Context) ([]service.DoorState, error)
	LatestAir(ctx context.Context, name string) (service.AirReport, error)
	AirHistory(ctx context.Context, name string) ([]service.AirReport, error)
	RegisterWebhook(ctx context.Context, url, deviceName string) (webhook.Webhook, error)
	DisableWebhook(ctx context.Context, webhookID string) (webhook.Webhook, error)
	DumpDatabase(ctx context.Context) (service.Dump, error)
	DeleteAllData(ctx context.Context) (map[string]int, error)
}

type Config struct {
	Service backend
	// RateLimit is requests per minute per client IP on write routes. Zero disables it.
	RateLimit      int
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type API struct {
	svc            backend
	rateLimit      int
	allowedOrigins []string
	requestTimeout time.Duration
}

func New(cfg Config) *API {
	a := &API{
		svc:            cfg.Service,
		rateLimit:      cfg.RateLimit,
		allowedOrigins: cfg.AllowedOrigins,
		requestTimeout: cfg.RequestTimeout,
	}
	if len(a.allowedOrigins) == 0 {
		a.allowedOrigins = []string{"*"}
	}
	if a.requestTimeout <= 0 {
		a.requestTimeout = 30 * time.Second
	}
	return a
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(a.requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/pat", func(r chi.Router) {
		r.Get("/", a.Home)
		r.Get("/info/device", a.GetDeviceInfo)
		r.Get("/database/all", a.GetAllData)
		r.Delete("/data/all", a.DeleteAllData)
		r.Delete("/device", a.DeleteDevice)
	})

	r.Route("/doors", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			a.limitWrites(r)
			r.Post("/register", a.RegisterDevice(registry.DoorSensor))
			r.Post("/add_data/door_status", a.AddDoorData)
			r.Post("/webhook/register", a.RegisterWebhook)
			r.Post("/webhook/{webhook_id}/disable", a.DisableWebhook)
		})
		r.Get("/info/latest", a.GetLatestDoorInfo)
		r.Get("/info/all", a.GetAllDoorInfo)
		r.Get("/current_state", a.GetAllDoorsCurrentState)
		r.Get("/get_devices/door_devices", a.ListDevices(registry.DoorSensor))
	})

	r.Route("/air", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			a.limitWrites(r)
			r.Post("/register", a.RegisterDevice(registry.AirQualitySensor))
			r.Post("/add_data", a.AddAirData)
			r.Post("/add_issue", a.AddIssue)
		})
		r.Get("/info/latest", a.GetLatestAirInfo)
		r.Get("/info/all", a.GetAllAirInfo)
		r.Get("/get_devices/air_devices", a.ListDevices(registry.AirQualitySensor))
	})
	return r
}

func (a *API) limitWrites(r chi.Router) {
	if a.rateLimit > 0 {
		r.Use(httprate.LimitByIP(a.rateLimit, time.Minute))
	}
}

func (a *API) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Welcome to PAT API"})
}

func (a *API) GetDeviceInfo(w http.ResponseWriter, r *http.Request) {
	device, err := a.svc.GetDevice(r.Context(), deviceName(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeviceInfoResponse{DeviceInfo: device})
}

func (a *API) GetAllData(w http.ResponseWriter, r *http.Request) {
	dump, err := a.svc.DumpDatabase(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DumpResponse(dump))
}

func (a *API) DeleteAllData(w http.ResponseWriter, r *http.Request) {
	counts, err := a.svc.DeleteAllData(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteAllResponse{Message: "All data deleted", Deleted: counts})
}

func (a *API) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.DeleteDevice(r.Context(), deviceName(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteDeviceResponse{Message: "Device deleted", DeleteResult: res})
}

func (a *API) RegisterDevice(typ registry.DeviceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterDeviceRequest
		if !decode(w, r, &req) {
			return
		}
		if req.DeviceName == "" {
			writeDetail(w, http.StatusBadRequest, "device_name is required")
			return
		}
		device, err := a.svc.RegisterDevice(r.Context(), req.DeviceName, typ)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, DeviceResponse{Message: "Device added.", Device: device})
	}
}

func (a *API) ListDevices(typ registry.DeviceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := a.svc.ListDevices(r.Context(), typ)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DeviceNamesResponse{Devices: names})
	}
}

func (a *API) AddDoorData(w http.ResponseWriter, r *http.Request) {
	var req AddDoorDataRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DeviceName == "" || req.DoorStatus == "" || req.Battery == nil {
		writeDetail(w, http.StatusBadRequest, "device_name, door_status and battery are required")
		return
	}
	rec, err := a.svc.AddDoorReading(r.Context(), service.DoorInput{
		DeviceName: req.DeviceName,
		Timestamp:  req.Timestamp,
		DoorStatus: req.DoorStatus,
		Battery:    *req.Battery,
		Source:     service.SourceHTTP,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addDataResponse(rec))
}

func (a *API) AddAirData(w http.ResponseWriter, r *http.Request) {
	var req AddAirDataRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DeviceName == "" || req.PM25 == nil || req.PM10 == nil {
		writeDetail(w, http.StatusBadRequest, "device_name, pm25 and pm10 are required")
		return
	}
	rec, err := a.svc.AddAirSample(r.Context(), service.AirInput{
		DeviceName: req.DeviceName,
		Timestamp:  req.Timestamp,
		PM25:       *req.PM25,
		PM10:       *req.PM10,
		Source:     service.SourceHTTP,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addDataResponse(rec))
}

func (a *API) AddIssue(w http.ResponseWriter, r *http.Request) {
	var req AddIssueRequest
	if !decode(w, r, &req) {
		return
	}
	_, err := a.svc.AddIssue(r.Context(), service.IssueInput{
		DeviceName: req.DeviceName,
		Timestamp:  req.Timestamp,
		Exception:  req.Exception,
		Message:    req.ExceptionMessage,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Issue added successfully"})
}

func (a *API) GetLatestDoorInfo(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.LatestDoor(r.Context(), deviceName(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LatestDoorResponse{LatestInfo: st})
}

func (a *API) GetAllDoorInfo(w http.ResponseWriter, r *http.Request) {
	states, err := a.svc.DoorHistory(r.Context(), deviceName(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DoorHistoryResponse{LatestInfo: states})
}

func (a *API) GetAllDoorsCurrentState(w http.ResponseWriter, r *http.Request) {
	states, err := a.svc.AllDoorsCurrentState(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DoorsCurrentStateResponse{Devices: states})
}

func (a *API) GetLatestAirInfo(w http.ResponseWriter, r *http.Request) {
	report, err := a.svc.LatestAir(r.Context(), deviceName(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LatestAirResponse{LatestInfo: report})
}

func (a *API) GetAllAirInfo(w http.ResponseWriter, r *http.Request) {
	reports, err := a.svc.AirHistory(r.Context(), deviceName(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AirHistoryResponse{LatestInfo: reports})
}

func (a *API) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req RegisterWebhookRequest
	if !decode(w, r, &req) {
		return
	}
	if req.WebhookURL == "" {
		writeDetail(w, http.StatusBadRequest, "webhook_url is required")
		return
	}
	hook, err := a.svc.RegisterWebhook(r.Context(), req.WebhookURL, req.DeviceName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, webhookResponse("Webhook registered successfully", hook))
}

func (a *API) DisableWebhook(w http.ResponseWriter, r *http.Request) {
	hook, err := a.svc.DisableWebhook(r.Context(), chi.URLParam(r, "webhook_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse("Webhook disabled", hook))
}

// deviceName reads the device_name query parameter. Older clients send it as device_id.
func deviceName(r *http.Request) string {
	if name := r.URL.Query().Get("device_name"); name != "" {
		return name
	}
	return r.URL.Query().Get("device_id")
}

func addDataResponse(rec telemetry.Record) AddDataResponse {
	return AddDataResponse{
		Message:   "Data added successfully",
		EventID:   rec.EventID,
		Timestamp: storage.FormatTimestamp(rec.Timestamp),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, registry.ErrInvalidArgument),
		errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, telemetry.ErrInvalidPayload),
		errors.Is(err, webhook.ErrInvalidArgument),
		errors.Is(err, issue.ErrInvalidArgument),
		errors.Is(err, classify.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, service.ErrNoData),
		errors.Is(err, webhook.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status. Internal errors are logged and not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "request_id", chimw.GetReqID(r.Context()), "error", err)
		writeDetail(w, status, "Internal server error")
		return
	}
	slog.WarnContext(r.Context(), "Request rejected", "path", r.URL.Path, "status", status, "error", err)
	writeDetail(w, status, err.Error())
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request and feeds the HTTP metrics.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		slog.InfoContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
