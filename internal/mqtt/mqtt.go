package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	k "pat-backend/internal/kafka"
	"pat-backend/internal/processors/ingester"
	"pat-backend/internal/service"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrSubscribeFailed  = errors.New("mqtt subscribe failed")
	ErrInvalidTopic     = errors.New("invalid topic")
	ErrParseMessage     = errors.New("error parsing message")
)

const (
	connectTimeout    = 10 * time.Second
	handlerTimeout    = 10 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 1000 // milliseconds
)

type Config struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Subscriber receives sensor readings on <prefix>/<device_name>/<door|air>.
type Subscriber struct {
	cfg    Config
	client pahomqtt.Client
	svc    ingester.Recorder
}

func New(cfg Config, svc ingester.Recorder) *Subscriber {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "pat"
	}
	return &Subscriber{cfg: cfg, svc: svc}
}

// Topic is the wildcard subscription covering every device and kind.
func (s *Subscriber) Topic() string {
	return s.cfg.TopicPrefix + "/+/+"
}

// Connect dials the broker. Subscriptions are (re)installed on every connect.
func (s *Subscriber) Connect(ctx context.Context) error {
	const fn = "MQTT:Connect"
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		token := c.Subscribe(s.Topic(), s.cfg.QoS, s.onMessage)
		if token.WaitTimeout(connectTimeout) && token.Error() == nil {
			slog.InfoContext(ctx, "Subscribed to sensor topics", "topic", s.Topic())
			return
		}
		slog.ErrorContext(ctx, "Error subscribing to sensor topics", "topic", s.Topic(), "error", fmt.Errorf("%s:%w:%w", fn, ErrSubscribeFailed, token.Error()))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		slog.WarnContext(ctx, "MQTT connection lost", "error", err)
	})

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%s:%w: timeout after %v", fn, ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrConnectionFailed, err)
	}
	slog.InfoContext(ctx, "Connected to MQTT broker", "broker", s.cfg.Broker)
	return nil
}

func (s *Subscriber) Close(ctx context.Context) {
	if s.client == nil {
		return
	}
	slog.InfoContext(ctx, "Closing MQTT subscriber...")
	s.client.Disconnect(disconnectQuiesce)
}

func (s *Subscriber) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := s.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
		slog.ErrorContext(ctx, "Error handling MQTT message", "topic", msg.Topic(), "error", err)
	}
}

// Handle stores one message. Device name and kind come from the topic and
// override anything in the payload.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) error {
	const fn = "MQTT:Handle"
	name, kind, err := s.parseTopic(topic)
	if err != nil {
		return fmt.Errorf("%s:%w", fn, err)
	}
	var reading k.SensorReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrParseMessage, err)
	}
	reading.DeviceName = name
	reading.Kind = kind
	rec, err := ingester.Apply(ctx, s.svc, reading, service.SourceMQTT)
	if err != nil {
		return fmt.Errorf("%s:%w", fn, err)
	}
	slog.InfoContext(ctx, "Ingested MQTT reading", "device_name", name, "kind", kind, "event_id", rec.EventID)
	return nil
}

func (s *Subscriber) parseTopic(topic string) (string, string, error) {
	rest, ok := strings.CutPrefix(topic, s.cfg.TopicPrefix+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if parts[1] != k.KindDoor && parts[1] != k.KindAir {
		return "", "", fmt.Errorf("%w: unknown kind in %q", ErrInvalidTopic, topic)
	}
	return parts[0], parts[1], nil
}
