package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/akmatori/alertflow/internal/alerts"
	"github.com/akmatori/alertflow/internal/api"
	"github.com/akmatori/alertflow/internal/metrics"
	"github.com/akmatori/alertflow/internal/services"
	"github.com/akmatori/alertflow/internal/utils"
)

// SourceName is recorded as the origin of alerts received over MQTT
const SourceName = "mqtt"

const maxLoggedPayload = 256

// Submitter accepts raw alert occurrences
type Submitter interface {
	SubmitAlert(ctx context.Context, raw services.RawAlert) (*services.GroupResult, error)
}

// Message is the JSON body of an alert published to the broker
type Message struct {
	DeviceID   string     `json:"device_id" validate:"required"`
	Metric     string     `json:"metric" validate:"required"`
	Severity   string     `json:"severity" validate:"required"`
	Message    string     `json:"message"`
	OccurredAt *time.Time `json:"occurred_at"`
}

// MQTTSource subscribes to a topic and submits every message as an alert occurrence
type MQTTSource struct {
	broker   string
	clientID string
	topic    string
	submit   Submitter
	metrics  *metrics.Metrics
	timeout  time.Duration
}

// NewMQTTSource creates an MQTT alert source
func NewMQTTSource(broker, clientID, topic string, submit Submitter, m *metrics.Metrics) *MQTTSource {
	return &MQTTSource{
		broker:   broker,
		clientID: clientID,
		topic:    topic,
		submit:   submit,
		metrics:  m,
		timeout:  10 * time.Second,
	}
}

// Run connects to the broker and consumes messages until ctx is cancelled.
// The subscription is re-established on every reconnect.
func (s *MQTTSource) Run(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.broker)
	opts.SetClientID(s.clientID)
	opts.SetConnectTimeout(s.timeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.topic, 1, func(_ paho.Client, msg paho.Message) {
			if err := s.HandleMessage(ctx, msg.Payload()); err != nil {
				log.WithFields(log.Fields{
					"topic":   msg.Topic(),
					"payload": utils.EscapeForLogging(string(msg.Payload()), maxLoggedPayload),
				}).WithError(err).Warn("Dropping MQTT alert")
			}
		})
		if !token.WaitTimeout(s.timeout) || token.Error() != nil {
			log.WithError(token.Error()).WithField("topic", s.topic).Error("MQTT subscribe failed")
			return
		}
		log.WithField("topic", s.topic).Info("Subscribed to MQTT alert topic")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("timed out connecting to MQTT broker %s", s.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.broker, err)
	}
	log.WithField("broker", s.broker).Info("MQTT alert source connected")

	<-ctx.Done()
	client.Unsubscribe(s.topic).WaitTimeout(time.Second)
	client.Disconnect(250)
	log.Info("MQTT alert source stopped")
	return nil
}

// HandleMessage decodes one payload and submits it. Malformed payloads are
// counted as rejected and returned as errors.
func (s *MQTTSource) HandleMessage(ctx context.Context, payload []byte) error {
	raw, err := ParseMessage(payload)
	if err != nil {
		s.metrics.Rejected(SourceName)
		return err
	}
	if _, err := s.submit.SubmitAlert(ctx, *raw); err != nil {
		s.metrics.Rejected(SourceName)
		return fmt.Errorf("submit failed: %w", err)
	}
	return nil
}

// ParseMessage validates a JSON payload and converts it to a raw alert
func ParseMessage(payload []byte) (*services.RawAlert, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if fieldErrors := api.Validate(msg); fieldErrors != nil {
		fields := make([]string, 0, len(fieldErrors))
		for field, reason := range fieldErrors {
			fields = append(fields, field+": "+reason)
		}
		sort.Strings(fields)
		return nil, fmt.Errorf("invalid alert: %s", strings.Join(fields, ", "))
	}

	raw := &services.RawAlert{
		DeviceID: msg.DeviceID,
		Metric:   msg.Metric,
		Severity: alerts.NormalizeSeverity(msg.Severity),
		Message:  msg.Message,
		Source:   SourceName,
	}
	if msg.OccurredAt != nil {
		raw.OccurredAt = msg.OccurredAt.UTC()
	}
	return raw, nil
}
