package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttRetryInterval  = 2 * time.Second
	mqttIngestTimeout  = 5 * time.Second
)

// ErrConnectPending is returned by Start when the broker did not answer in
// time. The client keeps retrying in the background.
var ErrConnectPending = errors.New("mqtt connect pending")

// Ingester is the part of Pipeline the MQTT transport drives.
type Ingester interface {
	Ingest(ctx context.Context, in models.ReadingInput) (*models.Reading, error)
}

// MQTTSubscriber feeds readings published on an MQTT topic into the pipeline.
type MQTTSubscriber struct {
	client         mqtt.Client
	connectTimeout time.Duration
	topic          string
	ingester       Ingester
}

// NewMQTTSubscriber configures a client for broker. The subscription is
// (re)established on every connect so it survives broker restarts.
func NewMQTTSubscriber(broker, clientID, topic string, ingester Ingester) *MQTTSubscriber {
	s := &MQTTSubscriber{topic: topic, ingester: ingester, connectTimeout: mqttConnectTimeout}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		// Stop waits out a pending retry, so keep the interval short.
		SetConnectRetryInterval(mqttRetryInterval).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. On ErrConnectPending the subscriber is still
// live and must be stopped like a connected one.
func (s *MQTTSubscriber) Start() error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.connectTimeout) {
		return ErrConnectPending
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Stop disconnects, giving in-flight handlers a moment to finish.
func (s *MQTTSubscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *MQTTSubscriber) onConnect(c mqtt.Client) {
	token := c.Subscribe(s.topic, mqttQoS, s.handleMessage)
	if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
		log.WithError(token.Error()).WithField("topic", s.topic).Error("MQTT subscribe failed")
		return
	}
	log.WithField("topic", s.topic).Info("Subscribed to MQTT telemetry")
}

func (s *MQTTSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	logger := log.WithField("topic", msg.Topic())

	var in models.ReadingInput
	if err := json.Unmarshal(msg.Payload(), &in); err != nil {
		logger.WithError(err).Warn("Dropping malformed MQTT reading")
		return
	}
	if strings.TrimSpace(in.DeviceID) == "" {
		in.DeviceID = deviceIDFromTopic(msg.Topic())
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttIngestTimeout)
	defer cancel()

	reading, err := s.ingester.Ingest(ctx, in)
	if err != nil {
		logger.WithError(err).WithField("device_id", in.DeviceID).Warn("Dropping MQTT reading")
		return
	}
	logger.WithField("device_id", reading.DeviceID).Debug("Ingested MQTT reading")
}

// deviceIDFromTopic returns the second segment of topics shaped like
// fleet/{deviceId}/telemetry.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
