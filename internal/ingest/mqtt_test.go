package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// MockIngester is a mock implementation of Ingester
type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, in models.ReadingInput) (*models.Reading, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reading), args.Error(1)
}

// fakeMessage implements mqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func deviceIs(id string) interface{} {
	return mock.MatchedBy(func(in models.ReadingInput) bool { return in.DeviceID == id })
}

func TestMQTT_HandleMessageUsesPayloadDeviceID(t *testing.T) {
	ingester := new(MockIngester)
	ingester.On("Ingest", mock.Anything, deviceIs("DEV-PAYLOAD")).Return(&models.Reading{DeviceID: "DEV-PAYLOAD"}, nil)

	s := NewMQTTSubscriber("tcp://localhost:1883", "test", "fleet/+/telemetry", ingester)
	s.handleMessage(nil, &fakeMessage{
		topic:   "fleet/DEV-TOPIC/telemetry",
		payload: []byte(`{"deviceId":"DEV-PAYLOAD","latitude":1,"longitude":2,"fuelLevel":30,"temperature":40}`),
	})

	ingester.AssertExpectations(t)
}

func TestMQTT_HandleMessageFallsBackToTopic(t *testing.T) {
	ingester := new(MockIngester)
	ingester.On("Ingest", mock.Anything, deviceIs("DEV-TOPIC")).Return(&models.Reading{DeviceID: "DEV-TOPIC"}, nil)

	s := NewMQTTSubscriber("tcp://localhost:1883", "test", "fleet/+/telemetry", ingester)
	s.handleMessage(nil, &fakeMessage{
		topic:   "fleet/DEV-TOPIC/telemetry",
		payload: []byte(`{"latitude":1,"longitude":2,"fuelLevel":30,"temperature":40}`),
	})

	ingester.AssertExpectations(t)
}

func TestMQTT_HandleMessageDropsBadPayload(t *testing.T) {
	ingester := new(MockIngester)

	s := NewMQTTSubscriber("tcp://localhost:1883", "test", "fleet/+/telemetry", ingester)
	s.handleMessage(nil, &fakeMessage{topic: "fleet/DEV-1/telemetry", payload: []byte(`{nope`)})

	ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestMQTT_HandleMessageSurvivesIngestError(t *testing.T) {
	ingester := new(MockIngester)
	ingester.On("Ingest", mock.Anything, mock.Anything).Return(nil, errors.New("device not found"))

	s := NewMQTTSubscriber("tcp://localhost:1883", "test", "fleet/+/telemetry", ingester)
	assert.NotPanics(t, func() {
		s.handleMessage(nil, &fakeMessage{topic: "fleet/DEV-1/telemetry", payload: []byte(`{}`)})
	})
	ingester.AssertExpectations(t)
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic    string
		expected string
	}{
		{"fleet/DEV-1/telemetry", "DEV-1"},
		{"fleet/DEV-1", "DEV-1"},
		{"telemetry", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.expected, deviceIDFromTopic(tt.topic))
		})
	}
}

func TestMQTT_StartPendingKeepsSubscriberStoppable(t *testing.T) {
	s := NewMQTTSubscriber("tcp://127.0.0.1:1", "test", "fleet/+/telemetry", new(MockIngester))
	s.connectTimeout = 50 * time.Millisecond

	assert.ErrorIs(t, s.Start(), ErrConnectPending)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * mqttRetryInterval):
		t.Fatal("Stop did not return while the client was retrying")
	}
}
