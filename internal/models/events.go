package models

import (
	"encoding/json"
	"time"
)

// Real-time channel event names.
const (
	EventSensorData       = "sensorData"
	EventAlert            = "alert"
	EventConnected        = "connected"
	EventError            = "error"
	EventPong             = "pong"
	EventSubscribed       = "subscribed"
	EventUnsubscribed     = "unsubscribed"
	EventConnectedClients = "connectedClients"
)

// Event is a payload that can travel over the real-time channel.
type Event interface {
	EventName() string
}

// Envelope is the wire frame of every real-time message.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SensorDataEvent carries a persisted reading to its owner and to admins.
type SensorDataEvent struct {
	DeviceID            string    `json:"deviceId"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	FuelLevel           float64   `json:"fuelLevel"`
	Temperature         float64   `json:"temperature"`
	Speed               float64   `json:"speed"`
	FuelConsumptionRate float64   `json:"fuelConsumptionRate"`
	Alert               *string   `json:"alert"`
	Timestamp           time.Time `json:"timestamp"`
}

// AlertEvent is delivered to admin connections only.
type AlertEvent struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	Message    string    `json:"message"`
	FuelLevel  float64   `json:"fuelLevel"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConnectedEvent confirms a successful handshake.
type ConnectedEvent struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Role    Role   `json:"role"`
}

// ErrorEvent reports a rejected handshake or a refused client request.
type ErrorEvent struct {
	Message string `json:"message"`
}

// PongEvent answers a client ping.
type PongEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionEvent acknowledges subscribeToDevice and unsubscribeFromDevice.
type SubscriptionEvent struct {
	Subscribed bool   `json:"-"`
	DeviceID   string `json:"deviceId"`
	Message    string `json:"message"`
}

// ConnectedClient describes one live connection in the admin client list.
type ConnectedClient struct {
	ConnectionID  string   `json:"connectionId"`
	UserID        string   `json:"userId"`
	Role          Role     `json:"role"`
	Subscriptions []string `json:"subscriptions"`
}

// ConnectedClientsEvent lists the live connections for an admin.
type ConnectedClientsEvent struct {
	Count   int               `json:"count"`
	Clients []ConnectedClient `json:"clients"`
}

func (SensorDataEvent) EventName() string       { return EventSensorData }
func (AlertEvent) EventName() string            { return EventAlert }
func (ConnectedEvent) EventName() string        { return EventConnected }
func (ErrorEvent) EventName() string            { return EventError }
func (PongEvent) EventName() string             { return EventPong }
func (ConnectedClientsEvent) EventName() string { return EventConnectedClients }

func (e SubscriptionEvent) EventName() string {
	if e.Subscribed {
		return EventSubscribed
	}
	return EventUnsubscribed
}

// NewSensorDataEvent builds the sensorData payload of a persisted reading.
func NewSensorDataEvent(r *Reading) SensorDataEvent {
	return SensorDataEvent{
		DeviceID:            r.DeviceID,
		Latitude:            r.Latitude,
		Longitude:           r.Longitude,
		FuelLevel:           r.FuelLevel,
		Temperature:         r.Temperature,
		Speed:               r.Speed,
		FuelConsumptionRate: r.FuelConsumptionRate,
		Alert:               r.Alert,
		Timestamp:           r.Timestamp,
	}
}

// EncodeEvent serializes an event into its wire envelope.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(Envelope{Event: e.EventName(), Data: e})
}

// ClientMessage is a frame sent by a connected viewer.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DeviceRequest is the data of subscribeToDevice and unsubscribeFromDevice.
type DeviceRequest struct {
	DeviceID string `json:"deviceId"`
}
