package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func validInput() ReadingInput {
	return ReadingInput{
		DeviceID:    "DEV-ABCD-1234",
		Latitude:    f(28.46),
		Longitude:   f(-16.25),
		FuelLevel:   f(40),
		Temperature: f(80),
	}
}

func TestReadingInput_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *ReadingInput)
		field  string
	}{
		{"valid", func(in *ReadingInput) {}, ""},
		{"missing device", func(in *ReadingInput) { in.DeviceID = " " }, "deviceId"},
		{"missing latitude", func(in *ReadingInput) { in.Latitude = nil }, "latitude"},
		{"latitude too high", func(in *ReadingInput) { in.Latitude = f(90.1) }, "latitude"},
		{"longitude too low", func(in *ReadingInput) { in.Longitude = f(-180.5) }, "longitude"},
		{"negative fuel", func(in *ReadingInput) { in.FuelLevel = f(-1) }, "fuelLevel"},
		{"temperature too hot", func(in *ReadingInput) { in.Temperature = f(151) }, "temperature"},
		{"temperature too cold", func(in *ReadingInput) { in.Temperature = f(-51) }, "temperature"},
		{"negative speed", func(in *ReadingInput) { in.Speed = f(-3) }, "speed"},
		{"NaN consumption", func(in *ReadingInput) { in.FuelConsumptionRate = f(math.NaN()) }, "fuelConsumptionRate"},
		{"boundaries accepted", func(in *ReadingInput) {
			in.Latitude, in.Longitude, in.Temperature, in.FuelLevel = f(-90), f(180), f(150), f(0)
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := in.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValueOrZero(t *testing.T) {
	assert.Equal(t, 0.0, ValueOrZero(nil))
	assert.Equal(t, 12.5, ValueOrZero(f(12.5)))
}

func TestEncodeEvent(t *testing.T) {
	alert := "Critical fuel: 5.0L"
	ts := time.Date(2025, 10, 27, 18, 30, 0, 0, time.UTC)
	reading := &Reading{DeviceID: "DEV-1", FuelLevel: 5, Alert: &alert, Timestamp: ts}

	data, err := EncodeEvent(NewSensorDataEvent(reading))
	require.NoError(t, err)

	var frame struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, EventSensorData, frame.Event)
	assert.Equal(t, "DEV-1", frame.Data["deviceId"])
	assert.Equal(t, alert, frame.Data["alert"])
	assert.Equal(t, "2025-10-27T18:30:00Z", frame.Data["timestamp"])
}

func TestSubscriptionEvent_Name(t *testing.T) {
	assert.Equal(t, EventSubscribed, SubscriptionEvent{Subscribed: true}.EventName())
	assert.Equal(t, EventUnsubscribed, SubscriptionEvent{}.EventName())
}

func TestMaskDeviceID(t *testing.T) {
	assert.Equal(t, "DEV-****-1234", MaskDeviceID("DEV-ABCD-1234", false))
	assert.Equal(t, "DEV-ABCD-1234", MaskDeviceID("DEV-ABCD-1234", true))
	assert.Equal(t, "TRUCK7", MaskDeviceID("TRUCK7", false))
}
