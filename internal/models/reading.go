package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Reading is one persisted telemetry sample of a device.
type Reading struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DeviceID            string             `bson:"device_id" json:"deviceId"`
	DeviceRef           primitive.ObjectID `bson:"device_ref" json:"-"`
	Latitude            float64            `bson:"latitude" json:"latitude"`
	Longitude           float64            `bson:"longitude" json:"longitude"`
	FuelLevel           float64            `bson:"fuel_level" json:"fuelLevel"`                     // liters
	Temperature         float64            `bson:"temperature" json:"temperature"`                  // °C
	Speed               float64            `bson:"speed" json:"speed"`                              // km/h
	FuelConsumptionRate float64            `bson:"fuel_consumption_rate" json:"fuelConsumptionRate"` // L/h
	Alert               *string            `bson:"alert" json:"alert"`
	Timestamp           time.Time          `bson:"timestamp" json:"timestamp"`
}

// ReadingInput is the ingestion payload sent by devices.
type ReadingInput struct {
	DeviceID            string   `json:"deviceId"`
	Latitude            *float64 `json:"latitude"`
	Longitude           *float64 `json:"longitude"`
	FuelLevel           *float64 `json:"fuelLevel"`
	Temperature         *float64 `json:"temperature"`
	Speed               *float64 `json:"speed,omitempty"`
	FuelConsumptionRate *float64 `json:"fuelConsumptionRate,omitempty"`
}

// IngestResponse is returned to the ingestion caller.
type IngestResponse struct {
	Message   string    `json:"message"`
	Alert     *string   `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatistics aggregates the stored readings of one device.
type DeviceStatistics struct {
	AverageFuelLevel   float64 `bson:"avg_fuel" json:"averageFuelLevel"`
	AverageTemperature float64 `bson:"avg_temp" json:"averageTemperature"`
	AverageSpeed       float64 `bson:"avg_speed" json:"averageSpeed"`
	MinimumFuelLevel   float64 `bson:"min_fuel" json:"minimumFuelLevel"`
	MaximumTemperature float64 `bson:"max_temp" json:"maximumTemperature"`
	TotalRecords       int64   `bson:"total_records" json:"totalRecords"`
}

// ValidationError reports a malformed or out-of-range input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Validate checks presence and ranges of every field of the payload.
func (in *ReadingInput) Validate() error {
	if strings.TrimSpace(in.DeviceID) == "" {
		return &ValidationError{Field: "deviceId", Reason: "is required"}
	}
	if err := checkRange("latitude", in.Latitude, true, -90, 90); err != nil {
		return err
	}
	if err := checkRange("longitude", in.Longitude, true, -180, 180); err != nil {
		return err
	}
	if err := checkRange("fuelLevel", in.FuelLevel, true, 0, math.Inf(1)); err != nil {
		return err
	}
	if err := checkRange("temperature", in.Temperature, true, -50, 150); err != nil {
		return err
	}
	if err := checkRange("speed", in.Speed, false, 0, math.Inf(1)); err != nil {
		return err
	}
	return checkRange("fuelConsumptionRate", in.FuelConsumptionRate, false, 0, math.Inf(1))
}

func checkRange(field string, v *float64, required bool, min, max float64) error {
	if v == nil {
		if required {
			return &ValidationError{Field: field, Reason: "is required"}
		}
		return nil
	}
	if math.IsNaN(*v) || *v < min || *v > max {
		if math.IsInf(max, 1) {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("must be >= %g", min)}
		}
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be between %g and %g", min, max)}
	}
	return nil
}

// ValueOrZero returns *v, or 0 when the optional field was omitted.
func ValueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
