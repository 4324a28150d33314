// Package ingest turns device readings into persisted, alert-evaluated
// records and hands them to the real-time broadcaster.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/alerts"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/realtime"
)

const lockStripes = 64

// Publisher fans persisted readings and alerts out to live viewers.
type Publisher interface {
	PublishReading(ctx context.Context, deviceID string, reading *models.Reading) realtime.Delivery
	PublishAlert(ctx context.Context, alert models.AlertEvent) realtime.Delivery
}

// Pipeline runs lookup, alert evaluation, persistence and broadcast for
// each incoming reading.
type Pipeline struct {
	devices   realtime.DeviceResolver
	readings  db.ReadingCollection
	publisher Publisher

	// Readings of the same device are saved and published in arrival order.
	// Devices hashing to different stripes never contend.
	stripes [lockStripes]sync.Mutex
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(devices realtime.DeviceResolver, readings db.ReadingCollection, publisher Publisher) *Pipeline {
	return &Pipeline{devices: devices, readings: readings, publisher: publisher}
}

func (p *Pipeline) lock(deviceID string) *sync.Mutex {
	return &p.stripes[xxhash.Sum64String(deviceID)%lockStripes]
}

// Ingest validates and processes one reading. It returns the persisted
// reading. A reading for an unknown device fails with an error wrapping
// directory.ErrDeviceNotFound and is neither stored nor broadcast.
func (p *Pipeline) Ingest(ctx context.Context, in models.ReadingInput) (*models.Reading, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	device, err := p.devices.FindByDeviceID(ctx, in.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("ingest reading for %s: %w", in.DeviceID, err)
	}

	reading := &models.Reading{
		DeviceID:            device.DeviceID,
		DeviceRef:           device.ID,
		Latitude:            *in.Latitude,
		Longitude:           *in.Longitude,
		FuelLevel:           *in.FuelLevel,
		Temperature:         *in.Temperature,
		Speed:               models.ValueOrZero(in.Speed),
		FuelConsumptionRate: models.ValueOrZero(in.FuelConsumptionRate),
	}
	messages := alerts.Evaluate(reading.FuelLevel, reading.Temperature, reading.FuelConsumptionRate, reading.Speed)
	reading.Alert = alerts.Join(messages)

	mu := p.lock(device.DeviceID)
	mu.Lock()
	defer mu.Unlock()

	if err := p.readings.SaveReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("save reading for %s: %w", device.DeviceID, err)
	}

	logger := log.WithFields(log.Fields{
		"device_id": device.DeviceID,
		"reading":   reading.ID.Hex(),
	})
	if reading.Alert != nil {
		logger = logger.WithField("alert", *reading.Alert)
	}
	logger.Debug("Reading stored")

	// Fan-out of a stored reading outlives the caller.
	pubCtx := context.WithoutCancel(ctx)
	p.publisher.PublishReading(pubCtx, device.DeviceID, reading)
	if reading.Alert != nil {
		p.publisher.PublishAlert(pubCtx, models.AlertEvent{
			DeviceID:   device.DeviceID,
			DeviceName: device.Name,
			Message:    *reading.Alert,
			FuelLevel:  reading.FuelLevel,
			Latitude:   reading.Latitude,
			Longitude:  reading.Longitude,
			Timestamp:  reading.Timestamp,
		})
	}
	return reading, nil
}
