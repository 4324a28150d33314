package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("document not found")

// ReadingCollection defines the interface for telemetry reading operations.
type ReadingCollection interface {
	SaveReading(ctx context.Context, reading *models.Reading) error
	Latest(ctx context.Context, deviceID string, limit int) ([]models.Reading, error)
	Historical(ctx context.Context, deviceID string, start, end *time.Time) ([]models.Reading, error)
	ActiveAlerts(ctx context.Context, limit int) ([]models.Reading, error)
	Statistics(ctx context.Context, deviceID string) (*models.DeviceStatistics, error)
}

// DeviceCollection defines the interface for device data operations.
type DeviceCollection interface {
	InsertDevice(ctx context.Context, device *models.Device) error
	FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	FindDeviceByID(ctx context.Context, id string) (*models.Device, error)
	FindDevices(ctx context.Context, ownerID string) ([]models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
}

const (
	DefaultLatestLimit = 10
	DefaultAlertsLimit = 50
)
