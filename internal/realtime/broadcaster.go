package realtime

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// DeviceResolver resolves a public device id to its device record.
type DeviceResolver interface {
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
}

// Delivery summarizes one publish call.
type Delivery struct {
	Attempted int
	Failed    int
}

// Broadcaster pushes events to the registered connections allowed to see them.
// Authorization is evaluated per publish from the current device owner, so an
// ownership change takes effect without any channel bookkeeping.
type Broadcaster struct {
	registry *Registry
	devices  DeviceResolver
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, devices DeviceResolver) *Broadcaster {
	return &Broadcaster{registry: registry, devices: devices}
}

// PublishReading delivers a persisted reading to the device owner and to every admin.
func (b *Broadcaster) PublishReading(ctx context.Context, deviceID string, reading *models.Reading) Delivery {
	device, err := b.devices.FindByDeviceID(ctx, deviceID)
	if err != nil {
		log.WithError(err).WithField("device_id", deviceID).Warn("Skipping sensor data broadcast, device unresolved")
		return Delivery{}
	}

	recipients := b.registry.Recipients(device.OwnerID.Hex())
	d := b.deliver(models.NewSensorDataEvent(reading), recipients)
	log.WithFields(log.Fields{
		"device_id":  deviceID,
		"recipients": d.Attempted,
		"failed":     d.Failed,
	}).Debug("Broadcasted sensor data")
	return d
}

// PublishAlert delivers an alert to admin connections only, whoever owns the device.
func (b *Broadcaster) PublishAlert(ctx context.Context, alert models.AlertEvent) Delivery {
	d := b.deliver(alert, b.registry.Admins())
	log.WithFields(log.Fields{
		"device_id":  alert.DeviceID,
		"message":    alert.Message,
		"recipients": d.Attempted,
		"failed":     d.Failed,
	}).Info("Alert sent to admins")
	return d
}

func (b *Broadcaster) deliver(event models.Event, recipients []Conn) Delivery {
	if len(recipients) == 0 {
		return Delivery{}
	}
	msg, err := models.EncodeEvent(event)
	if err != nil {
		log.WithError(err).WithField("event", event.EventName()).Error("Failed to encode event")
		return Delivery{}
	}

	d := Delivery{Attempted: len(recipients)}
	for _, conn := range recipients {
		if err := conn.Send(msg); err != nil {
			d.Failed++
			log.WithError(err).WithFields(log.Fields{
				"connection_id": conn.ID(),
				"event":         event.EventName(),
			}).Warn("Delivery failed")
		}
	}
	return d
}
