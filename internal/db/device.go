package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDuplicateDevice is returned when a public device id is already registered.
var ErrDuplicateDevice = errors.New("device id already exists")

// MongoDeviceCollection implements DeviceCollection for MongoDB
type MongoDeviceCollection struct {
	Collection *mongo.Collection
}

// InsertDevice inserts a new device. The public device id must be unique.
func (c *MongoDeviceCollection) InsertDevice(ctx context.Context, device *models.Device) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	now := time.Now().UTC()
	if device.ID.IsZero() {
		device.ID = primitive.NewObjectID()
	}
	device.CreatedAt = now
	device.UpdatedAt = now

	_, err := c.Collection.InsertOne(ctx, device)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateDevice
	}
	return err
}

// FindDeviceByDeviceID finds a device by its public identifier using the unique device_id index.
func (c *MongoDeviceCollection) FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	return c.findOne(ctx, bson.M{"device_id": deviceID})
}

// FindDeviceByID finds a device by its internal id.
func (c *MongoDeviceCollection) FindDeviceByID(ctx context.Context, id string) (*models.Device, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return c.findOne(ctx, bson.M{"_id": objectID})
}

// FindDevices lists devices, restricted to one owner unless ownerID is empty.
func (c *MongoDeviceCollection) FindDevices(ctx context.Context, ownerID string) ([]models.Device, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	filter := bson.M{}
	if ownerID != "" {
		objectID, err := primitive.ObjectIDFromHex(ownerID)
		if err != nil {
			return nil, fmt.Errorf("invalid owner ID: %w", err)
		}
		filter["owner_id"] = objectID
	}

	cursor, err := c.Collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	devices := make([]models.Device, 0)
	if err := cursor.All(ctx, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// UpdateDevice replaces the mutable fields of a device.
func (c *MongoDeviceCollection) UpdateDevice(ctx context.Context, device *models.Device) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	device.UpdatedAt = time.Now().UTC()

	result, err := c.Collection.UpdateOne(ctx, bson.M{"_id": device.ID}, bson.M{"$set": bson.M{
		"name":          device.Name,
		"model":         device.Model,
		"license_plate": device.LicensePlate,
		"is_active":     device.IsActive,
		"owner_id":      device.OwnerID,
		"updated_at":    device.UpdatedAt,
	}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *MongoDeviceCollection) findOne(ctx context.Context, filter bson.M) (*models.Device, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var device models.Device
	err := c.Collection.FindOne(ctx, filter).Decode(&device)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &device, nil
}
