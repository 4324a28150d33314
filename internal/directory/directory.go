// Package directory resolves public device identifiers to devices and their
// owners. Lookups go through a read-through cache in front of the device
// collection.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// ErrDeviceNotFound is returned when no device carries the requested public id.
var ErrDeviceNotFound = errors.New("device not found")

// Cache stores devices keyed by public id.
type Cache interface {
	Get(ctx context.Context, deviceID string) (*models.Device, error)
	Set(ctx context.Context, device *models.Device) error
	Delete(ctx context.Context, deviceID string) error
}

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Directory is the device lookup used by ingestion and broadcast.
type Directory struct {
	devices db.DeviceCollection
	cache   Cache
}

// New creates a Directory. cache may be nil.
func New(devices db.DeviceCollection, cache Cache) *Directory {
	return &Directory{devices: devices, cache: cache}
}

// FindByDeviceID returns the device with the given public id.
func (d *Directory) FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	if d.cache != nil {
		device, err := d.cache.Get(ctx, deviceID)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			log.WithError(err).WithField("device_id", deviceID).Warn("Device cache read failed")
		}
	}

	device, err := d.devices.FindDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("find device %s: %w", deviceID, err)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, device); err != nil {
			log.WithError(err).WithField("device_id", deviceID).Warn("Device cache write failed")
		}
	}
	return device, nil
}

// Invalidate drops a cached device so the next lookup sees the stored state.
func (d *Directory) Invalidate(ctx context.Context, deviceID string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Delete(ctx, deviceID); err != nil {
		log.WithError(err).WithField("device_id", deviceID).Warn("Device cache invalidation failed")
	}
}

// RedisCache is a Cache backed by Redis string keys holding JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed device cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

// Get returns the cached device or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	raw, err := c.client.Get(ctx, cacheKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get device: %w", err)
	}
	return decodeDevice(raw)
}

// Set caches a device for the configured TTL.
func (c *RedisCache) Set(ctx context.Context, device *models.Device) error {
	raw, err := encodeDevice(device)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(device.DeviceID), raw, c.ttl).Err()
}

// Delete removes a cached device.
func (c *RedisCache) Delete(ctx context.Context, deviceID string) error {
	return c.client.Del(ctx, cacheKey(deviceID)).Err()
}

func encodeDevice(device *models.Device) ([]byte, error) {
	return json.Marshal(device)
}

func decodeDevice(raw []byte) (*models.Device, error) {
	var device models.Device
	if err := json.Unmarshal(raw, &device); err != nil {
		return nil, fmt.Errorf("decode cached device: %w", err)
	}
	return &device, nil
}
