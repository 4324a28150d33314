package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Readings sort newest first. ObjectIDs minted by one process increase
// monotonically, so _id breaks ties between equal timestamps.
var newestFirst = bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}

// MongoReadingCollection wraps a MongoDB collection for reading operations.
type MongoReadingCollection struct {
	Collection *mongo.Collection
}

// SaveReading assigns the id and the server timestamp, then inserts the reading.
func (c *MongoReadingCollection) SaveReading(ctx context.Context, reading *models.Reading) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	reading.ID = primitive.NewObjectID()
	// Mongo stores milliseconds; truncating keeps the returned value equal to the stored one.
	reading.Timestamp = time.Now().UTC().Truncate(time.Millisecond)

	if _, err := c.Collection.InsertOne(ctx, reading); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Latest returns at most limit readings of a device, newest first.
func (c *MongoReadingCollection) Latest(ctx context.Context, deviceID string, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	opts := options.Find().SetSort(newestFirst).SetLimit(int64(limit))
	return c.find(ctx, bson.M{"device_id": deviceID}, opts)
}

// Historical returns the readings of a device inside the optional inclusive time range, newest first.
func (c *MongoReadingCollection) Historical(ctx context.Context, deviceID string, start, end *time.Time) ([]models.Reading, error) {
	filter := bson.M{"device_id": deviceID}
	if rng := timeRange(start, end); rng != nil {
		filter["timestamp"] = rng
	}
	return c.find(ctx, filter, options.Find().SetSort(newestFirst))
}

// ActiveAlerts returns the most recent readings that carry an alert, across all devices.
func (c *MongoReadingCollection) ActiveAlerts(ctx context.Context, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		limit = DefaultAlertsLimit
	}
	opts := options.Find().SetSort(newestFirst).SetLimit(int64(limit))
	return c.find(ctx, bson.M{"alert": bson.M{"$type": "string"}}, opts)
}

// Statistics aggregates fuel, temperature and speed figures of a device.
func (c *MongoReadingCollection) Statistics(ctx context.Context, deviceID string) (*models.DeviceStatistics, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"device_id": deviceID}}},
		{{Key: "$group", Value: bson.M{
			"_id":           nil,
			"avg_fuel":      bson.M{"$avg": "$fuel_level"},
			"avg_temp":      bson.M{"$avg": "$temperature"},
			"avg_speed":     bson.M{"$avg": "$speed"},
			"min_fuel":      bson.M{"$min": "$fuel_level"},
			"max_temp":      bson.M{"$max": "$temperature"},
			"total_records": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := c.Collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate statistics: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &models.DeviceStatistics{}
	if cursor.Next(ctx) {
		if err := cursor.Decode(stats); err != nil {
			return nil, fmt.Errorf("decode statistics: %w", err)
		}
	}
	return stats, cursor.Err()
}

func (c *MongoReadingCollection) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Reading, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find readings: %w", err)
	}
	defer cursor.Close(ctx)

	readings := make([]models.Reading, 0)
	if err := cursor.All(ctx, &readings); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return readings, nil
}

func timeRange(start, end *time.Time) bson.M {
	if start == nil && end == nil {
		return nil
	}
	rng := bson.M{}
	if start != nil {
		rng["$gte"] = start.UTC()
	}
	if end != nil {
		rng["$lte"] = end.UTC()
	}
	return rng
}
