package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// Location is a point on the map.
type Location struct {
	Lat float64
	Lon float64
}

// Cities for realistic routes
var cities = []Location{
	{Lat: 51.5074, Lon: -0.1278},  // London
	{Lat: 40.7128, Lon: -74.0060}, // New York
	{Lat: 40.4168, Lon: -3.7038},  // Madrid
	{Lat: 35.1856, Lon: 33.3823},  // Nicosia
	{Lat: 4.7110, Lon: -74.0721},  // Bogotá
	{Lat: 48.8566, Lon: 2.3522},   // Paris
	{Lat: 41.0082, Lon: 28.9784},  // Istanbul
	{Lat: 52.5200, Lon: 13.4050},  // Berlin
	{Lat: 35.6762, Lon: 139.6503}, // Tokyo
	{Lat: -33.8688, Lon: 151.2093},
}

func jitterLocation(base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func randomLocation() Location {
	return jitterLocation(cities[rand.Intn(len(cities))], 500)
}

func haversineKm(a, b Location) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

func lerp(a, b Location, t float64) Location {
	return Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// --- API client ---

// Client talks to the telemetry service.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the service at baseURL. token is only needed
// to register devices.
func NewClient(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// EnsureDevice registers a device. A device that already exists is not an error.
func (c *Client) EnsureDevice(ctx context.Context, deviceID, name string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(models.CreateDeviceRequest{DeviceID: deviceID, Name: name, Model: "Simulated"}).
		Post("/api/devices")
	if err != nil {
		return fmt.Errorf("register device %s: %w", deviceID, err)
	}
	switch resp.StatusCode() {
	case http.StatusCreated, http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("register device %s: status %d: %s", deviceID, resp.StatusCode(), resp.String())
	}
}

// SendReading posts one reading to the ingestion endpoint.
func (c *Client) SendReading(ctx context.Context, in models.ReadingInput) (*models.IngestResponse, error) {
	var out models.IngestResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&out).
		Post("/api/sensors/ingest")
	if err != nil {
		return nil, fmt.Errorf("send reading for %s: %w", in.DeviceID, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("send reading for %s: status %d: %s", in.DeviceID, resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// --- Vehicle model ---

const (
	tankLiters  = 60.0
	refuelBelow = 4.0
	minSpeedKmh = 15.0
	maxSpeedKmh = 90.0
)

// DeviceState is the simulated condition of one vehicle.
type DeviceState struct {
	DeviceID     string
	Position     Location
	SpeedKmh     float64
	FuelLiters   float64
	Temperature  float64
	Consumption  float64 // L/h
	Route        []Location
	SegIndex     int
	SegOffsetKm  float64
	overheatLeft int
}

func newDeviceState(deviceID string) *DeviceState {
	return &DeviceState{
		DeviceID:    deviceID,
		Position:    randomLocation(),
		SpeedKmh:    30 + rand.Float64()*30,
		FuelLiters:  20 + rand.Float64()*(tankLiters-20),
		Temperature: 70 + rand.Float64()*10,
	}
}

func (s *DeviceState) planRoute() {
	end := jitterLocation(s.Position, 20000)
	s.Route = []Location{s.Position, lerp(s.Position, end, 0.5), end}
	s.SegIndex = 0
	s.SegOffsetKm = 0
}

func (s *DeviceState) move(km float64) {
	if len(s.Route) < 2 || s.SegIndex >= len(s.Route)-1 {
		s.planRoute()
	}
	for km > 0 && s.SegIndex < len(s.Route)-1 {
		a, b := s.Route[s.SegIndex], s.Route[s.SegIndex+1]
		segLen := haversineKm(a, b)
		left := segLen - s.SegOffsetKm
		if km >= left {
			s.Position = b
			s.SegIndex++
			s.SegOffsetKm = 0
			km -= left
			continue
		}
		s.SegOffsetKm += km
		s.Position = lerp(a, b, s.SegOffsetKm/segLen)
		km = 0
	}
}

// Step advances the vehicle by one tick.
func (s *DeviceState) Step(tick time.Duration) {
	hours := tick.Hours()

	s.SpeedKmh = clamp(s.SpeedKmh+(rand.Float64()*2-1)*3, minSpeedKmh, maxSpeedKmh)
	s.move(s.SpeedKmh * hours)

	s.Consumption = s.SpeedKmh*0.08 + rand.Float64()*2
	s.FuelLiters -= s.Consumption * hours
	if s.FuelLiters < refuelBelow {
		s.FuelLiters = tankLiters
	}

	// Occasional overheating episodes so the alert path gets exercised.
	if s.overheatLeft == 0 && rand.Float64() < 0.02 {
		s.overheatLeft = 3 + rand.Intn(3)
	}
	target := 70 + s.SpeedKmh*0.15
	if s.overheatLeft > 0 {
		target = 95 + rand.Float64()*10
		s.overheatLeft--
	}
	s.Temperature = clamp(s.Temperature+(target-s.Temperature)*0.5+(rand.Float64()*2-1), -50, 150)
}

// Reading returns the current state as an ingestion payload.
func (s *DeviceState) Reading() models.ReadingInput {
	lat, lon := s.Position.Lat, s.Position.Lon
	fuel := round1(s.FuelLiters)
	temp := round1(s.Temperature)
	speed := round1(s.SpeedKmh)
	rate := round1(s.Consumption)
	return models.ReadingInput{
		DeviceID:            s.DeviceID,
		Latitude:            &lat,
		Longitude:           &lon,
		FuelLevel:           &fuel,
		Temperature:         &temp,
		Speed:               &speed,
		FuelConsumptionRate: &rate,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func simulateDevice(ctx context.Context, client *Client, s *DeviceState, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		s.Step(interval)
		resp, err := client.SendReading(ctx, s.Reading())
		if err != nil {
			log.WithError(err).WithField("device_id", s.DeviceID).Error("Failed to send reading")
			continue
		}
		entry := log.WithFields(log.Fields{"device_id": s.DeviceID, "fuel": round1(s.FuelLiters), "temperature": round1(s.Temperature)})
		if resp.Alert != nil {
			entry.WithField("alert", *resp.Alert).Warn("Reading raised alert")
		} else {
			entry.Debug("Sent reading")
		}
	}
}

// generateDeviceID returns an id shaped like DEV-1A2B-0001.
func generateDeviceID(n int) string {
	return fmt.Sprintf("DEV-%s-%04d", strings.ToUpper(uuid.NewString()[:4]), n)
}

// deviceIDs takes SIM_DEVICE_IDS when set, otherwise generates fleetSize ids.
func deviceIDs(fromEnv string, fleetSize int) []string {
	var ids []string
	for _, id := range strings.Split(fromEnv, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return ids
	}
	for i := 1; i <= fleetSize; i++ {
		ids = append(ids, generateDeviceID(i))
	}
	return ids
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func main() {
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	token := os.Getenv("SIM_AUTH_TOKEN")
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	ids := deviceIDs(os.Getenv("SIM_DEVICE_IDS"), envInt("FLEET_SIZE", 10))

	log.WithFields(log.Fields{
		"fleet_size": len(ids),
		"api_url":    apiURL,
		"interval":   interval,
	}).Info("Starting fleet simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := NewClient(apiURL, token)
	states := make([]*DeviceState, 0, len(ids))
	for i, id := range ids {
		if token != "" {
			if err := client.EnsureDevice(ctx, id, fmt.Sprintf("Simulated vehicle %d", i+1)); err != nil {
				log.WithError(err).Error("Failed to register device")
				continue
			}
		}
		states = append(states, newDeviceState(id))
	}
	if len(states) == 0 {
		log.Error("No devices to simulate. Check SIM_AUTH_TOKEN and that the API is reachable.")
		return
	}
	if token == "" {
		log.Warn("SIM_AUTH_TOKEN not set: devices must already be registered")
	}

	for _, s := range states {
		go simulateDevice(ctx, client, s, interval)
	}
	log.WithField("devices", len(states)).Info("Telemetry simulation started")
	<-ctx.Done()
	log.Info("Simulation stopped")
}
