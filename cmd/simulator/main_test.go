package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

func TestHaversineKm(t *testing.T) {
	london := Location{Lat: 51.5074, Lon: -0.1278}
	paris := Location{Lat: 48.8566, Lon: 2.3522}

	assert.InDelta(t, 343.5, haversineKm(london, paris), 2.0)
	assert.Equal(t, 0.0, haversineKm(london, london))
}

func TestJitterLocationStaysClose(t *testing.T) {
	base := Location{Lat: 40.4168, Lon: -3.7038}
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, haversineKm(base, jitterLocation(base, 500)), 0.75)
	}
}

func TestGenerateDeviceID(t *testing.T) {
	id := generateDeviceID(7)
	assert.Regexp(t, regexp.MustCompile(`^DEV-[0-9A-F]{4}-0007$`), id)
	assert.NotEqual(t, id, generateDeviceID(7))
}

func TestDeviceIDs(t *testing.T) {
	t.Run("from env", func(t *testing.T) {
		assert.Equal(t, []string{"DEV-A", "DEV-B"}, deviceIDs(" DEV-A, ,DEV-B ", 10))
	})
	t.Run("generated", func(t *testing.T) {
		ids := deviceIDs("", 3)
		require.Len(t, ids, 3)
		assert.Regexp(t, `-0003$`, ids[2])
	})
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SIM_TEST_INT", "5")
	assert.Equal(t, 5, envInt("SIM_TEST_INT", 1))

	t.Setenv("SIM_TEST_INT", "nope")
	assert.Equal(t, 1, envInt("SIM_TEST_INT", 1))

	t.Setenv("SIM_TEST_INT", "-2")
	assert.Equal(t, 1, envInt("SIM_TEST_INT", 1))
}

func TestDeviceState_StepProducesValidReadings(t *testing.T) {
	s := newDeviceState("DEV-TEST-0001")
	start := s.Position

	for i := 0; i < 500; i++ {
		s.Step(30 * time.Second)
		in := s.Reading()
		require.NoError(t, in.Validate(), "step %d", i)
		assert.GreaterOrEqual(t, *in.Speed, minSpeedKmh)
		assert.LessOrEqual(t, *in.Speed, maxSpeedKmh)
		assert.LessOrEqual(t, *in.FuelLevel, tankLiters)
	}
	assert.NotEqual(t, start, s.Position)
}

func TestDeviceState_Refuels(t *testing.T) {
	s := newDeviceState("DEV-TEST-0001")
	s.FuelLiters = refuelBelow + 0.01

	s.Step(time.Hour)

	assert.Equal(t, tankLiters, s.FuelLiters)
}

func TestDeviceState_MoveFollowsRoute(t *testing.T) {
	s := &DeviceState{Position: Location{Lat: 0, Lon: 0}}
	s.Route = []Location{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}
	seg := haversineKm(s.Route[0], s.Route[1])

	s.move(seg / 2)

	assert.InDelta(t, 0.5, s.Position.Lon, 0.001)
	assert.Equal(t, 0, s.SegIndex)
}

func TestClient_SendReading(t *testing.T) {
	var got models.ReadingInput
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sensors/ingest", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Data ingested successfully","alert":"Critical fuel: 8.0L","timestamp":"2025-01-01T00:00:00Z"}`))
	}))
	defer server.Close()

	s := newDeviceState("DEV-TEST-0001")
	s.Step(time.Second)

	resp, err := NewClient(server.URL+"/", "").SendReading(context.Background(), s.Reading())

	require.NoError(t, err)
	require.NotNil(t, resp.Alert)
	assert.Equal(t, "Critical fuel: 8.0L", *resp.Alert)
	assert.Equal(t, "DEV-TEST-0001", got.DeviceID)
	assert.NotNil(t, got.FuelConsumptionRate)
}

func TestClient_SendReadingRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Device not found"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").SendReading(context.Background(), models.ReadingInput{DeviceID: "DEV-X"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestClient_SendReadingUnreachable(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "").SendReading(context.Background(), models.ReadingInput{DeviceID: "DEV-X"})
	assert.Error(t, err)
}

func TestClient_EnsureDevice(t *testing.T) {
	for _, tt := range []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"created", http.StatusCreated, false},
		{"already registered", http.StatusConflict, false},
		{"unauthorized", http.StatusUnauthorized, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var auth atomic.Value
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/devices", r.URL.Path)
				auth.Store(r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewClient(server.URL, "tok").EnsureDevice(context.Background(), "DEV-A", "Vehicle 1")

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, "Bearer tok", auth.Load())
		})
	}
}

func TestSimulateDevice_StopsOnCancel(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"ok","alert":null,"timestamp":"2025-01-01T00:00:00Z"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		simulateDevice(ctx, NewClient(server.URL, ""), newDeviceState("DEV-A"), 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&hits) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulateDevice did not stop after cancel")
	}
}
