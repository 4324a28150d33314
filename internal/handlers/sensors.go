package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/directory"
	"github.com/ukydev/fleet-telemetry/internal/ingest"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

const maxQueryLimit = 1000

// DeviceLookup resolves a public device id.
type DeviceLookup interface {
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
}

// SensorHandler serves ingestion and telemetry queries.
type SensorHandler struct {
	ingester ingest.Ingester
	readings db.ReadingCollection
	devices  DeviceLookup
}

// NewSensorHandler creates a sensor handler.
func NewSensorHandler(ingester ingest.Ingester, readings db.ReadingCollection, devices DeviceLookup) *SensorHandler {
	return &SensorHandler{ingester: ingester, readings: readings, devices: devices}
}

// Ingest accepts one reading from a device.
func (h *SensorHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var in models.ReadingInput
	if !decodeJSON(w, r, &in) {
		return
	}

	reading, err := h.ingester.Ingest(r.Context(), in)
	if err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr):
			respondWithError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, directory.ErrDeviceNotFound):
			respondWithError(w, http.StatusNotFound, "Device not found")
		default:
			log.WithError(err).WithField("device_id", in.DeviceID).Error("Ingestion failed")
			respondWithError(w, http.StatusInternalServerError, "Failed to ingest data")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, models.IngestResponse{
		Message:   "Data ingested successfully",
		Alert:     reading.Alert,
		Timestamp: reading.Timestamp,
	})
}

// Latest returns the most recent readings of a device.
func (h *SensorHandler) Latest(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.authorizeDevice(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), db.DefaultLatestLimit)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := h.readings.Latest(r.Context(), deviceID, limit)
	if err != nil {
		log.WithError(err).WithField("device_id", deviceID).Error("Failed to query latest readings")
		respondWithError(w, http.StatusInternalServerError, "Failed to query readings")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

// Historical returns readings of a device inside an optional time range.
func (h *SensorHandler) Historical(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.authorizeDevice(w, r)
	if !ok {
		return
	}

	start, err := parseTime(r.URL.Query().Get("startDate"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "startDate must be RFC3339")
		return
	}
	end, err := parseTime(r.URL.Query().Get("endDate"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "endDate must be RFC3339")
		return
	}
	if start != nil && end != nil && start.After(*end) {
		respondWithError(w, http.StatusBadRequest, "startDate must not be after endDate")
		return
	}

	data, err := h.readings.Historical(r.Context(), deviceID, start, end)
	if err != nil {
		log.WithError(err).WithField("device_id", deviceID).Error("Failed to query historical readings")
		respondWithError(w, http.StatusInternalServerError, "Failed to query readings")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

// Alerts returns the most recent readings that raised an alert, fleet-wide.
func (h *SensorHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), db.DefaultAlertsLimit)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := h.readings.ActiveAlerts(r.Context(), limit)
	if err != nil {
		log.WithError(err).Error("Failed to query alerts")
		respondWithError(w, http.StatusInternalServerError, "Failed to query alerts")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// Statistics returns aggregates over every stored reading of a device.
func (h *SensorHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.authorizeDevice(w, r)
	if !ok {
		return
	}

	stats, err := h.readings.Statistics(r.Context(), deviceID)
	if err != nil {
		log.WithError(err).WithField("device_id", deviceID).Error("Failed to compute statistics")
		respondWithError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"deviceId": deviceID, "statistics": stats})
}

// authorizeDevice resolves the {deviceId} path parameter and checks the caller
// may read it. Devices the caller cannot see answer 404, like unknown ones.
func (h *SensorHandler) authorizeDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User context not found")
		return "", false
	}

	deviceID := chi.URLParam(r, "deviceId")
	device, err := h.devices.FindByDeviceID(r.Context(), deviceID)
	if err != nil {
		if !errors.Is(err, directory.ErrDeviceNotFound) {
			log.WithError(err).WithField("device_id", deviceID).Error("Device lookup failed")
			respondWithError(w, http.StatusInternalServerError, "Failed to look up device")
			return "", false
		}
		respondWithError(w, http.StatusNotFound, "Device not found")
		return "", false
	}
	if !models.CanAccessDevice(claims.UserID, claims.Role, device.OwnerID) {
		respondWithError(w, http.StatusNotFound, "Device not found")
		return "", false
	}
	return device.DeviceID, true
}

func parseLimit(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	return limit, nil
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
