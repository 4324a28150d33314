package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeviceInvalidator drops cached copies of a device after it changes.
type DeviceInvalidator interface {
	Invalidate(ctx context.Context, deviceID string)
}

// DeviceHandler manages the devices of the calling user.
type DeviceHandler struct {
	devices db.DeviceCollection
	cache   DeviceInvalidator
}

// NewDeviceHandler creates a device handler.
func NewDeviceHandler(devices db.DeviceCollection, cache DeviceInvalidator) *DeviceHandler {
	return &DeviceHandler{devices: devices, cache: cache}
}

// Create registers a new device owned by the caller.
func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User context not found")
		return
	}
	ownerID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid user")
		return
	}

	var req models.CreateDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	device := &models.Device{
		DeviceID:     strings.TrimSpace(req.DeviceID),
		Name:         strings.TrimSpace(req.Name),
		Model:        req.Model,
		LicensePlate: req.LicensePlate,
		IsActive:     true,
		OwnerID:      ownerID,
	}
	if err := h.devices.InsertDevice(r.Context(), device); err != nil {
		if errors.Is(err, db.ErrDuplicateDevice) {
			respondWithError(w, http.StatusConflict, "Device ID already exists")
			return
		}
		log.WithError(err).Error("Failed to create device")
		respondWithError(w, http.StatusInternalServerError, "Failed to create device")
		return
	}
	log.WithFields(log.Fields{"device_id": device.DeviceID, "owner_id": claims.UserID}).Info("Device created")
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Device created successfully",
		"device":  device.View(models.IsAdmin(claims.Role)),
	})
}

// List returns every device for admins and the caller's own devices otherwise.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	isAdmin := models.IsAdmin(claims.Role)
	ownerID := claims.UserID
	if isAdmin {
		ownerID = ""
	}

	devices, err := h.devices.FindDevices(r.Context(), ownerID)
	if err != nil {
		log.WithError(err).Error("Failed to list devices")
		respondWithError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}

	views := make([]models.DeviceView, 0, len(devices))
	for i := range devices {
		views = append(views, devices[i].View(isAdmin))
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"devices": views})
}

// Get returns one device by internal id.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, device, ok := h.loadDevice(w, r, http.StatusNotFound)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"device": device.View(models.IsAdmin(claims.Role))})
}

// Update changes the descriptive fields of a device. Empty fields are kept.
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, device, ok := h.loadDevice(w, r, http.StatusForbidden)
	if !ok {
		return
	}

	var req models.UpdateDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		device.Name = name
	}
	if req.Model != "" {
		device.Model = req.Model
	}
	if req.LicensePlate != "" {
		device.LicensePlate = req.LicensePlate
	}

	if !h.save(w, r, device) {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Device updated successfully",
		"device":  device.View(models.IsAdmin(claims.Role)),
	})
}

// Delete deactivates a device. Its readings are kept.
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	_, device, ok := h.loadDevice(w, r, http.StatusForbidden)
	if !ok {
		return
	}

	device.IsActive = false
	if !h.save(w, r, device) {
		return
	}
	log.WithField("device_id", device.DeviceID).Info("Device deactivated")
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Device deactivated successfully"})
}

func (h *DeviceHandler) save(w http.ResponseWriter, r *http.Request, device *models.Device) bool {
	if err := h.devices.UpdateDevice(r.Context(), device); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Device not found")
			return false
		}
		log.WithError(err).WithField("device_id", device.DeviceID).Error("Failed to update device")
		respondWithError(w, http.StatusInternalServerError, "Failed to update device")
		return false
	}
	h.cache.Invalidate(r.Context(), device.DeviceID)
	return true
}

// loadDevice fetches the {id} device and checks ownership. A device owned by
// someone else answers deniedStatus.
func (h *DeviceHandler) loadDevice(w http.ResponseWriter, r *http.Request, deniedStatus int) (*models.Claims, *models.Device, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User context not found")
		return nil, nil, false
	}

	device, err := h.devices.FindDeviceByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.WithError(err).Error("Failed to load device")
			respondWithError(w, http.StatusInternalServerError, "Failed to load device")
			return nil, nil, false
		}
		respondWithError(w, http.StatusNotFound, "Device not found")
		return nil, nil, false
	}

	if !models.CanAccessDevice(claims.UserID, claims.Role, device.OwnerID) {
		if deniedStatus == http.StatusNotFound {
			respondWithError(w, http.StatusNotFound, "Device not found")
		} else {
			respondWithError(w, deniedStatus, "You do not have permission to modify this device")
		}
		return nil, nil, false
	}
	return claims, device, true
}
