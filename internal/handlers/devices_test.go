package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type deviceFixture struct {
	devices *MockDeviceCollection
	cache   *MockInvalidator
	router  chi.Router
}

func newDeviceFixture(claims *models.Claims) *deviceFixture {
	f := &deviceFixture{devices: new(MockDeviceCollection), cache: new(MockInvalidator)}
	h := NewDeviceHandler(f.devices, f.cache)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), claims)))
		})
	})
	r.Post("/api/devices", h.Create)
	r.Get("/api/devices", h.List)
	r.Get("/api/devices/{id}", h.Get)
	r.Put("/api/devices/{id}", h.Update)
	r.Delete("/api/devices/{id}", h.Delete)
	f.router = r
	return f
}

func (f *deviceFixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type deviceEnvelope struct {
	Message string              `json:"message"`
	Device  models.DeviceView   `json:"device"`
	Devices []models.DeviceView `json:"devices"`
}

func decodeDevices(t *testing.T, w *httptest.ResponseRecorder) deviceEnvelope {
	t.Helper()
	var env deviceEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestDeviceHandler_Create(t *testing.T) {
	owner := primitive.NewObjectID()

	t.Run("user sees masked id", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleUser})
		f.devices.On("InsertDevice", mock.Anything, mock.MatchedBy(func(d *models.Device) bool {
			return d.DeviceID == "DEV-ABCD-1234" && d.OwnerID == owner && d.IsActive
		})).Return(nil)

		w := f.do("POST", "/api/devices", `{"deviceId":"DEV-ABCD-1234","name":"Truck 1","licensePlate":"1234-ABC"}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		env := decodeDevices(t, w)
		assert.Equal(t, "DEV-****-1234", env.Device.DeviceID)
		assert.Equal(t, "Truck 1", env.Device.Name)
		f.devices.AssertExpectations(t)
	})

	t.Run("admin sees full id", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleAdmin})
		f.devices.On("InsertDevice", mock.Anything, mock.Anything).Return(nil)

		w := f.do("POST", "/api/devices", `{"deviceId":"DEV-ABCD-1234","name":"Truck 1"}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "DEV-ABCD-1234", decodeDevices(t, w).Device.DeviceID)
	})

	t.Run("duplicate", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleUser})
		f.devices.On("InsertDevice", mock.Anything, mock.Anything).Return(db.ErrDuplicateDevice)

		w := f.do("POST", "/api/devices", `{"deviceId":"DEV-ABCD-1234","name":"Truck 1"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleUser})

		w := f.do("POST", "/api/devices", `{"deviceId":"DEV-ABCD-1234"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		f.devices.AssertNotCalled(t, "InsertDevice", mock.Anything, mock.Anything)
	})
}

func TestDeviceHandler_List(t *testing.T) {
	owner := primitive.NewObjectID()
	devices := []models.Device{
		{ID: primitive.NewObjectID(), DeviceID: "DEV-AAAA-0001", Name: "A", OwnerID: owner},
		{ID: primitive.NewObjectID(), DeviceID: "DEV-BBBB-0002", Name: "B", OwnerID: owner},
	}

	t.Run("user lists own devices masked", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleUser})
		f.devices.On("FindDevices", mock.Anything, owner.Hex()).Return(devices, nil)

		w := f.do("GET", "/api/devices", "")

		assert.Equal(t, http.StatusOK, w.Code)
		env := decodeDevices(t, w)
		require.Len(t, env.Devices, 2)
		assert.Equal(t, "DEV-****-0001", env.Devices[0].DeviceID)
	})

	t.Run("admin lists all", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: primitive.NewObjectID().Hex(), Role: models.RoleAdmin})
		f.devices.On("FindDevices", mock.Anything, "").Return(devices, nil)

		w := f.do("GET", "/api/devices", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "DEV-AAAA-0001", decodeDevices(t, w).Devices[0].DeviceID)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleUser})
		f.devices.On("FindDevices", mock.Anything, owner.Hex()).Return(nil, errors.New("timeout"))

		w := f.do("GET", "/api/devices", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestDeviceHandler_GetUpdateDelete(t *testing.T) {
	owner := primitive.NewObjectID()
	stranger := &models.Claims{UserID: primitive.NewObjectID().Hex(), Role: models.RoleUser}
	newDevice := func() *models.Device {
		return &models.Device{ID: primitive.NewObjectID(), DeviceID: "DEV-ABCD-1234", Name: "Truck 1", IsActive: true, OwnerID: owner}
	}

	t.Run("owner gets device", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleUser})
		device := newDevice()
		f.devices.On("FindDeviceByID", mock.Anything, device.ID.Hex()).Return(device, nil)

		w := f.do("GET", "/api/devices/"+device.ID.Hex(), "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "DEV-****-1234", decodeDevices(t, w).Device.DeviceID)
	})

	t.Run("stranger gets 404", func(t *testing.T) {
		f := newDeviceFixture(stranger)
		device := newDevice()
		f.devices.On("FindDeviceByID", mock.Anything, device.ID.Hex()).Return(device, nil)

		w := f.do("GET", "/api/devices/"+device.ID.Hex(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing device", func(t *testing.T) {
		f := newDeviceFixture(stranger)
		f.devices.On("FindDeviceByID", mock.Anything, "nope").Return(nil, db.ErrNotFound)

		w := f.do("GET", "/api/devices/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("owner updates and cache is invalidated", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleUser})
		device := newDevice()
		f.devices.On("FindDeviceByID", mock.Anything, device.ID.Hex()).Return(device, nil)
		f.devices.On("UpdateDevice", mock.Anything, mock.MatchedBy(func(d *models.Device) bool {
			return d.Name == "Truck 1" && d.Model == "Volvo FH"
		})).Return(nil)
		f.cache.On("Invalidate", mock.Anything, "DEV-ABCD-1234").Return()

		w := f.do("PUT", "/api/devices/"+device.ID.Hex(), `{"model":"Volvo FH"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		f.devices.AssertExpectations(t)
		f.cache.AssertExpectations(t)
	})

	t.Run("stranger cannot update", func(t *testing.T) {
		f := newDeviceFixture(stranger)
		device := newDevice()
		f.devices.On("FindDeviceByID", mock.Anything, device.ID.Hex()).Return(device, nil)

		w := f.do("PUT", "/api/devices/"+device.ID.Hex(), `{"name":"Mine now"}`)

		assert.Equal(t, http.StatusForbidden, w.Code)
		f.devices.AssertNotCalled(t, "UpdateDevice", mock.Anything, mock.Anything)
	})

	t.Run("delete deactivates", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: primitive.NewObjectID().Hex(), Role: models.RoleAdmin})
		device := newDevice()
		f.devices.On("FindDeviceByID", mock.Anything, device.ID.Hex()).Return(device, nil)
		f.devices.On("UpdateDevice", mock.Anything, mock.MatchedBy(func(d *models.Device) bool {
			return !d.IsActive
		})).Return(nil)
		f.cache.On("Invalidate", mock.Anything, "DEV-ABCD-1234").Return()

		w := f.do("DELETE", "/api/devices/"+device.ID.Hex(), "")

		assert.Equal(t, http.StatusOK, w.Code)
		f.cache.AssertExpectations(t)
	})

	t.Run("delete races with removal", func(t *testing.T) {
		f := newDeviceFixture(&models.Claims{UserID: owner.Hex(), Role: models.RoleUser})
		device := newDevice()
		f.devices.On("FindDeviceByID", mock.Anything, device.ID.Hex()).Return(device, nil)
		f.devices.On("UpdateDevice", mock.Anything, mock.Anything).Return(db.ErrNotFound)

		w := f.do("DELETE", "/api/devices/"+device.ID.Hex(), "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		f.cache.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
	})
}
