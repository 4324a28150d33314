package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// MockUserCollection is a mock implementation of UserCollection
type MockUserCollection struct {
	mock.Mock
}

func (m *MockUserCollection) InsertUser(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserCollection) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) UpdateUser(ctx context.Context, id string, user models.User) error {
	args := m.Called(ctx, id, user)
	return args.Error(0)
}

func (m *MockUserCollection) UpdateLastLogin(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockDeviceCollection is a mock implementation of DeviceCollection
type MockDeviceCollection struct {
	mock.Mock
}

func (m *MockDeviceCollection) InsertDevice(ctx context.Context, device *models.Device) error {
	return m.Called(ctx, device).Error(0)
}

func (m *MockDeviceCollection) FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

func (m *MockDeviceCollection) FindDeviceByID(ctx context.Context, id string) (*models.Device, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

func (m *MockDeviceCollection) FindDevices(ctx context.Context, ownerID string) ([]models.Device, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Device), args.Error(1)
}

func (m *MockDeviceCollection) UpdateDevice(ctx context.Context, device *models.Device) error {
	return m.Called(ctx, device).Error(0)
}

// MockReadingCollection is a mock implementation of ReadingCollection
type MockReadingCollection struct {
	mock.Mock
}

func (m *MockReadingCollection) SaveReading(ctx context.Context, reading *models.Reading) error {
	return m.Called(ctx, reading).Error(0)
}

func (m *MockReadingCollection) Latest(ctx context.Context, deviceID string, limit int) ([]models.Reading, error) {
	args := m.Called(ctx, deviceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reading), args.Error(1)
}

func (m *MockReadingCollection) Historical(ctx context.Context, deviceID string, start, end *time.Time) ([]models.Reading, error) {
	args := m.Called(ctx, deviceID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reading), args.Error(1)
}

func (m *MockReadingCollection) ActiveAlerts(ctx context.Context, limit int) ([]models.Reading, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reading), args.Error(1)
}

func (m *MockReadingCollection) Statistics(ctx context.Context, deviceID string) (*models.DeviceStatistics, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DeviceStatistics), args.Error(1)
}

// MockIngester is a mock implementation of ingest.Ingester
type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, in models.ReadingInput) (*models.Reading, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reading), args.Error(1)
}

// MockDeviceLookup is a mock implementation of DeviceLookup
type MockDeviceLookup struct {
	mock.Mock
}

func (m *MockDeviceLookup) FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

// MockInvalidator is a mock implementation of DeviceInvalidator
type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(ctx context.Context, deviceID string) {
	m.Called(ctx, deviceID)
}

// withClaims attaches verified claims the way the auth middleware does.
func withClaims(req *http.Request, claims *models.Claims) *http.Request {
	return req.WithContext(middleware.WithUser(req.Context(), claims))
}
