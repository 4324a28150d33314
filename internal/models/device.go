package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Device represents a tracking unit installed in a fleet vehicle.
type Device struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DeviceID     string             `bson:"device_id" json:"deviceId"` // public identifier, e.g. DEV-ABCD-1234
	Name         string             `bson:"name" json:"name"`
	Model        string             `bson:"model,omitempty" json:"model,omitempty"`
	LicensePlate string             `bson:"license_plate,omitempty" json:"licensePlate,omitempty"`
	IsActive     bool               `bson:"is_active" json:"isActive"`
	OwnerID      primitive.ObjectID `bson:"owner_id" json:"ownerId"`
	CreatedAt    time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updatedAt"`
}

// CreateDeviceRequest is the body of POST /api/devices.
type CreateDeviceRequest struct {
	DeviceID     string `json:"deviceId"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	LicensePlate string `json:"licensePlate"`
}

// UpdateDeviceRequest is the body of PUT /api/devices/{id}. Empty fields are left unchanged.
type UpdateDeviceRequest struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	LicensePlate string `json:"licensePlate"`
}

// DeviceView is the device representation returned to API callers.
type DeviceView struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"deviceId"`
	Name         string    `json:"name"`
	Model        string    `json:"model,omitempty"`
	LicensePlate string    `json:"licensePlate,omitempty"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Validate checks the mandatory fields of a device creation request.
func (r CreateDeviceRequest) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return &ValidationError{Field: "deviceId", Reason: "is required"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	return nil
}

// MaskDeviceID hides the middle segment of a public device id for non-admin
// viewers: DEV-ABCD-1234 becomes DEV-****-1234.
func MaskDeviceID(deviceID string, isAdmin bool) string {
	if isAdmin {
		return deviceID
	}
	parts := strings.Split(deviceID, "-")
	if len(parts) >= 3 {
		parts[1] = "****"
	}
	return strings.Join(parts, "-")
}

// View formats the device for a viewer, masking the public id unless the viewer is an admin.
func (d *Device) View(isAdmin bool) DeviceView {
	return DeviceView{
		ID:           d.ID.Hex(),
		DeviceID:     MaskDeviceID(d.DeviceID, isAdmin),
		Name:         d.Name,
		Model:        d.Model,
		LicensePlate: d.LicensePlate,
		IsActive:     d.IsActive,
		CreatedAt:    d.CreatedAt,
	}
}
