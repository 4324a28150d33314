package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// ErrAuthentication is returned when a handshake is rejected.
var ErrAuthentication = errors.New("authentication failed")

// State is the lifecycle state of one connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handshake rejection messages sent to the client.
const (
	msgNoToken    = "No authentication token provided"
	msgAuthFailed = "Authentication failed"
	msgBadUser    = "Invalid user"
)

// TokenVerifier validates a bearer credential.
type TokenVerifier interface {
	ValidateToken(token string) (*models.Claims, error)
}

// IdentityLookup resolves the user behind a verified token.
type IdentityLookup interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

// Session is the server side of one connection.
type Session struct {
	Conn   Conn
	State  State
	UserID string
	Role   models.Role
}

// Lifecycle authenticates connections, keeps the registry in sync with them
// and serves client requests on authenticated sessions.
type Lifecycle struct {
	registry *Registry
	tokens   TokenVerifier
	users    IdentityLookup
	devices  DeviceResolver
	now      func() time.Time
}

// NewLifecycle creates a Lifecycle bound to registry.
func NewLifecycle(registry *Registry, tokens TokenVerifier, users IdentityLookup, devices DeviceResolver) *Lifecycle {
	return &Lifecycle{
		registry: registry,
		tokens:   tokens,
		users:    users,
		devices:  devices,
		now:      time.Now,
	}
}

// Authenticate runs the handshake for conn. On success the connection is
// registered and told its identity. On failure the client receives an error
// event and the returned session is in StateRejected; the caller closes it.
func (l *Lifecycle) Authenticate(ctx context.Context, conn Conn, token string) (*Session, error) {
	s := &Session{Conn: conn, State: StateConnecting}
	logger := log.WithField("connection_id", conn.ID())

	token = strings.TrimSpace(token)
	if token == "" {
		logger.Warn("Client connected without token")
		return l.reject(s, msgNoToken, fmt.Errorf("%w: missing token", ErrAuthentication))
	}

	claims, err := l.tokens.ValidateToken(token)
	if err != nil {
		logger.WithError(err).Warn("Token verification failed")
		return l.reject(s, msgAuthFailed, fmt.Errorf("%w: %v", ErrAuthentication, err))
	}

	user, err := l.users.FindUserByID(ctx, claims.UserID)
	if err != nil || user == nil || !user.IsActive {
		logger.WithField("user_id", claims.UserID).Warn("Invalid user for client")
		return l.reject(s, msgBadUser, fmt.Errorf("%w: user %s unavailable", ErrAuthentication, claims.UserID))
	}

	s.UserID = user.ID.Hex()
	s.Role = user.Role
	l.registry.Register(conn, s.UserID, s.Role)
	s.State = StateAuthenticated

	l.reply(s, models.ConnectedEvent{
		Message: "Successfully connected to WebSocket server",
		UserID:  s.UserID,
		Role:    s.Role,
	})
	logger.WithFields(log.Fields{
		"user_id": s.UserID,
		"role":    s.Role,
		"total":   l.registry.Count(),
	}).Info("Client connected")
	return s, nil
}

func (l *Lifecycle) reject(s *Session, message string, err error) (*Session, error) {
	s.State = StateRejected
	l.reply(s, models.ErrorEvent{Message: message})
	return s, err
}

// Disconnect deregisters the connection. It runs for every connection,
// authenticated or not; for a never-registered one it is a no-op.
func (l *Lifecycle) Disconnect(s *Session) {
	removed := l.registry.Deregister(s.Conn.ID())
	if s.State != StateRejected {
		s.State = StateClosed
	}
	log.WithFields(log.Fields{
		"connection_id": s.Conn.ID(),
		"user_id":       s.UserID,
		"registered":    removed,
		"total":         l.registry.Count(),
	}).Info("Client disconnected")
}

// HandleMessage serves one client frame on an authenticated session.
func (l *Lifecycle) HandleMessage(ctx context.Context, s *Session, raw []byte) {
	if s.State != StateAuthenticated {
		return
	}

	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		l.reply(s, models.ErrorEvent{Message: "Invalid message"})
		return
	}

	switch msg.Event {
	case "ping":
		l.reply(s, models.PongEvent{Timestamp: l.now().UTC()})
	case "subscribeToDevice":
		l.subscribe(ctx, s, msg.Data, true)
	case "unsubscribeFromDevice":
		l.subscribe(ctx, s, msg.Data, false)
	case "getConnectedClients":
		if !models.IsAdmin(s.Role) {
			l.reply(s, models.ErrorEvent{Message: "Unauthorized"})
			return
		}
		clients := l.registry.List()
		l.reply(s, models.ConnectedClientsEvent{Count: len(clients), Clients: clients})
	default:
		l.reply(s, models.ErrorEvent{Message: fmt.Sprintf("Unknown event: %s", msg.Event)})
	}
}

func (l *Lifecycle) subscribe(ctx context.Context, s *Session, data json.RawMessage, subscribe bool) {
	var req models.DeviceRequest
	if err := json.Unmarshal(data, &req); err != nil || req.DeviceID == "" {
		l.reply(s, models.ErrorEvent{Message: "deviceId is required"})
		return
	}

	if !subscribe {
		if err := l.registry.Unsubscribe(s.Conn.ID(), req.DeviceID); err != nil {
			l.reply(s, models.ErrorEvent{Message: "Not connected"})
			return
		}
		l.reply(s, models.SubscriptionEvent{
			DeviceID: req.DeviceID,
			Message:  fmt.Sprintf("Successfully unsubscribed from device %s", req.DeviceID),
		})
		return
	}

	device, err := l.devices.FindByDeviceID(ctx, req.DeviceID)
	if err != nil || !models.CanAccessDevice(s.UserID, s.Role, device.OwnerID) {
		l.reply(s, models.ErrorEvent{Message: "Device not found"})
		return
	}
	if err := l.registry.Subscribe(s.Conn.ID(), req.DeviceID); err != nil {
		l.reply(s, models.ErrorEvent{Message: "Not connected"})
		return
	}
	l.reply(s, models.SubscriptionEvent{
		Subscribed: true,
		DeviceID:   req.DeviceID,
		Message:    fmt.Sprintf("Successfully subscribed to device %s", req.DeviceID),
	})
	log.WithFields(log.Fields{
		"connection_id": s.Conn.ID(),
		"device_id":     req.DeviceID,
	}).Debug("Client subscribed to device")
}

func (l *Lifecycle) reply(s *Session, event models.Event) {
	msg, err := models.EncodeEvent(event)
	if err != nil {
		log.WithError(err).WithField("event", event.EventName()).Error("Failed to encode event")
		return
	}
	if err := s.Conn.Send(msg); err != nil {
		log.WithError(err).WithField("connection_id", s.Conn.ID()).Debug("Reply dropped")
	}
}
