package realtime

import (
	"errors"
	"sort"
	"sync"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// ErrNotRegistered is returned for operations on a connection id that is not live.
var ErrNotRegistered = errors.New("connection not registered")

// Conn is one live real-time connection.
type Conn interface {
	ID() string
	// Send queues an encoded frame. It must not block.
	Send(msg []byte) error
}

type entry struct {
	conn   Conn
	userID string
	role   models.Role
	subs   map[string]struct{}
}

// Registry tracks the authenticated connections of one server. Besides the
// primary table it keeps a per-user index and an admin set, so recipients of
// a broadcast are found without scanning every connection.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*entry
	byUser map[string]map[string]*entry
	admins map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		byUser: make(map[string]map[string]*entry),
		admins: make(map[string]*entry),
	}
}

// Register adds a connection. Registering an id again replaces the previous entry.
func (r *Registry) Register(conn Conn, userID string, role models.Role) {
	e := &entry{conn: conn, userID: userID, role: role, subs: make(map[string]struct{})}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(conn.ID())
	r.conns[conn.ID()] = e
	users := r.byUser[userID]
	if users == nil {
		users = make(map[string]*entry)
		r.byUser[userID] = users
	}
	users[conn.ID()] = e
	if models.IsAdmin(role) {
		r.admins[conn.ID()] = e
	}
}

// Deregister removes a connection. It reports whether the id was registered.
func (r *Registry) Deregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) bool {
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(r.conns, connID)
	delete(r.admins, connID)
	if users := r.byUser[e.userID]; users != nil {
		delete(users, connID)
		if len(users) == 0 {
			delete(r.byUser, e.userID)
		}
	}
	return true
}

// Lookup returns the identity bound to a connection id.
func (r *Registry) Lookup(connID string) (userID string, role models.Role, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return "", "", false
	}
	return e.userID, e.role, true
}

// Subscribe records a device subscription on a live connection.
func (r *Registry) Subscribe(connID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return ErrNotRegistered
	}
	e.subs[deviceID] = struct{}{}
	return nil
}

// Unsubscribe removes a device subscription from a live connection.
func (r *Registry) Unsubscribe(connID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return ErrNotRegistered
	}
	delete(e.subs, deviceID)
	return nil
}

// Recipients returns the connections allowed to see readings of a device
// owned by ownerID: the owner's connections and every admin connection.
func (r *Registry) Recipients(ownerID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byUser[ownerID])+len(r.admins))
	for id, e := range r.byUser[ownerID] {
		if _, admin := r.admins[id]; admin {
			continue
		}
		out = append(out, e.conn)
	}
	for _, e := range r.admins {
		out = append(out, e.conn)
	}
	return out
}

// Admins returns every admin connection.
func (r *Registry) Admins() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.admins))
	for _, e := range r.admins {
		out = append(out, e.conn)
	}
	return out
}

// List returns a snapshot of every live connection ordered by connection id.
func (r *Registry) List() []models.ConnectedClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ConnectedClient, 0, len(r.conns))
	for id, e := range r.conns {
		subs := make([]string, 0, len(e.subs))
		for deviceID := range e.subs {
			subs = append(subs, deviceID)
		}
		sort.Strings(subs)
		out = append(out, models.ConnectedClient{
			ConnectionID:  id,
			UserID:        e.userID,
			Role:          e.role,
			Subscriptions: subs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
