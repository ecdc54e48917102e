package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
	"realtime-service/internal/repository"
)

// Sink is the outbound side of one transport connection.
type Sink interface {
	// Send queues a frame without blocking. It returns false when the frame
	// could not be queued.
	Send(payload []byte) bool
	Close()
}

// Identity is what a connection proved about itself via authenticate.
type Identity struct {
	UserID string
	Role   domain.Role
	Name   string
}

func (id Identity) Authenticated() bool {
	return id.UserID != ""
}

// Entry is the registry view of one connection.
type Entry struct {
	ConnID      string
	Identity    Identity
	SessionRoom string
	ConnectedAt time.Time

	sink Sink
}

// Registry maps connection ids to identities. It is owned by the
// coordinator loop and is not safe for concurrent use, except for Verify.
type Registry struct {
	entries map[string]*Entry
	byUser  map[string]map[string]struct{}

	users   UserDirectory
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRegistry(users UserDirectory, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		byUser:  make(map[string]map[string]struct{}),
		users:   users,
		metrics: m,
		logger:  logger.With(zap.String("component", "registry")),
	}
}

// Register creates an unauthenticated entry.
func (r *Registry) Register(connID string, sink Sink) error {
	if connID == "" {
		return fmt.Errorf("%w: empty connection id", ErrUnknownConnection)
	}
	if _, exists := r.entries[connID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConn, connID)
	}
	r.entries[connID] = &Entry{ConnID: connID, ConnectedAt: time.Now(), sink: sink}
	r.metrics.ConnectionOpened()
	r.logger.Debug("Connection registered", zap.String("connId", connID))
	return nil
}

// Verify checks the claimed identity against the user directory. It only
// reads the directory, so it may run off the coordinator loop.
func (r *Registry) Verify(ctx context.Context, userID string, role domain.Role) (Identity, error) {
	if userID == "" || !role.Valid() {
		return Identity{}, fmt.Errorf("%w: missing user id or invalid role %q", ErrAuthFailed, role)
	}
	user, err := r.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Identity{}, fmt.Errorf("%w: user %s not found", ErrAuthFailed, userID)
		}
		return Identity{}, fmt.Errorf("%w: %w: %v", ErrAuthFailed, ErrLookupFailed, err)
	}
	if user.Role != role {
		return Identity{}, fmt.Errorf("%w: role mismatch for user %s", ErrAuthFailed, userID)
	}
	return Identity{UserID: user.ID, Role: user.Role, Name: user.Name}, nil
}

// Bind attaches id to the connection and returns the identity it replaced.
func (r *Registry) Bind(connID string, id Identity) (Identity, error) {
	entry, ok := r.entries[connID]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	prev := entry.Identity
	if prev.UserID != "" && prev.UserID != id.UserID {
		r.unindex(prev.UserID, connID)
	}
	entry.Identity = id
	r.index(id.UserID, connID)

	if !prev.Authenticated() {
		r.metrics.Authenticated()
	}
	return prev, nil
}

func (r *Registry) Get(connID string) (Entry, bool) {
	entry, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// LookupByUserID returns every live connection of a user, sorted.
func (r *Registry) LookupByUserID(userID string) []string {
	conns := r.byUser[userID]
	ids := make([]string, 0, len(conns))
	for connID := range conns {
		ids = append(ids, connID)
	}
	sort.Strings(ids)
	return ids
}

// ConnectionsByRole returns the authenticated connections holding role.
func (r *Registry) ConnectionsByRole(role domain.Role) []string {
	var ids []string
	for connID, entry := range r.entries {
		if entry.Identity.Authenticated() && entry.Identity.Role == role {
			ids = append(ids, connID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) SetSessionRoom(connID, room string) {
	if entry, ok := r.entries[connID]; ok {
		entry.SessionRoom = room
	}
}

// Remove deletes the entry and returns it. A second call for the same id
// reports false, so cleanup keyed on the result runs once.
func (r *Registry) Remove(connID string) (Entry, bool) {
	entry, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, connID)
	if entry.Identity.Authenticated() {
		r.unindex(entry.Identity.UserID, connID)
	}
	r.metrics.ConnectionClosed(entry.Identity.Authenticated())
	return *entry, true
}

// Send queues payload on the connection. A connection whose buffer is full
// is closed; its transport reports the disconnect afterwards.
func (r *Registry) Send(connID string, payload []byte) bool {
	entry, ok := r.entries[connID]
	if !ok || entry.sink == nil {
		return false
	}
	if entry.sink.Send(payload) {
		return true
	}
	r.logger.Warn("Send buffer full, closing connection",
		zap.String("connId", connID),
		zap.String("userId", entry.Identity.UserID))
	r.metrics.ConnectionDropped()
	entry.sink.Close()
	return false
}

func (r *Registry) Count() int {
	return len(r.entries)
}

func (r *Registry) AuthenticatedCount() int {
	n := 0
	for _, entry := range r.entries {
		if entry.Identity.Authenticated() {
			n++
		}
	}
	return n
}

func (r *Registry) index(userID, connID string) {
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
}

func (r *Registry) unindex(userID, connID string) {
	conns, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
}
