package hub

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
)

type roomState struct {
	desc    domain.Room
	members map[string]struct{}
}

// Router owns room membership in both directions and fans events out to
// members through the registry. Like the registry it is loop-owned.
type Router struct {
	rooms     map[string]*roomState
	connRooms map[string]map[string]struct{}

	registry *Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewRouter(registry *Registry, m *metrics.Metrics, logger *zap.Logger) *Router {
	return &Router{
		rooms:     make(map[string]*roomState),
		connRooms: make(map[string]map[string]struct{}),
		registry:  registry,
		metrics:   m,
		logger:    logger.With(zap.String("component", "room_router")),
		now:       time.Now,
	}
}

// Join adds the connection to the room. It reports false when the
// connection is unknown or already a member. When announce is set the
// other members receive the room's "member joined" event.
func (r *Router) Join(connID string, room domain.Room, announce bool) bool {
	entry, ok := r.registry.Get(connID)
	if !ok {
		return false
	}

	state, exists := r.rooms[room.Name]
	if !exists {
		state = &roomState{desc: room, members: make(map[string]struct{})}
		r.rooms[room.Name] = state
	}
	if _, member := state.members[connID]; member {
		return false
	}

	state.members[connID] = struct{}{}
	joined, ok := r.connRooms[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.connRooms[connID] = joined
	}
	joined[room.Name] = struct{}{}
	r.metrics.SetRoomsActive(len(r.rooms))

	if announce {
		event, data := memberNotice(state.desc, entry.Identity, true, r.now())
		r.Broadcast(room.Name, event, data, connID)
	}

	r.logger.Debug("Joined room",
		zap.String("connId", connID),
		zap.String("room", room.Name),
		zap.Int("members", len(state.members)))
	return true
}

// Leave removes the connection from the room and announces it to the
// remaining members. It reports false when the connection was not a member.
func (r *Router) Leave(connID, roomName string) bool {
	entry, _ := r.registry.Get(connID)
	return r.leave(connID, roomName, entry.Identity)
}

func (r *Router) leave(connID, roomName string, id Identity) bool {
	state, ok := r.rooms[roomName]
	if !ok {
		return false
	}
	if _, member := state.members[connID]; !member {
		return false
	}

	delete(state.members, connID)
	if joined, ok := r.connRooms[connID]; ok {
		delete(joined, roomName)
		if len(joined) == 0 {
			delete(r.connRooms, connID)
		}
	}

	if len(state.members) == 0 {
		delete(r.rooms, roomName)
	} else {
		event, data := memberNotice(state.desc, id, false, r.now())
		r.Broadcast(roomName, event, data, connID)
	}
	r.metrics.SetRoomsActive(len(r.rooms))
	return true
}

// RemoveConnectionFromAllRooms is the disconnect path. The registry entry
// is usually gone by now, so the identity for the "member left" events is
// passed in.
func (r *Router) RemoveConnectionFromAllRooms(connID string, id Identity) []domain.Room {
	joined := r.connRooms[connID]
	names := make([]string, 0, len(joined))
	for name := range joined {
		names = append(names, name)
	}
	sort.Strings(names)

	left := make([]domain.Room, 0, len(names))
	for _, name := range names {
		desc := r.rooms[name].desc
		if r.leave(connID, name, id) {
			left = append(left, desc)
		}
	}
	return left
}

// Broadcast delivers one event to every member except the excluded
// connections and returns how many frames were queued.
func (r *Router) Broadcast(roomName, event string, data any, exclude ...string) int {
	state, ok := r.rooms[roomName]
	if !ok || len(state.members) == 0 {
		return 0
	}

	payload, err := encode(event, data)
	if err != nil {
		r.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return 0
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, connID := range exclude {
		skip[connID] = struct{}{}
	}

	delivered := 0
	for _, connID := range sortedKeys(state.members) {
		if _, excluded := skip[connID]; excluded {
			continue
		}
		if r.registry.Send(connID, payload) {
			delivered++
		}
	}
	r.metrics.EventsDelivered(event, delivered)
	return delivered
}

func (r *Router) IsMember(connID, roomName string) bool {
	state, ok := r.rooms[roomName]
	if !ok {
		return false
	}
	_, member := state.members[connID]
	return member
}

// Members returns the connection ids in the room, sorted.
func (r *Router) Members(roomName string) []string {
	state, ok := r.rooms[roomName]
	if !ok {
		return nil
	}
	return sortedKeys(state.members)
}

// Rooms returns the names of all non-empty rooms, sorted.
func (r *Router) Rooms() []string {
	return sortedKeys(r.rooms)
}

// RoomsOf returns the rooms a connection belongs to, sorted.
func (r *Router) RoomsOf(connID string) []string {
	return sortedKeys(r.connRooms[connID])
}

func (r *Router) Count() int {
	return len(r.rooms)
}

// SweepEmpty drops members whose connection is no longer registered and
// removes rooms left empty. It returns the number of rooms removed.
func (r *Router) SweepEmpty() int {
	removed := 0
	for name, state := range r.rooms {
		for connID := range state.members {
			if _, live := r.registry.Get(connID); !live {
				delete(state.members, connID)
				if joined, ok := r.connRooms[connID]; ok {
					delete(joined, name)
					if len(joined) == 0 {
						delete(r.connRooms, connID)
					}
				}
			}
		}
		if len(state.members) == 0 {
			delete(r.rooms, name)
			removed++
		}
	}
	r.metrics.SetRoomsActive(len(r.rooms))
	return removed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
