package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
)

// CallState is the lifecycle of a video call room.
type CallState string

const (
	CallNone    CallState = "NONE"
	CallStarted CallState = "STARTED"
	CallJoined  CallState = "JOINED"
	CallEnded   CallState = "ENDED"
)

// CallSession tracks one call room.
type CallSession struct {
	RoomID     string
	CallerID   string
	CallerName string
	ReceiverID string
	State      CallState
	StartedAt  time.Time
	EndedAt    time.Time
}

func (c *CallSession) active() bool {
	return c.State == CallStarted || c.State == CallJoined
}

func (c *CallSession) party(userID string) bool {
	return userID != "" && (c.CallerID == userID || c.ReceiverID == userID)
}

func (c *CallSession) counterpart(userID string) string {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

// SignalingRelay forwards call control between the two parties of a call.
// Offer, answer and ICE payloads are relayed unchanged.
type SignalingRelay struct {
	calls map[string]*CallSession

	registry *Registry
	router   *Router
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewSignalingRelay(registry *Registry, router *Router, m *metrics.Metrics, logger *zap.Logger) *SignalingRelay {
	return &SignalingRelay{
		calls:    make(map[string]*CallSession),
		registry: registry,
		router:   router,
		metrics:  m,
		logger:   logger.With(zap.String("component", "signaling")),
		now:      time.Now,
	}
}

// Start opens a call and notifies the receiver's live connections. The
// caller joins the call room so the receiver's join is announced to it.
// It returns the number of receiver connections notified.
func (s *SignalingRelay) Start(connID string, caller Identity, roomID, receiverID, callerName string) (int, error) {
	if !caller.Authenticated() {
		return 0, fmt.Errorf("%w: caller not authenticated", ErrJoinDenied)
	}
	if receiverID == "" || receiverID == caller.UserID {
		return 0, fmt.Errorf("%w: invalid receiver", ErrMalformedPayload)
	}
	room, err := domain.ParseRoom(roomID)
	if err != nil || room.Kind != domain.RoomVideoCall {
		return 0, fmt.Errorf("%w: %q is not a call room", ErrMalformedPayload, roomID)
	}
	if len(room.Parties) == 2 && !(room.HasParty(caller.UserID) && room.HasParty(receiverID)) {
		return 0, fmt.Errorf("%w: %s is not a party of %s", ErrJoinDenied, caller.UserID, roomID)
	}
	if call, ok := s.calls[room.Name]; ok && call.active() && call.CallerID != caller.UserID {
		return 0, fmt.Errorf("%w: call %s already in progress", ErrJoinDenied, roomID)
	}

	if caller.Name != "" {
		callerName = caller.Name
	}
	s.calls[room.Name] = &CallSession{
		RoomID:     room.Name,
		CallerID:   caller.UserID,
		CallerName: callerName,
		ReceiverID: receiverID,
		State:      CallStarted,
		StartedAt:  s.now(),
	}
	s.router.Join(connID, room, true)
	s.metrics.SetCallsActive(s.Active())

	payload, err := encode(EventVideoCallStarted, callStartedEvent{
		RoomID:     room.Name,
		CallerID:   caller.UserID,
		CallerName: callerName,
		ReceiverID: receiverID,
	})
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, target := range s.registry.LookupByUserID(receiverID) {
		if s.registry.Send(target, payload) {
			delivered++
		}
	}
	s.metrics.EventsDelivered(EventVideoCallStarted, delivered)

	s.logger.Info("Call started",
		zap.String("room", room.Name),
		zap.String("callerId", caller.UserID),
		zap.String("receiverId", receiverID),
		zap.Int("notified", delivered))
	return delivered, nil
}

// Join admits a call party into the room and announces it to the others.
// An ended call stays ended; the room needs a new Start first.
func (s *SignalingRelay) Join(connID string, id Identity, roomID string) error {
	room, err := domain.ParseRoom(roomID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJoinDenied, err)
	}
	if !s.authorized(id, room) {
		return fmt.Errorf("%w: %s is not a party of %s", ErrJoinDenied, id.UserID, roomID)
	}
	call, tracked := s.calls[room.Name]
	if tracked && !call.active() {
		return fmt.Errorf("%w: call %s has ended", ErrJoinDenied, roomID)
	}

	s.router.Join(connID, room, true)
	if tracked {
		call.State = CallJoined
		s.metrics.SetCallsActive(s.Active())
	}
	return nil
}

// End leaves the room with videoCallEnded to the remaining members and
// closes the call. A party that never joined still reaches the members.
func (s *SignalingRelay) End(connID string, id Identity, roomID string) {
	if s.router.IsMember(connID, roomID) {
		s.router.Leave(connID, roomID)
	} else if s.authorizedByName(id, roomID) {
		s.router.Broadcast(roomID, EventVideoCallEnded, userEvent{UserID: id.UserID}, connID)
	}

	if call, ok := s.calls[roomID]; ok && call.active() && call.party(id.UserID) {
		s.finish(call, id.UserID)
	}
}

// Relay forwards an opaque offer, answer or ICE payload to the other
// members of the room named by its sessionId. A call party that is not
// yet a member joins silently first.
func (s *SignalingRelay) Relay(connID string, id Identity, event string, raw json.RawMessage) (int, error) {
	roomID := gjson.GetBytes(raw, "sessionId").String()
	if roomID == "" {
		roomID = gjson.GetBytes(raw, "roomId").String()
	}
	if roomID == "" {
		return 0, fmt.Errorf("%w: %s without sessionId", ErrMalformedPayload, event)
	}

	if !s.router.IsMember(connID, roomID) {
		room, err := domain.ParseRoom(roomID)
		if err != nil || !s.authorized(id, room) {
			return 0, fmt.Errorf("%w: %s may not signal in %s", ErrJoinDenied, id.UserID, roomID)
		}
		s.router.Join(connID, room, false)
	}
	return s.router.Broadcast(roomID, event, raw, connID), nil
}

// OnDisconnect ends every active call the user was a party of when the
// connection was a member of the call room or was the ringing caller.
// Members already heard videoCallEnded from the room leave; only the
// counterpart's connections outside the room are told here.
func (s *SignalingRelay) OnDisconnect(id Identity, left []domain.Room) {
	if !id.Authenticated() {
		return
	}
	wasMember := make(map[string]bool, len(left))
	for _, room := range left {
		wasMember[room.Name] = true
	}

	for _, roomID := range sortedKeys(s.calls) {
		call := s.calls[roomID]
		if !call.active() || !call.party(id.UserID) {
			continue
		}
		if !wasMember[roomID] && !(call.State == CallStarted && call.CallerID == id.UserID) {
			continue
		}
		if s.userStillInRoom(id.UserID, roomID) {
			continue
		}
		s.finish(call, id.UserID)
	}
}

// Call returns a snapshot of the call in roomID.
func (s *SignalingRelay) Call(roomID string) (CallSession, bool) {
	call, ok := s.calls[roomID]
	if !ok {
		return CallSession{RoomID: roomID, State: CallNone}, false
	}
	return *call, true
}

func (s *SignalingRelay) Active() int {
	n := 0
	for _, call := range s.calls {
		if call.active() {
			n++
		}
	}
	return n
}

// SweepEnded forgets ended calls whose room is empty.
func (s *SignalingRelay) SweepEnded() int {
	removed := 0
	for roomID, call := range s.calls {
		if call.State == CallEnded && len(s.router.Members(roomID)) == 0 {
			delete(s.calls, roomID)
			removed++
		}
	}
	return removed
}

func (s *SignalingRelay) finish(call *CallSession, endedBy string) {
	call.State = CallEnded
	call.EndedAt = s.now()
	s.metrics.SetCallsActive(s.Active())

	payload, err := encode(EventVideoCallEnded, userEvent{UserID: endedBy})
	if err != nil {
		return
	}
	notified := 0
	for _, target := range s.registry.LookupByUserID(call.counterpart(endedBy)) {
		if s.router.IsMember(target, call.RoomID) {
			continue
		}
		if s.registry.Send(target, payload) {
			notified++
		}
	}
	s.metrics.EventsDelivered(EventVideoCallEnded, notified)

	s.logger.Info("Call ended",
		zap.String("room", call.RoomID),
		zap.String("endedBy", endedBy))
}

func (s *SignalingRelay) authorized(id Identity, room domain.Room) bool {
	if !id.Authenticated() {
		return false
	}
	if call, ok := s.calls[room.Name]; ok && call.party(id.UserID) {
		return true
	}
	return room.Kind == domain.RoomVideoCall && room.HasParty(id.UserID)
}

func (s *SignalingRelay) authorizedByName(id Identity, roomID string) bool {
	room, err := domain.ParseRoom(roomID)
	if err != nil {
		return false
	}
	return s.authorized(id, room)
}

func (s *SignalingRelay) userStillInRoom(userID, roomID string) bool {
	for _, connID := range s.registry.LookupByUserID(userID) {
		if s.router.IsMember(connID, roomID) {
			return true
		}
	}
	return false
}
