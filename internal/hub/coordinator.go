package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
	"realtime-service/internal/service"
)

// Dependencies are the collaborators the coordinator is wired with.
// Presence may be nil.
type Dependencies struct {
	Users        UserDirectory
	Appointments AppointmentStore
	Presence     PresenceStore
	Recorder     service.Recorder
}

type Options struct {
	// LookupTimeout bounds every user directory and appointment store call.
	LookupTimeout time.Duration
	// QueueSize is the capacity of the loop's inbound task channel.
	QueueSize int
}

// Coordinator is the composition root of the realtime core. A single loop
// goroutine owns the registry, the rooms, presence counts and call state;
// everything else reaches them by submitting closures to that loop.
type Coordinator struct {
	registry  *Registry
	guard     *Guard
	router    *Router
	presence  *PresenceTracker
	signaling *SignalingRelay

	users         UserDirectory
	appointments  AppointmentStore
	presenceStore PresenceStore
	recorder      service.Recorder

	// Connections with a lookup in flight; their later events wait in
	// backlog so each connection's events are handled in order.
	busy    map[string]bool
	backlog map[string][]inbound

	tasks   chan func()
	notices *serialQueue
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	lookupTimeout time.Duration
	now           func() time.Time
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

type inbound struct {
	event string
	data  json.RawMessage
}

func NewCoordinator(deps Dependencies, opts Options, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	logger = logger.With(zap.String("component", "coordinator"))

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		users:         deps.Users,
		appointments:  deps.Appointments,
		presenceStore: deps.Presence,
		recorder:      deps.Recorder,
		busy:          make(map[string]bool),
		backlog:       make(map[string][]inbound),
		tasks:         make(chan func(), opts.QueueSize),
		notices:       newSerialQueue(logger),
		ctx:           ctx,
		cancel:        cancel,
		stopped:       make(chan struct{}),
		lookupTimeout: opts.LookupTimeout,
		now:           time.Now,
		metrics:       m,
		logger:        logger,
	}

	c.registry = NewRegistry(deps.Users, m, logger)
	c.guard = NewGuard(deps.Appointments, logger)
	c.router = NewRouter(c.registry, m, logger)
	c.presence = NewPresenceTracker(c)
	c.signaling = NewSignalingRelay(c.registry, c.router, m, logger)
	return c
}

// Run processes submitted work until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.cancel()

	go c.notices.run(c.ctx)
	c.logger.Info("Coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator stopped", zap.Int("connections", c.registry.Count()))
			return ctx.Err()
		case task := <-c.tasks:
			c.safely("task", task)
		}
	}
}

// Connect registers a new transport connection.
func (c *Coordinator) Connect(connID string, sink Sink) error {
	return c.submit(func() {
		if err := c.registry.Register(connID, sink); err != nil {
			c.logger.Warn("Rejecting connection", zap.String("connId", connID), zap.Error(err))
			sink.Close()
		}
	})
}

// Dispatch hands one inbound frame to the loop. Frames without an event
// name are dropped.
func (c *Coordinator) Dispatch(connID string, frame []byte) error {
	if !gjson.ValidBytes(frame) {
		return fmt.Errorf("%w: invalid json frame", ErrMalformedPayload)
	}
	result := gjson.ParseBytes(frame)
	event := result.Get("event").String()
	if event == "" {
		return fmt.Errorf("%w: frame without event", ErrMalformedPayload)
	}
	data := json.RawMessage(result.Get("data").Raw)
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	return c.submit(func() {
		c.handle(connID, inbound{event: event, data: data})
	})
}

// Disconnect runs cleanup for a connection whose transport went away.
func (c *Coordinator) Disconnect(connID string) error {
	return c.submit(func() {
		c.disconnect(connID)
	})
}

func (c *Coordinator) submit(task func()) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.tasks <- task:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

// query runs fn on the loop and waits for its result.
func query[T any](ctx context.Context, c *Coordinator, fn func() T) (T, error) {
	var zero T
	result := make(chan T, 1)
	if err := c.submit(func() { result <- fn() }); err != nil {
		return zero, err
	}
	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.stopped:
		return zero, ErrStopped
	}
}

func (c *Coordinator) handle(connID string, in inbound) {
	if in.event == EventDisconnect {
		if entry, ok := c.registry.Get(connID); ok && entry.sink != nil {
			entry.sink.Close()
		}
		c.disconnect(connID)
		return
	}
	if _, ok := c.registry.Get(connID); !ok {
		c.logger.Debug("Event from unknown connection",
			zap.String("connId", connID),
			zap.String("event", in.event))
		return
	}
	if c.busy[connID] {
		c.backlog[connID] = append(c.backlog[connID], in)
		return
	}
	c.route(connID, in)
}

func (c *Coordinator) route(connID string, in inbound) {
	c.metrics.EventReceived(in.event)

	var err error
	switch in.event {
	case EventAuthenticate:
		err = c.onAuthenticate(connID, in.data)
	case EventJoinSession:
		err = c.onJoinSession(connID, in.data)
	case EventLeaveSession:
		err = c.onLeaveSession(connID, in.data)
	case EventSendMessage:
		err = c.onSendMessage(connID, in.data)
	case EventSendDirectMessage:
		err = c.onSendDirectMessage(connID, in.data)
	case EventTyping:
		err = c.onTyping(connID, in.data)
	case EventStartVideoCall:
		err = c.onStartVideoCall(connID, in.data)
	case EventJoinVideoCall:
		err = c.onJoinVideoCall(connID, in.data)
	case EventEndVideoCall:
		err = c.onEndVideoCall(connID, in.data)
	case EventVideoOffer, EventVideoAnswer, EventICECandidate:
		err = c.onSignal(connID, in.event, in.data)
	case EventJoinConsultation:
		err = c.onJoinConsultation(connID)
	case EventSendConsultationMessage:
		err = c.onConsultationMessage(connID, in.data)
	case EventLeaveConsultation:
		err = c.onLeaveConsultation(connID)
	default:
		c.logger.Debug("Ignoring unknown event",
			zap.String("connId", connID),
			zap.String("event", in.event))
	}

	if err != nil {
		c.logger.Warn("Event rejected",
			zap.String("connId", connID),
			zap.String("event", in.event),
			zap.Error(err))
	}
}

// lookup runs work off the loop with a bounded context, then runs the
// continuation it returns back on the loop. Until then the connection's
// later events are held back. A continuation for a connection that
// disconnected meanwhile is dropped.
func (c *Coordinator) lookup(connID, step string, work func(ctx context.Context) func()) {
	c.busy[connID] = true

	go func() {
		var cont func()
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Panic in lookup",
						zap.String("step", step),
						zap.String("connId", connID),
						zap.Any("panic", r))
					c.metrics.HandlerPanicked(step)
				}
			}()
			ctx, cancel := context.WithTimeout(c.ctx, c.lookupTimeout)
			defer cancel()
			cont = work(ctx)
		}()

		_ = c.submit(func() {
			delete(c.busy, connID)
			if _, ok := c.registry.Get(connID); !ok {
				delete(c.backlog, connID)
				return
			}
			if cont != nil {
				c.safely(step, cont)
			}
			c.drain(connID)
		})
	}()
}

func (c *Coordinator) drain(connID string) {
	for !c.busy[connID] {
		queued := c.backlog[connID]
		if len(queued) == 0 {
			delete(c.backlog, connID)
			return
		}
		next := queued[0]
		c.backlog[connID] = queued[1:]
		c.safely(next.event, func() { c.route(connID, next) })
	}
}

func (c *Coordinator) onAuthenticate(connID string, data json.RawMessage) error {
	var p authenticatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendTo(connID, EventAuthenticated, authenticatedEvent{Success: false, Message: msgAuthFailed})
		c.metrics.AuthFailed()
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	c.lookup(connID, EventAuthenticate, func(ctx context.Context) func() {
		id, err := c.registry.Verify(ctx, p.UserID, p.UserRole)
		return func() {
			if err != nil {
				message := msgAuthFailed
				if errors.Is(err, ErrLookupFailed) {
					message = msgServerError
				}
				c.metrics.AuthFailed()
				c.sendTo(connID, EventAuthenticated, authenticatedEvent{Success: false, Message: message})
				c.logger.Info("Authentication failed",
					zap.String("connId", connID),
					zap.String("userId", p.UserID),
					zap.Error(err))
				return
			}
			c.bind(connID, id)
			c.sendTo(connID, EventAuthenticated, authenticatedEvent{Success: true})
		}
	})
	return nil
}

func (c *Coordinator) bind(connID string, id Identity) {
	prev, err := c.registry.Bind(connID, id)
	if err != nil {
		c.logger.Warn("Bind failed", zap.String("connId", connID), zap.Error(err))
		return
	}
	// A refreshed display name is not a new presence.
	if prev.UserID == id.UserID && prev.Role == id.Role {
		return
	}
	if prev.Authenticated() {
		c.presence.OnDisconnect(prev.UserID, prev.Role)
	}
	c.presence.OnConnect(id.UserID, id.Role)

	c.logger.Info("Connection authenticated",
		zap.String("connId", connID),
		zap.String("userId", id.UserID),
		zap.String("role", string(id.Role)))
}

func (c *Coordinator) onJoinSession(connID string, data json.RawMessage) error {
	var p joinSessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.denyJoin(connID, "malformed", msgJoinForbidden)
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id, ok := c.identity(connID)
	if !ok {
		c.denyJoin(connID, "unauthenticated", msgAuthRequired)
		return fmt.Errorf("%w: connection not authenticated", ErrJoinDenied)
	}
	if p.UserID != "" && p.UserID != id.UserID {
		c.denyJoin(connID, "identity_mismatch", msgJoinForbidden)
		return fmt.Errorf("%w: payload user %s differs from %s", ErrJoinDenied, p.UserID, id.UserID)
	}

	room, err := domain.ParseRoom(p.SessionID)
	if err != nil {
		c.denyJoin(connID, "malformed", msgJoinForbidden)
		return fmt.Errorf("%w: %v", ErrJoinDenied, err)
	}
	if _, ok := room.Counterpart(id.UserID); !ok || room.Kind != domain.RoomDoctorPatient {
		c.denyJoin(connID, "no_counterpart", msgJoinForbidden)
		return fmt.Errorf("%w: room %s has no counterpart for %s", ErrJoinDenied, room.Name, id.UserID)
	}
	if c.router.IsMember(connID, room.Name) {
		c.registry.SetSessionRoom(connID, room.Name)
		return nil
	}

	c.lookup(connID, EventJoinSession, func(ctx context.Context) func() {
		granted, err := c.guard.CanJoin(ctx, id.UserID, id.Role, room)
		return func() {
			if err != nil {
				c.denyJoin(connID, "store_error", msgJoinFailed)
				c.logger.Error("Access check failed", zap.String("room", room.Name), zap.Error(err))
				return
			}
			if !granted {
				c.denyJoin(connID, "no_appointment", msgJoinForbidden)
				return
			}
			c.router.Join(connID, room, true)
			c.registry.SetSessionRoom(connID, room.Name)
			c.recorder.RecordEvent(&domain.SessionEvent{
				UserID:      id.UserID,
				SessionType: domain.SessionTypeChat,
				ResourceID:  room.Name,
				Metadata:    map[string]interface{}{"action": "join", "role": string(id.Role)},
			})
		}
	})
	return nil
}

func (c *Coordinator) denyJoin(connID, reason, message string) {
	c.metrics.JoinDenied(reason)
	c.sendTo(connID, EventJoinError, errorEvent{Message: message})
}

func (c *Coordinator) onLeaveSession(connID string, data json.RawMessage) error {
	var p leaveSessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	c.router.Leave(connID, p.SessionID)
	if entry, ok := c.registry.Get(connID); ok && entry.SessionRoom == p.SessionID {
		c.registry.SetSessionRoom(connID, "")
	}
	return nil
}

func (c *Coordinator) onSendMessage(connID string, data json.RawMessage) error {
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id, ok := c.identity(connID)
	if !ok {
		return fmt.Errorf("%w: sendMessage before authenticate", ErrAuthFailed)
	}
	if !c.router.IsMember(connID, p.SessionID) {
		return fmt.Errorf("%w: not a member of %s", ErrJoinDenied, p.SessionID)
	}

	roomID := p.RoomID
	if roomID == "" {
		roomID = p.SessionID
	}
	// The log keeps the time clients were shown, not the insert time.
	sentAt := c.now()
	c.router.Broadcast(p.SessionID, EventReceiveMessage, receiveMessageEvent{
		RoomID:     roomID,
		SessionID:  p.SessionID,
		SenderID:   id.UserID,
		SenderRole: id.Role,
		Text:       p.Text,
		Timestamp:  sentAt,
	})

	sender := id.UserID
	c.recorder.RecordMessage(&domain.ChatMessage{
		RoomID:      roomID,
		SessionID:   p.SessionID,
		SenderID:    &sender,
		SenderRole:  id.Role,
		Message:     p.Text,
		MessageType: domain.MessageTypeText,
		CreatedAt:   sentAt,
	})
	return nil
}

func (c *Coordinator) onSendDirectMessage(connID string, data json.RawMessage) error {
	var p directMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id, ok := c.identity(connID)
	if !ok {
		return fmt.Errorf("%w: sendDirectMessage before authenticate", ErrAuthFailed)
	}
	if p.RecipientID == "" || p.RecipientID == id.UserID {
		return fmt.Errorf("%w: invalid recipient", ErrMalformedPayload)
	}

	roomID := domain.DirectRoomName(id.UserID, p.RecipientID)
	sentAt := c.now()
	event := directMessageEvent{
		SenderID:   id.UserID,
		SenderRole: id.Role,
		Message:    p.Message,
		Timestamp:  sentAt,
	}

	recipients := c.registry.LookupByUserID(p.RecipientID)
	c.sendToMany(recipients, EventReceiveDirectMessage, event)
	// Recipient tabs that also sit in the room already have their copy.
	exclude := append([]string{connID}, recipients...)
	c.router.Broadcast(roomID, EventReceiveDirectMessage, event, exclude...)

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("direct-%d-%s", sentAt.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
	}
	sender := id.UserID
	c.recorder.RecordMessage(&domain.ChatMessage{
		RoomID:      roomID,
		SessionID:   sessionID,
		SenderID:    &sender,
		SenderRole:  id.Role,
		Message:     p.Message,
		MessageType: domain.MessageTypeText,
		CreatedAt:   sentAt,
	})
	return nil
}

func (c *Coordinator) onTyping(connID string, data json.RawMessage) error {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id, ok := c.identity(connID)
	if !ok || !c.router.IsMember(connID, p.SessionID) {
		return fmt.Errorf("%w: typing outside %s", ErrJoinDenied, p.SessionID)
	}
	c.router.Broadcast(p.SessionID, EventUserTyping, userTypingEvent{UserID: id.UserID, IsTyping: p.IsTyping}, connID)
	return nil
}

func (c *Coordinator) onStartVideoCall(connID string, data json.RawMessage) error {
	var p startCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id, _ := c.identity(connID)
	_, err := c.signaling.Start(connID, id, p.RoomID, p.ReceiverID, p.CallerName)
	return err
}

func (c *Coordinator) onJoinVideoCall(connID string, data json.RawMessage) error {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id, _ := c.identity(connID)
	if err := c.signaling.Join(connID, id, p.RoomID); err != nil {
		c.denyJoin(connID, "not_call_party", msgCallForbidden)
		return err
	}
	return nil
}

func (c *Coordinator) onEndVideoCall(connID string, data json.RawMessage) error {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id, ok := c.identity(connID)
	if !ok {
		return fmt.Errorf("%w: endVideoCall before authenticate", ErrAuthFailed)
	}
	c.signaling.End(connID, id, p.RoomID)
	return nil
}

func (c *Coordinator) onSignal(connID, event string, data json.RawMessage) error {
	id, ok := c.identity(connID)
	if !ok {
		return fmt.Errorf("%w: %s before authenticate", ErrAuthFailed, event)
	}
	_, err := c.signaling.Relay(connID, id, event, data)
	return err
}

func (c *Coordinator) onJoinConsultation(connID string) error {
	id, ok := c.identity(connID)
	if !ok {
		return fmt.Errorf("%w: joinConsultation before authenticate", ErrAuthFailed)
	}
	c.router.Join(connID, domain.MustParseRoom(domain.ConsultationRoomName), true)

	if id.Role == domain.RoleDoctor {
		c.sendToMany(c.registry.ConnectionsByRole(domain.RolePatient), EventConsultationStarted, consultationStartedEvent{
			DoctorName: id.Name,
			DoctorID:   id.UserID,
			Timestamp:  c.now(),
		})
	}
	return nil
}

func (c *Coordinator) onConsultationMessage(connID string, data json.RawMessage) error {
	var p consultationMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id, ok := c.identity(connID)
	if !ok || !c.router.IsMember(connID, domain.ConsultationRoomName) {
		return fmt.Errorf("%w: not in consultation room", ErrJoinDenied)
	}
	c.router.Broadcast(domain.ConsultationRoomName, EventReceiveConsultationMessage, consultationMessageEvent{
		Message:    p.Message,
		SenderID:   id.UserID,
		SenderName: id.Name,
		SenderRole: id.Role,
		Timestamp:  c.now(),
	}, connID)
	return nil
}

func (c *Coordinator) onLeaveConsultation(connID string) error {
	c.router.Leave(connID, domain.ConsultationRoomName)
	return nil
}

// disconnect runs every cleanup step even if an earlier one fails.
func (c *Coordinator) disconnect(connID string) {
	delete(c.busy, connID)
	delete(c.backlog, connID)

	entry, ok := c.registry.Remove(connID)
	if !ok {
		return
	}
	id := entry.Identity

	c.safely("disconnect_session_room", func() {
		if entry.SessionRoom != "" && id.Authenticated() {
			c.router.Broadcast(entry.SessionRoom, EventUserDisconnected, userEvent{UserID: id.UserID}, connID)
		}
	})
	c.safely("disconnect_presence", func() {
		if id.Authenticated() {
			c.presence.OnDisconnect(id.UserID, id.Role)
		}
	})
	var left []domain.Room
	c.safely("disconnect_rooms", func() {
		left = c.router.RemoveConnectionFromAllRooms(connID, id)
	})
	c.safely("disconnect_calls", func() {
		c.signaling.OnDisconnect(id, left)
	})

	c.logger.Info("Connection closed",
		zap.String("connId", connID),
		zap.String("userId", id.UserID),
		zap.Int("rooms", len(left)))
}

// Stats is a point-in-time view of the loop-owned state.
type Stats struct {
	Connections   int      `json:"connections"`
	Authenticated int      `json:"authenticated"`
	Rooms         int      `json:"rooms"`
	ActiveCalls   int      `json:"activeCalls"`
	OnlineDoctors []string `json:"onlineDoctors"`
}

// Member describes one connection in a room.
type Member struct {
	ConnID string      `json:"connectionId"`
	UserID string      `json:"userId"`
	Role   domain.Role `json:"role"`
	Name   string      `json:"name"`
}

func (c *Coordinator) DoctorOnline(ctx context.Context, doctorID string) (bool, error) {
	return query(ctx, c, func() bool {
		return c.presence.IsOnline(doctorID)
	})
}

func (c *Coordinator) RoomMembers(ctx context.Context, roomName string) ([]Member, error) {
	return query(ctx, c, func() []Member {
		ids := c.router.Members(roomName)
		members := make([]Member, 0, len(ids))
		for _, connID := range ids {
			entry, ok := c.registry.Get(connID)
			if !ok {
				continue
			}
			members = append(members, Member{
				ConnID: connID,
				UserID: entry.Identity.UserID,
				Role:   entry.Identity.Role,
				Name:   entry.Identity.Name,
			})
		}
		return members
	})
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	return query(ctx, c, func() Stats {
		return Stats{
			Connections:   c.registry.Count(),
			Authenticated: c.registry.AuthenticatedCount(),
			Rooms:         c.router.Count(),
			ActiveCalls:   c.signaling.Active(),
			OnlineDoctors: c.presence.OnlineDoctors(),
		}
	})
}

// SweepRooms removes empty rooms and forgotten calls, and resets the
// gauges from the live state. It returns the number of rooms removed.
func (c *Coordinator) SweepRooms(ctx context.Context) (int, error) {
	return query(ctx, c, func() int {
		removed := c.router.SweepEmpty()
		c.signaling.SweepEnded()
		c.metrics.SetRoomsActive(c.router.Count())
		c.metrics.SetCallsActive(c.signaling.Active())
		c.metrics.RoomsSwept(removed)
		return removed
	})
}

// DoctorStatusChanged fans a presence transition out to the doctor's
// patients. The store calls run on the notice queue so transitions reach
// patients in the order they happened.
func (c *Coordinator) DoctorStatusChanged(doctorID string, online bool) {
	c.metrics.PresenceTransition(online)
	c.logger.Info("Doctor presence changed",
		zap.String("doctorId", doctorID),
		zap.Bool("online", online))

	c.notices.Push(func(ctx context.Context) {
		lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
		defer cancel()

		if c.presenceStore != nil {
			if err := c.presenceStore.SetDoctorStatus(lookupCtx, doctorID, online); err != nil {
				c.logger.Warn("Failed to mirror doctor presence",
					zap.String("doctorId", doctorID),
					zap.Error(err))
			}
		}

		patients, err := c.appointments.FindPatientsWithActiveAppointments(lookupCtx, doctorID, domain.UpcomingStatuses)
		if err != nil {
			c.logger.Warn("Failed to resolve patients for presence update",
				zap.String("doctorId", doctorID),
				zap.Error(err))
			return
		}
		if len(patients) == 0 {
			return
		}

		_ = c.submit(func() {
			var targets []string
			for _, patientID := range patients {
				targets = append(targets, c.registry.LookupByUserID(patientID)...)
			}
			c.sendToMany(targets, EventDoctorStatusUpdate, doctorStatusEvent{DoctorID: doctorID, IsOnline: online})
		})
	})
}

func (c *Coordinator) identity(connID string) (Identity, bool) {
	entry, ok := c.registry.Get(connID)
	if !ok || !entry.Identity.Authenticated() {
		return Identity{}, false
	}
	return entry.Identity, true
}

func (c *Coordinator) sendTo(connID, event string, data any) {
	c.sendToMany([]string{connID}, event, data)
}

func (c *Coordinator) sendToMany(connIDs []string, event string, data any) int {
	if len(connIDs) == 0 {
		return 0
	}
	payload, err := encode(event, data)
	if err != nil {
		c.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return 0
	}
	delivered := 0
	for _, connID := range connIDs {
		if c.registry.Send(connID, payload) {
			delivered++
		}
	}
	c.metrics.EventsDelivered(event, delivered)
	return delivered
}

// safely runs one handler step and keeps the loop alive if it panics.
func (c *Coordinator) safely(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered panic in handler",
				zap.String("step", step),
				zap.Any("panic", r))
			c.metrics.HandlerPanicked(step)
		}
	}()
	fn()
}
