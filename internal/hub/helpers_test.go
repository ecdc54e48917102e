package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/repository"
)

// fakeSink records every frame queued to a connection.
type fakeSink struct {
	mu     sync.Mutex
	frames []Envelope
	closed bool
	full   bool
}

func (s *fakeSink) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.full {
		return false
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		panic(err)
	}
	s.frames = append(s.frames, env)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSink) count(event string) int {
	return len(s.events(event))
}

func (s *fakeSink) events(event string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []json.RawMessage
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func (s *fakeSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Event)
	}
	return out
}

func (s *fakeSink) last(t *testing.T, event string, v any) {
	t.Helper()
	events := s.events(event)
	require.NotEmpty(t, events, "no %s frame", event)
	require.NoError(t, json.Unmarshal(events[len(events)-1], v))
}

// fakeDirectory is an in-memory user directory.
type fakeDirectory struct {
	mu    sync.Mutex
	users map[string]*domain.User
	err   error
}

func newFakeDirectory(users ...*domain.User) *fakeDirectory {
	d := &fakeDirectory{users: make(map[string]*domain.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeDirectory) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// fakeAppointments answers from a fixed set of doctor/patient pairs.
type fakeAppointments struct {
	mu    sync.Mutex
	pairs map[[2]string]bool
	err   error
	calls int
	// gate, when set, blocks FindActiveAppointment until closed.
	gate chan struct{}
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{pairs: make(map[[2]string]bool)}
}

func (a *fakeAppointments) add(doctorID, patientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pairs[[2]string{doctorID, patientID}] = true
}

func (a *fakeAppointments) FindActiveAppointment(ctx context.Context, userA, userB string, statuses []domain.AppointmentStatus) (bool, error) {
	a.mu.Lock()
	gate := a.gate
	a.calls++
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return false, a.err
	}
	return a.pairs[[2]string{userA, userB}] || a.pairs[[2]string{userB, userA}], nil
}

func (a *fakeAppointments) FindPatientsWithActiveAppointments(ctx context.Context, doctorID string, statuses []domain.AppointmentStatus) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	var out []string
	for pair := range a.pairs {
		if pair[0] == doctorID {
			out = append(out, pair[1])
		}
	}
	return out, nil
}

func (a *fakeAppointments) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakePresenceStore records mirrored transitions.
type fakePresenceStore struct {
	mu      sync.Mutex
	history []string
}

func (p *fakePresenceStore) SetDoctorStatus(ctx context.Context, doctorID string, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	p.history = append(p.history, doctorID+":"+state)
	return nil
}

func (p *fakePresenceStore) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.history...)
}

// fakeRecorder collects persistence calls synchronously.
type fakeRecorder struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
	events   []domain.SessionEvent
	panics   bool
}

func (r *fakeRecorder) RecordMessage(message *domain.ChatMessage) {
	if r.panics {
		panic("recorder exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *message)
}

func (r *fakeRecorder) RecordEvent(event *domain.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
}

func (r *fakeRecorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *fakeRecorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type notifierFunc func(doctorID string, online bool)

func (f notifierFunc) DoctorStatusChanged(doctorID string, online bool) { f(doctorID, online) }

var errStoreDown = errors.New("store down")

const (
	doctorID   = "d1"
	patientID  = "p1"
	strangerID = "s1"
)

func testUsers() []*domain.User {
	return []*domain.User{
		{ID: doctorID, Name: "Dr. Kim", Role: domain.RoleDoctor},
		{ID: "d2", Name: "Dr. Lee", Role: domain.RoleDoctor},
		{ID: patientID, Name: "Park", Role: domain.RolePatient},
		{ID: "p2", Name: "Choi", Role: domain.RolePatient},
		{ID: strangerID, Name: "Stranger", Role: domain.RolePatient},
		{ID: "a1", Name: "Admin", Role: domain.RoleAdmin},
	}
}

// bindVerified authenticates a registered connection the way the
// coordinator does, minus the loop round trip.
func bindVerified(ctx context.Context, r *Registry, connID, userID string, role domain.Role) (Identity, error) {
	id, err := r.Verify(ctx, userID, role)
	if err != nil {
		return Identity{}, err
	}
	if _, err := r.Bind(connID, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// loopFixture runs a coordinator loop backed by in-memory collaborators.
type loopFixture struct {
	c            *Coordinator
	directory    *fakeDirectory
	appointments *fakeAppointments
	presence     *fakePresenceStore
	recorder     *fakeRecorder
	sinks        map[string]*fakeSink
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	f := &loopFixture{
		directory:    newFakeDirectory(testUsers()...),
		appointments: newFakeAppointments(),
		presence:     &fakePresenceStore{},
		recorder:     &fakeRecorder{},
		sinks:        make(map[string]*fakeSink),
	}
	f.appointments.add(doctorID, patientID)
	f.c = newTestCoordinator(t, Dependencies{
		Users:        f.directory,
		Appointments: f.appointments,
		Presence:     f.presence,
		Recorder:     f.recorder,
	})
	return f
}

func newTestCoordinator(t *testing.T, deps Dependencies) *Coordinator {
	t.Helper()
	c := NewCoordinator(deps, Options{LookupTimeout: time.Second}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func (f *loopFixture) connect(t *testing.T, connID string) *fakeSink {
	t.Helper()
	sink := &fakeSink{}
	f.sinks[connID] = sink
	require.NoError(t, f.c.Connect(connID, sink))
	return sink
}

func (f *loopFixture) send(t *testing.T, connID, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	require.NoError(t, f.c.Dispatch(connID, frame))
}

// login connects and authenticates, waiting for the acknowledgement.
func (f *loopFixture) login(t *testing.T, connID, userID string, role domain.Role) *fakeSink {
	t.Helper()
	sink := f.connect(t, connID)
	f.send(t, connID, EventAuthenticate, map[string]any{"userId": userID, "userRole": role})
	require.Eventually(t, func() bool { return sink.count(EventAuthenticated) == 1 }, time.Second, time.Millisecond)
	var ack authenticatedEvent
	sink.last(t, EventAuthenticated, &ack)
	require.True(t, ack.Success, "authenticate %s: %s", userID, ack.Message)
	return sink
}

// settle waits until every task submitted so far has run on the loop.
func (f *loopFixture) settle(t *testing.T) {
	t.Helper()
	_, err := f.c.Stats(context.Background())
	require.NoError(t, err)
}

func (f *loopFixture) members(t *testing.T, room string) []string {
	t.Helper()
	members, err := f.c.RoomMembers(context.Background(), room)
	require.NoError(t, err)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ConnID)
	}
	return ids
}

// joinSession joins and waits until the connection is a member.
func (f *loopFixture) joinSession(t *testing.T, connID, room string) {
	t.Helper()
	f.send(t, connID, EventJoinSession, map[string]any{"sessionId": room})
	require.Eventually(t, func() bool { return f.isMember(connID, room) }, time.Second, time.Millisecond)
}

func (f *loopFixture) isMember(connID, room string) bool {
	members, err := f.c.RoomMembers(context.Background(), room)
	if err != nil {
		return false
	}
	for _, m := range members {
		if m.ConnID == connID {
			return true
		}
	}
	return false
}
