package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"realtime-service/internal/domain"
	"realtime-service/internal/hub"
	"realtime-service/internal/repository"
)

type nopRecorder struct{}

func (nopRecorder) RecordMessage(*domain.ChatMessage) {}
func (nopRecorder) RecordEvent(*domain.SessionEvent)  {}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.User{}, &domain.Appointment{}))

	doctorID := "d1"
	require.NoError(t, db.Create([]*domain.User{
		{ID: "d1", Name: "Dr. Kim", Email: "kim@example.com", Role: domain.RoleDoctor},
		{ID: "p1", Name: "Park", Email: "park@example.com", Role: domain.RolePatient},
	}).Error)
	require.NoError(t, db.Create(&domain.Appointment{
		ID:            "a1",
		PatientID:     "p1",
		DoctorID:      &doctorID,
		ScheduledDate: time.Now().Add(time.Hour),
		ScheduledTime: "10:00",
		Status:        domain.AppointmentConfirmed,
	}).Error)
	return db
}

type wsFixture struct {
	coordinator *hub.Coordinator
	url         string
}

func newWSFixture(t *testing.T) *wsFixture {
	db := setupTestDB(t)
	coordinator := hub.NewCoordinator(hub.Dependencies{
		Users:        repository.NewUserRepository(db),
		Appointments: repository.NewAppointmentRepository(db),
		Recorder:     nopRecorder{},
	}, hub.Options{LookupTimeout: time.Second}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coordinator.Run(ctx)
	}()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", NewWSHandler(coordinator, WSOptions{}, zap.NewNop()).HandleWebSocket)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &wsFixture{
		coordinator: coordinator,
		url:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(hub.Envelope{Event: event, Data: raw}))
}

// readUntil skips frames until one with the given event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env hub.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			return env.Data
		}
	}
}

func (f *wsFixture) login(t *testing.T, userID string, role domain.Role) *websocket.Conn {
	conn := f.dial(t)
	emit(t, conn, hub.EventAuthenticate, map[string]any{"userId": userID, "userRole": role})
	assert.JSONEq(t, `{"success":true}`, string(readUntil(t, conn, hub.EventAuthenticated)))
	return conn
}

func (f *wsFixture) waitMember(t *testing.T, room string, n int) {
	require.Eventually(t, func() bool {
		members, err := f.coordinator.RoomMembers(context.Background(), room)
		return err == nil && len(members) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWSHandler_SessionRoundTrip(t *testing.T) {
	f := newWSFixture(t)
	doctor := f.login(t, "d1", domain.RoleDoctor)
	patient := f.login(t, "p1", domain.RolePatient)
	room := domain.DirectRoomName("d1", "p1")

	emit(t, doctor, hub.EventJoinSession, map[string]any{"sessionId": room})
	f.waitMember(t, room, 1)
	emit(t, patient, hub.EventJoinSession, map[string]any{"sessionId": room})
	assert.JSONEq(t, `{"userId":"p1","userRole":"PATIENT","userName":"Park"}`,
		string(readUntil(t, doctor, hub.EventUserJoined)))

	emit(t, patient, hub.EventSendMessage, map[string]any{"sessionId": room, "text": "hello doctor"})
	var msg struct {
		SenderID string `json:"senderId"`
		Text     string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, doctor, hub.EventReceiveMessage), &msg))
	assert.Equal(t, "p1", msg.SenderID)
	assert.Equal(t, "hello doctor", msg.Text)

	// Dropping the socket runs the disconnect cleanup.
	require.NoError(t, patient.Close())
	assert.JSONEq(t, `{"userId":"p1"}`, string(readUntil(t, doctor, hub.EventUserDisconnected)))
	f.waitMember(t, room, 1)
}

func TestWSHandler_AuthenticationRejected(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	emit(t, conn, hub.EventAuthenticate, map[string]any{"userId": "p1", "userRole": "DOCTOR"})
	assert.JSONEq(t, `{"success":false,"message":"Authentication failed"}`,
		string(readUntil(t, conn, hub.EventAuthenticated)))

	emit(t, conn, hub.EventJoinSession, map[string]any{"sessionId": "patient-doctor-room-d1"})
	assert.JSONEq(t, `{"message":"Authentication required"}`, string(readUntil(t, conn, hub.EventJoinError)))
}

func TestWSHandler_GarbageFramesKeepConnection(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	emit(t, conn, "noSuchEvent", map[string]any{})
	emit(t, conn, hub.EventAuthenticate, map[string]any{"userId": "p1", "userRole": "PATIENT"})
	assert.JSONEq(t, `{"success":true}`, string(readUntil(t, conn, hub.EventAuthenticated)))
}

func TestWSHandler_CoordinatorStopped(t *testing.T) {
	coordinator := hub.NewCoordinator(hub.Dependencies{Recorder: nopRecorder{}}, hub.Options{}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = coordinator.Run(ctx)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", NewWSHandler(coordinator, WSOptions{}, zap.NewNop()).HandleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestClient_SendNeverBlocks(t *testing.T) {
	client := newClient(nil, 1)

	assert.True(t, client.Send([]byte("a")))
	assert.False(t, client.Send([]byte("b")), "buffer full")

	client.Close()
	client.Close()
	assert.False(t, client.Send([]byte("c")), "closed")

	queued, ok := <-client.send
	assert.True(t, ok)
	assert.Equal(t, "a", string(queued))
	_, ok = <-client.send
	assert.False(t, ok)
}
