package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"realtime-service/internal/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	// every pooled connection would otherwise get its own empty database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&domain.User{},
		&domain.Appointment{},
		&domain.ChatMessage{},
		&domain.SessionEvent{},
	))
	return db
}

func strPtr(s string) *string { return &s }

func seedAppointment(t *testing.T, db *gorm.DB, id, patientID, doctorID string, status domain.AppointmentStatus) {
	require.NoError(t, db.Create(&domain.Appointment{
		ID:            id,
		PatientID:     patientID,
		DoctorID:      strPtr(doctorID),
		ScheduledDate: time.Now().Add(24 * time.Hour),
		ScheduledTime: "10:00",
		Status:        status,
	}).Error)
}

func TestUserRepository_FindUserByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&domain.User{ID: "doc1", Name: "Dr. Rao", Email: "rao@example.com", Role: domain.RoleDoctor}).Error)

	user, err := repo.FindUserByID(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Rao", user.Name)
	assert.Equal(t, domain.RoleDoctor, user.Role)

	_, err = repo.FindUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAppointmentRepository_FindActiveAppointment(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	seedAppointment(t, db, "a1", "pat1", "doc1", domain.AppointmentConfirmed)
	seedAppointment(t, db, "a2", "pat2", "doc1", domain.AppointmentCancelled)

	ok, err := repo.FindActiveAppointment(ctx, "pat1", "doc1", domain.JoinableStatuses)
	require.NoError(t, err)
	assert.True(t, ok)

	// direction does not matter
	ok, err = repo.FindActiveAppointment(ctx, "doc1", "pat1", domain.JoinableStatuses)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.FindActiveAppointment(ctx, "pat2", "doc1", domain.JoinableStatuses)
	require.NoError(t, err)
	assert.False(t, ok, "cancelled appointments do not count")

	ok, err = repo.FindActiveAppointment(ctx, "stranger", "doc1", domain.JoinableStatuses)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.FindActiveAppointment(ctx, "", "doc1", domain.JoinableStatuses)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppointmentRepository_FindPatientsWithActiveAppointments(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()

	seedAppointment(t, db, "a1", "pat2", "doc1", domain.AppointmentScheduled)
	seedAppointment(t, db, "a2", "pat1", "doc1", domain.AppointmentConfirmed)
	seedAppointment(t, db, "a3", "pat1", "doc1", domain.AppointmentScheduled)
	seedAppointment(t, db, "a4", "pat3", "doc1", domain.AppointmentCompleted)
	seedAppointment(t, db, "a5", "pat4", "doc2", domain.AppointmentConfirmed)

	patients, err := repo.FindPatientsWithActiveAppointments(ctx, "doc1", domain.UpcomingStatuses)
	require.NoError(t, err)
	assert.Equal(t, []string{"pat1", "pat2"}, patients)

	patients, err = repo.FindPatientsWithActiveAppointments(ctx, "nobody", domain.UpcomingStatuses)
	require.NoError(t, err)
	assert.Empty(t, patients)
}

func TestChatRepository_AppendMessage(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)

	msg := &domain.ChatMessage{
		RoomID:     "doctor-patient-doc1-pat1",
		SessionID:  "direct-1",
		SenderID:   strPtr("pat1"),
		SenderRole: domain.RolePatient,
		Message:    "hello doctor",
	}
	require.NoError(t, repo.AppendMessage(context.Background(), msg))

	var stored domain.ChatMessage
	require.NoError(t, db.First(&stored, "session_id = ?", "direct-1").Error)
	assert.Equal(t, "hello doctor", stored.Message)
	assert.Equal(t, domain.MessageTypeText, stored.MessageType)
	assert.NotEqual(t, msg.ID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestAnalyticsRepository_RecordEvent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalyticsRepository(db)

	evt := &domain.SessionEvent{
		UserID:      "pat1",
		SessionType: domain.SessionTypeChat,
		ResourceID:  "patient-doctor-room-doc1",
		Metadata:    map[string]interface{}{"action": "join", "role": "PATIENT"},
	}
	require.NoError(t, repo.RecordEvent(context.Background(), evt))

	var stored domain.SessionEvent
	require.NoError(t, db.First(&stored, "user_id = ?", "pat1").Error)
	assert.Equal(t, domain.SessionTypeChat, stored.SessionType)
	assert.Equal(t, "join", stored.Metadata["action"])
	assert.False(t, stored.Date.IsZero())
}

func TestPresenceRepository_NilClient(t *testing.T) {
	repo := NewPresenceRepository(nil)
	err := repo.SetDoctorStatus(context.Background(), "doc1", true)
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}
