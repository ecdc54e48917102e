package hub

import (
	"context"

	"realtime-service/internal/domain"
)

// UserDirectory resolves user ids to accounts.
type UserDirectory interface {
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
}

// AppointmentStore answers the relationship questions behind room access
// and presence fan-out.
type AppointmentStore interface {
	FindActiveAppointment(ctx context.Context, userA, userB string, statuses []domain.AppointmentStatus) (bool, error)
	FindPatientsWithActiveAppointments(ctx context.Context, doctorID string, statuses []domain.AppointmentStatus) ([]string, error)
}

// PresenceStore mirrors doctor presence for readers outside this process.
type PresenceStore interface {
	SetDoctorStatus(ctx context.Context, doctorID string, online bool) error
}
