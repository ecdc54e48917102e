package hub

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"realtime-service/internal/domain"
)

// Guard decides whether a user may join a session room. It is consulted
// once at the join boundary; later messages are not re-validated.
type Guard struct {
	appointments AppointmentStore
	logger       *zap.Logger
}

func NewGuard(appointments AppointmentStore, logger *zap.Logger) *Guard {
	return &Guard{
		appointments: appointments,
		logger:       logger.With(zap.String("component", "access_guard")),
	}
}

// CanJoin grants access to a doctor/patient room iff an appointment in a
// joinable status exists between the user and the counterpart encoded in
// the room. Rooms without a counterpart are denied. A store error denies
// and is returned for logging.
func (g *Guard) CanJoin(ctx context.Context, userID string, role domain.Role, room domain.Room) (bool, error) {
	if room.Kind != domain.RoomDoctorPatient {
		return false, nil
	}
	counterpart, ok := room.Counterpart(userID)
	if !ok {
		return false, nil
	}

	found, err := g.appointments.FindActiveAppointment(ctx, userID, counterpart, domain.JoinableStatuses)
	if err != nil {
		return false, fmt.Errorf("check appointment %s/%s: %w", userID, counterpart, err)
	}

	g.logger.Debug("Access decision",
		zap.String("userId", userID),
		zap.String("role", string(role)),
		zap.String("room", room.Name),
		zap.Bool("granted", found))
	return found, nil
}
