package repository

import (
	"context"

	"gorm.io/gorm"

	"realtime-service/internal/domain"
)

type AppointmentRepository interface {
	// FindActiveAppointment reports whether the two users share an appointment,
	// in either patient/doctor direction, whose status is one of statuses.
	FindActiveAppointment(ctx context.Context, userA, userB string, statuses []domain.AppointmentStatus) (bool, error)
	// FindPatientsWithActiveAppointments lists the distinct patients of a doctor.
	FindPatientsWithActiveAppointments(ctx context.Context, doctorID string, statuses []domain.AppointmentStatus) ([]string, error)
}

type appointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) FindActiveAppointment(ctx context.Context, userA, userB string, statuses []domain.AppointmentStatus) (bool, error) {
	if userA == "" || userB == "" || len(statuses) == 0 {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where("((patient_id = ? AND doctor_id = ?) OR (patient_id = ? AND doctor_id = ?))", userA, userB, userB, userA).
		Where("status IN ?", statuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *appointmentRepository) FindPatientsWithActiveAppointments(ctx context.Context, doctorID string, statuses []domain.AppointmentStatus) ([]string, error) {
	var patientIDs []string
	if doctorID == "" || len(statuses) == 0 {
		return patientIDs, nil
	}

	err := r.db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Distinct().
		Where("doctor_id = ? AND status IN ?", doctorID, statuses).
		Order("patient_id").
		Pluck("patient_id", &patientIDs).Error
	return patientIDs, err
}
