package domain

import "time"

// AppointmentStatus mirrors the appointment lifecycle of the booking API.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "PENDING"
	AppointmentScheduled AppointmentStatus = "SCHEDULED"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
	AppointmentNoShow    AppointmentStatus = "NO_SHOW"
)

var (
	// JoinableStatuses grant access to a doctor-patient room.
	JoinableStatuses = []AppointmentStatus{AppointmentConfirmed, AppointmentScheduled, AppointmentCompleted}
	// UpcomingStatuses select the patients who care about a doctor's presence.
	UpcomingStatuses = []AppointmentStatus{AppointmentConfirmed, AppointmentScheduled}
)

type Appointment struct {
	ID            string            `gorm:"type:varchar(64);primaryKey" json:"id"`
	PatientID     string            `gorm:"type:varchar(64);not null;index" json:"patientId"`
	DoctorID      *string           `gorm:"type:varchar(64);index" json:"doctorId,omitempty"`
	ScheduledDate time.Time         `gorm:"not null;index" json:"scheduledDate"`
	ScheduledTime string            `gorm:"type:varchar(10)" json:"scheduledTime"`
	Duration      int               `gorm:"default:60" json:"duration"`
	Status        AppointmentStatus `gorm:"type:varchar(20);not null;default:'SCHEDULED';index" json:"status"`
	Notes         string            `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Appointment) TableName() string {
	return "appointments"
}
