package domain

import "time"

// Role is the account role stored in the user directory.
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
	// RoleAI is only ever a chat sender, never a connection role.
	RoleAI Role = "AI"
	// RoleNone marks a connection that has not authenticated yet.
	RoleNone Role = ""
)

// Valid reports whether r is a role a connection may authenticate as.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// User is the slice of the user directory the coordinator reads.
type User struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Role      Role      `gorm:"type:varchar(20);not null;default:'PATIENT'" json:"role"`
	Approved  bool      `gorm:"default:false" json:"approved"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (User) TableName() string {
	return "users"
}
