package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"realtime-service/internal/domain"
)

type transition struct {
	doctorID string
	online   bool
}

func newRecordingTracker() (*PresenceTracker, *[]transition) {
	var got []transition
	tracker := NewPresenceTracker(notifierFunc(func(doctorID string, online bool) {
		got = append(got, transition{doctorID, online})
	}))
	return tracker, &got
}

func TestPresence_DoctorTabs(t *testing.T) {
	tracker, got := newRecordingTracker()

	assert.True(t, tracker.OnConnect(doctorID, domain.RoleDoctor), "tab 1")
	assert.False(t, tracker.OnConnect(doctorID, domain.RoleDoctor), "tab 2")
	assert.Equal(t, 2, tracker.Connections(doctorID))

	assert.False(t, tracker.OnDisconnect(doctorID, domain.RoleDoctor), "tab 1 closes")
	assert.True(t, tracker.IsOnline(doctorID))

	assert.True(t, tracker.OnDisconnect(doctorID, domain.RoleDoctor), "tab 2 closes")
	assert.False(t, tracker.IsOnline(doctorID))

	assert.Equal(t, []transition{{doctorID, true}, {doctorID, false}}, *got)
}

func TestPresence_IgnoresNonDoctors(t *testing.T) {
	tracker, got := newRecordingTracker()

	assert.False(t, tracker.OnConnect(patientID, domain.RolePatient))
	assert.False(t, tracker.OnConnect("a1", domain.RoleAdmin))
	assert.False(t, tracker.OnConnect("", domain.RoleDoctor))
	assert.False(t, tracker.OnDisconnect(patientID, domain.RolePatient))

	assert.Empty(t, *got)
	assert.Empty(t, tracker.OnlineDoctors())
}

func TestPresence_UnmatchedDisconnectIsIgnored(t *testing.T) {
	tracker, got := newRecordingTracker()

	assert.False(t, tracker.OnDisconnect(doctorID, domain.RoleDoctor))
	assert.True(t, tracker.OnConnect(doctorID, domain.RoleDoctor))
	assert.True(t, tracker.OnDisconnect(doctorID, domain.RoleDoctor))
	assert.False(t, tracker.OnDisconnect(doctorID, domain.RoleDoctor))

	assert.Len(t, *got, 2)
	assert.Zero(t, tracker.Connections(doctorID))
}

func TestPresence_DoctorsAreIndependent(t *testing.T) {
	tracker, got := newRecordingTracker()

	tracker.OnConnect(doctorID, domain.RoleDoctor)
	tracker.OnConnect("d2", domain.RoleDoctor)
	tracker.OnDisconnect(doctorID, domain.RoleDoctor)

	assert.Equal(t, []string{"d2"}, tracker.OnlineDoctors())
	assert.Equal(t, []transition{{doctorID, true}, {"d2", true}, {doctorID, false}}, *got)
}

func TestPresence_NilNotifier(t *testing.T) {
	tracker := NewPresenceTracker(nil)
	assert.NotPanics(t, func() {
		tracker.OnConnect(doctorID, domain.RoleDoctor)
		tracker.OnDisconnect(doctorID, domain.RoleDoctor)
	})
}
