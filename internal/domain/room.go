package domain

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedRoom is returned when a room name matches a known prefix but
// its embedded identifiers cannot be recovered.
var ErrMalformedRoom = errors.New("malformed room name")

// RoomKind tags the room descriptor variant.
type RoomKind string

const (
	RoomChatSession   RoomKind = "CHAT_SESSION"
	RoomDoctorPatient RoomKind = "DOCTOR_PATIENT"
	RoomConsultation  RoomKind = "CONSULTATION"
	RoomVideoCall     RoomKind = "VIDEO_CALL"
)

const (
	ConsultationRoomName = "consultationRoom"

	patientDoctorPrefix = "patient-doctor-room-"
	directPrefix        = "doctor-patient-"
	videoPrefix         = "video-"
)

var (
	idPattern        = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z-]*$`)
	callStampPattern = regexp.MustCompile(`-[0-9]{10,}$`)
)

// Room is the typed descriptor of a room name. It is built once when a
// connection joins and travels with the room afterwards.
type Room struct {
	Name string
	Kind RoomKind
	// DoctorID is set for patient-doctor-room-{doctorId} names.
	DoctorID string
	// Parties holds the two user ids encoded in pair rooms and call rooms.
	Parties []string
}

// ParseRoom builds the descriptor for a client supplied room name.
// Names without a recognised prefix are plain chat sessions.
func ParseRoom(name string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, ErrMalformedRoom
	}

	switch {
	case name == ConsultationRoomName:
		return Room{Name: name, Kind: RoomConsultation}, nil

	case strings.HasPrefix(name, patientDoctorPrefix):
		doctorID := strings.TrimPrefix(name, patientDoctorPrefix)
		if !idPattern.MatchString(doctorID) {
			return Room{}, ErrMalformedRoom
		}
		return Room{Name: name, Kind: RoomDoctorPatient, DoctorID: doctorID}, nil

	case strings.HasPrefix(name, directPrefix):
		a, b, ok := splitPair(strings.TrimPrefix(name, directPrefix))
		if !ok {
			return Room{}, ErrMalformedRoom
		}
		return Room{Name: name, Kind: RoomDoctorPatient, Parties: []string{a, b}}, nil

	case strings.HasPrefix(name, videoPrefix):
		room := Room{Name: name, Kind: RoomVideoCall}
		rest := callStampPattern.ReplaceAllString(strings.TrimPrefix(name, videoPrefix), "")
		if a, b, ok := splitPair(rest); ok {
			room.Parties = []string{a, b}
		}
		return room, nil
	}

	return Room{Name: name, Kind: RoomChatSession}, nil
}

// MustParseRoom is ParseRoom for names built by this service.
func MustParseRoom(name string) Room {
	room, err := ParseRoom(name)
	if err != nil {
		panic(err)
	}
	return room
}

// DirectRoomName is the canonical room of a doctor/patient conversation.
func DirectRoomName(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return directPrefix + ids[0] + "-" + ids[1]
}

// HasParty reports whether userID is one of the ids encoded in the name.
func (r Room) HasParty(userID string) bool {
	if userID == "" {
		return false
	}
	if r.DoctorID == userID {
		return true
	}
	for _, p := range r.Parties {
		if p == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the other party that access must be validated
// against. ok is false when the name carries no usable counterpart.
func (r Room) Counterpart(userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	if r.DoctorID != "" {
		if r.DoctorID == userID {
			return "", false
		}
		return r.DoctorID, true
	}
	if len(r.Parties) == 2 {
		switch userID {
		case r.Parties[0]:
			return r.Parties[1], true
		case r.Parties[1]:
			return r.Parties[0], true
		}
	}
	return "", false
}

func splitPair(s string) (string, string, bool) {
	// Two UUIDs joined by a dash.
	if len(s) == 73 && s[36] == '-' {
		if _, err := uuid.Parse(s[:36]); err == nil {
			if _, err := uuid.Parse(s[37:]); err == nil {
				return s[:36], s[37:], true
			}
		}
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
