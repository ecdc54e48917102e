package hub

import (
	"encoding/json"
	"time"

	"realtime-service/internal/domain"
)

// Inbound event names.
const (
	EventAuthenticate            = "authenticate"
	EventJoinSession             = "joinSession"
	EventLeaveSession            = "leaveSession"
	EventSendMessage             = "sendMessage"
	EventSendDirectMessage       = "sendDirectMessage"
	EventTyping                  = "typing"
	EventStartVideoCall          = "startVideoCall"
	EventJoinVideoCall           = "joinVideoCall"
	EventEndVideoCall            = "endVideoCall"
	EventVideoOffer              = "videoOffer"
	EventVideoAnswer             = "videoAnswer"
	EventICECandidate            = "iceCandidate"
	EventJoinConsultation        = "joinConsultation"
	EventSendConsultationMessage = "sendConsultationMessage"
	EventLeaveConsultation       = "leaveConsultation"
	EventDisconnect              = "disconnect"
)

// Outbound event names.
const (
	EventAuthenticated              = "authenticated"
	EventJoinError                  = "joinError"
	EventUserJoined                 = "userJoined"
	EventUserLeft                   = "userLeft"
	EventReceiveMessage             = "receiveMessage"
	EventReceiveDirectMessage       = "receiveDirectMessage"
	EventUserTyping                 = "userTyping"
	EventVideoCallStarted           = "videoCallStarted"
	EventVideoCallJoined            = "videoCallJoined"
	EventVideoCallEnded             = "videoCallEnded"
	EventUserJoinedConsultation     = "userJoinedConsultation"
	EventConsultationStarted        = "consultationStarted"
	EventReceiveConsultationMessage = "receiveConsultationMessage"
	EventUserLeftConsultation       = "userLeftConsultation"
	EventUserDisconnected           = "userDisconnected"
	EventDoctorStatusUpdate         = "doctorStatusUpdate"
)

const (
	msgAuthFailed    = "Authentication failed"
	msgServerError   = "Server error"
	msgJoinForbidden = "You do not have permission to join this session"
	msgJoinFailed    = "Failed to join session"
	msgCallForbidden = "You do not have permission to join this call"
	msgAuthRequired  = "Authentication required"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type authenticatePayload struct {
	UserID   string      `json:"userId"`
	UserRole domain.Role `json:"userRole"`
}

type joinSessionPayload struct {
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId"`
	UserRole  domain.Role `json:"userRole"`
}

type leaveSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type sendMessagePayload struct {
	RoomID     string      `json:"roomId"`
	SessionID  string      `json:"sessionId"`
	SenderID   string      `json:"senderId"`
	SenderRole domain.Role `json:"senderRole"`
	Text       string      `json:"text"`
}

type directMessagePayload struct {
	RecipientID string      `json:"recipientId"`
	SenderID    string      `json:"senderId"`
	SenderRole  domain.Role `json:"senderRole"`
	Message     string      `json:"message"`
	SessionID   string      `json:"sessionId,omitempty"`
}

type typingPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
}

type startCallPayload struct {
	RoomID     string `json:"roomId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	ReceiverID string `json:"receiverId"`
}

type callPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type consultationMessagePayload struct {
	Message    string      `json:"message"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	SenderRole domain.Role `json:"senderRole"`
}

type authenticatedEvent struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type errorEvent struct {
	Message string `json:"message"`
}

type userJoinedEvent struct {
	UserID   string      `json:"userId"`
	UserRole domain.Role `json:"userRole"`
	UserName string      `json:"userName,omitempty"`
}

type userEvent struct {
	UserID string `json:"userId"`
}

type receiveMessageEvent struct {
	RoomID     string      `json:"roomId"`
	SessionID  string      `json:"sessionId"`
	SenderID   string      `json:"senderId"`
	SenderRole domain.Role `json:"senderRole"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
}

type directMessageEvent struct {
	SenderID   string      `json:"senderId"`
	SenderRole domain.Role `json:"senderRole"`
	Message    string      `json:"message"`
	Timestamp  time.Time   `json:"timestamp"`
}

type userTypingEvent struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type callStartedEvent struct {
	RoomID     string `json:"roomId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	ReceiverID string `json:"receiverId"`
}

type callJoinedEvent struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type consultationMemberEvent struct {
	UserID    string      `json:"userId"`
	UserName  string      `json:"userName"`
	Role      domain.Role `json:"role"`
	Timestamp time.Time   `json:"timestamp"`
}

type consultationStartedEvent struct {
	DoctorName string    `json:"doctorName"`
	DoctorID   string    `json:"doctorId"`
	Timestamp  time.Time `json:"timestamp"`
}

type consultationMessageEvent struct {
	Message    string      `json:"message"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	SenderRole domain.Role `json:"senderRole"`
	Timestamp  time.Time   `json:"timestamp"`
}

type doctorStatusEvent struct {
	DoctorID string `json:"doctorId"`
	IsOnline bool   `json:"isOnline"`
}

// memberNotice picks the event announced to the rest of a room when a
// connection joins or leaves it. Each room kind keeps its own vocabulary.
func memberNotice(room domain.Room, id Identity, joined bool, at time.Time) (string, any) {
	switch room.Kind {
	case domain.RoomConsultation:
		data := consultationMemberEvent{UserID: id.UserID, UserName: id.Name, Role: id.Role, Timestamp: at}
		if joined {
			return EventUserJoinedConsultation, data
		}
		return EventUserLeftConsultation, data
	case domain.RoomVideoCall:
		if joined {
			return EventVideoCallJoined, callJoinedEvent{UserID: id.UserID, UserName: id.Name}
		}
		return EventVideoCallEnded, userEvent{UserID: id.UserID}
	default:
		if joined {
			return EventUserJoined, userJoinedEvent{UserID: id.UserID, UserRole: id.Role, UserName: id.Name}
		}
		return EventUserLeft, userEvent{UserID: id.UserID}
	}
}

// encode builds an outbound frame.
func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
