package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/hub"
	"realtime-service/internal/middleware"
)

// PresenceReader answers read-only questions about live state.
type PresenceReader interface {
	DoctorOnline(ctx context.Context, doctorID string) (bool, error)
	RoomMembers(ctx context.Context, roomName string) ([]hub.Member, error)
	Stats(ctx context.Context) (hub.Stats, error)
}

type PresenceHandler struct {
	reader PresenceReader
	logger *zap.Logger
}

func NewPresenceHandler(reader PresenceReader, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{
		reader: reader,
		logger: logger,
	}
}

// GetDoctorStatus returns whether a doctor has at least one live connection
func (h *PresenceHandler) GetDoctorStatus(c *gin.Context) {
	doctorID := c.Param("doctorId")

	online, err := h.reader.DoctorOnline(c.Request.Context(), doctorID)
	if err != nil {
		h.logger.Error("failed to read doctor status", zap.String("doctorId", doctorID), zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "Presence is unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"doctorId": doctorID,
		"isOnline": online,
	})
}

// GetRoomMembers lists the connections in a room. Only admins and users
// who are in the room themselves may look.
func (h *PresenceHandler) GetRoomMembers(c *gin.Context) {
	room := c.Param("room")

	members, err := h.reader.RoomMembers(c.Request.Context(), room)
	if err != nil {
		h.logger.Error("failed to read room members", zap.String("room", room), zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "Presence is unavailable")
		return
	}

	if !isAdmin(c) && !containsUser(members, c.GetString(middleware.ContextUserID)) {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "Not a member of this room")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":    room,
		"members": members,
	})
}

// GetStats returns counters of the live state. Admin only.
func (h *PresenceHandler) GetStats(c *gin.Context) {
	if !isAdmin(c) {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "Admin role required")
		return
	}

	stats, err := h.reader.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read stats", zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "Presence is unavailable")
		return
	}

	c.JSON(http.StatusOK, stats)
}

func isAdmin(c *gin.Context) bool {
	role, _ := c.Get(middleware.ContextUserRole)
	return role == domain.RoleAdmin
}

func containsUser(members []hub.Member, userID string) bool {
	if userID == "" {
		return false
	}
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}
