package handler

import (
	"net/http"

	"heartlink/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// RoomActivity records a message or keystroke in the room. It also counts
// as a presence heartbeat.
func (h *Handler) RoomActivity(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	if err := h.Rooms.RecordActivity(ctx, c.Param("id"), user); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.Presence.Heartbeat(ctx, user); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRoom returns a room to one of its members.
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.Rooms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !room.HasMember(currentUser(c)) {
		h.respondError(c, models.ErrNotMember)
		return
	}
	c.JSON(http.StatusOK, room)
}

// OpenWaitingRoom opens a room the caller waits in for a partner.
func (h *Handler) OpenWaitingRoom(c *gin.Context) {
	room, err := h.Rooms.OpenWaiting(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// JoinRoom takes the free slot of a waiting room.
func (h *Handler) JoinRoom(c *gin.Context) {
	room, err := h.Rooms.Join(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}
