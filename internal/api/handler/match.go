package handler

import (
	"net/http"

	"heartlink/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// SubmitMatch queues the caller and tries to pair them right away.
func (h *Handler) SubmitMatch(c *gin.Context) {
	user := currentUser(c)
	if err := h.Presence.Heartbeat(c.Request.Context(), user); err != nil {
		h.respondError(c, err)
		return
	}

	req, pair, err := h.Registry.SubmitAndPair(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := gin.H{"request": req}
	if pair != nil {
		resp["room"] = pair.Room
	}
	c.JSON(http.StatusCreated, resp)
}

// CancelMatch withdraws the caller's pending request.
func (h *Handler) CancelMatch(c *gin.Context) {
	if err := h.Registry.Cancel(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MatchStatus returns the caller's request with an expiry warning when one applies.
func (h *Handler) MatchStatus(c *gin.Context) {
	ctx := c.Request.Context()
	req, err := h.Registry.Get(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if req.UserID != currentUser(c) {
		h.respondError(c, models.ErrNotOwner)
		return
	}

	warning, err := h.Notifier.WarningFor(ctx, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req, "warning": warning})
}

// Heartbeat marks the caller as online.
func (h *Handler) Heartbeat(c *gin.Context) {
	if err := h.Presence.Heartbeat(c.Request.Context(), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats reports request and room counts.
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	reqStats, err := h.Registry.Stats(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	roomStats, err := h.Rooms.Stats(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqStats, "rooms": roomStats})
}
