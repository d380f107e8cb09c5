package handler

import (
	"errors"
	"net/http"

	"heartlink/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// respondError maps domain errors to HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	var pending *models.AlreadyPendingError
	switch {
	case errors.As(err, &pending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "request": pending.Existing})
	case errors.Is(err, models.ErrStorageTimeout):
		h.Logger.Warn("storage timeout", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable", "retryable": true})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotOwner), errors.Is(err, models.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
