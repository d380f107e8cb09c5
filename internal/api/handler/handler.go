package handler

import (
	"log/slog"
	"net/http"

	"heartlink/backend/internal/matching"
	"heartlink/backend/internal/notify"
	"heartlink/backend/internal/presence"
	"heartlink/backend/internal/realtime"
	"heartlink/backend/internal/rooms"

	"github.com/gin-gonic/gin"
)

// Handler holds the services behind the HTTP routes.
type Handler struct {
	Registry *matching.Registry
	Rooms    *rooms.Manager
	Presence *presence.Tracker
	Notifier *notify.Notifier
	Hub      *realtime.Hub
	Tokens   *TokenIssuer
	Logger   *slog.Logger
}

// NewHandler wires the route handlers.
func NewHandler(reg *matching.Registry, rm *rooms.Manager, tracker *presence.Tracker, n *notify.Notifier, hub *realtime.Hub, tokens *TokenIssuer) *Handler {
	return &Handler{
		Registry: reg,
		Rooms:    rm,
		Presence: tracker,
		Notifier: n,
		Hub:      hub,
		Tokens:   tokens,
		Logger:   slog.Default(),
	}
}

// Routes registers every endpoint on r. metrics is mounted at /metrics when
// non-nil.
func (h *Handler) Routes(r gin.IRouter, limiter *LimiterStore, metrics http.Handler) {
	r.GET("/anonid", h.GetAnonID)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	auth := r.Group("/", RequireAnonID(h.Tokens))
	auth.GET("/ws", h.ServeWebSocket)
	auth.GET("/stats", h.Stats)

	limited := auth.Group("/", RateLimit(limiter))
	limited.POST("/match", h.SubmitMatch)
	limited.POST("/presence/heartbeat", h.Heartbeat)

	auth.DELETE("/match/:id", h.CancelMatch)
	auth.GET("/match/:id/status", h.MatchStatus)

	auth.POST("/room/waiting", h.OpenWaitingRoom)
	auth.POST("/room/:id/join", h.JoinRoom)
	auth.GET("/room/:id", h.GetRoom)
	auth.POST("/room/:id/activity", h.RoomActivity)
}
