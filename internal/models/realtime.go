package models

// Notice types pushed to connected clients.
const (
	NoticeMatchFound    = "system_match_found"
	NoticeExpiryWarning = "system_expiry_warning"
	NoticeRoomEnded     = "system_room_ended"
)

// Notice is a server-to-client message on the presence stream.
type Notice struct {
	UserID  string   `json:"user_id"`
	Type    string   `json:"type"`
	RoomID  string   `json:"room_id,omitempty"`
	Content string   `json:"content,omitempty"`
	Warning *Warning `json:"warning,omitempty"`
}

// Warning tells an online requester that their pending request is about to expire.
type Warning struct {
	RequestID        string  `json:"request_id"`
	UserID           string  `json:"user_id"`
	MinutesRemaining float64 `json:"minutes_remaining"`
	Message          string  `json:"message"`
}
