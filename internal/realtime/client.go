package realtime

import "heartlink/backend/internal/models"

// Client is one live connection of a user. The hub keeps at most one per user.
type Client interface {
	// GetUserID returns the anonymous id the connection authenticated as.
	GetUserID() string
	// GetSendChannel returns the channel the hub writes notices to.
	GetSendChannel() chan<- models.Notice
	// Run starts the connection's read and write pumps.
	Run()
	// Close stops the write pump, which closes the connection.
	Close()
}
