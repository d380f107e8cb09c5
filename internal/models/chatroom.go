package models

import (
	"sort"
	"strings"
	"time"
)

// RoomStatus is the lifecycle state of a ChatRoom.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomActive   RoomStatus = "active"
	RoomEnded    RoomStatus = "ended"
	RoomArchived RoomStatus = "archived"
	RoomDeleted  RoomStatus = "deleted"
)

// Closed reports whether the room has ended (EndedAt must be set).
func (s RoomStatus) Closed() bool {
	switch s {
	case RoomEnded, RoomArchived, RoomDeleted:
		return true
	}
	return false
}

// ChatRoom represents a 1-on-1 session between two matched users.
// Rooms are soft-deleted only.
type ChatRoom struct {
	// ID is the room UUID.
	ID string `gorm:"primaryKey;type:uuid" json:"id"`
	// MemberA is the first member, always present.
	MemberA string `gorm:"type:text;not null;index" json:"member_a"`
	// MemberB is empty while the room is waiting for a second member.
	MemberB string `gorm:"type:text;index" json:"member_b,omitempty"`
	// PairKey identifies the unordered member pair. Only one active room per key.
	PairKey string `gorm:"type:text;not null;uniqueIndex:idx_room_one_active,where:status = 'active'" json:"-"`
	// Status is the lifecycle state.
	Status RoomStatus `gorm:"type:text;not null;index:idx_room_status_created,priority:1" json:"status"`

	CreatedAt      time.Time  `gorm:"not null;index:idx_room_status_created,priority:2" json:"created_at"`
	LastActivityAt time.Time  `gorm:"not null" json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasMember reports whether userID occupies one of the two slots.
func (r *ChatRoom) HasMember(userID string) bool {
	return userID != "" && (r.MemberA == userID || r.MemberB == userID)
}

// Members returns both member slots; a vacant slot is "".
func (r *ChatRoom) Members() [2]string {
	return [2]string{r.MemberA, r.MemberB}
}

// Partner returns the other member of the room.
func (r *ChatRoom) Partner(userID string) string {
	if r.MemberA == userID {
		return r.MemberB
	}
	return r.MemberA
}

// PairKey builds the order-independent key of two members.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// RoomUpdate carries the columns written together with a room status transition.
type RoomUpdate struct {
	MemberB        *string
	PairKey        *string
	EndedAt        *time.Time
	LastActivityAt *time.Time
	UpdatedAt      time.Time
}

// RoomCursor marks the last room of a page ordered by (CreatedAt, ID).
type RoomCursor struct {
	CreatedAt time.Time
	ID        string
}

// Cursor returns the page position of r.
func (r *ChatRoom) Cursor() *RoomCursor {
	return &RoomCursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// RoomStats counts rooms by status.
type RoomStats struct {
	Waiting  int64 `json:"waiting"`
	Active   int64 `json:"active"`
	Ended    int64 `json:"ended"`
	Archived int64 `json:"archived"`
	Deleted  int64 `json:"deleted"`
}
