// internal/models/models.go
package models

import "time"

// Room visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Room status values.
const (
	RoomIdle    = "idle"
	RoomPlaying = "playing"
)

// User is a registered account. IDs are monotonic and never reused; email is
// unique case-insensitively.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password_hash,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Public returns a copy of the user with the password verifier stripped, safe
// to hand to clients.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// Room is a match lobby. Members is ordered host-first and holds at most two
// user ids. InviteList only matters while Visibility is private.
type Room struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	HostUserID int64     `json:"host_user_id"`
	Visibility string    `json:"visibility"`
	InviteList []int64   `json:"invite_list"`
	Members    []int64   `json:"members"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasMember reports whether userID is in the membership list.
func (r *Room) HasMember(userID int64) bool {
	for _, id := range r.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// IsInvited reports whether userID is on the invite list.
func (r *Room) IsInvited(userID int64) bool {
	for _, id := range r.InviteList {
		if id == userID {
			return true
		}
	}
	return false
}

// RoomPatch is a partial update applied by the persistence service. Nil fields
// are left untouched.
type RoomPatch struct {
	Members    *[]int64 `json:"members,omitempty"`
	InviteList *[]int64 `json:"invite_list,omitempty"`
	Status     *string  `json:"status,omitempty"`
}

// PlayerResult is one player's line in a match result. MaxCombo is reserved
// and always written as 0.
type PlayerResult struct {
	UserID   int64 `json:"userId"`
	Score    int   `json:"score"`
	Lines    int   `json:"lines"`
	MaxCombo int   `json:"maxCombo"`
}

// GameLog is the durable record of one finished match.
type GameLog struct {
	ID      int64          `json:"id"`
	MatchID string         `json:"match_id"`
	RoomID  int64          `json:"room_id"`
	Users   []int64        `json:"users"`
	StartAt time.Time      `json:"start_at"`
	EndAt   time.Time      `json:"end_at"`
	Results []PlayerResult `json:"results"`
}
