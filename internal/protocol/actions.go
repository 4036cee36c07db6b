// internal/protocol/actions.go
package protocol

import (
	"time"

	"github.com/jason-s-yu/tetrion/internal/models"
)

// Persistence service actions.
const (
	ActionCreateUser     = "create_user"
	ActionLoginUser      = "login_user"
	ActionGetUser        = "get_user"
	ActionGetUserByEmail = "get_user_by_email"
	ActionUpdateUser     = "update_user"
	ActionDeleteUser     = "delete_user"
	ActionCreateRoom     = "create_room"
	ActionGetRoom        = "get_room"
	ActionListRooms      = "list_rooms"
	ActionUpdateRoom     = "update_room"
	ActionDeleteRoom     = "delete_room"
	ActionCreateGameLog  = "create_game_log"
	ActionListGameLogs   = "list_game_logs"
)

// Session service actions.
const (
	ActionRegister        = "register"
	ActionLogin           = "login"
	ActionLogout          = "logout"
	ActionListOnlineUsers = "list_online_users"
	ActionSessionRooms    = "list_rooms"
	ActionSessionCreate   = "create_room"
	ActionJoinRoom        = "join_room"
	ActionLeaveRoom       = "leave_room"
	ActionInvite          = "invite"
	ActionStartGame       = "start_game"
	ActionKick            = "kick"
	// ActionReportResult is the internal control-channel action a match
	// server uses to deliver its final result to the session service.
	ActionReportResult = "report_result"
)

// Persistence payloads.

type CreateUserData struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

type LoginUserData struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

type UserIDData struct {
	ID int64 `json:"id"`
}

type EmailData struct {
	Email string `json:"email"`
}

type UpdateUserData struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type CreateRoomData struct {
	Name       string `json:"name"`
	HostUserID int64  `json:"host_user_id"`
	Visibility string `json:"visibility"`
}

type RoomIDData struct {
	ID int64 `json:"id"`
}

type ListRoomsData struct {
	Visibility string `json:"visibility,omitempty"`
}

type UpdateRoomData struct {
	ID    int64            `json:"id"`
	Patch models.RoomPatch `json:"patch"`
}

type CreateGameLogData struct {
	MatchID string                `json:"match_id"`
	RoomID  int64                 `json:"room_id"`
	Users   []int64               `json:"users"`
	StartAt time.Time             `json:"start_at"`
	EndAt   time.Time             `json:"end_at"`
	Results []models.PlayerResult `json:"results"`
}

type ListGameLogsData struct {
	UserID int64 `json:"user_id,omitempty"`
}

// Session payloads.

type RegisterData struct {
	Name     string `json:"name" validate:"required,min=1,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

type LoginData struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SessionCreateRoomData struct {
	Name       string `json:"name" validate:"required,min=1,max=64"`
	Visibility string `json:"visibility" validate:"required,oneof=public private"`
}

type SessionRoomIDData struct {
	RoomID int64 `json:"room_id"`
}

type InviteData struct {
	RoomID int64 `json:"room_id"`
	UserID int64 `json:"user_id"`
}

type KickData struct {
	RoomID int64 `json:"room_id"`
	UserID int64 `json:"user_id"`
}

// OnlineUser is one entry of a list_online_users snapshot.
type OnlineUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MatchEndpoint is the start_game reply payload and the match_ready event
// payload, pointing a player at its match server.
type MatchEndpoint struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	MatchID string `json:"match_id"`
	Role    string `json:"role"`
}

// ReportResultData travels over the control channel from a match server to
// the session service when a match terminates.
type ReportResultData struct {
	MatchID string                `json:"match_id"`
	RoomID  int64                 `json:"room_id"`
	Users   []int64               `json:"users"`
	Winner  *int64                `json:"winner"`
	StartAt time.Time             `json:"start_at"`
	EndAt   time.Time             `json:"end_at"`
	Results []models.PlayerResult `json:"results"`
}
