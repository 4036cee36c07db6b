// internal/protocol/messages.go
package protocol

import (
	"encoding/json"

	"github.com/jason-s-yu/tetrion/internal/models"
)

// Request is the client->service envelope shared by the persistence and
// session services.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Response is the service->client reply envelope.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Event is an unsolicited push from the session service to a client,
// distinguishable from a Response by its envelope.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Session service event names.
const (
	EventInvited    = "invited"
	EventMatchReady = "match_ready"
	EventGameEnded  = "game_ended"
)

// Machine-readable error kinds carried in error responses as data.kind.
const (
	KindMalformedFrame         = "MalformedFrame"
	KindUnknownAction          = "UnknownAction"
	KindUnauthenticated        = "Unauthenticated"
	KindPermissionDenied       = "PermissionDenied"
	KindNotFound               = "NotFound"
	KindConflict               = "Conflict"
	KindEmailTaken             = "EmailTaken"
	KindInvalidCredentials     = "InvalidCredentials"
	KindInvalidState           = "InvalidState"
	KindCapacity               = "Capacity"
	KindLauncherError          = "LauncherError"
	KindStartFailed            = "StartFailed"
	KindPersistenceUnavailable = "PersistenceUnavailable"
	KindTimeout                = "Timeout"
	KindForfeit                = "Forfeit"
	KindUnauthorized           = "Unauthorized"
	KindInvalidArgument        = "InvalidArgument"
)

// ErrorResponse builds an error envelope carrying a kind and message.
func ErrorResponse(kind, message string) Response {
	return Response{
		Status:  StatusError,
		Message: message,
		Data:    map[string]string{"kind": kind},
	}
}

// SuccessResponse builds a success envelope.
func SuccessResponse(message string, data any) Response {
	return Response{Status: StatusSuccess, Message: message, Data: data}
}

// MessageType tags every frame of the match protocol.
type MessageType string

const (
	MsgHello    MessageType = "HELLO"
	MsgWelcome  MessageType = "WELCOME"
	MsgInput    MessageType = "INPUT"
	MsgSnapshot MessageType = "SNAPSHOT"
	MsgGameOver MessageType = "GAME_OVER"
	MsgPing     MessageType = "PING"
	MsgPong     MessageType = "PONG"
)

// Player roles within a match.
const (
	RoleP1 = "P1"
	RoleP2 = "P2"
)

// HandshakeVersion is the protocol version a HELLO must carry.
const HandshakeVersion = 1

// Hello is the first frame a player sends to the match server.
type Hello struct {
	Type    MessageType `json:"type"`
	Version int         `json:"version"`
	RoomID  int64       `json:"roomId"`
	UserID  int64       `json:"userId"`
}

// GravityPlan advertises the gravity schedule the server will run.
type GravityPlan struct {
	Mode   string `json:"mode"`
	DropMs int    `json:"dropMs"`
}

// Welcome acknowledges a valid HELLO and fixes the shared match parameters.
type Welcome struct {
	Type        MessageType `json:"type"`
	Role        string      `json:"role"`
	Seed        int64       `json:"seed"`
	BagRule     string      `json:"bagRule"`
	GravityPlan GravityPlan `json:"gravityPlan"`
}

// Input carries one player action. Seq is strictly increasing per client; Ts
// is advisory wall-clock milliseconds.
type Input struct {
	Type   MessageType `json:"type"`
	UserID int64       `json:"userId"`
	Seq    uint64      `json:"seq"`
	Ts     int64       `json:"ts"`
	Action string      `json:"action"`
}

// ActivePiece describes the falling piece within a snapshot.
type ActivePiece struct {
	Shape string `json:"shape"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Rot   int    `json:"rot"`
}

// Snapshot is one player's state at the end of a tick, broadcast to both
// connections.
type Snapshot struct {
	Type     MessageType `json:"type"`
	Tick     uint64      `json:"tick"`
	UserID   int64       `json:"userId"`
	Role     string      `json:"role"`
	BoardRLE string      `json:"boardRLE"`
	Active   ActivePiece `json:"active"`
	Hold     string      `json:"hold,omitempty"`
	Next     []string    `json:"next"`
	Score    int         `json:"score"`
	Lines    int         `json:"lines"`
	Level    int         `json:"level"`
	GameOver bool        `json:"gameOver"`
	At       int64       `json:"at"`
}

// GameOver closes the match. Winner is nil when both players topped out in
// the same tick.
type GameOver struct {
	Type    MessageType           `json:"type"`
	Winner  *int64                `json:"winner"`
	Results []models.PlayerResult `json:"results"`
}

// Ping/Pong are an optional liveness pair.
type Ping struct {
	Type MessageType `json:"type"`
	Ts   int64       `json:"ts"`
}

type Pong struct {
	Type MessageType `json:"type"`
	Ts   int64       `json:"ts"`
}
