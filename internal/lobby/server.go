// internal/lobby/server.go

// Package lobby is the session service: it authenticates clients, runs the
// room state machine, and coordinates match launches. Every connection owns
// one session; the in-memory registry of sessions is guarded by a single
// mutex and rooms are authoritative in the persistence service.
package lobby

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/tetrion/internal/dbclient"
	"github.com/jason-s-yu/tetrion/internal/launcher"
	"github.com/jason-s-yu/tetrion/internal/models"
	"github.com/jason-s-yu/tetrion/internal/protocol"
)

// Persistence is the slice of the persistence client the session service
// depends on. Tests substitute an in-memory implementation.
type Persistence interface {
	CreateUser(name, email, passwordHash string) (*models.User, error)
	LoginUser(email, passwordHash string) (*models.User, error)
	GetUser(id int64) (*models.User, error)
	CreateRoom(name string, hostUserID int64, visibility string) (*models.Room, error)
	GetRoom(id int64) (*models.Room, error)
	ListRooms(visibility string) ([]models.Room, error)
	UpdateRoom(id int64, patch models.RoomPatch) (*models.Room, error)
	DeleteRoom(id int64) error
	CreateGameLog(matchID string, roomID int64, users []int64, startAt, endAt time.Time, results []models.PlayerResult) (*models.GameLog, error)
}

// MatchLauncher abstracts the launcher for tests.
type MatchLauncher interface {
	Start(roomID, hostUserID, guestUserID int64) (*launcher.Instance, error)
	Stop(roomID int64)
	Host() string
	MatchID(roomID int64) (string, bool)
}

// Session is one client connection's in-memory state. A user id has at most
// one active session; zero values mean "not logged in" / "not in a room".
type Session struct {
	conn   *protocol.Conn
	userID int64
	name   string
	roomID int64
}

// Server is the session service.
type Server struct {
	db       Persistence
	launcher MatchLauncher
	logger   *logrus.Logger
	validate *validator.Validate
	ln       net.Listener

	registry *registry

	// roomMu serializes every room mutation across its read-check-update
	// round trip to persistence, so concurrent joins to a one-slot room
	// resolve to exactly one winner.
	roomMu sync.Mutex
}

// New assembles a session service.
func New(db Persistence, ml MatchLauncher, logger *logrus.Logger) *Server {
	return &Server{
		db:       db,
		launcher: ml,
		logger:   logger,
		validate: validator.New(),
		registry: newRegistry(),
	}
}

// Listen binds the TCP listener.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.logger.WithField("addr", ln.Addr().String()).Info("session service listening")
	return nil
}

// Addr returns the bound address; valid after Listen.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts client connections until the listener closes.
func (s *Server) Serve() error {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(c)
	}
}

func (s *Server) handleConn(c net.Conn) {
	sess := &Session{conn: protocol.NewConn(c)}
	remote := c.RemoteAddr().String()
	s.registry.add(sess)
	s.logger.WithField("remote", remote).Info("client connected")

	defer func() {
		s.cleanupSession(sess)
		sess.conn.Close()
		s.logger.WithFields(logrus.Fields{"remote": remote, "user": sess.userID}).Info("client disconnected")
	}()

	for {
		raw, err := sess.conn.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				sess.conn.Write(protocol.ErrorResponse(protocol.KindMalformedFrame, "malformed frame"))
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			sess.conn.Write(protocol.ErrorResponse(protocol.KindMalformedFrame, "request envelope is not {action,data}"))
			return
		}

		resp := s.dispatch(sess, req)
		if err := sess.conn.Write(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(sess *Session, req protocol.Request) protocol.Response {
	switch req.Action {
	case protocol.ActionRegister:
		return decode(req, func(d protocol.RegisterData) protocol.Response { return s.handleRegister(sess, d) })
	case protocol.ActionLogin:
		return decode(req, func(d protocol.LoginData) protocol.Response { return s.handleLogin(sess, d) })
	case protocol.ActionLogout:
		return s.handleLogout(sess)
	case protocol.ActionListOnlineUsers:
		return s.handleListOnlineUsers(sess)
	case protocol.ActionSessionRooms:
		return s.handleListRooms(sess)
	case protocol.ActionSessionCreate:
		return decode(req, func(d protocol.SessionCreateRoomData) protocol.Response { return s.handleCreateRoom(sess, d) })
	case protocol.ActionJoinRoom:
		return decode(req, func(d protocol.SessionRoomIDData) protocol.Response { return s.handleJoinRoom(sess, d) })
	case protocol.ActionLeaveRoom:
		return s.handleLeaveRoom(sess)
	case protocol.ActionInvite:
		return decode(req, func(d protocol.InviteData) protocol.Response { return s.handleInvite(sess, d) })
	case protocol.ActionStartGame:
		return decode(req, func(d protocol.SessionRoomIDData) protocol.Response { return s.handleStartGame(sess, d) })
	case protocol.ActionKick:
		return decode(req, func(d protocol.KickData) protocol.Response { return s.handleKick(sess, d) })
	case protocol.ActionReportResult:
		return decode(req, func(d protocol.ReportResultData) protocol.Response { return s.handleReportResult(d) })
	}
	return protocol.ErrorResponse(protocol.KindUnknownAction, fmt.Sprintf("unknown action %q", req.Action))
}

func decode[T any](req protocol.Request, handler func(T) protocol.Response) protocol.Response {
	var data T
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return protocol.ErrorResponse(protocol.KindMalformedFrame, fmt.Sprintf("bad data for %s: %v", req.Action, err))
		}
	}
	return handler(data)
}

// persistenceError converts a dbclient failure into a wire response,
// preserving the machine-readable kind for business errors.
func persistenceError(err error) protocol.Response {
	if kind := dbclient.KindOf(err); kind != "" {
		var pe *dbclient.Error
		errors.As(err, &pe)
		return protocol.ErrorResponse(kind, pe.Message)
	}
	return protocol.ErrorResponse(protocol.KindPersistenceUnavailable, "persistence unavailable")
}

// pushEvent sends an unsolicited event frame to a session, best-effort and
// without blocking the caller.
func (s *Server) pushEvent(target *Session, event string, data any) {
	go func() {
		if err := target.conn.Write(protocol.Event{Event: event, Data: data}); err != nil {
			s.logger.WithFields(logrus.Fields{"user": target.userID, "event": event, "error": err}).Debug("event push failed")
		}
	}()
}
