// internal/dbserver/server.go

// Package dbserver exposes the store over the framed request/response
// protocol. It is the sole owner of durable state; one goroutine serves each
// inbound connection and the store serializes mutations internally.
package dbserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/tetrion/internal/protocol"
	"github.com/jason-s-yu/tetrion/internal/store"
)

// Server is the persistence service.
type Server struct {
	store  *store.Store
	logger *logrus.Logger
	ln     net.Listener
}

// New builds a server around an opened store.
func New(st *store.Store, logger *logrus.Logger) *Server {
	return &Server{store: st, logger: logger}
}

// Listen binds the TCP listener.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.logger.WithField("addr", ln.Addr().String()).Info("persistence service listening")
	return nil
}

// Addr returns the bound address; valid after Listen.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until the listener closes.
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
	fc := protocol.NewConn(c)
	remote := c.RemoteAddr().String()
	defer fc.Close()

	for {
		raw, err := fc.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				s.logger.WithFields(logrus.Fields{"remote": remote, "error": err}).Warn("malformed frame, closing")
				fc.Write(protocol.ErrorResponse(protocol.KindMalformedFrame, "malformed frame"))
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			fc.Write(protocol.ErrorResponse(protocol.KindMalformedFrame, "request envelope is not {action,data}"))
			return
		}

		resp := s.dispatch(req)
		if resp.Status == protocol.StatusError {
			s.logger.WithFields(logrus.Fields{"remote": remote, "action": req.Action, "message": resp.Message}).Debug("request failed")
		}
		if err := fc.Write(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req protocol.Request) protocol.Response {
	switch req.Action {
	case protocol.ActionCreateUser:
		return decode(req, s.createUser)
	case protocol.ActionLoginUser:
		return decode(req, s.loginUser)
	case protocol.ActionGetUser:
		return decode(req, s.getUser)
	case protocol.ActionGetUserByEmail:
		return decode(req, s.getUserByEmail)
	case protocol.ActionUpdateUser:
		return decode(req, s.updateUser)
	case protocol.ActionDeleteUser:
		return decode(req, s.deleteUser)
	case protocol.ActionCreateRoom:
		return decode(req, s.createRoom)
	case protocol.ActionGetRoom:
		return decode(req, s.getRoom)
	case protocol.ActionListRooms:
		return decode(req, s.listRooms)
	case protocol.ActionUpdateRoom:
		return decode(req, s.updateRoom)
	case protocol.ActionDeleteRoom:
		return decode(req, s.deleteRoom)
	case protocol.ActionCreateGameLog:
		return decode(req, s.createGameLog)
	case protocol.ActionListGameLogs:
		return decode(req, s.listGameLogs)
	}
	return protocol.ErrorResponse(protocol.KindUnknownAction, fmt.Sprintf("unknown action %q", req.Action))
}

// decode unmarshals the request data into the handler's payload type.
func decode[T any](req protocol.Request, handler func(T) protocol.Response) protocol.Response {
	var data T
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return protocol.ErrorResponse(protocol.KindMalformedFrame, fmt.Sprintf("bad data for %s: %v", req.Action, err))
		}
	}
	return handler(data)
}

// storeError maps store sentinels to wire error kinds.
func storeError(err error) protocol.Response {
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return protocol.ErrorResponse(protocol.KindEmailTaken, "email already registered")
	case errors.Is(err, store.ErrInvalidCredentials):
		return protocol.ErrorResponse(protocol.KindInvalidCredentials, "invalid email or password")
	case errors.Is(err, store.ErrNotFound):
		return protocol.ErrorResponse(protocol.KindNotFound, "record not found")
	}
	return protocol.ErrorResponse(protocol.KindPersistenceUnavailable, err.Error())
}

func (s *Server) createUser(d protocol.CreateUserData) protocol.Response {
	u, err := s.store.CreateUser(d.Name, d.Email, d.PasswordHash)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("user created", u)
}

func (s *Server) loginUser(d protocol.LoginUserData) protocol.Response {
	u, err := s.store.LoginUser(d.Email, d.PasswordHash)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("login ok", u)
}

func (s *Server) getUser(d protocol.UserIDData) protocol.Response {
	u, err := s.store.GetUser(d.ID)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("", u)
}

func (s *Server) getUserByEmail(d protocol.EmailData) protocol.Response {
	u, err := s.store.GetUserByEmail(d.Email)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("", u)
}

func (s *Server) updateUser(d protocol.UpdateUserData) protocol.Response {
	u, err := s.store.UpdateUser(d.ID, d.Name)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("user updated", u)
}

func (s *Server) deleteUser(d protocol.UserIDData) protocol.Response {
	if err := s.store.DeleteUser(d.ID); err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("user deleted", nil)
}

func (s *Server) createRoom(d protocol.CreateRoomData) protocol.Response {
	r, err := s.store.CreateRoom(d.Name, d.HostUserID, d.Visibility)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("room created", r)
}

func (s *Server) getRoom(d protocol.RoomIDData) protocol.Response {
	r, err := s.store.GetRoom(d.ID)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("", r)
}

func (s *Server) listRooms(d protocol.ListRoomsData) protocol.Response {
	rooms, err := s.store.ListRooms(d.Visibility)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("", rooms)
}

func (s *Server) updateRoom(d protocol.UpdateRoomData) protocol.Response {
	r, err := s.store.UpdateRoom(d.ID, d.Patch)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("room updated", r)
}

func (s *Server) deleteRoom(d protocol.RoomIDData) protocol.Response {
	if err := s.store.DeleteRoom(d.ID); err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("room deleted", nil)
}

func (s *Server) createGameLog(d protocol.CreateGameLogData) protocol.Response {
	g, err := s.store.CreateGameLog(d.MatchID, d.RoomID, d.Users, d.StartAt, d.EndAt, d.Results)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("game log created", g)
}

func (s *Server) listGameLogs(d protocol.ListGameLogsData) protocol.Response {
	logs, err := s.store.ListGameLogs(d.UserID)
	if err != nil {
		return storeError(err)
	}
	return protocol.SuccessResponse("", logs)
}
