// internal/lobby/handlers.go
package lobby

import (
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/tetrion/internal/auth"
	"github.com/jason-s-yu/tetrion/internal/models"
	"github.com/jason-s-yu/tetrion/internal/protocol"
)

func (s *Server) handleRegister(sess *Session, d protocol.RegisterData) protocol.Response {
	if sess.userID != 0 {
		return protocol.ErrorResponse(protocol.KindInvalidState, "already logged in")
	}
	if err := s.validate.Struct(d); err != nil {
		return protocol.ErrorResponse(protocol.KindInvalidArgument, err.Error())
	}

	hash := auth.DeriveVerifier(d.Email, d.Password)
	u, err := s.db.CreateUser(d.Name, d.Email, hash)
	if err != nil {
		return persistenceError(err)
	}

	s.logger.WithFields(logrus.Fields{"user": u.ID, "name": u.Name}).Info("user registered")
	return protocol.SuccessResponse("registered", map[string]int64{"user_id": u.ID})
}

func (s *Server) handleLogin(sess *Session, d protocol.LoginData) protocol.Response {
	if sess.userID != 0 {
		return protocol.ErrorResponse(protocol.KindInvalidState, "already logged in")
	}
	if err := s.validate.Struct(d); err != nil {
		return protocol.ErrorResponse(protocol.KindInvalidArgument, err.Error())
	}

	hash := auth.DeriveVerifier(d.Email, d.Password)
	u, err := s.db.LoginUser(d.Email, hash)
	if err != nil {
		return persistenceError(err)
	}
	if !s.registry.bind(sess, u.ID, u.Name) {
		return protocol.ErrorResponse(protocol.KindConflict, "user already has an active session")
	}

	s.logger.WithFields(logrus.Fields{"user": u.ID, "name": u.Name}).Info("user logged in")
	return protocol.SuccessResponse("logged in", u.Public())
}

func (s *Server) handleLogout(sess *Session) protocol.Response {
	if sess.userID != 0 {
		s.leaveOnDisconnect(sess)
	} else {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}
	s.registry.unbind(sess)
	return protocol.SuccessResponse("logged out", nil)
}

func (s *Server) handleListOnlineUsers(sess *Session) protocol.Response {
	if sess.userID == 0 {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}
	sessions := s.registry.online()
	users := make([]protocol.OnlineUser, 0, len(sessions))
	for _, other := range sessions {
		users = append(users, protocol.OnlineUser{ID: other.userID, Name: other.name})
	}
	return protocol.SuccessResponse("", users)
}

// handleListRooms returns public rooms plus private rooms the caller hosts,
// is a member of, or is invited to.
func (s *Server) handleListRooms(sess *Session) protocol.Response {
	if sess.userID == 0 {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}
	rooms, err := s.db.ListRooms("")
	if err != nil {
		return persistenceError(err)
	}

	visible := make([]models.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.Visibility == models.VisibilityPublic ||
			r.HostUserID == sess.userID ||
			r.HasMember(sess.userID) ||
			r.IsInvited(sess.userID) {
			visible = append(visible, r)
		}
	}
	return protocol.SuccessResponse("", visible)
}

func (s *Server) handleCreateRoom(sess *Session, d protocol.SessionCreateRoomData) protocol.Response {
	if sess.userID == 0 {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}
	if s.registry.roomOf(sess) != 0 {
		return protocol.ErrorResponse(protocol.KindInvalidState, "already in a room")
	}
	if err := s.validate.Struct(d); err != nil {
		return protocol.ErrorResponse(protocol.KindInvalidArgument, err.Error())
	}

	r, err := s.db.CreateRoom(d.Name, sess.userID, d.Visibility)
	if err != nil {
		return persistenceError(err)
	}
	s.registry.setRoom(sess, r.ID)

	s.logger.WithFields(logrus.Fields{"room": r.ID, "host": sess.userID, "visibility": r.Visibility}).Info("room created")
	return protocol.SuccessResponse("room created", r)
}

func (s *Server) handleJoinRoom(sess *Session, d protocol.SessionRoomIDData) protocol.Response {
	if sess.userID == 0 {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}
	if s.registry.roomOf(sess) != 0 {
		return protocol.ErrorResponse(protocol.KindInvalidState, "already in a room")
	}

	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	r, err := s.db.GetRoom(d.RoomID)
	if err != nil {
		return persistenceError(err)
	}
	if r.Status != models.RoomIdle {
		return protocol.ErrorResponse(protocol.KindInvalidState, "room is playing")
	}
	if r.HasMember(sess.userID) {
		return protocol.ErrorResponse(protocol.KindConflict, "already a member")
	}
	if len(r.Members) >= 2 {
		return protocol.ErrorResponse(protocol.KindCapacity, "room is full")
	}
	if r.Visibility == models.VisibilityPrivate && !r.IsInvited(sess.userID) && r.HostUserID != sess.userID {
		return protocol.ErrorResponse(protocol.KindPermissionDenied, "room is private")
	}

	members := append(append([]int64{}, r.Members...), sess.userID)
	updated, err := s.db.UpdateRoom(r.ID, models.RoomPatch{Members: &members})
	if err != nil {
		return persistenceError(err)
	}
	s.registry.setRoom(sess, r.ID)

	s.logger.WithFields(logrus.Fields{"room": r.ID, "user": sess.userID}).Info("user joined room")
	return protocol.SuccessResponse("joined", updated)
}

func (s *Server) handleLeaveRoom(sess *Session) protocol.Response {
	if sess.userID == 0 {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}
	roomID := s.registry.roomOf(sess)
	if roomID == 0 {
		return protocol.ErrorResponse(protocol.KindInvalidState, "not in a room")
	}

	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	r, err := s.db.GetRoom(roomID)
	if err != nil {
		s.registry.setRoom(sess, 0)
		return persistenceError(err)
	}
	if r.Status == models.RoomPlaying {
		return protocol.ErrorResponse(protocol.KindInvalidState, "membership is frozen while the room is playing")
	}

	if r.HostUserID == sess.userID {
		// Host leaving an idle room disbands it.
		if err := s.db.DeleteRoom(r.ID); err != nil {
			return persistenceError(err)
		}
		s.evictMembers(r, 0)
		s.logger.WithField("room", r.ID).Info("room disbanded by host")
		return protocol.SuccessResponse("room disbanded", nil)
	}

	members := without(r.Members, sess.userID)
	if _, err := s.db.UpdateRoom(r.ID, models.RoomPatch{Members: &members}); err != nil {
		return persistenceError(err)
	}
	s.registry.setRoom(sess, 0)
	s.logger.WithFields(logrus.Fields{"room": r.ID, "user": sess.userID}).Info("user left room")
	return protocol.SuccessResponse("left room", nil)
}

func (s *Server) handleInvite(sess *Session, d protocol.InviteData) protocol.Response {
	if sess.userID == 0 {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}

	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	r, err := s.db.GetRoom(d.RoomID)
	if err != nil {
		return persistenceError(err)
	}
	if r.HostUserID != sess.userID {
		return protocol.ErrorResponse(protocol.KindPermissionDenied, "only the host may invite")
	}
	if r.Status != models.RoomIdle {
		return protocol.ErrorResponse(protocol.KindInvalidState, "room is playing")
	}

	if !r.IsInvited(d.UserID) {
		invites := append(append([]int64{}, r.InviteList...), d.UserID)
		if _, err := s.db.UpdateRoom(r.ID, models.RoomPatch{InviteList: &invites}); err != nil {
			return persistenceError(err)
		}
	}

	if target, ok := s.registry.lookup(d.UserID); ok {
		s.pushEvent(target, protocol.EventInvited, map[string]any{
			"room_id":   r.ID,
			"room_name": r.Name,
			"from":      protocol.OnlineUser{ID: sess.userID, Name: sess.name},
		})
	}
	return protocol.SuccessResponse("invited", nil)
}

func (s *Server) handleKick(sess *Session, d protocol.KickData) protocol.Response {
	if sess.userID == 0 {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}

	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	r, err := s.db.GetRoom(d.RoomID)
	if err != nil {
		return persistenceError(err)
	}
	if r.HostUserID != sess.userID {
		return protocol.ErrorResponse(protocol.KindPermissionDenied, "only the host may kick")
	}
	if r.Status != models.RoomIdle {
		return protocol.ErrorResponse(protocol.KindInvalidState, "room is playing")
	}
	if d.UserID == r.HostUserID {
		return protocol.ErrorResponse(protocol.KindInvalidArgument, "host cannot kick themselves")
	}
	if !r.HasMember(d.UserID) {
		return protocol.ErrorResponse(protocol.KindNotFound, "user is not a member")
	}

	members := without(r.Members, d.UserID)
	if _, err := s.db.UpdateRoom(r.ID, models.RoomPatch{Members: &members}); err != nil {
		return persistenceError(err)
	}
	if target, ok := s.registry.lookup(d.UserID); ok {
		s.registry.setRoom(target, 0)
	}
	s.logger.WithFields(logrus.Fields{"room": r.ID, "user": d.UserID}).Info("user kicked")
	return protocol.SuccessResponse("kicked", nil)
}

// handleStartGame launches a match server, freezes the room, replies with
// the host's endpoint and pushes match_ready to the guest. Any failure
// unwinds the room to idle and the caller sees StartFailed.
func (s *Server) handleStartGame(sess *Session, d protocol.SessionRoomIDData) protocol.Response {
	if sess.userID == 0 {
		return protocol.ErrorResponse(protocol.KindUnauthenticated, "not logged in")
	}

	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	r, err := s.db.GetRoom(d.RoomID)
	if err != nil {
		return persistenceError(err)
	}
	if r.HostUserID != sess.userID {
		return protocol.ErrorResponse(protocol.KindPermissionDenied, "only the host may start")
	}
	if r.Status != models.RoomIdle {
		return protocol.ErrorResponse(protocol.KindInvalidState, "room is already playing")
	}
	if len(r.Members) != 2 {
		return protocol.ErrorResponse(protocol.KindInvalidState, "room needs exactly 2 members")
	}

	hostID, guestID := r.Members[0], r.Members[1]
	inst, err := s.launcher.Start(r.ID, hostID, guestID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"room": r.ID, "error": err}).Error("match launch failed")
		return protocol.ErrorResponse(protocol.KindStartFailed, "could not start match server")
	}

	playing := models.RoomPlaying
	if _, err := s.db.UpdateRoom(r.ID, models.RoomPatch{Status: &playing}); err != nil {
		s.launcher.Stop(r.ID)
		return protocol.ErrorResponse(protocol.KindStartFailed, "could not transition room to playing")
	}

	if guest, ok := s.registry.lookup(guestID); ok {
		s.pushEvent(guest, protocol.EventMatchReady, protocol.MatchEndpoint{
			Host:    s.launcher.Host(),
			Port:    inst.Port,
			MatchID: inst.MatchID,
			Role:    protocol.RoleP2,
		})
	}

	s.logger.WithFields(logrus.Fields{"room": r.ID, "match": inst.MatchID, "port": inst.Port}).Info("match started")
	return protocol.SuccessResponse("match ready", protocol.MatchEndpoint{
		Host:    s.launcher.Host(),
		Port:    inst.Port,
		MatchID: inst.MatchID,
		Role:    protocol.RoleP1,
	})
}

// handleReportResult is the control channel's landing point: persist the
// MatchLog, return the room to idle, and notify the players. Members whose
// sessions vanished during the match are pruned; a vanished host disbands
// the room.
func (s *Server) handleReportResult(d protocol.ReportResultData) protocol.Response {
	// The listener is public, so the report must prove it comes from the
	// match server this service launched: only that process was handed the
	// room's match id.
	if issued, ok := s.launcher.MatchID(d.RoomID); !ok || issued != d.MatchID {
		s.logger.WithFields(logrus.Fields{"match": d.MatchID, "room": d.RoomID}).Warn("rejected result report for unknown match")
		return protocol.ErrorResponse(protocol.KindPermissionDenied, "no active match with that id for this room")
	}

	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	logErr := error(nil)
	if _, err := s.db.CreateGameLog(d.MatchID, d.RoomID, d.Users, d.StartAt, d.EndAt, d.Results); err != nil {
		s.logger.WithFields(logrus.Fields{"match": d.MatchID, "error": err}).Error("failed to persist match log")
		logErr = err
	}

	r, err := s.db.GetRoom(d.RoomID)
	if err == nil {
		members := make([]int64, 0, len(r.Members))
		for _, id := range r.Members {
			if _, online := s.registry.lookup(id); online {
				members = append(members, id)
			}
		}

		if _, hostOnline := s.registry.lookup(r.HostUserID); !hostOnline {
			s.db.DeleteRoom(r.ID)
			s.evictMembers(r, 0)
		} else {
			idle := models.RoomIdle
			if _, err := s.db.UpdateRoom(r.ID, models.RoomPatch{Status: &idle, Members: &members}); err != nil {
				s.logger.WithFields(logrus.Fields{"room": r.ID, "error": err}).Error("failed to return room to idle")
			}
		}

		for _, id := range members {
			if member, ok := s.registry.lookup(id); ok {
				s.pushEvent(member, protocol.EventGameEnded, map[string]any{
					"room_id": d.RoomID,
					"winner":  d.Winner,
					"results": d.Results,
				})
			}
		}
	}

	if logErr != nil {
		return persistenceError(logErr)
	}
	s.logger.WithFields(logrus.Fields{"match": d.MatchID, "room": d.RoomID}).Info("match result recorded")
	return protocol.SuccessResponse("result recorded", nil)
}

// cleanupSession runs when a connection dies: room membership is released
// per the idle-room rules and the session is dropped from the registry.
func (s *Server) cleanupSession(sess *Session) {
	if sess.userID != 0 && s.registry.roomOf(sess) != 0 {
		s.leaveOnDisconnect(sess)
	}
	s.registry.remove(sess)
}

// leaveOnDisconnect applies the implicit-leave rules: leaving an idle room
// (disbanding it when the leaver hosts it). A playing room's membership is
// frozen; the match server's forfeit path and result report settle it.
func (s *Server) leaveOnDisconnect(sess *Session) {
	roomID := s.registry.roomOf(sess)
	if roomID == 0 {
		return
	}

	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	r, err := s.db.GetRoom(roomID)
	if err != nil {
		s.registry.setRoom(sess, 0)
		return
	}
	if r.Status == models.RoomPlaying {
		return
	}

	if r.HostUserID == sess.userID {
		if err := s.db.DeleteRoom(r.ID); err != nil {
			s.logger.WithFields(logrus.Fields{"room": r.ID, "error": err}).Warn("failed to disband room on disconnect")
		}
		s.evictMembers(r, 0)
		return
	}

	members := without(r.Members, sess.userID)
	if _, err := s.db.UpdateRoom(r.ID, models.RoomPatch{Members: &members}); err != nil {
		s.logger.WithFields(logrus.Fields{"room": r.ID, "error": err}).Warn("failed to leave room on disconnect")
	}
	s.registry.setRoom(sess, 0)
}

// evictMembers clears roomID for every live session belonging to the room,
// except keepUserID (zero keeps nobody).
func (s *Server) evictMembers(r *models.Room, keepUserID int64) {
	for _, id := range r.Members {
		if id == keepUserID {
			continue
		}
		if member, ok := s.registry.lookup(id); ok && s.registry.roomOf(member) == r.ID {
			s.registry.setRoom(member, 0)
		}
	}
}

func without(ids []int64, drop int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
