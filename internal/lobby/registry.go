// internal/lobby/registry.go
package lobby

import "sync"

// registry is the single in-memory table of live sessions. One mutex guards
// everything; handlers that must observe a consistent room+session view hold
// it across their persistence round trips.
type registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	byUser   map[int64]*Session
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[*Session]struct{}),
		byUser:   make(map[int64]*Session),
	}
}

func (r *registry) add(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess] = struct{}{}
}

func (r *registry) remove(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sess)
	if sess.userID != 0 && r.byUser[sess.userID] == sess {
		delete(r.byUser, sess.userID)
	}
}

// bind attaches a user id to a session. It fails when the user already has a
// live session elsewhere.
func (r *registry) bind(sess *Session, userID int64, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byUser[userID]; ok && existing != sess {
		return false
	}
	sess.userID = userID
	sess.name = name
	r.byUser[userID] = sess
	return true
}

// unbind clears the session's identity, keeping the connection alive.
func (r *registry) unbind(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess.userID != 0 && r.byUser[sess.userID] == sess {
		delete(r.byUser, sess.userID)
	}
	sess.userID = 0
	sess.name = ""
	sess.roomID = 0
}

// lookup finds the live session for a user, if any.
func (r *registry) lookup(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byUser[userID]
	return sess, ok
}

// setRoom records which room a session is in; zero clears it.
func (r *registry) setRoom(sess *Session, roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.roomID = roomID
}

// roomOf reads a session's current room.
func (r *registry) roomOf(sess *Session) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sess.roomID
}

// online snapshots the authenticated sessions.
func (r *registry) online() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byUser))
	for _, sess := range r.byUser {
		out = append(out, sess)
	}
	return out
}
