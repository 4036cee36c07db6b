// internal/lobby/fakes_test.go
package lobby

import (
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/tetrion/internal/dbclient"
	"github.com/jason-s-yu/tetrion/internal/launcher"
	"github.com/jason-s-yu/tetrion/internal/models"
	"github.com/jason-s-yu/tetrion/internal/protocol"
)

// fakePersistence is an in-memory Persistence that fails with the same
// *dbclient.Error kinds the real client surfaces.
type fakePersistence struct {
	mu sync.Mutex

	nextUserID int64
	nextRoomID int64
	users      map[int64]models.User
	rooms      map[int64]models.Room
	logs       []models.GameLog
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		users: make(map[int64]models.User),
		rooms: make(map[int64]models.Room),
	}
}

func bizErr(kind, msg string) error {
	return &dbclient.Error{Kind: kind, Message: msg}
}

func (f *fakePersistence) CreateUser(name, email, passwordHash string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return nil, bizErr(protocol.KindEmailTaken, "email already registered")
		}
	}
	f.nextUserID++
	u := models.User{ID: f.nextUserID, Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	f.users[u.ID] = u
	return &u, nil
}

func (f *fakePersistence) LoginUser(email, passwordHash string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			if u.PasswordHash != passwordHash {
				return nil, bizErr(protocol.KindInvalidCredentials, "invalid email or password")
			}
			now := time.Now()
			u.LastLoginAt = &now
			f.users[u.ID] = u
			return &u, nil
		}
	}
	return nil, bizErr(protocol.KindInvalidCredentials, "invalid email or password")
}

func (f *fakePersistence) GetUser(id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, bizErr(protocol.KindNotFound, "record not found")
	}
	return &u, nil
}

func (f *fakePersistence) CreateRoom(name string, hostUserID int64, visibility string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRoomID++
	r := models.Room{
		ID:         f.nextRoomID,
		Name:       name,
		HostUserID: hostUserID,
		Visibility: visibility,
		InviteList: []int64{},
		Members:    []int64{hostUserID},
		Status:     models.RoomIdle,
		CreatedAt:  time.Now(),
	}
	f.rooms[r.ID] = r
	return cloneRoom(r), nil
}

func (f *fakePersistence) GetRoom(id int64) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, bizErr(protocol.KindNotFound, "record not found")
	}
	return cloneRoom(r), nil
}

func (f *fakePersistence) ListRooms(visibility string) ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		if visibility == "" || r.Visibility == visibility {
			out = append(out, *cloneRoom(r))
		}
	}
	return out, nil
}

func (f *fakePersistence) UpdateRoom(id int64, patch models.RoomPatch) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, bizErr(protocol.KindNotFound, "record not found")
	}
	if patch.Members != nil {
		r.Members = append([]int64{}, (*patch.Members)...)
	}
	if patch.InviteList != nil {
		r.InviteList = append([]int64{}, (*patch.InviteList)...)
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	f.rooms[id] = r
	return cloneRoom(r), nil
}

func (f *fakePersistence) DeleteRoom(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[id]; !ok {
		return bizErr(protocol.KindNotFound, "record not found")
	}
	delete(f.rooms, id)
	return nil
}

func (f *fakePersistence) CreateGameLog(matchID string, roomID int64, users []int64, startAt, endAt time.Time, results []models.PlayerResult) (*models.GameLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := models.GameLog{
		ID:      int64(len(f.logs) + 1),
		MatchID: matchID,
		RoomID:  roomID,
		Users:   users,
		StartAt: startAt,
		EndAt:   endAt,
		Results: results,
	}
	f.logs = append(f.logs, g)
	return &g, nil
}

func (f *fakePersistence) roomStatus(id int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return "", false
	}
	return r.Status, true
}

func (f *fakePersistence) gameLogCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs)
}

func cloneRoom(r models.Room) *models.Room {
	c := r
	c.InviteList = append([]int64{}, r.InviteList...)
	c.Members = append([]int64{}, r.Members...)
	return &c
}

// fakeLauncher hands out fixed endpoints without spawning processes.
type fakeLauncher struct {
	mu       sync.Mutex
	fail     bool
	started  []int64
	stopped  []int64
	issued   map[int64]string
	nextPort int
}

func (f *fakeLauncher) Start(roomID, hostUserID, guestUserID int64) (*launcher.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("no ports left")
	}
	if f.issued == nil {
		f.issued = make(map[int64]string)
	}
	f.nextPort++
	f.started = append(f.started, roomID)
	id := fmt.Sprintf("match-%d", roomID)
	f.issued[roomID] = id
	return &launcher.Instance{
		MatchID: id,
		RoomID:  roomID,
		Port:    20000 + f.nextPort,
		Seed:    42,
	}, nil
}

func (f *fakeLauncher) MatchID(roomID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.issued[roomID]
	return id, ok
}

func (f *fakeLauncher) Stop(roomID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, roomID)
}

func (f *fakeLauncher) Host() string { return "127.0.0.1" }
