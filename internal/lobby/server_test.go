// internal/lobby/server_test.go
package lobby

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/tetrion/internal/models"
	"github.com/jason-s-yu/tetrion/internal/protocol"
)

const waitFor = 3 * time.Second

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type lobbyFixture struct {
	srv      *Server
	db       *fakePersistence
	launcher *fakeLauncher
}

func startLobby(t *testing.T) *lobbyFixture {
	t.Helper()
	db := newFakePersistence()
	ml := &fakeLauncher{}
	srv := New(db, ml, quietLogger())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return &lobbyFixture{srv: srv, db: db, launcher: ml}
}

// wireResponse mirrors protocol.Response with raw data for decoding.
type wireResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (r wireResponse) kind() string {
	var d struct {
		Kind string `json:"kind"`
	}
	json.Unmarshal(r.Data, &d)
	return d.Kind
}

// testClient splits the single framed stream into responses and unsolicited
// events, the way a real client would.
type testClient struct {
	t      *testing.T
	fc     *protocol.Conn
	resps  chan wireResponse
	events chan wireEvent
}

func dial(t *testing.T, f *lobbyFixture) *testClient {
	t.Helper()
	raw, err := net.Dial("tcp", f.srv.Addr().String())
	require.NoError(t, err)

	tc := &testClient{
		t:      t,
		fc:     protocol.NewConn(raw),
		resps:  make(chan wireResponse, 16),
		events: make(chan wireEvent, 16),
	}
	t.Cleanup(func() { tc.fc.Close() })

	go func() {
		for {
			raw, err := tc.fc.Read()
			if err != nil {
				close(tc.resps)
				return
			}
			var probe map[string]json.RawMessage
			if json.Unmarshal(raw, &probe) != nil {
				continue
			}
			if _, ok := probe["event"]; ok {
				var ev wireEvent
				json.Unmarshal(raw, &ev)
				tc.events <- ev
				continue
			}
			var resp wireResponse
			json.Unmarshal(raw, &resp)
			tc.resps <- resp
		}
	}()
	return tc
}

func (tc *testClient) call(action string, data any) wireResponse {
	tc.t.Helper()
	var payload json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(tc.t, err)
		payload = b
	}
	require.NoError(tc.t, tc.fc.Write(protocol.Request{Action: action, Data: payload}))

	select {
	case resp, ok := <-tc.resps:
		require.True(tc.t, ok, "connection closed while awaiting %s response", action)
		return resp
	case <-time.After(waitFor):
		tc.t.Fatalf("timed out awaiting %s response", action)
		return wireResponse{}
	}
}

func (tc *testClient) expectEvent(name string) wireEvent {
	tc.t.Helper()
	select {
	case ev := <-tc.events:
		require.Equal(tc.t, name, ev.Event)
		return ev
	case <-time.After(waitFor):
		tc.t.Fatalf("timed out awaiting %s event", name)
		return wireEvent{}
	}
}

// signup registers and logs a fresh user in, returning the client and user id.
func signup(t *testing.T, f *lobbyFixture, name string) (*testClient, int64) {
	t.Helper()
	tc := dial(t, f)

	email := fmt.Sprintf("%s@example.com", name)
	resp := tc.call(protocol.ActionRegister, protocol.RegisterData{Name: name, Email: email, Password: "pw-" + name})
	require.Equal(t, protocol.StatusSuccess, resp.Status, resp.Message)

	resp = tc.call(protocol.ActionLogin, protocol.LoginData{Email: email, Password: "pw-" + name})
	require.Equal(t, protocol.StatusSuccess, resp.Status, resp.Message)

	var u models.User
	require.NoError(t, json.Unmarshal(resp.Data, &u))
	return tc, u.ID
}

func TestRegisterAndLogin(t *testing.T) {
	f := startLobby(t)
	tc := dial(t, f)

	// Validation failures surface as InvalidArgument.
	resp := tc.call(protocol.ActionRegister, protocol.RegisterData{Name: "alice", Email: "not-an-email", Password: "pw"})
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, protocol.KindInvalidArgument, resp.kind())

	resp = tc.call(protocol.ActionRegister, protocol.RegisterData{Name: "alice", Email: "alice@example.com", Password: "pw"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	resp = tc.call(protocol.ActionLogin, protocol.LoginData{Email: "alice@example.com", Password: "wrong"})
	assert.Equal(t, protocol.KindInvalidCredentials, resp.kind())

	resp = tc.call(protocol.ActionLogin, protocol.LoginData{Email: "alice@example.com", Password: "pw"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	// The response strips the verifier.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Data, &raw))
	assert.NotContains(t, raw, "password_hash")

	// Logging in twice on one connection is an error.
	resp = tc.call(protocol.ActionLogin, protocol.LoginData{Email: "alice@example.com", Password: "pw"})
	assert.Equal(t, protocol.KindInvalidState, resp.kind())
}

func TestSecondSessionForSameUserIsRejected(t *testing.T) {
	f := startLobby(t)
	signup(t, f, "alice")

	other := dial(t, f)
	resp := other.call(protocol.ActionLogin, protocol.LoginData{Email: "alice@example.com", Password: "pw-alice"})
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, protocol.KindConflict, resp.kind())
}

func TestActionsRequireLogin(t *testing.T) {
	f := startLobby(t)
	tc := dial(t, f)

	for _, action := range []string{
		protocol.ActionListOnlineUsers,
		protocol.ActionSessionRooms,
		protocol.ActionJoinRoom,
		protocol.ActionLeaveRoom,
		protocol.ActionStartGame,
	} {
		resp := tc.call(action, nil)
		assert.Equal(t, protocol.KindUnauthenticated, resp.kind(), action)
	}

	resp := tc.call("no_such_action", nil)
	assert.Equal(t, protocol.KindUnknownAction, resp.kind())
}

func TestListOnlineUsers(t *testing.T) {
	f := startLobby(t)
	alice, aliceID := signup(t, f, "alice")
	_, bobID := signup(t, f, "bob")

	resp := alice.call(protocol.ActionListOnlineUsers, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	var users []protocol.OnlineUser
	require.NoError(t, json.Unmarshal(resp.Data, &users))
	ids := make(map[int64]bool)
	for _, u := range users {
		ids[u.ID] = true
	}
	assert.True(t, ids[aliceID])
	assert.True(t, ids[bobID])
}

func TestPrivateRoomJoinRules(t *testing.T) {
	f := startLobby(t)
	host, _ := signup(t, f, "host")
	bob, bobID := signup(t, f, "bob")
	carol, _ := signup(t, f, "carol")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "duel", Visibility: "private"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))

	// Uninvited user cannot enter a private room.
	resp = carol.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	assert.Equal(t, protocol.KindPermissionDenied, resp.kind())

	// The invite opens the door and reaches the online invitee as an event.
	resp = host.call(protocol.ActionInvite, protocol.InviteData{RoomID: room.ID, UserID: bobID})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	ev := bob.expectEvent(protocol.EventInvited)
	var invite struct {
		RoomID int64 `json:"room_id"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &invite))
	assert.Equal(t, room.ID, invite.RoomID)

	resp = bob.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status, resp.Message)

	// With two members the room is full regardless of invites.
	resp = carol.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	assert.Equal(t, protocol.KindCapacity, resp.kind())

	// Joining twice is a distinct failure.
	resp = bob.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	assert.Equal(t, protocol.KindInvalidState, resp.kind())
}

func TestConcurrentJoinsOneWinner(t *testing.T) {
	f := startLobby(t)
	host, _ := signup(t, f, "host")
	bob, _ := signup(t, f, "bob")
	carol, _ := signup(t, f, "carol")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "race", Visibility: "public"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))

	var wg sync.WaitGroup
	results := make(chan wireResponse, 2)
	for _, tc := range []*testClient{bob, carol} {
		wg.Add(1)
		go func(tc *testClient) {
			defer wg.Done()
			results <- tc.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
		}(tc)
	}
	wg.Wait()
	close(results)

	wins, capacityLosses := 0, 0
	for resp := range results {
		switch {
		case resp.Status == protocol.StatusSuccess:
			wins++
		case resp.kind() == protocol.KindCapacity:
			capacityLosses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, capacityLosses)

	r, err := f.db.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Len(t, r.Members, 2)
}

func TestStartGameFlow(t *testing.T) {
	f := startLobby(t)
	host, hostID := signup(t, f, "host")
	guest, guestID := signup(t, f, "guest")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "arena", Visibility: "public"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))

	// A lone host cannot start.
	resp = host.call(protocol.ActionStartGame, protocol.SessionRoomIDData{RoomID: room.ID})
	assert.Equal(t, protocol.KindInvalidState, resp.kind())

	resp = guest.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	// Only the host may start.
	resp = guest.call(protocol.ActionStartGame, protocol.SessionRoomIDData{RoomID: room.ID})
	assert.Equal(t, protocol.KindPermissionDenied, resp.kind())

	resp = host.call(protocol.ActionStartGame, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status, resp.Message)

	var hostEP protocol.MatchEndpoint
	require.NoError(t, json.Unmarshal(resp.Data, &hostEP))
	assert.Equal(t, protocol.RoleP1, hostEP.Role)
	assert.NotZero(t, hostEP.Port)

	ev := guest.expectEvent(protocol.EventMatchReady)
	var guestEP protocol.MatchEndpoint
	require.NoError(t, json.Unmarshal(ev.Data, &guestEP))
	assert.Equal(t, protocol.RoleP2, guestEP.Role)
	assert.Equal(t, hostEP.Port, guestEP.Port)
	assert.Equal(t, hostEP.MatchID, guestEP.MatchID)

	status, ok := f.db.roomStatus(room.ID)
	require.True(t, ok)
	assert.Equal(t, models.RoomPlaying, status)

	// While playing, starts and leaves are rejected.
	resp = host.call(protocol.ActionStartGame, protocol.SessionRoomIDData{RoomID: room.ID})
	assert.Equal(t, protocol.KindInvalidState, resp.kind())
	resp = guest.call(protocol.ActionLeaveRoom, nil)
	assert.Equal(t, protocol.KindInvalidState, resp.kind())

	// The control channel report returns the room to idle, writes the match
	// log, and notifies both players.
	reporter := dial(t, f)
	winner := hostID
	resp = reporter.call(protocol.ActionReportResult, protocol.ReportResultData{
		MatchID: hostEP.MatchID,
		RoomID:  room.ID,
		Users:   []int64{hostID, guestID},
		Winner:  &winner,
		StartAt: time.Now().Add(-time.Minute),
		EndAt:   time.Now(),
		Results: []models.PlayerResult{
			{UserID: hostID, Score: 800, Lines: 6},
			{UserID: guestID, Score: 200, Lines: 1},
		},
	})
	require.Equal(t, protocol.StatusSuccess, resp.Status, resp.Message)

	host.expectEvent(protocol.EventGameEnded)
	ev = guest.expectEvent(protocol.EventGameEnded)
	var ended struct {
		Winner *int64 `json:"winner"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &ended))
	require.NotNil(t, ended.Winner)
	assert.Equal(t, hostID, *ended.Winner)

	status, ok = f.db.roomStatus(room.ID)
	require.True(t, ok)
	assert.Equal(t, models.RoomIdle, status)
	assert.Equal(t, 1, f.db.gameLogCount())
}

// A result report must carry the match id the launcher issued for the room;
// a connection that guesses wrong cannot flip the room or write a log.
func TestReportResultRejectsForgedMatchID(t *testing.T) {
	f := startLobby(t)
	host, hostID := signup(t, f, "host")
	guest, guestID := signup(t, f, "guest")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "arena", Visibility: "public"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	resp = guest.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	resp = host.call(protocol.ActionStartGame, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status, resp.Message)

	winner := hostID
	report := protocol.ReportResultData{
		MatchID: "forged-id",
		RoomID:  room.ID,
		Users:   []int64{hostID, guestID},
		Winner:  &winner,
		StartAt: time.Now().Add(-time.Minute),
		EndAt:   time.Now(),
		Results: []models.PlayerResult{{UserID: hostID, Score: 100, Lines: 1}},
	}

	forger := dial(t, f)
	resp = forger.call(protocol.ActionReportResult, report)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, protocol.KindPermissionDenied, resp.kind())

	// A report for a room with no live match is rejected the same way.
	report.RoomID = room.ID + 99
	resp = forger.call(protocol.ActionReportResult, report)
	assert.Equal(t, protocol.KindPermissionDenied, resp.kind())

	status, ok := f.db.roomStatus(room.ID)
	require.True(t, ok)
	assert.Equal(t, models.RoomPlaying, status)
	assert.Equal(t, 0, f.db.gameLogCount())
}

func TestStartGameLaunchFailureLeavesRoomIdle(t *testing.T) {
	f := startLobby(t)
	host, _ := signup(t, f, "host")
	guest, _ := signup(t, f, "guest")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "arena", Visibility: "public"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	resp = guest.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	f.launcher.mu.Lock()
	f.launcher.fail = true
	f.launcher.mu.Unlock()

	resp = host.call(protocol.ActionStartGame, protocol.SessionRoomIDData{RoomID: room.ID})
	assert.Equal(t, protocol.KindStartFailed, resp.kind())

	status, ok := f.db.roomStatus(room.ID)
	require.True(t, ok)
	assert.Equal(t, models.RoomIdle, status)
}

func TestLeaveAndDisband(t *testing.T) {
	f := startLobby(t)
	host, _ := signup(t, f, "host")
	guest, _ := signup(t, f, "guest")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "arena", Visibility: "public"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	resp = guest.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	// A guest leaving shrinks the membership.
	resp = guest.call(protocol.ActionLeaveRoom, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	r, err := f.db.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{r.HostUserID}, r.Members)

	// The guest can come back; the host leaving disbands the room entirely.
	resp = guest.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	resp = host.call(protocol.ActionLeaveRoom, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	_, err = f.db.GetRoom(room.ID)
	require.Error(t, err)

	// The evicted guest is free to create a room of their own.
	resp = guest.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "fresh", Visibility: "public"})
	assert.Equal(t, protocol.StatusSuccess, resp.Status, resp.Message)
}

func TestKick(t *testing.T) {
	f := startLobby(t)
	host, hostID := signup(t, f, "host")
	guest, guestID := signup(t, f, "guest")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "arena", Visibility: "public"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	resp = guest.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	// Guests cannot kick, and the host cannot kick themselves.
	resp = guest.call(protocol.ActionKick, protocol.KickData{RoomID: room.ID, UserID: hostID})
	assert.Equal(t, protocol.KindPermissionDenied, resp.kind())
	resp = host.call(protocol.ActionKick, protocol.KickData{RoomID: room.ID, UserID: hostID})
	assert.Equal(t, protocol.KindInvalidArgument, resp.kind())

	resp = host.call(protocol.ActionKick, protocol.KickData{RoomID: room.ID, UserID: guestID})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	r, err := f.db.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{hostID}, r.Members)

	// The kicked guest is no longer bound to the room.
	resp = guest.call(protocol.ActionJoinRoom, protocol.SessionRoomIDData{RoomID: room.ID})
	assert.Equal(t, protocol.StatusSuccess, resp.Status, resp.Message)
}

func TestHostDisconnectDisbandsIdleRoom(t *testing.T) {
	f := startLobby(t)
	host, _ := signup(t, f, "host")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "arena", Visibility: "public"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var room models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &room))

	host.fc.Close()

	require.Eventually(t, func() bool {
		_, err := f.db.GetRoom(room.ID)
		return err != nil
	}, waitFor, 10*time.Millisecond, "room should be disbanded after the host disconnects")
}

func TestRoomVisibilityInListing(t *testing.T) {
	f := startLobby(t)
	host, _ := signup(t, f, "host")
	outsider, _ := signup(t, f, "outsider")

	resp := host.call(protocol.ActionSessionCreate, protocol.SessionCreateRoomData{Name: "secret", Visibility: "private"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	// The host sees their own private room; strangers do not.
	resp = host.call(protocol.ActionSessionRooms, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var rooms []models.Room
	require.NoError(t, json.Unmarshal(resp.Data, &rooms))
	assert.Len(t, rooms, 1)

	resp = outsider.call(protocol.ActionSessionRooms, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	rooms = nil
	require.NoError(t, json.Unmarshal(resp.Data, &rooms))
	assert.Empty(t, rooms)
}
