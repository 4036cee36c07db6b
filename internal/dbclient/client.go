// internal/dbclient/client.go

// Package dbclient is the session service's facade over the persistence
// service. One framed connection is shared and serialized; transport failures
// reconnect with bounded retries before surfacing PersistenceUnavailable.
package dbclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/tetrion/internal/models"
	"github.com/jason-s-yu/tetrion/internal/protocol"
)

// ErrUnavailable wraps transport-level failures after retries are exhausted.
var ErrUnavailable = errors.New("persistence unavailable")

const (
	maxAttempts    = 3
	requestTimeout = 5 * time.Second
)

// Error is a business error returned by the persistence service, carrying the
// machine-readable kind from the response envelope.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("persistence: %s (%s)", e.Message, e.Kind)
}

// KindOf extracts the error kind, or "" for non-business errors.
func KindOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Client holds one connection to the persistence service.
type Client struct {
	addr   string
	logger *logrus.Logger

	mu sync.Mutex
	fc *protocol.Conn
}

// Dial connects eagerly so misconfiguration fails at startup.
func Dial(addr string, logger *logrus.Logger) (*Client, error) {
	c := &Client{addr: addr, logger: logger}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, nil
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fc != nil {
		err := c.fc.Close()
		c.fc = nil
		return err
	}
	return nil
}

// connect must be called with the mutex held.
func (c *Client) connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, requestTimeout)
	if err != nil {
		return err
	}
	c.fc = protocol.NewConn(conn)
	return nil
}

// request performs one action round trip, decoding the response data into out
// when out is non-nil. Business errors are returned as *Error; transport
// errors reconnect and retry before failing with ErrUnavailable.
func (c *Client) request(action string, data any, out any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req := protocol.Request{Action: action, Data: payload}

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if c.fc == nil {
			if lastErr = c.connect(); lastErr != nil {
				continue
			}
		}

		if lastErr = c.fc.Write(req); lastErr != nil {
			c.dropConn(action, lastErr)
			continue
		}

		raw, err := c.fc.ReadDeadline(requestTimeout)
		if err != nil {
			lastErr = err
			c.dropConn(action, err)
			continue
		}

		var resp struct {
			Status  string          `json:"status"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("%w: bad response envelope: %v", ErrUnavailable, err)
		}

		if resp.Status != protocol.StatusSuccess {
			var kindData struct {
				Kind string `json:"kind"`
			}
			json.Unmarshal(resp.Data, &kindData)
			return &Error{Kind: kindData.Kind, Message: resp.Message}
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("%w: bad response data: %v", ErrUnavailable, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) dropConn(action string, err error) {
	c.logger.WithFields(logrus.Fields{"action": action, "error": err}).Warn("persistence transport failure, reconnecting")
	if c.fc != nil {
		c.fc.Close()
		c.fc = nil
	}
}

// CreateUser registers a user; the verifier is already derived.
func (c *Client) CreateUser(name, email, passwordHash string) (*models.User, error) {
	var u models.User
	err := c.request(protocol.ActionCreateUser, protocol.CreateUserData{Name: name, Email: email, PasswordHash: passwordHash}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// LoginUser authenticates by verifier equality and stamps last_login_at.
func (c *Client) LoginUser(email, passwordHash string) (*models.User, error) {
	var u models.User
	err := c.request(protocol.ActionLoginUser, protocol.LoginUserData{Email: email, PasswordHash: passwordHash}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetUser(id int64) (*models.User, error) {
	var u models.User
	if err := c.request(protocol.ActionGetUser, protocol.UserIDData{ID: id}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetUserByEmail(email string) (*models.User, error) {
	var u models.User
	if err := c.request(protocol.ActionGetUserByEmail, protocol.EmailData{Email: email}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) CreateRoom(name string, hostUserID int64, visibility string) (*models.Room, error) {
	var r models.Room
	err := c.request(protocol.ActionCreateRoom, protocol.CreateRoomData{Name: name, HostUserID: hostUserID, Visibility: visibility}, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetRoom(id int64) (*models.Room, error) {
	var r models.Room
	if err := c.request(protocol.ActionGetRoom, protocol.RoomIDData{ID: id}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListRooms(visibility string) ([]models.Room, error) {
	var rooms []models.Room
	if err := c.request(protocol.ActionListRooms, protocol.ListRoomsData{Visibility: visibility}, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) UpdateRoom(id int64, patch models.RoomPatch) (*models.Room, error) {
	var r models.Room
	if err := c.request(protocol.ActionUpdateRoom, protocol.UpdateRoomData{ID: id, Patch: patch}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) DeleteRoom(id int64) error {
	return c.request(protocol.ActionDeleteRoom, protocol.RoomIDData{ID: id}, nil)
}

func (c *Client) CreateGameLog(matchID string, roomID int64, users []int64, startAt, endAt time.Time, results []models.PlayerResult) (*models.GameLog, error) {
	var g models.GameLog
	err := c.request(protocol.ActionCreateGameLog, protocol.CreateGameLogData{
		MatchID: matchID, RoomID: roomID, Users: users, StartAt: startAt, EndAt: endAt, Results: results,
	}, &g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) ListGameLogs(userID int64) ([]models.GameLog, error) {
	var logs []models.GameLog
	if err := c.request(protocol.ActionListGameLogs, protocol.ListGameLogsData{UserID: userID}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
