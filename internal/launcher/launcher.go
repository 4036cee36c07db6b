// internal/launcher/launcher.go

// Package launcher allocates ports and spawns one match-server process per
// match, tracking child liveness and reclaiming the port when the child
// exits. Each match runs in its own address space for hard isolation and
// trivial teardown.
package launcher

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrLauncher wraps any failure to allocate or spawn; the session service
// unwinds the room to idle when it sees this.
var ErrLauncher = errors.New("launcher error")

// Defaults.
const (
	DefaultBasePort    = 10100
	DefaultPortSpan    = 100
	DefaultMaxDuration = 30 * time.Minute
)

// Instance is one tracked match-server process.
type Instance struct {
	MatchID string
	RoomID  int64
	Port    int
	Seed    int64

	cmd     *exec.Cmd
	killer  *time.Timer
	startAt time.Time
}

// Manager spawns and tracks match servers.
type Manager struct {
	binPath     string
	host        string
	lobbyAddr   string
	basePort    int
	portSpan    int
	maxDuration time.Duration
	logger      *logrus.Logger

	mu     sync.Mutex
	active map[int64]*Instance
}

// New builds a manager. binPath is the tetrion-match executable; host is the
// address advertised to clients; lobbyAddr is the session service's control
// channel, handed to each child for result reporting.
func New(binPath, host, lobbyAddr string, logger *logrus.Logger) *Manager {
	return &Manager{
		binPath:     binPath,
		host:        host,
		lobbyAddr:   lobbyAddr,
		basePort:    DefaultBasePort,
		portSpan:    DefaultPortSpan,
		maxDuration: DefaultMaxDuration,
		logger:      logger,
		active:      make(map[int64]*Instance),
	}
}

// Start spawns a match server for roomID with the authorized players, host
// first. If the room already has a live match, that instance is returned.
func (m *Manager) Start(roomID, hostUserID, guestUserID int64) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.active[roomID]; ok {
		return inst, nil
	}

	port, err := m.findPort()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLauncher, err)
	}
	seed, err := newSeed()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLauncher, err)
	}

	inst := &Instance{
		MatchID: uuid.NewString(),
		RoomID:  roomID,
		Port:    port,
		Seed:    seed,
		startAt: time.Now(),
	}

	cmd := exec.Command(m.binPath,
		"--host", "0.0.0.0",
		"--port", fmt.Sprint(port),
		"--match-id", inst.MatchID,
		"--seed", fmt.Sprint(seed),
		"--room-id", fmt.Sprint(roomID),
		"--lobby-addr", m.lobbyAddr,
		"--player", fmt.Sprintf("%d:P1", hostUserID),
		"--player", fmt.Sprintf("%d:P2", guestUserID),
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: spawn match server: %v", ErrLauncher, err)
	}
	inst.cmd = cmd

	// Hard upper bound on match duration; the child is killed, which the
	// match server surfaces to players as dropped connections.
	inst.killer = time.AfterFunc(m.maxDuration, func() {
		m.logger.WithField("room", roomID).Warn("match exceeded max duration, killing")
		cmd.Process.Kill()
	})

	m.active[roomID] = inst
	m.logger.WithFields(logrus.Fields{
		"room":  roomID,
		"match": inst.MatchID,
		"port":  port,
		"pid":   cmd.Process.Pid,
	}).Info("match server spawned")

	go m.monitor(inst)
	return inst, nil
}

// Host returns the address clients should connect to.
func (m *Manager) Host() string { return m.host }

// MatchID returns the match id issued to roomID's live instance, if any. The
// session service uses it to authenticate result reports.
func (m *Manager) MatchID(roomID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.active[roomID]
	if !ok {
		return "", false
	}
	return inst.MatchID, true
}

// monitor reaps the child and reclaims its slot (and thereby its port).
func (m *Manager) monitor(inst *Instance) {
	err := inst.cmd.Wait()
	inst.killer.Stop()

	fields := logrus.Fields{"room": inst.RoomID, "match": inst.MatchID, "uptime": time.Since(inst.startAt)}
	if err != nil {
		fields["error"] = err
	}
	m.logger.WithFields(fields).Info("match server exited")

	m.mu.Lock()
	if m.active[inst.RoomID] == inst {
		delete(m.active, inst.RoomID)
	}
	m.mu.Unlock()
}

// Stop kills the match server for roomID, if any.
func (m *Manager) Stop(roomID int64) {
	m.mu.Lock()
	inst, ok := m.active[roomID]
	m.mu.Unlock()
	if ok {
		inst.cmd.Process.Kill()
	}
}

// Shutdown kills every tracked match server.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	instances := make([]*Instance, 0, len(m.active))
	for _, inst := range m.active {
		instances = append(instances, inst)
	}
	m.mu.Unlock()

	for _, inst := range instances {
		inst.cmd.Process.Kill()
	}
}

// findPort probes the pool for a bindable port. The bind races with the
// child's own bind, but the pool is private to this launcher.
func (m *Manager) findPort() (int, error) {
	for port := m.basePort; port < m.basePort+m.portSpan; port++ {
		if m.portInUse(port) {
			continue
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, errors.New("no free port in pool")
}

func (m *Manager) portInUse(port int) bool {
	for _, inst := range m.active {
		if inst.Port == port {
			return true
		}
	}
	return false
}

// newSeed draws a full 64-bit seed from the system entropy source.
func newSeed() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
