// internal/match/server.go

// Package match runs one authoritative two-player match: handshake, input
// ingestion, the 10 Hz tick loop, snapshot broadcast and result
// finalization. One reader goroutine per player drains frames into a
// per-player queue; the tick loop is the sole mutator of engine state.
package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/tetrion/internal/engine"
	"github.com/jason-s-yu/tetrion/internal/protocol"
)

// Defaults fixed by the match protocol.
const (
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultGravityInterval  = 500 * time.Millisecond
	DefaultHandshakeTimeout = 30 * time.Second

	inputQueueDepth = 256
)

// State is the match lifecycle phase.
type State int

const (
	AwaitingPlayers State = iota
	Running
	Terminating
	Done
)

// PlayerSpec authorizes one (userID, role) pair for the handshake. Index 0
// is the host (P1).
type PlayerSpec struct {
	UserID int64
	Role   string
}

// Reporter delivers the final result to the session service so the room can
// return to idle and the MatchLog gets written.
type Reporter interface {
	Report(data protocol.ReportResultData) error
}

// Config assembles a match server.
type Config struct {
	MatchID string
	RoomID  int64
	Seed    int64
	Players [2]PlayerSpec

	TickInterval     time.Duration
	GravityInterval  time.Duration
	HandshakeTimeout time.Duration

	Clock    clockwork.Clock
	Logger   *logrus.Logger
	Reporter Reporter
}

// slot is one player's seat: connection, engine, input queue and gravity
// bookkeeping. Only conn/connected are touched outside the tick loop, under
// the server mutex, during the handshake phase.
type slot struct {
	spec PlayerSpec

	conn      *protocol.Conn
	connected bool

	eng         *engine.Engine
	inputs      chan protocol.Input
	lastSeq     uint64
	lastGravity time.Time
	forfeited   bool
}

// alive reports whether the player is still in the game.
func (p *slot) alive() bool {
	return !p.forfeited && !p.eng.GameOver()
}

// Server owns one match.
type Server struct {
	cfg    Config
	clock  clockwork.Clock
	logger *logrus.Logger

	ln      net.Listener
	startAt time.Time
	tickNum uint64

	mu    sync.Mutex
	state State
	slots [2]*slot

	firstConn   chan struct{}
	ready       chan int
	disconnects chan int64
}

// New builds a match server. Both engines are seeded identically so the
// players draw the same bag sequence.
func New(cfg Config) *Server {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.GravityInterval == 0 {
		cfg.GravityInterval = DefaultGravityInterval
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	s := &Server{
		cfg:         cfg,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		firstConn:   make(chan struct{}, 1),
		ready:       make(chan int, 2),
		disconnects: make(chan int64, 4),
	}
	for i, spec := range cfg.Players {
		s.slots[i] = &slot{
			spec:   spec,
			eng:    engine.New(cfg.Seed),
			inputs: make(chan protocol.Input, inputQueueDepth),
		}
	}
	return s
}

// Listen binds the allocated port.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.logger.WithFields(logrus.Fields{
		"addr":  ln.Addr().String(),
		"match": s.cfg.MatchID,
		"room":  s.cfg.RoomID,
	}).Info("match server listening")
	return nil
}

// Addr returns the bound address; valid after Listen.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run drives the match to completion: AwaitingPlayers, Running, Terminating,
// Done. It returns once the result has been broadcast and reported.
func (s *Server) Run() error {
	defer s.shutdown()
	s.startAt = s.clock.Now()

	go s.acceptLoop()

	// AwaitingPlayers: the 30 s handshake clock starts at the first
	// connection, not at listen time.
	var timeout <-chan time.Time
	readyCount := 0
	for readyCount < 2 {
		select {
		case <-s.firstConn:
			timeout = s.clock.After(s.cfg.HandshakeTimeout)
		case <-s.ready:
			readyCount++
		case <-timeout:
			s.logger.Warn("handshake timeout, aborting match")
			return s.abort()
		}
	}

	s.setState(Running)
	now := s.clock.Now()
	for _, p := range s.slots {
		p.lastGravity = now
	}
	s.logger.WithField("match", s.cfg.MatchID).Info("both players ready, match running")

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		<-ticker.Chan()
		if s.tick() {
			return s.finish()
		}
	}
}

// tick runs one loop iteration and reports whether the match should finish
// after it: forfeits end the match on the same tick, top-outs after one more
// tick of final snapshots.
func (s *Server) tick() bool {
	terminating := s.getState() == Terminating

	s.drainDisconnects()
	for _, p := range s.slots {
		s.drainInputs(p)
	}
	s.applyGravity()

	s.tickNum++
	s.broadcastSnapshots()

	if terminating {
		return true
	}

	forfeited := false
	dead := false
	for _, p := range s.slots {
		if p.forfeited {
			forfeited = true
		}
		if !p.alive() {
			dead = true
		}
	}
	if forfeited {
		return true
	}
	if dead {
		s.setState(Terminating)
	}
	return false
}

// drainDisconnects converts reader-goroutine disconnect signals into
// forfeits. Disconnects never bubble to the peer as errors.
func (s *Server) drainDisconnects() {
	for {
		select {
		case userID := <-s.disconnects:
			if p := s.slotFor(userID); p != nil && !p.forfeited {
				s.logger.WithFields(logrus.Fields{"user": userID, "match": s.cfg.MatchID}).Info("player disconnected, forfeit")
				p.forfeited = true
			}
		default:
			return
		}
	}
}

// drainInputs applies this player's queued inputs in arrival order. Stale or
// duplicate sequence numbers, wrong user ids and unknown actions are dropped.
func (s *Server) drainInputs(p *slot) {
	for {
		select {
		case in := <-p.inputs:
			if in.UserID != p.spec.UserID {
				continue
			}
			if in.Seq <= p.lastSeq {
				continue
			}
			p.lastSeq = in.Seq
			action := engine.Action(in.Action)
			if !engine.ValidAction(action) {
				continue
			}
			if !p.alive() {
				continue
			}
			if res := p.eng.Apply(action); res.Locked {
				p.lastGravity = s.clock.Now()
			}
		default:
			return
		}
	}
}

// applyGravity drops each live piece one row when the gravity interval has
// elapsed since that player's last gravity or lock event.
func (s *Server) applyGravity() {
	now := s.clock.Now()
	for _, p := range s.slots {
		if !p.alive() {
			continue
		}
		if now.Sub(p.lastGravity) < s.cfg.GravityInterval {
			continue
		}
		p.eng.Gravity()
		p.lastGravity = now
	}
}

func (s *Server) slotFor(userID int64) *slot {
	for _, p := range s.slots {
		if p.spec.UserID == userID {
			return p
		}
	}
	return nil
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Server) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) shutdown() {
	s.setState(Done)
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.slots {
		if p.conn != nil {
			p.conn.Close()
		}
	}
}

var errSlotTaken = errors.New("slot already claimed")

// acceptLoop accepts inbound connections and runs their handshakes until the
// listener closes. Connections beyond the expected two fail the handshake.
func (s *Server) acceptLoop() {
	accepted := 0
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		accepted++
		if accepted == 1 {
			select {
			case s.firstConn <- struct{}{}:
			default:
			}
		}
		go s.handshake(c)
	}
}

// handshake validates the client's HELLO against the authorized player set
// and replies WELCOME. Anything else closes the connection with Unauthorized.
func (s *Server) handshake(c net.Conn) {
	fc := protocol.NewConn(c)

	raw, err := fc.ReadDeadline(s.cfg.HandshakeTimeout)
	if err != nil {
		fc.Close()
		return
	}
	var hello protocol.Hello
	if err := json.Unmarshal(raw, &hello); err != nil ||
		hello.Type != protocol.MsgHello ||
		hello.Version != protocol.HandshakeVersion ||
		hello.RoomID != s.cfg.RoomID {
		fc.Write(protocol.ErrorResponse(protocol.KindUnauthorized, "invalid handshake"))
		fc.Close()
		return
	}

	p := s.slotFor(hello.UserID)
	if p == nil {
		fc.Write(protocol.ErrorResponse(protocol.KindUnauthorized, "player not expected for this match"))
		fc.Close()
		return
	}

	s.mu.Lock()
	if p.connected {
		s.mu.Unlock()
		fc.Write(protocol.ErrorResponse(protocol.KindUnauthorized, errSlotTaken.Error()))
		fc.Close()
		return
	}
	p.conn = fc
	p.connected = true
	s.mu.Unlock()

	welcome := protocol.Welcome{
		Type:    protocol.MsgWelcome,
		Role:    p.spec.Role,
		Seed:    s.cfg.Seed,
		BagRule: "7bag",
		GravityPlan: protocol.GravityPlan{
			Mode:   "fixed",
			DropMs: int(s.cfg.GravityInterval / time.Millisecond),
		},
	}
	if err := fc.Write(welcome); err != nil {
		fc.Close()
		return
	}

	s.logger.WithFields(logrus.Fields{"user": hello.UserID, "role": p.spec.Role}).Info("player handshake complete")
	go s.readLoop(p)
	s.ready <- s.slotIndex(p)
}

func (s *Server) slotIndex(p *slot) int {
	if s.slots[0] == p {
		return 0
	}
	return 1
}

// readLoop drains one player's frames into their input queue. INPUTs beyond
// the queue depth are dropped rather than blocking the reader; PINGs are
// answered inline.
func (s *Server) readLoop(p *slot) {
	for {
		raw, err := p.conn.Read()
		if err != nil {
			s.disconnects <- p.spec.UserID
			return
		}

		var head struct {
			Type protocol.MessageType `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}

		switch head.Type {
		case protocol.MsgInput:
			var in protocol.Input
			if err := json.Unmarshal(raw, &in); err != nil {
				continue
			}
			select {
			case p.inputs <- in:
			default:
				s.logger.WithField("user", p.spec.UserID).Warn("input queue full, dropping frame")
			}
		case protocol.MsgPing:
			var ping protocol.Ping
			if err := json.Unmarshal(raw, &ping); err == nil {
				p.conn.Write(protocol.Pong{Type: protocol.MsgPong, Ts: ping.Ts})
			}
		}
	}
}
