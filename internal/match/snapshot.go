// internal/match/snapshot.go
package match

import (
	"github.com/jason-s-yu/tetrion/internal/engine"
	"github.com/jason-s-yu/tetrion/internal/models"
	"github.com/jason-s-yu/tetrion/internal/protocol"
)

// broadcastSnapshots emits one SNAPSHOT per player to both connections,
// carrying the state at the end of the current tick.
func (s *Server) broadcastSnapshots() {
	at := s.clock.Now().UnixMilli()
	for _, p := range s.slots {
		s.broadcast(s.snapshotFor(p, at))
	}
}

// snapshotFor captures one player's engine state.
func (s *Server) snapshotFor(p *slot, at int64) protocol.Snapshot {
	kind, x, y, rot := p.eng.Active()

	next := p.eng.Next(3)
	names := make([]string, len(next))
	for i, k := range next {
		names[i] = k.String()
	}

	return protocol.Snapshot{
		Type:     protocol.MsgSnapshot,
		Tick:     s.tickNum,
		UserID:   p.spec.UserID,
		Role:     p.spec.Role,
		BoardRLE: engine.EncodeBoardRLE(p.eng.Board()),
		Active:   protocol.ActivePiece{Shape: kind.String(), X: x, Y: y, Rot: rot},
		Hold:     p.eng.Hold().String(),
		Next:     names,
		Score:    p.eng.Score(),
		Lines:    p.eng.Lines(),
		Level:    p.eng.Level(),
		GameOver: p.eng.GameOver() || p.forfeited,
		At:       at,
	}
}

// broadcast writes a frame to every connected player, ignoring write errors:
// a dead connection surfaces through its read loop as a forfeit.
func (s *Server) broadcast(msg any) {
	s.mu.Lock()
	conns := make([]*protocol.Conn, 0, 2)
	for _, p := range s.slots {
		if p.connected && p.conn != nil {
			conns = append(conns, p.conn)
		}
	}
	s.mu.Unlock()

	for _, fc := range conns {
		fc.Write(msg)
	}
}

// finish broadcasts GAME_OVER, reports the result, and moves to Done.
func (s *Server) finish() error {
	s.setState(Terminating)

	winner := s.winner()
	results := make([]models.PlayerResult, 0, 2)
	users := make([]int64, 0, 2)
	for _, p := range s.slots {
		users = append(users, p.spec.UserID)
		results = append(results, models.PlayerResult{
			UserID: p.spec.UserID,
			Score:  p.eng.Score(),
			Lines:  p.eng.Lines(),
		})
	}

	s.broadcast(protocol.GameOver{Type: protocol.MsgGameOver, Winner: winner, Results: results})
	s.logger.WithFields(map[string]any{"match": s.cfg.MatchID, "winner": winner}).Info("match over")

	return s.report(winner, users, results)
}

// winner returns the surviving player's user id, or nil when neither player
// survived (both topped out on the same tick).
func (s *Server) winner() *int64 {
	var alive []*slot
	for _, p := range s.slots {
		if p.alive() {
			alive = append(alive, p)
		}
	}
	if len(alive) == 1 {
		id := alive[0].spec.UserID
		return &id
	}
	return nil
}

// abort ends a match whose handshake never completed: the connected player,
// if any, wins by default and every result line is empty.
func (s *Server) abort() error {
	var winner *int64
	results := make([]models.PlayerResult, 0, 2)
	users := make([]int64, 0, 2)

	s.mu.Lock()
	for _, p := range s.slots {
		users = append(users, p.spec.UserID)
		results = append(results, models.PlayerResult{UserID: p.spec.UserID})
		if p.connected {
			id := p.spec.UserID
			winner = &id
		}
	}
	s.mu.Unlock()

	s.broadcast(protocol.GameOver{Type: protocol.MsgGameOver, Winner: winner, Results: results})
	return s.report(winner, users, results)
}

func (s *Server) report(winner *int64, users []int64, results []models.PlayerResult) error {
	if s.cfg.Reporter == nil {
		return nil
	}
	data := protocol.ReportResultData{
		MatchID: s.cfg.MatchID,
		RoomID:  s.cfg.RoomID,
		Users:   users,
		Winner:  winner,
		StartAt: s.startAt,
		EndAt:   s.clock.Now(),
		Results: results,
	}
	if err := s.cfg.Reporter.Report(data); err != nil {
		s.logger.WithField("error", err).Error("failed to report match result")
		return err
	}
	return nil
}
