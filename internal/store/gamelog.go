// internal/store/gamelog.go
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/tetrion/internal/models"
)

// CreateGameLog records the final result of one match.
func (s *Store) CreateGameLog(matchID string, roomID int64, users []int64, startAt, endAt time.Time, results []models.PlayerResult) (*models.GameLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO game_logs (match_id, room_id, users, start_at, end_at, results) VALUES (?, ?, ?, ?, ?, ?)`,
		matchID, roomID, mustJSON(users), startAt.UTC(), endAt.UTC(), mustJSON(results),
	)
	if err != nil {
		return nil, fmt.Errorf("insert game log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.GameLog{
		ID:      id,
		MatchID: matchID,
		RoomID:  roomID,
		Users:   users,
		StartAt: startAt.UTC(),
		EndAt:   endAt.UTC(),
		Results: results,
	}, nil
}

// ListGameLogs returns logs, newest first, optionally filtered to matches a
// given user played in.
func (s *Store) ListGameLogs(userID int64) ([]models.GameLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, match_id, room_id, users, start_at, end_at, results FROM game_logs ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query game logs: %w", err)
	}
	defer rows.Close()

	var out []models.GameLog
	for rows.Next() {
		var g models.GameLog
		var usersJSON, resultsJSON string
		if err := rows.Scan(&g.ID, &g.MatchID, &g.RoomID, &usersJSON, &g.StartAt, &g.EndAt, &resultsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(usersJSON), &g.Users); err != nil {
			return nil, fmt.Errorf("decode users: %w", err)
		}
		if err := json.Unmarshal([]byte(resultsJSON), &g.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		if userID != 0 && !containsID(g.Users, userID) {
			continue
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
