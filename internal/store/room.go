// internal/store/room.go
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/tetrion/internal/models"
)

// CreateRoom inserts an idle room with the host as its only member.
func (s *Store) CreateRoom(name string, hostUserID int64, visibility string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	members := mustJSON([]int64{hostUserID})
	res, err := s.db.Exec(
		`INSERT INTO rooms (name, host_user_id, visibility, invite_list, members, status, created_at)
		 VALUES (?, ?, ?, '[]', ?, ?, ?)`,
		name, hostUserID, visibility, members, models.RoomIdle, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.Room{
		ID:         id,
		Name:       name,
		HostUserID: hostUserID,
		Visibility: visibility,
		InviteList: []int64{},
		Members:    []int64{hostUserID},
		Status:     models.RoomIdle,
		CreatedAt:  now,
	}, nil
}

// GetRoom fetches a room by id.
func (s *Store) GetRoom(id int64) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRoom(id)
}

// ListRooms returns all rooms, optionally filtered by visibility.
func (s *Store) ListRooms(visibility string) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, name, host_user_id, visibility, invite_list, members, status, created_at FROM rooms`
	args := []any{}
	if visibility != "" {
		query += ` WHERE visibility = ?`
		args = append(args, visibility)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var out []models.Room
	for rows.Next() {
		r, err := scanRoom(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRoom applies a partial patch to membership, invite list or status.
func (s *Store) UpdateRoom(id int64, patch models.RoomPatch) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRoom(id)
	if err != nil {
		return nil, err
	}
	if patch.Members != nil {
		r.Members = *patch.Members
	}
	if patch.InviteList != nil {
		r.InviteList = *patch.InviteList
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}

	_, err = s.db.Exec(
		`UPDATE rooms SET invite_list = ?, members = ?, status = ? WHERE id = ?`,
		mustJSON(r.InviteList), mustJSON(r.Members), r.Status, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}
	return r, nil
}

// DeleteRoom removes a room.
func (s *Store) DeleteRoom(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getRoom(id int64) (*models.Room, error) {
	row := s.db.QueryRow(
		`SELECT id, name, host_user_id, visibility, invite_list, members, status, created_at FROM rooms WHERE id = ?`, id,
	)
	r, err := scanRoom(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func scanRoom(scan func(...any) error) (*models.Room, error) {
	var r models.Room
	var inviteJSON, membersJSON string
	err := scan(&r.ID, &r.Name, &r.HostUserID, &r.Visibility, &inviteJSON, &membersJSON, &r.Status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inviteJSON), &r.InviteList); err != nil {
		return nil, fmt.Errorf("decode invite list: %w", err)
	}
	if err := json.Unmarshal([]byte(membersJSON), &r.Members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	return &r, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
