// internal/database/room.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RoomName returns the display name of a room, or "" if the room is unknown.
// The engine only uses the name to detect "big game" rooms, so a missing row
// is not an error.
func (s *Store) RoomName(ctx context.Context, roomID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM rooms WHERE id = $1`, roomID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read room %s: %w", roomID, err)
	}
	return name, nil
}

// IsRoomAdmin reports whether userID owns the room or appears in room_admins.
func (s *Store) IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error) {
	q := `
	SELECT EXISTS (
		SELECT 1 FROM rooms WHERE id = $1 AND owner_id = $2
		UNION
		SELECT 1 FROM room_admins WHERE room_id = $1 AND user_id = $2
	)
	`
	var ok bool
	if err := s.pool.QueryRow(ctx, q, roomID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check room admin for %s in %s: %w", userID, roomID, err)
	}
	return ok, nil
}
