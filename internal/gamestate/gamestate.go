// internal/gamestate/gamestate.go
package gamestate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const directoryTTL = 7 * 24 * time.Hour

// Directory records which game type is active per room. The command router
// consults it for per-room affinity, and bot managers refuse to install a
// second bot while another game type holds the room.
type Directory struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Directory {
	return &Directory{rdb: rdb}
}

func key(roomID string) string {
	return "room:" + roomID + ":activegame"
}

// Active returns the active game type for the room, or "" if none.
func (d *Directory) Active(ctx context.Context, roomID string) (string, error) {
	gameType, err := d.rdb.Get(ctx, key(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active game for room %s: %w", roomID, err)
	}
	return gameType, nil
}

// SetActive marks gameType as the room's active game.
func (d *Directory) SetActive(ctx context.Context, roomID, gameType string) error {
	if err := d.rdb.Set(ctx, key(roomID), gameType, directoryTTL).Err(); err != nil {
		return fmt.Errorf("failed to set active game for room %s: %w", roomID, err)
	}
	return nil
}

// Clear removes the room's active game entry, but only while gameType still
// owns it, so removing one bot cannot clobber another game's claim.
func (d *Directory) Clear(ctx context.Context, roomID, gameType string) error {
	current, err := d.Active(ctx, roomID)
	if err != nil {
		return err
	}
	if current != gameType {
		return nil
	}
	if err := d.rdb.Del(ctx, key(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to clear active game for room %s: %w", roomID, err)
	}
	return nil
}
