// internal/lowcard/snapshot.go
package lowcard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// GameKey returns the keyed-store key holding a room's game snapshot.
func GameKey(roomID string) string {
	return "lowcard:game:" + roomID
}

// loadGame reads a room's snapshot; a missing key returns (nil, nil).
func (e *Engine) loadGame(ctx context.Context, roomID string) (*Game, error) {
	raw, err := e.rdb.Get(ctx, GameKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game for room %s: %w", roomID, err)
	}
	var g Game
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("failed to decode game for room %s: %w", roomID, err)
	}
	return &g, nil
}

// saveGame writes the snapshot back, refreshing its TTL on each mutation.
func (e *Engine) saveGame(ctx context.Context, g *Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode game for room %s: %w", g.RoomID, err)
	}
	if err := e.rdb.Set(ctx, GameKey(g.RoomID), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to write game for room %s: %w", g.RoomID, err)
	}
	return nil
}

// deleteGame removes the snapshot key.
func (e *Engine) deleteGame(ctx context.Context, roomID string) error {
	if err := e.rdb.Del(ctx, GameKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to delete game for room %s: %w", roomID, err)
	}
	return nil
}
