// internal/lowcard/timer.go
package lowcard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Timer phases. Exactly one timer key exists per active game and matches the
// game's status: join while waiting, countdown/round while playing.
const (
	PhaseJoin      = "join"
	PhaseCountdown = "countdown"
	PhaseRound     = "round"
)

// TimerPattern is the scan pattern the poller walks each tick.
const TimerPattern = "room:*:lowcard:timer"

// Timer is the wall-clock deadline record for a room. Deadlines are data, not
// suspended computations: the poller reads them back after a restart and
// resumes exactly where the previous process left off.
type Timer struct {
	Phase       string `json:"phase"`
	ExpiresAt   int64  `json:"expiresAt"`
	RoundNumber int    `json:"roundNumber"`
	CreatedAt   int64  `json:"createdAt"`
}

// TimerKey returns the timer key for a room.
func TimerKey(roomID string) string {
	return "room:" + roomID + ":lowcard:timer"
}

// RoomFromTimerKey extracts the room id from a scanned timer key, or "".
func RoomFromTimerKey(key string) string {
	if !strings.HasPrefix(key, "room:") || !strings.HasSuffix(key, ":lowcard:timer") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, "room:"), ":lowcard:timer")
}

// setTimer records the phase deadline. The 120s TTL makes timers
// self-cleaning should a terminal transition fail to clear them.
func (e *Engine) setTimer(ctx context.Context, roomID, phase string, expiresAt int64, round int) error {
	t := Timer{
		Phase:       phase,
		ExpiresAt:   expiresAt,
		RoundNumber: round,
		CreatedAt:   e.now().UnixMilli(),
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode timer for room %s: %w", roomID, err)
	}
	if err := e.rdb.Set(ctx, TimerKey(roomID), data, timerTTL).Err(); err != nil {
		return fmt.Errorf("failed to write timer for room %s: %w", roomID, err)
	}
	return nil
}

// getTimer reads a room's timer; a missing key returns (nil, nil).
func (e *Engine) getTimer(ctx context.Context, roomID string) (*Timer, error) {
	raw, err := e.rdb.Get(ctx, TimerKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load timer for room %s: %w", roomID, err)
	}
	var t Timer
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("failed to decode timer for room %s: %w", roomID, err)
	}
	return &t, nil
}

// clearTimer removes the timer key on terminal transitions.
func (e *Engine) clearTimer(ctx context.Context, roomID string) error {
	if err := e.rdb.Del(ctx, TimerKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to clear timer for room %s: %w", roomID, err)
	}
	return nil
}
