// internal/lowcard/bot.go
package lowcard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

const botRecordTTL = 7 * 24 * time.Hour

// BotRecord marks a room as having the LowCard bot installed. DefaultAmount
// is advisory; the entry default at start time is the room minimum.
type BotRecord struct {
	Active        bool  `json:"active"`
	DefaultAmount int64 `json:"defaultAmount"`
	CreatedAt     int64 `json:"createdAt"`
}

// BotKey returns the keyed-store key marking the bot installed in a room.
func BotKey(roomID string) string {
	return "lowcard:bot:" + roomID
}

// IsBotActive reports whether the LowCard bot is installed in the room.
func (e *Engine) IsBotActive(ctx context.Context, roomID string) bool {
	n, err := e.rdb.Exists(ctx, BotKey(roomID)).Result()
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("bot record lookup failed")
		return false
	}
	return n > 0
}

// AddBot installs the LowCard bot in a room. Requires room-admin or
// system-admin, and refuses while another game type holds the room.
func (e *Engine) AddBot(ctx context.Context, roomID, userID string, defaultAmount int64) Result {
	if !e.isAdmin(ctx, roomID, userID) {
		return pvt("Only room admins can manage bots.")
	}

	active, err := e.state.Active(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("active game lookup failed")
		return busy()
	}
	if active != "" && active != GameType {
		return pvt("Another game bot is active in this room.")
	}
	if e.IsBotActive(ctx, roomID) {
		return pvt("Bot is already running.")
	}

	record := BotRecord{Active: true, DefaultAmount: defaultAmount, CreatedAt: e.now().UnixMilli()}
	data, err := json.Marshal(record)
	if err != nil {
		return busy()
	}
	if err := e.rdb.Set(ctx, BotKey(roomID), data, botRecordTTL).Err(); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to write bot record")
		return busy()
	}
	if err := e.state.SetActive(ctx, roomID, GameType); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to claim active game slot")
	}
	return pvt("Bot is running")
}

// RemoveBot uninstalls the bot, refunding any waiting game first.
func (e *Engine) RemoveBot(ctx context.Context, roomID, userID string) Result {
	if !e.isAdmin(ctx, roomID, userID) {
		return pvt("Only room admins can manage bots.")
	}
	if !e.IsBotActive(ctx, roomID) {
		return silent()
	}

	// StopGame refunds a waiting game; a playing game keeps running and is
	// rejected there, so the bot cannot be yanked from under live stakes.
	if res := e.StopGame(ctx, roomID); res.IsPvt && !res.Success && res.Message == "Game already started, cannot stop." {
		return pvt("Finish the running game before removing the bot.")
	}

	if err := e.rdb.Del(ctx, BotKey(roomID)).Err(); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to delete bot record")
	}
	e.cleanup(ctx, roomID)
	if err := e.state.Clear(ctx, roomID, GameType); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("failed to clear active game slot")
	}
	return pvt("Bot removed.")
}

// isAdmin allows room owners, room admins, and system admins.
func (e *Engine) isAdmin(ctx context.Context, roomID, userID string) bool {
	roomAdmin, err := e.store.IsRoomAdmin(ctx, roomID, userID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "error": err}).Warn("room admin lookup failed")
	}
	if roomAdmin {
		return true
	}
	role, err := e.store.UserRole(ctx, userID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"user": userID, "error": err}).Warn("role lookup failed")
		return false
	}
	return role == "admin" || role == "super_admin"
}
