// internal/lowcard/engine.go
package lowcard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chatwave/games/internal/broadcast"
	"github.com/chatwave/games/internal/deck"
	"github.com/chatwave/games/internal/gamestate"
	"github.com/chatwave/games/internal/ledger"
	"github.com/chatwave/games/internal/lock"
	"github.com/chatwave/games/internal/metrics"
)

const botName = "LowCard"

const (
	joinWindow     = 30 * time.Second
	countdownDelay = 3 * time.Second
	roundWindow    = 20 * time.Second

	startLockTTL     = 30 * time.Second
	joinLockTTL      = 15 * time.Second
	drawLockTTL      = 15 * time.Second
	joinLockAttempts = 5
	joinLockDelay    = 100 * time.Millisecond

	snapshotTTL = time.Hour
	timerTTL    = 120 * time.Second

	// A waiting game past joinDeadline by this much is stale; a waiting game
	// older than stuckAfter with no timer key is stuck (its join timer was
	// lost) and may be swept by the next start attempt.
	staleAfter = 120 * time.Second
	stuckAfter = 40 * time.Second

	minEntryDefault = int64(1)
	minEntryBigGame = int64(50)
	maxEntryDefault = int64(999_999_999)
	houseFeePercent = int64(10)
	commissionOfFee = int64(10)
)

func startLockKey(roomID string) string { return "lowcard:lock:" + roomID }
func joinLockKey(roomID string) string  { return "lowcard:joinlock:" + roomID }
func drawLockKey(roomID string) string  { return "lowcard:drawlock:" + roomID }

// Store is the durable surface the engine writes: per-game summary rows,
// game_history rows, and room/role lookups. Implemented by database.Store.
type Store interface {
	RoomName(ctx context.Context, roomID string) (string, error)
	IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error)
	UserRole(ctx context.Context, userID string) (string, error)
	InsertGameHistory(ctx context.Context, userID, username, gameType, result string, reward int64) error
	InsertLowcardGame(ctx context.Context, roomID string, entryAmount int64, startedBy string) (int64, error)
	FinishLowcardGame(ctx context.Context, gameID int64, winnerID, winnerUsername string, pot, winnings, commission int64, playerCount int) error
	CancelLowcardGame(ctx context.Context, gameID int64) error
}

// Deps bundles the collaborators the engine needs. Everything is passed in
// explicitly; the engine owns no connections of its own.
type Deps struct {
	Redis       *redis.Client
	Locks       *lock.Manager
	Ledger      *ledger.Ledger
	Deck        *deck.Service
	Store       Store
	State       *gamestate.Directory
	Broadcaster broadcast.Broadcaster
	Hook        ledger.MerchantHook
	Metrics     *metrics.Metrics
	Log         *logrus.Logger
	Now         func() time.Time
}

// Engine drives the per-room LowCard state machine. All mutations of a
// room's snapshot happen behind a keyed-store lock, so two replicas (or the
// timer poller racing a user command) cannot interleave read-modify-write
// cycles.
type Engine struct {
	rdb     *redis.Client
	locks   *lock.Manager
	ledger  *ledger.Ledger
	deck    *deck.Service
	store   Store
	state   *gamestate.Directory
	bc      broadcast.Broadcaster
	hook    ledger.MerchantHook
	metrics *metrics.Metrics
	log     *logrus.Logger
	now     func() time.Time
}

// NewEngine wires an engine from its dependencies.
func NewEngine(d Deps) *Engine {
	hook := d.Hook
	if hook == nil {
		hook = ledger.NopMerchantHook{}
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	m := d.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Engine{
		rdb:     d.Redis,
		locks:   d.Locks,
		ledger:  d.Ledger,
		deck:    d.Deck,
		store:   d.Store,
		state:   d.State,
		bc:      d.Broadcaster,
		hook:    hook,
		metrics: m,
		log:     d.Log,
		now:     now,
	}
}

// StartGame creates a waiting game for the room, deducting the starter's
// entry. It holds the start lock for the whole mutation and verifies the
// snapshot write before returning, refunding the starter on any failure past
// the deduction.
func (e *Engine) StartGame(ctx context.Context, roomID, userID, username string, amount int64, hasAmount bool) Result {
	if !e.IsBotActive(ctx, roomID) {
		return silent()
	}

	token, err := e.locks.Acquire(ctx, startLockKey(roomID), startLockTTL)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("start lock acquire failed")
		return busy()
	}
	if token == "" {
		return busy()
	}
	defer e.release(ctx, startLockKey(roomID), token)

	e.checkAndCleanupStaleGame(ctx, roomID)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to inspect existing game")
		return busy()
	}
	if g != nil {
		timer, terr := e.getTimer(ctx, roomID)
		hasTimer := terr == nil && timer != nil
		switch {
		case g.Status == StatusWaiting && !hasTimer && e.now().Sub(g.CreatedAt) > stuckAfter:
			// The join timer was lost; treat the game as stuck and sweep it.
			e.log.WithFields(logrus.Fields{"room": roomID, "game": g.ID}).Warn("sweeping stuck waiting game")
			e.refundAll(ctx, g, fmt.Sprintf("LowCard Refund - Stuck Game (Room %s)", roomID))
			e.teardown(ctx, g)
		case g.Status == StatusWaiting || g.Status == StatusPlaying:
			return pvt("Game already in progress.")
		default:
			e.cleanup(ctx, roomID)
		}
	}

	minEntry, maxAllowed := minEntryDefault, maxEntryDefault
	roomName, err := e.store.RoomName(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("room name lookup failed")
	}
	bigGame := strings.Contains(strings.ToLower(roomName), "big game")
	if bigGame {
		minEntry = minEntryBigGame
	}

	if !hasAmount {
		amount = minEntry
	}
	if amount < minEntry {
		return pvt(fmt.Sprintf("Minimal %d COINS to start.", minEntry))
	}
	if !bigGame && amount > maxAllowed {
		return pvt(fmt.Sprintf("Maximal %d COINS per entry.", maxAllowed))
	}

	gameID := uuid.NewString()
	ded, err := e.ledger.Deduct(ctx, userID, username, amount, fmt.Sprintf("LowCard Entry (Room %s)", roomID), gameID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "error": err}).Error("entry deduction failed")
		return busy()
	}
	if !ded.Success {
		return pvt("Not enough credits.")
	}

	// Past this point the starter's entry is debited: every failure path must
	// route through rollbackStart.
	if err := e.store.InsertGameHistory(ctx, userID, username, GameType, "lose", 0); err != nil {
		return e.rollbackStart(ctx, roomID, userID, username, amount, err)
	}
	dbID, err := e.store.InsertLowcardGame(ctx, roomID, amount, userID)
	if err != nil {
		return e.rollbackStart(ctx, roomID, userID, username, amount, err)
	}

	now := e.now()
	g = &Game{
		ID:                gameID,
		DBID:              dbID,
		RoomID:            roomID,
		Status:            StatusWaiting,
		EntryAmount:       amount,
		Pot:               amount,
		Players:           []*Player{{UserID: userID, Username: username}},
		StartedBy:         userID,
		StartedByUsername: username,
		CreatedAt:         now,
		JoinDeadline:      now.Add(joinWindow).UnixMilli(),
	}
	if err := e.saveGame(ctx, g); err != nil {
		return e.rollbackStart(ctx, roomID, userID, username, amount, err)
	}

	// Read the snapshot back before taking anyone else's money. A write that
	// reported success but did not land would otherwise strand the entry.
	check, err := e.loadGame(ctx, roomID)
	if err != nil || check == nil || check.ID != g.ID {
		if err == nil {
			err = errors.New("snapshot verification mismatch")
		}
		return e.rollbackStart(ctx, roomID, userID, username, amount, err)
	}

	if err := e.setTimer(ctx, roomID, PhaseJoin, g.JoinDeadline, 0); err != nil {
		return e.rollbackStart(ctx, roomID, userID, username, amount, err)
	}

	e.metrics.GamesStarted.Inc()
	e.emit(roomID, "game:started", map[string]interface{}{
		"gameId":       g.ID,
		"entryAmount":  amount,
		"startedBy":    username,
		"joinDeadline": g.JoinDeadline,
	})
	e.say(roomID, fmt.Sprintf("%s started LowCard for %d COINS! Type !j to join. Game starts in %d seconds.",
		username, amount, int(joinWindow.Seconds())))
	e.emitCredits(roomID, userID, ded.Balance)
	return ok("")
}

// rollbackStart refunds the starter after a failed game creation and wipes
// any partial state. A refund that itself fails is a critical log line, not
// a crash; restart recovery is the backstop.
func (e *Engine) rollbackStart(ctx context.Context, roomID, userID, username string, amount int64, cause error) Result {
	e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "error": cause}).Error("game creation failed, rolling back entry")

	if err := e.deleteGame(ctx, roomID); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("failed to delete partial snapshot")
	}
	if err := e.clearTimer(ctx, roomID); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("failed to clear timer during rollback")
	}

	balance, err := e.ledger.Credit(ctx, userID, username, amount, fmt.Sprintf("LowCard Refund - Game Creation Failed (Room %s)", roomID))
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "critical": true, "error": err}).Error("refund failed after aborted game creation")
	} else {
		e.metrics.Refunds.Inc()
		e.emitCredits(roomID, userID, balance)
	}
	return pvt("Game creation failed, credits refunded. Try again.")
}

// JoinGame adds a player to a waiting game, deducting their entry.
func (e *Engine) JoinGame(ctx context.Context, roomID, userID, username string) Result {
	token, err := e.locks.AcquireWithRetry(ctx, joinLockKey(roomID), joinLockTTL, joinLockAttempts, joinLockDelay)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("join lock acquire failed")
		return busy()
	}
	if token == "" {
		return busy()
	}
	defer e.release(ctx, joinLockKey(roomID), token)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to load game for join")
		return busy()
	}
	if g == nil {
		return silent()
	}
	if g.Status != StatusWaiting {
		return pvt("Game already started.")
	}
	if e.now().UnixMilli() > g.JoinDeadline {
		return pvt("Join time is over.")
	}
	if g.FindPlayer(userID) != nil {
		return pvt("You already joined.")
	}

	ded, err := e.ledger.Deduct(ctx, userID, username, g.EntryAmount, fmt.Sprintf("LowCard Entry (Room %s)", roomID), g.ID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "error": err}).Error("join deduction failed")
		return busy()
	}
	if !ded.Success {
		return pvt("Not enough credits.")
	}

	g.Players = append(g.Players, &Player{UserID: userID, Username: username})
	g.Pot += g.EntryAmount
	if err := e.saveGame(ctx, g); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "error": err}).Error("failed to persist join, refunding entry")
		if _, rerr := e.ledger.Credit(ctx, userID, username, g.EntryAmount, fmt.Sprintf("LowCard Refund - Join Failed (Room %s)", roomID)); rerr != nil {
			e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "critical": true, "error": rerr}).Error("refund failed after aborted join")
		} else {
			e.metrics.Refunds.Inc()
		}
		return pvt("Join failed, credits refunded. Try again.")
	}

	e.emit(roomID, "game:player:joined", map[string]interface{}{
		"gameId":   g.ID,
		"userId":   userID,
		"username": username,
		"players":  len(g.Players),
		"pot":      g.Pot,
	})
	e.say(roomID, fmt.Sprintf("%s joined! %d players in, pot %d COINS.", username, len(g.Players), g.Pot))
	e.emitCredits(roomID, userID, ded.Balance)
	return ok("")
}

// CancelByStarter cancels a waiting game; only the starter may do so.
func (e *Engine) CancelByStarter(ctx context.Context, roomID, userID string) Result {
	token, err := e.locks.AcquireWithRetry(ctx, joinLockKey(roomID), joinLockTTL, joinLockAttempts, joinLockDelay)
	if err != nil || token == "" {
		return busy()
	}
	defer e.release(ctx, joinLockKey(roomID), token)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		return busy()
	}
	if g == nil {
		return silent()
	}
	if g.Status != StatusWaiting {
		return pvt("Game already started, cannot cancel.")
	}
	if g.StartedBy != userID {
		return pvt("Only the game starter can cancel.")
	}

	e.refundAll(ctx, g, fmt.Sprintf("LowCard Refund - Cancelled (Room %s)", roomID))
	e.teardown(ctx, g)
	e.say(roomID, "Game cancelled, entries refunded.")
	return ok("")
}

// StopGame stops a waiting game regardless of who started it; used by the
// !stop command and by bot removal.
func (e *Engine) StopGame(ctx context.Context, roomID string) Result {
	token, err := e.locks.AcquireWithRetry(ctx, joinLockKey(roomID), joinLockTTL, joinLockAttempts, joinLockDelay)
	if err != nil || token == "" {
		return busy()
	}
	defer e.release(ctx, joinLockKey(roomID), token)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		return busy()
	}
	if g == nil {
		return silent()
	}
	if g.Status != StatusWaiting {
		return pvt("Game already started, cannot stop.")
	}

	e.refundAll(ctx, g, fmt.Sprintf("LowCard Refund - Stopped (Room %s)", roomID))
	e.teardown(ctx, g)
	e.say(roomID, "Game stopped, entries refunded.")
	return ok("")
}

// ResetGame unconditionally wipes the room's game, refunding every
// non-eliminated player. It is the admin escape hatch for wedged rooms.
func (e *Engine) ResetGame(ctx context.Context, roomID, byUsername string) Result {
	token, err := e.locks.AcquireWithRetry(ctx, joinLockKey(roomID), joinLockTTL, joinLockAttempts, joinLockDelay)
	if err != nil || token == "" {
		return busy()
	}
	defer e.release(ctx, joinLockKey(roomID), token)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		return busy()
	}
	if g != nil {
		e.refundAll(ctx, g, fmt.Sprintf("LowCard Refund - Reset (Room %s)", roomID))
		e.teardown(ctx, g)
	} else {
		e.cleanup(ctx, roomID)
	}
	e.say(roomID, fmt.Sprintf("Game reset by %s.", byUsername))
	return ok("")
}

// checkAndCleanupStaleGame sweeps a waiting game stuck past its join deadline
// by more than the stale window. Invoked at the top of StartGame.
func (e *Engine) checkAndCleanupStaleGame(ctx context.Context, roomID string) {
	g, err := e.loadGame(ctx, roomID)
	if err != nil || g == nil {
		return
	}
	if g.Status != StatusWaiting {
		return
	}
	if e.now().UnixMilli() <= g.JoinDeadline+staleAfter.Milliseconds() {
		return
	}
	e.log.WithFields(logrus.Fields{"room": roomID, "game": g.ID}).Warn("sweeping stale waiting game")
	e.refundAll(ctx, g, fmt.Sprintf("LowCard Refund - Stale Game (Room %s)", roomID))
	e.teardown(ctx, g)
}

// refundAll credits every non-eliminated player their entry. Each refund is
// attempted and logged individually so one failure cannot swallow the rest.
func (e *Engine) refundAll(ctx context.Context, g *Game, reason string) {
	for _, p := range g.Players {
		if p.IsEliminated {
			continue
		}
		balance, err := e.ledger.Credit(ctx, p.UserID, p.Username, g.EntryAmount, reason)
		if err != nil {
			e.log.WithFields(logrus.Fields{"room": g.RoomID, "user": p.UserID, "critical": true, "error": err}).Error("refund failed")
			continue
		}
		e.metrics.Refunds.Inc()
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "user": p.UserID, "amount": g.EntryAmount}).Info("refunded entry")
		e.emitCredits(g.RoomID, p.UserID, balance)
	}
}

// teardown removes all of a game's keys, marks the summary row cancelled,
// and emits the cancellation event.
func (e *Engine) teardown(ctx context.Context, g *Game) {
	e.cleanup(ctx, g.RoomID)
	if g.DBID != 0 {
		if err := e.store.CancelLowcardGame(ctx, g.DBID); err != nil {
			e.log.WithFields(logrus.Fields{"room": g.RoomID, "game": g.DBID, "error": err}).Warn("failed to mark game cancelled")
		}
	}
	e.metrics.GamesCancelled.Inc()
	e.emit(g.RoomID, "game:cancelled", map[string]interface{}{"gameId": g.ID})
}

// cleanup deletes the snapshot, deck, and timer keys for a room.
func (e *Engine) cleanup(ctx context.Context, roomID string) {
	if err := e.deleteGame(ctx, roomID); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("failed to delete game key")
	}
	if err := e.deck.Delete(ctx, roomID); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("failed to delete deck key")
	}
	if err := e.clearTimer(ctx, roomID); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Warn("failed to clear timer key")
	}
}

func (e *Engine) release(ctx context.Context, key, token string) {
	if _, err := e.locks.Release(ctx, key, token); err != nil {
		e.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("lock release failed")
	}
}

func (e *Engine) emit(roomID, event string, payload interface{}) {
	e.bc.To(roomID).Emit(event, payload)
}

func (e *Engine) say(roomID, text string) {
	e.emit(roomID, "chat:message", broadcast.NewChatMessage(botName, text))
}

func (e *Engine) whisper(roomID, userID, text string) {
	e.emit(roomID, "chat:message", broadcast.NewPrivateMessage(userID, botName, text))
}

func (e *Engine) emitCredits(roomID, userID string, balance int64) {
	e.emit(roomID, "credits:updated", broadcast.CreditsUpdate{UserID: userID, Balance: balance})
}
