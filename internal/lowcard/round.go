// internal/lowcard/round.go
package lowcard

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// BeginGame closes the join window. With fewer than two players the game is
// cancelled and everyone refunded; otherwise it moves to playing and round 1
// begins with a countdown. Invoked by the timer poller when the join timer
// expires.
func (e *Engine) BeginGame(ctx context.Context, roomID string) {
	token, err := e.locks.AcquireWithRetry(ctx, joinLockKey(roomID), joinLockTTL, joinLockAttempts, joinLockDelay)
	if err != nil || token == "" {
		// The timer key stays put, so the next poll retries.
		e.log.WithFields(logrus.Fields{"room": roomID}).Warn("begin deferred, join lock busy")
		return
	}
	defer e.release(ctx, joinLockKey(roomID), token)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to load game for begin")
		return
	}
	if g == nil || g.Status != StatusWaiting {
		// Already begun or cleaned up elsewhere; a second firing is a no-op.
		if g == nil {
			if cerr := e.clearTimer(ctx, roomID); cerr != nil {
				e.log.WithFields(logrus.Fields{"room": roomID, "error": cerr}).Warn("failed to clear orphan timer")
			}
		}
		return
	}

	if len(g.Players) < 2 {
		e.log.WithFields(logrus.Fields{"room": roomID, "game": g.ID, "players": len(g.Players)}).Info("cancelling game, not enough players")
		e.refundAll(ctx, g, fmt.Sprintf("LowCard Refund - Not Enough Players (Room %s)", roomID))
		e.teardown(ctx, g)
		e.say(roomID, "Not enough players, game cancelled. Entries refunded.")
		return
	}

	g.Status = StatusPlaying
	g.CurrentRound = 1
	g.IsRoundStarted = false
	for _, p := range g.Players {
		p.HasDrawn = false
		p.CurrentCard = nil
		p.InTieBreaker = false
	}

	if err := e.deck.Reset(ctx, roomID); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to initialize deck, cancelling game")
		e.refundAll(ctx, g, fmt.Sprintf("LowCard Refund - Game Setup Failed (Room %s)", roomID))
		e.teardown(ctx, g)
		e.say(roomID, "Game setup failed, entries refunded.")
		return
	}

	now := e.now()
	g.CountdownEndsAt = now.Add(countdownDelay).UnixMilli()
	g.RoundDeadline = now.Add(countdownDelay + roundWindow).UnixMilli()
	if err := e.saveGame(ctx, g); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to persist begin")
		return
	}
	if err := e.setTimer(ctx, roomID, PhaseCountdown, g.CountdownEndsAt, g.CurrentRound); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to set countdown timer")
		return
	}

	e.emit(roomID, "game:countdown", map[string]interface{}{
		"gameId":          g.ID,
		"round":           g.CurrentRound,
		"players":         len(g.Players),
		"pot":             g.Pot,
		"countdownEndsAt": g.CountdownEndsAt,
	})
	e.say(roomID, fmt.Sprintf("Game on! %d players, pot %d COINS. Round 1 starts in %d seconds...",
		len(g.Players), g.Pot, int(countdownDelay.Seconds())))
}

// StartRound fires when a countdown timer expires: it opens the drawing
// window and arms the round-deadline timer. It holds the draw lock because
// another replica's poller may fire the same deadline; the round number bound
// to the expired timer then makes the second firing a no-op.
func (e *Engine) StartRound(ctx context.Context, roomID string, round int) {
	token, err := e.locks.AcquireWithRetry(ctx, drawLockKey(roomID), drawLockTTL, joinLockAttempts, joinLockDelay)
	if err != nil || token == "" {
		// The countdown timer stays put, so the next poll retries.
		e.log.WithFields(logrus.Fields{"room": roomID}).Warn("round start deferred, draw lock busy")
		return
	}
	defer e.release(ctx, drawLockKey(roomID), token)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to load game for round start")
		return
	}
	if g == nil {
		if cerr := e.clearTimer(ctx, roomID); cerr != nil {
			e.log.WithFields(logrus.Fields{"room": roomID, "error": cerr}).Warn("failed to clear orphan timer")
		}
		return
	}
	if g.Status != StatusPlaying || g.CurrentRound != round || g.IsRoundStarted {
		return
	}

	g.IsRoundStarted = true
	if err := e.saveGame(ctx, g); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to persist round start")
		return
	}
	if err := e.setTimer(ctx, roomID, PhaseRound, g.RoundDeadline, g.CurrentRound); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to set round timer")
		return
	}

	e.emit(roomID, "game:round:started", map[string]interface{}{
		"gameId":        g.ID,
		"round":         g.CurrentRound,
		"isTieBreaker":  g.IsTieBreaker,
		"roundDeadline": g.RoundDeadline,
	})
	if g.IsTieBreaker {
		names := make([]string, 0, 2)
		for _, p := range g.InScopePlayers() {
			names = append(names, p.Username)
		}
		e.say(roomID, fmt.Sprintf("Tie-breaker! %s draw again, type !d", strings.Join(names, " and ")))
	} else {
		e.say(roomID, fmt.Sprintf("Round %d! Draw your card, type !d", g.CurrentRound))
	}
}

// DrawCard draws for a player. Draws are refused before the countdown ends;
// the poller, not the player, opens the window.
func (e *Engine) DrawCard(ctx context.Context, roomID, userID, username string) Result {
	token, err := e.locks.AcquireWithRetry(ctx, drawLockKey(roomID), drawLockTTL, joinLockAttempts, joinLockDelay)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("draw lock acquire failed")
		return busy()
	}
	if token == "" {
		return busy()
	}
	defer e.release(ctx, drawLockKey(roomID), token)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to load game for draw")
		return busy()
	}
	if g == nil || g.Status != StatusPlaying {
		return silent()
	}
	if e.now().UnixMilli() < g.CountdownEndsAt {
		return silent()
	}

	p := g.FindPlayer(userID)
	if p == nil || p.IsEliminated {
		return silent()
	}
	if g.IsTieBreaker && !p.InTieBreaker {
		return pvt("Only tied players draw this round.")
	}
	if p.HasDrawn {
		return silent()
	}

	card, err := e.deck.Draw(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "error": err}).Error("deck draw failed")
		return busy()
	}
	p.CurrentCard = &card
	p.HasDrawn = true
	if err := e.saveGame(ctx, g); err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "error": err}).Error("failed to persist draw")
		return busy()
	}

	display := fmt.Sprintf("[CARD:%s]", card.Code)
	e.emit(roomID, "game:draw", map[string]interface{}{
		"gameId":   g.ID,
		"userId":   userID,
		"username": username,
		"card":     card,
	})
	e.say(roomID, fmt.Sprintf("%s draws %s", p.Username, display))

	if g.AllInScopeDrawn() {
		e.tallyRound(ctx, g, false)
	}
	return Result{Success: true, Message: display}
}

// HandleRoundTimeout fires when a round-deadline timer expires. Players who
// never drew get a bot draw, then the round is tallied. Draws race the
// deadline, so the whole transition holds the draw lock; the round check
// below makes a duplicate firing a no-op.
func (e *Engine) HandleRoundTimeout(ctx context.Context, roomID string, round int) {
	token, err := e.locks.AcquireWithRetry(ctx, drawLockKey(roomID), drawLockTTL, joinLockAttempts, joinLockDelay)
	if err != nil || token == "" {
		// The round timer stays put, so the next poll retries.
		e.log.WithFields(logrus.Fields{"room": roomID}).Warn("round timeout deferred, draw lock busy")
		return
	}
	defer e.release(ctx, drawLockKey(roomID), token)

	g, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": roomID, "error": err}).Error("failed to load game for round timeout")
		return
	}
	if g == nil {
		if cerr := e.clearTimer(ctx, roomID); cerr != nil {
			e.log.WithFields(logrus.Fields{"room": roomID, "error": cerr}).Warn("failed to clear orphan timer")
		}
		return
	}
	if g.Status != StatusPlaying || g.CurrentRound != round {
		return
	}

	e.autoDrawForTimeout(ctx, g)
	e.tallyRound(ctx, g, true)
}

// autoDrawForTimeout draws for every in-scope player who ran out the clock.
func (e *Engine) autoDrawForTimeout(ctx context.Context, g *Game) {
	for _, p := range g.InScopePlayers() {
		if p.HasDrawn {
			continue
		}
		card, err := e.deck.Draw(ctx, g.RoomID)
		if err != nil {
			e.log.WithFields(logrus.Fields{"room": g.RoomID, "user": p.UserID, "error": err}).Error("auto-draw failed")
			continue
		}
		p.CurrentCard = &card
		p.HasDrawn = true
		e.say(g.RoomID, fmt.Sprintf("Bot draws - %s: [CARD:%s]", p.Username, card.Code))
	}
	if err := e.saveGame(ctx, g); err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "error": err}).Error("failed to persist auto-draws")
	}
}

// tallyRound resolves the round: the single lowest card is eliminated, or a
// tie sends the tied players into a tie-breaker. Jack=11, Queen=12, King=13,
// Ace=14; suits never break ties.
func (e *Engine) tallyRound(ctx context.Context, g *Game, isTimedOut bool) {
	scope := g.InScopePlayers()

	lowest := 0
	for _, p := range scope {
		if p.CurrentCard == nil {
			continue
		}
		if lowest == 0 || p.CurrentCard.Value < lowest {
			lowest = p.CurrentCard.Value
		}
	}
	if lowest == 0 {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "game": g.ID}).Error("tally with no drawn cards, resetting game")
		e.refundAll(ctx, g, fmt.Sprintf("LowCard Refund - Round Fault (Room %s)", g.RoomID))
		e.teardown(ctx, g)
		return
	}

	var losers []*Player
	for _, p := range scope {
		if p.CurrentCard != nil && p.CurrentCard.Value == lowest {
			losers = append(losers, p)
		}
	}

	if len(losers) > 1 {
		e.startTieBreaker(ctx, g, losers)
		return
	}

	loser := losers[0]
	loser.IsEliminated = true
	tieBroken := g.WasTieBreaker
	g.IsTieBreaker = false
	g.WasTieBreaker = false
	for _, p := range g.Players {
		p.InTieBreaker = false
	}

	remaining := g.ActivePlayers()
	if len(remaining) < 2 {
		e.finishGame(ctx, g, remaining[0])
		return
	}

	g.CurrentRound++
	g.IsRoundStarted = false
	for _, p := range remaining {
		p.HasDrawn = false
		p.CurrentCard = nil
	}
	now := e.now()
	g.CountdownEndsAt = now.Add(countdownDelay).UnixMilli()
	g.RoundDeadline = now.Add(countdownDelay + roundWindow).UnixMilli()
	if err := e.saveGame(ctx, g); err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "error": err}).Error("failed to persist tally")
		return
	}
	if err := e.setTimer(ctx, g.RoomID, PhaseCountdown, g.CountdownEndsAt, g.CurrentRound); err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "error": err}).Error("failed to arm next countdown")
		return
	}

	e.emit(g.RoomID, "game:round:tallied", map[string]interface{}{
		"gameId":     g.ID,
		"result":     "eliminated",
		"userId":     loser.UserID,
		"username":   loser.Username,
		"card":       loser.CurrentCard,
		"remaining":  len(remaining),
		"isTimedOut": isTimedOut,
	})
	prefix := ""
	if tieBroken {
		prefix = "Tie broken! "
	}
	e.say(g.RoomID, fmt.Sprintf("%s%s is out with [CARD:%s]! %d players left.",
		prefix, loser.Username, loser.CurrentCard.Code, len(remaining)))
}

// startTieBreaker bumps the round with only the tied players in scope.
func (e *Engine) startTieBreaker(ctx context.Context, g *Game, tied []*Player) {
	g.IsTieBreaker = true
	g.WasTieBreaker = true
	inTie := make(map[string]bool, len(tied))
	names := make([]string, 0, len(tied))
	for _, p := range tied {
		inTie[p.UserID] = true
		names = append(names, p.Username)
	}
	for _, p := range g.ActivePlayers() {
		p.InTieBreaker = inTie[p.UserID]
	}
	for _, p := range tied {
		p.HasDrawn = false
		p.CurrentCard = nil
	}

	g.CurrentRound++
	g.IsRoundStarted = false
	now := e.now()
	g.CountdownEndsAt = now.Add(countdownDelay).UnixMilli()
	g.RoundDeadline = now.Add(countdownDelay + roundWindow).UnixMilli()
	if err := e.saveGame(ctx, g); err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "error": err}).Error("failed to persist tie-breaker")
		return
	}
	if err := e.setTimer(ctx, g.RoomID, PhaseCountdown, g.CountdownEndsAt, g.CurrentRound); err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "error": err}).Error("failed to arm tie-breaker countdown")
		return
	}

	e.emit(g.RoomID, "game:round:tallied", map[string]interface{}{
		"gameId":  g.ID,
		"result":  "tie",
		"players": names,
		"round":   g.CurrentRound,
	})
	e.say(g.RoomID, fmt.Sprintf("It's a tie! %s draw again.", strings.Join(names, " and ")))
}

// finishGame pays out the last player standing, retains the house fee, and
// pays the starter's merchant its commission if one is tagged. Cleanup runs
// even if the durable writes fail; the snapshot must not outlive the payout.
func (e *Engine) finishGame(ctx context.Context, g *Game, winner *Player) {
	g.Status = StatusFinished
	g.HouseFee = g.Pot * houseFeePercent / 100
	g.Winnings = g.Pot - g.HouseFee
	g.WinnerID = winner.UserID
	g.WinnerUsername = winner.Username
	now := e.now()
	g.FinishedAt = &now

	balance, err := e.ledger.Credit(ctx, winner.UserID, winner.Username, g.Winnings, fmt.Sprintf("LowCard Win (Room %s)", g.RoomID))
	if err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "user": winner.UserID, "critical": true, "error": err}).Error("winner payout failed")
	} else {
		e.emitCredits(g.RoomID, winner.UserID, balance)
	}

	if err := e.store.InsertGameHistory(ctx, winner.UserID, winner.Username, GameType, "win", g.Winnings); err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "error": err}).Error("failed to record win history")
	}

	commission := int64(0)
	if merchantID, tagged, err := e.hook.ActiveMerchantFor(ctx, g.StartedBy); err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "error": err}).Warn("merchant lookup failed")
	} else if tagged {
		commission = g.HouseFee * commissionOfFee / 100
		if commission > 0 {
			if _, err := e.ledger.Credit(ctx, merchantID, "", commission, fmt.Sprintf("LowCard Commission (Room %s)", g.RoomID)); err != nil {
				e.log.WithFields(logrus.Fields{"room": g.RoomID, "merchant": merchantID, "error": err}).Error("commission payout failed")
				commission = 0
			}
		}
	}

	if err := e.store.FinishLowcardGame(ctx, g.DBID, winner.UserID, winner.Username, g.Pot, g.Winnings, commission, len(g.Players)); err != nil {
		e.log.WithFields(logrus.Fields{"room": g.RoomID, "game": g.DBID, "error": err}).Error("failed to record finished game")
	}

	e.cleanup(ctx, g.RoomID)
	e.metrics.GamesFinished.Inc()
	e.emit(g.RoomID, "game:finished", map[string]interface{}{
		"gameId":   g.ID,
		"winnerId": winner.UserID,
		"winner":   winner.Username,
		"pot":      g.Pot,
		"houseFee": g.HouseFee,
		"winnings": g.Winnings,
	})
	e.say(g.RoomID, fmt.Sprintf("%s wins the pot! %d COINS (pot %d, fee %d).",
		winner.Username, g.Winnings, g.Pot, g.HouseFee))
}
